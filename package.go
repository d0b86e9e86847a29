// Stablekeeper reads the workflow ComfyUI embeds in the PNG images it saves and recovers
// the positive and negative prompts behind each output image.
//
// The graphapi package decodes workflow documents and walks the execution order from an
// output node back to its sampler and prompt encoders. The library package scans image
// directories, and the client package follows a running ComfyUI server over its websocket.
package stablekeeper
