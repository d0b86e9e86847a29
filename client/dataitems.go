package client

import "github.com/richinsley/stablekeeper/library"

// DataOutput is a file (or text) produced by an executed node.
type DataOutput struct {
	Filename  string `json:"filename"`
	Subfolder string `json:"subfolder"`
	Type      string `json:"type"`
	Text      string `json:"-"` // for "text" type data output
}

// ImagePrompts is delivered for every PNG image a watched server saves.
type ImagePrompts struct {
	PromptID string
	NodeID   string
	Image    DataOutput
	Outputs  []library.OutputPrompts
	// Err is set when the image could not be fetched, carried no workflow or had broken references.
	// Outputs holds whatever could still be resolved.
	Err error
}
