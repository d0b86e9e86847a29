// Package metadatatest builds PNG images carrying text chunks for tests.
package metadatatest

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"image"
	"image/color"
	"image/png"
)

// Chunk is a raw PNG chunk.
type Chunk struct {
	Type string
	Data []byte
}

// TextChunkData returns the payload of a tEXt chunk.
func TextChunkData(keyword, text string) []byte {
	return append(append([]byte(keyword), 0), []byte(text)...)
}

// WorkflowPNG returns a 1x1 PNG with the given workflow stored the way ComfyUI stores it.
func WorkflowPNG(workflow string) []byte {
	return BuildPNG(Chunk{Type: "tEXt", Data: TextChunkData("workflow", workflow)})
}

// BuildPNG encodes a 1x1 image and inserts chunks right before IEND.
func BuildPNG(chunks ...Chunk) []byte {
	img := image.NewRGBA(image.Rect(0, 0, 1, 1))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		panic(err)
	}

	// IEND is always the trailing 12 bytes
	encoded := buf.Bytes()
	out := bytes.NewBuffer(append([]byte(nil), encoded[:len(encoded)-12]...))
	for _, c := range chunks {
		writeChunk(out, c)
	}
	writeChunk(out, Chunk{Type: "IEND"})
	return out.Bytes()
}

func writeChunk(w *bytes.Buffer, c Chunk) {
	_ = binary.Write(w, binary.BigEndian, uint32(len(c.Data)))
	w.WriteString(c.Type)
	w.Write(c.Data)
	crc := crc32.NewIEEE()
	crc.Write([]byte(c.Type))
	crc.Write(c.Data)
	_ = binary.Write(w, binary.BigEndian, crc.Sum32())
}
