// Package metadata reads the text chunks ComfyUI stores in the images it saves.
package metadata

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
)

// WorkflowKeyword is the text chunk keyword holding the editor workflow.
const WorkflowKeyword = "workflow"

var (
	ErrNotPNG         = errors.New("not a valid PNG file")
	ErrMalformedChunk = errors.New("malformed text chunk")
	ErrNoWorkflow     = errors.New("png does not contain workflow metadata")
)

var pngSignature = []byte{137, 80, 78, 71, 13, 10, 26, 10}

// maxChunkLength is the largest chunk length a PNG may declare.
const maxChunkLength = 1<<31 - 1

// maxTextLength caps the size of decompressed zTXt and iTXt text.
var maxTextLength int64 = 64 << 20

// ReadPNGText returns the keyword/text pairs of every tEXt, zTXt and iTXt chunk.
// Reading stops at the IEND chunk.
func ReadPNGText(r io.Reader) (map[string]string, error) {
	header := make([]byte, 8)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, ErrNotPNG
	}
	if !bytes.Equal(header, pngSignature) {
		return nil, ErrNotPNG
	}

	txtChunks := make(map[string]string)

	for {
		var length uint32
		err := binary.Read(r, binary.BigEndian, &length)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		chunkType := make([]byte, 4)
		if _, err := io.ReadFull(r, chunkType); err != nil {
			return nil, err
		}
		if length > maxChunkLength {
			return nil, fmt.Errorf("%w: %s chunk declares %d bytes", ErrMalformedChunk, chunkType, length)
		}

		switch string(chunkType) {
		case "tEXt", "zTXt", "iTXt":
			// the buffer grows with the data actually present, not the declared length
			chunkData, err := io.ReadAll(io.LimitReader(r, int64(length)))
			if err != nil {
				return nil, err
			}
			if len(chunkData) != int(length) {
				return nil, io.ErrUnexpectedEOF
			}
			keyword, text, err := decodeTextChunk(string(chunkType), chunkData)
			if err != nil {
				return nil, fmt.Errorf("%s chunk: %w", chunkType, err)
			}
			txtChunks[keyword] = text
		default:
			// Skip the chunk data if it's not text
			if _, err := io.CopyN(io.Discard, r, int64(length)); err != nil {
				return nil, err
			}
		}

		// Skip the CRC
		if _, err := io.CopyN(io.Discard, r, 4); err != nil {
			return nil, err
		}

		if string(chunkType) == "IEND" {
			break
		}
	}

	return txtChunks, nil
}

func decodeTextChunk(chunkType string, data []byte) (string, string, error) {
	keywordEnd := bytes.IndexByte(data, 0)
	if keywordEnd == -1 {
		return "", "", ErrMalformedChunk
	}
	keyword := string(data[:keywordEnd])
	rest := data[keywordEnd+1:]

	switch chunkType {
	case "zTXt":
		// compression method, then the compressed text
		if len(rest) < 1 {
			return "", "", ErrMalformedChunk
		}
		text, err := inflate(rest[1:])
		return keyword, text, err
	case "iTXt":
		// compression flag, compression method, language tag\0, translated keyword\0, text
		if len(rest) < 2 {
			return "", "", ErrMalformedChunk
		}
		compressed := rest[0] == 1
		rest = rest[2:]
		for i := 0; i < 2; i++ {
			end := bytes.IndexByte(rest, 0)
			if end == -1 {
				return "", "", ErrMalformedChunk
			}
			rest = rest[end+1:]
		}
		if compressed {
			text, err := inflate(rest)
			return keyword, text, err
		}
		return keyword, string(rest), nil
	}
	return keyword, string(rest), nil
}

func inflate(data []byte) (string, error) {
	zr, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedChunk, err)
	}
	defer zr.Close()
	text, err := io.ReadAll(io.LimitReader(zr, maxTextLength+1))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedChunk, err)
	}
	if int64(len(text)) > maxTextLength {
		return "", fmt.Errorf("%w: text exceeds %d bytes", ErrMalformedChunk, maxTextLength)
	}
	return string(text), nil
}

// ExtractWorkflow returns the workflow JSON embedded in a PNG image.
func ExtractWorkflow(r io.Reader) (string, error) {
	chunks, err := ReadPNGText(r)
	if err != nil {
		return "", err
	}
	workflow, ok := chunks[WorkflowKeyword]
	if !ok {
		slog.Debug("no workflow chunk", "keywords", len(chunks))
		return "", ErrNoWorkflow
	}
	return workflow, nil
}
