package metadata

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/richinsley/stablekeeper/metadata/metadatatest"
)

func TestReadPNGTextChunks(t *testing.T) {
	var z bytes.Buffer
	zw := zlib.NewWriter(&z)
	_, err := zw.Write([]byte("compressed value"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	itxt := append([]byte("intl\x00\x00\x00en\x00\x00"), []byte("plain international")...)
	ztxt := append([]byte("zipped\x00\x00"), z.Bytes()...)
	itxtZ := append([]byte("intlz\x00\x01\x00\x00\x00"), z.Bytes()...)

	png := metadatatest.BuildPNG(
		metadatatest.Chunk{Type: "tEXt", Data: metadatatest.TextChunkData("workflow", `{"nodes": [], "links": []}`)},
		metadatatest.Chunk{Type: "tEXt", Data: metadatatest.TextChunkData("prompt", `{}`)},
		metadatatest.Chunk{Type: "iTXt", Data: itxt},
		metadatatest.Chunk{Type: "zTXt", Data: ztxt},
		metadatatest.Chunk{Type: "iTXt", Data: itxtZ},
	)

	chunks, err := ReadPNGText(bytes.NewReader(png))
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"workflow": `{"nodes": [], "links": []}`,
		"prompt":   `{}`,
		"intl":     "plain international",
		"zipped":   "compressed value",
		"intlz":    "compressed value",
	}, chunks)
}

func TestReadPNGTextStopsAtIEND(t *testing.T) {
	png := metadatatest.BuildPNG(metadatatest.Chunk{Type: "tEXt", Data: metadatatest.TextChunkData("workflow", "{}")})
	// trailing garbage after IEND is never read
	png = append(png, []byte("garbage")...)

	chunks, err := ReadPNGText(bytes.NewReader(png))
	require.NoError(t, err)
	assert.Equal(t, "{}", chunks["workflow"])
}

func TestReadPNGTextErrors(t *testing.T) {
	_, err := ReadPNGText(strings.NewReader("GIF89a.."))
	assert.ErrorIs(t, err, ErrNotPNG)

	_, err = ReadPNGText(strings.NewReader("short"))
	assert.ErrorIs(t, err, ErrNotPNG)

	png := metadatatest.BuildPNG(metadatatest.Chunk{Type: "tEXt", Data: []byte("no separator")})
	_, err = ReadPNGText(bytes.NewReader(png))
	assert.ErrorIs(t, err, ErrMalformedChunk)

	png = metadatatest.BuildPNG(metadatatest.Chunk{Type: "zTXt", Data: []byte("k\x00\x00not zlib")})
	_, err = ReadPNGText(bytes.NewReader(png))
	assert.ErrorIs(t, err, ErrMalformedChunk)

	truncated := metadatatest.BuildPNG(metadatatest.Chunk{Type: "tEXt", Data: metadatatest.TextChunkData("workflow", "{}")})
	_, err = ReadPNGText(bytes.NewReader(truncated[:20]))
	assert.Error(t, err)
}

// chunkHeader returns the PNG signature followed by a chunk header declaring length bytes.
func chunkHeader(chunkType string, length uint32) []byte {
	buf := bytes.NewBuffer(append([]byte(nil), 137, 80, 78, 71, 13, 10, 26, 10))
	_ = binary.Write(buf, binary.BigEndian, length)
	buf.WriteString(chunkType)
	return buf.Bytes()
}

func TestReadPNGTextCorruptLength(t *testing.T) {
	// a few bytes of data behind a chunk claiming almost 2 GiB
	corrupt := append(chunkHeader("tEXt", 0x7FFFFFFF), []byte("workflow\x00{}")...)
	_, err := ReadPNGText(bytes.NewReader(corrupt))
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)

	_, err = ReadPNGText(bytes.NewReader(chunkHeader("tEXt", 0xFFFFFFFF)))
	assert.ErrorIs(t, err, ErrMalformedChunk)

	_, err = ReadPNGText(bytes.NewReader(chunkHeader("IDAT", 0x80000000)))
	assert.ErrorIs(t, err, ErrMalformedChunk)
}

func TestReadPNGTextInflateLimit(t *testing.T) {
	old := maxTextLength
	maxTextLength = 1024
	t.Cleanup(func() { maxTextLength = old })

	var z bytes.Buffer
	zw := zlib.NewWriter(&z)
	_, err := zw.Write(bytes.Repeat([]byte("a"), 4096))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	png := metadatatest.BuildPNG(metadatatest.Chunk{Type: "zTXt", Data: append([]byte("workflow\x00\x00"), z.Bytes()...)})
	_, err = ReadPNGText(bytes.NewReader(png))
	assert.ErrorIs(t, err, ErrMalformedChunk)
	assert.ErrorContains(t, err, "exceeds 1024 bytes")
}

func TestExtractWorkflow(t *testing.T) {
	png := metadatatest.BuildPNG(metadatatest.Chunk{Type: "tEXt", Data: metadatatest.TextChunkData("workflow", `{"nodes": []}`)})
	workflow, err := ExtractWorkflow(bytes.NewReader(png))
	require.NoError(t, err)
	assert.Equal(t, `{"nodes": []}`, workflow)

	png = metadatatest.BuildPNG(metadatatest.Chunk{Type: "tEXt", Data: metadatatest.TextChunkData("parameters", "a photo")})
	_, err = ExtractWorkflow(bytes.NewReader(png))
	assert.ErrorIs(t, err, ErrNoWorkflow)
}
