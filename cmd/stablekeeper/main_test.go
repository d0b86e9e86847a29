package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/richinsley/stablekeeper/metadata/metadatatest"
)

const fixture = "../../graphapi/testdata/simple_workflow.json"

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(append([]string{"--config", filepath.Join(t.TempDir(), "config.json")}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func writeImages(t *testing.T) string {
	t.Helper()
	workflow, err := os.ReadFile(fixture)
	require.NoError(t, err)

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ComfyUI_00001_.png"), metadatatest.WorkflowPNG(string(workflow)), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "photo.png"), metadatatest.BuildPNG(), 0o644))
	return dir
}

func TestShowJSONWorkflow(t *testing.T) {
	out, err := run(t, "show", fixture)
	require.NoError(t, err)

	assert.Contains(t, out, "[9] SaveImage")
	assert.Contains(t, out, "    + beautiful scenery nature glass bottle landscape, , purple galaxy bottle,")
	assert.Contains(t, out, "    - text, watermark")
	assert.NotContains(t, out, "error:")
}

func TestShowImageAsJSON(t *testing.T) {
	dir := writeImages(t)

	out, err := run(t, "show", "--json", filepath.Join(dir, "ComfyUI_00001_.png"))
	require.NoError(t, err)

	var got struct {
		Path    string `json:"path"`
		Outputs []struct {
			NodeID  int `json:"node_id"`
			Prompts struct {
				Positive []string `json:"positive"`
				Negative []string `json:"negative"`
			} `json:"prompts"`
		} `json:"outputs"`
		Error string `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	require.Len(t, got.Outputs, 1)
	assert.Equal(t, 9, got.Outputs[0].NodeID)
	assert.Equal(t, []string{"text, watermark"}, got.Outputs[0].Prompts.Negative)
	assert.Empty(t, got.Error)
}

func TestShowImageWithoutWorkflow(t *testing.T) {
	dir := writeImages(t)

	_, err := run(t, "show", filepath.Join(dir, "photo.png"))
	assert.ErrorContains(t, err, "photo.png")
}

func TestScan(t *testing.T) {
	dir := writeImages(t)

	out, err := run(t, "scan", "--quiet", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "ComfyUI_00001_.png")
	assert.NotContains(t, out, "photo.png")

	out, err = run(t, "scan", "--quiet", "--all", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "photo.png")
	assert.Equal(t, 1, strings.Count(out, "    - text, watermark"))
}
