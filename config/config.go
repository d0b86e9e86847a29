package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"github.com/richinsley/stablekeeper/graphapi"
)

// EnvPrefix prefixes every environment override, e.g. SK_APP_THREADS.
const EnvPrefix = "SK_APP_"

type Settings struct {
	Debug bool `json:"debug"`
	// directories where generated images are stored
	ImageDirectories []string `json:"image_directories"`
	// number of files decoded concurrently
	Threads int `json:"threads"`
	// number of files read from disk concurrently
	BlockingThreads int `json:"blocking_threads"`

	ServerAddress string `json:"server_address"`
	ServerPort    int    `json:"server_port"`

	// extra node types recognised on top of the built in ones
	OutputNodeTypes  []string `json:"output_node_types,omitempty"`
	SamplerNodeTypes []string `json:"sampler_node_types,omitempty"`
	PromptNodeTypes  []string `json:"prompt_node_types,omitempty"`
}

func Default() *Settings {
	return &Settings{
		Debug:            false,
		ImageDirectories: []string{},
		Threads:          4,
		BlockingThreads:  4,
		ServerAddress:    "localhost",
		ServerPort:       8188,
	}
}

// DefaultPath returns <user config dir>/StableKeeper/config.json.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("could not determine config directory: %w", err)
	}
	return filepath.Join(dir, "StableKeeper", "config.json"), nil
}

// Load merges, in increasing precedence, the defaults, the JSON file at path, a .env file
// in the working directory and SK_APP_* environment variables.
// A missing config file is created with the default settings.
func Load(path string) (*Settings, error) {
	s := Default()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		slog.Info("creating default config file", "path", path)
		if err := s.Save(path); err != nil {
			return nil, err
		}
	case err != nil:
		return nil, err
	default:
		if err := json.Unmarshal(data, s); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	}

	// a .env file is optional
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("could not read .env file", "error", err)
	}

	if err := s.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return s, nil
}

// Save writes the settings as indented JSON, creating parent directories.
func (s *Settings) Save(path string) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

func (s *Settings) applyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvPrefix + "DEBUG"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%sDEBUG: %w", EnvPrefix, err)
		}
		s.Debug = b
	}
	if v, ok := lookup(EnvPrefix + "IMAGE_DIRECTORIES"); ok {
		s.ImageDirectories = splitList(v, string(os.PathListSeparator))
	}
	ints := map[string]*int{
		"THREADS":          &s.Threads,
		"BLOCKING_THREADS": &s.BlockingThreads,
		"SERVER_PORT":      &s.ServerPort,
	}
	for name, dst := range ints {
		if v, ok := lookup(EnvPrefix + name); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
			}
			*dst = n
		}
	}
	if v, ok := lookup(EnvPrefix + "SERVER_ADDRESS"); ok {
		s.ServerAddress = v
	}
	lists := map[string]*[]string{
		"OUTPUT_NODE_TYPES":  &s.OutputNodeTypes,
		"SAMPLER_NODE_TYPES": &s.SamplerNodeTypes,
		"PROMPT_NODE_TYPES":  &s.PromptNodeTypes,
	}
	for name, dst := range lists {
		if v, ok := lookup(EnvPrefix + name); ok {
			*dst = splitList(v, ",")
		}
	}
	return nil
}

func splitList(v, sep string) []string {
	retv := make([]string, 0)
	for _, item := range strings.Split(v, sep) {
		if item = strings.TrimSpace(item); item != "" {
			retv = append(retv, item)
		}
	}
	return retv
}

// Validate checks the settings needed to scan image directories.
func (s *Settings) Validate() error {
	if len(s.ImageDirectories) < 1 {
		return errors.New("need at least one image directory set")
	}
	if s.Threads < 1 {
		return fmt.Errorf("threads must be at least 1, got %d", s.Threads)
	}
	return nil
}

// Workers returns the scan concurrency: the smaller of Threads and BlockingThreads,
// or the CPU count when neither is set.
func (s *Settings) Workers() int {
	n := s.Threads
	if s.BlockingThreads > 0 && s.BlockingThreads < n {
		n = s.BlockingThreads
	}
	if n < 1 {
		n = runtime.NumCPU()
	}
	return n
}

// Roles returns the built in node roles extended with the configured node types.
func (s *Settings) Roles() *graphapi.Roles {
	return graphapi.DefaultRoles().Extend(s.OutputNodeTypes, s.SamplerNodeTypes, s.PromptNodeTypes)
}
