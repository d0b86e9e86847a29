// Package library finds generated images on disk and extracts the prompts stored in them.
package library

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"

	"github.com/richinsley/stablekeeper/graphapi"
	"github.com/richinsley/stablekeeper/metadata"
)

const defaultCacheSize = 4096

// OutputPrompts are the prompts found for one output node of a workflow.
type OutputPrompts struct {
	NodeID  int               `json:"node_id"`
	Title   string            `json:"title"`
	Prompts *graphapi.Prompts `json:"prompts,omitempty"`
}

// Entry is the result of scanning one image.
type Entry struct {
	Path    string          `json:"path"`
	ModTime time.Time       `json:"mod_time"`
	Outputs []OutputPrompts `json:"outputs,omitempty"`
	// Err is set when the image has no usable workflow or a prompt could not be fully resolved.
	Err error `json:"-"`
}

// HasWorkflow reports whether the image carried a workflow at all.
func (e *Entry) HasWorkflow() bool {
	return !errors.Is(e.Err, metadata.ErrNoWorkflow) && !errors.Is(e.Err, metadata.ErrNotPNG)
}

type cacheKey struct {
	path    string
	modTime int64
	size    int64
}

type Options struct {
	Roles   *graphapi.Roles
	Workers int
	// CacheSize is the number of scanned files remembered, 0 selects a default.
	CacheSize int
	// OnProgress is called after every scanned file. It may be called from several goroutines.
	OnProgress func(done, total int)
}

type Scanner struct {
	roles      *graphapi.Roles
	workers    int
	cache      *lru.Cache[cacheKey, *Entry]
	onProgress func(done, total int)
}

func NewScanner(opts Options) (*Scanner, error) {
	size := opts.CacheSize
	if size <= 0 {
		size = defaultCacheSize
	}
	cache, err := lru.New[cacheKey, *Entry](size)
	if err != nil {
		return nil, err
	}
	roles := opts.Roles
	if roles == nil {
		roles = graphapi.DefaultRoles()
	}
	workers := opts.Workers
	if workers < 1 {
		workers = 1
	}
	return &Scanner{
		roles:      roles,
		workers:    workers,
		cache:      cache,
		onProgress: opts.OnProgress,
	}, nil
}

// Collect walks every directory and returns the PNG files found, sorted.
func Collect(dirs []string) ([]string, error) {
	var files []string
	for _, dir := range dirs {
		err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.Type().IsRegular() && strings.EqualFold(filepath.Ext(path), ".png") {
				files = append(files, path)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	sort.Strings(files)
	return files, nil
}

// ScanFile extracts the prompts of every output node in the image at path.
// Problems with the image itself are reported in Entry.Err; the returned error
// is only set when the file cannot be read.
func (s *Scanner) ScanFile(path string) (*Entry, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	key := cacheKey{path: path, modTime: info.ModTime().UnixNano(), size: info.Size()}
	if entry, ok := s.cache.Get(key); ok {
		return entry, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	entry := &Entry{Path: path, ModTime: info.ModTime()}
	text, err := metadata.ExtractWorkflow(f)
	if err != nil {
		entry.Err = err
	} else {
		entry.Outputs, entry.Err = ExtractPrompts(text, s.roles)
	}
	if entry.Err != nil {
		slog.Debug("scanned with problems", "path", path, "error", entry.Err)
	}

	s.cache.Add(key, entry)
	return entry, nil
}

// ExtractPrompts decodes a workflow document and looks up the prompts of each output node.
// Outputs whose sampler cannot be found are listed without prompts.
func ExtractPrompts(text string, roles *graphapi.Roles) ([]OutputPrompts, error) {
	workflow, err := graphapi.NewWorkflowFromJsonString(text)
	if err != nil {
		return nil, err
	}

	var retv []OutputPrompts
	var errs []error
	for _, output := range workflow.FindOutputs(roles) {
		prompts, err := workflow.FindPromptsForNode(output, roles)
		if err != nil {
			errs = append(errs, err)
		}
		retv = append(retv, OutputPrompts{NodeID: output.ID, Title: output.DisplayTitle(), Prompts: prompts})
	}
	return retv, errors.Join(errs...)
}

// Scan runs ScanFile over paths with a bounded number of workers.
// The result keeps the order of paths. Files that cannot be read are logged and skipped.
func (s *Scanner) Scan(ctx context.Context, paths []string) ([]*Entry, error) {
	results := make([]*Entry, len(paths))
	var done atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for i, path := range paths {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			entry, err := s.ScanFile(path)
			if err != nil {
				slog.Warn("could not read image", "path", path, "error", err)
			}
			results[i] = entry
			if s.onProgress != nil {
				s.onProgress(int(done.Add(1)), len(paths))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	retv := make([]*Entry, 0, len(results))
	for _, e := range results {
		if e != nil {
			retv = append(retv, e)
		}
	}
	return retv, nil
}
