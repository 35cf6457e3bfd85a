package synth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/ledongthuc/pdf"
	"golang.org/x/sync/singleflight"

	"github.com/kalambet/opscribe/internal/storage"
)

// templateExts are tried in order for <dir>/<kind><ext>.
var templateExts = []string{".md", ".txt", ".pdf"}

// TemplateStore loads synthesis templates from a directory and caches them
// until a file in the directory changes. Kinds without a file use the
// flavor's built-in default.
type TemplateStore struct {
	dir    string
	logger *slog.Logger

	mu    sync.Mutex
	cache map[storage.DocumentKind]string
	gen   uint64

	flight singleflight.Group
	loader func(storage.DocumentKind) (string, error)
}

// NewTemplateStore returns a store reading from dir. An empty dir disables
// external templates.
func NewTemplateStore(dir string) *TemplateStore {
	s := &TemplateStore{
		dir:    dir,
		logger: slog.Default(),
		cache:  make(map[storage.DocumentKind]string),
	}
	s.loader = s.load
	return s
}

// Get returns the template for f, loading it from disk on a cache miss.
// Concurrent misses for the same kind share one load. A load overtaken by
// Invalidate is retried so callers never see a template from before the
// change that invalidated it.
func (s *TemplateStore) Get(f Flavor) string {
	for attempt := 1; ; attempt++ {
		s.mu.Lock()
		if t, ok := s.cache[f.Kind]; ok {
			s.mu.Unlock()
			return t
		}
		gen := s.gen
		s.mu.Unlock()

		key := fmt.Sprintf("%s@%d", f.Kind, gen)
		v, _, _ := s.flight.Do(key, func() (interface{}, error) {
			return s.fill(f, gen), nil
		})

		s.mu.Lock()
		current := s.gen == gen
		s.mu.Unlock()
		if current || attempt == maxTemplateLoads {
			return v.(string)
		}
	}
}

// maxTemplateLoads bounds retries when the directory keeps changing.
const maxTemplateLoads = 3

func (s *TemplateStore) fill(f Flavor, gen uint64) string {
	t, err := s.loader(f.Kind)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.logger.Warn("loading template failed, using default", "kind", f.Kind, "error", err)
		}
		t = ""
	}
	if strings.TrimSpace(t) == "" {
		t = f.DefaultTemplate
	}
	s.mu.Lock()
	if s.gen == gen {
		s.cache[f.Kind] = t
	}
	s.mu.Unlock()
	return t
}

// Invalidate drops every cached template.
func (s *TemplateStore) Invalidate() {
	s.mu.Lock()
	s.cache = make(map[storage.DocumentKind]string)
	s.gen++
	s.mu.Unlock()
}

func (s *TemplateStore) load(kind storage.DocumentKind) (string, error) {
	if s.dir == "" {
		return "", fs.ErrNotExist
	}
	for _, ext := range templateExts {
		path := filepath.Join(s.dir, string(kind)+ext)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if ext == ".pdf" {
			return readPDF(path)
		}
		b, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("reading template %s: %w", path, err)
		}
		return string(b), nil
	}
	return "", fs.ErrNotExist
}

func readPDF(path string) (string, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening pdf template %s: %w", path, err)
	}
	defer f.Close()

	text, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("extracting pdf template %s: %w", path, err)
	}
	b, err := io.ReadAll(text)
	if err != nil {
		return "", fmt.Errorf("reading pdf template %s: %w", path, err)
	}
	return string(b), nil
}

// Watch invalidates the cache whenever a file in the template directory is
// created, written, removed or renamed. It blocks until ctx is cancelled.
func (s *TemplateStore) Watch(ctx context.Context) error {
	if s.dir == "" {
		<-ctx.Done()
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating template watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(s.dir); err != nil {
		return fmt.Errorf("watching template dir %s: %w", s.dir, err)
	}
	s.logger.Info("watching synthesis templates", "dir", s.dir)

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Has(fsnotify.Create) || event.Has(fsnotify.Write) ||
				event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				s.logger.Debug("template changed", "path", event.Name, "op", event.Op.String())
				s.Invalidate()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn("template watcher error", "error", err)
		}
	}
}
