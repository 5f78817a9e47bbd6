// Package pages serves route bodies from files and reloads them when the
// files change on disk.
package pages

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/atomic"

	"haws/internal/common"
	"haws/internal/httpserver"
)

type page struct {
	path string
	body atomic.String
}

// Store keeps the current contents of every loaded page file
type Store struct {
	watcher *fsnotify.Watcher
	log     *slog.Logger

	mu    sync.Mutex
	pages map[string]*page
	dirs  map[string]bool

	done chan struct{}
	wg   sync.WaitGroup
}

// NewStore creates a store and starts watching for file changes
func NewStore(logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}

	s := &Store{
		watcher: watcher,
		log:     logger,
		pages:   make(map[string]*page),
		dirs:    make(map[string]bool),
		done:    make(chan struct{}),
	}
	s.wg.Add(1)
	go s.watch()
	return s, nil
}

// Handler loads path and returns a handler that always serves its latest contents
func (s *Store) Handler(path string) (httpserver.Handler, error) {
	p, err := s.load(path)
	if err != nil {
		return nil, err
	}
	return func(httpserver.RequestBuffer) string {
		return p.body.Load()
	}, nil
}

// Body returns the current contents of a loaded page
func (s *Store) Body(path string) (string, bool) {
	abs, err := common.AbsClean(path)
	if err != nil {
		return "", false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pages[abs]
	if !ok {
		return "", false
	}
	return p.body.Load(), true
}

func (s *Store) load(path string) (*page, error) {
	abs, err := common.AbsClean(path)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if p, ok := s.pages[abs]; ok {
		return p, nil
	}

	body, err := common.ReadBlob(abs)
	if err != nil {
		return nil, fmt.Errorf("load page: %w", err)
	}

	// Watch the directory: editors often replace a file instead of writing it.
	dir := filepath.Dir(abs)
	if !s.dirs[dir] {
		if err := s.watcher.Add(dir); err != nil {
			return nil, fmt.Errorf("watch %s: %w", dir, err)
		}
		s.dirs[dir] = true
	}

	p := &page{path: abs}
	p.body.Store(body)
	s.pages[abs] = p
	return p, nil
}

func (s *Store) watch() {
	defer s.wg.Done()
	for {
		select {
		case <-s.done:
			return
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				s.reload(filepath.Clean(event.Name))
			}
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.log.Warn("page watcher error", "err", err)
		}
	}
}

func (s *Store) reload(path string) {
	s.mu.Lock()
	p, ok := s.pages[path]
	s.mu.Unlock()
	if !ok {
		return
	}

	body, err := common.ReadBlob(path)
	if err != nil {
		// Keep serving the last good contents.
		s.log.Warn("page reload failed", "path", path, "err", err)
		return
	}
	p.body.Store(body)
	s.log.Info("page reloaded", "path", path, "bytes", len(body))
}

// Close stops watching for changes. Loaded handlers keep their last contents.
func (s *Store) Close() error {
	select {
	case <-s.done:
		return nil
	default:
	}
	close(s.done)
	err := s.watcher.Close()
	s.wg.Wait()
	return err
}
