package skill

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"

	"github.com/tombee/skillrunner/pkg/errors"
)

// Store loads skill definitions from a directory tree and resolves them by
// name. Watch keeps the store current when files change on disk, so
// long-lived poll daemons pick up edited skills without a restart.
type Store struct {
	dir    string
	logger *slog.Logger

	mu     sync.RWMutex
	skills map[string]*Definition
	paths  map[string]string // skill name -> source file
}

// NewStore creates a skill store rooted at dir. Call Load before use.
func NewStore(dir string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		dir:    dir,
		logger: logger,
		skills: make(map[string]*Definition),
		paths:  make(map[string]string),
	}
}

// Load discovers every **/*.yaml and **/*.yml file under the store
// directory and parses it as a skill definition. Files that fail to parse
// are logged and skipped; one bad file never hides the rest.
func (s *Store) Load() error {
	fsys := os.DirFS(s.dir)

	var matches []string
	for _, pattern := range []string{"**/*.yaml", "**/*.yml"} {
		found, err := doublestar.Glob(fsys, pattern)
		if err != nil {
			return err
		}
		matches = append(matches, found...)
	}

	skills := make(map[string]*Definition, len(matches))
	paths := make(map[string]string, len(matches))

	for _, rel := range matches {
		path := filepath.Join(s.dir, rel)
		def, err := LoadFile(path)
		if err != nil {
			s.logger.Warn("skipping invalid skill file", "path", path, "error", err)
			continue
		}
		if existing, ok := paths[def.Name]; ok {
			s.logger.Warn("duplicate skill name, keeping first",
				"name", def.Name, "kept", existing, "ignored", path)
			continue
		}
		skills[def.Name] = def
		paths[def.Name] = path
	}

	s.mu.Lock()
	s.skills = skills
	s.paths = paths
	s.mu.Unlock()

	s.logger.Debug("skill store loaded", "dir", s.dir, "skills", len(skills))
	return nil
}

// Get resolves a skill by name.
func (s *Store) Get(name string) (*Definition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	def, ok := s.skills[name]
	if !ok {
		return nil, &errors.NotFoundError{Resource: "skill", ID: name}
	}
	return def, nil
}

// List returns all loaded skill names, sorted.
func (s *Store) List() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.skills))
	for name := range s.skills {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Watch reloads the store whenever a YAML file under the directory tree
// changes. Blocks until the context is cancelled.
func (s *Store) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	// fsnotify does not recurse; register every subdirectory.
	err = filepath.WalkDir(s.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return watcher.Add(path)
		}
		return nil
	})
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !isYAML(event.Name) && !event.Has(fsnotify.Create) {
				continue
			}
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					_ = watcher.Add(event.Name)
				}
			}
			if isYAML(event.Name) {
				s.logger.Debug("skill file changed, reloading", "path", event.Name)
				if err := s.Load(); err != nil {
					s.logger.Error("skill store reload failed", "error", err)
				}
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn("skill watcher error", "error", err)
		}
	}
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}
