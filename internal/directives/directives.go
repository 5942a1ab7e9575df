// Package directives loads the per-role directive text that opens every
// prompt. Directives come from <role>.md files in a configured
// directory, or from the built-in defaults when no directory is set.
package directives

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/nugget/neoc/internal/defaults"
)

// Placeholder returns the directive text used when role has no
// directive file.
func Placeholder(role string) string {
	return fmt.Sprintf("<DIRECTIVE>ERROR: no directive file found for %s.</DIRECTIVE>", role)
}

// Loader serves directive text by role. Files are read once and cached;
// Watch refreshes the cache when files change on disk.
type Loader struct {
	dir    string
	logger *slog.Logger

	mu    sync.RWMutex
	cache map[string]string
}

// NewLoader creates a loader reading from dir. An empty dir serves the
// embedded defaults.
func NewLoader(dir string, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{
		dir:    dir,
		logger: logger.With("component", "directives"),
		cache:  make(map[string]string),
	}
}

// Load returns the directive for role. A missing or unreadable file
// yields [Placeholder] and an error log; Load never fails.
func (l *Loader) Load(role string) string {
	l.mu.RLock()
	text, ok := l.cache[role]
	l.mu.RUnlock()
	if ok {
		return text
	}

	text = l.read(role)
	l.mu.Lock()
	l.cache[role] = text
	l.mu.Unlock()
	return text
}

func (l *Loader) read(role string) string {
	if l.dir == "" {
		b, err := defaults.Directive(role)
		if err != nil {
			l.logger.Error("no directive found", "role", role, "error", err)
			return Placeholder(role)
		}
		return string(b)
	}

	path := filepath.Join(l.dir, role+".md")
	b, err := os.ReadFile(path)
	if err != nil {
		l.logger.Error("no directive found", "role", role, "path", path, "error", err)
		return Placeholder(role)
	}
	return string(b)
}

// invalidate drops role from the cache so the next Load rereads it.
func (l *Loader) invalidate(role string) {
	l.mu.Lock()
	delete(l.cache, role)
	l.mu.Unlock()
}

// Watch watches the directive directory and invalidates a role's cached
// text whenever its file is written, created, removed, or renamed. It
// blocks until ctx is done. With no directory configured it returns
// immediately.
func (l *Loader) Watch(ctx context.Context) error {
	if l.dir == "" {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(l.dir); err != nil {
		return fmt.Errorf("watch %s: %w", l.dir, err)
	}
	l.logger.Info("watching directives", "dir", l.dir)

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			l.handleEvent(event)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			l.logger.Warn("directive watcher error", "error", err)
		}
	}
}

func (l *Loader) handleEvent(event fsnotify.Event) {
	name := filepath.Base(event.Name)
	if !strings.HasSuffix(name, ".md") {
		return
	}
	if !event.Op.Has(fsnotify.Write) && !event.Op.Has(fsnotify.Create) &&
		!event.Op.Has(fsnotify.Remove) && !event.Op.Has(fsnotify.Rename) {
		return
	}
	role := strings.TrimSuffix(name, ".md")
	l.invalidate(role)
	l.logger.Info("directive changed", "role", role, "op", event.Op.String())
}

// WriteDefaults writes the embedded directives for roles into dir,
// skipping files that already exist. It returns the paths written.
func WriteDefaults(dir string, roles []string) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create %s: %w", dir, err)
	}
	var written []string
	for _, role := range roles {
		path := filepath.Join(dir, role+".md")
		if _, err := os.Stat(path); err == nil {
			continue
		}
		b, err := defaults.Directive(role)
		if err != nil {
			return written, err
		}
		if err := os.WriteFile(path, b, 0o644); err != nil {
			return written, fmt.Errorf("write %s: %w", path, err)
		}
		written = append(written, path)
	}
	return written, nil
}
