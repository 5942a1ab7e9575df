package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"

	"github.com/nugget/neoc/internal/config"
	"github.com/nugget/neoc/internal/defaults"
	"github.com/nugget/neoc/internal/directives"
)

// runInit initializes a NeoC working directory with an example config,
// the default directives, and an empty data directory. Existing files
// are never overwritten.
func runInit(w io.Writer, dir string) error {
	fmt.Fprintf(w, "Initializing NeoC workspace in %s\n", dir)

	dbDir := filepath.Join(dir, "db")
	if err := os.MkdirAll(dbDir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dbDir, err)
	}

	configPath := filepath.Join(dir, "config.yaml")
	created, err := writeIfMissing(configPath, defaults.ConfigYAML)
	if err != nil {
		return err
	}
	report(w, configPath, created)

	directivesDir := filepath.Join(dir, "directives")
	written, err := directives.WriteDefaults(directivesDir, config.Roles)
	if err != nil {
		return fmt.Errorf("install directives: %w", err)
	}
	for _, role := range config.Roles {
		path := filepath.Join(directivesDir, role+".md")
		report(w, path, slices.Contains(written, path))
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Edit config.yaml and the files in directives/ to customize NeoC.")
	return nil
}

func report(w io.Writer, path string, created bool) {
	if created {
		fmt.Fprintf(w, "  ✓ %s\n", path)
	} else {
		fmt.Fprintf(w, "  · %s (exists, skipping)\n", path)
	}
}

// writeIfMissing writes content to path only if the file does not
// already exist. The config may hold API keys, so it is owner-only.
func writeIfMissing(path string, content []byte) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	}
	if err := os.WriteFile(path, content, 0o600); err != nil {
		return false, fmt.Errorf("write %s: %w", path, err)
	}
	return true, nil
}
