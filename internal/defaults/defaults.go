// Package defaults provides embedded copies of the example
// configuration and the default role directives. The directives are
// used when no directives_dir is configured, and "neoc init" writes all
// of them to disk as a starting point.
package defaults

import (
	"embed"
	"fmt"
)

//go:embed config.example.yaml
var ConfigYAML []byte

//go:embed directives/*.md
var directiveFS embed.FS

// Directive returns the embedded default directive for role.
func Directive(role string) ([]byte, error) {
	b, err := directiveFS.ReadFile("directives/" + role + ".md")
	if err != nil {
		return nil, fmt.Errorf("no default directive for %q: %w", role, err)
	}
	return b, nil
}
