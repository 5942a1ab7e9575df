package defaults

import (
	"strings"
	"testing"

	"gopkg.in/yaml.v3"
)

func TestDirective(t *testing.T) {
	for _, role := range []string{"ego", "conscious", "subconscious"} {
		b, err := Directive(role)
		if err != nil {
			t.Fatalf("Directive(%q): %v", role, err)
		}
		if !strings.Contains(string(b), "<DIRECTIVE>") {
			t.Errorf("Directive(%q) missing <DIRECTIVE> wrapper", role)
		}
	}

	if _, err := Directive("id"); err == nil {
		t.Error("Directive(unknown) should fail")
	}
}

func TestConfigYAMLParses(t *testing.T) {
	var v map[string]any
	if err := yaml.Unmarshal(ConfigYAML, &v); err != nil {
		t.Fatalf("example config does not parse: %v", err)
	}
	if _, ok := v["roles"]; !ok {
		t.Error("example config should document roles")
	}
}
