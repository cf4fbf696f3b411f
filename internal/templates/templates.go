package templates

import (
	"embed"
	"fmt"
	"maps"
	"os"
	"slices"
	"strings"
)

const (
	MemberWelcome         = "memberWelcome.html"
	MemberWelcomeNoColead = "memberWelcomeNoColead.html"
	SubgroupWelcome       = "subgroupWelcome.html"
)

//go:embed emails/*.html
var emails embed.FS

// Default returns one of the built-in email bodies.
func Default(name string) (string, error) {
	data, err := emails.ReadFile("emails/" + name)
	if err != nil {
		return "", fmt.Errorf("no built-in template %q: %w", name, err)
	}
	return string(data), nil
}

// Load reads the template at path, or the built-in fallback when path is empty.
func Load(path, fallback string) (string, error) {
	if path == "" {
		return Default(fallback)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read email template: %w", err)
	}
	return string(data), nil
}

// Fill replaces every occurrence of each placeholder key with its value.
// Replacement is literal; values are not scanned for further placeholders.
func Fill(template string, values map[string]string) string {
	pairs := make([]string, 0, len(values)*2)
	for _, k := range slices.Sorted(maps.Keys(values)) {
		pairs = append(pairs, k, values[k])
	}
	return strings.NewReplacer(pairs...).Replace(template)
}
