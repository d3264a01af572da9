package inbox

import (
	"path/filepath"
	"strings"
)

// DefaultIgnore lists the half-written files browsers and editors leave
// behind. Dotfiles are always ignored.
var DefaultIgnore = []string{"*.part", "*.crdownload", "*.tmp", "~$*"}

// IgnoreMatcher checks inbox file names against glob patterns.
// Patterns are matched against the base name only, since inbox files sit
// directly under their folder directory.
type IgnoreMatcher struct {
	patterns []string
}

// NewIgnoreMatcher creates an IgnoreMatcher from raw pattern strings.
// Blank entries, comments and malformed globs are dropped.
func NewIgnoreMatcher(rawPatterns []string) *IgnoreMatcher {
	var patterns []string
	for _, raw := range rawPatterns {
		raw = strings.TrimSpace(raw)
		if raw == "" || strings.HasPrefix(raw, "#") {
			continue
		}
		if _, err := filepath.Match(raw, ""); err != nil {
			continue
		}
		patterns = append(patterns, raw)
	}
	return &IgnoreMatcher{patterns: patterns}
}

// Match reports whether the file at path should be left alone.
func (m *IgnoreMatcher) Match(path string) bool {
	name := filepath.Base(path)
	if strings.HasPrefix(name, ".") {
		return true
	}
	for _, p := range m.patterns {
		if ok, _ := filepath.Match(p, name); ok {
			return true
		}
	}
	return false
}
