// Package strings provides small string-slice helpers for config parsing.
package strings

import (
	"strings"
)

// DedupeAndTrim trims every element, drops empties, and removes duplicates
// while preserving order. Comma-separated env lists (Kafka brokers) arrive
// with stray whitespace and repeats; callers get a clean slice back.
func DedupeAndTrim(values []string) []string {
	if len(values) == 0 {
		return values
	}

	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		trimmed := strings.TrimSpace(v)
		if trimmed == "" {
			continue
		}
		if _, dup := seen[trimmed]; dup {
			continue
		}
		seen[trimmed] = struct{}{}
		out = append(out, trimmed)
	}
	return out
}
