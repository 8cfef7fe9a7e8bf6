// Package strings provides string slice helpers shared by claim-key handling.
package strings

import (
	"strings"
)

// DedupeAndTrim removes duplicates and empty strings from a slice, trimming whitespace from
// each element. Order is preserved.
//
// Example:
//
//	DedupeAndTrim([]string{" v1:abc ", "v2:def", "v1:abc", ""})
//	// Returns: []string{"v1:abc", "v2:def"}
func DedupeAndTrim(values []string) []string {
	if len(values) == 0 {
		return values
	}

	seen := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))

	for _, v := range values {
		trimmed := strings.TrimSpace(v)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; !ok {
			seen[trimmed] = struct{}{}
			result = append(result, trimmed)
		}
	}

	return result
}

// Set builds a membership set from values.
func Set(values ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}

// Overlap returns the values that are members of set, preserving order.
func Overlap(values []string, set map[string]struct{}) []string {
	var result []string
	for _, v := range values {
		if _, ok := set[v]; ok {
			result = append(result, v)
		}
	}
	return result
}
