package game

import (
	"slices"
	"strings"
)

// uniqueMatch resolves target against names case-insensitively. An exact
// name wins outright; otherwise exactly one name may start with target, or
// with words set, contain a word that does.
func uniqueMatch(target string, names []string, words bool) (int, bool) {
	needle := strings.ToLower(strings.TrimSpace(target))
	if needle == "" {
		return -1, false
	}
	var hits []int
	for i, name := range names {
		candidate := strings.ToLower(strings.TrimSpace(name))
		if candidate == needle {
			return i, true
		}
		if hasPrefixMatch(candidate, needle, words) {
			hits = append(hits, i)
		}
	}
	if len(hits) != 1 {
		return -1, false
	}
	return hits[0], true
}

func hasPrefixMatch(candidate, needle string, words bool) bool {
	if strings.HasPrefix(candidate, needle) {
		return true
	}
	if !words {
		return false
	}
	return slices.ContainsFunc(strings.Fields(candidate), func(w string) bool {
		return strings.HasPrefix(w, needle)
	})
}

// Suggest returns the single name in names that target abbreviates.
func Suggest(target string, names []string) (string, bool) {
	idx, ok := uniqueMatch(target, names, false)
	if !ok {
		return "", false
	}
	return names[idx], true
}
