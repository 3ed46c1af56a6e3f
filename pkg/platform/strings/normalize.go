// Package strings normalises the free text that arrives from tokens and
// evidence feeds before it is compared.
package strings

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// DedupeAndTrimLower trims and lowercases each value, dropping empties and
// repeats. First occurrence wins the position.
func DedupeAndTrimLower(values []string) []string {
	if values == nil {
		return nil
	}
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.ToLower(strings.TrimSpace(v))
		if v == "" {
			continue
		}
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// FoldAccents strips combining marks so "José" and "Jose" compare equal.
// Input that fails to transform is returned unchanged.
func FoldAccents(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// NameTokens splits a personal name into distinct lowercase, accent-free
// words. Apostrophes stay inside words ("O'Brien").
func NameTokens(name string) []string {
	fields := strings.FieldsFunc(FoldAccents(name), func(r rune) bool {
		return !unicode.IsLetter(r) && r != '\''
	})
	return DedupeAndTrimLower(fields)
}
