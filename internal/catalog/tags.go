package catalog

import (
	"strings"
	"unicode"
)

const (
	maxTagsPerProduct = 10
	maxTagLength      = 30
)

// ParseTags splits raw tag input on commas and whitespace, strips leading
// '#', lower-cases, truncates to 30 characters, and keeps the first 10
// distinct values.
func ParseTags(raw []string) []string {
	seen := make(map[string]struct{})
	var tags []string
	for _, entry := range raw {
		fields := strings.FieldsFunc(entry, func(r rune) bool {
			return r == ',' || r == '、' || r == '，' || unicode.IsSpace(r)
		})
		for _, field := range fields {
			tag := NormalizeTag(field)
			if tag == "" {
				continue
			}
			if _, ok := seen[tag]; ok {
				continue
			}
			seen[tag] = struct{}{}
			tags = append(tags, tag)
			if len(tags) == maxTagsPerProduct {
				return tags
			}
		}
	}
	return tags
}

// NormalizeTag canonicalises a single tag; the result may be empty.
func NormalizeTag(value string) string {
	tag := strings.TrimSpace(value)
	tag = strings.TrimLeft(tag, "#＃")
	tag = strings.ToLower(strings.TrimSpace(tag))
	runes := []rune(tag)
	if len(runes) > maxTagLength {
		tag = string(runes[:maxTagLength])
	}
	return tag
}
