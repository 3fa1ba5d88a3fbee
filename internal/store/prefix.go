package store

import (
	"path/filepath"
	"regexp"
	"strings"
)

var prefixSanitizer = regexp.MustCompile(`[^0-9A-Za-z/_-]+`)

// NormalizePrefix sanitizes a caller-supplied prefix: disallowed runes
// collapse to underscores and leading/trailing slashes and underscores
// are stripped.
func NormalizePrefix(raw string) string {
	cleaned := prefixSanitizer.ReplaceAllString(strings.TrimSpace(raw), "_")
	return strings.Trim(cleaned, "/_")
}

// DefaultPrefix derives the bundle prefix for a source file:
// <root>/<sanitized basename without extension>, falling back to
// "document" for names that sanitize to nothing.
func (c *Client) DefaultPrefix(sourcePath string) string {
	base := filepath.Base(sourcePath)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	name := NormalizePrefix(base)
	if name == "" {
		name = "document"
	}
	root := NormalizePrefix(c.PrefixRoot)
	if root == "" {
		return name
	}
	return root + "/" + name
}

// ResolvePrefix picks the explicit prefix when given, else the default.
func (c *Client) ResolvePrefix(explicit, sourcePath string) string {
	if p := NormalizePrefix(explicit); p != "" {
		return p
	}
	return c.DefaultPrefix(sourcePath)
}
