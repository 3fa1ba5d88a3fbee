package parser

import (
	"fmt"
	"sort"
	"strings"
)

// Supported parser backends. Hybrid modes are accepted as inputs but map
// onto vlm variants because the pinned parser build does not ship hybrid
// implementations.
var supportedBackends = map[string]struct{}{
	"pipeline":            {},
	"vlm-transformers":    {},
	"vlm-vllm-engine":     {},
	"vlm-lmdeploy-engine": {},
	"vlm-http-client":     {},
	"vlm-mlx-engine":      {},
	"hybrid-auto-engine":  {},
	"hybrid-http-client":  {},
}

var backendFallbacks = map[string]string{
	"hybrid-http-client": "vlm-http-client",
	"hybrid-auto-engine": "vlm-vllm-engine",
}

// NormalizeBackend lowercases and validates a backend string. An empty
// value normalizes to "" (use the parser default); unknown values fail.
func NormalizeBackend(backend string) (string, error) {
	candidate := strings.ToLower(strings.TrimSpace(backend))
	if candidate == "" {
		return "", nil
	}
	if _, ok := supportedBackends[candidate]; !ok {
		return "", fmt.Errorf("unsupported backend %q, supported values: %s", backend, supportedBackendList())
	}
	return candidate, nil
}

// ResolveBackend maps hybrid-* aliases onto the vlm-* backend actually
// passed to the parser.
func ResolveBackend(normalized string) string {
	if mapped, ok := backendFallbacks[normalized]; ok {
		return mapped
	}
	return normalized
}

func supportedBackendList() string {
	names := make([]string, 0, len(supportedBackends))
	for name := range supportedBackends {
		names = append(names, name)
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}
