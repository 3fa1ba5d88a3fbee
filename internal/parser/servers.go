package parser

import (
	"encoding/json"
	"net/http"
	"os"
	"strings"
	"sync"
)

// DefaultServerURL is used when no VLM server is configured.
const DefaultServerURL = "http://127.0.0.1:30000"

// Env keys consulted for server URLs, in priority order.
var serverURLEnvKeys = []string{
	"MINERU_VLLM_SERVER_URLS",
	"MINERU_VLLM_SERVER_URL",
	"MINERU_VLM_SERVER_URLS",
	"MINERU_VLM_SERVER_URL",
}

var (
	serverCycleMu    sync.Mutex
	serverCycleURLs  []string
	serverCycleIndex int
)

// NormalizeServerURLs accepts a plain URL, a comma-separated list or a
// JSON array and returns the cleaned URL list.
func NormalizeServerURLs(raw string) []string {
	candidate := strings.TrimSpace(raw)
	if candidate == "" {
		return nil
	}
	if strings.HasPrefix(candidate, "[") && strings.HasSuffix(candidate, "]") {
		var parsed []string
		if err := json.Unmarshal([]byte(candidate), &parsed); err == nil {
			var out []string
			for _, u := range parsed {
				if s := strings.TrimSpace(u); s != "" {
					out = append(out, s)
				}
			}
			return out
		}
	}
	if strings.Contains(candidate, ",") {
		var out []string
		for _, part := range strings.Split(candidate, ",") {
			if s := strings.TrimSpace(part); s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return []string{candidate}
}

func serverURLsFromEnv() []string {
	for _, key := range serverURLEnvKeys {
		if urls := NormalizeServerURLs(os.Getenv(key)); len(urls) > 0 {
			return urls
		}
	}
	return nil
}

// ResolveServerURLs returns the server list to use: explicit argument
// first, then environment, then the single default.
func ResolveServerURLs(explicit string) []string {
	if urls := NormalizeServerURLs(explicit); len(urls) > 0 {
		return urls
	}
	if urls := serverURLsFromEnv(); len(urls) > 0 {
		return urls
	}
	return []string{DefaultServerURL}
}

// NextServerURL advances the process-wide round-robin over urls. The
// cycle is rebuilt whenever the URL list changes.
func NextServerURL(urls []string) string {
	if len(urls) == 0 {
		return DefaultServerURL
	}
	serverCycleMu.Lock()
	defer serverCycleMu.Unlock()
	if !equalStrings(serverCycleURLs, urls) {
		serverCycleURLs = append([]string(nil), urls...)
		serverCycleIndex = 0
	}
	url := serverCycleURLs[serverCycleIndex%len(serverCycleURLs)]
	serverCycleIndex++
	return url
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// AuthHeaders composes VLM auth headers from an explicit bearer token or
// a raw "Name: value" header string.
func AuthHeaders(apiKey, rawHeader string) http.Header {
	h := http.Header{}
	if apiKey = strings.TrimSpace(apiKey); apiKey != "" {
		h.Set("Authorization", "Bearer "+apiKey)
	}
	if raw := strings.TrimSpace(rawHeader); raw != "" {
		if name, value, ok := strings.Cut(raw, ":"); ok {
			h.Set(strings.TrimSpace(name), strings.TrimSpace(value))
		}
	}
	return h
}
