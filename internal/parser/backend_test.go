package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeBackend(t *testing.T) {
	got, err := NormalizeBackend(" VLM-Transformers ")
	require.NoError(t, err)
	assert.Equal(t, "vlm-transformers", got)

	got, err = NormalizeBackend("")
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = NormalizeBackend("sglang")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported backend")
}

func TestResolveBackendHybridFallbacks(t *testing.T) {
	assert.Equal(t, "vlm-vllm-engine", ResolveBackend("hybrid-auto-engine"))
	assert.Equal(t, "vlm-http-client", ResolveBackend("hybrid-http-client"))
	assert.Equal(t, "pipeline", ResolveBackend("pipeline"))
}

func TestNormalizeServerURLs(t *testing.T) {
	assert.Nil(t, NormalizeServerURLs("  "))
	assert.Equal(t, []string{"http://a:30000"}, NormalizeServerURLs("http://a:30000"))
	assert.Equal(t, []string{"http://a", "http://b"}, NormalizeServerURLs("http://a, http://b"))
	assert.Equal(t, []string{"http://a", "http://b"}, NormalizeServerURLs(`["http://a","http://b"]`))
}

func TestResolveServerURLsPriority(t *testing.T) {
	t.Setenv("MINERU_VLLM_SERVER_URLS", "http://env-a,http://env-b")
	t.Setenv("MINERU_VLLM_SERVER_URL", "http://env-single")

	assert.Equal(t, []string{"http://explicit"}, ResolveServerURLs("http://explicit"))
	assert.Equal(t, []string{"http://env-a", "http://env-b"}, ResolveServerURLs(""))

	t.Setenv("MINERU_VLLM_SERVER_URLS", "")
	assert.Equal(t, []string{"http://env-single"}, ResolveServerURLs(""))

	t.Setenv("MINERU_VLLM_SERVER_URL", "")
	assert.Equal(t, []string{DefaultServerURL}, ResolveServerURLs(""))
}

func TestNextServerURLRoundRobin(t *testing.T) {
	urls := []string{"http://a", "http://b", "http://c"}
	first := NextServerURL(urls)
	second := NextServerURL(urls)
	third := NextServerURL(urls)
	assert.Equal(t, []string{"http://a", "http://b", "http://c"}, []string{first, second, third})
	assert.Equal(t, "http://a", NextServerURL(urls))

	// Cycle rebuilds when the list changes
	assert.Equal(t, "http://x", NextServerURL([]string{"http://x", "http://y"}))
}

func TestAuthHeaders(t *testing.T) {
	h := AuthHeaders("tok", "")
	assert.Equal(t, "Bearer tok", h.Get("Authorization"))

	h = AuthHeaders("", "X-Api-Key: secret")
	assert.Equal(t, "secret", h.Get("X-Api-Key"))

	h = AuthHeaders("", "")
	assert.Empty(t, h)
}

func TestBuildRequestCarriesAuth(t *testing.T) {
	req, err := BuildRequest("/tmp/doc.pdf", "/tmp/out", Options{Backend: "vlm-vllm-engine", APIKey: "tok"})
	require.NoError(t, err)
	assert.NotEmpty(t, req.ServerURL)
	assert.Equal(t, "Bearer tok", req.Headers["Authorization"])

	// pipeline backend never dispatches to a server
	req, err = BuildRequest("/tmp/doc.pdf", "/tmp/out", Options{Backend: "pipeline", APIKey: "tok"})
	require.NoError(t, err)
	assert.Empty(t, req.ServerURL)
	assert.Empty(t, req.Headers)
}
