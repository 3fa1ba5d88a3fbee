package vision

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/local/minerudispatch/internal/chunk"
)

func TestRegistryFromEnv(t *testing.T) {
	t.Setenv("VISION_API_KEY_OPENAI", "sk-reg")
	t.Setenv("VISION_MODELS_OPENAI", "gpt-4o-mini, gpt-4o")
	t.Setenv("VISION_DEFAULT_MODEL_OPENAI", "gpt-4o-mini")
	t.Setenv("VISION_BASE_URLS_GEMINI", "http://gw-1/v1,http://gw-2/v1")

	r := NewRegistry([]string{"openai", "gemini"})
	require.Len(t, r.Providers(), 2)

	oa, ok := r.Lookup("openai")
	require.True(t, ok)
	assert.Equal(t, "sk-reg", oa.APIKey)
	assert.Equal(t, []string{"gpt-4o-mini", "gpt-4o"}, oa.Models)
	assert.Equal(t, "gpt-4o-mini", oa.DefaultModel)
	assert.True(t, oa.Credentialed())

	ge, ok := r.Lookup("gemini")
	require.True(t, ok)
	assert.Empty(t, ge.APIKey)
	assert.True(t, ge.Credentialed(), "base URLs alone should credential a provider")
}

func TestRegistryLegacyKeys(t *testing.T) {
	t.Setenv("VISION_API_KEY_OPENAI", "")
	t.Setenv("OPENAI_API_KEY", "sk-legacy")

	r := NewRegistry([]string{"openai"})
	p, ok := r.Lookup("openai")
	require.True(t, ok)
	assert.Equal(t, "sk-legacy", p.APIKey)
}

func TestRegistryResolve(t *testing.T) {
	t.Setenv("VISION_API_KEY_GEMINI", "g-key")
	t.Setenv("VISION_API_KEY_OPENAI", "")
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("GEMINI_API_KEY", "")

	r := NewRegistry([]string{"openai", "gemini"})

	p, err := r.Resolve("gemini", "")
	require.NoError(t, err)
	assert.Equal(t, "gemini", p.Name)

	_, err = r.Resolve("claude", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown vision provider")

	// no explicit, no configured default: first credentialed wins
	p, err = r.Resolve("", "")
	require.NoError(t, err)
	assert.Equal(t, "gemini", p.Name)

	// configured default wins over credential scan
	p, err = r.Resolve("", "openai")
	require.NoError(t, err)
	assert.Equal(t, "openai", p.Name)
}

func TestProviderModelAndValidation(t *testing.T) {
	p := &Provider{Name: "openai", Models: []string{"a", "b"}, DefaultModel: "b"}
	assert.Equal(t, "a", p.Model("a"))
	assert.Equal(t, "b", p.Model(""))
	require.NoError(t, p.ValidateModel("a"))
	err := p.ValidateModel("c")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not configured")

	open := &Provider{Name: "any"}
	assert.NoError(t, open.ValidateModel("whatever"))
}

func TestProviderNextBaseURLRoundRobin(t *testing.T) {
	p := &Provider{BaseURLs: []string{"http://a", "http://b"}}
	assert.Equal(t, "http://a", p.NextBaseURL())
	assert.Equal(t, "http://b", p.NextBaseURL())
	assert.Equal(t, "http://a", p.NextBaseURL())

	assert.Empty(t, (&Provider{}).NextBaseURL())
}

func TestCompleteAppliesDefaultModel(t *testing.T) {
	t.Setenv("VISION_API_KEY_OPENAI", "sk-test")
	t.Setenv("VISION_MODELS_OPENAI", "gpt-4o")

	r := NewRegistry([]string{"openai"})
	s := NewService(r, "openai", "unlisted-model", 2)

	// the configured default model goes through the same validation as
	// an explicit request, so an off-list default is rejected up front
	_, err := s.Complete(context.Background(), Request{ImagePath: "fig.jpg"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"unlisted-model"`)

	// an explicit model wins over the configured default
	_, err = s.Complete(context.Background(), Request{ImagePath: "fig.jpg", Model: "also-unlisted"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"also-unlisted"`)
}

func TestBuildPrompt(t *testing.T) {
	assert.Equal(t, DefaultPrompt, BuildPrompt("", ""))

	got := BuildPrompt("", "Describe the chart")
	assert.Equal(t, "Describe the chart", got)

	got = BuildPrompt("some context", "Describe the chart")
	assert.True(t, strings.HasPrefix(got, "Describe the chart\n\nContext"))
	assert.Contains(t, got, "some context")

	got = BuildPrompt("some context", "")
	assert.Contains(t, got, "Analyze this image with the following context")
	assert.Contains(t, got, "some context")
}

func TestContextBlocksAndWindows(t *testing.T) {
	items := []chunk.ParsedItem{
		{Kind: chunk.KindText, Text: "alpha", PageIdx: 0},
		{Kind: chunk.KindText, Text: "beta", PageIdx: 0},
		{Kind: chunk.KindImage, ImgPath: "img/1.jpg", PageIdx: 0},
		{Kind: chunk.KindText, Text: "gamma", PageIdx: 1},
		{Kind: chunk.KindTable, TableCaption: []string{"Table 1"}, TableBody: "cells", PageIdx: 1},
	}
	blocks := BuildContextBlocks(items)
	// path-only image contributes no block
	require.Len(t, blocks, 4)
	assert.Equal(t, "table", blocks[3].Kind)
	assert.Equal(t, "[Page 1] [ChunkType=Body] alpha", blocks[0].Text)

	// image at item index 2 has no block of its own: positioned by page
	before, after := ResolveWindows(blocks, 2, 0, 2)
	assert.Equal(t, "[Page 1] [ChunkType=Body] alpha\n[Page 1] [ChunkType=Body] beta", before)
	assert.Equal(t, "[Page 2] [ChunkType=Body] gamma\n[Page 2] [ChunkType=Body] Table 1\ncells", after)

	// text item present in blocks resolves directly
	before, after = ResolveWindows(blocks, 3, 1, 2)
	assert.Equal(t, "[Page 1] [ChunkType=Body] alpha\n[Page 1] [ChunkType=Body] beta", before)
	assert.Equal(t, "[Page 2] [ChunkType=Body] Table 1\ncells", after)
}

func TestResolveWindowsBeforeFirstBlock(t *testing.T) {
	items := []chunk.ParsedItem{
		{Kind: chunk.KindImage, ImgPath: "img/0.jpg", PageIdx: 0},
		{Kind: chunk.KindText, Text: "first", PageIdx: 2},
		{Kind: chunk.KindText, Text: "second", PageIdx: 3},
	}
	blocks := BuildContextBlocks(items)
	before, after := ResolveWindows(blocks, 0, 0, 2)
	assert.Empty(t, before)
	assert.Equal(t, "[Page 3] [ChunkType=Body] first\n[Page 4] [ChunkType=Body] second", after)
}

func TestBuildImageContext(t *testing.T) {
	item := chunk.ParsedItem{
		Kind:        chunk.KindImage,
		ImgCaption:  []string{"Figure 3"},
		ImgFootnote: []string{"Source: survey"},
	}
	got := BuildImageContext(item, "prev text", "next text")
	assert.Equal(t, "Image caption: Figure 3\nImage footnote: Source: survey\nContext before: prev text\nContext after: next text", got)

	got = BuildImageContext(chunk.ParsedItem{Kind: chunk.KindImage}, "", "tail")
	assert.Equal(t, "Context after: tail", got)
}
