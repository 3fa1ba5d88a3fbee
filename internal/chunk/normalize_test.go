package chunk

import (
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(n int) *int { return &n }

func sampleItems() []ParsedItem {
	return []ParsedItem{
		{Kind: KindText, Text: "A", PageIdx: 0},
		{Kind: KindHeader, Text: "H", PageIdx: 0},
		{Kind: KindText, Text: "B", PageIdx: 1},
		{Kind: KindPageNumber, Text: "2", PageIdx: 1},
	}
}

func TestNormalizeDefaultFiltering(t *testing.T) {
	chunks := Normalize(sampleItems(), Options{ChunkType: false})
	require.Len(t, chunks, 2)
	assert.Equal(t, Chunk{Text: "A", PageNumber: 1}, chunks[0])
	assert.Equal(t, Chunk{Text: "B", PageNumber: 2}, chunks[1])
}

func TestNormalizeChunkTypeReorder(t *testing.T) {
	chunks := Normalize(sampleItems(), Options{ChunkType: true})
	require.Len(t, chunks, 3)
	assert.Equal(t, Chunk{Text: "H", PageNumber: 1, Type: "header"}, chunks[0])
	assert.Equal(t, Chunk{Text: "A", PageNumber: 1}, chunks[1])
	assert.Equal(t, Chunk{Text: "B", PageNumber: 2}, chunks[2])
}

func TestNormalizeTitlePromotion(t *testing.T) {
	items := []ParsedItem{
		{Kind: KindText, Text: "Intro", PageIdx: 0, TextLevel: intPtr(1)},
		{Kind: KindText, Text: "body", PageIdx: 0},
	}

	chunks := Normalize(items, Options{ChunkType: true})
	require.Len(t, chunks, 2)
	assert.Equal(t, "title", chunks[0].Type)
	assert.Empty(t, chunks[1].Type)

	// No promotion without chunk_type
	chunks = Normalize(items, Options{})
	require.Len(t, chunks, 2)
	assert.Empty(t, chunks[0].Type)
}

func TestNormalizePerKindMapping(t *testing.T) {
	items := []ParsedItem{
		{Kind: KindEquation, Text: "E=mc^2", PageIdx: 0},
		{Kind: KindList, ListItems: []string{"a", "", "b"}, PageIdx: 0},
		{Kind: KindList, Text: "fallback", PageIdx: 0},
		{Kind: KindTable, TableCaption: []string{"Tab 1"}, TableBody: "cells", TableFootnote: []string{"note"}, PageIdx: 1},
		{Kind: KindImage, ImgCaption: []string{"Fig 1"}, ImgFootnote: []string{"src"}, PageIdx: 1},
		{Kind: KindImage, ImgPath: "images/x.jpg", PageIdx: 1}, // path only, deferred to vision
		{Kind: KindTable, PageIdx: 2},                          // empty table dropped
	}

	chunks := Normalize(items, Options{})
	require.Len(t, chunks, 5)
	assert.Equal(t, "E=mc^2", chunks[0].Text)
	assert.Equal(t, "a\nb", chunks[1].Text)
	assert.Equal(t, "fallback", chunks[2].Text)
	assert.Equal(t, "Tab 1\ncells\nnote", chunks[3].Text)
	assert.Equal(t, "Fig 1\nsrc", chunks[4].Text)
}

func TestNormalizePageMonotonicity(t *testing.T) {
	items := []ParsedItem{
		{Kind: KindText, Text: "a", PageIdx: 0},
		{Kind: KindText, Text: "b", PageIdx: 0},
		{Kind: KindTable, TableBody: "t", PageIdx: 2},
		{Kind: KindText, Text: "c", PageIdx: 4},
	}
	chunks := Normalize(items, Options{})
	for i := 1; i < len(chunks); i++ {
		assert.GreaterOrEqual(t, chunks[i].PageNumber, chunks[i-1].PageNumber)
	}
}

func TestCleanText(t *testing.T) {
	assert.Equal(t, "hello", CleanText("  hello \n"))
	assert.Equal(t, "", CleanText(""))

	// Invalid UTF-8 bytes are dropped
	dirty := "ab" + string([]byte{0xff, 0xfe}) + "cd"
	cleaned := CleanText(dirty)
	assert.Equal(t, "abcd", cleaned)
	assert.True(t, utf8.ValidString(cleaned))

	// Raw surrogate byte sequences are invalid UTF-8 and get dropped
	withSurrogate := "x\xed\xa0\x80y"
	cleaned = CleanText(withSurrogate)
	assert.Equal(t, "xy", cleaned)
	assert.True(t, utf8.ValidString(cleaned))

	// U+FFFD is a valid code point and survives
	assert.Equal(t, "x\uFFFDy", CleanText("x\uFFFDy"))
}

func TestSortHeadersFirstStable(t *testing.T) {
	chunks := []Chunk{
		{Text: "t1", PageNumber: 1, Type: "title"},
		{Text: "h1", PageNumber: 1, Type: "header"},
		{Text: "b1", PageNumber: 1},
		{Text: "h2", PageNumber: 2, Type: "header"},
		{Text: "f1", PageNumber: 2, Type: "footer"},
	}
	SortHeadersFirst(chunks)
	assert.Equal(t, []string{"h1", "h2", "t1", "b1", "f1"}, texts(chunks))

	// Applying the sort twice is a no-op
	SortHeadersFirst(chunks)
	assert.Equal(t, []string{"h1", "h2", "t1", "b1", "f1"}, texts(chunks))
}

func texts(chunks []Chunk) []string {
	out := make([]string, len(chunks))
	for i, c := range chunks {
		out[i] = c.Text
	}
	return out
}

func TestBuildPlainText(t *testing.T) {
	chunks := []Chunk{
		{Text: "H", PageNumber: 1, Type: "title"},
		{Text: "body", PageNumber: 1},
		{Text: "H2", PageNumber: 1, Type: "title"},
		{Text: "- a\n- b", PageNumber: 1},
	}
	assert.Equal(t, "H\n\nbody\nH2\n\n- a\n- b", BuildPlainText(chunks))
	assert.Equal(t, "", BuildPlainText(nil))
}
