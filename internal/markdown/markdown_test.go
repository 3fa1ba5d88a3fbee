package markdown

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/local/minerudispatch/internal/chunk"
)

func TestParseChunksHeadingsAndLists(t *testing.T) {
	content := "# H\n\nbody\n\n## H2\n- a\n- b"
	chunks := ParseChunks(content, true)
	require.Len(t, chunks, 4)
	assert.Equal(t, chunk.Chunk{Text: "H", PageNumber: 1, Type: "title"}, chunks[0])
	assert.Equal(t, chunk.Chunk{Text: "body", PageNumber: 1}, chunks[1])
	assert.Equal(t, chunk.Chunk{Text: "H2", PageNumber: 1, Type: "title"}, chunks[2])
	assert.Equal(t, chunk.Chunk{Text: "- a\n- b", PageNumber: 1}, chunks[3])

	txt := chunk.BuildPlainText(chunks)
	assert.True(t, strings.HasPrefix(txt, "H\n\nbody\nH2\n\n- a\n- b"))
}

func TestParseChunksWithoutChunkType(t *testing.T) {
	chunks := ParseChunks("# H\n\nbody", false)
	require.Len(t, chunks, 2)
	assert.Empty(t, chunks[0].Type)
	assert.Equal(t, "H", chunks[0].Text)
}

func TestParseChunksPlainParagraph(t *testing.T) {
	chunks := ParseChunks("just one block of text", true)
	require.Len(t, chunks, 1)
	assert.Equal(t, "just one block of text", chunks[0].Text)
}

func TestParseChunksEmpty(t *testing.T) {
	assert.Empty(t, ParseChunks("", true))
	assert.Empty(t, ParseChunks("\n\n  \n", false))
}
