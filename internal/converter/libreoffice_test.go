package converter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeExtension(t *testing.T) {
	assert.Equal(t, ".docx", NormalizeExtension("DOCX"))
	assert.Equal(t, ".pdf", NormalizeExtension(" .PDF "))
	assert.Equal(t, "", NormalizeExtension("  "))
}

func TestExtensionSets(t *testing.T) {
	assert.True(t, IsOffice(".doc"))
	assert.True(t, IsOffice("pptx"))
	assert.True(t, IsOffice(".xltx"))
	assert.False(t, IsOffice(".pdf"))
	assert.False(t, IsOffice(".csv"))

	assert.True(t, IsMarkdown(".md"))
	assert.True(t, IsMarkdown("markdown"))
	assert.False(t, IsMarkdown(".txt"))
}

func TestFormatExtensionList(t *testing.T) {
	got := FormatExtensionList(map[string]bool{".md": true, ".markdown": true})
	assert.Equal(t, ".markdown, .md", got)
}

func TestMaybeConvertToPDFPassthrough(t *testing.T) {
	path, cleanup, err := MaybeConvertToPDF("/data/doc.pdf", ".pdf")
	require.NoError(t, err)
	assert.Equal(t, "/data/doc.pdf", path)
	assert.Empty(t, cleanup)
}
