package filetype

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	assert.Equal(t, ClassParser, Classify(".pdf"))
	assert.Equal(t, ClassParser, Classify("PNG"))
	assert.Equal(t, ClassOffice, Classify(".docx"))
	assert.Equal(t, ClassOffice, Classify(".xlsx"))
	assert.Equal(t, ClassMarkdown, Classify(".md"))
	assert.Equal(t, ClassMarkdown, Classify(".markdown"))
	assert.Equal(t, ClassUnsupported, Classify(".exe"))
	assert.Equal(t, ClassUnsupported, Classify(""))
}

func TestCheckExtension(t *testing.T) {
	ext, err := CheckExtension("report.PDF")
	require.NoError(t, err)
	assert.Equal(t, ".pdf", ext)

	ext, err = CheckExtension("slides.pptx")
	require.NoError(t, err)
	assert.Equal(t, ".pptx", ext)

	_, err = CheckExtension("malware.exe")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported file extension")
	assert.Contains(t, err.Error(), ".pdf")
}

func TestAcceptedExtensionsSortedAndComplete(t *testing.T) {
	exts := AcceptedExtensions()
	require.NotEmpty(t, exts)
	assert.IsIncreasing(t, exts)
	assert.Contains(t, exts, ".pdf")
	assert.Contains(t, exts, ".docx")
	assert.Contains(t, exts, ".md")
	assert.Contains(t, exts, ".jpg")
}
