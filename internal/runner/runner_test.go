package runner

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/local/minerudispatch/internal/chunk"
	"github.com/local/minerudispatch/internal/config"
	"github.com/local/minerudispatch/internal/gpusched"
	"github.com/local/minerudispatch/internal/parser"
)

type stubParser struct {
	result parser.Result
	err    error
	last   gpusched.Task
}

func (s *stubParser) Parse(_ context.Context, t gpusched.Task) (parser.Result, error) {
	s.last = t
	return s.result, s.err
}

func newTestRunner(t *testing.T, p Parser) *Runner {
	t.Helper()
	return New(p, nil, config.StoreConfig{PageDPI: 150}, t.TempDir())
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestRunRejectsUnknownExtension(t *testing.T) {
	r := newTestRunner(t, &stubParser{})
	_, err := r.Run(context.Background(), Payload{SourcePath: "/tmp/x.exe", Filename: "x.exe"})
	require.ErrorIs(t, err, ErrValidation)
	assert.Contains(t, err.Error(), "unsupported file extension")
}

func TestRunMarkdownFastPath(t *testing.T) {
	src := writeFile(t, "notes.md", "# Title\n\nbody text\n")
	r := newTestRunner(t, &stubParser{})

	out, err := r.Run(context.Background(), Payload{SourcePath: src, Filename: "notes.md", ChunkType: true, ReturnTxt: true})
	require.NoError(t, err)
	require.NotEmpty(t, out.Result)
	assert.Equal(t, "Title", out.Result[0].Text)
	assert.Equal(t, "title", out.Result[0].Type)
	require.NotNil(t, out.Txt)
	assert.Equal(t, "Title\n\nbody text", *out.Txt)
	assert.Nil(t, out.MinioAssets)
}

func TestRunMarkdownRejectsMinioPersistence(t *testing.T) {
	src := writeFile(t, "notes.md", "# Title\n")
	r := newTestRunner(t, &stubParser{})

	_, err := r.Run(context.Background(), Payload{SourcePath: src, Filename: "notes.md", SaveToMinio: true})
	require.ErrorIs(t, err, ErrValidation)
	assert.Contains(t, err.Error(), "markdown")
}

func TestRunParsePath(t *testing.T) {
	src := writeFile(t, "doc.pdf", "%PDF-1.4")
	stub := &stubParser{result: parser.Result{Items: []chunk.ParsedItem{
		{Kind: chunk.KindText, Text: "hello", PageIdx: 0},
		{Kind: chunk.KindPageNumber, Text: "1", PageIdx: 0},
	}}}
	r := newTestRunner(t, stub)

	out, err := r.Run(context.Background(), Payload{SourcePath: src, Filename: "doc.pdf", ReturnTxt: true})
	require.NoError(t, err)
	require.Len(t, out.Result, 1)
	assert.Equal(t, "hello", out.Result[0].Text)
	assert.Equal(t, 1, out.Result[0].PageNumber)
	require.NotNil(t, out.Txt)
	assert.Equal(t, "hello", *out.Txt)

	assert.Equal(t, src, stub.last.Path)
	assert.Equal(t, "default", stub.last.Pipeline)
	assert.NotEmpty(t, stub.last.OutputDir)
}

func TestRunAppliesParserDefaults(t *testing.T) {
	src := writeFile(t, "doc.pdf", "%PDF-1.4")
	stub := &stubParser{result: parser.Result{Items: []chunk.ParsedItem{{Kind: chunk.KindText, Text: "ok"}}}}
	r := newTestRunner(t, stub)
	r.UseParserDefaults(config.ParserConfig{
		DefaultBackend: "vlm-vllm-engine",
		DefaultLang:    "en",
		DefaultMethod:  "auto",
		APIKey:         "tok",
	})

	_, err := r.Run(context.Background(), Payload{SourcePath: src, Filename: "doc.pdf"})
	require.NoError(t, err)
	assert.Equal(t, "vlm-vllm-engine", stub.last.Options.Backend)
	assert.Equal(t, "en", stub.last.Options.Lang)
	assert.Equal(t, "auto", stub.last.Options.Method)
	assert.Equal(t, "tok", stub.last.Options.APIKey)

	// payload choices win over defaults
	_, err = r.Run(context.Background(), Payload{SourcePath: src, Filename: "doc.pdf", Backend: "pipeline", Lang: "ch"})
	require.NoError(t, err)
	assert.Equal(t, "pipeline", stub.last.Options.Backend)
	assert.Equal(t, "ch", stub.last.Options.Lang)
	assert.Equal(t, "auto", stub.last.Options.Method)
}

func TestRunParseFailurePropagates(t *testing.T) {
	src := writeFile(t, "doc.pdf", "%PDF-1.4")
	stub := &stubParser{err: assert.AnError}
	r := newTestRunner(t, stub)

	_, err := r.Run(context.Background(), Payload{SourcePath: src, Filename: "doc.pdf"})
	require.ErrorIs(t, err, assert.AnError)
}

func TestRunCleansExtraPaths(t *testing.T) {
	src := writeFile(t, "doc.pdf", "%PDF-1.4")
	extra := writeFile(t, "scratch.tmp", "x")
	stub := &stubParser{result: parser.Result{Items: []chunk.ParsedItem{{Kind: chunk.KindText, Text: "ok"}}}}
	r := newTestRunner(t, stub)

	_, err := r.Run(context.Background(), Payload{SourcePath: src, Filename: "doc.pdf", ExtraCleanup: []string{extra, "/does/not/exist"}})
	require.NoError(t, err)
	assert.NoFileExists(t, extra)
	assert.FileExists(t, src, "source should survive without cleanup_source")
}

func TestCleanupRunsTwice(t *testing.T) {
	file := writeFile(t, "scratch.tmp", "x")
	dir := t.TempDir()

	cs := newCleanupSet(file)
	cs.AddDir(dir)
	cs.Run()
	cs.Run()
	assert.NoFileExists(t, file)
	assert.NoDirExists(t, dir)
}

func TestRunCleanupSource(t *testing.T) {
	src := writeFile(t, "doc.pdf", "%PDF-1.4")
	stub := &stubParser{result: parser.Result{Items: []chunk.ParsedItem{{Kind: chunk.KindText, Text: "ok"}}}}
	r := newTestRunner(t, stub)

	_, err := r.Run(context.Background(), Payload{SourcePath: src, Filename: "doc.pdf", CleanupSource: true})
	require.NoError(t, err)
	assert.NoFileExists(t, src)
}
