package twostage

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/local/minerudispatch/internal/chunk"
	"github.com/local/minerudispatch/internal/config"
	"github.com/local/minerudispatch/internal/gpusched"
	"github.com/local/minerudispatch/internal/parser"
	"github.com/local/minerudispatch/internal/runner"
)

func queueCfg() config.QueueConfig {
	return config.QueueConfig{
		Parse:          "queue_parse_gpu",
		ParseUrgent:    "queue_parse_urgent",
		Vision:         "queue_vision",
		VisionUrgent:   "queue_vision_urgent",
		Dispatch:       "default",
		DispatchUrgent: "queue_dispatch_urgent",
		Merge:          "default",
		MergeUrgent:    "queue_merge_urgent",
	}
}

func TestResolveQueues(t *testing.T) {
	normal := ResolveQueues(queueCfg(), "")
	assert.Equal(t, Queues{
		Parse:    "queue_parse_gpu",
		Vision:   "queue_vision",
		Dispatch: "default",
		Merge:    "default",
	}, normal)

	urgent := ResolveQueues(queueCfg(), PriorityUrgent)
	assert.Equal(t, Queues{
		Parse:    "queue_parse_urgent",
		Vision:   "queue_vision_urgent",
		Dispatch: "queue_dispatch_urgent",
		Merge:    "queue_merge_urgent",
	}, urgent)
}

func mergeInput(t *testing.T, mp MergePayload) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(mp)
	require.NoError(t, err)
	return data
}

func TestHandleMergeOrdersBySeq(t *testing.T) {
	p := &Pipeline{}

	items := []chunk.ParsedItem{
		{Kind: chunk.KindText, Text: "intro", PageIdx: 0},
		{Kind: chunk.KindImage, ImgPath: "i/1.jpg", ImgCaption: []string{"Fig 1"}, PageIdx: 0, ImageSeq: 1},
		{Kind: chunk.KindText, Text: "middle", PageIdx: 1},
		{Kind: chunk.KindImage, ImgPath: "i/2.jpg", PageIdx: 1, ImageSeq: 2},
		{Kind: chunk.KindImage, ImgPath: "i/3.jpg", ImgCaption: []string{"Fig 3"}, PageIdx: 2, ImageSeq: 3},
	}
	// completion order scrambled relative to seq
	visionResults := []VisionResult{
		{Seq: 3, VisionText: "a timeline"},
		{Seq: 1, VisionText: "a map"},
		{Seq: 2, VisionText: "a bar chart"},
	}

	out, err := p.handleMerge(context.Background(), "t1", mergeInput(t, MergePayload{
		Stage1: Stage1Result{Items: items, Task: TaskPayload{Payload: runner.Payload{ReturnTxt: true}}},
		Vision: visionResults,
	}))
	require.NoError(t, err)
	res := out.(*runner.ResultPayload)

	require.Len(t, res.Result, 5)
	assert.Equal(t, "intro", res.Result[0].Text)
	assert.Equal(t, "Fig 1\nImage Description: a map", res.Result[1].Text)
	assert.Equal(t, "middle", res.Result[2].Text)
	assert.Equal(t, "a bar chart", res.Result[3].Text, "no caption: vision text alone")
	assert.Equal(t, "Fig 3\nImage Description: a timeline", res.Result[4].Text)
	require.NotNil(t, res.Txt)
}

func TestHandleMergeChunkTypeHeaderFirst(t *testing.T) {
	p := &Pipeline{}

	items := []chunk.ParsedItem{
		{Kind: chunk.KindText, Text: "body", PageIdx: 0},
		{Kind: chunk.KindHeader, Text: "Running Header", PageIdx: 0},
	}
	out, err := p.handleMerge(context.Background(), "t2", mergeInput(t, MergePayload{
		Stage1: Stage1Result{Items: items, Task: TaskPayload{Payload: runner.Payload{ChunkType: true}}},
	}))
	require.NoError(t, err)
	res := out.(*runner.ResultPayload)

	require.Len(t, res.Result, 2)
	assert.Equal(t, "header", res.Result[0].Type)
	assert.Equal(t, "Running Header", res.Result[0].Text)
	assert.Equal(t, "body", res.Result[1].Text)
}

func TestHandleMergeVisionFailureKeepsBaseText(t *testing.T) {
	p := &Pipeline{}

	items := []chunk.ParsedItem{
		{Kind: chunk.KindImage, ImgPath: "i/1.jpg", ImgCaption: []string{"Fig 9"}, PageIdx: 0, ImageSeq: 1},
	}
	out, err := p.handleMerge(context.Background(), "t3", mergeInput(t, MergePayload{
		Stage1: Stage1Result{Items: items},
		Vision: []VisionResult{{Seq: 1, VisionText: "Fig 9", Error: "provider down"}},
	}))
	require.NoError(t, err)
	res := out.(*runner.ResultPayload)
	require.Len(t, res.Result, 1)
	assert.Equal(t, "Fig 9", res.Result[0].Text)
}

type failingParser struct{}

func (failingParser) Parse(context.Context, gpusched.Task) (parser.Result, error) {
	return parser.Result{}, assert.AnError
}

func TestHandleParseFailureCleansWorkspace(t *testing.T) {
	root := t.TempDir()
	p := &Pipeline{parser: failingParser{}, workspaceRoot: root}

	src := filepath.Join(t.TempDir(), "doc.pdf")
	require.NoError(t, os.WriteFile(src, []byte("%PDF-1.4"), 0o644))

	payload, err := json.Marshal(TaskPayload{Payload: runner.Payload{SourcePath: src, Filename: "doc.pdf"}})
	require.NoError(t, err)

	_, err = p.handleParse(context.Background(), "t5", payload)
	require.ErrorIs(t, err, assert.AnError)

	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	assert.Empty(t, entries, "workspace should be removed when the parse stage fails")
}

func TestHandleParseBadSourceCleansWorkspace(t *testing.T) {
	root := t.TempDir()
	p := &Pipeline{parser: failingParser{}, workspaceRoot: root}

	payload, err := json.Marshal(TaskPayload{Payload: runner.Payload{SourcePath: filepath.Join(root, "missing.pdf")}})
	require.NoError(t, err)

	_, err = p.handleParse(context.Background(), "t6", payload)
	require.Error(t, err)

	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestHandleMergeCleansWorkspace(t *testing.T) {
	p := &Pipeline{}
	ws := t.TempDir()

	_, err := p.handleMerge(context.Background(), "t4", mergeInput(t, MergePayload{
		Stage1: Stage1Result{
			Items:     []chunk.ParsedItem{{Kind: chunk.KindText, Text: "x"}},
			Workspace: ws,
		},
	}))
	require.NoError(t, err)
	assert.NoDirExists(t, ws)
}
