package vision

import (
	"image"
	"image/color"
	"image/png"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/local/minerudispatch/internal/chunk"
)

// noise compresses poorly, keeping the file above the size thresholds
func writeNoisePNG(t *testing.T, dir, name string, w, h int, seed int64) string {
	t.Helper()
	rng := rand.New(rand.NewSource(seed))
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{uint8(rng.Intn(256)), uint8(rng.Intn(256)), uint8(rng.Intn(256)), 255})
		}
	}
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img))
	return name
}

func imageItem(imgPath string, page int) chunk.ParsedItem {
	return chunk.ParsedItem{
		Kind:     chunk.KindImage,
		ImgPath:  imgPath,
		PageIdx:  page,
		BBox:     []float64{0, 0, 200, 200},
		PageSize: []float64{600, 800},
	}
}

func TestSelectImageJobsAcceptAndAnnotate(t *testing.T) {
	dir := t.TempDir()
	name := writeNoisePNG(t, dir, "images/fig1.png", 200, 200, 1)

	items := []chunk.ParsedItem{
		{Kind: chunk.KindText, Text: "intro", PageIdx: 0},
		imageItem(name, 0),
		{Kind: chunk.KindText, Text: "outro", PageIdx: 0},
	}
	items[1].ImgCaption = []string{"Figure 1"}

	jobs := SelectImageJobs(items, dir, 2)
	require.Len(t, jobs, 1)
	assert.Equal(t, 1, jobs[0].Seq)
	assert.Equal(t, 1, jobs[0].PageNumber)
	assert.Equal(t, "Figure 1", jobs[0].BaseText)
	assert.Contains(t, jobs[0].ContextPayload, "Image caption: Figure 1")
	assert.Contains(t, jobs[0].ContextPayload, "Context before: [Page 1] [ChunkType=Body] intro")
	assert.Contains(t, jobs[0].ContextPayload, "Context after: [Page 1] [ChunkType=Body] outro")
	assert.Equal(t, 1, items[1].ImageSeq, "accepted item should carry its seq")
}

func TestSelectImageJobsRejectsExtremeAspect(t *testing.T) {
	dir := t.TempDir()
	name := writeNoisePNG(t, dir, "thin.png", 200, 200, 2)

	it := imageItem(name, 0)
	it.BBox = []float64{0, 0, 550, 20} // 27:1 banner
	items := []chunk.ParsedItem{it}

	assert.Empty(t, SelectImageJobs(items, dir, 2))
	assert.Zero(t, items[0].ImageSeq)
}

func TestSelectImageJobsRejectsTinyUncaptioned(t *testing.T) {
	dir := t.TempDir()
	name := writeNoisePNG(t, dir, "tiny.png", 40, 40, 3)

	it := imageItem(name, 0)
	it.BBox = []float64{0, 0, 300, 300}
	items := []chunk.ParsedItem{it}

	assert.Empty(t, SelectImageJobs(items, dir, 2))
}

func TestSelectImageJobsRejectsDuplicates(t *testing.T) {
	dir := t.TempDir()
	name := writeNoisePNG(t, dir, "a.png", 200, 200, 4)
	data, err := os.ReadFile(filepath.Join(dir, name))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.png"), data, 0o644))

	items := []chunk.ParsedItem{imageItem(name, 0), imageItem("b.png", 1)}
	jobs := SelectImageJobs(items, dir, 2)
	require.Len(t, jobs, 1)
	assert.Equal(t, "a.png", filepath.Base(jobs[0].ImagePath))
}

func TestSelectImageJobsPerPageLimit(t *testing.T) {
	dir := t.TempDir()
	var items []chunk.ParsedItem
	for i := 0; i < 7; i++ {
		name := writeNoisePNG(t, dir, filepath.Join("imgs", string(rune('a'+i))+".png"), 200, 200, int64(10+i))
		items = append(items, imageItem(name, 0))
	}
	jobs := SelectImageJobs(items, dir, 2)
	assert.Len(t, jobs, 5)
	for i, j := range jobs {
		assert.Equal(t, i+1, j.Seq)
	}
}

func TestSelectImageJobsSkipsMissingFiles(t *testing.T) {
	items := []chunk.ParsedItem{imageItem("does/not/exist.png", 0)}
	assert.Empty(t, SelectImageJobs(items, t.TempDir(), 2))
}
