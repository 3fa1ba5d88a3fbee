package chunk

import (
	"sort"
	"strings"
)

// Options controls normalization behavior.
type Options struct {
	// ChunkType keeps header/footer items, tags titles and applies the
	// header-first reorder. When false, header/footer/page_number items
	// are dropped and chunks are untyped.
	ChunkType bool
}

// Normalize converts raw parser items into canonical chunks.
//
// Per-kind mapping: text/equation use the cleaned text, lists join their
// items, tables join caption/body/footnote, images join caption/footnote.
// Images that only carry a file path (no text metadata) produce nothing
// here; the two-stage pipeline handles those via vision enrichment.
func Normalize(items []ParsedItem, opts Options) []Chunk {
	chunks := make([]Chunk, 0, len(items))
	for i := range items {
		it := &items[i]
		if c, ok := normalizeItem(it, opts); ok {
			chunks = append(chunks, c)
		}
	}
	if opts.ChunkType {
		SortHeadersFirst(chunks)
	}
	return chunks
}

func normalizeItem(it *ParsedItem, opts Options) (Chunk, bool) {
	var text string
	var chunkType string

	switch it.Kind {
	case KindText, KindEquation:
		text = CleanText(it.Text)
	case KindList:
		text = ListText(it)
	case KindTable:
		if !HasTableText(it) {
			return Chunk{}, false
		}
		text = TableText(it)
	case KindImage:
		if !it.HasImageText() {
			return Chunk{}, false
		}
		text = ImageText(it)
	case KindHeader, KindFooter:
		if !opts.ChunkType {
			return Chunk{}, false
		}
		text = CleanText(it.Text)
		chunkType = it.Kind
	case KindPageNumber:
		return Chunk{}, false
	default:
		return Chunk{}, false
	}

	if strings.TrimSpace(text) == "" {
		return Chunk{}, false
	}
	if opts.ChunkType && chunkType == "" && it.IsTitle() {
		chunkType = "title"
	}
	return Chunk{Text: text, PageNumber: it.PageNumber(), Type: chunkType}, true
}

// SortHeadersFirst stable-sorts chunks so header-typed chunks float to the
// top while every other chunk keeps its document order.
func SortHeadersFirst(chunks []Chunk) {
	sort.SliceStable(chunks, func(i, j int) bool {
		return sortKey(chunks[i]) < sortKey(chunks[j])
	})
}

func sortKey(c Chunk) int {
	if c.Type == "header" {
		return 0
	}
	return 1
}

// BuildPlainText composes a plain-text export: titles get a double newline
// suffix, other chunks a single newline, trailing newlines trimmed.
func BuildPlainText(chunks []Chunk) string {
	var b strings.Builder
	for _, c := range chunks {
		text := strings.TrimSpace(c.Text)
		if text == "" {
			continue
		}
		b.WriteString(text)
		if c.Type == "title" {
			b.WriteString("\n\n")
		} else {
			b.WriteString("\n")
		}
	}
	return strings.TrimRight(b.String(), "\n")
}
