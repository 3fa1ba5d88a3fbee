package vision

import (
	"fmt"
	"strings"

	"github.com/local/minerudispatch/internal/chunk"
)

// ContextBlock is one textual neighbor usable as vision context: text,
// equations, tables with text and captioned images.
type ContextBlock struct {
	Kind    string
	Text    string
	PageIdx int
	// Index back into the source item slice, -1 for synthetic blocks.
	ItemIdx int
}

// BuildContextBlocks extracts the context-worthy blocks from parsed
// content, preserving document order. Each block's text is rendered as
// a positioned line: "[Page P] [ChunkType=Title|Body] text".
func BuildContextBlocks(items []chunk.ParsedItem) []ContextBlock {
	blocks := make([]ContextBlock, 0, len(items))
	for i := range items {
		it := &items[i]
		var kind, text string
		switch it.Kind {
		case chunk.KindText, chunk.KindEquation:
			if strings.TrimSpace(it.Text) != "" {
				kind, text = it.Kind, chunk.CleanText(it.Text)
			}
		case chunk.KindTable:
			if t := chunk.TableText(it); strings.TrimSpace(t) != "" {
				kind, text = "table", t
			}
		case chunk.KindImage:
			if t := chunk.ImageText(it); strings.TrimSpace(t) != "" {
				kind, text = "image_caption", t
			}
		}
		if kind != "" {
			chunkType := "Body"
			if it.IsTitle() {
				chunkType = "Title"
			}
			line := fmt.Sprintf("[Page %d] [ChunkType=%s] %s", it.PageNumber(), chunkType, text)
			blocks = append(blocks, ContextBlock{Kind: kind, Text: line, PageIdx: it.PageIdx, ItemIdx: i})
		}
	}
	return blocks
}

// PrevContext joins up to n non-empty blocks before curIdx, in document
// order.
func PrevContext(blocks []ContextBlock, curIdx, n int) string {
	if curIdx < 0 || len(blocks) == 0 {
		return ""
	}
	var res []string
	for j := curIdx - 1; j >= 0 && len(res) < n; j-- {
		if j < len(blocks) {
			if t := strings.TrimSpace(blocks[j].Text); t != "" {
				res = append([]string{t}, res...)
			}
		}
	}
	return strings.Join(res, "\n")
}

// NextContext joins up to n non-empty blocks after curIdx.
func NextContext(blocks []ContextBlock, curIdx, n int) string {
	if len(blocks) == 0 {
		return ""
	}
	var res []string
	for j := curIdx + 1; j < len(blocks) && len(res) < n; j++ {
		if j >= 0 {
			if t := strings.TrimSpace(blocks[j].Text); t != "" {
				res = append(res, t)
			}
		}
	}
	return strings.Join(res, "\n")
}

// ResolveWindows finds the before/after context for the item at itemIdx.
// When the item itself produced no block (path-only image), fall back to
// positioning by page: the last block on or before the item's page.
func ResolveWindows(blocks []ContextBlock, itemIdx, pageIdx, n int) (before, after string) {
	if len(blocks) == 0 {
		return "", ""
	}

	curIdx := -1
	for i, b := range blocks {
		if b.ItemIdx == itemIdx {
			curIdx = i
			break
		}
	}
	if curIdx >= 0 {
		return PrevContext(blocks, curIdx, n), NextContext(blocks, curIdx, n)
	}

	refIdx := -1
	for i, b := range blocks {
		if b.PageIdx <= pageIdx {
			refIdx = i
		} else {
			break
		}
	}
	if refIdx >= 0 {
		return PrevContext(blocks, refIdx+1, n), NextContext(blocks, refIdx, n)
	}
	return "", NextContext(blocks, -1, n)
}

// BuildImageContext assembles the context payload sent with an image
// job: caption, footnote and the surrounding text windows, each on its
// own labeled line.
func BuildImageContext(item chunk.ParsedItem, before, after string) string {
	var parts []string
	if captions := strings.TrimSpace(strings.Join(item.ImgCaption, "\n")); captions != "" {
		parts = append(parts, "Image caption: "+captions)
	}
	if footnotes := strings.TrimSpace(strings.Join(item.ImgFootnote, "\n")); footnotes != "" {
		parts = append(parts, "Image footnote: "+footnotes)
	}
	if strings.TrimSpace(before) != "" {
		parts = append(parts, "Context before: "+before)
	}
	if strings.TrimSpace(after) != "" {
		parts = append(parts, "Context after: "+after)
	}
	return strings.Join(parts, "\n")
}
