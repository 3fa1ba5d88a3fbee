package chunk

import (
	"strings"
	"unicode/utf8"
)

// Kind values emitted by the parser.
const (
	KindText       = "text"
	KindEquation   = "equation"
	KindList       = "list"
	KindImage      = "image"
	KindTable      = "table"
	KindHeader     = "header"
	KindFooter     = "footer"
	KindPageNumber = "page_number"
)

// ParsedItem is one raw content item produced by the document parser.
// PageIdx is 0-based; TextLevel marks headings when non-nil.
type ParsedItem struct {
	Kind          string    `json:"type"`
	Text          string    `json:"text,omitempty"`
	PageIdx       int       `json:"page_idx"`
	TextLevel     *int      `json:"text_level,omitempty"`
	ImgPath       string    `json:"img_path,omitempty"`
	ImgCaption    []string  `json:"img_caption,omitempty"`
	ImgFootnote   []string  `json:"img_footnote,omitempty"`
	TableCaption  []string  `json:"table_caption,omitempty"`
	TableBody     string    `json:"table_body,omitempty"`
	TableFootnote []string  `json:"table_footnote,omitempty"`
	ListItems     []string  `json:"list_items,omitempty"`
	BBox          []float64 `json:"bbox,omitempty"`
	PageSize      []float64 `json:"page_size,omitempty"`

	// ImageSeq is assigned by the two-stage parse step to images selected
	// for vision enrichment; zero means not selected.
	ImageSeq int `json:"image_seq,omitempty"`
}

// PageNumber returns the 1-based page number for this item.
func (it *ParsedItem) PageNumber() int { return it.PageIdx + 1 }

// IsTitle reports whether the item is a heading-level text block.
func (it *ParsedItem) IsTitle() bool { return it.Kind == KindText && it.TextLevel != nil }

// HasImageFile reports whether the item references an on-disk figure.
func (it *ParsedItem) HasImageFile() bool { return strings.TrimSpace(it.ImgPath) != "" }

// HasImageText reports whether the item carries caption or footnote text.
func (it *ParsedItem) HasImageText() bool {
	return len(it.ImgCaption) > 0 || len(it.ImgFootnote) > 0
}

// Chunk is the canonical output unit: sanitized text with a 1-based page
// number and an optional type tag (title, header, footer).
type Chunk struct {
	Text       string `json:"text"`
	PageNumber int    `json:"page_number"`
	Type       string `json:"type,omitempty"`
}

// CleanText strips leading/trailing whitespace, removes surrogate code
// points and drops invalid UTF-8 sequences.
func CleanText(text string) string {
	if text == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(text))
	for i := 0; i < len(text); {
		r, size := utf8.DecodeRuneInString(text[i:])
		if r == utf8.RuneError && size == 1 {
			i++
			continue
		}
		if r >= 0xD800 && r <= 0xDFFF {
			i += size
			continue
		}
		b.WriteRune(r)
		i += size
	}
	return strings.TrimSpace(b.String())
}

// ImageText joins an image item's caption and footnote lines.
func ImageText(it *ParsedItem) string {
	parts := make([]string, 0, len(it.ImgCaption)+len(it.ImgFootnote))
	parts = append(parts, it.ImgCaption...)
	parts = append(parts, it.ImgFootnote...)
	return CleanText(strings.Join(parts, "\n"))
}

// TableText joins table caption, body and footnote, omitting blank parts.
func TableText(it *ParsedItem) string {
	parts := make([]string, 0, 3)
	if caption := strings.Join(it.TableCaption, "\n"); caption != "" {
		parts = append(parts, caption)
	}
	if it.TableBody != "" {
		parts = append(parts, it.TableBody)
	}
	if fn := strings.Join(it.TableFootnote, "\n"); fn != "" {
		parts = append(parts, fn)
	}
	return CleanText(strings.Join(parts, "\n"))
}

// ListText joins non-empty list items with newlines, falling back to the
// item's own text field.
func ListText(it *ParsedItem) string {
	var parts []string
	for _, li := range it.ListItems {
		if s := strings.TrimSpace(li); s != "" {
			parts = append(parts, s)
		}
	}
	if len(parts) == 0 {
		return CleanText(it.Text)
	}
	return CleanText(strings.Join(parts, "\n"))
}

// HasTableText reports whether a table item carries any text payload.
func HasTableText(it *ParsedItem) bool {
	return len(it.TableCaption) > 0 || it.TableBody != "" || len(it.TableFootnote) > 0
}
