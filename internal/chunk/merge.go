package chunk

import "strings"

// NormalizeWithVision merges vision descriptions into normalization.
// Image items carrying an ImageSeq use the vision text for that seq:
// base caption text and vision text joined as "base\nImage Description:
// vision" when both exist, else whichever is non-empty. Every other item
// follows the plain Normalize rules.
func NormalizeWithVision(items []ParsedItem, vision map[int]string, opts Options) []Chunk {
	chunks := make([]Chunk, 0, len(items))
	for i := range items {
		it := &items[i]
		if it.Kind == KindImage && it.ImageSeq > 0 {
			if c, ok := mergeImageItem(it, vision[it.ImageSeq]); ok {
				chunks = append(chunks, c)
			}
			continue
		}
		if c, ok := normalizeItem(it, opts); ok {
			chunks = append(chunks, c)
		}
	}
	if opts.ChunkType {
		SortHeadersFirst(chunks)
	}
	return chunks
}

func mergeImageItem(it *ParsedItem, visionText string) (Chunk, bool) {
	base := ImageText(it)
	visionText = strings.TrimSpace(visionText)

	var text string
	switch {
	case base != "" && visionText != "":
		text = base + "\nImage Description: " + visionText
	case visionText != "":
		text = visionText
	default:
		text = base
	}
	if strings.TrimSpace(text) == "" {
		return Chunk{}, false
	}
	return Chunk{Text: text, PageNumber: it.PageNumber()}, true
}
