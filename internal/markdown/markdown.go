package markdown

import (
	"regexp"
	"strings"

	"github.com/local/minerudispatch/internal/chunk"
)

var headingRe = regexp.MustCompile(`^\s*#{1,6}\s+(.*)$`)

// ParseChunks converts a markdown document into canonical chunks.
// Headings become title chunks when chunkType is true; other paragraphs
// and list blocks are grouped by blank lines. Markdown inputs have no
// pagination, so every chunk lands on page 1.
func ParseChunks(content string, chunkType bool) []chunk.Chunk {
	const pageNumber = 1
	var items []chunk.Chunk
	var buffer []string

	flush := func() {
		if len(buffer) == 0 {
			return
		}
		text := strings.TrimSpace(strings.Join(buffer, "\n"))
		buffer = buffer[:0]
		if text == "" {
			return
		}
		items = append(items, chunk.Chunk{Text: text, PageNumber: pageNumber})
	}

	for _, rawLine := range strings.Split(content, "\n") {
		line := strings.TrimRight(rawLine, " \t\r")
		stripped := strings.TrimLeft(line, " \t")

		if m := headingRe.FindStringSubmatch(stripped); m != nil {
			flush()
			heading := strings.TrimSpace(m[1])
			if heading != "" {
				c := chunk.Chunk{Text: heading, PageNumber: pageNumber}
				if chunkType {
					c.Type = "title"
				}
				items = append(items, c)
			}
			continue
		}

		if stripped == "" {
			flush()
			continue
		}
		buffer = append(buffer, line)
	}
	flush()

	// A document with no headings or blank lines still yields one chunk.
	if len(items) == 0 && strings.TrimSpace(content) != "" {
		items = append(items, chunk.Chunk{Text: strings.TrimSpace(content), PageNumber: pageNumber})
	}
	return items
}
