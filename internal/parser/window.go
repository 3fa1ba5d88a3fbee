package parser

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
)

// PageCount returns the number of pages in a PDF.
func PageCount(path string) (int, error) {
	n, err := api.PageCountFile(path)
	if err != nil {
		return 0, fmt.Errorf("pdf page count failed: %w", err)
	}
	return n, nil
}

// WindowPages trims the document to [startPage, endPage] (1-based,
// endPage 0 means last page) and writes the result into outputDir.
// Returns the trimmed file path.
func WindowPages(path string, startPage, endPage int, outputDir string) (string, error) {
	total, err := PageCount(path)
	if err != nil {
		return "", err
	}
	if startPage < 1 {
		startPage = 1
	}
	if endPage <= 0 || endPage > total {
		endPage = total
	}
	if startPage > endPage {
		return "", fmt.Errorf("invalid page window %d-%d for %d-page document", startPage, endPage, total)
	}
	if startPage == 1 && endPage == total {
		return path, nil
	}

	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	out := filepath.Join(outputDir, fmt.Sprintf("%s_p%d-%d.pdf", base, startPage, endPage))
	selection := []string{fmt.Sprintf("%d-%d", startPage, endPage)}
	if err := api.TrimFile(path, out, selection, nil); err != nil {
		return "", fmt.Errorf("trim pages %d-%d: %w", startPage, endPage, err)
	}
	return out, nil
}
