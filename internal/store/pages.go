package store

import (
	"bytes"
	"fmt"
	"image/jpeg"
	"os"

	"github.com/gen2brain/go-fitz"
)

const pageJPEGQuality = 90

func openFile(path string) (*os.File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return f, nil
}

// RenderPages renders each PDF page to a JPEG at the given DPI and
// calls fn with the 1-based page number. Rendering stops on the first
// error; all document resources are released on return.
func RenderPages(pdfPath string, dpi int, fn func(pageNumber int, jpegData []byte) error) error {
	doc, err := fitz.New(pdfPath)
	if err != nil {
		return fmt.Errorf("open pdf %s: %w", pdfPath, err)
	}
	defer doc.Close()

	for page := 1; page <= doc.NumPage(); page++ {
		img, err := doc.ImageDPI(page-1, float64(dpi))
		if err != nil {
			return fmt.Errorf("render page %d: %w", page, err)
		}
		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: pageJPEGQuality}); err != nil {
			return fmt.Errorf("encode page %d: %w", page, err)
		}
		if err := fn(page, buf.Bytes()); err != nil {
			return err
		}
	}
	return nil
}
