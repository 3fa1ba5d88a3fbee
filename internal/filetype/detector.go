package filetype

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog/log"

	"github.com/local/minerudispatch/internal/converter"
)

// Class is the processing route for an accepted file.
type Class int

const (
	ClassUnsupported Class = iota
	// ClassParser goes straight to the parse engine (PDF, images).
	ClassParser
	// ClassOffice needs LibreOffice conversion first.
	ClassOffice
	// ClassMarkdown is chunked directly, no parse engine.
	ClassMarkdown
)

// ParserExtensions are accepted by the parse engine without conversion.
var ParserExtensions = map[string]bool{
	".pdf":  true,
	".png":  true,
	".jpeg": true,
	".jpg":  true,
}

// Info is the detection result for one input file.
type Info struct {
	Extension string
	MIMEType  string
	Class     Class
}

// Classify routes an extension to its processing class.
func Classify(ext string) Class {
	ext = converter.NormalizeExtension(ext)
	switch {
	case ParserExtensions[ext]:
		return ClassParser
	case converter.IsOffice(ext):
		return ClassOffice
	case converter.IsMarkdown(ext):
		return ClassMarkdown
	default:
		return ClassUnsupported
	}
}

// AcceptedExtensions lists every extension any route accepts, sorted.
func AcceptedExtensions() []string {
	out := make([]string, 0, len(ParserExtensions)+len(converter.ConvertibleOfficeExtensions)+len(converter.MarkdownExtensions))
	for ext := range ParserExtensions {
		out = append(out, ext)
	}
	for ext := range converter.ConvertibleOfficeExtensions {
		out = append(out, ext)
	}
	for ext := range converter.MarkdownExtensions {
		out = append(out, ext)
	}
	sort.Strings(out)
	return out
}

// CheckExtension validates a filename against the accepted set.
func CheckExtension(filename string) (string, error) {
	ext := converter.NormalizeExtension(filepath.Ext(filename))
	if Classify(ext) == ClassUnsupported {
		return "", fmt.Errorf("unsupported file extension %q, accepted: %s", ext, strings.Join(AcceptedExtensions(), ", "))
	}
	return ext, nil
}

// Detect sniffs the file with magic bytes and routes it. ZIP and OLE
// containers are disambiguated by extension: modern and legacy Office
// formats look identical at the magic-byte level.
func Detect(filePath string) (*Info, error) {
	mtype, err := mimetype.DetectFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("detect file type: %w", err)
	}
	mimeType := mtype.String()
	ext := converter.NormalizeExtension(filepath.Ext(filePath))

	isContainer := mimeType == "application/zip" || strings.Contains(mimeType, "application/x-zip") ||
		mimeType == "application/x-ole-storage" || mimeType == "application/x-cfb"
	if isContainer && !converter.IsOffice(ext) {
		log.Warn().Str("mime", mimeType).Str("ext", ext).Str("file", filePath).Msg("container file with unrecognized extension")
	}

	info := &Info{Extension: ext, MIMEType: mimeType, Class: Classify(ext)}
	log.Debug().Str("mime", mimeType).Str("ext", ext).Str("file", filePath).Msg("detected file type")
	return info, nil
}
