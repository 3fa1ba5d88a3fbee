package converter

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// ConvertibleOfficeExtensions are the Office-style formats LibreOffice
// can convert to PDF.
var ConvertibleOfficeExtensions = map[string]bool{
	".doc": true, ".docx": true, ".docm": true, ".dot": true, ".dotx": true,
	".ppt": true, ".pptx": true, ".pptm": true, ".pps": true, ".ppsx": true,
	".pot": true, ".potx": true, ".odp": true, ".odt": true,
	".xls": true, ".xlsx": true, ".xlsm": true, ".xlt": true, ".xltx": true,
}

// MarkdownExtensions are handled without any parse engine.
var MarkdownExtensions = map[string]bool{
	".md":       true,
	".markdown": true,
}

var libreOfficeBinaries = []string{"libreoffice", "soffice"}

// NormalizeExtension lowercases and dot-prefixes an extension.
func NormalizeExtension(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext == "" {
		return ""
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}

// IsOffice reports whether the extension needs Office-to-PDF conversion.
func IsOffice(ext string) bool { return ConvertibleOfficeExtensions[NormalizeExtension(ext)] }

// IsMarkdown reports whether the extension is a markdown document.
func IsMarkdown(ext string) bool { return MarkdownExtensions[NormalizeExtension(ext)] }

// FormatExtensionList renders a sorted, comma-separated extension list
// for error messages.
func FormatExtensionList(exts map[string]bool) string {
	out := make([]string, 0, len(exts))
	for ext := range exts {
		out = append(out, ext)
	}
	sort.Strings(out)
	return strings.Join(out, ", ")
}

// LibreOfficeBinary reports the resolved conversion binary, for health
// checks.
func LibreOfficeBinary() (string, error) { return findLibreOffice() }

func findLibreOffice() (string, error) {
	for _, candidate := range libreOfficeBinaries {
		if path, err := exec.LookPath(candidate); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("LibreOffice executable not found in PATH, install LibreOffice or expose 'soffice' to enable Office-to-PDF conversion")
}

func convertTimeout() time.Duration {
	if raw := os.Getenv("MINERU_OFFICE_CONVERT_TIMEOUT_SECONDS"); raw != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(raw)); err == nil && n > 0 {
			return time.Duration(n) * time.Second
		}
	}
	return 180 * time.Second
}

// OfficeToPDF converts an Office document to PDF via headless
// LibreOffice. Returns the converted file path and the paths the caller
// must clean up when done with it.
func OfficeToPDF(inputPath string) (string, []string, error) {
	bin, err := findLibreOffice()
	if err != nil {
		return "", nil, err
	}
	if _, err := os.Stat(inputPath); err != nil {
		return "", nil, fmt.Errorf("source file for conversion not found: %s", inputPath)
	}

	outDir, err := os.MkdirTemp("", "mineru-office-*-pdf")
	if err != nil {
		return "", nil, fmt.Errorf("create conversion dir: %w", err)
	}
	defer os.RemoveAll(outDir)
	// Each conversion gets its own profile so parallel runs don't fight
	// over the LibreOffice lock.
	profileDir, err := os.MkdirTemp("", "mineru-lo-profile-")
	if err != nil {
		return "", nil, fmt.Errorf("create profile dir: %w", err)
	}
	defer os.RemoveAll(profileDir)

	timeout := convertTimeout()
	cmd := exec.Command(bin,
		"--headless",
		"--nologo",
		"--nofirststartwizard",
		"--norestore",
		"--nolockcheck",
		"-env:UserInstallation=file://"+profileDir,
		"--convert-to", "pdf",
		"--outdir", outDir,
		inputPath,
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return "", nil, fmt.Errorf("start LibreOffice: %w", err)
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case <-time.After(timeout):
		if killErr := syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL); killErr != nil {
			log.Warn().Err(killErr).Msg("failed to kill timed-out LibreOffice group")
		}
		<-done
		return "", nil, fmt.Errorf("LibreOffice conversion timed out after %ds. Stdout: %s Stderr: %s",
			int(timeout.Seconds()), strings.TrimSpace(stdout.String()), strings.TrimSpace(stderr.String()))
	case waitErr := <-done:
		if waitErr != nil {
			return "", nil, fmt.Errorf("LibreOffice failed to convert Office document to PDF: %w. Stdout: %s Stderr: %s",
				waitErr, strings.TrimSpace(stdout.String()), strings.TrimSpace(stderr.String()))
		}
	}

	base := filepath.Base(inputPath)
	converted := filepath.Join(outDir, strings.TrimSuffix(base, filepath.Ext(base))+".pdf")
	if _, err := os.Stat(converted); err != nil {
		return "", nil, fmt.Errorf("LibreOffice conversion did not produce the expected PDF output file")
	}

	// Move out of the temp dir removed on return.
	finalPath := filepath.Join(os.TempDir(), fmt.Sprintf("mineru-office-%s.pdf", uuid.NewString()))
	if err := os.Rename(converted, finalPath); err != nil {
		data, readErr := os.ReadFile(converted)
		if readErr != nil {
			return "", nil, fmt.Errorf("move converted PDF: %w", err)
		}
		if writeErr := os.WriteFile(finalPath, data, 0o644); writeErr != nil {
			return "", nil, fmt.Errorf("move converted PDF: %w", writeErr)
		}
	}

	log.Info().Str("input", inputPath).Str("output", finalPath).Msg("converted office document to pdf")
	return finalPath, []string{finalPath}, nil
}

// MaybeConvertToPDF converts Office documents and passes everything
// else through untouched.
func MaybeConvertToPDF(inputPath, extension string) (string, []string, error) {
	if !IsOffice(extension) {
		return inputPath, nil, nil
	}
	return OfficeToPDF(inputPath)
}
