package parser

import (
	"fmt"
	"os"

	"github.com/local/minerudispatch/internal/chunk"
)

// Options parameterizes a single parse call.
type Options struct {
	Backend   string `json:"backend,omitempty"`
	Lang      string `json:"lang,omitempty"`
	Method    string `json:"method,omitempty"`
	ServerURL string `json:"server_url,omitempty"`
	StartPage int    `json:"start_page,omitempty"`
	EndPage   int    `json:"end_page,omitempty"` // 0 means parse to the end

	// VLM server auth, never serialized with the options themselves
	APIKey     string `json:"-"`
	AuthHeader string `json:"-"`
}

// Result is the parser output: ordered content items, the directory the
// parser wrote artifacts (page images) into, and an optional markdown
// rendition when the engine produced one.
type Result struct {
	Items     []chunk.ParsedItem `json:"content_list"`
	OutputDir string             `json:"output_dir"`
	Markdown  string             `json:"markdown,omitempty"`
}

// Request is the JSON document sent to the watchdog child on stdin.
type Request struct {
	Path      string            `json:"path"`
	OutputDir string            `json:"output_dir"`
	Backend   string            `json:"backend,omitempty"`
	Lang      string            `json:"lang,omitempty"`
	Method    string            `json:"method,omitempty"`
	ServerURL string            `json:"server_url,omitempty"`
	Headers   map[string]string `json:"headers,omitempty"`
	StartPage int               `json:"start_page,omitempty"`
	EndPage   int               `json:"end_page,omitempty"`
}

// Response is the JSON document the watchdog child writes to stdout.
type Response struct {
	OK        bool               `json:"ok"`
	Error     string             `json:"error,omitempty"`
	Items     []chunk.ParsedItem `json:"content_list,omitempty"`
	OutputDir string             `json:"output_dir,omitempty"`
	Markdown  string             `json:"markdown,omitempty"`
}

// BuildRequest validates options and assembles the child request: backend
// normalization with hybrid fallback, server round-robin and optional page
// windowing into the output directory.
func BuildRequest(path, outputDir string, opts Options) (Request, error) {
	normalized, err := NormalizeBackend(opts.Backend)
	if err != nil {
		return Request{}, err
	}
	backend := ResolveBackend(normalized)

	req := Request{
		Path:      path,
		OutputDir: outputDir,
		Backend:   backend,
		Lang:      opts.Lang,
		Method:    opts.Method,
	}
	if backend != "" && backend != "pipeline" {
		urls := ResolveServerURLs(opts.ServerURL)
		req.ServerURL = NextServerURL(urls)
		if h := AuthHeaders(opts.APIKey, opts.AuthHeader); len(h) > 0 {
			req.Headers = make(map[string]string, len(h))
			for name := range h {
				req.Headers[name] = h.Get(name)
			}
		}
	}

	if opts.StartPage > 0 || opts.EndPage > 0 {
		windowed, err := WindowPages(path, opts.StartPage, opts.EndPage, outputDir)
		if err != nil {
			return Request{}, WrapError(path, err)
		}
		req.Path = windowed
	}
	return req, nil
}

// CheckResult enforces the non-empty contract and wraps errors with the
// file size so callers can tell configuration from content problems.
func CheckResult(path string, res Response) (Result, error) {
	if !res.OK {
		msg := res.Error
		if msg == "" {
			msg = "unknown parse error"
		}
		return Result{}, WrapError(path, fmt.Errorf("%s", msg))
	}
	if len(res.Items) == 0 {
		return Result{}, WrapError(path, fmt.Errorf("parser returned no content"))
	}
	return Result{Items: res.Items, OutputDir: res.OutputDir, Markdown: res.Markdown}, nil
}

// WrapError annotates a parse failure with the source file and its size.
func WrapError(path string, err error) error {
	size := "unknown"
	if st, statErr := os.Stat(path); statErr == nil {
		size = fmt.Sprintf("%d bytes", st.Size())
	}
	return fmt.Errorf("parse failed for %s (size=%s): %w", path, size, err)
}
