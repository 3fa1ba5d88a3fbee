package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/local/minerudispatch/internal/chunk"
	"github.com/local/minerudispatch/internal/config"
	"github.com/local/minerudispatch/internal/converter"
	"github.com/local/minerudispatch/internal/filetype"
	"github.com/local/minerudispatch/internal/gpusched"
	"github.com/local/minerudispatch/internal/markdown"
	"github.com/local/minerudispatch/internal/parser"
	"github.com/local/minerudispatch/internal/store"
	"github.com/local/minerudispatch/internal/vision"
)

// ErrValidation marks caller mistakes that map to 400-class responses.
var ErrValidation = errors.New("validation failed")

// Parser is the slice of the GPU scheduler the runner needs.
type Parser interface {
	Parse(ctx context.Context, t gpusched.Task) (parser.Result, error)
}

// MinioOptions are the caller-provided object-store credentials.
type MinioOptions struct {
	Address   string `json:"address"`
	AccessKey string `json:"access_key"`
	SecretKey string `json:"secret_key"`
	Bucket    string `json:"bucket"`
	Prefix    string `json:"prefix,omitempty"`
	Meta      string `json:"meta,omitempty"`
}

// Payload is the single-stage task input.
type Payload struct {
	SourcePath    string        `json:"source_path"`
	Filename      string        `json:"filename"`
	Pipeline      string        `json:"pipeline,omitempty"`
	Backend       string        `json:"backend,omitempty"`
	Lang          string        `json:"lang,omitempty"`
	Method        string        `json:"method,omitempty"`
	StartPage     int           `json:"start_page,omitempty"`
	EndPage       int           `json:"end_page,omitempty"`
	ChunkType     bool          `json:"chunk_type"`
	ReturnTxt     bool          `json:"return_txt"`
	WithImages    bool          `json:"with_images,omitempty"`
	Provider      string        `json:"provider,omitempty"`
	Model         string        `json:"model,omitempty"`
	Prompt        string        `json:"prompt,omitempty"`
	SaveToMinio   bool          `json:"save_to_minio"`
	Minio         *MinioOptions `json:"minio,omitempty"`
	CleanupSource bool          `json:"cleanup_source,omitempty"`
	ExtraCleanup  []string      `json:"extra_cleanup,omitempty"`
}

// ResultPayload is the canonical task result.
type ResultPayload struct {
	Result      []chunk.Chunk      `json:"result"`
	Txt         *string            `json:"txt"`
	MinioAssets *store.AssetRecord `json:"minio_assets"`
}

// Runner executes single-stage parse tasks.
type Runner struct {
	parser         Parser
	vision         *vision.Service
	storeDefaults  config.StoreConfig
	parserDefaults config.ParserConfig
	workspaceRoot  string
}

// New builds a runner. vision may be nil when no provider is wired.
func New(p Parser, visionSvc *vision.Service, storeDefaults config.StoreConfig, workspaceRoot string) *Runner {
	return &Runner{parser: p, vision: visionSvc, storeDefaults: storeDefaults, workspaceRoot: workspaceRoot}
}

// UseParserDefaults installs backend/lang/method defaults and VLM auth
// applied when the payload leaves them unset.
func (r *Runner) UseParserDefaults(d config.ParserConfig) { r.parserDefaults = d }

// ResolveParserOptions fills unset payload options from the configured
// defaults and always attaches the VLM credentials.
func ResolveParserOptions(p Payload, d config.ParserConfig) parser.Options {
	opts := parser.Options{
		Backend:    p.Backend,
		Lang:       p.Lang,
		Method:     p.Method,
		StartPage:  p.StartPage,
		EndPage:    p.EndPage,
		APIKey:     d.APIKey,
		AuthHeader: d.AuthHeader,
	}
	if opts.Backend == "" {
		opts.Backend = d.DefaultBackend
	}
	if opts.Lang == "" {
		opts.Lang = d.DefaultLang
	}
	if opts.Method == "" {
		opts.Method = d.DefaultMethod
	}
	return opts
}

// Run executes one task end to end. Temp files are deleted on all exit
// paths; missing files never fail cleanup.
func (r *Runner) Run(ctx context.Context, p Payload) (*ResultPayload, error) {
	cleanup := newCleanupSet(p.ExtraCleanup...)
	defer cleanup.Run()
	if p.CleanupSource {
		cleanup.Add(p.SourcePath)
	}

	name := p.Filename
	if name == "" {
		name = filepath.Base(p.SourcePath)
	}
	ext, err := filetype.CheckExtension(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrValidation, err)
	}

	if converter.IsMarkdown(ext) {
		if p.SaveToMinio {
			return nil, fmt.Errorf("%w: markdown uploads cannot be persisted to the object store", ErrValidation)
		}
		return r.runMarkdown(p)
	}

	path := p.SourcePath
	if converter.IsOffice(ext) {
		converted, extra, err := converter.OfficeToPDF(path)
		if err != nil {
			return nil, err
		}
		cleanup.Add(extra...)
		path = converted
	}

	var storeClient *store.Client
	var prefix string
	var bucket string
	if p.SaveToMinio {
		if !strings.EqualFold(filepath.Ext(path), ".pdf") {
			return nil, fmt.Errorf("%w: only PDF content can be persisted to the object store, got %s", ErrValidation, filepath.Ext(path))
		}
		storeClient, bucket, err = r.storeFor(ctx, p.Minio)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrValidation, err)
		}
		if err := storeClient.EnsureBucket(ctx, bucket); err != nil {
			return nil, err
		}
		explicitPrefix := ""
		if p.Minio != nil {
			explicitPrefix = p.Minio.Prefix
		}
		prefix = storeClient.ResolvePrefix(explicitPrefix, name)
	}

	workspace, err := os.MkdirTemp(r.workspaceRoot, "task-*")
	if err != nil {
		return nil, fmt.Errorf("create task workspace: %w", err)
	}
	cleanup.AddDir(workspace)

	res, err := r.parser.Parse(ctx, gpusched.Task{
		Path:      path,
		Pipeline:  r.pipeline(p),
		OutputDir: workspace,
		Options:   ResolveParserOptions(p, r.parserDefaults),
	})
	if err != nil {
		return nil, err
	}
	if res.OutputDir == "" {
		res.OutputDir = workspace
	}

	opts := chunk.Options{ChunkType: p.ChunkType}
	var chunks []chunk.Chunk
	if r.wantsVision(p) {
		chunks = r.enrichWithVision(ctx, &res, p, opts)
	} else {
		chunks = chunk.Normalize(res.Items, opts)
	}

	out := &ResultPayload{Result: chunks}
	if p.ReturnTxt {
		txt := chunk.BuildPlainText(chunks)
		out.Txt = &txt
	}

	if storeClient != nil {
		rec, err := storeClient.UploadBundle(ctx, bucket, prefix, path, chunks, r.storeDefaults.PageDPI)
		if err != nil {
			return nil, err
		}
		if p.Minio != nil && strings.TrimSpace(p.Minio.Meta) != "" {
			metaObject, err := storeClient.UploadText(ctx, bucket, prefix, "meta.txt", p.Minio.Meta)
			if err != nil {
				return nil, err
			}
			rec.MetaObject = &metaObject
		}
		out.MinioAssets = rec
	}
	return out, nil
}

func (r *Runner) runMarkdown(p Payload) (*ResultPayload, error) {
	content, err := os.ReadFile(p.SourcePath)
	if err != nil {
		return nil, fmt.Errorf("read markdown source: %w", err)
	}
	chunks := markdown.ParseChunks(string(content), p.ChunkType)
	out := &ResultPayload{Result: chunks}
	if p.ReturnTxt {
		txt := chunk.BuildPlainText(chunks)
		out.Txt = &txt
	}
	return out, nil
}

func (r *Runner) pipeline(p Payload) string {
	if p.Pipeline != "" {
		return p.Pipeline
	}
	if r.wantsVision(p) {
		return "images"
	}
	return "default"
}

func (r *Runner) wantsVision(p Payload) bool {
	return r.vision != nil && (p.WithImages || p.Provider != "" || p.Model != "" || p.Prompt != "")
}

// enrichWithVision runs the image-aware path inline: select image jobs,
// describe each one, merge. A vision failure degrades to the caption
// text rather than failing the document.
func (r *Runner) enrichWithVision(ctx context.Context, res *parser.Result, p Payload, opts chunk.Options) []chunk.Chunk {
	imageRoot := res.OutputDir
	jobs := vision.SelectImageJobs(res.Items, imageRoot, r.vision.ContextWindow)
	if len(jobs) == 0 {
		return chunk.Normalize(res.Items, opts)
	}

	descriptions := make(map[int]string, len(jobs))
	for _, job := range jobs {
		text, err := r.vision.Complete(ctx, vision.Request{
			ImagePath: job.ImagePath,
			Context:   job.ContextPayload,
			Provider:  p.Provider,
			Model:     p.Model,
			Prompt:    p.Prompt,
		})
		if err != nil {
			log.Warn().Err(err).Int("seq", job.Seq).Str("image", job.ImagePath).Msg("vision enrichment failed, keeping base text")
			continue
		}
		descriptions[job.Seq] = text
	}
	return chunk.NormalizeWithVision(res.Items, descriptions, opts)
}

func (r *Runner) storeFor(ctx context.Context, opts *MinioOptions) (*store.Client, string, error) {
	cfg := r.storeDefaults
	bucket := cfg.Bucket
	if opts != nil {
		if opts.Address != "" {
			cfg.Endpoint = opts.Address
		}
		if opts.AccessKey != "" {
			cfg.AccessKey = opts.AccessKey
		}
		if opts.SecretKey != "" {
			cfg.SecretKey = opts.SecretKey
		}
		if opts.Bucket != "" {
			bucket = opts.Bucket
		}
	}
	if bucket == "" {
		return nil, "", fmt.Errorf("object-store bucket is required")
	}
	client, err := store.New(ctx, cfg)
	if err != nil {
		return nil, "", err
	}
	return client, bucket, nil
}
