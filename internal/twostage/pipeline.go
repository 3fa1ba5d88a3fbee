package twostage

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/local/minerudispatch/internal/chunk"
	"github.com/local/minerudispatch/internal/config"
	"github.com/local/minerudispatch/internal/converter"
	"github.com/local/minerudispatch/internal/filetype"
	"github.com/local/minerudispatch/internal/gpusched"
	"github.com/local/minerudispatch/internal/parser"
	"github.com/local/minerudispatch/internal/queue"
	"github.com/local/minerudispatch/internal/runner"
	"github.com/local/minerudispatch/internal/store"
	"github.com/local/minerudispatch/internal/vision"
)

// Pipeline implements the parse / dispatch / vision / merge stages.
// One task ID follows the document through every stage; merge writes
// the terminal result.
type Pipeline struct {
	broker         *queue.Broker
	parser         runner.Parser
	vision         *vision.Service
	queueCfg       config.QueueConfig
	storeDefaults  config.StoreConfig
	parserDefaults config.ParserConfig
	workspaceRoot  string
}

// New wires the pipeline.
func New(b *queue.Broker, p runner.Parser, v *vision.Service, queueCfg config.QueueConfig, storeDefaults config.StoreConfig, workspaceRoot string) *Pipeline {
	return &Pipeline{
		broker:        b,
		parser:        p,
		vision:        v,
		queueCfg:      queueCfg,
		storeDefaults: storeDefaults,
		workspaceRoot: workspaceRoot,
	}
}

// UseParserDefaults installs backend/lang/method defaults and VLM auth
// for the parse stage.
func (p *Pipeline) UseParserDefaults(d config.ParserConfig) { p.parserDefaults = d }

// Register binds the parse, dispatch and merge handlers to a worker.
func (p *Pipeline) Register(w *queue.Worker) {
	w.Register(KindParse, p.handleParse)
	w.Register(KindDispatch, p.handleDispatch)
	w.Register(KindMerge, p.handleMerge)
}

// RegisterVision binds the vision handler; it usually lives on a
// separate pool with its own concurrency.
func (p *Pipeline) RegisterVision(w *queue.Worker) {
	w.Register(KindVision, p.handleVision)
}

// Submit validates and enqueues a two-stage task.
func (p *Pipeline) Submit(ctx context.Context, task TaskPayload) (string, error) {
	name := task.Filename
	if name == "" {
		name = filepath.Base(task.SourcePath)
	}
	if _, err := filetype.CheckExtension(name); err != nil {
		return "", fmt.Errorf("%w: %s", runner.ErrValidation, err)
	}
	queues := ResolveQueues(p.queueCfg, task.Priority)
	return p.broker.Submit(ctx, queues.Parse, KindParse, task)
}

func (p *Pipeline) queues(priority string) Queues { return ResolveQueues(p.queueCfg, priority) }

// handleParse runs stage 1: workspace setup, GPU parse, image-job
// selection, then hands off to dispatch.
func (p *Pipeline) handleParse(ctx context.Context, taskID string, payload json.RawMessage) (any, error) {
	var task TaskPayload
	if err := json.Unmarshal(payload, &task); err != nil {
		return nil, fmt.Errorf("decode parse payload: %w", err)
	}

	workspace := task.Workspace
	if workspace == "" {
		var err error
		workspace, err = os.MkdirTemp(p.workspaceRoot, "twostage-*")
		if err != nil {
			return nil, fmt.Errorf("create workspace: %w", err)
		}
	} else if err := os.MkdirAll(workspace, 0o755); err != nil {
		return nil, fmt.Errorf("ensure workspace: %w", err)
	}

	path, err := p.stageSource(&task, workspace)
	if err != nil {
		p.cleanupStage(workspace, "", task.ExtraCleanup)
		return nil, err
	}

	res, err := p.parser.Parse(ctx, gpusched.Task{
		Path:      path,
		Pipeline:  "images",
		OutputDir: workspace,
		Options:   runner.ResolveParserOptions(task.Payload, p.parserDefaults),
	})
	if err != nil {
		p.cleanupStage(workspace, "", task.ExtraCleanup)
		return nil, err
	}
	outputDir := res.OutputDir
	if outputDir == "" {
		outputDir = workspace
	}

	window := 2
	if p.vision != nil {
		window = p.vision.ContextWindow
	}
	jobs := vision.SelectImageJobs(res.Items, outputDir, window)
	log.Info().Str("task_id", taskID).Int("items", len(res.Items)).Int("image_jobs", len(jobs)).Msg("parse stage complete")

	stage1 := Stage1Result{
		Task:      task,
		Workspace: workspace,
		OutputDir: outputDir,
		PDFPath:   path,
		Items:     res.Items,
		ImageJobs: jobs,
	}
	queues := p.queues(task.Priority)
	if err := p.broker.Forward(ctx, queues.Dispatch, taskID, KindDispatch, stage1); err != nil {
		p.cleanupStage(workspace, outputDir, task.ExtraCleanup)
		return nil, err
	}
	return nil, nil
}

// stageSource copies the source into the workspace when it lives
// elsewhere and wraps read failures with the file size.
func (p *Pipeline) stageSource(task *TaskPayload, workspace string) (string, error) {
	src := task.SourcePath
	if src == "" {
		return "", fmt.Errorf("%w: source_path is required", runner.ErrValidation)
	}
	if _, err := os.Stat(src); err != nil {
		return "", parser.WrapError(src, err)
	}

	ext := converter.NormalizeExtension(filepath.Ext(src))
	if converter.IsOffice(ext) {
		converted, extra, err := converter.OfficeToPDF(src)
		if err != nil {
			return "", err
		}
		task.ExtraCleanup = append(task.ExtraCleanup, extra...)
		src = converted
	}

	inWorkspace := strings.HasPrefix(filepath.Clean(src), filepath.Clean(workspace)+string(filepath.Separator))
	if inWorkspace {
		return src, nil
	}
	dst := filepath.Join(workspace, filepath.Base(src))
	if err := copyFile(src, dst); err != nil {
		return "", parser.WrapError(src, err)
	}
	if task.CleanupSource {
		if err := os.Remove(task.SourcePath); err != nil && !os.IsNotExist(err) {
			log.Warn().Err(err).Str("path", task.SourcePath).Msg("failed to unlink source")
		}
	}
	return dst, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()
	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}

// handleDispatch fans out: a chord of one vision task per image job
// joined by merge. With no image jobs it chains straight to merge.
// It never blocks on the fan-out.
func (p *Pipeline) handleDispatch(ctx context.Context, taskID string, payload json.RawMessage) (any, error) {
	var stage1 Stage1Result
	if err := json.Unmarshal(payload, &stage1); err != nil {
		return nil, fmt.Errorf("decode dispatch payload: %w", err)
	}
	queues := p.queues(stage1.Task.Priority)

	if len(stage1.ImageJobs) == 0 {
		if err := p.broker.Forward(ctx, queues.Merge, taskID, KindMerge, MergePayload{Stage1: stage1}); err != nil {
			p.cleanupStage1(&stage1)
			return nil, err
		}
		return nil, nil
	}

	if err := p.broker.ChordCreate(ctx, taskID, len(stage1.ImageJobs), payload); err != nil {
		p.cleanupStage1(&stage1)
		return nil, err
	}
	for _, job := range stage1.ImageJobs {
		vp := VisionPayload{
			Job:       job,
			Workspace: stage1.Workspace,
			Provider:  stage1.Task.Provider,
			Model:     stage1.Task.Model,
			Prompt:    stage1.Task.Prompt,
			Priority:  stage1.Task.Priority,
		}
		if err := p.broker.Forward(ctx, queues.Vision, taskID, KindVision, vp); err != nil {
			p.cleanupStage1(&stage1)
			return nil, err
		}
	}
	log.Info().Str("task_id", taskID).Int("branches", len(stage1.ImageJobs)).Msg("dispatched vision fan-out")
	return nil, nil
}

// handleVision describes one image. Failures never abort the document:
// the branch result degrades to the caption text with the error noted.
func (p *Pipeline) handleVision(ctx context.Context, taskID string, payload json.RawMessage) (any, error) {
	var vp VisionPayload
	if err := json.Unmarshal(payload, &vp); err != nil {
		return nil, fmt.Errorf("decode vision payload: %w", err)
	}

	result := VisionResult{Seq: vp.Job.Seq}
	if p.vision == nil {
		result.VisionText = vp.Job.BaseText
		result.Error = "vision service not configured"
	} else {
		text, err := p.vision.Complete(ctx, vision.Request{
			ImagePath: vp.Job.ImagePath,
			Context:   vp.Job.ContextPayload,
			Provider:  vp.Provider,
			Model:     vp.Model,
			Prompt:    vp.Prompt,
		})
		if err != nil {
			log.Warn().Err(err).Str("task_id", taskID).Int("seq", vp.Job.Seq).Msg("vision branch failed, keeping base text")
			result.VisionText = vp.Job.BaseText
			result.Error = err.Error()
		} else {
			result.VisionText = text
		}
	}

	data, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("encode vision result: %w", err)
	}
	done, err := p.broker.ChordComplete(ctx, taskID, result.Seq, data)
	if err != nil {
		p.cleanupStage(vp.Workspace, "", nil)
		return nil, err
	}
	if !done {
		return nil, nil
	}

	// Last branch: collect and fire the merge.
	state, err := p.broker.ChordCollect(ctx, taskID)
	if err != nil {
		p.cleanupStage(vp.Workspace, "", nil)
		return nil, err
	}
	var stage1 Stage1Result
	if err := json.Unmarshal(state.Payload, &stage1); err != nil {
		p.cleanupStage(vp.Workspace, "", nil)
		return nil, fmt.Errorf("decode chord payload: %w", err)
	}
	merge := MergePayload{Stage1: stage1, Vision: make([]VisionResult, 0, len(state.Results))}
	for _, raw := range state.Results {
		var vr VisionResult
		if err := json.Unmarshal(raw, &vr); err != nil {
			continue
		}
		merge.Vision = append(merge.Vision, vr)
	}
	queues := p.queues(stage1.Task.Priority)
	if err := p.broker.Forward(ctx, queues.Merge, taskID, KindMerge, merge); err != nil {
		p.cleanupStage1(&stage1)
		return nil, err
	}
	return nil, nil
}

// handleMerge assembles the final payload, uploads when requested and
// tears the workspace down on every exit path.
func (p *Pipeline) handleMerge(ctx context.Context, taskID string, payload json.RawMessage) (any, error) {
	var mp MergePayload
	if err := json.Unmarshal(payload, &mp); err != nil {
		return nil, fmt.Errorf("decode merge payload: %w", err)
	}
	defer p.cleanupStage1(&mp.Stage1)

	descriptions := make(map[int]string, len(mp.Vision))
	for _, vr := range mp.Vision {
		// Failed branches already degraded to the caption text; adding
		// them as descriptions would duplicate it.
		if vr.Error != "" {
			continue
		}
		descriptions[vr.Seq] = vr.VisionText
	}

	opts := chunk.Options{ChunkType: mp.Stage1.Task.ChunkType}
	chunks := chunk.NormalizeWithVision(mp.Stage1.Items, descriptions, opts)

	out := &runner.ResultPayload{Result: chunks}
	if mp.Stage1.Task.ReturnTxt {
		txt := chunk.BuildPlainText(chunks)
		out.Txt = &txt
	}

	if mp.Stage1.Task.SaveToMinio {
		rec, err := p.uploadBundle(ctx, &mp.Stage1, chunks)
		if err != nil {
			return nil, err
		}
		out.MinioAssets = rec
	}

	log.Info().Str("task_id", taskID).Int("chunks", len(chunks)).Int("vision_results", len(mp.Vision)).Msg("merge complete")
	return out, nil
}

func (p *Pipeline) uploadBundle(ctx context.Context, stage1 *Stage1Result, chunks []chunk.Chunk) (*store.AssetRecord, error) {
	if !strings.EqualFold(filepath.Ext(stage1.PDFPath), ".pdf") {
		return nil, fmt.Errorf("%w: only PDF content can be persisted to the object store", runner.ErrValidation)
	}
	cfg := p.storeDefaults
	bucket := cfg.Bucket
	if m := stage1.Task.Minio; m != nil {
		if m.Address != "" {
			cfg.Endpoint = m.Address
		}
		if m.AccessKey != "" {
			cfg.AccessKey = m.AccessKey
		}
		if m.SecretKey != "" {
			cfg.SecretKey = m.SecretKey
		}
		if m.Bucket != "" {
			bucket = m.Bucket
		}
	}
	client, err := store.New(ctx, cfg)
	if err != nil {
		return nil, err
	}
	explicitPrefix := ""
	meta := ""
	if m := stage1.Task.Minio; m != nil {
		explicitPrefix = m.Prefix
		meta = m.Meta
	}
	name := stage1.Task.Filename
	if name == "" {
		name = filepath.Base(stage1.Task.SourcePath)
	}
	prefix := client.ResolvePrefix(explicitPrefix, name)

	rec, err := client.UploadBundle(ctx, bucket, prefix, stage1.PDFPath, chunks, p.storeDefaults.PageDPI)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(meta) != "" {
		metaObject, err := client.UploadText(ctx, bucket, prefix, "meta.txt", meta)
		if err != nil {
			return nil, err
		}
		rec.MetaObject = &metaObject
	}
	return rec, nil
}

func (p *Pipeline) cleanupStage1(stage1 *Stage1Result) {
	p.cleanupStage(stage1.Workspace, stage1.OutputDir, stage1.Task.ExtraCleanup)
}

// cleanupStage tears down a task's directories and staged files. Every
// terminal path runs it, success and failure alike.
func (p *Pipeline) cleanupStage(workspace, outputDir string, extra []string) {
	if workspace != "" {
		if err := os.RemoveAll(workspace); err != nil {
			log.Warn().Err(err).Str("dir", workspace).Msg("workspace cleanup failed")
		}
	}
	if outputDir != "" && outputDir != workspace {
		if err := os.RemoveAll(outputDir); err != nil {
			log.Warn().Err(err).Str("dir", outputDir).Msg("output cleanup failed")
		}
	}
	for _, path := range extra {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			log.Warn().Err(err).Str("path", path).Msg("cleanup failed")
		}
	}
}
