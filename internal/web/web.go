package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/local/minerudispatch/internal/config"
	"github.com/local/minerudispatch/internal/filetype"
	"github.com/local/minerudispatch/internal/gpusched"
	"github.com/local/minerudispatch/internal/metrics"
	"github.com/local/minerudispatch/internal/queue"
	"github.com/local/minerudispatch/internal/runner"
	"github.com/local/minerudispatch/internal/statuscheck"
	"github.com/local/minerudispatch/internal/store"
	"github.com/local/minerudispatch/internal/twostage"
)

const maxUploadMemory = 64 << 20

// TaskBroker is the slice of the queue broker the HTTP layer needs.
type TaskBroker interface {
	Submit(ctx context.Context, stream, kind string, payload any) (string, error)
	Status(ctx context.Context, taskID string) (queue.TaskStatus, error)
	Revoke(ctx context.Context, taskID string) error
	Depths(ctx context.Context, streams ...string) (map[string]int64, error)
	Ping(ctx context.Context) error
}

// TwoStage submits a task into the two-stage pipeline.
type TwoStage interface {
	Submit(ctx context.Context, task twostage.TaskPayload) (string, error)
}

// GPUPool exposes the scheduler snapshot.
type GPUPool interface {
	Status() gpusched.Status
}

// Downloader streams one object from the store.
type Downloader interface {
	PrepareDownload(ctx context.Context, bucket, object string) (io.ReadCloser, store.ObjectInfo, error)
}

// Server is the HTTP facade: task submission, status polling, GPU and
// queue snapshots, object download.
type Server struct {
	broker    TaskBroker
	pipeline  TwoStage
	scheduler GPUPool
	queueCfg  config.QueueConfig
	storeCfg  config.StoreConfig
	uploadDir string
	checker   *statuscheck.Checker

	// openStore is swappable in tests.
	openStore func(ctx context.Context, cfg config.StoreConfig) (Downloader, error)
}

// New builds the server. pipeline and scheduler may be nil in reduced
// deployments; their endpoints then answer 503.
func New(broker TaskBroker, pipeline TwoStage, scheduler GPUPool, queueCfg config.QueueConfig, storeCfg config.StoreConfig, uploadDir string) *Server {
	return &Server{
		broker:    broker,
		pipeline:  pipeline,
		scheduler: scheduler,
		queueCfg:  queueCfg,
		storeCfg:  storeCfg,
		uploadDir: uploadDir,
		openStore: func(ctx context.Context, cfg config.StoreConfig) (Downloader, error) {
			return store.New(ctx, cfg)
		},
	}
}

// RegisterRoutes attaches all handlers to the mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/tasks/mineru", s.handleSubmitSingle)
	mux.HandleFunc("/tasks/mineru/two-stage", s.handleSubmitTwoStage)
	mux.HandleFunc("/tasks/", s.handleTask)
	mux.HandleFunc("/gpu/status", s.handleGPUStatus)
	mux.HandleFunc("/queues/status", s.handleQueueStatus)
	mux.HandleFunc("/minio/download", s.handleDownload)
}

// UseChecker attaches the dependency status checker behind GET /status.
func (s *Server) UseChecker(c *statuscheck.Checker) { s.checker = c }

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.checker == nil {
		http.Error(w, "status checker not configured", http.StatusServiceUnavailable)
		return
	}
	sum := s.checker.Check(r.Context())
	code := http.StatusOK
	if !sum.OK() {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, sum)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

type submitResp struct {
	TaskID string `json:"task_id"`
	State  string `json:"state"`
}

// readUpload persists the multipart file part and builds the task
// payload from the form fields. The saved copy belongs to the task:
// cleanup_source is always set.
func (s *Server) readUpload(r *http.Request) (runner.Payload, string, error) {
	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		return runner.Payload{}, "", fmt.Errorf("invalid multipart form")
	}
	file, hdr, err := r.FormFile("file")
	if err != nil {
		return runner.Payload{}, "", fmt.Errorf("missing file")
	}
	defer file.Close()

	name := hdr.Filename
	if name == "" {
		name = "upload.pdf"
	}
	if _, err := filetype.CheckExtension(name); err != nil {
		return runner.Payload{}, "", err
	}

	if err := os.MkdirAll(s.uploadDir, 0o755); err != nil {
		return runner.Payload{}, "", fmt.Errorf("cannot create upload dir")
	}
	localPath := filepath.Join(s.uploadDir, uuid.NewString()+"_"+filepath.Base(name))
	out, err := os.Create(localPath)
	if err != nil {
		return runner.Payload{}, "", fmt.Errorf("cannot save upload")
	}
	if _, err := io.Copy(out, file); err != nil {
		out.Close()
		os.Remove(localPath)
		return runner.Payload{}, "", fmt.Errorf("write failed")
	}
	if err := out.Close(); err != nil {
		os.Remove(localPath)
		return runner.Payload{}, "", fmt.Errorf("write failed")
	}

	p := runner.Payload{
		SourcePath:    localPath,
		Filename:      name,
		Backend:       r.FormValue("backend"),
		Lang:          r.FormValue("lang"),
		Method:        r.FormValue("method"),
		StartPage:     formInt(r, "start_page"),
		EndPage:       formInt(r, "end_page"),
		ChunkType:     formBool(r, "chunk_type"),
		ReturnTxt:     formBool(r, "return_txt"),
		WithImages:    formBool(r, "with_images"),
		Provider:      r.FormValue("provider"),
		Model:         r.FormValue("model"),
		Prompt:        r.FormValue("prompt"),
		SaveToMinio:   formBool(r, "save_to_minio"),
		CleanupSource: true,
	}
	if p.SaveToMinio {
		p.Minio = &runner.MinioOptions{
			Address:   r.FormValue("address"),
			AccessKey: r.FormValue("access_key"),
			SecretKey: r.FormValue("secret_key"),
			Bucket:    r.FormValue("bucket"),
			Prefix:    r.FormValue("prefix"),
			Meta:      r.FormValue("meta"),
		}
	}
	return p, priorityOf(r.FormValue("priority")), nil
}

func formBool(r *http.Request, key string) bool {
	v := strings.ToLower(r.FormValue(key))
	return v == "1" || v == "true" || v == "yes" || v == "on"
}

func formInt(r *http.Request, key string) int {
	n, err := strconv.Atoi(strings.TrimSpace(r.FormValue(key)))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func priorityOf(v string) string {
	if strings.EqualFold(strings.TrimSpace(v), twostage.PriorityUrgent) {
		return twostage.PriorityUrgent
	}
	return ""
}

func (s *Server) handleSubmitSingle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	p, priority, err := s.readUpload(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	stream := s.queueCfg.Normal
	if priority == twostage.PriorityUrgent {
		stream = s.queueCfg.Urgent
	}
	taskID, err := s.broker.Submit(r.Context(), stream, runner.TaskKind, p)
	if err != nil {
		os.Remove(p.SourcePath)
		log.Error().Err(err).Msg("task submit failed")
		http.Error(w, "queue unavailable", http.StatusServiceUnavailable)
		return
	}
	log.Info().Str("task_id", taskID).Str("queue", stream).Str("filename", p.Filename).Msg("task submitted")
	writeJSON(w, http.StatusOK, submitResp{TaskID: taskID, State: queue.StatePending})
}

func (s *Server) handleSubmitTwoStage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.pipeline == nil {
		http.Error(w, "two-stage pipeline not configured", http.StatusServiceUnavailable)
		return
	}
	p, priority, err := s.readUpload(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	taskID, err := s.pipeline.Submit(r.Context(), twostage.TaskPayload{Payload: p, Priority: priority})
	if err != nil {
		os.Remove(p.SourcePath)
		if errors.Is(err, runner.ErrValidation) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		log.Error().Err(err).Msg("two-stage submit failed")
		http.Error(w, "queue unavailable", http.StatusServiceUnavailable)
		return
	}
	log.Info().Str("task_id", taskID).Str("priority", priority).Str("filename", p.Filename).Msg("two-stage task submitted")
	writeJSON(w, http.StatusOK, submitResp{TaskID: taskID, State: queue.StatePending})
}

// handleTask serves GET /tasks/{id} and POST /tasks/{id}/revoke.
func (s *Server) handleTask(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/tasks/")
	if id, ok := strings.CutSuffix(rest, "/revoke"); ok {
		s.handleRevoke(w, r, id)
		return
	}
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if rest == "" || strings.Contains(rest, "/") {
		http.Error(w, "invalid task id", http.StatusBadRequest)
		return
	}

	st, err := s.broker.Status(r.Context(), rest)
	switch {
	case errors.Is(err, queue.ErrNotFound):
		// Unknown IDs read as PENDING, matching the broker's semantics.
		st = queue.TaskStatus{TaskID: rest, State: queue.StatePending}
	case err != nil:
		log.Error().Err(err).Str("task_id", rest).Msg("status read failed")
		http.Error(w, "queue unavailable", http.StatusServiceUnavailable)
		return
	}

	code := http.StatusOK
	if st.State == queue.StateFailure || st.State == queue.StateRevoked {
		code = http.StatusInternalServerError
	}
	writeJSON(w, code, st)
}

func (s *Server) handleRevoke(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if id == "" {
		http.Error(w, "invalid task id", http.StatusBadRequest)
		return
	}
	if err := s.broker.Revoke(r.Context(), id); err != nil {
		log.Error().Err(err).Str("task_id", id).Msg("revoke failed")
		http.Error(w, "queue unavailable", http.StatusServiceUnavailable)
		return
	}
	log.Info().Str("task_id", id).Msg("task revoked")
	writeJSON(w, http.StatusOK, submitResp{TaskID: id, State: queue.StateRevoked})
}

func (s *Server) handleGPUStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.scheduler == nil {
		http.Error(w, "scheduler not configured", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, s.scheduler.Status())
}

func (s *Server) handleQueueStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	c := s.queueCfg
	depths, err := s.broker.Depths(r.Context(),
		c.Normal, c.Urgent, c.Parse, c.ParseUrgent, c.Vision, c.VisionUrgent,
		c.Dispatch, c.DispatchUrgent, c.Merge, c.MergeUrgent)
	if err != nil {
		http.Error(w, "queue unavailable", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"queues": depths})
}

// handleDownload streams one stored object as an attachment. Credential
// query params override the configured store defaults.
func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()
	object := q.Get("object")
	if object == "" {
		http.Error(w, "missing object", http.StatusBadRequest)
		return
	}
	cfg := s.storeCfg
	bucket := cfg.Bucket
	if v := q.Get("bucket"); v != "" {
		bucket = v
	}
	if v := q.Get("address"); v != "" {
		cfg.Endpoint = v
	}
	if v := q.Get("access_key"); v != "" {
		cfg.AccessKey = v
	}
	if v := q.Get("secret_key"); v != "" {
		cfg.SecretKey = v
	}
	if bucket == "" {
		http.Error(w, "missing bucket", http.StatusBadRequest)
		return
	}

	client, err := s.openStore(r.Context(), cfg)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	body, info, err := client.PrepareDownload(r.Context(), bucket, object)
	if err != nil {
		if errors.Is(err, store.ErrObjectNotFound) {
			http.Error(w, "object not found", http.StatusNotFound)
			return
		}
		log.Error().Err(err).Str("bucket", bucket).Str("object", object).Msg("download failed")
		http.Error(w, "download failed", http.StatusInternalServerError)
		return
	}
	defer body.Close()

	ct := info.ContentType
	if ct == "" {
		ct = "application/octet-stream"
	}
	w.Header().Set("Content-Type", ct)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filepath.Base(object)))
	if info.Size > 0 {
		w.Header().Set("Content-Length", fmt.Sprintf("%d", info.Size))
	}
	_, _ = io.Copy(w, body)
}
