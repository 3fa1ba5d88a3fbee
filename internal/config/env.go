package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// LoggingConfig holds logging-related configuration.
type LoggingConfig struct {
	Level      string
	Pretty     bool
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// AxiomConfig holds Axiom logging configuration.
type AxiomConfig struct {
	Send          bool
	APIKey        string
	OrgID         string
	Dataset       string
	FlushInterval time.Duration
}

// QueueConfig defines broker connectivity, queue names and result retention.
type QueueConfig struct {
	RedisURL     string
	Group        string
	PollInterval time.Duration
	ResultTTL    time.Duration

	// Single-stage queues
	Normal string
	Urgent string

	// Two-stage triad (+dispatch) with urgent variants
	Parse          string
	ParseUrgent    string
	Vision         string
	VisionUrgent   string
	Dispatch       string
	DispatchUrgent string
	Merge          string
	MergeUrgent    string

	// Worker concurrency per queue class
	DefaultConcurrency int
	VisionConcurrency  int
}

// SchedulerConfig defines GPU pool and per-task hard timeouts.
type SchedulerConfig struct {
	GPUIDs         []string
	WorkerBin      string
	HardTimeout    time.Duration
	SciTimeout     time.Duration
	ImagesTimeout  time.Duration
	DefaultTimeout time.Duration
}

// ParserConfig defines parser backend defaults and VLM server access.
type ParserConfig struct {
	DefaultBackend string
	DefaultLang    string
	DefaultMethod  string
	APIKey         string
	AuthHeader     string
}

// VisionConfig defines vision provider selection and context windowing.
type VisionConfig struct {
	Provider        string
	Model           string
	ContextWindow   int
	BatchSize       int
	ProviderChoices []string
}

// StoreConfig defines the object-store connection and rendering defaults.
type StoreConfig struct {
	Endpoint   string
	AccessKey  string
	SecretKey  string
	Region     string
	Bucket     string
	PrefixRoot string
	PageDPI    int
}

// Config is the top-level configuration.
type Config struct {
	Logging       LoggingConfig
	Axiom         AxiomConfig
	Queue         QueueConfig
	Scheduler     SchedulerConfig
	Parser        ParserConfig
	Vision        VisionConfig
	Store         StoreConfig
	WorkspaceRoot string
	RunWorkers    bool
}

// FromEnv loads configuration from environment with sensible defaults.
func FromEnv() Config {
	cfg := Config{}

	// Logging defaults
	cfg.Logging = LoggingConfig{
		Level:      getEnv("LOG_LEVEL", "info"),
		Pretty:     parseBool(getEnv("LOG_PRETTY", devDefaultPretty())),
		File:       getEnv("LOG_FILE", "logs/minerudispatch.log"),
		MaxSizeMB:  parseInt(getEnv("LOG_MAX_SIZE_MB", "100"), 100),
		MaxBackups: parseInt(getEnv("LOG_MAX_BACKUPS", "10"), 10),
		MaxAgeDays: parseInt(getEnv("LOG_MAX_AGE_DAYS", "30"), 30),
		Compress:   parseBool(getEnv("LOG_COMPRESS", "true")),
	}

	// Axiom defaults
	baseDataset := getEnv("AXIOM_DATASET", "dev")
	cfg.Axiom = AxiomConfig{
		Send:          parseBool(getEnv("SEND_LOGS_TO_AXIOM", "0")),
		APIKey:        getEnv("AXIOM_API_KEY", ""),
		OrgID:         getEnv("AXIOM_ORG_ID", ""),
		Dataset:       baseDataset + "_minerudispatch",
		FlushInterval: parseDuration(getEnv("AXIOM_FLUSH_INTERVAL", "10s"), 10*time.Second),
	}

	// Queue defaults
	cfg.Queue = QueueConfig{
		RedisURL:           getEnv("REDIS_URL", "redis://localhost:6379"),
		Group:              getEnv("QUEUE_GROUP", "workers:mineru"),
		PollInterval:       parseDuration(getEnv("QUEUE_POLL_INTERVAL", "100ms"), 100*time.Millisecond),
		ResultTTL:          parseDuration(getEnv("RESULT_TTL", "24h"), 24*time.Hour),
		Normal:             queueEnv("TASK_NORMAL_QUEUE", "queue_normal"),
		Urgent:             queueEnv("TASK_URGENT_QUEUE", "queue_urgent"),
		Parse:              queueEnv("TASK_PARSE_QUEUE", "queue_parse_gpu"),
		ParseUrgent:        queueEnv("TASK_PARSE_URGENT_QUEUE", "queue_parse_urgent"),
		Vision:             queueEnv("TASK_VISION_QUEUE", "queue_vision"),
		VisionUrgent:       queueEnv("TASK_VISION_URGENT_QUEUE", "queue_vision_urgent"),
		Dispatch:           queueEnv("TASK_DISPATCH_QUEUE", "default"),
		DispatchUrgent:     queueEnv("TASK_DISPATCH_URGENT_QUEUE", "queue_dispatch_urgent"),
		Merge:              queueEnv("TASK_MERGE_QUEUE", "default"),
		MergeUrgent:        queueEnv("TASK_MERGE_URGENT_QUEUE", "queue_merge_urgent"),
		DefaultConcurrency: parseInt(getEnv("WORKER_CONCURRENCY", "4"), 4),
		VisionConcurrency:  parseInt(getEnv("VISION_WORKER_CONCURRENCY", "8"), 8),
	}

	// Scheduler defaults
	hard := secondsEnv("MINERU_TASK_HARD_TIMEOUT_SECONDS", 600*time.Second)
	cfg.Scheduler = SchedulerConfig{
		GPUIDs:         splitList(getEnv("GPU_IDS", "0")),
		WorkerBin:      getEnv("MINERU_WORKER_BIN", "mineru-worker"),
		HardTimeout:    hard,
		SciTimeout:     secondsEnv("MINERU_SCI_HARD_TIMEOUT_SECONDS", hard),
		ImagesTimeout:  secondsEnv("MINERU_IMAGES_HARD_TIMEOUT_SECONDS", hard),
		DefaultTimeout: secondsEnv("MINERU_DEFAULT_HARD_TIMEOUT_SECONDS", hard),
	}

	// Parser defaults
	cfg.Parser = ParserConfig{
		DefaultBackend: getEnv("MINERU_DEFAULT_BACKEND", ""),
		DefaultLang:    getEnv("MINERU_DEFAULT_LANG", ""),
		DefaultMethod:  getEnv("MINERU_DEFAULT_METHOD", ""),
		APIKey:         getEnv("MINERU_VLLM_API_KEY", ""),
		AuthHeader:     getEnv("MINERU_VLLM_AUTH_HEADER", ""),
	}

	// Vision defaults
	cfg.Vision = VisionConfig{
		Provider:        getEnv("VISION_PROVIDER", ""),
		Model:           getEnv("VISION_MODEL", ""),
		ContextWindow:   parseInt(getEnv("VISION_CONTEXT_WINDOW", "2"), 2),
		BatchSize:       parseInt(getEnv("VISION_BATCH_SIZE", "4"), 4),
		ProviderChoices: splitList(getEnv("VISION_PROVIDER_CHOICES", "openai,gemini")),
	}

	// Store defaults
	cfg.Store = StoreConfig{
		Endpoint:   getEnv("MINIO_ENDPOINT", "localhost:9000"),
		AccessKey:  os.Getenv("MINIO_ACCESS_KEY"),
		SecretKey:  os.Getenv("MINIO_SECRET_KEY"),
		Region:     getEnv("MINIO_REGION", "us-east-1"),
		Bucket:     getEnv("MINIO_BUCKET", "mineru"),
		PrefixRoot: getEnv("MINIO_PREFIX_ROOT", "mineru"),
		PageDPI:    parseInt(getEnv("MINIO_PAGE_DPI", "150"), 150),
	}

	cfg.WorkspaceRoot = getEnv("TASK_WORKSPACE_ROOT", filepath.Join(os.TempDir(), "tiangong_mineru_tasks"))
	cfg.RunWorkers = parseBool(getEnv("RUN_WORKERS", "1"))

	return cfg
}

// Helpers
func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// queueEnv treats a whitespace-only value as unset.
func queueEnv(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func secondsEnv(key string, def time.Duration) time.Duration {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return time.Duration(n) * time.Second
	}
	return def
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseInt(s string, def int) int {
	if s == "" {
		return def
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return def
}

func parseBool(s string) bool {
	v := strings.ToLower(strings.TrimSpace(s))
	return v == "1" || v == "true" || v == "yes" || v == "on"
}

func parseDuration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	if d, err := time.ParseDuration(s); err == nil {
		return d
	}
	return def
}

func devDefaultPretty() string {
	env := strings.ToLower(os.Getenv("ENVIRONMENT"))
	if env == "dev" || env == "development" || env == "local" {
		return "true"
	}
	return "false"
}
