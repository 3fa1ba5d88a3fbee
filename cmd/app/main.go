package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/local/minerudispatch/internal/config"
	"github.com/local/minerudispatch/internal/gpusched"
	"github.com/local/minerudispatch/internal/limiter"
	"github.com/local/minerudispatch/internal/logger"
	"github.com/local/minerudispatch/internal/metrics"
	"github.com/local/minerudispatch/internal/queue"
	"github.com/local/minerudispatch/internal/runner"
	"github.com/local/minerudispatch/internal/statuscheck"
	"github.com/local/minerudispatch/internal/twostage"
	"github.com/local/minerudispatch/internal/vision"
	"github.com/local/minerudispatch/internal/web"
)

func main() {
	_ = godotenv.Load()
	cfg := config.FromEnv()

	_ = logger.Init(logger.Options{
		Level:        cfg.Logging.Level,
		Pretty:       cfg.Logging.Pretty,
		File:         cfg.Logging.File,
		MaxSizeMB:    cfg.Logging.MaxSizeMB,
		MaxBackups:   cfg.Logging.MaxBackups,
		MaxAgeDays:   cfg.Logging.MaxAgeDays,
		Compress:     cfg.Logging.Compress,
		SendToAxiom:  cfg.Axiom.Send && cfg.Axiom.APIKey != "",
		AxiomAPIKey:  cfg.Axiom.APIKey,
		AxiomOrgID:   cfg.Axiom.OrgID,
		AxiomDataset: cfg.Axiom.Dataset,
		AxiomFlush:   cfg.Axiom.FlushInterval,
	})
	defer logger.Close()

	metrics.Init()

	if err := os.MkdirAll(cfg.WorkspaceRoot, 0o755); err != nil {
		log.Fatal().Err(err).Str("dir", cfg.WorkspaceRoot).Msg("cannot create workspace root")
	}

	broker, err := queue.New(cfg.Queue.RedisURL, cfg.Queue.Group, cfg.Queue.ResultTTL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer broker.Close()

	sched, err := gpusched.New(gpusched.Config{
		GPUIDs:    cfg.Scheduler.GPUIDs,
		WorkerBin: cfg.Scheduler.WorkerBin,
		Timeouts: gpusched.Timeouts{
			Sci:     cfg.Scheduler.SciTimeout,
			Images:  cfg.Scheduler.ImagesTimeout,
			Default: cfg.Scheduler.DefaultTimeout,
		},
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to start gpu scheduler")
	}
	defer sched.Close()

	registry := vision.NewRegistry(cfg.Vision.ProviderChoices)
	visionSvc := vision.NewService(registry, cfg.Vision.Provider, cfg.Vision.Model, cfg.Vision.ContextWindow)
	visionSvc.UseLimiter(limiter.New(broker.Client(), limiter.Options{MaxInflight: cfg.Vision.BatchSize}))

	run := runner.New(sched, visionSvc, cfg.Store, cfg.WorkspaceRoot)
	run.UseParserDefaults(cfg.Parser)
	pipeline := twostage.New(broker, sched, visionSvc, cfg.Queue, cfg.Store, cfg.WorkspaceRoot)
	pipeline.UseParserDefaults(cfg.Parser)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var workers sync.WaitGroup
	if cfg.RunWorkers {
		q := cfg.Queue
		pool := queue.NewWorker(broker, "mineru", []string{
			q.Urgent, q.Normal,
			q.ParseUrgent, q.Parse,
			q.DispatchUrgent, q.Dispatch,
			q.MergeUrgent, q.Merge,
		}, q.DefaultConcurrency)
		pool.Register(runner.TaskKind, run.Handle)
		pipeline.Register(pool)

		visionPool := queue.NewWorker(broker, "vision", []string{q.VisionUrgent, q.Vision}, q.VisionConcurrency)
		pipeline.RegisterVision(visionPool)

		workers.Add(2)
		go func() { defer workers.Done(); pool.Run(ctx) }()
		go func() { defer workers.Done(); visionPool.Run(ctx) }()
	}

	uploadDir := os.Getenv("UPLOAD_DIR")
	if uploadDir == "" {
		uploadDir = cfg.WorkspaceRoot
	}
	api := web.New(broker, pipeline, sched, cfg.Queue, cfg.Store, uploadDir)
	api.UseChecker(statuscheck.New(broker, sched, registry, cfg.Store))
	mux := http.NewServeMux()
	api.RegisterRoutes(mux)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	srv := &http.Server{Addr: ":" + port, Handler: mux}

	go func() {
		log.Info().Msgf("HTTP server listening on :%s", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server error")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)
	cancel()
	workers.Wait()
	log.Info().Msg("shutdown complete")
}
