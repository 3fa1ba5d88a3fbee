package gpusched

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/local/minerudispatch/internal/metrics"
	"github.com/local/minerudispatch/internal/parser"
)

// Timeouts holds the per-pipeline hard timeouts for a parse child.
type Timeouts struct {
	Sci     time.Duration
	Images  time.Duration
	Default time.Duration
}

// For resolves the hard timeout for a pipeline name.
func (t Timeouts) For(pipeline string) time.Duration {
	switch pipeline {
	case "sci":
		return t.Sci
	case "images":
		return t.Images
	default:
		return t.Default
	}
}

// Config parameterizes the scheduler.
type Config struct {
	GPUIDs    []string
	WorkerBin string
	Timeouts  Timeouts
}

// Task is one parse submission.
type Task struct {
	Path      string
	Pipeline  string
	OutputDir string
	Options   parser.Options
}

type submission struct {
	task Task
	fut  *Future
}

type executor struct {
	gpuID   string
	tasks   chan *submission
	pending int
}

// GPUStatus is one GPU's snapshot in Status.
type GPUStatus struct {
	GPUID   string `json:"gpu_id"`
	Pending int    `json:"pending"`
}

// Status is the scheduler snapshot returned to callers.
type Status struct {
	GPUs         []GPUStatus `json:"gpus"`
	TotalPending int         `json:"total_pending"`
}

// Scheduler owns one worker per configured GPU. Each worker executes one
// parse at a time inside a supervised child process; additional
// submissions queue FIFO at the worker.
type Scheduler struct {
	mu        sync.Mutex
	executors []*executor
	cfg       Config
	run       func(gpuID string, t Task, timeout time.Duration) (parser.Result, error)
	stop      chan struct{}
	failed    error
	wg        sync.WaitGroup
}

// New builds the scheduler and starts one worker loop per GPU.
func New(cfg Config) (*Scheduler, error) {
	if len(cfg.GPUIDs) == 0 {
		return nil, fmt.Errorf("no GPUs configured, set GPU_IDS (e.g. \"0,1,2\")")
	}
	s := &Scheduler{cfg: cfg, stop: make(chan struct{})}
	s.run = s.runChild
	for _, gid := range cfg.GPUIDs {
		ex := &executor{gpuID: gid, tasks: make(chan *submission, 256)}
		s.executors = append(s.executors, ex)
		s.wg.Add(1)
		go s.loop(ex)
	}
	log.Info().Strs("gpu_ids", cfg.GPUIDs).Str("worker_bin", cfg.WorkerBin).Msg("gpu scheduler started")
	return s, nil
}

// Close stops all worker loops. In-flight children run to completion.
func (s *Scheduler) Close() {
	close(s.stop)
	s.wg.Wait()
}

// Submit hands the task to the least-loaded GPU and returns a future.
// Ties break by declaration order; it never blocks on parse work.
func (s *Scheduler) Submit(t Task) *Future {
	fut := newFuture()

	s.mu.Lock()
	if s.failed != nil {
		err := s.failed
		s.mu.Unlock()
		fut.resolve(parser.Result{}, fmt.Errorf("gpu scheduler unavailable: %w", err))
		return fut
	}
	ex := s.executors[0]
	for _, cand := range s.executors[1:] {
		if cand.pending < ex.pending {
			ex = cand
		}
	}
	ex.pending++
	metrics.SetSchedulerPending(ex.gpuID, ex.pending)
	s.mu.Unlock()

	select {
	case ex.tasks <- &submission{task: t, fut: fut}:
	default:
		s.finish(ex)
		fut.resolve(parser.Result{}, fmt.Errorf("gpu %s queue full", ex.gpuID))
	}
	return fut
}

// Parse submits and awaits in one call.
func (s *Scheduler) Parse(ctx context.Context, t Task) (parser.Result, error) {
	return s.Submit(t).Await(ctx)
}

// Status observes only the pending counters; it never blocks on workers.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{GPUs: make([]GPUStatus, 0, len(s.executors))}
	for _, ex := range s.executors {
		st.GPUs = append(st.GPUs, GPUStatus{GPUID: ex.gpuID, Pending: ex.pending})
		st.TotalPending += ex.pending
	}
	return st
}

func (s *Scheduler) finish(ex *executor) {
	s.mu.Lock()
	ex.pending--
	metrics.SetSchedulerPending(ex.gpuID, ex.pending)
	s.mu.Unlock()
}

func (s *Scheduler) fail(err error) {
	s.mu.Lock()
	if s.failed == nil {
		s.failed = err
	}
	s.mu.Unlock()
	log.Error().Err(err).Msg("gpu worker loop died")
}

func (s *Scheduler) loop(ex *executor) {
	defer s.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			s.fail(fmt.Errorf("gpu %s worker panic: %v", ex.gpuID, r))
		}
	}()
	for {
		select {
		case <-s.stop:
			return
		case sub := <-ex.tasks:
			s.execute(ex, sub)
		}
	}
}

func (s *Scheduler) execute(ex *executor, sub *submission) {
	defer s.finish(ex)

	if sub.fut.cancelled.Load() {
		sub.fut.resolve(parser.Result{}, fmt.Errorf("task cancelled before start"))
		return
	}

	timeout := s.cfg.Timeouts.For(sub.task.Pipeline)
	started := time.Now()
	res, err := s.run(ex.gpuID, sub.task, timeout)
	dur := time.Since(started)
	if err != nil {
		result := "error"
		if isTimeout(err) {
			result = "timeout"
		}
		metrics.ObserveParse(sub.task.Pipeline, result, dur)
		log.Error().Err(err).Str("gpu", ex.gpuID).Str("file", sub.task.Path).Dur("duration", dur).Msg("parse failed")
	} else {
		metrics.ObserveParse(sub.task.Pipeline, "success", dur)
		log.Info().Str("gpu", ex.gpuID).Str("file", sub.task.Path).Int("items", len(res.Items)).Dur("duration", dur).Msg("parse complete")
	}
	sub.fut.resolve(res, err)
}
