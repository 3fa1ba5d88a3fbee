package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/local/minerudispatch/internal/metrics"
)

// Handler processes one task message. Returning a non-nil result marks
// the task SUCCESS; returning (nil, nil) leaves it in-flight, which is
// what stage handlers do after forwarding the task to the next queue.
type Handler func(ctx context.Context, taskID string, payload json.RawMessage) (any, error)

// Worker is a pool of consumers over a prioritized list of streams.
type Worker struct {
	broker      *Broker
	name        string
	streams     []string
	concurrency int
	block       time.Duration

	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewWorker builds a pool. Streams are drained in the order given, so
// callers list urgent queues before their normal counterparts.
func NewWorker(b *Broker, name string, streams []string, concurrency int) *Worker {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Worker{
		broker:      b,
		name:        name,
		streams:     streams,
		concurrency: concurrency,
		block:       2 * time.Second,
		handlers:    make(map[string]Handler),
	}
}

// Register binds a handler to a task kind.
func (w *Worker) Register(kind string, h Handler) {
	w.mu.Lock()
	w.handlers[kind] = h
	w.mu.Unlock()
}

func (w *Worker) handler(kind string) (Handler, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	h, ok := w.handlers[kind]
	return h, ok
}

// Run blocks until ctx is done, consuming with w.concurrency goroutines.
func (w *Worker) Run(ctx context.Context) {
	for _, s := range w.streams {
		if err := w.broker.EnsureStream(ctx, s); err != nil {
			log.Error().Err(err).Str("stream", s).Msg("ensure stream failed")
		}
	}
	host, _ := os.Hostname()
	var wg sync.WaitGroup
	for i := 0; i < w.concurrency; i++ {
		wg.Add(1)
		consumer := fmt.Sprintf("%s-%s-%d", w.name, host, i)
		go func() {
			defer wg.Done()
			w.consume(ctx, consumer)
		}()
	}
	log.Info().Str("worker", w.name).Strs("streams", w.streams).Int("concurrency", w.concurrency).Msg("worker pool started")
	wg.Wait()
}

func (w *Worker) consume(ctx context.Context, consumer string) {
	for {
		if ctx.Err() != nil {
			return
		}
		msg, err := w.broker.Read(ctx, consumer, w.streams, w.block)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error().Err(err).Str("consumer", consumer).Msg("queue read failed")
			time.Sleep(time.Second)
			continue
		}
		if msg == nil {
			continue
		}
		w.process(ctx, msg)
		if err := w.broker.Ack(ctx, msg.Stream, msg.ID); err != nil {
			log.Warn().Err(err).Str("stream", msg.Stream).Str("msg_id", msg.ID).Msg("ack failed")
		}
	}
}

func (w *Worker) process(ctx context.Context, msg *Message) {
	revoked, err := w.broker.IsRevoked(ctx, msg.TaskID)
	if err != nil {
		log.Warn().Err(err).Str("task_id", msg.TaskID).Msg("revocation check failed")
	}
	if revoked {
		metrics.IncTask(msg.Kind, StateRevoked)
		log.Info().Str("task_id", msg.TaskID).Str("kind", msg.Kind).Msg("skipping revoked task")
		return
	}

	h, ok := w.handler(msg.Kind)
	if !ok {
		metrics.IncTask(msg.Kind, StateFailure)
		w.setFailure(ctx, msg.TaskID, fmt.Sprintf("no handler registered for task kind %q", msg.Kind))
		return
	}

	if err := w.broker.SetStarted(ctx, msg.TaskID); err != nil {
		log.Warn().Err(err).Str("task_id", msg.TaskID).Msg("failed to mark task started")
	}

	result, err := w.invoke(ctx, h, msg)
	switch {
	case err != nil:
		metrics.IncTask(msg.Kind, StateFailure)
		log.Error().Err(err).Str("task_id", msg.TaskID).Str("kind", msg.Kind).Msg("task failed")
		w.setFailure(ctx, msg.TaskID, err.Error())
	case result != nil:
		metrics.IncTask(msg.Kind, StateSuccess)
		if err := w.broker.SetSuccess(ctx, msg.TaskID, result); err != nil {
			log.Error().Err(err).Str("task_id", msg.TaskID).Msg("failed to store task result")
		}
	default:
		// Stage handoff: the task keeps running on another queue.
		metrics.IncTask(msg.Kind, "forwarded")
	}
}

func (w *Worker) invoke(ctx context.Context, h Handler, msg *Message) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panic: %v", r)
		}
	}()
	return h(ctx, msg.TaskID, msg.Payload)
}

func (w *Worker) setFailure(ctx context.Context, taskID, errMsg string) {
	if err := w.broker.SetFailure(ctx, taskID, errMsg); err != nil {
		log.Error().Err(err).Str("task_id", taskID).Msg("failed to store task failure")
	}
}
