package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"

	"github.com/local/minerudispatch/internal/metrics"
)

// Broker is the Redis Streams task broker. Each named queue is one
// stream consumed through a shared consumer group; task results live in
// per-task hashes with a TTL.
type Broker struct {
	client    *redis.Client
	group     string
	resultTTL time.Duration
}

// Message is one dequeued stream entry.
type Message struct {
	Stream  string
	ID      string
	TaskID  string
	Kind    string
	Payload json.RawMessage
}

// New connects to Redis and verifies connectivity.
func New(redisURL, group string, resultTTL time.Duration) (*Broker, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	c := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := c.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Broker{client: c, group: group, resultTTL: resultTTL}, nil
}

func (b *Broker) Close() error { return b.client.Close() }

// Ping checks redis connectivity.
func (b *Broker) Ping(ctx context.Context) error { return b.client.Ping(ctx).Err() }

// Client exposes the underlying connection for collaborators that share
// the broker's Redis (chord bookkeeping, revocation set).
func (b *Broker) Client() *redis.Client { return b.client }

// EnsureStream creates the stream and consumer group if missing.
func (b *Broker) EnsureStream(ctx context.Context, stream string) error {
	err := b.client.XGroupCreateMkStream(ctx, stream, b.group, "$").Err()
	if err != nil && !isBusyGroupErr(err) {
		return fmt.Errorf("xgroup create %s: %w", stream, err)
	}
	return nil
}

func isBusyGroupErr(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(strings.ToUpper(err.Error()), "BUSYGROUP")
}

// Submit creates a new task: generates the task ID, initializes the
// PENDING result record and enqueues the message. The same ID follows
// the task through every stage until a terminal state is written.
func (b *Broker) Submit(ctx context.Context, stream, kind string, payload any) (string, error) {
	taskID := uuid.NewString()
	if err := b.initPending(ctx, taskID); err != nil {
		return "", err
	}
	if err := b.Forward(ctx, stream, taskID, kind, payload); err != nil {
		return "", err
	}
	return taskID, nil
}

// Forward enqueues a message for an existing task without touching its
// result record. Stage handlers use it to hand the task to the next
// stage's queue.
func (b *Broker) Forward(ctx context.Context, stream, taskID, kind string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode task payload: %w", err)
	}
	if err := b.EnsureStream(ctx, stream); err != nil {
		return err
	}
	err = b.client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: map[string]any{"task_id": taskID, "kind": kind, "data": string(data)},
	}).Err()
	if err != nil {
		return fmt.Errorf("enqueue %s on %s: %w", kind, stream, err)
	}
	return nil
}

// Read pulls one message from the given streams. Streams are polled in
// the order given, so listing an urgent queue first drains it before
// its normal counterpart.
func (b *Broker) Read(ctx context.Context, consumer string, streams []string, block time.Duration) (*Message, error) {
	args := make([]string, 0, len(streams)*2)
	args = append(args, streams...)
	for range streams {
		args = append(args, ">")
	}
	res, err := b.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    b.group,
		Consumer: consumer,
		Streams:  args,
		Count:    1,
		Block:    block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	for _, st := range res {
		for _, m := range st.Messages {
			msg := &Message{Stream: st.Stream, ID: m.ID}
			if v, ok := m.Values["task_id"].(string); ok {
				msg.TaskID = v
			}
			if v, ok := m.Values["kind"].(string); ok {
				msg.Kind = v
			}
			if v, ok := m.Values["data"].(string); ok {
				msg.Payload = json.RawMessage(v)
			}
			return msg, nil
		}
	}
	return nil, nil
}

// Ack marks a stream entry as processed.
func (b *Broker) Ack(ctx context.Context, stream, msgID string) error {
	if msgID == "" {
		return nil
	}
	return b.client.XAck(ctx, stream, b.group, msgID).Err()
}

// Depths reports stream lengths and mirrors them into the queue gauge.
func (b *Broker) Depths(ctx context.Context, streams ...string) (map[string]int64, error) {
	pipe := b.client.Pipeline()
	cmds := make(map[string]*redis.IntCmd, len(streams))
	for _, s := range streams {
		cmds[s] = pipe.XLen(ctx, s)
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}
	out := make(map[string]int64, len(streams))
	for s, cmd := range cmds {
		out[s] = cmd.Val()
		metrics.SetQueueDepth(s, cmd.Val())
	}
	return out, nil
}
