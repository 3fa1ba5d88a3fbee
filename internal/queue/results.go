package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Task states mirror the broker's result lifecycle. PENDING doubles as
// the answer for unknown task IDs, so polling an ID that was never
// submitted is indistinguishable from polling one not yet started.
const (
	StatePending = "PENDING"
	StateStarted = "STARTED"
	StateSuccess = "SUCCESS"
	StateFailure = "FAILURE"
	StateRevoked = "REVOKED"
)

const revokedSetKey = "tasks:revoked"

// ErrNotFound reports a task ID with no stored result record.
var ErrNotFound = errors.New("task not found")

// TaskStatus is the stored result record for one task.
type TaskStatus struct {
	TaskID    string          `json:"task_id"`
	State     string          `json:"state"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
	StartTime string          `json:"start_time,omitempty"`
	EndTime   string          `json:"end_time,omitempty"`
}

func resultKey(taskID string) string { return "task:" + taskID }

func (b *Broker) writeResult(ctx context.Context, taskID string, fields map[string]any) error {
	key := resultKey(taskID)
	pipe := b.client.TxPipeline()
	pipe.HSet(ctx, key, fields)
	pipe.Expire(ctx, key, b.resultTTL)
	_, err := pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("write result %s: %w", taskID, err)
	}
	return nil
}

func (b *Broker) initPending(ctx context.Context, taskID string) error {
	return b.writeResult(ctx, taskID, map[string]any{"state": StatePending})
}

// SetStarted records the STARTED transition with a start timestamp.
func (b *Broker) SetStarted(ctx context.Context, taskID string) error {
	return b.writeResult(ctx, taskID, map[string]any{
		"state":      StateStarted,
		"start_time": time.Now().UTC().Format(time.RFC3339),
	})
}

// SetSuccess stores the terminal result payload.
func (b *Broker) SetSuccess(ctx context.Context, taskID string, result any) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode task result: %w", err)
	}
	return b.writeResult(ctx, taskID, map[string]any{
		"state":    StateSuccess,
		"result":   string(data),
		"end_time": time.Now().UTC().Format(time.RFC3339),
	})
}

// SetFailure stores the terminal error.
func (b *Broker) SetFailure(ctx context.Context, taskID, errMsg string) error {
	return b.writeResult(ctx, taskID, map[string]any{
		"state":    StateFailure,
		"error":    errMsg,
		"end_time": time.Now().UTC().Format(time.RFC3339),
	})
}

// Revoke marks the task revoked. Workers skip revoked tasks when they
// dequeue them; an already-running task is not interrupted.
func (b *Broker) Revoke(ctx context.Context, taskID string) error {
	if err := b.client.SAdd(ctx, revokedSetKey, taskID).Err(); err != nil {
		return err
	}
	return b.writeResult(ctx, taskID, map[string]any{
		"state":    StateRevoked,
		"end_time": time.Now().UTC().Format(time.RFC3339),
	})
}

// IsRevoked reports whether the task was revoked.
func (b *Broker) IsRevoked(ctx context.Context, taskID string) (bool, error) {
	return b.client.SIsMember(ctx, revokedSetKey, taskID).Result()
}

// Status loads the result record. Missing records return ErrNotFound.
func (b *Broker) Status(ctx context.Context, taskID string) (TaskStatus, error) {
	vals, err := b.client.HGetAll(ctx, resultKey(taskID)).Result()
	if err != nil {
		return TaskStatus{}, fmt.Errorf("read result %s: %w", taskID, err)
	}
	if len(vals) == 0 {
		return TaskStatus{}, ErrNotFound
	}
	st := TaskStatus{
		TaskID:    taskID,
		State:     vals["state"],
		Error:     vals["error"],
		StartTime: vals["start_time"],
		EndTime:   vals["end_time"],
	}
	if r, ok := vals["result"]; ok && r != "" {
		st.Result = json.RawMessage(r)
	}
	return st, nil
}
