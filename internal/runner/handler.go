package runner

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"
)

// TaskKind is the queue task kind for single-stage processing.
const TaskKind = "mineru.process"

// Handle adapts Run to the queue worker contract. The returned payload
// becomes the task's stored SUCCESS result.
func (r *Runner) Handle(ctx context.Context, taskID string, payload json.RawMessage) (any, error) {
	var p Payload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, fmt.Errorf("decode task payload: %w", err)
	}
	log.Info().Str("task_id", taskID).Str("filename", p.Filename).Msg("single-stage task started")
	out, err := r.Run(ctx, p)
	if err != nil {
		return nil, err
	}
	return out, nil
}
