package twostage

import (
	"github.com/local/minerudispatch/internal/chunk"
	"github.com/local/minerudispatch/internal/config"
	"github.com/local/minerudispatch/internal/runner"
	"github.com/local/minerudispatch/internal/vision"
)

// Task kinds registered with the broker.
const (
	KindParse    = "two_stage.parse"
	KindDispatch = "two_stage.dispatch"
	KindVision   = "two_stage.vision"
	KindMerge    = "two_stage.merge"
)

// PriorityUrgent routes a task to the urgent queue variants.
const PriorityUrgent = "urgent"

// Queues are the four resolved queue names for one priority level.
type Queues struct {
	Parse    string `json:"parse"`
	Vision   string `json:"vision"`
	Dispatch string `json:"dispatch"`
	Merge    string `json:"merge"`
}

// ResolveQueues picks the queue set for a priority.
func ResolveQueues(cfg config.QueueConfig, priority string) Queues {
	if priority == PriorityUrgent {
		return Queues{
			Parse:    cfg.ParseUrgent,
			Vision:   cfg.VisionUrgent,
			Dispatch: cfg.DispatchUrgent,
			Merge:    cfg.MergeUrgent,
		}
	}
	return Queues{
		Parse:    cfg.Parse,
		Vision:   cfg.Vision,
		Dispatch: cfg.Dispatch,
		Merge:    cfg.Merge,
	}
}

// TaskPayload is the two-stage submission: the single-stage options
// plus a priority and an optional pre-existing workspace.
type TaskPayload struct {
	runner.Payload
	Workspace string `json:"workspace,omitempty"`
	Priority  string `json:"priority,omitempty"`
}

// Stage1Result is the parse-stage output handed to dispatch and merge.
type Stage1Result struct {
	Task      TaskPayload        `json:"task"`
	Workspace string             `json:"workspace"`
	OutputDir string             `json:"output_dir"`
	PDFPath   string             `json:"pdf_path"`
	Items     []chunk.ParsedItem `json:"content_list"`
	ImageJobs []vision.ImageJob  `json:"image_jobs"`
}

// VisionPayload is one fan-out branch. Workspace rides along so a
// branch that fails terminally can still tear the task directory down.
type VisionPayload struct {
	Job       vision.ImageJob `json:"job"`
	Workspace string          `json:"workspace,omitempty"`
	Provider  string          `json:"provider,omitempty"`
	Model     string          `json:"model,omitempty"`
	Prompt    string          `json:"prompt,omitempty"`
	Priority  string          `json:"priority,omitempty"`
}

// VisionResult is one branch outcome. A failed vision call degrades to
// the image's caption text; Error records what went wrong.
type VisionResult struct {
	Seq        int    `json:"seq"`
	VisionText string `json:"vision_text"`
	Error      string `json:"error,omitempty"`
}

// MergePayload joins the fan-out results with the parse-stage output.
type MergePayload struct {
	Stage1 Stage1Result   `json:"stage1"`
	Vision []VisionResult `json:"vision_results"`
}
