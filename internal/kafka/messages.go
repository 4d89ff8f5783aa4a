package kafka

import (
	"time"

	"github.com/JPierreXiong/subtitleTK-final-backup-sub001/internal/domain"
)

const (
	// TopicJobs carries work for the worker pool, keyed by task id.
	TopicJobs = "tasks.pending"
	// TopicEvents carries terminal lifecycle events for downstream consumers.
	TopicEvents = "tasks.events"
)

// Phase names the slice of the pipeline a job message asks the worker to run.
type Phase string

const (
	PhaseExtract   Phase = "extract"
	PhaseTranslate Phase = "translate"
)

// JobMessage is the payload published to TopicJobs.
type JobMessage struct {
	TaskID     string    `json:"task_id"`
	Phase      Phase     `json:"phase"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// TaskEvent is the payload published to TopicEvents when a task reaches a
// terminal state, or extracted for extraction-only flows.
type TaskEvent struct {
	TaskID       string              `json:"task_id"`
	UserID       string              `json:"user_id"`
	Status       domain.Status       `json:"status"`
	Cause        domain.FailureCause `json:"cause,omitempty"`
	ErrorMessage string              `json:"error_message,omitempty"`
	Refunded     bool                `json:"refunded,omitempty"`
	UpdatedAt    time.Time           `json:"updated_at"`
}
