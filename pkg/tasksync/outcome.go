package tasksync

import (
	"fmt"

	"github.com/JPierreXiong/subtitleTK-final-backup-sub001/internal/domain"
)

// OutcomeKind classifies how a watched flow ended.
type OutcomeKind int

const (
	// Succeeded: the task reached its expected final status.
	Succeeded OutcomeKind = iota + 1
	// Failed: the task failed on the server for a reason other than a timeout.
	Failed
	// TimedOut: the server watchdog failed the task and refunded its credits.
	TimedOut
	// ClientTimeout: the client stopped waiting before any final status arrived.
	ClientTimeout
	// Errored: status could not be read and retrying would not help.
	Errored
)

func (k OutcomeKind) String() string {
	switch k {
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	case TimedOut:
		return "timed_out"
	case ClientTimeout:
		return "client_timeout"
	case Errored:
		return "error"
	}
	return fmt.Sprintf("OutcomeKind(%d)", int(k))
}

const (
	msgServerTimeout = "The task took too long on the server and was stopped. Your credits have been refunded."
	msgClientTimeout = "This is taking too long, so we stopped waiting. No charge was made for this attempt."
	msgFailed        = "The task failed. Your credits have been refunded."
)

// Outcome is the single result surfaced for a flow.
type Outcome struct {
	Kind OutcomeKind
	// Task is the last accepted snapshot; nil if none arrived.
	Task *domain.Task
	// Message is user-facing text describing the outcome.
	Message string
	// Err is set for Errored outcomes.
	Err error
}

func outcomeFor(task *domain.Task) Outcome {
	if task.Status != domain.StatusFailed {
		return Outcome{Kind: Succeeded, Task: task}
	}
	if task.TimedOut() {
		return Outcome{Kind: TimedOut, Task: task, Message: msgServerTimeout}
	}
	msg := msgFailed
	if task.ErrorMessage != nil && *task.ErrorMessage != "" {
		msg = domain.SanitizeErrorMessage(*task.ErrorMessage)
	}
	return Outcome{Kind: Failed, Task: task, Message: msg}
}
