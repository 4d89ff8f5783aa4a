package domain

import (
	"fmt"
	"time"
)

// FailureCause tags why a task is being failed.
type FailureCause string

const (
	CauseTimeout         FailureCause = "timeout"
	CauseProcessingError FailureCause = "processing_error"
)

// FailRequest asks the store to fail a task unless it is already terminal.
// Whichever writer applies first wins; later requests for the same task are no-ops.
type FailRequest struct {
	TaskID  string
	Cause   FailureCause
	Message string

	// StaleBefore, when set, restricts the write to processing rows whose
	// updated_at is still older than this instant. A heartbeat landing between
	// the watchdog scan and the write therefore keeps the task alive.
	StaleBefore *time.Time
}

// ErrorText renders the message persisted in Task.ErrorMessage.
func (r FailRequest) ErrorText() string {
	if r.Cause == CauseTimeout {
		msg := r.Message
		if msg == "" {
			msg = "task exceeded the maximum processing time"
		}
		return TimeoutMarker + " " + msg
	}
	return SanitizeErrorMessage(r.Message)
}

// NewTimeoutFailure builds the watchdog's fail request for a stale task.
func NewTimeoutFailure(taskID string, threshold time.Time, maxTaskTime time.Duration) FailRequest {
	t := threshold
	return FailRequest{
		TaskID:      taskID,
		Cause:       CauseTimeout,
		Message:     fmt.Sprintf("no progress reported for more than %s", maxTaskTime),
		StaleBefore: &t,
	}
}

// NewProcessingFailure builds the processor's fail request from a pipeline error.
func NewProcessingFailure(taskID string, err error) FailRequest {
	return FailRequest{TaskID: taskID, Cause: CauseProcessingError, Message: err.Error()}
}

// Patch carries the fields a success transition writes. Nil fields are left untouched.
type Patch struct {
	Progress *int

	Title        *string
	Author       *string
	DurationSec  *int
	ThumbnailURL *string
	Language     *string

	SubtitleRaw        *string
	SubtitleTranslated *string
	SubtitleRewritten  *string
	VideoURLInternal   *string
	ExpiresAt          *time.Time

	// CreditID replaces the task's ledger entry when a new paid phase starts.
	CreditID       *string
	TargetLanguage *string
}

// Apply writes the non-nil patch fields onto t.
func (p Patch) Apply(t *Task) {
	if p.Progress != nil {
		t.Progress = max(t.Progress, ClampProgress(*p.Progress))
	}
	setIf(&t.Title, p.Title)
	setIf(&t.Author, p.Author)
	setIf(&t.ThumbnailURL, p.ThumbnailURL)
	setIf(&t.Language, p.Language)
	setIf(&t.SubtitleRaw, p.SubtitleRaw)
	setIf(&t.SubtitleTranslated, p.SubtitleTranslated)
	setIf(&t.SubtitleRewritten, p.SubtitleRewritten)
	setIf(&t.VideoURLInternal, p.VideoURLInternal)
	setIf(&t.CreditID, p.CreditID)
	if p.TargetLanguage != nil {
		t.TargetLanguage = *p.TargetLanguage
	}
	if p.DurationSec != nil {
		d := *p.DurationSec
		t.DurationSec = &d
	}
	if p.ExpiresAt != nil {
		e := *p.ExpiresAt
		t.ExpiresAt = &e
	}
}

func setIf(dst **string, src *string) {
	if src != nil {
		v := *src
		*dst = &v
	}
}

// Transition is a success-path status change plus the payload it persists.
type Transition struct {
	TaskID string
	From   []Status
	To     Status
	Patch  Patch
}

var allowedTransitions = map[Status][]Status{
	StatusPending:     {StatusProcessing},
	StatusProcessing:  {StatusProcessing, StatusExtracted, StatusCompleted},
	StatusExtracted:   {StatusTranslating, StatusCompleted},
	StatusTranslating: {StatusTranslating, StatusCompleted},
}

// CanTransition reports whether a success-path move from -> to is legal.
// Failing is handled separately by FailRequest and is legal from any non-terminal state.
func CanTransition(from, to Status) bool {
	for _, s := range allowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
