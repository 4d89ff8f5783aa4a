package domain

import (
	"strings"
	"time"
)

// Status represents the states a task can be in.
type Status string

const (
	StatusPending     Status = "pending"
	StatusProcessing  Status = "processing"
	StatusExtracted   Status = "extracted"
	StatusTranslating Status = "translating"
	StatusCompleted   Status = "completed"
	StatusFailed      Status = "failed"
)

// IsTerminal returns true if no further state transitions are possible.
// extracted is not terminal here: it only ends extraction-only flows, see IsFinal.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// IsFinal reports whether s ends a flow whose success state is expected.
func (s Status) IsFinal(expected Status) bool {
	if s.IsTerminal() {
		return true
	}
	return expected == StatusExtracted && s == StatusExtracted
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusExtracted,
		StatusTranslating, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// OutputType is fixed at creation and decides which payload fields a task needs.
type OutputType string

const (
	OutputSubtitle OutputType = "subtitle"
	OutputVideo    OutputType = "video"
)

func (o OutputType) Valid() bool {
	return o == OutputSubtitle || o == OutputVideo
}

// TimeoutMarker identifies watchdog-induced failures inside ErrorMessage.
const TimeoutMarker = "[TIMEOUT]"

// IsTimeoutMessage reports whether msg carries the watchdog timeout marker.
func IsTimeoutMessage(msg string) bool {
	return strings.Contains(msg, TimeoutMarker)
}

// Task is one client-submitted media-processing job and its persisted state.
type Task struct {
	ID           string     `json:"id"`
	UserID       string     `json:"user_id"`
	Status       Status     `json:"status"`
	Progress     int        `json:"progress"`
	OutputType   OutputType `json:"output_type"`
	ErrorMessage *string    `json:"error_message,omitempty"`
	CreditID     *string    `json:"credit_id,omitempty"`

	SourceURL      string `json:"source_url"`
	TargetLanguage string `json:"target_language,omitempty"`
	Rewrite        bool   `json:"rewrite,omitempty"`

	Title        *string `json:"title,omitempty"`
	Author       *string `json:"author,omitempty"`
	DurationSec  *int    `json:"duration_sec,omitempty"`
	ThumbnailURL *string `json:"thumbnail_url,omitempty"`
	Language     *string `json:"language,omitempty"`

	SubtitleRaw        *string    `json:"subtitle_raw,omitempty"`
	SubtitleTranslated *string    `json:"subtitle_translated,omitempty"`
	SubtitleRewritten  *string    `json:"subtitle_rewritten,omitempty"`
	VideoURLInternal   *string    `json:"video_url_internal,omitempty"`
	ExpiresAt          *time.Time `json:"expires_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TimedOut reports whether the task failed because the watchdog reaped it.
func (t *Task) TimedOut() bool {
	return t.Status == StatusFailed && t.ErrorMessage != nil && IsTimeoutMessage(*t.ErrorMessage)
}

// ExtractionOnly reports whether the submitted goal ends at extraction.
func (t *Task) ExtractionOnly() bool {
	return t.OutputType == OutputSubtitle && t.TargetLanguage == "" && !t.Rewrite
}

// ExpectedFinal is the non-failure status that ends this task's initial flow.
func (t *Task) ExpectedFinal() Status {
	if t.ExtractionOnly() {
		return StatusExtracted
	}
	return StatusCompleted
}

// Clone returns a deep copy so callers can mutate without racing the owner.
func (t *Task) Clone() *Task {
	c := *t
	c.ErrorMessage = cloneString(t.ErrorMessage)
	c.CreditID = cloneString(t.CreditID)
	c.Title = cloneString(t.Title)
	c.Author = cloneString(t.Author)
	c.ThumbnailURL = cloneString(t.ThumbnailURL)
	c.Language = cloneString(t.Language)
	c.SubtitleRaw = cloneString(t.SubtitleRaw)
	c.SubtitleTranslated = cloneString(t.SubtitleTranslated)
	c.SubtitleRewritten = cloneString(t.SubtitleRewritten)
	c.VideoURLInternal = cloneString(t.VideoURLInternal)
	if t.DurationSec != nil {
		d := *t.DurationSec
		c.DurationSec = &d
	}
	if t.ExpiresAt != nil {
		e := *t.ExpiresAt
		c.ExpiresAt = &e
	}
	return &c
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
