package domain

import (
	"fmt"
	"strings"
)

// TaskNotFoundError is returned when a task ID does not exist.
type TaskNotFoundError struct {
	TaskID string
}

func (e *TaskNotFoundError) Error() string {
	return fmt.Sprintf("task not found: %s", e.TaskID)
}

// TaskTerminalError is returned when a write targets a task that already finished.
type TaskTerminalError struct {
	TaskID string
	Status Status
}

func (e *TaskTerminalError) Error() string {
	return fmt.Sprintf("task %s already finished with status %s", e.TaskID, e.Status)
}

// InvalidTransitionError is returned when a success transition is not allowed
// from the task's current status.
type InvalidTransitionError struct {
	TaskID string
	From   Status
	To     Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("task %s cannot move from %s to %s", e.TaskID, e.From, e.To)
}

// MissingPayloadError is returned when a success transition lacks required output.
type MissingPayloadError struct {
	TaskID string
	Status Status
	Fields []string
}

func (e *MissingPayloadError) Error() string {
	return fmt.Sprintf("task %s cannot reach %s without %s", e.TaskID, e.Status, strings.Join(e.Fields, ", "))
}

// InsufficientCreditsError is returned when a user cannot pay for a phase.
type InsufficientCreditsError struct {
	UserID   string
	Required int
}

func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("user %s has fewer than %d credits", e.UserID, e.Required)
}

// CreditEntryNotFoundError is returned when a refund names an unknown ledger entry.
type CreditEntryNotFoundError struct {
	CreditID string
}

func (e *CreditEntryNotFoundError) Error() string {
	return fmt.Sprintf("credit entry not found: %s", e.CreditID)
}

// RateLimitExceededError is returned when status reads for a key exceed the limit.
type RateLimitExceededError struct {
	Key   string
	Limit int
}

func (e *RateLimitExceededError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %q: limit is %d", e.Key, e.Limit)
}

// ValidationError is returned when client input is rejected.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}
