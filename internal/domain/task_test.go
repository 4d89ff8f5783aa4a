package domain_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/JPierreXiong/subtitleTK-final-backup-sub001/internal/domain"
)

func TestStatusConstants(t *testing.T) {
	tests := []struct {
		status domain.Status
		want   string
	}{
		{domain.StatusPending, "pending"},
		{domain.StatusProcessing, "processing"},
		{domain.StatusExtracted, "extracted"},
		{domain.StatusTranslating, "translating"},
		{domain.StatusCompleted, "completed"},
		{domain.StatusFailed, "failed"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if string(tt.status) != tt.want {
				t.Errorf("Status value = %q, want %q", tt.status, tt.want)
			}
			assert.True(t, tt.status.Valid())
		})
	}
	assert.False(t, domain.Status("queued").Valid())
}

func TestIsTerminal(t *testing.T) {
	for _, s := range []domain.Status{domain.StatusCompleted, domain.StatusFailed} {
		assert.True(t, s.IsTerminal(), "IsTerminal(%q)", s)
	}
	for _, s := range []domain.Status{
		domain.StatusPending, domain.StatusProcessing,
		domain.StatusExtracted, domain.StatusTranslating,
	} {
		assert.False(t, s.IsTerminal(), "IsTerminal(%q)", s)
	}
}

func TestIsFinal_DependsOnExpectedFinal(t *testing.T) {
	assert.True(t, domain.StatusExtracted.IsFinal(domain.StatusExtracted))
	assert.False(t, domain.StatusExtracted.IsFinal(domain.StatusCompleted))
	assert.True(t, domain.StatusFailed.IsFinal(domain.StatusExtracted))
	assert.True(t, domain.StatusCompleted.IsFinal(domain.StatusCompleted))
	assert.False(t, domain.StatusProcessing.IsFinal(domain.StatusExtracted))
}

func TestExpectedFinal(t *testing.T) {
	extractOnly := &domain.Task{OutputType: domain.OutputSubtitle}
	assert.Equal(t, domain.StatusExtracted, extractOnly.ExpectedFinal())

	translate := &domain.Task{OutputType: domain.OutputSubtitle, TargetLanguage: "de"}
	assert.Equal(t, domain.StatusCompleted, translate.ExpectedFinal())

	video := &domain.Task{OutputType: domain.OutputVideo}
	assert.Equal(t, domain.StatusCompleted, video.ExpectedFinal())
}

func TestTimedOut_UsesMarker(t *testing.T) {
	req := domain.FailRequest{Cause: domain.CauseTimeout}
	msg := req.ErrorText()
	reaped := &domain.Task{Status: domain.StatusFailed, ErrorMessage: &msg}
	assert.True(t, reaped.TimedOut())

	other := "provider returned 500"
	failed := &domain.Task{Status: domain.StatusFailed, ErrorMessage: &other}
	assert.False(t, failed.TimedOut())

	running := &domain.Task{Status: domain.StatusProcessing, ErrorMessage: &msg}
	assert.False(t, running.TimedOut())
}

func TestCanTransition(t *testing.T) {
	assert.True(t, domain.CanTransition(domain.StatusPending, domain.StatusProcessing))
	assert.True(t, domain.CanTransition(domain.StatusProcessing, domain.StatusExtracted))
	assert.True(t, domain.CanTransition(domain.StatusExtracted, domain.StatusTranslating))
	assert.True(t, domain.CanTransition(domain.StatusTranslating, domain.StatusCompleted))
	assert.False(t, domain.CanTransition(domain.StatusCompleted, domain.StatusProcessing))
	assert.False(t, domain.CanTransition(domain.StatusFailed, domain.StatusCompleted))
	assert.False(t, domain.CanTransition(domain.StatusPending, domain.StatusCompleted))
}

func TestPatchApply_ProgressNeverDecreases(t *testing.T) {
	task := &domain.Task{Progress: 60}
	low, high := 30, 250
	domain.Patch{Progress: &low}.Apply(task)
	assert.Equal(t, 60, task.Progress)
	domain.Patch{Progress: &high}.Apply(task)
	assert.Equal(t, 100, task.Progress)
}

func TestClone_IsDeep(t *testing.T) {
	title := "a"
	orig := &domain.Task{ID: "t1", Title: &title}
	c := orig.Clone()
	*c.Title = "b"
	assert.Equal(t, "a", *orig.Title)
}
