package domain_test

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JPierreXiong/subtitleTK-final-backup-sub001/internal/domain"
)

func strp(s string) *string { return &s }

func TestClampProgress(t *testing.T) {
	assert.Equal(t, 0, domain.ClampProgress(-5))
	assert.Equal(t, 42, domain.ClampProgress(42))
	assert.Equal(t, 100, domain.ClampProgress(101))
}

func TestSanitizeText(t *testing.T) {
	assert.Equal(t, "hello\tworld", domain.SanitizeText("  hello\x00\tworld\x07 ", 0))
	got := domain.SanitizeText(strings.Repeat("x", 20), 5)
	assert.Equal(t, "xxxxx…", got)
}

func TestSanitizeErrorMessage(t *testing.T) {
	assert.Equal(t, "task failed", domain.SanitizeErrorMessage("  \x00 "))
	assert.Equal(t, "line one line two", domain.SanitizeErrorMessage("line one\nline two"))
}

func TestValidateSourceURL(t *testing.T) {
	require.NoError(t, domain.ValidateSourceURL("https://www.youtube.com/watch?v=abc"))

	for _, raw := range []string{"ftp://host/file", "not a url", "https://", "/relative"} {
		err := domain.ValidateSourceURL(raw)
		var ve *domain.ValidationError
		require.True(t, errors.As(err, &ve), "expected ValidationError for %q", raw)
		assert.Equal(t, "source_url", ve.Field)
	}
}

func TestRequiredFor_Subtitle(t *testing.T) {
	task := &domain.Task{ID: "t1", OutputType: domain.OutputSubtitle, TargetLanguage: "fr"}

	err := domain.RequiredFor(task, domain.StatusExtracted)
	var mp *domain.MissingPayloadError
	require.ErrorAs(t, err, &mp)
	assert.Equal(t, []string{"subtitle_raw"}, mp.Fields)

	task.SubtitleRaw = strp("1\n00:00:01,000 --> 00:00:02,000\nhi\n")
	require.NoError(t, domain.RequiredFor(task, domain.StatusExtracted))

	err = domain.RequiredFor(task, domain.StatusCompleted)
	require.ErrorAs(t, err, &mp)
	assert.Equal(t, []string{"subtitle_translated"}, mp.Fields)

	task.SubtitleTranslated = strp("bonjour")
	require.NoError(t, domain.RequiredFor(task, domain.StatusCompleted))
}

func TestRequiredFor_Video(t *testing.T) {
	task := &domain.Task{ID: "v1", OutputType: domain.OutputVideo}

	err := domain.RequiredFor(task, domain.StatusCompleted)
	var mp *domain.MissingPayloadError
	require.ErrorAs(t, err, &mp)
	assert.ElementsMatch(t, []string{"video_url_internal", "expires_at"}, mp.Fields)

	exp := time.Now().Add(time.Hour)
	task.VideoURLInternal = strp("s3://bucket/v1.mp4")
	task.ExpiresAt = &exp
	require.NoError(t, domain.RequiredFor(task, domain.StatusCompleted))
}

func TestSanitized(t *testing.T) {
	now := time.Now()
	expired := now.Add(-time.Minute)
	task := &domain.Task{
		ID:               "t1",
		Status:           domain.StatusFailed,
		Progress:         70,
		CreditID:         strp("credit-1"),
		Title:            strp("  My\x00 Title  "),
		ErrorMessage:     strp("boom"),
		VideoURLInternal: strp("s3://bucket/key"),
		ExpiresAt:        &expired,
	}

	got := task.Sanitized(now)
	assert.Equal(t, 0, got.Progress)
	assert.Nil(t, got.CreditID)
	assert.Equal(t, "My Title", *got.Title)
	assert.Nil(t, got.VideoURLInternal)

	// the original is untouched
	assert.Equal(t, 70, task.Progress)
	assert.NotNil(t, task.CreditID)
}

func TestFailRequest_ErrorText(t *testing.T) {
	timeout := domain.NewTimeoutFailure("t1", time.Now(), 90*time.Second)
	assert.True(t, domain.IsTimeoutMessage(timeout.ErrorText()))
	assert.Contains(t, timeout.ErrorText(), "1m30s")

	proc := domain.NewProcessingFailure("t1", errors.New("provider 502"))
	assert.False(t, domain.IsTimeoutMessage(proc.ErrorText()))
	assert.Equal(t, "provider 502", proc.ErrorText())
}
