// Package providers talks to the external media and language services the
// worker pipeline depends on.
package providers

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"
)

// Metadata describes a source video.
type Metadata struct {
	Title        string `json:"title"`
	Author       string `json:"author"`
	DurationSec  int    `json:"duration_sec"`
	ThumbnailURL string `json:"thumbnail_url"`
	Language     string `json:"language"`
}

// VideoAsset is a downloaded video in blob storage behind a presigned URL.
type VideoAsset struct {
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Extractor fetches metadata, subtitles and video files for a source URL.
type Extractor interface {
	Metadata(ctx context.Context, sourceURL string) (*Metadata, error)
	Subtitles(ctx context.Context, sourceURL string) (string, error)
	DownloadVideo(ctx context.Context, sourceURL string) (*VideoAsset, error)
}

// Translator turns subtitle text into another language or rewrites it.
type Translator interface {
	Translate(ctx context.Context, subtitles, targetLanguage string) (string, error)
	Rewrite(ctx context.Context, subtitles string) (string, error)
}

// Error is a failed provider call.
type Error struct {
	Op     string
	Status int
	Msg    string
}

func (e *Error) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("provider %s: %s", e.Op, e.Msg)
	}
	return fmt.Sprintf("provider %s returned %d: %s", e.Op, e.Status, e.Msg)
}

// Retryable reports whether a provider call is worth repeating.
func Retryable(err error) bool {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Status == 0 || pe.Status == http.StatusTooManyRequests || pe.Status >= 500
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne)
}
