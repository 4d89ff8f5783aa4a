package domain

import (
	"net/url"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

const (
	maxErrorMessageLen = 500
	maxMetadataLen     = 300
)

// ClampProgress forces p into [0,100].
func ClampProgress(p int) int {
	return min(max(p, 0), 100)
}

// SanitizeText strips control characters (keeping newlines and tabs), trims
// surrounding space and caps the result at limit runes.
func SanitizeText(s string, limit int) string {
	s = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) || r == utf8.RuneError {
			return -1
		}
		return r
	}, s)
	s = strings.TrimSpace(s)
	if limit > 0 && utf8.RuneCountInString(s) > limit {
		runes := []rune(s)
		s = strings.TrimSpace(string(runes[:limit])) + "…"
	}
	return s
}

// SanitizeErrorMessage makes a provider error safe to persist and show.
func SanitizeErrorMessage(msg string) string {
	msg = SanitizeText(strings.ReplaceAll(msg, "\n", " "), maxErrorMessageLen)
	if msg == "" {
		return "task failed"
	}
	return msg
}

// ValidateSourceURL accepts absolute http(s) URLs only.
func ValidateSourceURL(raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return &ValidationError{Field: "source_url", Reason: "not a URL"}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return &ValidationError{Field: "source_url", Reason: "scheme must be http or https"}
	}
	if u.Host == "" {
		return &ValidationError{Field: "source_url", Reason: "missing host"}
	}
	return nil
}

// RequiredFor checks that t carries the payload needed to sit in status to.
// It returns a MissingPayloadError naming every absent field.
func RequiredFor(t *Task, to Status) error {
	var missing []string
	empty := func(s *string) bool { return s == nil || strings.TrimSpace(*s) == "" }

	switch to {
	case StatusExtracted:
		if t.OutputType == OutputSubtitle && empty(t.SubtitleRaw) {
			missing = append(missing, "subtitle_raw")
		}
		if t.OutputType == OutputVideo {
			if empty(t.VideoURLInternal) {
				missing = append(missing, "video_url_internal")
			}
			if t.ExpiresAt == nil {
				missing = append(missing, "expires_at")
			}
		}
	case StatusCompleted:
		if err := RequiredFor(t, StatusExtracted); err != nil {
			return err
		}
		if t.OutputType == OutputSubtitle && t.TargetLanguage != "" && empty(t.SubtitleTranslated) {
			missing = append(missing, "subtitle_translated")
		}
		if t.OutputType == OutputSubtitle && t.Rewrite && empty(t.SubtitleRewritten) {
			missing = append(missing, "subtitle_rewritten")
		}
	}
	if len(missing) > 0 {
		return &MissingPayloadError{TaskID: t.ID, Status: to, Fields: missing}
	}
	return nil
}

// Sanitized returns a copy of t fit for returning to a client at time now.
func (t *Task) Sanitized(now time.Time) *Task {
	c := t.Clone()
	c.Progress = ClampProgress(c.Progress)
	if c.Status == StatusFailed {
		c.Progress = 0
	}
	c.CreditID = nil
	for _, f := range []**string{&c.Title, &c.Author, &c.Language} {
		if *f != nil {
			v := SanitizeText(**f, maxMetadataLen)
			*f = &v
		}
	}
	if c.ErrorMessage != nil {
		v := SanitizeText(*c.ErrorMessage, maxErrorMessageLen)
		c.ErrorMessage = &v
	}
	if c.ExpiresAt != nil && !now.Before(*c.ExpiresAt) {
		c.VideoURLInternal = nil
	}
	return c
}
