package providers_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JPierreXiong/subtitleTK-final-backup-sub001/internal/providers"
)

func newServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func TestHTTPClient_Metadata(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/metadata", r.URL.Path)
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		var in map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		assert.Equal(t, "https://video.example.com/1", in["source_url"])
		_ = json.NewEncoder(w).Encode(providers.Metadata{Title: "Talk", Author: "Ann", DurationSec: 61})
	})

	c := providers.NewHTTPClient(srv.URL, srv.URL, "key", time.Second)
	md, err := c.Metadata(context.Background(), "https://video.example.com/1")
	require.NoError(t, err)
	assert.Equal(t, "Talk", md.Title)
	assert.Equal(t, 61, md.DurationSec)
}

func TestHTTPClient_EmptySubtitlesIsAnError(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"subtitles":"  "}`))
	})

	_, err := providers.NewHTTPClient(srv.URL, srv.URL, "", time.Second).Subtitles(context.Background(), "https://v")
	var perr *providers.Error
	require.ErrorAs(t, err, &perr)
	assert.False(t, providers.Retryable(err))
}

func TestHTTPClient_DownloadRequiresExpiry(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"url":"https://blob/v.mp4"}`))
	})

	_, err := providers.NewHTTPClient(srv.URL, srv.URL, "", time.Second).DownloadVideo(context.Background(), "https://v")
	require.Error(t, err)
}

func TestHTTPClient_Translate(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/translate", r.URL.Path)
		var in map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		_ = json.NewEncoder(w).Encode(map[string]string{"text": in["target_language"] + ":" + in["text"]})
	})

	out, err := providers.NewHTTPClient(srv.URL, srv.URL, "", time.Second).Translate(context.Background(), "hello", "fr")
	require.NoError(t, err)
	assert.Equal(t, "fr:hello", out)
}

func TestHTTPClient_ServerErrorIsRetryable(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	})

	_, err := providers.NewHTTPClient(srv.URL, srv.URL, "", time.Second).Rewrite(context.Background(), "hello")
	var perr *providers.Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, http.StatusServiceUnavailable, perr.Status)
	assert.Equal(t, "overloaded", perr.Msg)
	assert.True(t, providers.Retryable(err))
}

func TestHTTPClient_ClientErrorIsNotRetryable(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "video is private", http.StatusForbidden)
	})

	_, err := providers.NewHTTPClient(srv.URL, srv.URL, "", time.Second).Metadata(context.Background(), "https://v")
	require.Error(t, err)
	assert.False(t, providers.Retryable(err))
}
