package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// HTTPClient calls providers exposed as JSON-over-HTTP endpoints:
// POST {base}/{op} with a JSON body, JSON response on 2xx.
type HTTPClient struct {
	extractorURL  string
	translatorURL string
	apiKey        string
	client        *http.Client
}

var (
	_ Extractor  = (*HTTPClient)(nil)
	_ Translator = (*HTTPClient)(nil)
)

// NewHTTPClient creates a client. timeout bounds each call, including long
// downloads, so it should cover the slowest expected provider response.
func NewHTTPClient(extractorURL, translatorURL, apiKey string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		extractorURL:  strings.TrimRight(extractorURL, "/"),
		translatorURL: strings.TrimRight(translatorURL, "/"),
		apiKey:        apiKey,
		client:        &http.Client{Timeout: timeout},
	}
}

func (c *HTTPClient) Metadata(ctx context.Context, sourceURL string) (*Metadata, error) {
	var out Metadata
	if err := c.call(ctx, c.extractorURL, "metadata", map[string]string{"source_url": sourceURL}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) Subtitles(ctx context.Context, sourceURL string) (string, error) {
	var out struct {
		Subtitles string `json:"subtitles"`
	}
	if err := c.call(ctx, c.extractorURL, "subtitles", map[string]string{"source_url": sourceURL}, &out); err != nil {
		return "", err
	}
	if strings.TrimSpace(out.Subtitles) == "" {
		return "", &Error{Op: "subtitles", Status: http.StatusUnprocessableEntity, Msg: "no subtitles available for this video"}
	}
	return out.Subtitles, nil
}

func (c *HTTPClient) DownloadVideo(ctx context.Context, sourceURL string) (*VideoAsset, error) {
	var out VideoAsset
	if err := c.call(ctx, c.extractorURL, "download", map[string]string{"source_url": sourceURL}, &out); err != nil {
		return nil, err
	}
	if out.URL == "" || out.ExpiresAt.IsZero() {
		return nil, &Error{Op: "download", Status: http.StatusBadGateway, Msg: "response missing url or expires_at"}
	}
	return &out, nil
}

func (c *HTTPClient) Translate(ctx context.Context, subtitles, targetLanguage string) (string, error) {
	var out struct {
		Text string `json:"text"`
	}
	in := map[string]string{"text": subtitles, "target_language": targetLanguage}
	if err := c.call(ctx, c.translatorURL, "translate", in, &out); err != nil {
		return "", err
	}
	return out.Text, nil
}

func (c *HTTPClient) Rewrite(ctx context.Context, subtitles string) (string, error) {
	var out struct {
		Text string `json:"text"`
	}
	if err := c.call(ctx, c.translatorURL, "rewrite", map[string]string{"text": subtitles}, &out); err != nil {
		return "", err
	}
	return out.Text, nil
}

func (c *HTTPClient) call(ctx context.Context, base, op string, in, out any) error {
	ctx, span := otel.Tracer("worker").Start(ctx, "provider."+op)
	defer span.End()
	span.SetAttributes(attribute.String("provider.op", op))

	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", op, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/"+op, bytes.NewReader(body))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "build request failed")
		return fmt.Errorf("build %s request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "http call failed")
		return fmt.Errorf("provider %s: %w", op, err)
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	if resp.StatusCode >= http.StatusBadRequest {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		perr := &Error{Op: op, Status: resp.StatusCode, Msg: strings.TrimSpace(string(msg))}
		span.RecordError(perr)
		span.SetStatus(codes.Error, "bad status code")
		return perr
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		span.RecordError(err)
		return &Error{Op: op, Status: resp.StatusCode, Msg: "invalid response body: " + err.Error()}
	}
	return nil
}
