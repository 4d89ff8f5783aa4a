package tasksync

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/JPierreXiong/subtitleTK-final-backup-sub001/internal/domain"
	redisstore "github.com/JPierreXiong/subtitleTK-final-backup-sub001/internal/redis"
)

// HTTPPuller reads task status from the gateway's status endpoint.
type HTTPPuller struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewHTTPPuller creates a puller for baseURL (e.g. "http://localhost:8080")
// authenticating with a bearer token. Each request is bounded by timeout.
func NewHTTPPuller(baseURL, token string, timeout time.Duration) *HTTPPuller {
	return &HTTPPuller{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: timeout},
	}
}

func (p *HTTPPuller) Pull(ctx context.Context, taskID string) (*domain.Task, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		p.baseURL+"/api/v1/tasks/"+url.PathEscape(taskID), nil)
	if err != nil {
		return nil, fmt.Errorf("build status request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if p.token != "" {
		req.Header.Set("Authorization", "Bearer "+p.token)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("status request for %s: %w", taskID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var task domain.Task
	if err := json.NewDecoder(resp.Body).Decode(&task); err != nil {
		return nil, fmt.Errorf("decode status for %s: %w", taskID, err)
	}
	return &task, nil
}

// RedisPusher subscribes to the per-task update channel in Redis.
type RedisPusher struct {
	client     *redis.Client
	ackTimeout time.Duration
	logger     *slog.Logger
}

// NewRedisPusher creates a pusher. Subscribe gives up if the server has not
// confirmed the subscription within ackTimeout.
func NewRedisPusher(client *redis.Client, ackTimeout time.Duration, logger *slog.Logger) *RedisPusher {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisPusher{client: client, ackTimeout: ackTimeout, logger: logger}
}

func (p *RedisPusher) Subscribe(ctx context.Context, taskID string) (Subscription, error) {
	ps := p.client.Subscribe(ctx, redisstore.UpdatesChannel(taskID))

	ackCtx, cancel := context.WithTimeout(ctx, p.ackTimeout)
	defer cancel()
	if _, err := ps.Receive(ackCtx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe to updates for %s: %w", taskID, err)
	}

	sub := &redisSubscription{ps: ps, out: make(chan *domain.Task, 16), closed: make(chan struct{})}
	go sub.forward(p.logger.With(slog.String("task_id", taskID)))
	return sub, nil
}

type redisSubscription struct {
	ps     *redis.PubSub
	out    chan *domain.Task
	closed chan struct{}
	once   sync.Once
}

func (s *redisSubscription) Updates() <-chan *domain.Task { return s.out }

func (s *redisSubscription) Close() error {
	var err error
	s.once.Do(func() {
		close(s.closed)
		err = s.ps.Close()
	})
	return err
}

// forward decodes messages until the pubsub channel closes, then closes out.
func (s *redisSubscription) forward(log *slog.Logger) {
	defer close(s.out)
	for msg := range s.ps.Channel() {
		var task domain.Task
		if err := json.Unmarshal([]byte(msg.Payload), &task); err != nil {
			log.Warn("dropping malformed update", slog.String("error", err.Error()))
			continue
		}
		select {
		case s.out <- &task:
		case <-s.closed:
			return
		}
	}
}
