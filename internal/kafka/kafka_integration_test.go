//go:build integration

package kafka_test

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"testing"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcKafka "github.com/testcontainers/testcontainers-go/modules/kafka"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/JPierreXiong/subtitleTK-final-backup-sub001/internal/kafka"
)

var testBrokers []string

func TestMain(m *testing.M) {
	os.Exit(run(m))
}

func run(m *testing.M) int {
	ctx := context.Background()

	ctr, err := tcKafka.Run(ctx, "confluentinc/confluent-local:7.7.1",
		testcontainers.WithWaitStrategy(
			wait.ForLog("Kafka Server started").WithStartupTimeout(90*time.Second),
		),
	)
	if err != nil {
		log.Fatalf("start kafka container: %v", err)
	}
	defer ctr.Terminate(ctx) //nolint:errcheck

	testBrokers, err = ctr.Brokers(ctx)
	if err != nil {
		log.Fatalf("kafka brokers: %v", err)
	}
	otel.SetTextMapPropagator(propagation.TraceContext{})
	return m.Run()
}

// createTopic avoids racing auto-creation on the first publish.
func createTopic(t *testing.T) string {
	t.Helper()
	topic := fmt.Sprintf("jobs-%d", time.Now().UnixNano())
	conn, err := kafkago.DialContext(context.Background(), "tcp", testBrokers[0])
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.CreateTopics(kafkago.TopicConfig{Topic: topic, NumPartitions: 1, ReplicationFactor: 1}))
	return topic
}

func consumeOne(t *testing.T, topic, group string, handler kafka.HandlerFunc) {
	t.Helper()
	c := kafka.NewConsumer(testBrokers, topic, group, slog.Default())
	defer c.Close() //nolint:errcheck

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	done := make(chan struct{})
	go func() {
		_ = c.Subscribe(ctx, func(ctx context.Context, m kafka.Message) error {
			defer func() {
				close(done)
				// let the consumer finish its commit path before stopping
				time.AfterFunc(300*time.Millisecond, cancel)
			}()
			return handler(ctx, m)
		})
	}()
	select {
	case <-done:
	case <-ctx.Done():
		t.Fatal("timed out waiting for message")
	}
	<-ctx.Done()
}

func TestJobRoundTripCarriesTrace(t *testing.T) {
	topic := createTopic(t)
	p := kafka.NewProducer(testBrokers)
	t.Cleanup(func() { p.Close() }) //nolint:errcheck

	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID{0xaa},
		SpanID:     trace.SpanID{0xbb},
		TraceFlags: trace.FlagsSampled,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)
	require.NoError(t, kafka.PublishJSON(ctx, p, topic, "task-1",
		kafka.JobMessage{TaskID: "task-1", Phase: kafka.PhaseExtract, EnqueuedAt: time.Now()}))

	consumeOne(t, topic, "group-trace", func(ctx context.Context, m kafka.Message) error {
		assert.Equal(t, "task-1", string(m.Key))
		assert.Contains(t, string(m.Value), `"phase":"extract"`)
		assert.Equal(t, sc.TraceID(), trace.SpanContextFromContext(ctx).TraceID())
		return nil
	})
}

func TestFailedMessageIsRedelivered(t *testing.T) {
	topic := createTopic(t)
	group := fmt.Sprintf("group-redeliver-%d", time.Now().UnixNano())
	p := kafka.NewProducer(testBrokers)
	t.Cleanup(func() { p.Close() }) //nolint:errcheck
	require.NoError(t, p.Publish(context.Background(), topic, "task-2", []byte(`{"task_id":"task-2"}`)))

	consumeOne(t, topic, group, func(context.Context, kafka.Message) error {
		return errors.New("store unavailable")
	})

	var got []byte
	consumeOne(t, topic, group, func(_ context.Context, m kafka.Message) error {
		got = m.Value
		return nil
	})
	assert.JSONEq(t, `{"task_id":"task-2"}`, string(got))
}

func TestDiscardedMessageIsCommitted(t *testing.T) {
	topic := createTopic(t)
	group := fmt.Sprintf("group-discard-%d", time.Now().UnixNano())
	p := kafka.NewProducer(testBrokers)
	t.Cleanup(func() { p.Close() }) //nolint:errcheck
	ctx := context.Background()
	require.NoError(t, p.Publish(ctx, topic, "bad", []byte(`not json`)))
	require.NoError(t, p.Publish(ctx, topic, "good", []byte(`{"task_id":"task-3"}`)))

	consumeOne(t, topic, group, func(context.Context, kafka.Message) error {
		return fmt.Errorf("decode job: %w", kafka.ErrDiscard)
	})

	var key string
	consumeOne(t, topic, group, func(_ context.Context, m kafka.Message) error {
		key = string(m.Key)
		return nil
	})
	assert.Equal(t, "good", key)
}
