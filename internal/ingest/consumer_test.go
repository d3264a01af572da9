package ingest_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"driveingest/internal/broker"
	"driveingest/internal/ingest"
	"driveingest/internal/testutil"
)

const (
	testTopic = "analysis-events"
	testGroup = "analysis-saver-group"
)

type handlerFunc func(ctx context.Context, value []byte) error

func (f handlerFunc) HandleMessage(ctx context.Context, value []byte) error { return f(ctx, value) }

var fastRetry = ingest.ConsumerOptions{MinBackoff: 5 * time.Millisecond, MaxBackoff: 20 * time.Millisecond}

// runConsumer starts c and returns a stop function that cancels and waits.
func runConsumer(t *testing.T, c *ingest.Consumer) (stop func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()
	return func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("Run() error = %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Fatal("Run() did not return after cancel")
		}
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func publish(t *testing.T, b *broker.MemoryBroker, values ...string) {
	t.Helper()
	p := b.Publisher(testTopic)
	for _, v := range values {
		if err := p.Publish(context.Background(), "k", []byte(v)); err != nil {
			t.Fatalf("Publish() error = %v", err)
		}
	}
}

func TestConsumer_Run(t *testing.T) {
	t.Run("commits handled messages in order", func(t *testing.T) {
		b := broker.NewMemoryBroker()
		var mu sync.Mutex
		var got []string
		h := handlerFunc(func(ctx context.Context, value []byte) error {
			mu.Lock()
			defer mu.Unlock()
			got = append(got, string(value))
			return nil
		})

		stop := runConsumer(t, ingest.NewConsumer(b.Source(testTopic, testGroup), h, ingest.NewNopLogger(), fastRetry))
		publish(t, b, "m1", "m2", "m3")
		waitFor(t, "three commits", func() bool { return b.Committed(testTopic, testGroup) == 3 })
		stop()

		mu.Lock()
		defer mu.Unlock()
		if fmt.Sprint(got) != "[m1 m2 m3]" {
			t.Errorf("handled = %v", got)
		}
	})

	t.Run("permanent failure is dropped and committed", func(t *testing.T) {
		b := broker.NewMemoryBroker()
		logger := testutil.NewRecordingLogger()
		var calls atomic.Int32
		h := handlerFunc(func(ctx context.Context, value []byte) error {
			calls.Add(1)
			return fmt.Errorf("bad payload: %w", ingest.ErrMalformedEvent)
		})

		stop := runConsumer(t, ingest.NewConsumer(b.Source(testTopic, testGroup), h, logger, fastRetry))
		publish(t, b, "junk")
		waitFor(t, "commit", func() bool { return b.Committed(testTopic, testGroup) == 1 })
		stop()

		if calls.Load() != 1 {
			t.Errorf("handler calls = %d, want 1", calls.Load())
		}
		if !logger.Has("warn", "dropping message") {
			t.Error("expected drop warning")
		}
	})

	t.Run("transient failure is retried", func(t *testing.T) {
		b := broker.NewMemoryBroker()
		var calls atomic.Int32
		h := handlerFunc(func(ctx context.Context, value []byte) error {
			if calls.Add(1) < 3 {
				return fmt.Errorf("db busy: %w", ingest.ErrPersistenceConflict)
			}
			return nil
		})

		stop := runConsumer(t, ingest.NewConsumer(b.Source(testTopic, testGroup), h, ingest.NewNopLogger(), fastRetry))
		publish(t, b, "m1")
		waitFor(t, "commit", func() bool { return b.Committed(testTopic, testGroup) == 1 })
		stop()

		if calls.Load() != 3 {
			t.Errorf("handler calls = %d, want 3", calls.Load())
		}
	})

	t.Run("shutdown during retry leaves message for redelivery", func(t *testing.T) {
		b := broker.NewMemoryBroker()
		var calls atomic.Int32
		h := handlerFunc(func(ctx context.Context, value []byte) error {
			calls.Add(1)
			return errors.New("still failing")
		})

		stop := runConsumer(t, ingest.NewConsumer(b.Source(testTopic, testGroup), h, ingest.NewNopLogger(), fastRetry))
		publish(t, b, "m1")
		waitFor(t, "retries", func() bool { return calls.Load() >= 2 })
		stop()

		if n := b.Committed(testTopic, testGroup); n != 0 {
			t.Fatalf("Committed() = %d, want 0", n)
		}

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		msg, err := b.Source(testTopic, testGroup).Fetch(ctx)
		if err != nil {
			t.Fatalf("Fetch() after restart error = %v", err)
		}
		if string(msg.Value) != "m1" {
			t.Errorf("redelivered %q, want m1", msg.Value)
		}
	})

	t.Run("message in hand finishes on shutdown", func(t *testing.T) {
		b := broker.NewMemoryBroker()
		started := make(chan struct{})
		release := make(chan struct{})
		h := handlerFunc(func(ctx context.Context, value []byte) error {
			close(started)
			<-release
			return ctx.Err()
		})

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		c := ingest.NewConsumer(b.Source(testTopic, testGroup), h, ingest.NewNopLogger(), fastRetry)
		go func() { done <- c.Run(ctx) }()

		publish(t, b, "m1")
		<-started
		cancel()
		close(release)

		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatal("Run() did not return")
		}
		if n := b.Committed(testTopic, testGroup); n != 1 {
			t.Errorf("Committed() = %d, want 1", n)
		}
	})
}

func TestConsumer_WithAnalysisIngester(t *testing.T) {
	env := newTestEnv(t)
	seedFile(t, env, "doc-1")
	b := broker.NewMemoryBroker()

	stop := runConsumer(t, ingest.NewConsumer(b.Source(testTopic, testGroup), env.svc.Analysis, env.logger, fastRetry))
	publish(t, b,
		`{"file_id": "ghost", "analysis_results": {"initial_evaluation": {"final_score": 1}}}`,
		`{"file_id": "doc-1", "analysis_results": {"initial_evaluation": {"final_score": 6}}}`,
	)
	waitFor(t, "both commits", func() bool { return b.Committed(testTopic, testGroup) == 2 })
	stop()

	got, err := env.svc.Analysis.Analysis(context.Background(), "doc-1")
	if err != nil {
		t.Fatalf("Analysis() error = %v", err)
	}
	if got.Initial.FinalScore != 6 {
		t.Errorf("FinalScore = %v, want 6", got.Initial.FinalScore)
	}
}
