package worker_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"brandclip-worker-service/internal/dispatch"
	"brandclip-worker-service/internal/entity"
	"brandclip-worker-service/internal/worker"
)

type relayQueueStub struct {
	mu      sync.Mutex
	pending []*dispatch.Envelope
	acked   []string
	retried map[string]time.Duration
	done    chan struct{}
	want    int
}

func (q *relayQueueStub) settle() {
	if len(q.acked)+len(q.retried) == q.want {
		close(q.done)
	}
}

func (q *relayQueueStub) ClaimBlocking(ctx context.Context, timeout time.Duration) (*dispatch.Envelope, error) {
	q.mu.Lock()
	if len(q.pending) > 0 {
		env := q.pending[0]
		q.pending = q.pending[1:]
		q.mu.Unlock()
		return env, nil
	}
	q.mu.Unlock()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(10 * time.Millisecond):
		return nil, dispatch.ErrEmpty
	}
}

func (q *relayQueueStub) Ack(ctx context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.acked = append(q.acked, id)
	q.settle()
	return nil
}

func (q *relayQueueStub) Retry(ctx context.Context, env *dispatch.Envelope, delay time.Duration) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.retried[env.ID] = delay
	q.settle()
	return true, nil
}

func (q *relayQueueStub) PromoteDue(ctx context.Context, limit int64) (int64, error) { return 0, nil }

func TestPool_DeliversSignedWebhooks(t *testing.T) {
	verifier := dispatch.NewVerifier("relay-key", "")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var p entity.WebhookPayload
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &p)
		if err := verifier.Verify(r.Header.Get(dispatch.SignatureHeader), raw); err != nil {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		switch p.VideoID {
		case "busy":
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"retryAfter":12}`))
		case "boom":
			w.WriteHeader(http.StatusInternalServerError)
		default:
			_, _ = w.Write([]byte(`{"success":true}`))
		}
	}))
	defer srv.Close()

	queue := &relayQueueStub{
		pending: []*dispatch.Envelope{
			{ID: "ok", Type: entity.JobTypeEdit, Payload: entity.WebhookPayload{VideoID: "fine"}},
			{ID: "429", Type: entity.JobTypeUpload, Payload: entity.WebhookPayload{VideoID: "busy"}},
			{ID: "500", Type: entity.JobTypeEdit, Payload: entity.WebhookPayload{VideoID: "boom"}, Attempts: 1},
		},
		retried: map[string]time.Duration{},
		done:    make(chan struct{}),
		want:    3,
	}
	pool := worker.NewPool(queue, worker.RelayConfig{
		Workers:    2,
		ClaimDelay: 10 * time.Millisecond,
		SigningKey: "relay-key",
		Destinations: map[entity.JobType]string{
			entity.JobTypeEdit:   srv.URL + "/edit/process",
			entity.JobTypeUpload: srv.URL + "/upload/process",
		},
	}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	finished := make(chan struct{})
	go func() {
		pool.Run(ctx)
		close(finished)
	}()

	select {
	case <-queue.done:
	case <-time.After(5 * time.Second):
		t.Fatalf("deliveries did not settle")
	}
	cancel()
	<-finished

	queue.mu.Lock()
	defer queue.mu.Unlock()
	if len(queue.acked) != 1 || queue.acked[0] != "ok" {
		t.Fatalf("expected only the 2xx delivery acked, got %v", queue.acked)
	}
	if d := queue.retried["429"]; d != 12*time.Second {
		t.Fatalf("expected 429 retry after 12s, got %v", d)
	}
	if d := queue.retried["500"]; d != 4*time.Second {
		t.Fatalf("expected 500 retry after 2^2s, got %v", d)
	}
}
