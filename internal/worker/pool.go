package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"brandclip-worker-service/internal/dispatch"
	"brandclip-worker-service/internal/entity"
	"brandclip-worker-service/internal/guard"
	"brandclip-worker-service/internal/metrics"
)

// RelayQueue is the claim side of dispatch.RedisQueue.
type RelayQueue interface {
	ClaimBlocking(ctx context.Context, timeout time.Duration) (*dispatch.Envelope, error)
	Ack(ctx context.Context, id string) error
	Retry(ctx context.Context, env *dispatch.Envelope, delay time.Duration) (bool, error)
	PromoteDue(ctx context.Context, limit int64) (int64, error)
}

type RelayConfig struct {
	Workers      int
	ClaimDelay   time.Duration
	Destinations map[entity.JobType]string
	SigningKey   string
	// MaxRetryDelay caps the exponential delay for failed deliveries.
	MaxRetryDelay time.Duration
}

// Pool drains the local redis lanes and delivers each item as a signed
// webhook, standing in for the hosted push queue.
type Pool struct {
	queue  RelayQueue
	cfg    RelayConfig
	http   *http.Client
	logger *zap.Logger
}

func NewPool(queue RelayQueue, cfg RelayConfig, logger *zap.Logger) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.ClaimDelay <= 0 {
		cfg.ClaimDelay = 5 * time.Second
	}
	if cfg.MaxRetryDelay <= 0 {
		cfg.MaxRetryDelay = 5 * time.Minute
	}
	return &Pool{
		queue: queue,
		cfg:   cfg,
		// a delivery covers a full edit or upload run
		http:   &http.Client{Timeout: 30 * time.Minute},
		logger: logger.With(zap.String("component", "relay")),
	}
}

func (p *Pool) Run(ctx context.Context) {
	p.logger.Info("relay pool started", zap.Int("workers", p.cfg.Workers))

	envCh := make(chan *dispatch.Envelope)
	var wg sync.WaitGroup

	for i := 0; i < p.cfg.Workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for env := range envCh {
				p.handle(ctx, n, env)
			}
		}(i + 1)
	}

	go p.promote(ctx)

	// listener: atomically claim from queue -> processing
	defer func() {
		close(envCh)
		wg.Wait()
		p.logger.Info("relay pool stopped")
	}()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		env, err := p.queue.ClaimBlocking(ctx, p.cfg.ClaimDelay)
		if err != nil {
			// timeout or ctx cancel is not fatal; the next loop re-checks ctx
			continue
		}
		select {
		case envCh <- env:
		case <-ctx.Done():
			return
		}
	}
}

func (p *Pool) promote(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := p.queue.PromoteDue(ctx, 100); err != nil && ctx.Err() == nil {
				p.logger.Warn("promote delayed deliveries", zap.Error(err))
			}
		}
	}
}

// handle delivers env once and acks or reschedules it. The webhook response
// decides: 2xx acks, 429 retries after the advertised wait, 5xx and network
// errors retry with exponential delay, other 4xx are dropped.
func (p *Pool) handle(ctx context.Context, n int, env *dispatch.Envelope) {
	log := p.logger.With(
		zap.Int("relay", n),
		zap.String("delivery_id", env.ID),
		zap.String("type", string(env.Type)),
		zap.String("video_id", env.Payload.VideoID),
	)

	status, retryAfter, err := p.deliver(ctx, env)
	switch {
	case err == nil && status/100 == 2:
		metrics.RelayDeliveriesTotal.WithLabelValues("delivered").Inc()
		p.ack(ctx, env, log)
	case err == nil && status == http.StatusTooManyRequests:
		metrics.RelayDeliveriesTotal.WithLabelValues("deferred").Inc()
		if retryAfter <= 0 {
			retryAfter = 30 * time.Second
		}
		p.retry(ctx, env, retryAfter, log)
	case err != nil || status >= 500:
		metrics.RelayDeliveriesTotal.WithLabelValues("failed").Inc()
		log.Warn("delivery failed", zap.Int("status", status), zap.Error(err))
		p.retry(ctx, env, guard.BackoffFor(env.Attempts+1, p.cfg.MaxRetryDelay), log)
	default:
		metrics.RelayDeliveriesTotal.WithLabelValues("rejected").Inc()
		log.Error("delivery rejected, dropping", zap.Int("status", status))
		p.ack(ctx, env, log)
	}
}

func (p *Pool) ack(ctx context.Context, env *dispatch.Envelope, log *zap.Logger) {
	if err := p.queue.Ack(ctx, env.ID); err != nil {
		log.Error("ack delivery", zap.Error(err))
	}
}

func (p *Pool) retry(ctx context.Context, env *dispatch.Envelope, delay time.Duration, log *zap.Logger) {
	again, err := p.queue.Retry(ctx, env, delay)
	if err != nil {
		// still in processing; the reaper returns it to the lane
		log.Error("reschedule delivery", zap.Error(err))
		return
	}
	if !again {
		log.Error("delivery retries exhausted", zap.Int("attempts", env.Attempts))
		return
	}
	log.Info("delivery rescheduled", zap.Int("attempt", env.Attempts), zap.Duration("delay", delay))
}

type retryHint struct {
	RetryAfter int `json:"retryAfter"`
}

func (p *Pool) deliver(ctx context.Context, env *dispatch.Envelope) (int, time.Duration, error) {
	dest, ok := p.cfg.Destinations[env.Type]
	if !ok {
		return 0, 0, fmt.Errorf("no destination for %q deliveries", env.Type)
	}
	body, err := json.Marshal(env.Payload)
	if err != nil {
		return 0, 0, err
	}
	sig, err := dispatch.Sign(p.cfg.SigningKey, dest, body, time.Now())
	if err != nil {
		return 0, 0, fmt.Errorf("sign delivery: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, dest, bytes.NewReader(body))
	if err != nil {
		return 0, 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(dispatch.SignatureHeader, sig)
	req.Header.Set("Upstash-Retried", strconv.Itoa(env.Attempts))

	resp, err := p.http.Do(req)
	if err != nil {
		return 0, 0, err
	}
	defer resp.Body.Close()

	var wait time.Duration
	if resp.StatusCode == http.StatusTooManyRequests {
		var hint retryHint
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		if json.Unmarshal(raw, &hint) == nil && hint.RetryAfter > 0 {
			wait = time.Duration(hint.RetryAfter) * time.Second
		} else if s, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil {
			wait = time.Duration(s) * time.Second
		}
	}
	return resp.StatusCode, wait, nil
}
