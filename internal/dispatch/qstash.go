package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"brandclip-worker-service/internal/entity"
)

const DefaultQStashURL = "https://qstash.upstash.io"

type QStashConfig struct {
	BaseURL string
	Token   string
	// Destinations maps a job type to the public URL of its worker webhook.
	Destinations map[entity.JobType]string
	Timeout      time.Duration
}

// QStash publishes deliveries to an Upstash QStash compatible push queue,
// which owns the retry schedule from then on.
type QStash struct {
	cfg  QStashConfig
	http *http.Client
}

func NewQStash(cfg QStashConfig) *QStash {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultQStashURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &QStash{cfg: cfg, http: &http.Client{Timeout: cfg.Timeout}}
}

func (q *QStash) Enqueue(ctx context.Context, d entity.Delivery) error {
	dest, ok := q.cfg.Destinations[d.Type]
	if !ok || dest == "" {
		return fmt.Errorf("no destination configured for %q deliveries", d.Type)
	}

	body, err := json.Marshal(d.Payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	endpoint := strings.TrimRight(q.cfg.BaseURL, "/") + "/v2/publish/" + dest
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+q.cfg.Token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Upstash-Retries", strconv.Itoa(d.Retries))
	if d.Delay > 0 {
		req.Header.Set("Upstash-Delay", strconv.Itoa(int(d.Delay.Seconds()))+"s")
	}
	if d.DedupID != "" {
		req.Header.Set("Upstash-Deduplication-Id", d.DedupID)
	}

	resp, err := q.http.Do(req)
	if err != nil {
		return fmt.Errorf("qstash publish: %w", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("qstash publish: status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	return nil
}
