package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"brandclip-worker-service/internal/entity"
)

// ErrEmpty is returned by ClaimBlocking when no delivery arrived in time.
var ErrEmpty = errors.New("dispatch: no delivery available")

type Lane struct {
	QueueKey      string
	ProcessingKey string
}

// Keys names every redis structure the queue touches.
type Keys struct {
	Low    Lane
	Normal Lane
	High   Lane

	// ProcessingMap remembers which processing list holds a claimed id.
	ProcessingMap string
	// ClaimedAt is a sorted set of claimed ids scored by claim time (unix ms).
	ClaimedAt string
	// Envelopes stores the serialized delivery per id.
	Envelopes string
	// Delayed is a sorted set of ids scored by due time (unix ms).
	Delayed string
	// DedupPrefix + dedup id guards against repeated publishes.
	DedupPrefix string
}

func DefaultKeys(prefix string) Keys {
	lane := func(name string) Lane {
		return Lane{QueueKey: prefix + ":queue:" + name, ProcessingKey: prefix + ":processing:" + name}
	}
	return Keys{
		Low:           lane("low"),
		Normal:        lane("normal"),
		High:          lane("high"),
		ProcessingMap: prefix + ":processing:map",
		ClaimedAt:     prefix + ":processing:claimed",
		Envelopes:     prefix + ":envelopes",
		Delayed:       prefix + ":delayed",
		DedupPrefix:   prefix + ":dedup:",
	}
}

// Envelope is what travels through the lanes.
type Envelope struct {
	ID       string                `json:"id"`
	Type     entity.JobType        `json:"type"`
	Payload  entity.WebhookPayload `json:"payload"`
	Retries  int                   `json:"retries"`
	Attempts int                   `json:"attempts"`
}

func (e *Envelope) priority() int {
	return entity.ClampPriority(e.Payload.Priority)
}

// RedisQueue is a reliable priority queue on redis lists.
// Lanes: high/normal/low.
// Claim: (B)RPOPLPUSH lane.queue -> lane.processing
// Ack:   LREM from the processing list recorded in the ProcessingMap hash
// Delayed deliveries wait in a sorted set until PromoteDue moves them.
// Claims older than the visibility timeout are returned by RequeueStale.
type RedisQueue struct {
	rdb      *redis.Client
	keys     Keys
	dedupTTL time.Duration
	now      func() time.Time
}

func NewRedisQueue(rdb *redis.Client, keys Keys) *RedisQueue {
	return &RedisQueue{rdb: rdb, keys: keys, dedupTTL: 10 * time.Minute, now: time.Now}
}

func (q *RedisQueue) laneByPriority(p int) Lane {
	switch p {
	case entity.PriorityHigh:
		return q.keys.High
	case entity.PriorityNormal:
		return q.keys.Normal
	default:
		return q.keys.Low
	}
}

func (q *RedisQueue) lanes() []Lane {
	return []Lane{q.keys.High, q.keys.Normal, q.keys.Low}
}

// Enqueue stores the delivery and pushes it onto its lane, or onto the
// delayed set when d.Delay is positive. A repeated DedupID inside the dedup
// window is accepted and dropped.
func (q *RedisQueue) Enqueue(ctx context.Context, d entity.Delivery) error {
	if d.DedupID != "" {
		fresh, err := q.rdb.SetNX(ctx, q.keys.DedupPrefix+d.DedupID, 1, q.dedupTTL).Result()
		if err != nil {
			return fmt.Errorf("dedup check: %w", err)
		}
		if !fresh {
			return nil
		}
	}

	env := Envelope{ID: uuid.NewString(), Type: d.Type, Payload: d.Payload, Retries: d.Retries}
	return q.push(ctx, &env, d.Delay)
}

func (q *RedisQueue) push(ctx context.Context, env *Envelope, delay time.Duration) error {
	raw, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}

	pipe := q.rdb.TxPipeline()
	pipe.HSet(ctx, q.keys.Envelopes, env.ID, raw)
	if delay > 0 {
		due := q.now().Add(delay).UnixMilli()
		pipe.ZAdd(ctx, q.keys.Delayed, redis.Z{Score: float64(due), Member: env.ID})
	} else {
		pipe.LPush(ctx, q.laneByPriority(env.priority()).QueueKey, env.ID)
	}
	_, err = pipe.Exec(ctx)
	return err
}

// ClaimBlocking polls high->normal->low without blocking, then parks on the
// high lane for a short slot before polling again. A high delivery is picked
// up at once; lower lanes wait at most one slot.
func (q *RedisQueue) ClaimBlocking(ctx context.Context, timeout time.Duration) (*Envelope, error) {
	// timeout <= 0 waits until ctx is done
	forever := timeout <= 0
	deadline := time.Now().Add(timeout)

	slot := 1 * time.Second
	if !forever && timeout < slot {
		slot = timeout
	}

	for {
		for _, ln := range q.lanes() {
			id, err := q.rdb.RPopLPush(ctx, ln.QueueKey, ln.ProcessingKey).Result()
			if errors.Is(err, redis.Nil) {
				continue
			}
			if err != nil {
				return nil, err
			}
			return q.claimed(ctx, ln, id)
		}

		if err := ctx.Err(); err != nil {
			return nil, err
		}
		wait := slot
		if !forever {
			remain := time.Until(deadline)
			if remain <= 0 {
				return nil, ErrEmpty
			}
			if remain < wait {
				wait = remain
			}
		}

		high := q.keys.High
		id, err := q.rdb.BRPopLPush(ctx, high.QueueKey, high.ProcessingKey, wait).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return q.claimed(ctx, high, id)
	}
}

func (q *RedisQueue) claimed(ctx context.Context, ln Lane, id string) (*Envelope, error) {
	// without the mapping the id could never be acked
	pipe := q.rdb.TxPipeline()
	pipe.HSet(ctx, q.keys.ProcessingMap, id, ln.ProcessingKey)
	pipe.ZAdd(ctx, q.keys.ClaimedAt, redis.Z{Score: float64(q.now().UnixMilli()), Member: id})
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}
	env, err := q.load(ctx, id)
	if err != nil {
		_ = q.Ack(ctx, id)
		return nil, err
	}
	return env, nil
}

func (q *RedisQueue) load(ctx context.Context, id string) (*Envelope, error) {
	raw, err := q.rdb.HGet(ctx, q.keys.Envelopes, id).Bytes()
	if err != nil {
		return nil, fmt.Errorf("load envelope %s: %w", id, err)
	}
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode envelope %s: %w", id, err)
	}
	return &env, nil
}

// Ack drops a claimed delivery for good.
func (q *RedisQueue) Ack(ctx context.Context, id string) error {
	if err := q.release(ctx, id); err != nil {
		return err
	}
	return q.rdb.HDel(ctx, q.keys.Envelopes, id).Err()
}

func (q *RedisQueue) release(ctx context.Context, id string) error {
	if _, err := q.unclaim(ctx, id); err != nil {
		return err
	}
	_ = q.rdb.ZRem(ctx, q.keys.ClaimedAt, id).Err()
	return nil
}

// unclaim removes id from its processing list and reports whether it was
// still there.
func (q *RedisQueue) unclaim(ctx context.Context, id string) (bool, error) {
	processingKey, err := q.rdb.HGet(ctx, q.keys.ProcessingMap, id).Result()
	if errors.Is(err, redis.Nil) {
		// mapping lost (reaped or manual cleanup): sweep every processing list
		var found bool
		for _, ln := range q.lanes() {
			if n, _ := q.rdb.LRem(ctx, ln.ProcessingKey, 1, id).Result(); n > 0 {
				found = true
			}
		}
		return found, nil
	}
	if err != nil {
		return false, err
	}

	n, err := q.rdb.LRem(ctx, processingKey, 1, id).Result()
	if err != nil {
		return false, err
	}
	_ = q.rdb.HDel(ctx, q.keys.ProcessingMap, id).Err()
	return n > 0, nil
}

// Retry schedules another attempt of a claimed delivery after delay. It
// reports false, and acks the delivery, once the retry budget is spent.
func (q *RedisQueue) Retry(ctx context.Context, env *Envelope, delay time.Duration) (bool, error) {
	if err := q.release(ctx, env.ID); err != nil {
		return false, err
	}
	env.Attempts++
	if env.Attempts > env.Retries {
		return false, q.rdb.HDel(ctx, q.keys.Envelopes, env.ID).Err()
	}
	return true, q.push(ctx, env, delay)
}

// PromoteDue moves up to limit delayed deliveries whose time has come onto
// their lanes.
func (q *RedisQueue) PromoteDue(ctx context.Context, limit int64) (int64, error) {
	ids, err := q.rdb.ZRangeByScore(ctx, q.keys.Delayed, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(q.now().UnixMilli(), 10),
		Count: limit,
	}).Result()
	if err != nil {
		return 0, err
	}

	var moved int64
	for _, id := range ids {
		// ZRem decides the winner when several relays promote at once
		n, err := q.rdb.ZRem(ctx, q.keys.Delayed, id).Result()
		if err != nil {
			return moved, err
		}
		if n == 0 {
			continue
		}
		env, err := q.load(ctx, id)
		if err != nil {
			return moved, err
		}
		if err := q.rdb.LPush(ctx, q.laneByPriority(env.priority()).QueueKey, id).Err(); err != nil {
			return moved, err
		}
		moved++
	}
	return moved, nil
}

// RequeueStale returns up to limit deliveries claimed more than visibility
// ago to their lanes: the relay that claimed them is presumed dead. Claims
// still inside the window are left alone so long deliveries are not relayed
// twice. At-least-once delivery.
func (q *RedisQueue) RequeueStale(ctx context.Context, visibility time.Duration, limit int64) (int64, error) {
	now := q.now()

	// an id popped but never stamped (crash in between) starts its clock now
	for _, ln := range q.lanes() {
		ids, err := q.rdb.LRange(ctx, ln.ProcessingKey, 0, -1).Result()
		if err != nil {
			return 0, err
		}
		for _, id := range ids {
			if err := q.rdb.ZAddNX(ctx, q.keys.ClaimedAt, redis.Z{Score: float64(now.UnixMilli()), Member: id}).Err(); err != nil {
				return 0, err
			}
		}
	}

	ids, err := q.rdb.ZRangeByScore(ctx, q.keys.ClaimedAt, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.Add(-visibility).UnixMilli(), 10),
		Count: limit,
	}).Result()
	if err != nil {
		return 0, err
	}

	var moved int64
	for _, id := range ids {
		// ZRem decides the winner when several reapers run at once
		n, err := q.rdb.ZRem(ctx, q.keys.ClaimedAt, id).Result()
		if err != nil {
			return moved, err
		}
		if n == 0 {
			continue
		}
		held, err := q.unclaim(ctx, id)
		if err != nil {
			return moved, err
		}
		if !held {
			continue
		}
		env, err := q.load(ctx, id)
		if err != nil {
			// envelope gone: nothing left to deliver
			continue
		}
		if err := q.rdb.LPush(ctx, q.laneByPriority(env.priority()).QueueKey, id).Err(); err != nil {
			return moved, err
		}
		moved++
	}
	return moved, nil
}
