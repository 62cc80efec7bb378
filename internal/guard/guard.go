// Package guard tracks in-flight executions per video and per-account
// failure backoff for the webhook workers.
//
// All state lives in one map pair behind a single mutex, so check-and-mark
// through TryAcquire is atomic across concurrent deliveries. The guard is
// process-local; a multi-instance deployment needs a shared store behind the
// same method set.
package guard

import (
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
)

type Outcome string

const (
	Running   Outcome = "running"
	Completed Outcome = "completed"
	Failed    Outcome = "failed"
)

type Verdict string

const (
	Acquired           Verdict = "acquired"
	Duplicate          Verdict = "duplicate"
	ConcurrencyLimited Verdict = "concurrency_limited"
	BackingOff         Verdict = "backing_off"
)

// Decision is the result of TryAcquire. RetryAfter is set for the two
// rejection verdicts.
type Decision struct {
	Verdict    Verdict
	RetryAfter time.Duration
}

func (d Decision) Ok() bool { return d.Verdict == Acquired }

type Options struct {
	Grace      time.Duration
	Ceiling    int
	MaxBackoff time.Duration
	// LimitedRetry is the hint returned when the account ceiling is hit.
	LimitedRetry time.Duration
	Clock        func() time.Time
}

func (o *Options) defaults() {
	if o.Grace == 0 {
		o.Grace = 5 * time.Minute
	}
	if o.Ceiling == 0 {
		o.Ceiling = 3
	}
	if o.MaxBackoff == 0 {
		o.MaxBackoff = 5 * time.Minute
	}
	if o.LimitedRetry == 0 {
		o.LimitedRetry = 30 * time.Second
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
}

type execution struct {
	accountID uuid.UUID
	status    Outcome
	startedAt time.Time
	endedAt   time.Time
}

type backoff struct {
	failures    int
	lastFailure time.Time
}

type Guard struct {
	mu       sync.Mutex
	opts     Options
	execs    map[uuid.UUID]*execution
	accounts map[uuid.UUID]*backoff
}

func New(opts Options) *Guard {
	opts.defaults()
	return &Guard{
		opts:     opts,
		execs:    make(map[uuid.UUID]*execution),
		accounts: make(map[uuid.UUID]*backoff),
	}
}

// IsInProgress reports whether videoID holds a live record. Finished records
// stay live for the grace window; a running record older than the window is
// treated as hung and expires as well.
func (g *Guard) IsInProgress(videoID uuid.UUID) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.liveLocked(videoID, g.opts.Clock())
}

func (g *Guard) MarkStart(videoID, accountID uuid.UUID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.execs[videoID] = &execution{accountID: accountID, status: Running, startedAt: g.opts.Clock()}
}

func (g *Guard) MarkEnd(videoID uuid.UUID, outcome Outcome) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if e, ok := g.execs[videoID]; ok {
		e.status = outcome
		e.endedAt = g.opts.Clock()
	}
}

// Release forgets videoID's record so the next delivery is not treated as a
// duplicate. Use it when a run fails before any work was done.
func (g *Guard) Release(videoID uuid.UUID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.execs, videoID)
}

// AccountConcurrentJobs counts running executions bound to accountID.
func (g *Guard) AccountConcurrentJobs(accountID uuid.UUID) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.runningLocked(accountID, g.opts.Clock())
}

// TryAcquire checks the video record, the account backoff and the account
// ceiling, and marks the video running only if all three pass. Pass uuid.Nil
// as accountID for work not bound to an account.
func (g *Guard) TryAcquire(videoID, accountID uuid.UUID) Decision {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.opts.Clock()

	if g.liveLocked(videoID, now) {
		return Decision{Verdict: Duplicate}
	}
	if accountID != uuid.Nil {
		if wait := g.backoffLocked(accountID, now); wait > 0 {
			return Decision{Verdict: BackingOff, RetryAfter: wait}
		}
		if g.runningLocked(accountID, now) >= g.opts.Ceiling {
			return Decision{Verdict: ConcurrencyLimited, RetryAfter: g.opts.LimitedRetry}
		}
	}
	g.execs[videoID] = &execution{accountID: accountID, status: Running, startedAt: now}
	return Decision{Verdict: Acquired}
}

// RecordFailure bumps the account's consecutive failure count.
func (g *Guard) RecordFailure(accountID uuid.UUID) {
	if accountID == uuid.Nil {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	b, ok := g.accounts[accountID]
	if !ok {
		b = &backoff{}
		g.accounts[accountID] = b
	}
	b.failures++
	b.lastFailure = g.opts.Clock()
}

func (g *Guard) RecordSuccess(accountID uuid.UUID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.accounts, accountID)
}

// ConsecutiveFailures is mostly useful for logging.
func (g *Guard) ConsecutiveFailures(accountID uuid.UUID) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	if b, ok := g.accounts[accountID]; ok {
		return b.failures
	}
	return 0
}

// BackoffRemaining is how long accountID must still wait, zero if none.
func (g *Guard) BackoffRemaining(accountID uuid.UUID) time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.backoffLocked(accountID, g.opts.Clock())
}

// BackoffFor returns min(2^failures seconds, max).
func BackoffFor(failures int, max time.Duration) time.Duration {
	if failures <= 0 {
		return 0
	}
	if failures >= 31 {
		return max
	}
	d := time.Duration(math.Pow(2, float64(failures))) * time.Second
	if d > max {
		return max
	}
	return d
}

// Sweep drops expired execution records and returns how many it removed.
func (g *Guard) Sweep() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.opts.Clock()
	n := 0
	for id := range g.execs {
		if !g.liveLocked(id, now) {
			delete(g.execs, id)
			n++
		}
	}
	return n
}

func (g *Guard) liveLocked(videoID uuid.UUID, now time.Time) bool {
	e, ok := g.execs[videoID]
	if !ok {
		return false
	}
	ref := e.endedAt
	if e.status == Running {
		ref = e.startedAt
	}
	return now.Sub(ref) < g.opts.Grace
}

func (g *Guard) runningLocked(accountID uuid.UUID, now time.Time) int {
	n := 0
	for _, e := range g.execs {
		if e.accountID == accountID && e.status == Running && now.Sub(e.startedAt) < g.opts.Grace {
			n++
		}
	}
	return n
}

func (g *Guard) backoffLocked(accountID uuid.UUID, now time.Time) time.Duration {
	b, ok := g.accounts[accountID]
	if !ok {
		return 0
	}
	wait := BackoffFor(b.failures, g.opts.MaxBackoff) - now.Sub(b.lastFailure)
	if wait < 0 {
		return 0
	}
	return wait
}
