package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"brandclip-worker-service/internal/entity"
	"brandclip-worker-service/internal/repository/postgresql"
	"brandclip-worker-service/internal/service"
	"brandclip-worker-service/internal/storage"
)

// ErrInvalidPayload means the delivery carried no usable video id.
var ErrInvalidPayload = errors.New("videoId is required")

// Skip reasons reported for acknowledged no-op deliveries.
const (
	ReasonAlreadyProcessed = "already_processed"
	ReasonAlreadyFailed    = "already_failed"
	ReasonAlreadyRunning   = "already_running"
	ReasonVideoNotFound    = "video_not_found"
	ReasonInvalidState     = "invalid_state"
)

// Outcome describes how a delivery was handled. A nil error with Skipped or
// RetryAfter set is not a failure.
type Outcome struct {
	VideoID    uuid.UUID
	Skipped    bool
	Reason     string
	RetryAfter time.Duration
	Duration   time.Duration

	EditedURL string
	Stages    []string
	PostURL   string
	PublishID string
}

func skipped(id uuid.UUID, reason string) *Outcome {
	return &Outcome{VideoID: id, Skipped: true, Reason: reason}
}

// Videos is the lifecycle API the workers drive (implementation:
// service.VideoStateMachine).
type Videos interface {
	Get(ctx context.Context, id uuid.UUID) (*entity.Video, error)
	Transition(ctx context.Context, v *entity.Video, to entity.VideoStatus) error
	Fail(ctx context.Context, v *entity.Video, to entity.VideoStatus, cause error) (bool, error)
	CompleteEdit(ctx context.Context, v *entity.Video, editedURL string) error
	CompletePost(ctx context.Context, v *entity.Video, postURL string) error
	Progress(ctx context.Context, id uuid.UUID, percent int) error
}

// JobLog writes one audit row per accepted delivery.
type JobLog interface {
	Create(ctx context.Context, videoID uuid.UUID, typ entity.JobType) (uuid.UUID, error)
	SetResultDone(ctx context.Context, id uuid.UUID, logText string) error
	SetResultError(ctx context.Context, id uuid.UUID, errText string) error
}

// ObjectStore is the storage subset used by both workers.
type ObjectStore interface {
	FetchToFile(ctx context.Context, rawURL, dst string) error
	Upload(ctx context.Context, prefix storage.Prefix, localPath, contentType string) (string, error)
	URLFor(key string) string
}

func parseVideoID(p entity.WebhookPayload) (uuid.UUID, error) {
	raw := strings.TrimSpace(p.VideoID)
	if raw == "" {
		return uuid.Nil, ErrInvalidPayload
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %q is not a uuid", ErrInvalidPayload, raw)
	}
	return id, nil
}

// loadVideo returns a skip outcome instead of an error for unknown videos.
func loadVideo(ctx context.Context, videos Videos, id uuid.UUID) (*entity.Video, *Outcome, error) {
	v, err := videos.Get(ctx, id)
	if errors.Is(err, postgresql.ErrNotFound) {
		return nil, skipped(id, ReasonVideoNotFound), nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("load video: %w", err)
	}
	return v, nil, nil
}

// audit wraps the job row so a broken audit table never blocks the work.
type audit struct {
	jobs   JobLog
	id     uuid.UUID
	logger *zap.Logger
}

func startAudit(ctx context.Context, jobs JobLog, videoID uuid.UUID, typ entity.JobType, logger *zap.Logger) *audit {
	a := &audit{jobs: jobs, logger: logger}
	if jobs == nil {
		return a
	}
	id, err := jobs.Create(ctx, videoID, typ)
	if err != nil {
		logger.Warn("could not create job row", zap.Error(err))
		return a
	}
	a.id = id
	return a
}

func (a *audit) done(ctx context.Context, text string) {
	if a.id == uuid.Nil {
		return
	}
	if err := a.jobs.SetResultDone(ctx, a.id, text); err != nil {
		a.logger.Warn("could not close job row", zap.Error(err))
	}
}

func (a *audit) fail(ctx context.Context, cause error) {
	if a.id == uuid.Nil {
		return
	}
	if err := a.jobs.SetResultError(ctx, a.id, cause.Error()); err != nil {
		a.logger.Warn("could not close job row", zap.Error(err))
	}
}

// progressReporter writes whole-percent changes only.
type progressReporter struct {
	videos Videos
	id     uuid.UUID
	last   int
	logger *zap.Logger
}

func newProgressReporter(videos Videos, id uuid.UUID, logger *zap.Logger) *progressReporter {
	return &progressReporter{videos: videos, id: id, last: -1, logger: logger}
}

func (p *progressReporter) set(ctx context.Context, percent int) {
	if percent <= p.last {
		return
	}
	p.last = percent
	if err := p.videos.Progress(ctx, p.id, percent); err != nil {
		p.logger.Debug("progress update failed", zap.Int("progress", percent), zap.Error(err))
	}
}

// span maps a sub-range [from, to] onto the overall bar.
func (p *progressReporter) span(ctx context.Context, from, to int) func(int) {
	return func(pct int) {
		p.set(ctx, from+(to-from)*pct/100)
	}
}

func tempPath(dir string, videoID uuid.UUID, suffix string) string {
	return filepath.Join(dir, fmt.Sprintf("%s-%d-%s", videoID, time.Now().UnixNano(), suffix))
}

func removeFile(path string, logger *zap.Logger) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Warn("could not remove temp file", zap.String("path", path), zap.Error(err))
	}
}

// failVideo moves v to a failed status; write errors are logged, not returned.
func failVideo(ctx context.Context, videos Videos, v *entity.Video, to entity.VideoStatus, cause error, logger *zap.Logger) {
	recorded, err := videos.Fail(ctx, v, to, cause)
	if err != nil {
		logger.Error("could not record failure", zap.Error(err), zap.NamedError("cause", cause))
		return
	}
	if !recorded {
		logger.Info("failure not recorded, video already left the stage", zap.NamedError("cause", cause))
	}
}

var _ Videos = (*service.VideoStateMachine)(nil)
