package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"brandclip-worker-service/internal/entity"
	"brandclip-worker-service/internal/guard"
	"brandclip-worker-service/internal/metrics"
	"brandclip-worker-service/internal/service"
	"brandclip-worker-service/internal/tiktok"
	"brandclip-worker-service/internal/tracing"
)

// Platform is the publish API (implementation: tiktok.Client).
type Platform interface {
	TokenRefresher
	QueryCreatorInfo(ctx context.Context, token string) (*tiktok.CreatorInfo, error)
	InitUpload(ctx context.Context, token string, post tiktok.PostInfo, size int64) (*tiktok.InitResult, error)
	UploadVideo(ctx context.Context, uploadURL, path string) error
	FetchStatus(ctx context.Context, token, publishID string) (*tiktok.PublishStatus, error)
	Finalize(ctx context.Context, token, publishID string) (*tiktok.FinalizeResult, error)
}

type UploadOptions struct {
	// ProcessingDelay is the wait between the binary upload and the status
	// poll.
	ProcessingDelay time.Duration
	TmpDir          string
	Clock           func() time.Time
}

type UploadWorker struct {
	videos   Videos
	jobs     JobLog
	accounts AccountStore
	guard    *guard.Guard
	store    ObjectStore
	platform Platform
	cipher   TokenCipher
	opts     UploadOptions
	logger   *zap.Logger
}

func NewUploadWorker(videos Videos, jobs JobLog, accounts AccountStore, g *guard.Guard, store ObjectStore, platform Platform, cipher TokenCipher, opts UploadOptions, logger *zap.Logger) *UploadWorker {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &UploadWorker{
		videos:   videos,
		jobs:     jobs,
		accounts: accounts,
		guard:    g,
		store:    store,
		platform: platform,
		cipher:   cipher,
		opts:     opts,
		logger:   logger.With(zap.String("worker", "upload")),
	}
}

// Process handles one upload webhook delivery.
func (w *UploadWorker) Process(ctx context.Context, p entity.WebhookPayload) (*Outcome, error) {
	start := time.Now()
	id, err := parseVideoID(p)
	if err != nil {
		return nil, err
	}

	ctx, span := tracing.Tracer().Start(ctx, "upload.process")
	defer span.End()
	span.SetAttributes(attribute.String("video.id", id.String()), attribute.String("trace.origin", p.TraceID))

	out, err := w.process(ctx, id)
	switch {
	case err != nil:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		metrics.WebhookDeliveriesTotal.WithLabelValues("upload", "failed").Inc()
	case out.RetryAfter > 0:
		metrics.WebhookDeliveriesTotal.WithLabelValues("upload", "deferred").Inc()
	case out.Skipped:
		metrics.WebhookDeliveriesTotal.WithLabelValues("upload", "skipped").Inc()
	default:
		metrics.WebhookDeliveriesTotal.WithLabelValues("upload", "succeeded").Inc()
	}
	if out != nil {
		out.Duration = time.Since(start)
	}
	return out, err
}

func (w *UploadWorker) process(ctx context.Context, id uuid.UUID) (*Outcome, error) {
	log := w.logger.With(zap.String("video_id", id.String()))

	v, skip, err := loadVideo(ctx, w.videos, id)
	if err != nil || skip != nil {
		return skip, err
	}

	switch v.Status {
	case entity.VideoUploadQueued, entity.VideoUploading:
	case entity.VideoPosted:
		return skipped(id, ReasonAlreadyProcessed), nil
	case entity.VideoFailedUpload:
		return skipped(id, ReasonAlreadyFailed), nil
	default:
		log.Info("upload delivery for video in unexpected status", zap.String("status", string(v.Status)))
		return skipped(id, ReasonInvalidState), nil
	}

	if v.AccountID == nil {
		failVideo(ctx, w.videos, v, entity.VideoFailedUpload, service.ErrMissingAccount, log)
		return nil, service.ErrMissingAccount
	}
	accountID := *v.AccountID
	log = log.With(zap.String("account_id", accountID.String()))

	switch d := w.guard.TryAcquire(id, accountID); d.Verdict {
	case guard.Acquired:
	case guard.Duplicate:
		return skipped(id, ReasonAlreadyRunning), nil
	default:
		log.Info("upload deferred", zap.String("verdict", string(d.Verdict)), zap.Duration("retry_after", d.RetryAfter))
		return &Outcome{VideoID: id, RetryAfter: d.RetryAfter, Reason: string(d.Verdict)}, nil
	}

	if v.Status == entity.VideoUploadQueued {
		if err := w.videos.Transition(ctx, v, entity.VideoUploading); err != nil {
			w.guard.Release(id)
			if errors.Is(err, service.ErrLostRace) {
				return skipped(id, ReasonAlreadyRunning), nil
			}
			return nil, err
		}
	}

	metrics.ActiveJobs.WithLabelValues("upload").Inc()
	defer metrics.ActiveJobs.WithLabelValues("upload").Dec()

	jobRow := startAudit(ctx, w.jobs, id, entity.JobTypeUpload, log)
	log.Info("upload started")

	out, err := w.publish(ctx, v, accountID, log)
	if err != nil {
		w.guard.RecordFailure(accountID)
		w.guard.MarkEnd(id, guard.Failed)
		failVideo(ctx, w.videos, v, entity.VideoFailedUpload, err, log)
		jobRow.fail(ctx, err)
		log.Error("upload failed",
			zap.Error(err),
			zap.Int("consecutive_failures", w.guard.ConsecutiveFailures(accountID)),
		)
		return nil, err
	}

	w.guard.RecordSuccess(accountID)
	w.guard.MarkEnd(id, guard.Completed)
	jobRow.done(ctx, fmt.Sprintf("publish_id=%s post_url=%s", out.PublishID, out.PostURL))
	log.Info("upload finished", zap.String("publish_id", out.PublishID), zap.String("post_url", out.PostURL))
	return out, nil
}

func (w *UploadWorker) publish(ctx context.Context, v *entity.Video, accountID uuid.UUID, log *zap.Logger) (*Outcome, error) {
	if v.EditedURL == nil || *v.EditedURL == "" {
		return nil, errors.New("video has no edited output to publish")
	}
	hints := uploadHints(v)
	progress := newProgressReporter(w.videos, v.ID, log)

	account, err := w.accounts.GetByID(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("load account: %w", err)
	}
	token := &accessToken{
		account:  account,
		accounts: w.accounts,
		cipher:   w.cipher,
		client:   w.platform,
		now:      w.opts.Clock,
		logger:   log,
	}
	if err := token.load(ctx); err != nil {
		return nil, err
	}

	local := tempPath(w.opts.TmpDir, v.ID, "upload.mp4")
	defer removeFile(local, log)
	if err := w.store.FetchToFile(ctx, *v.EditedURL, local); err != nil {
		return nil, fmt.Errorf("download edited video: %w", err)
	}
	fi, err := os.Stat(local)
	if err != nil {
		return nil, err
	}
	if fi.Size() == 0 {
		return nil, fmt.Errorf("edited video %s: %w", *v.EditedURL, tiktok.ErrEmptyVideo)
	}
	progress.set(ctx, 10)

	var creator *tiktok.CreatorInfo
	err = w.step(ctx, "creator_info", token, func(tok string) (err error) {
		creator, err = w.platform.QueryCreatorInfo(ctx, tok)
		return err
	})
	if err != nil {
		return nil, err
	}
	progress.set(ctx, 20)

	post := tiktok.PostInfo{
		Title:          renderTitle(hints, v.Title, w.opts.Clock()),
		PrivacyLevel:   tiktok.PrivacySelfOnly,
		DisableDuet:    hints.DisableDuet,
		DisableComment: hints.DisableComment,
		DisableStitch:  hints.DisableStitch,
	}
	var initRes *tiktok.InitResult
	err = w.step(ctx, "init", token, func(tok string) (err error) {
		initRes, err = w.platform.InitUpload(ctx, tok, post, fi.Size())
		return err
	})
	if err != nil {
		return nil, err
	}
	log = log.With(zap.String("publish_id", initRes.PublishID))
	progress.set(ctx, 30)

	began := time.Now()
	if err := w.platform.UploadVideo(ctx, initRes.UploadURL, local); err != nil {
		w.count("upload", err)
		return nil, err
	}
	w.count("upload", nil)
	metrics.StageDuration.WithLabelValues("platform_upload").Observe(time.Since(began).Seconds())
	progress.set(ctx, 70)

	if err := sleepCtx(ctx, w.opts.ProcessingDelay); err != nil {
		return nil, err
	}

	var status *tiktok.PublishStatus
	err = w.step(ctx, "status", token, func(tok string) (err error) {
		status, err = w.platform.FetchStatus(ctx, tok, initRes.PublishID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if status.Failed() {
		return nil, fmt.Errorf("%w: %s (%s)", tiktok.ErrPublishFailed, status.FailReason, status.Status)
	}
	progress.set(ctx, 85)

	var shareURL string
	if status.Status == tiktok.StatusPublishComplete {
		log.Info("post already live, finalize skipped")
	} else {
		var fin *tiktok.FinalizeResult
		err = w.step(ctx, "finalize", token, func(tok string) (err error) {
			fin, err = w.platform.Finalize(ctx, tok, initRes.PublishID)
			return err
		})
		if err != nil {
			return nil, err
		}
		shareURL = fin.ShareURL
		if fin.VideoID != "" && len(status.PubliclyAvailablePostID) == 0 {
			status.PubliclyAvailablePostID = []string{fin.VideoID}
		}
	}

	username := account.Username
	if creator.CreatorUsername != "" {
		username = creator.CreatorUsername
	}
	url := postURL(shareURL, username, status.PubliclyAvailablePostID)
	if err := w.videos.CompletePost(ctx, v, url); err != nil {
		return nil, fmt.Errorf("record post: %w", err)
	}
	return &Outcome{VideoID: v.ID, PostURL: url, PublishID: initRes.PublishID}, nil
}

// step runs a token-bearing platform call with the one-shot refresh rule and
// counts the result.
func (w *UploadWorker) step(ctx context.Context, name string, token *accessToken, fn func(tok string) error) error {
	err := token.do(ctx, name, fn)
	w.count(name, err)
	return err
}

func (w *UploadWorker) count(step string, err error) {
	result := "ok"
	var apiErr *tiktok.APIError
	switch {
	case err == nil:
	case errors.As(err, &apiErr) && apiErr.RateLimited():
		result = "rate_limited"
	case isUnauthorized(err):
		result = "unauthorized"
	default:
		result = "error"
	}
	metrics.PublishStepsTotal.WithLabelValues(step, result).Inc()
}

func isUnauthorized(err error) bool {
	return errors.Is(err, tiktok.ErrUnauthorized)
}

// uploadHints reads publish hints from the frozen spec, falling back to
// defaults for videos edited without one.
func uploadHints(v *entity.Video) entity.UploadHints {
	if spec, err := v.EditSpec(); err == nil {
		return spec.Upload
	}
	var spec entity.DesignSpec
	spec.ApplyDefaults()
	return spec.Upload
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
