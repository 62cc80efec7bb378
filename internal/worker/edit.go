package worker

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"brandclip-worker-service/internal/entity"
	"brandclip-worker-service/internal/guard"
	"brandclip-worker-service/internal/metrics"
	"brandclip-worker-service/internal/service"
	"brandclip-worker-service/internal/storage"
	"brandclip-worker-service/internal/tracing"
	"brandclip-worker-service/internal/transform"
)

type BrandPattern interface {
	ApplyBrandPattern(ctx context.Context, inputPath string, opts transform.Options) (*transform.Result, error)
}

// UploadRequester queues the publish step after an edit (implementation:
// service.Dispatcher).
type UploadRequester interface {
	RequestUpload(ctx context.Context, req service.RequestUploadRequest) (*entity.Video, error)
}

type EditWorker struct {
	videos  Videos
	jobs    JobLog
	guard   *guard.Guard
	store   ObjectStore
	engine  BrandPattern
	uploads UploadRequester
	tmpDir  string
	logger  *zap.Logger
}

func NewEditWorker(videos Videos, jobs JobLog, g *guard.Guard, store ObjectStore, engine BrandPattern, uploads UploadRequester, tmpDir string, logger *zap.Logger) *EditWorker {
	return &EditWorker{
		videos:  videos,
		jobs:    jobs,
		guard:   g,
		store:   store,
		engine:  engine,
		uploads: uploads,
		tmpDir:  tmpDir,
		logger:  logger.With(zap.String("worker", "edit")),
	}
}

// Process handles one edit webhook delivery.
func (w *EditWorker) Process(ctx context.Context, p entity.WebhookPayload) (*Outcome, error) {
	start := time.Now()
	id, err := parseVideoID(p)
	if err != nil {
		return nil, err
	}

	ctx, span := tracing.Tracer().Start(ctx, "edit.process")
	defer span.End()
	span.SetAttributes(attribute.String("video.id", id.String()), attribute.String("trace.origin", p.TraceID))

	out, err := w.process(ctx, id)
	switch {
	case err != nil:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		metrics.WebhookDeliveriesTotal.WithLabelValues("edit", "failed").Inc()
	case out.Skipped:
		metrics.WebhookDeliveriesTotal.WithLabelValues("edit", "skipped").Inc()
	default:
		metrics.WebhookDeliveriesTotal.WithLabelValues("edit", "succeeded").Inc()
	}
	if out != nil {
		out.Duration = time.Since(start)
	}
	return out, err
}

func (w *EditWorker) process(ctx context.Context, id uuid.UUID) (*Outcome, error) {
	log := w.logger.With(zap.String("video_id", id.String()))

	v, skip, err := loadVideo(ctx, w.videos, id)
	if err != nil || skip != nil {
		return skip, err
	}

	switch {
	case v.Status == entity.VideoEditingQueued, v.Status == entity.VideoEditing:
	case v.Status.PastEdit():
		return skipped(id, ReasonAlreadyProcessed), nil
	case v.Status == entity.VideoFailedEdit:
		return skipped(id, ReasonAlreadyFailed), nil
	default:
		log.Info("edit delivery for video in unexpected status", zap.String("status", string(v.Status)))
		return skipped(id, ReasonInvalidState), nil
	}

	if d := w.guard.TryAcquire(id, uuid.Nil); !d.Ok() {
		return skipped(id, ReasonAlreadyRunning), nil
	}

	// EDITING without a live guard record is a retry after a crash or a hung
	// run past the grace window; it resumes in place.
	if v.Status == entity.VideoEditingQueued {
		if err := w.videos.Transition(ctx, v, entity.VideoEditing); err != nil {
			w.guard.Release(id)
			if errors.Is(err, service.ErrLostRace) {
				return skipped(id, ReasonAlreadyRunning), nil
			}
			return nil, err
		}
	}

	metrics.ActiveJobs.WithLabelValues("edit").Inc()
	defer metrics.ActiveJobs.WithLabelValues("edit").Dec()

	jobRow := startAudit(ctx, w.jobs, id, entity.JobTypeEdit, log)
	log.Info("edit started")

	out, spec, err := w.run(ctx, v, log)
	if err != nil {
		w.guard.MarkEnd(id, guard.Failed)
		failVideo(ctx, w.videos, v, entity.VideoFailedEdit, err, log)
		jobRow.fail(ctx, err)
		log.Error("edit failed", zap.Error(err))
		return nil, err
	}

	w.guard.MarkEnd(id, guard.Completed)
	jobRow.done(ctx, fmt.Sprintf("stages=%s edited_url=%s", strings.Join(out.Stages, ","), out.EditedURL))
	log.Info("edit finished", zap.Strings("stages", out.Stages), zap.String("edited_url", out.EditedURL))

	w.autoUpload(ctx, v, spec, log)
	return out, nil
}

func (w *EditWorker) run(ctx context.Context, v *entity.Video, log *zap.Logger) (*Outcome, *entity.DesignSpec, error) {
	spec, err := v.EditSpec()
	if err != nil {
		return nil, nil, err
	}
	progress := newProgressReporter(w.videos, v.ID, log)

	began := time.Now()
	src := tempPath(w.tmpDir, v.ID, "source"+sourceExt(v.SourceURL))
	defer removeFile(src, log)
	if err := w.store.FetchToFile(ctx, v.SourceURL, src); err != nil {
		return nil, nil, fmt.Errorf("download source: %w", err)
	}
	metrics.StageDuration.WithLabelValues("download").Observe(time.Since(began).Seconds())
	progress.set(ctx, 10)

	began = time.Now()
	res, err := w.engine.ApplyBrandPattern(ctx, src, transform.Options{
		VideoID:  v.ID.String(),
		Title:    v.Title,
		Spec:     spec,
		Progress: progress.span(ctx, 10, 90),
	})
	if err != nil {
		return nil, nil, err
	}
	if res.Path != src {
		defer removeFile(res.Path, log)
	}
	metrics.StageDuration.WithLabelValues("transform").Observe(time.Since(began).Seconds())

	began = time.Now()
	key, err := w.store.Upload(ctx, storage.PrefixVideos, res.Path, "video/mp4")
	if err != nil {
		return nil, nil, err
	}
	metrics.StageDuration.WithLabelValues("store").Observe(time.Since(began).Seconds())

	editedURL := w.store.URLFor(key)
	if err := w.videos.CompleteEdit(ctx, v, editedURL); err != nil {
		return nil, nil, fmt.Errorf("record edited video: %w", err)
	}
	return &Outcome{VideoID: v.ID, EditedURL: editedURL, Stages: res.Stages}, spec, nil
}

func (w *EditWorker) autoUpload(ctx context.Context, v *entity.Video, spec *entity.DesignSpec, log *zap.Logger) {
	if w.uploads == nil || !spec.Upload.AutoPublish || v.AccountID == nil {
		return
	}
	_, err := w.uploads.RequestUpload(ctx, service.RequestUploadRequest{VideoID: v.ID, AccountID: *v.AccountID})
	if err != nil {
		log.Warn("auto upload not queued", zap.Error(err))
		return
	}
	log.Info("auto upload queued", zap.String("account_id", v.AccountID.String()))
}

func sourceExt(rawURL string) string {
	ext := strings.ToLower(filepath.Ext(strings.SplitN(rawURL, "?", 2)[0]))
	if ext == "" || len(ext) > 5 {
		return ".mp4"
	}
	return ext
}
