package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"brandclip-worker-service/internal/entity"
)

var ErrMissingAccount = errors.New("video has no publishing account")

// JobQueue hands deliveries to the push queue (implementations:
// dispatch.QStash, dispatch.RedisQueue).
type JobQueue interface {
	Enqueue(ctx context.Context, d entity.Delivery) error
}

// AccountLookup confirms a publishing target exists before queuing an upload.
type AccountLookup interface {
	GetByID(ctx context.Context, id uuid.UUID) (*entity.ExternalAccount, error)
}

type DispatchOptions struct {
	Retries int
	// Delay holds every delivery back before its first attempt.
	Delay time.Duration
}

// Dispatcher moves videos into a queued status and publishes the matching
// webhook delivery.
type Dispatcher struct {
	videos   *VideoStateMachine
	accounts AccountLookup
	queue    JobQueue
	opts     DispatchOptions
	logger   *zap.Logger
}

func NewDispatcher(videos *VideoStateMachine, accounts AccountLookup, queue JobQueue, opts DispatchOptions, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{videos: videos, accounts: accounts, queue: queue, opts: opts, logger: logger}
}

type ConfirmEditRequest struct {
	VideoID  uuid.UUID
	Spec     json.RawMessage
	Priority *int
}

// ConfirmEdit validates and freezes the design spec, queues the video and
// publishes an edit delivery. Defaults are resolved before freezing so later
// default changes never alter a queued video.
func (d *Dispatcher) ConfirmEdit(ctx context.Context, req ConfirmEditRequest) (*entity.Video, error) {
	if len(req.Spec) == 0 {
		return nil, entity.ErrMissingDesignSpec
	}
	spec, err := entity.ParseDesignSpec(req.Spec)
	if err != nil {
		return nil, err
	}
	frozen, err := json.Marshal(spec)
	if err != nil {
		return nil, fmt.Errorf("encode design spec: %w", err)
	}

	v, err := d.videos.Get(ctx, req.VideoID)
	if err != nil {
		return nil, err
	}
	if err := d.videos.QueueEdit(ctx, v, frozen); err != nil {
		return nil, err
	}
	if err := d.publish(ctx, v, entity.JobTypeEdit, req.Priority); err != nil {
		return nil, err
	}
	return v, nil
}

type RequestUploadRequest struct {
	VideoID   uuid.UUID
	AccountID uuid.UUID
	Priority  *int
}

// RequestUpload queues an EDITED video for publishing to AccountID, or to the
// account already bound to the video when AccountID is nil.
func (d *Dispatcher) RequestUpload(ctx context.Context, req RequestUploadRequest) (*entity.Video, error) {
	v, err := d.videos.Get(ctx, req.VideoID)
	if err != nil {
		return nil, err
	}

	accountID := req.AccountID
	if accountID == uuid.Nil && v.AccountID != nil {
		accountID = *v.AccountID
	}
	if accountID == uuid.Nil {
		return nil, ErrMissingAccount
	}
	if _, err := d.accounts.GetByID(ctx, accountID); err != nil {
		return nil, fmt.Errorf("lookup account: %w", err)
	}

	if err := d.videos.QueueUpload(ctx, v, accountID); err != nil {
		return nil, err
	}
	if err := d.publish(ctx, v, entity.JobTypeUpload, req.Priority); err != nil {
		return nil, err
	}
	return v, nil
}

// publish enqueues the delivery. A queued video that never reaches the queue
// would sit forever, so a publish failure fails the video instead.
func (d *Dispatcher) publish(ctx context.Context, v *entity.Video, typ entity.JobType, priority *int) error {
	p := entity.ClampPriority(priority)
	err := d.queue.Enqueue(ctx, entity.Delivery{
		Type:    typ,
		Payload: entity.WebhookPayload{VideoID: v.ID.String(), Priority: &p},
		Delay:   d.opts.Delay,
		Retries: d.opts.Retries,
		DedupID: fmt.Sprintf("%s-%s-%d", typ, v.ID, v.UpdatedAt.UnixMilli()),
	})
	if err == nil {
		d.logger.Info("delivery published",
			zap.String("video_id", v.ID.String()), zap.String("type", string(typ)), zap.Int("priority", p))
		return nil
	}

	failed := entity.VideoFailedEdit
	if typ == entity.JobTypeUpload {
		failed = entity.VideoFailedUpload
	}
	if _, ferr := d.videos.Fail(ctx, v, failed, fmt.Errorf("dispatch %s: %w", typ, err)); ferr != nil {
		d.logger.Error("could not record dispatch failure", zap.String("video_id", v.ID.String()), zap.Error(ferr))
	}
	return fmt.Errorf("enqueue %s: %w", typ, err)
}
