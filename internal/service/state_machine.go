package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"brandclip-worker-service/internal/entity"
)

// ErrLostRace means the row left the expected status before our write landed.
var ErrLostRace = errors.New("video status changed concurrently")

// VideoStore is the persistence port (implementation: postgresql.VideoRepository).
type VideoStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*entity.Video, error)
	TransitionStatus(ctx context.Context, id uuid.UUID, from []entity.VideoStatus, to entity.VideoStatus) (bool, error)
	MarkFailed(ctx context.Context, id uuid.UUID, to entity.VideoStatus, errText string) (bool, error)
	SetEdited(ctx context.Context, id uuid.UUID, editedURL string) (bool, error)
	SetPosted(ctx context.Context, id uuid.UUID, postURL string) (bool, error)
	UpdateProgress(ctx context.Context, id uuid.UUID, progress int) error
	FreezeSpec(ctx context.Context, id uuid.UUID, spec json.RawMessage) (bool, error)
	AssignAccount(ctx context.Context, id, accountID uuid.UUID) (bool, error)
}

type Notifier interface {
	Notify(ctx context.Context, ev entity.TransitionEvent) error
}

// VideoStateMachine is the only writer of Video.status. Every accepted
// transition is announced to the owner without blocking the caller.
type VideoStateMachine struct {
	store    VideoStore
	notifier Notifier
	logger   *zap.Logger
	now      func() time.Time

	notifyTimeout time.Duration
	wg            sync.WaitGroup
}

func NewVideoStateMachine(store VideoStore, notifier Notifier, logger *zap.Logger) *VideoStateMachine {
	return &VideoStateMachine{
		store:         store,
		notifier:      notifier,
		logger:        logger,
		now:           time.Now,
		notifyTimeout: 10 * time.Second,
	}
}

func (m *VideoStateMachine) Get(ctx context.Context, id uuid.UUID) (*entity.Video, error) {
	return m.store.GetByID(ctx, id)
}

// Transition moves v from its current status to `to`. v.Status is updated on
// success.
func (m *VideoStateMachine) Transition(ctx context.Context, v *entity.Video, to entity.VideoStatus) error {
	if !v.Status.CanTransitionTo(to) {
		return fmt.Errorf("%w: %s -> %s", entity.ErrInvalidTransition, v.Status, to)
	}
	ok, err := m.store.TransitionStatus(ctx, v.ID, []entity.VideoStatus{v.Status}, to)
	if err != nil {
		return fmt.Errorf("transition %s -> %s: %w", v.Status, to, err)
	}
	if !ok {
		return ErrLostRace
	}
	m.emit(v, to, func(ev *entity.TransitionEvent) {})
	v.Status, v.Progress, v.Error = to, 0, nil
	return nil
}

// Fail records cause on v unless a failed status was already recorded or the
// video has moved past the stage. It reports whether the write happened.
func (m *VideoStateMachine) Fail(ctx context.Context, v *entity.Video, to entity.VideoStatus, cause error) (bool, error) {
	if !to.IsFailed() {
		return false, fmt.Errorf("%w: %s is not a failed status", entity.ErrInvalidTransition, to)
	}
	msg := cause.Error()
	ok, err := m.store.MarkFailed(ctx, v.ID, to, msg)
	if err != nil {
		return false, fmt.Errorf("mark %s: %w", to, err)
	}
	if !ok {
		return false, nil
	}
	m.emit(v, to, func(ev *entity.TransitionEvent) { ev.Error = msg })
	v.Status, v.Error = to, &msg
	return true, nil
}

func (m *VideoStateMachine) CompleteEdit(ctx context.Context, v *entity.Video, editedURL string) error {
	ok, err := m.store.SetEdited(ctx, v.ID, editedURL)
	if err != nil {
		return fmt.Errorf("complete edit: %w", err)
	}
	if !ok {
		return ErrLostRace
	}
	m.emit(v, entity.VideoEdited, func(ev *entity.TransitionEvent) {
		ev.Progress = 100
		ev.EditedURL = editedURL
	})
	v.Status, v.Progress, v.EditedURL = entity.VideoEdited, 100, &editedURL
	return nil
}

func (m *VideoStateMachine) CompletePost(ctx context.Context, v *entity.Video, postURL string) error {
	ok, err := m.store.SetPosted(ctx, v.ID, postURL)
	if err != nil {
		return fmt.Errorf("complete post: %w", err)
	}
	if !ok {
		return ErrLostRace
	}
	m.emit(v, entity.VideoPosted, func(ev *entity.TransitionEvent) {
		ev.Progress = 100
		ev.PostURL = postURL
	})
	v.Status, v.Progress, v.PostURL = entity.VideoPosted, 100, &postURL
	return nil
}

// QueueEdit freezes spec into the video and moves it to EDITING_QUEUED.
func (m *VideoStateMachine) QueueEdit(ctx context.Context, v *entity.Video, spec json.RawMessage) error {
	if !v.Status.CanTransitionTo(entity.VideoEditingQueued) {
		return fmt.Errorf("%w: %s -> %s", entity.ErrInvalidTransition, v.Status, entity.VideoEditingQueued)
	}
	ok, err := m.store.FreezeSpec(ctx, v.ID, spec)
	if err != nil {
		return fmt.Errorf("freeze spec: %w", err)
	}
	if !ok {
		return ErrLostRace
	}
	m.emit(v, entity.VideoEditingQueued, func(ev *entity.TransitionEvent) {})
	v.Status, v.Progress, v.Error, v.EditSpecJSON = entity.VideoEditingQueued, 0, nil, spec
	return nil
}

// QueueUpload binds the target account and moves the video to UPLOAD_QUEUED.
func (m *VideoStateMachine) QueueUpload(ctx context.Context, v *entity.Video, accountID uuid.UUID) error {
	if !v.Status.CanTransitionTo(entity.VideoUploadQueued) {
		return fmt.Errorf("%w: %s -> %s", entity.ErrInvalidTransition, v.Status, entity.VideoUploadQueued)
	}
	ok, err := m.store.AssignAccount(ctx, v.ID, accountID)
	if err != nil {
		return fmt.Errorf("assign account: %w", err)
	}
	if !ok {
		return ErrLostRace
	}
	m.emit(v, entity.VideoUploadQueued, func(ev *entity.TransitionEvent) {})
	v.Status, v.Progress, v.Error, v.AccountID = entity.VideoUploadQueued, 0, nil, &accountID
	return nil
}

// Progress stores a progress percentage; it is not announced.
func (m *VideoStateMachine) Progress(ctx context.Context, id uuid.UUID, percent int) error {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	return m.store.UpdateProgress(ctx, id, percent)
}

// Wait blocks until in-flight notifications are delivered or dropped.
func (m *VideoStateMachine) Wait() {
	m.wg.Wait()
}

func (m *VideoStateMachine) emit(v *entity.Video, to entity.VideoStatus, fill func(*entity.TransitionEvent)) {
	ev := entity.TransitionEvent{
		VideoID: v.ID,
		UserID:  v.UserID,
		From:    v.Status,
		To:      to,
		At:      m.now().UTC(),
	}
	fill(&ev)
	if m.notifier == nil {
		return
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), m.notifyTimeout)
		defer cancel()
		if err := m.notifier.Notify(ctx, ev); err != nil {
			m.logger.Warn("transition notification failed",
				zap.String("video_id", ev.VideoID.String()),
				zap.String("to", string(ev.To)),
				zap.Error(err),
			)
		}
	}()
}
