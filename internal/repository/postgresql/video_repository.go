package postgresql

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"brandclip-worker-service/internal/entity"
)

// VideoRepository performs every status change as a conditional UPDATE. Each
// write reports whether it matched a row; false means another delivery got
// there first, which callers treat as a lost race rather than an error.
type VideoRepository struct {
	pool *pgxpool.Pool
}

func NewVideoRepository(pool *pgxpool.Pool) *VideoRepository {
	return &VideoRepository{pool: pool}
}

func (r *VideoRepository) GetByID(ctx context.Context, id uuid.UUID) (*entity.Video, error) {
	const q = `
SELECT id, user_id, account_id, title, source_url, edited_url, post_url,
       status, progress, edit_spec_json, error, created_at, updated_at
FROM videos
WHERE id = $1;
`
	var (
		v          entity.Video
		statusText string
		specBytes  []byte
	)
	if err := r.pool.QueryRow(ctx, q, id).Scan(
		&v.ID,
		&v.UserID,
		&v.AccountID,
		&v.Title,
		&v.SourceURL,
		&v.EditedURL,
		&v.PostURL,
		&statusText,
		&v.Progress,
		&specBytes, // NULL => nil
		&v.Error,
		&v.CreatedAt,
		&v.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	v.Status = entity.VideoStatus(statusText)
	if specBytes != nil {
		v.EditSpecJSON = json.RawMessage(specBytes)
	}
	return &v, nil
}

// TransitionStatus moves id to `to` only while its status is one of from.
func (r *VideoRepository) TransitionStatus(ctx context.Context, id uuid.UUID, from []entity.VideoStatus, to entity.VideoStatus) (bool, error) {
	const q = `
UPDATE videos
SET status = $2, progress = 0, error = NULL, updated_at = now()
WHERE id = $1 AND status = ANY($3::text[]);
`
	return r.exec(ctx, q, id, string(to), statusStrings(from))
}

// MarkFailed records errText and moves id into the failed status `to`. The
// update never fires once a failed status is recorded, and never from a
// status outside to's sources, so a late failure cannot clobber a success.
func (r *VideoRepository) MarkFailed(ctx context.Context, id uuid.UUID, to entity.VideoStatus, errText string) (bool, error) {
	const q = `
UPDATE videos
SET status = $2, error = $3, updated_at = now()
WHERE id = $1
  AND status = ANY($4::text[])
  AND status <> ALL($5::text[]);
`
	return r.exec(ctx, q, id, string(to), errText,
		statusStrings(to.Sources()), statusStrings(entity.FailedStatuses()))
}

// SetEdited completes the edit stage: EDITING -> EDITED with the output URL.
func (r *VideoRepository) SetEdited(ctx context.Context, id uuid.UUID, editedURL string) (bool, error) {
	const q = `
UPDATE videos
SET status = 'EDITED', edited_url = $2, progress = 100, error = NULL, updated_at = now()
WHERE id = $1 AND status = 'EDITING';
`
	return r.exec(ctx, q, id, editedURL)
}

// SetPosted completes the upload stage: UPLOADING -> POSTED with the post URL.
func (r *VideoRepository) SetPosted(ctx context.Context, id uuid.UUID, postURL string) (bool, error) {
	const q = `
UPDATE videos
SET status = 'POSTED', post_url = $2, progress = 100, error = NULL, updated_at = now()
WHERE id = $1 AND status = 'UPLOADING';
`
	return r.exec(ctx, q, id, postURL)
}

// UpdateProgress only touches rows that are actively being worked on.
func (r *VideoRepository) UpdateProgress(ctx context.Context, id uuid.UUID, progress int) error {
	const q = `
UPDATE videos
SET progress = $2, updated_at = now()
WHERE id = $1 AND status IN ('EDITING', 'UPLOADING');
`
	_, err := r.pool.Exec(ctx, q, id, progress)
	return err
}

// FreezeSpec stores the normalized design spec and queues the edit in one
// statement, from DRAFT or a manual re-queue out of FAILED_EDIT.
func (r *VideoRepository) FreezeSpec(ctx context.Context, id uuid.UUID, spec json.RawMessage) (bool, error) {
	const q = `
UPDATE videos
SET edit_spec_json = $2, status = 'EDITING_QUEUED', edited_url = NULL,
    progress = 0, error = NULL, updated_at = now()
WHERE id = $1 AND status = ANY($3::text[]);
`
	return r.exec(ctx, q, id, []byte(spec), statusStrings(entity.VideoEditingQueued.Sources()))
}

// AssignAccount sets the publishing target and queues the upload.
func (r *VideoRepository) AssignAccount(ctx context.Context, id, accountID uuid.UUID) (bool, error) {
	const q = `
UPDATE videos
SET account_id = $2, status = 'UPLOAD_QUEUED', post_url = NULL,
    progress = 0, error = NULL, updated_at = now()
WHERE id = $1 AND status = ANY($3::text[]);
`
	return r.exec(ctx, q, id, accountID, statusStrings(entity.VideoUploadQueued.Sources()))
}

func (r *VideoRepository) exec(ctx context.Context, q string, args ...any) (bool, error) {
	tag, err := r.pool.Exec(ctx, q, args...)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func statusStrings(ss []entity.VideoStatus) []string {
	out := make([]string, len(ss))
	for i, s := range ss {
		out[i] = string(s)
	}
	return out
}
