package postgresql

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"brandclip-worker-service/internal/entity"
)

type AccountRepository struct {
	pool *pgxpool.Pool
}

func NewAccountRepository(pool *pgxpool.Pool) *AccountRepository {
	return &AccountRepository{pool: pool}
}

func (r *AccountRepository) GetByID(ctx context.Context, id uuid.UUID) (*entity.ExternalAccount, error) {
	const q = `
SELECT id, user_id, platform, open_id, username, display_name,
       access_token_enc, refresh_token_enc, expires_at, refresh_expires_at,
       created_at, updated_at
FROM external_accounts
WHERE id = $1;
`
	var a entity.ExternalAccount
	if err := r.pool.QueryRow(ctx, q, id).Scan(
		&a.ID,
		&a.UserID,
		&a.Platform,
		&a.OpenID,
		&a.Username,
		&a.DisplayName,
		&a.AccessTokenEnc,
		&a.RefreshTokenEnc,
		&a.ExpiresAt,
		&a.RefreshExpiresAt,
		&a.CreatedAt,
		&a.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &a, nil
}

// UpdateTokens stores a refreshed, already encrypted token pair.
func (r *AccountRepository) UpdateTokens(ctx context.Context, id uuid.UUID, accessEnc, refreshEnc string, expiresAt, refreshExpiresAt time.Time) error {
	const q = `
UPDATE external_accounts
SET access_token_enc = $2, refresh_token_enc = $3, expires_at = $4, refresh_expires_at = $5, updated_at = now()
WHERE id = $1;
`
	tag, err := r.pool.Exec(ctx, q, id, accessEnc, refreshEnc, expiresAt, refreshExpiresAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
