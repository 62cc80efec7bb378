package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"brandclip-worker-service/internal/entity"
	"brandclip-worker-service/internal/tiktok"
)

type AccountStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*entity.ExternalAccount, error)
	UpdateTokens(ctx context.Context, id uuid.UUID, accessEnc, refreshEnc string, expiresAt, refreshExpiresAt time.Time) error
}

// TokenCipher seals tokens at rest (implementation: secret.Cipher).
type TokenCipher interface {
	Encrypt(plain string) (string, error)
	Decrypt(sealed string) (string, error)
}

type TokenRefresher interface {
	RefreshToken(ctx context.Context, refreshToken string) (*tiktok.Token, error)
}

// accessToken holds the plaintext token for one account during one job.
type accessToken struct {
	account  *entity.ExternalAccount
	value    string
	accounts AccountStore
	cipher   TokenCipher
	client   TokenRefresher
	now      func() time.Time
	logger   *zap.Logger
}

func (t *accessToken) load(ctx context.Context) error {
	plain, err := t.cipher.Decrypt(t.account.AccessTokenEnc)
	if err != nil {
		return fmt.Errorf("decrypt access token: %w", err)
	}
	t.value = plain
	if t.account.AccessTokenExpired(t.now()) {
		t.logger.Info("access token expired, refreshing")
		return t.refresh(ctx)
	}
	return nil
}

func (t *accessToken) refresh(ctx context.Context) error {
	refreshPlain, err := t.cipher.Decrypt(t.account.RefreshTokenEnc)
	if err != nil {
		return fmt.Errorf("decrypt refresh token: %w", err)
	}
	tok, err := t.client.RefreshToken(ctx, refreshPlain)
	if err != nil {
		return fmt.Errorf("refresh token: %w", err)
	}

	// the platform may rotate the refresh token or keep the old one
	if tok.RefreshToken == "" {
		tok.RefreshToken = refreshPlain
	}
	accessEnc, err := t.cipher.Encrypt(tok.AccessToken)
	if err != nil {
		return fmt.Errorf("encrypt access token: %w", err)
	}
	refreshEnc, err := t.cipher.Encrypt(tok.RefreshToken)
	if err != nil {
		return fmt.Errorf("encrypt refresh token: %w", err)
	}

	now := t.now()
	expiresAt, refreshExpiresAt := tok.ExpiresAt(now), tok.RefreshExpiresAt(now)
	if err := t.accounts.UpdateTokens(ctx, t.account.ID, accessEnc, refreshEnc, expiresAt, refreshExpiresAt); err != nil {
		// the fresh token still works for this job
		t.logger.Warn("could not persist refreshed tokens", zap.Error(err))
	}

	t.value = tok.AccessToken
	t.account.AccessTokenEnc, t.account.RefreshTokenEnc = accessEnc, refreshEnc
	t.account.ExpiresAt, t.account.RefreshExpiresAt = &expiresAt, &refreshExpiresAt
	return nil
}

// do runs one platform step. A rejected token is refreshed once and the
// step retried once; a second rejection is returned as is.
func (t *accessToken) do(ctx context.Context, step string, fn func(token string) error) error {
	err := fn(t.value)
	if err == nil || !isUnauthorized(err) {
		return err
	}
	t.logger.Info("access token rejected, refreshing", zap.String("step", step))
	if rerr := t.refresh(ctx); rerr != nil {
		return fmt.Errorf("%s: %w (after %v)", step, rerr, err)
	}
	return fn(t.value)
}
