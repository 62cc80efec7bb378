package dispatch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifier(t *testing.T) {
	body := []byte(`{"videoId":"v-1"}`)
	now := time.Now()

	signedCurrent, err := Sign("current-key", "https://w/edit/process", body, now)
	require.NoError(t, err)
	signedNext, err := Sign("next-key", "https://w/edit/process", body, now)
	require.NoError(t, err)
	signedOther, err := Sign("rotated-out", "https://w/edit/process", body, now)
	require.NoError(t, err)
	expired, err := Sign("current-key", "https://w/edit/process", body, now.Add(-time.Hour))
	require.NoError(t, err)

	v := NewVerifier("current-key", "next-key")

	assert.NoError(t, v.Verify(signedCurrent, body))
	assert.NoError(t, v.Verify(signedNext, body))

	assert.ErrorIs(t, v.Verify(signedOther, body), ErrInvalidSignature)
	assert.ErrorIs(t, v.Verify(expired, body), ErrInvalidSignature)
	assert.ErrorIs(t, v.Verify(signedCurrent, []byte(`{"videoId":"v-2"}`)), ErrInvalidSignature)
	assert.ErrorIs(t, v.Verify("", body), ErrInvalidSignature)
	assert.ErrorIs(t, v.Verify("not-a-jwt", body), ErrInvalidSignature)

	assert.ErrorIs(t, NewVerifier("", "").Verify(signedCurrent, body), ErrInvalidSignature)
}
