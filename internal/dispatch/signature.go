package dispatch

import (
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// SignatureHeader carries the delivery signature on every webhook.
const SignatureHeader = "Upstash-Signature"

const signatureIssuer = "Upstash"

var ErrInvalidSignature = errors.New("invalid webhook signature")

// Claims follow the QStash request signing format: an HS256 JWT whose body
// claim is the base64url SHA-256 of the raw request body.
type Claims struct {
	jwt.RegisteredClaims
	Body string `json:"body"`
}

func bodyHash(body []byte) string {
	sum := sha256.Sum256(body)
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// Sign produces a signature for body delivered to url.
func Sign(key, url string, body []byte, now time.Time) (string, error) {
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    signatureIssuer,
			Subject:   url,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(5 * time.Minute)),
			ID:        uuid.NewString(),
		},
		Body: bodyHash(body),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(key))
}

// Verifier accepts signatures made with the current or the next signing key,
// so keys can be rotated without dropping deliveries.
type Verifier struct {
	keys   [][]byte
	leeway time.Duration
}

func NewVerifier(current, next string) *Verifier {
	v := &Verifier{leeway: 30 * time.Second}
	for _, k := range []string{current, next} {
		if k != "" {
			v.keys = append(v.keys, []byte(k))
		}
	}
	return v
}

func (v *Verifier) Verify(token string, body []byte) error {
	if token == "" {
		return fmt.Errorf("%w: missing %s header", ErrInvalidSignature, SignatureHeader)
	}
	if len(v.keys) == 0 {
		return fmt.Errorf("%w: no signing keys configured", ErrInvalidSignature)
	}

	var lastErr error
	for _, key := range v.keys {
		if err := v.verifyWith(key, token, body); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return fmt.Errorf("%w: %v", ErrInvalidSignature, lastErr)
}

func (v *Verifier) verifyWith(key []byte, token string, body []byte) error {
	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims,
		func(*jwt.Token) (any, error) { return key, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(signatureIssuer),
		jwt.WithLeeway(v.leeway),
	)
	if err != nil {
		return err
	}
	if strings.TrimRight(claims.Body, "=") != bodyHash(body) {
		return errors.New("body hash mismatch")
	}
	return nil
}
