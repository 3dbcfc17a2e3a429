// Package otp implements the one-time passcode pickup-verification protocol:
// a short numeric code with a fixed TTL and a bounded guess budget, keyed by
// (phone, ride).
package otp

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"time"

	"go.uber.org/zap"

	"github.com/ridelink/ridelink-backend/internal/observability"
)

var (
	// ErrNotFound means no challenge exists for the subject, or an expired
	// one was just reaped.
	ErrNotFound = errors.New("otp: challenge not found")

	// ErrExpired means the challenge was present but past its TTL. The
	// record is deleted on detection; later calls see ErrNotFound.
	ErrExpired = errors.New("otp: challenge expired")

	// ErrAttemptsExceeded means the guess budget is used up. The exhausted
	// challenge stays until its TTL runs out so repeat guesses keep getting
	// this error rather than ErrNotFound.
	ErrAttemptsExceeded = errors.New("otp: attempts exceeded")

	// ErrCodeMismatch means a wrong guess with attempts remaining.
	ErrCodeMismatch = errors.New("otp: code mismatch")
)

const (
	DefaultTTL         = 10 * time.Minute
	DefaultMaxAttempts = 3
	codeDigits         = 6
)

// Challenge is one issued passcode.
type Challenge struct {
	Code        string    `json:"code"`
	CreatedAt   time.Time `json:"createdAt"`
	ExpiresAt   time.Time `json:"expiresAt"`
	Attempts    int       `json:"attempts"`
	MaxAttempts int       `json:"maxAttempts"`
}

func (c Challenge) expired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}

// Store holds live challenges keyed by subject. Implementations must expire
// records at their TTL even if never touched again.
type Store interface {
	Put(ctx context.Context, key string, ch Challenge) error
	Get(ctx context.Context, key string) (Challenge, error)
	Delete(ctx context.Context, key string) error
}

// Service issues and verifies challenges.
type Service struct {
	store       Store
	ttl         time.Duration
	maxAttempts int
	now         func() time.Time
	logger      *zap.SugaredLogger
}

func NewService(store Store, ttl time.Duration, maxAttempts int, logger *zap.SugaredLogger) *Service {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Service{
		store:       store,
		ttl:         ttl,
		maxAttempts: maxAttempts,
		now:         time.Now,
		logger:      logger,
	}
}

// Key builds the subject key for a (phone, ride) pair.
func Key(phone string, rideID uint) string {
	return fmt.Sprintf("%s:%d", phone, rideID)
}

// Issue generates a fresh challenge for the subject, replacing any prior one,
// and returns the code for delivery to the rider.
func (s *Service) Issue(ctx context.Context, phone string, rideID uint) (string, error) {
	code, err := generateCode()
	if err != nil {
		return "", fmt.Errorf("generate code: %w", err)
	}

	now := s.now()
	ch := Challenge{
		Code:        code,
		CreatedAt:   now,
		ExpiresAt:   now.Add(s.ttl),
		MaxAttempts: s.maxAttempts,
	}
	if err := s.store.Put(ctx, Key(phone, rideID), ch); err != nil {
		return "", fmt.Errorf("store challenge: %w", err)
	}
	s.logger.Infow("otp issued", "ride", rideID, "expires", ch.ExpiresAt)
	return code, nil
}

// Verify checks a guess against the live challenge. A correct guess consumes
// the challenge: success is signalled exactly once and the record is gone
// afterwards. Wrong guesses burn attempts; once the budget is gone every
// further guess fails with ErrAttemptsExceeded, correct or not.
func (s *Service) Verify(ctx context.Context, phone string, rideID uint, code string) error {
	key := Key(phone, rideID)
	ch, err := s.store.Get(ctx, key)
	if err != nil {
		observability.OtpVerifications.WithLabelValues("missing").Inc()
		return err
	}

	now := s.now()
	if ch.expired(now) {
		_ = s.store.Delete(ctx, key)
		observability.OtpVerifications.WithLabelValues("expired").Inc()
		return ErrExpired
	}

	if ch.Attempts >= ch.MaxAttempts {
		observability.OtpVerifications.WithLabelValues("exhausted").Inc()
		return ErrAttemptsExceeded
	}

	if ch.Code != code {
		ch.Attempts++
		if err := s.store.Put(ctx, key, ch); err != nil {
			return fmt.Errorf("record attempt: %w", err)
		}
		if ch.Attempts >= ch.MaxAttempts {
			observability.OtpVerifications.WithLabelValues("exhausted").Inc()
			return ErrAttemptsExceeded
		}
		observability.OtpVerifications.WithLabelValues("mismatch").Inc()
		return ErrCodeMismatch
	}

	if err := s.store.Delete(ctx, key); err != nil {
		return fmt.Errorf("consume challenge: %w", err)
	}
	observability.OtpVerifications.WithLabelValues("ok").Inc()
	return nil
}

// Invalidate drops a subject's challenge, used when a ride dies while a code
// is outstanding.
func (s *Service) Invalidate(ctx context.Context, phone string, rideID uint) {
	if err := s.store.Delete(ctx, Key(phone, rideID)); err != nil && !errors.Is(err, ErrNotFound) {
		s.logger.Warnw("invalidate otp", "ride", rideID, "err", err)
	}
}

// generateCode draws a uniform 6-digit numeric code from crypto/rand.
func generateCode() (string, error) {
	max := big.NewInt(1)
	for i := 0; i < codeDigits; i++ {
		max.Mul(max, big.NewInt(10))
	}
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", codeDigits, n), nil
}

// HashCode is what the ride record keeps instead of the code itself.
func HashCode(code string) string {
	sum := sha256.Sum256([]byte(code))
	return hex.EncodeToString(sum[:])
}
