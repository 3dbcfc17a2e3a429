package otp

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ridelink/ridelink-backend/internal/logging"
)

func newTestService(t *testing.T) (*Service, *time.Time) {
	t.Helper()
	st := NewMemoryStore()
	t.Cleanup(st.Close)

	svc := NewService(st, 10*time.Minute, 3, logging.NewNop())
	now := time.Now()
	svc.now = func() time.Time { return now }
	return svc, &now
}

func TestIssueAndVerify(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	code, err := svc.Issue(ctx, "+14155550100", 7)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if len(code) != 6 {
		t.Fatalf("code = %q, want 6 digits", code)
	}

	if err := svc.Verify(ctx, "+14155550100", 7, code); err != nil {
		t.Fatalf("Verify: %v", err)
	}

	// A consumed code can't verify twice.
	if err := svc.Verify(ctx, "+14155550100", 7, code); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second verify err = %v, want ErrNotFound", err)
	}
}

func TestVerifyWrongSubject(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	code, _ := svc.Issue(ctx, "+14155550100", 7)

	// Same phone, different ride: no challenge exists.
	if err := svc.Verify(ctx, "+14155550100", 8, code); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestVerifyExpired(t *testing.T) {
	svc, now := newTestService(t)
	ctx := context.Background()

	code, _ := svc.Issue(ctx, "+14155550100", 7)
	*now = now.Add(10*time.Minute + time.Second)

	if err := svc.Verify(ctx, "+14155550100", 7, code); !errors.Is(err, ErrExpired) {
		t.Fatalf("err = %v, want ErrExpired", err)
	}
	// The expired challenge is gone; the next guess sees no record.
	if err := svc.Verify(ctx, "+14155550100", 7, code); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestVerifyAttemptBudget(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	code, _ := svc.Issue(ctx, "+14155550100", 7)
	wrong := "000000"
	if wrong == code {
		wrong = "000001"
	}

	for i := 0; i < 2; i++ {
		if err := svc.Verify(ctx, "+14155550100", 7, wrong); !errors.Is(err, ErrCodeMismatch) {
			t.Fatalf("attempt %d err = %v, want ErrCodeMismatch", i+1, err)
		}
	}
	// Third wrong guess burns the last attempt.
	if err := svc.Verify(ctx, "+14155550100", 7, wrong); !errors.Is(err, ErrAttemptsExceeded) {
		t.Fatalf("third attempt err = %v, want ErrAttemptsExceeded", err)
	}
	// Even the correct code is refused once the budget is gone.
	if err := svc.Verify(ctx, "+14155550100", 7, code); !errors.Is(err, ErrAttemptsExceeded) {
		t.Fatalf("correct-after-exhaustion err = %v, want ErrAttemptsExceeded", err)
	}
}

func TestReissueReplacesChallenge(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	first, _ := svc.Issue(ctx, "+14155550100", 7)
	second, err := svc.Issue(ctx, "+14155550100", 7)
	if err != nil {
		t.Fatalf("reissue: %v", err)
	}

	if first != second {
		if err := svc.Verify(ctx, "+14155550100", 7, first); err == nil {
			t.Fatal("stale code verified")
		}
	}
	if err := svc.Verify(ctx, "+14155550100", 7, second); err != nil {
		t.Fatalf("fresh code: %v", err)
	}
}

func TestReissueResetsAttempts(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	code, _ := svc.Issue(ctx, "+14155550100", 7)
	wrong := "000000"
	if wrong == code {
		wrong = "000001"
	}
	for i := 0; i < 3; i++ {
		_ = svc.Verify(ctx, "+14155550100", 7, wrong)
	}

	fresh, _ := svc.Issue(ctx, "+14155550100", 7)
	if err := svc.Verify(ctx, "+14155550100", 7, fresh); err != nil {
		t.Fatalf("fresh code after exhaustion: %v", err)
	}
}

func TestInvalidate(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	code, _ := svc.Issue(ctx, "+14155550100", 7)
	svc.Invalidate(ctx, "+14155550100", 7)

	if err := svc.Verify(ctx, "+14155550100", 7, code); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestHashCodeStable(t *testing.T) {
	if HashCode("123456") != HashCode("123456") {
		t.Fatal("hash not deterministic")
	}
	if HashCode("123456") == HashCode("654321") {
		t.Fatal("distinct codes collide")
	}
}
