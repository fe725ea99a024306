package otp

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestLedger(t *testing.T) (*Ledger, *fakeClock) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run failed: %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	ledger := NewLedger(rdb, Config{
		CodeDigits: 6,
		Cooldown:   60 * time.Second,
		Expiry:     10 * time.Minute,
		Retention:  time.Hour,
		Prefix:     "aotp",
	}, clock.Now)

	return ledger, clock
}

func TestIssueAndVerify(t *testing.T) {
	ledger, _ := newTestLedger(t)
	ctx := context.Background()

	code, err := ledger.Issue(ctx, "alice@example.com", PurposeEmailVerification, "u1")
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	if len(code) != 6 {
		t.Fatalf("expected 6-digit code, got %q", code)
	}

	ok, err := ledger.Verify(ctx, "alice@example.com", code, PurposeEmailVerification)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if !ok {
		t.Fatal("expected matching code to verify")
	}
}

func TestIssueWithinCooldownRateLimited(t *testing.T) {
	ledger, clock := newTestLedger(t)
	ctx := context.Background()

	if _, err := ledger.Issue(ctx, "alice@example.com", PurposeEmailVerification, "u1"); err != nil {
		t.Fatalf("first Issue failed: %v", err)
	}

	clock.Advance(10 * time.Second)
	_, err := ledger.Issue(ctx, "alice@example.com", PurposeEmailVerification, "u1")

	var cooldown *CooldownError
	if !errors.As(err, &cooldown) {
		t.Fatalf("expected CooldownError, got %v", err)
	}
	if cooldown.RetryAfter <= 0 || cooldown.RetryAfter > 60*time.Second {
		t.Fatalf("unexpected retry-after %s", cooldown.RetryAfter)
	}
}

func TestCooldownIsPerPurpose(t *testing.T) {
	ledger, _ := newTestLedger(t)
	ctx := context.Background()

	if _, err := ledger.Issue(ctx, "alice@example.com", PurposeEmailVerification, "u1"); err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	if _, err := ledger.Issue(ctx, "alice@example.com", PurposePasswordReset, "u1"); err != nil {
		t.Fatalf("expected independent cooldown per purpose, got %v", err)
	}
}

func TestReissueInvalidatesPriorCode(t *testing.T) {
	ledger, clock := newTestLedger(t)
	ctx := context.Background()

	first, err := ledger.Issue(ctx, "alice@example.com", PurposeEmailVerification, "u1")
	if err != nil {
		t.Fatalf("first Issue failed: %v", err)
	}

	clock.Advance(61 * time.Second)
	second, err := ledger.Issue(ctx, "alice@example.com", PurposeEmailVerification, "u1")
	if err != nil {
		t.Fatalf("second Issue failed: %v", err)
	}

	if ok, _ := ledger.Verify(ctx, "alice@example.com", first, PurposeEmailVerification); ok && first != second {
		t.Fatal("expected superseded code to fail verification")
	}
	ok, err := ledger.Verify(ctx, "alice@example.com", second, PurposeEmailVerification)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if !ok {
		t.Fatal("expected current code to verify")
	}
}

func TestVerifyIsSingleUse(t *testing.T) {
	ledger, _ := newTestLedger(t)
	ctx := context.Background()

	code, err := ledger.Issue(ctx, "alice@example.com", PurposeEmailVerification, "u1")
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	ok, err := ledger.Verify(ctx, "alice@example.com", code, PurposeEmailVerification)
	if err != nil || !ok {
		t.Fatalf("first Verify = (%v, %v), want (true, nil)", ok, err)
	}

	ok, err = ledger.Verify(ctx, "alice@example.com", code, PurposeEmailVerification)
	if err != nil {
		t.Fatalf("second Verify failed: %v", err)
	}
	if ok {
		t.Fatal("expected consumed code to fail a second verification")
	}
}

func TestWrongCodeDoesNotConsume(t *testing.T) {
	ledger, _ := newTestLedger(t)
	ctx := context.Background()

	code, err := ledger.Issue(ctx, "alice@example.com", PurposeEmailVerification, "u1")
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	wrong := "000000"
	if wrong == code {
		wrong = "000001"
	}
	ok, err := ledger.Verify(ctx, "alice@example.com", wrong, PurposeEmailVerification)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if ok {
		t.Fatal("expected wrong code to fail")
	}

	// the record must remain consumable after a failed attempt
	ok, err = ledger.Verify(ctx, "alice@example.com", code, PurposeEmailVerification)
	if err != nil || !ok {
		t.Fatalf("Verify after failed attempt = (%v, %v), want (true, nil)", ok, err)
	}
}

func TestExpiredCodeFailsVerify(t *testing.T) {
	ledger, clock := newTestLedger(t)
	ctx := context.Background()

	code, err := ledger.Issue(ctx, "alice@example.com", PurposeEmailVerification, "u1")
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	clock.Advance(11 * time.Minute)
	ok, err := ledger.Verify(ctx, "alice@example.com", code, PurposeEmailVerification)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if ok {
		t.Fatal("expected expired code to fail regardless of correctness")
	}
}

func TestVerifyUnknownEmail(t *testing.T) {
	ledger, _ := newTestLedger(t)

	ok, err := ledger.Verify(context.Background(), "nobody@example.com", "123456", PurposeEmailVerification)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if ok {
		t.Fatal("expected verification without a record to fail")
	}
}

func TestSweepDeletesExpiredOnly(t *testing.T) {
	ledger, clock := newTestLedger(t)
	ctx := context.Background()

	if _, err := ledger.Issue(ctx, "old@example.com", PurposeEmailVerification, "u1"); err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	clock.Advance(11 * time.Minute)
	fresh, err := ledger.Issue(ctx, "new@example.com", PurposeEmailVerification, "u2")
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	deleted, err := ledger.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("expected 1 expired record deleted, got %d", deleted)
	}

	// sweeping again is a no-op
	deleted, err = ledger.Sweep(ctx)
	if err != nil {
		t.Fatalf("second Sweep failed: %v", err)
	}
	if deleted != 0 {
		t.Fatalf("expected idempotent sweep, got %d deletions", deleted)
	}

	ok, err := ledger.Verify(ctx, "new@example.com", fresh, PurposeEmailVerification)
	if err != nil || !ok {
		t.Fatalf("expected unexpired record to survive sweep, got (%v, %v)", ok, err)
	}
}
