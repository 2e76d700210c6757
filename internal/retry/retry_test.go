package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"endpoint-reconciler/internal/snsclient"
)

type fakeCreds struct {
	ensures   int
	refreshes int
	gen       uint64
	ensureErr error
}

func (f *fakeCreds) Ensure(context.Context) error {
	f.ensures++
	return f.ensureErr
}

func (f *fakeCreds) Generation() uint64 { return f.gen }

func (f *fakeCreds) Refresh(_ context.Context, observed uint64) error {
	if observed != f.gen {
		return nil
	}
	f.refreshes++
	f.gen++
	return nil
}

func testController(creds Credentials) *Controller {
	return New(creds, Policy{MaxRetries: 3, BaseDelay: time.Millisecond, MaxRefreshes: 2})
}

// scripted returns the queued errors in order, then succeeds.
func scripted(errs ...error) func(context.Context) error {
	i := 0
	return func(context.Context) error {
		if i < len(errs) {
			err := errs[i]
			i++
			return err
		}
		return nil
	}
}

func TestDoTransientThenSuccess(t *testing.T) {
	creds := &fakeCreds{}
	retries, err := testController(creds).Do(context.Background(),
		scripted(errors.New("throttled")))
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if retries != 1 {
		t.Fatalf("retries = %d, want 1", retries)
	}
}

func TestDoTransientBudgetExhausted(t *testing.T) {
	boom := errors.New("throttled")
	retries, err := testController(&fakeCreds{}).Do(context.Background(),
		scripted(boom, boom, boom, boom))
	if !errors.Is(err, boom) {
		t.Fatalf("expected final transient error, got %v", err)
	}
	if retries != 3 {
		t.Fatalf("retries = %d, want 3 (the full budget)", retries)
	}
}

func TestDoTerminalErrorsReturnImmediately(t *testing.T) {
	for _, sentinel := range []error{snsclient.ErrNotFound, snsclient.ErrInvalidParameter} {
		calls := 0
		retries, err := testController(&fakeCreds{}).Do(context.Background(),
			func(context.Context) error {
				calls++
				return fmt.Errorf("remote: %w", sentinel)
			})
		if !errors.Is(err, sentinel) {
			t.Fatalf("expected %v, got %v", sentinel, err)
		}
		if calls != 1 {
			t.Fatalf("terminal error retried: %d calls", calls)
		}
		if retries != 0 {
			t.Fatalf("terminal error consumed %d retries", retries)
		}
	}
}

func TestDoAuthExpiredRefreshesWithoutConsumingBudget(t *testing.T) {
	creds := &fakeCreds{}
	retries, err := testController(creds).Do(context.Background(),
		scripted(fmt.Errorf("remote: %w", snsclient.ErrAuthExpired)))
	if err != nil {
		t.Fatalf("expected success after refresh, got %v", err)
	}
	if creds.refreshes != 1 {
		t.Fatalf("refreshes = %d, want exactly 1", creds.refreshes)
	}
	if retries != 0 {
		t.Fatalf("auth-expired retry consumed %d transient slots", retries)
	}
}

func TestDoRefreshBudgetBounded(t *testing.T) {
	creds := &fakeCreds{}
	authErr := fmt.Errorf("remote: %w", snsclient.ErrAuthExpired)
	_, err := testController(creds).Do(context.Background(),
		func(context.Context) error { return authErr })
	if !errors.Is(err, ErrRefreshBudget) {
		t.Fatalf("expected ErrRefreshBudget, got %v", err)
	}
	if creds.refreshes != 2 {
		t.Fatalf("refreshes = %d, want MaxRefreshes=2", creds.refreshes)
	}
}

func TestDoEnsureFailureIsFatal(t *testing.T) {
	creds := &fakeCreds{ensureErr: errors.New("broker down")}
	calls := 0
	_, err := testController(creds).Do(context.Background(),
		func(context.Context) error { calls++; return nil })
	if !errors.Is(err, ErrCredentials) {
		t.Fatalf("expected ErrCredentials, got %v", err)
	}
	if calls != 0 {
		t.Fatalf("operation ran %d times without credentials", calls)
	}
}

func TestDoEnsuresBeforeEveryAttempt(t *testing.T) {
	creds := &fakeCreds{}
	boom := errors.New("throttled")
	_, err := testController(creds).Do(context.Background(), scripted(boom, boom))
	if err != nil {
		t.Fatalf("expected eventual success, got %v", err)
	}
	if creds.ensures != 3 {
		t.Fatalf("ensures = %d, want one per attempt (3)", creds.ensures)
	}
}

func TestDoHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := testController(&fakeCreds{}).Do(ctx,
		func(context.Context) error { return nil })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
