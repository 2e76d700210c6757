package creds

import (
	"context"
	"errors"
	"testing"
	"time"
)

type countingBroker struct {
	acquires int
	err      error
	lifetime time.Duration
	now      func() time.Time
}

func (b *countingBroker) Acquire(context.Context) (Grant, error) {
	b.acquires++
	if b.err != nil {
		return Grant{}, b.err
	}
	return Grant{
		AccessKeyID:     "AKIA-test",
		SecretAccessKey: "secret",
		SessionToken:    "token",
		Expiry:          b.now().Add(b.lifetime),
	}, nil
}

func managerAt(t *testing.T, broker *countingBroker, margin time.Duration) (*Manager, *time.Time) {
	t.Helper()
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := &now
	broker.now = func() time.Time { return *clock }
	m := NewManager(broker, margin)
	m.now = func() time.Time { return *clock }
	return m, clock
}

func TestManagerLifecycle(t *testing.T) {
	ctx := context.Background()
	broker := &countingBroker{lifetime: time.Hour}
	m, clock := managerAt(t, broker, 5*time.Minute)

	if got := m.State(); got != StateUninitialized {
		t.Fatalf("initial state = %s", got)
	}

	if err := m.Ensure(ctx); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if got := m.State(); got != StateValid {
		t.Fatalf("state after acquire = %s", got)
	}
	if broker.acquires != 1 {
		t.Fatalf("acquires = %d, want 1", broker.acquires)
	}

	// Still comfortably inside the expiry window: no re-acquire.
	*clock = clock.Add(30 * time.Minute)
	if err := m.Ensure(ctx); err != nil {
		t.Fatalf("ensure within window: %v", err)
	}
	if broker.acquires != 1 {
		t.Fatalf("ensure inside window re-acquired: %d", broker.acquires)
	}

	// Inside the safety margin counts as expired.
	*clock = clock.Add(26 * time.Minute)
	if got := m.State(); got != StateExpired {
		t.Fatalf("state inside margin = %s, want %s", got, StateExpired)
	}
	if err := m.Ensure(ctx); err != nil {
		t.Fatalf("ensure at margin: %v", err)
	}
	if broker.acquires != 2 {
		t.Fatalf("acquires after margin = %d, want 2", broker.acquires)
	}
	if got := m.State(); got != StateValid {
		t.Fatalf("state after re-acquire = %s", got)
	}
}

func TestManagerRefreshReplacesCurrentGrant(t *testing.T) {
	ctx := context.Background()
	broker := &countingBroker{lifetime: time.Hour}
	m, _ := managerAt(t, broker, 5*time.Minute)

	if err := m.Ensure(ctx); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	// A caller reporting an auth failure against the current grant forces
	// a new one even though the local clock says it is fine.
	if err := m.Refresh(ctx, m.Generation()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if broker.acquires != 2 {
		t.Fatalf("acquires = %d, want 2", broker.acquires)
	}
}

func TestManagerRefreshCoalescesStaleObservations(t *testing.T) {
	ctx := context.Background()
	broker := &countingBroker{lifetime: time.Hour}
	m, _ := managerAt(t, broker, 5*time.Minute)

	if err := m.Ensure(ctx); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	// Several callers fail against the same grant and all report it. The
	// first one wins; the rest arrive holding a generation that was already
	// replaced and must not hit the broker again.
	observed := m.Generation()
	if err := m.Refresh(ctx, observed); err != nil {
		t.Fatalf("first refresh: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := m.Refresh(ctx, observed); err != nil {
			t.Fatalf("stale refresh %d: %v", i, err)
		}
	}
	if broker.acquires != 2 {
		t.Fatalf("acquires = %d, want 2 (stale reports re-acquired)", broker.acquires)
	}
	if got := m.State(); got != StateValid {
		t.Fatalf("state after coalesced refreshes = %s, want %s", got, StateValid)
	}
}

func TestManagerFailedReacquireStaysExpired(t *testing.T) {
	ctx := context.Background()
	broker := &countingBroker{lifetime: time.Minute}
	m, clock := managerAt(t, broker, 5*time.Minute)

	if err := m.Ensure(ctx); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	broker.err = errors.New("sts unavailable")
	*clock = clock.Add(time.Hour)

	if err := m.Ensure(ctx); err == nil {
		t.Fatalf("expected fatal error from failed re-acquire")
	}
	if got := m.State(); got != StateExpired {
		t.Fatalf("state after failed re-acquire = %s, want %s", got, StateExpired)
	}
}

func TestManagerRetrieveExposesGrant(t *testing.T) {
	ctx := context.Background()
	broker := &countingBroker{lifetime: time.Hour}
	m, _ := managerAt(t, broker, 5*time.Minute)

	c, err := m.Retrieve(ctx)
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if c.AccessKeyID != "AKIA-test" || c.SessionToken != "token" {
		t.Fatalf("unexpected credentials: %+v", c)
	}
	if !c.CanExpire || !c.Expires.Equal(m.Expiry()) {
		t.Fatalf("expiry not propagated: %+v", c)
	}
}
