package creds

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"

	"endpoint-reconciler/internal/telemetry"
)

// State tracks the lifecycle of the current access grant.
type State string

const (
	StateUninitialized State = "uninitialized"
	StateValid         State = "valid"
	StateExpired       State = "expired"
)

// Grant is short-lived access material plus its expiry.
type Grant struct {
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	Expiry          time.Time
}

// Broker acquires a fresh grant. The delegated-trust exchange behind it
// (base credentials, role, session duration) is the broker's concern.
type Broker interface {
	Acquire(ctx context.Context) (Grant, error)
}

// Manager owns the current grant and is the single place it mutates.
// Callers ask Ensure before remote work; a caller that observes an
// auth failure mid-call reports it via Refresh.
//
// Manager implements aws.CredentialsProvider so SDK clients built on it
// pick up refreshed grants without being rebuilt.
type Manager struct {
	broker Broker
	margin time.Duration
	now    func() time.Time

	mu    sync.Mutex
	grant Grant
	state State
	gen   uint64
}

// DefaultSafetyMargin is how long before expiry a grant is treated as
// already expired, so no call starts on the edge of its window.
const DefaultSafetyMargin = 5 * time.Minute

// NewManager builds a manager in the uninitialized state. A zero margin
// gets the default.
func NewManager(broker Broker, margin time.Duration) *Manager {
	if margin <= 0 {
		margin = DefaultSafetyMargin
	}
	return &Manager{
		broker: broker,
		margin: margin,
		now:    time.Now,
		state:  StateUninitialized,
	}
}

// State reports the current lifecycle state, re-evaluating expiry first.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observeExpiry()
	return m.state
}

// Ensure guarantees a usable grant: it acquires one if none exists and
// refreshes if the current grant is within the safety margin of expiry.
func (m *Manager) Ensure(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observeExpiry()
	if m.state == StateValid {
		return nil
	}
	return m.refreshLocked(ctx)
}

// Generation identifies the current grant. Callers sample it before
// remote work and hand it back to Refresh so concurrent failures against
// the same grant collapse into a single re-acquisition.
func (m *Manager) Generation() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gen
}

// Refresh re-acquires the grant after a remote call reported it invalid,
// regardless of what the local expiry clock says. observed is the
// generation the caller was holding when the call failed; when another
// caller has already replaced that grant, Refresh is a no-op.
func (m *Manager) Refresh(ctx context.Context, observed uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gen != observed {
		return nil
	}
	m.state = StateExpired
	return m.refreshLocked(ctx)
}

// Retrieve implements aws.CredentialsProvider.
func (m *Manager) Retrieve(ctx context.Context) (aws.Credentials, error) {
	if err := m.Ensure(ctx); err != nil {
		return aws.Credentials{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return aws.Credentials{
		AccessKeyID:     m.grant.AccessKeyID,
		SecretAccessKey: m.grant.SecretAccessKey,
		SessionToken:    m.grant.SessionToken,
		Source:          "reconciler-grant-broker",
		CanExpire:       true,
		Expires:         m.grant.Expiry,
	}, nil
}

// Expiry returns the current grant's expiry; zero when uninitialized.
func (m *Manager) Expiry() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.grant.Expiry
}

func (m *Manager) observeExpiry() {
	if m.state == StateValid && !m.now().Before(m.grant.Expiry.Add(-m.margin)) {
		m.state = StateExpired
	}
}

func (m *Manager) refreshLocked(ctx context.Context) error {
	grant, err := m.broker.Acquire(ctx)
	if err != nil {
		// Failed re-acquisition leaves the manager expired; the caller
		// treats this as fatal.
		if m.state == StateValid {
			m.state = StateExpired
		}
		return fmt.Errorf("acquire grant: %w", err)
	}
	m.grant = grant
	m.state = StateValid
	m.gen++
	telemetry.RefreshCounter.Inc()
	return nil
}
