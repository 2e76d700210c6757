package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"endpoint-reconciler/internal/snsclient"
)

// Credentials is the slice of the credential manager the controller needs.
// Generation identifies the grant an attempt ran under; Refresh takes it
// back so refreshes against an already-replaced grant collapse into no-ops.
type Credentials interface {
	Ensure(ctx context.Context) error
	Generation() uint64
	Refresh(ctx context.Context, observed uint64) error
}

// Policy bounds a single remote call's retry behavior.
type Policy struct {
	// MaxRetries is the retry budget beyond the first attempt.
	MaxRetries int
	// BaseDelay scales the linear backoff: attempt n waits BaseDelay*n.
	BaseDelay time.Duration
	// MaxRefreshes bounds credential-refresh retries separately from the
	// transient budget, so a persistently failing grant broker cannot
	// extend a call forever.
	MaxRefreshes int
}

// DefaultPolicy matches the reconciler's production defaults.
var DefaultPolicy = Policy{
	MaxRetries:   3,
	BaseDelay:    time.Second,
	MaxRefreshes: 5,
}

// ErrRefreshBudget reports that auth-expired retries exceeded MaxRefreshes.
// This is fatal to the run, not an ERROR outcome for the record.
var ErrRefreshBudget = errors.New("credential refresh budget exhausted")

// ErrCredentials reports that the grant could not be acquired or refreshed
// at all. Also fatal to the run.
var ErrCredentials = errors.New("credential acquisition failed")

// Controller wraps single remote calls with bounded retries, linear
// backoff, and credential-refresh interleaving. It performs no
// classification; the raw terminal error is surfaced to the caller.
type Controller struct {
	creds  Credentials
	policy Policy
	sleep  func(ctx context.Context, d time.Duration) error
}

// New builds a controller. Zero policy fields fall back to DefaultPolicy.
func New(creds Credentials, policy Policy) *Controller {
	if policy.MaxRetries <= 0 {
		policy.MaxRetries = DefaultPolicy.MaxRetries
	}
	if policy.BaseDelay <= 0 {
		policy.BaseDelay = DefaultPolicy.BaseDelay
	}
	if policy.MaxRefreshes <= 0 {
		policy.MaxRefreshes = DefaultPolicy.MaxRefreshes
	}
	return &Controller{creds: creds, policy: policy, sleep: sleepCtx}
}

// Do runs op until it succeeds, fails terminally, or exhausts a budget.
// It returns the number of transient retries consumed and the final error.
//
//   - Before every attempt the credential manager is consulted; a grant
//     within its safety margin is refreshed synchronously.
//   - ErrNotFound and ErrInvalidParameter return immediately: deterministic
//     properties of the target, retrying cannot change them.
//   - ErrAuthExpired triggers an out-of-band refresh and retries without
//     consuming a transient slot, up to MaxRefreshes.
//   - Anything else consumes a slot and retries after BaseDelay*attempt.
func (c *Controller) Do(ctx context.Context, op func(ctx context.Context) error) (int, error) {
	retries := 0
	refreshes := 0
	for {
		if err := ctx.Err(); err != nil {
			return retries, err
		}
		if err := c.creds.Ensure(ctx); err != nil {
			return retries, fmt.Errorf("%w: %v", ErrCredentials, err)
		}
		gen := c.creds.Generation()

		err := op(ctx)
		if err == nil {
			return retries, nil
		}

		switch {
		case errors.Is(err, snsclient.ErrNotFound), errors.Is(err, snsclient.ErrInvalidParameter):
			return retries, err

		case errors.Is(err, snsclient.ErrAuthExpired):
			refreshes++
			if refreshes > c.policy.MaxRefreshes {
				return retries, fmt.Errorf("%w after %d refreshes: %v", ErrRefreshBudget, c.policy.MaxRefreshes, err)
			}
			if rerr := c.creds.Refresh(ctx, gen); rerr != nil {
				return retries, fmt.Errorf("%w: %v", ErrCredentials, rerr)
			}

		default:
			if retries >= c.policy.MaxRetries {
				return retries, err
			}
			retries++
			if serr := c.sleep(ctx, c.policy.BaseDelay*time.Duration(retries)); serr != nil {
				return retries, serr
			}
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
