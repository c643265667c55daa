package store

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// RetryPolicy bounds attempts and backoff for transient failures.
type RetryPolicy struct {
	Attempts int
	Initial  time.Duration
	Max      time.Duration
}

// DefaultRetryPolicy makes three attempts starting at 100ms.
var DefaultRetryPolicy = RetryPolicy{Attempts: 3, Initial: 100 * time.Millisecond, Max: 2 * time.Second}

// Retrying wraps a Gateway and retries transient errors with exponential
// backoff. Permanent errors and context cancellation return immediately.
type Retrying struct {
	next   Gateway
	policy RetryPolicy
	log    *zap.Logger
	timer  backoff.Timer
}

// NewRetrying decorates next. A zero policy uses DefaultRetryPolicy.
func NewRetrying(next Gateway, policy RetryPolicy, log *zap.Logger) *Retrying {
	if policy.Attempts <= 0 {
		policy.Attempts = DefaultRetryPolicy.Attempts
	}
	if policy.Initial <= 0 {
		policy.Initial = DefaultRetryPolicy.Initial
	}
	if policy.Max < policy.Initial {
		policy.Max = policy.Initial
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Retrying{next: next, policy: policy, log: log}
}

func (r *Retrying) backOff(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = r.policy.Initial
	exp.MaxInterval = r.policy.Max
	exp.Multiplier = 2
	exp.RandomizationFactor = 0
	exp.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(r.policy.Attempts-1)), ctx)
}

func (r *Retrying) do(ctx context.Context, op string, fn func(context.Context) error) error {
	attempt := 0
	operation := func() error {
		attempt++
		err := fn(ctx)
		if err != nil && Permanent(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		r.log.Warn("store operation failed, retrying",
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", wait),
			zap.Error(err))
	}
	err := backoff.RetryNotifyWithTimer(operation, r.backOff(ctx), notify, r.timer)
	if err == nil || Permanent(err) {
		return err
	}
	return fmt.Errorf("%s: giving up after %d attempts: %w", op, attempt, err)
}

func (r *Retrying) LoadPlayer(ctx context.Context, username string) (PlayerRecord, error) {
	var rec PlayerRecord
	err := r.do(ctx, "load player", func(ctx context.Context) error {
		var err error
		rec, err = r.next.LoadPlayer(ctx, username)
		return err
	})
	return rec, err
}

func (r *Retrying) CreatePlayer(ctx context.Context, rec PlayerRecord) error {
	return r.do(ctx, "create player", func(ctx context.Context) error {
		return r.next.CreatePlayer(ctx, rec)
	})
}

func (r *Retrying) RecordLogin(ctx context.Context, username string, at time.Time) error {
	return r.do(ctx, "record login", func(ctx context.Context) error {
		return r.next.RecordLogin(ctx, username, at)
	})
}

func (r *Retrying) SavePlayerRoom(ctx context.Context, username, room string) error {
	return r.do(ctx, "save player room", func(ctx context.Context) error {
		return r.next.SavePlayerRoom(ctx, username, room)
	})
}

func (r *Retrying) ListPlayers(ctx context.Context) ([]PlayerRecord, error) {
	var out []PlayerRecord
	err := r.do(ctx, "list players", func(ctx context.Context) error {
		var err error
		out, err = r.next.ListPlayers(ctx)
		return err
	})
	return out, err
}

func (r *Retrying) LoadNPCState(ctx context.Context, id string) (NPCState, error) {
	var st NPCState
	err := r.do(ctx, "load npc state", func(ctx context.Context) error {
		var err error
		st, err = r.next.LoadNPCState(ctx, id)
		return err
	})
	return st, err
}

func (r *Retrying) SaveNPCState(ctx context.Context, st NPCState) error {
	return r.do(ctx, "save npc state", func(ctx context.Context) error {
		return r.next.SaveNPCState(ctx, st)
	})
}

func (r *Retrying) PruneNPCMemory(ctx context.Context, before time.Time) (int, error) {
	var n int
	err := r.do(ctx, "prune npc memory", func(ctx context.Context) error {
		var err error
		n, err = r.next.PruneNPCMemory(ctx, before)
		return err
	})
	return n, err
}

func (r *Retrying) Close() error { return r.next.Close() }
