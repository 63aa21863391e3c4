package store

import (
	"context"
	"time"

	"github.com/dkeye/Canvas/internal/app"
	"github.com/dkeye/Canvas/internal/domain"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
)

// BreakerConfig holds configuration for the store circuit breaker.
type BreakerConfig struct {
	Name        string
	MaxRequests uint32
	Interval    time.Duration
	Timeout     time.Duration
	// Trip once at least MinRequests were seen and the failure ratio
	// reaches FailureThreshold.
	FailureThreshold float64
	MinRequests      uint32
}

func DefaultBreakerConfig(name string) BreakerConfig {
	return BreakerConfig{
		Name:             name,
		MaxRequests:      1,
		Interval:         30 * time.Second,
		Timeout:          15 * time.Second,
		FailureThreshold: 0.6,
		MinRequests:      5,
	}
}

// Breaker fails store calls fast while the underlying store keeps failing,
// so a sick database does not pile up work behind the persist queue.
type Breaker struct {
	next app.Store
	cb   *gobreaker.CircuitBreaker
}

func NewBreaker(next app.Store, cfg BreakerConfig) *Breaker {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("module", "store.breaker").Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state changed")
		},
	})
	return &Breaker{next: next, cb: cb}
}

func (b *Breaker) State() gobreaker.State { return b.cb.State() }

func (b *Breaker) LoadRoom(ctx context.Context, id domain.RoomID) (domain.Snapshot, bool, error) {
	type loaded struct {
		snap  domain.Snapshot
		found bool
	}
	v, err := b.cb.Execute(func() (interface{}, error) {
		snap, found, err := b.next.LoadRoom(ctx, id)
		return loaded{snap: snap, found: found}, err
	})
	if err != nil {
		return domain.Snapshot{}, false, err
	}
	l := v.(loaded)
	return l.snap, l.found, nil
}

func (b *Breaker) CreateRoom(ctx context.Context, id domain.RoomID, name string) error {
	return b.exec(func() error { return b.next.CreateRoom(ctx, id, name) })
}

func (b *Breaker) SaveSnapshot(ctx context.Context, id domain.RoomID, s domain.Snapshot) error {
	return b.exec(func() error { return b.next.SaveSnapshot(ctx, id, s) })
}

func (b *Breaker) AppendOperation(ctx context.Context, op domain.Operation) error {
	return b.exec(func() error { return b.next.AppendOperation(ctx, op) })
}

func (b *Breaker) TouchActivity(ctx context.Context, id domain.RoomID) error {
	return b.exec(func() error { return b.next.TouchActivity(ctx, id) })
}

func (b *Breaker) ClearOperations(ctx context.Context, id domain.RoomID) error {
	return b.exec(func() error { return b.next.ClearOperations(ctx, id) })
}

func (b *Breaker) exec(fn func() error) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	return err
}
