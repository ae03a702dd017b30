package storage

import (
	"context"
	"io"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"

	"github.com/farepay/farepay-api/internal/pkg/metrics"
)

// BreakerStorage guards a Storage with a circuit breaker so a failing object
// store fails fast instead of piling up slow uploads.
type BreakerStorage struct {
	next Storage
	cb   *gobreaker.CircuitBreaker
	name string
}

// NewBreakerStorage wraps next with a circuit breaker named name.
func NewBreakerStorage(name string, next Storage) *BreakerStorage {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		Interval:    30 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 5 && failureRatio >= 0.6
		},
		IsSuccessful: func(err error) bool {
			return err == nil || err == ErrNotFound
		},
		OnStateChange: func(cbName string, from gobreaker.State, to gobreaker.State) {
			metrics.CircuitBreakerState.WithLabelValues(cbName).Set(stateValue(to))
			log.Warn().
				Str("circuit", cbName).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Circuit breaker state changed")
		},
	})
	metrics.CircuitBreakerState.WithLabelValues(name).Set(0)

	return &BreakerStorage{next: next, cb: cb, name: name}
}

func (b *BreakerStorage) Put(ctx context.Context, key string, reader io.Reader, contentType string) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, b.next.Put(ctx, key, reader, contentType)
	})
	if err != nil {
		metrics.CircuitBreakerFailures.WithLabelValues(b.name).Inc()
	}
	return err
}

func (b *BreakerStorage) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	rc, err := b.cb.Execute(func() (interface{}, error) {
		return b.next.Get(ctx, key)
	})
	if err != nil {
		if err != ErrNotFound {
			metrics.CircuitBreakerFailures.WithLabelValues(b.name).Inc()
		}
		return nil, err
	}
	return rc.(io.ReadCloser), nil
}

// State returns the breaker state name.
func (b *BreakerStorage) State() string {
	return b.cb.State().String()
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateOpen:
		return 1
	case gobreaker.StateHalfOpen:
		return 2
	default:
		return 0
	}
}
