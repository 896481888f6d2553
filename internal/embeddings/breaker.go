// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package embeddings

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
)

// ErrCircuitOpen is returned while the provider is considered down
var ErrCircuitOpen = errors.New("embedding circuit breaker is open")

// BreakerConfig tunes the provider circuit breaker
type BreakerConfig struct {
	// MaxFailures is the number of consecutive failures that opens the circuit
	MaxFailures uint32
	// Timeout is how long the circuit stays open before a trial request
	Timeout time.Duration
	// HalfOpenMaxRequests is the number of trial requests allowed when half-open
	HalfOpenMaxRequests uint32
}

// breaker stops hammering a provider that keeps failing
type breaker struct {
	cb *gobreaker.CircuitBreaker
}

func newBreaker(cfg BreakerConfig, log *logrus.Entry) *breaker {
	if cfg.MaxFailures == 0 {
		cfg.MaxFailures = 3
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.HalfOpenMaxRequests == 0 {
		cfg.HalfOpenMaxRequests = 1
	}

	settings := gobreaker.Settings{
		Name:        "embeddings",
		MaxRequests: cfg.HalfOpenMaxRequests,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.MaxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.WithFields(logrus.Fields{"from": from.String(), "to": to.String()}).
				Warn("embedding circuit breaker state changed")
		},
	}
	return &breaker{cb: gobreaker.NewCircuitBreaker(settings)}
}

// execute runs fn through the breaker
func (b *breaker) execute(ctx context.Context, fn func() ([]float32, error)) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result, err := b.cb.Execute(func() (interface{}, error) {
		return fn()
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, ErrCircuitOpen
		}
		return nil, err
	}
	return result.([]float32), nil
}

// state returns "closed", "open" or "half-open"
func (b *breaker) state() string {
	return b.cb.State().String()
}
