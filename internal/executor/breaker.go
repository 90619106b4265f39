// SIMSync - IoT Connectivity Provider Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/simsync

package executor

import (
	"sync"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/simsync/internal/config"
	"github.com/tomtom215/simsync/internal/logging"
	"github.com/tomtom215/simsync/internal/metrics"
)

// Endpoint classes. Each class has its own circuit breaker so a failing
// usage endpoint does not block inventory or top-ups.
const (
	ClassSIMs         = "sims"
	ClassUsage        = "usage"
	ClassQuota        = "quota"
	ClassTopUp        = "topup"
	ClassSMS          = "sms"
	ClassConnectivity = "connectivity"
	ClassEvents       = "events"
)

// breakerSet lazily creates one circuit breaker per endpoint class.
//
// DETERMINISM NOTE: gobreaker uses real time for its interval and cool-down.
// Tests configure short cool-downs rather than faking the clock.
type breakerSet struct {
	cfg config.BreakerConfig

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker[*Response]
}

func newBreakerSet(cfg config.BreakerConfig) *breakerSet {
	return &breakerSet{
		cfg:      cfg,
		breakers: make(map[string]*gobreaker.CircuitBreaker[*Response]),
	}
}

func breakerName(class string) string {
	return "provider-" + class
}

func (s *breakerSet) get(class string) *gobreaker.CircuitBreaker[*Response] {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cb, ok := s.breakers[class]; ok {
		return cb
	}

	name := breakerName(class)
	metrics.CircuitBreakerState.WithLabelValues(name).Set(0) // 0 = closed
	metrics.CircuitBreakerConsecutiveFailures.WithLabelValues(name).Set(0)

	threshold := s.cfg.FailureThreshold
	cb := gobreaker.NewCircuitBreaker[*Response](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,              // a single trial request in half-open state
		Interval:    s.cfg.Interval, // failure counts reset after this long while closed
		Timeout:     s.cfg.CoolDown, // open -> half-open

		ReadyToTrip: func(counts gobreaker.Counts) bool {
			shouldTrip := counts.ConsecutiveFailures >= threshold
			if shouldTrip {
				logging.Warn().
					Str("class", class).
					Uint32("consecutive_failures", counts.ConsecutiveFailures).
					Msg("[CIRCUIT BREAKER] Opening circuit")
			}
			return shouldTrip
		},

		OnStateChange: func(name string, from, to gobreaker.State) {
			fromStr := stateToString(from)
			toStr := stateToString(to)

			logging.Info().Str("breaker", name).Str("from", fromStr).Str("to", toStr).Msg("[CIRCUIT BREAKER] State transition")

			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
			metrics.CircuitBreakerTransitions.WithLabelValues(name, fromStr, toStr).Inc()

			if to == gobreaker.StateClosed {
				metrics.CircuitBreakerConsecutiveFailures.WithLabelValues(name).Set(0)
			}
		},
	})
	s.breakers[class] = cb
	return cb
}

// state returns the current state of a class breaker, for tests and health.
func (s *breakerSet) state(class string) gobreaker.State {
	return s.get(class).State()
}

// stateToFloat converts circuit breaker state to numeric value for metrics
func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

// stateToString converts circuit breaker state to string for logging
func stateToString(state gobreaker.State) string {
	switch state {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateHalfOpen:
		return "half-open"
	case gobreaker.StateOpen:
		return "open"
	default:
		return "unknown"
	}
}
