package broadcaster

import (
	"context"
	"time"

	"github.com/hybriddns/eventfabric/internal/domain/event"
	"github.com/sony/gobreaker"
)

// HistorySource is the optional external replay store (spec §6: "reads
// candidate events from the HistoryBuffer and, if an external store is
// plugged in, from there"). The in-memory HistoryBuffer alone satisfies
// every Testable Property in spec §8; HistorySource exists purely as the
// extension point for a durable backing store, per Open Question 3.
type HistorySource interface {
	Range(ctx context.Context, startMillis, endMillis int64, filter []event.Type) ([]*event.Event, error)
}

// noopHistorySource is the default HistorySource: it always reports no
// additional candidates, so replay falls back to the in-memory
// HistoryBuffer alone when nothing is plugged in.
type noopHistorySource struct{}

func (noopHistorySource) Range(context.Context, int64, int64, []event.Type) ([]*event.Event, error) {
	return nil, nil
}

// CircuitBrokenHistorySource wraps a HistorySource with a circuit breaker
// so a flaky or unreachable external store degrades to "no extra
// candidates" rather than blocking or failing every replay request
// (grounded on the teacher's unwired sony/gobreaker dependency).
type CircuitBrokenHistorySource struct {
	inner   HistorySource
	breaker *gobreaker.CircuitBreaker
}

// NewCircuitBrokenHistorySource wraps inner; a nil inner yields the no-op
// default (still wrapped, for a uniform call path).
func NewCircuitBrokenHistorySource(inner HistorySource) *CircuitBrokenHistorySource {
	if inner == nil {
		inner = noopHistorySource{}
	}
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "history_source",
		Timeout: 10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 3
		},
	})
	return &CircuitBrokenHistorySource{inner: inner, breaker: breaker}
}

func (s *CircuitBrokenHistorySource) Range(ctx context.Context, startMillis, endMillis int64, filter []event.Type) ([]*event.Event, error) {
	result, err := s.breaker.Execute(func() (any, error) {
		return s.inner.Range(ctx, startMillis, endMillis, filter)
	})
	if err != nil {
		// A tripped breaker or store error should not fail the replay; the
		// caller still has the in-memory HistoryBuffer.
		return nil, nil
	}
	events, _ := result.([]*event.Event)
	return events, nil
}
