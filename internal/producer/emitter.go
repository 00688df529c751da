// Package producer implements the Producer interface (spec §6.3): the
// in-process entry point every signal source (the DNS configuration API,
// health checker, security monitor, and system status probe — all out of
// scope per spec.md §1, "producers are out of scope except as an
// interface") calls to push a typed event into the fabric, plus an
// AMQP-bound adapter generalized from the teacher's
// internal/handler/amqp/{router,bind,listeners}.go for producers that run
// in another process.
package producer

import "github.com/hybriddns/eventfabric/internal/domain/event"

// Emitter is the producer-facing contract (spec §6.3:
// "emit(type, payload, source?, priority?, tags?) -> event_id"). It is
// satisfied structurally by *broadcaster.Broadcaster; producer code never
// imports internal/broadcaster directly, keeping the dependency direction
// producer -> (interface) rather than producer -> broadcaster.
type Emitter interface {
	Emit(t event.Type, payload map[string]any, source string, priority event.Priority, tags []string) (event.ID, error)
}
