// Package event defines the closed tagged event model that flows through
// the fabric: every producer-emitted signal, regardless of origin, is one
// of the Type values below carrying an opaque payload map.
package event

import (
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
)

// Type is the closed tag for every domain event frame (spec §6.1).
type Type string

const (
	TypeUnknown Type = ""

	// DNS configuration change events.
	TypeZoneCreated   Type = "zone_created"
	TypeZoneUpdated   Type = "zone_updated"
	TypeZoneDeleted   Type = "zone_deleted"
	TypeRecordCreated Type = "record_created"
	TypeRecordUpdated Type = "record_updated"
	TypeRecordDeleted Type = "record_deleted"

	// Health subsystem events.
	TypeHealthUpdate          Type = "health_update"
	TypeHealthAlert           Type = "health_alert"
	TypeForwarderStatusChange Type = "forwarder_status_change"

	// Security subsystem events.
	TypeSecurityAlert  Type = "security_alert"
	TypeRPZUpdate      Type = "rpz_update"
	TypeThreatDetected Type = "threat_detected"

	// System status events.
	TypeSystemStatus Type = "system_status"
	TypeBindReload   Type = "bind_reload"
	TypeConfigChange Type = "config_change"
	TypeUserLogin    Type = "user_login"
	TypeUserLogout   Type = "user_logout"
)

// AllTypes is the registered set of subscribable event types. An unknown
// type string from a client request never matches anything here and is
// simply excluded from the permitted subscription set.
var AllTypes = []Type{
	TypeZoneCreated, TypeZoneUpdated, TypeZoneDeleted,
	TypeRecordCreated, TypeRecordUpdated, TypeRecordDeleted,
	TypeHealthUpdate, TypeHealthAlert, TypeForwarderStatusChange,
	TypeSecurityAlert, TypeRPZUpdate, TypeThreatDetected,
	TypeSystemStatus, TypeBindReload, TypeConfigChange,
	TypeUserLogin, TypeUserLogout,
}

// IsKnown reports whether t is a registered subscribable type.
func IsKnown(t Type) bool {
	for _, k := range AllTypes {
		if k == t {
			return true
		}
	}
	return false
}

// Priority controls lane placement in the broadcaster and backpressure
// behaviour in the connection manager. Ordered low to high so int
// comparison ("p >= PriorityHigh") works directly.
type Priority int32

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// ParsePriority maps the wire-protocol string to a Priority, defaulting to
// Normal for anything unrecognised (spec §6.1 default).
func ParsePriority(s string) Priority {
	switch s {
	case "low":
		return PriorityLow
	case "high":
		return PriorityHigh
	case "critical":
		return PriorityCritical
	default:
		return PriorityNormal
	}
}

// idSeq is the per-process monotonic counter backing ID.Seq. 64-bit per
// spec §8 ("Event id overflow does not reset ordering").
var idSeq uint64

// ID is the monotonic+random event identifier (spec §3 DATA MODEL).
// Seq is strictly increasing per broadcaster instance; Rand disambiguates
// ids across process restarts without needing persisted counter state.
type ID struct {
	Seq  uint64
	Rand uint32
}

// NextID allocates the next strictly-increasing event id.
func NextID() ID {
	return ID{
		Seq:  atomic.AddUint64(&idSeq, 1),
		Rand: uuid.New().ID(),
	}
}

func (id ID) String() string {
	return fmt.Sprintf("%016x-%08x", id.Seq, id.Rand)
}

// Less reports whether id was enqueued strictly before other.
func (id ID) Less(other ID) bool { return id.Seq < other.Seq }

// Event is the immutable unit produced by a producer and fanned out by the
// broadcaster. Once created it is never mutated (spec §3 invariant).
type Event struct {
	ID        ID
	Type      Type
	Payload   map[string]any
	Timestamp int64 // unix millis
	Source    string
	Priority  Priority
	Tags      []string
	Metadata  map[string]any
}
