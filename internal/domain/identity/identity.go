// Package identity models the authenticated principal behind a Session:
// role, permitted event types, per-type rate caps, and data-access level
// (spec §3 DATA MODEL, Identity row).
package identity

import (
	"time"

	"github.com/google/uuid"
	"github.com/hybriddns/eventfabric/internal/domain/event"
)

// Role distinguishes administrators, who are implicitly permitted every
// event type (spec §4.2 stage 1), from ordinary users.
type Role int

const (
	RoleUser Role = iota
	RoleAdmin
)

// AccessLevel controls whether sensitive payload fields are redacted
// before delivery (spec §4.2 stage 2).
type AccessLevel int

const (
	AccessRedacted AccessLevel = iota
	AccessFull
)

// Identity is the validated, immutable principal attached to a Session for
// its entire lifetime. It is rebuilt from scratch on every reconnect.
type Identity struct {
	ID           uuid.UUID
	Role         Role
	AllowedTypes map[event.Type]struct{}
	RateCaps     map[event.Type]int // events/minute; 0 means "use default"
	AccessLevel  AccessLevel
	ExpiresAt    time.Time // zero means the token never expires
}

// IsAllowed reports whether this identity may subscribe to t. Admins are
// permitted every type regardless of AllowedTypes (spec §4.2 stage 1).
func (id Identity) IsAllowed(t event.Type) bool {
	if id.Role == RoleAdmin {
		return true
	}
	_, ok := id.AllowedTypes[t]
	return ok
}

// RateCap returns the configured per-minute cap for t, or def if the
// identity has no override for that type.
func (id Identity) RateCap(t event.Type, def int) int {
	if cap, ok := id.RateCaps[t]; ok && cap > 0 {
		return cap
	}
	return def
}
