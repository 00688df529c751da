package identity

import (
	"time"

	"github.com/google/uuid"
	"github.com/hybriddns/eventfabric/internal/domain/event"
)

// Claims is the set of fields required from a verified bearer token
// (spec §6.4): identity id, role, allowed event types, data-access level,
// rate-limit overrides, expiry.
type Claims struct {
	IdentityID   uuid.UUID
	Role         Role
	AllowedTypes []event.Type
	AccessLevel  AccessLevel
	RateOverride map[event.Type]int
	ExpiresAt    time.Time
}

// ToIdentity materialises the long-lived Identity from verified claims.
func (c Claims) ToIdentity() Identity {
	allowed := make(map[event.Type]struct{}, len(c.AllowedTypes))
	for _, t := range c.AllowedTypes {
		allowed[t] = struct{}{}
	}
	return Identity{
		ID:           c.IdentityID,
		Role:         c.Role,
		AllowedTypes: allowed,
		RateCaps:     c.RateOverride,
		AccessLevel:  c.AccessLevel,
		ExpiresAt:    c.ExpiresAt,
	}
}

// Expired reports whether the claims' expiry has passed as of now.
func (c Claims) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && now.After(c.ExpiresAt)
}
