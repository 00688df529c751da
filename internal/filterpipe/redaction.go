package filterpipe

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/hybriddns/eventfabric/internal/domain/event"
	"github.com/hybriddns/eventfabric/internal/domain/identity"
)

// FieldMode controls how a redacted field is treated.
type FieldMode int

const (
	// ModeRemove deletes the field from the outbound payload entirely.
	ModeRemove FieldMode = iota
	// ModeHash replaces the field's value with a stable, non-reversible
	// digest, useful when correlation across events still matters.
	ModeHash
)

// Redactor applies a per-event-type field table to a payload before it
// reaches a non-AccessFull Identity (spec §4.2 stage 2: "configuration, not
// code... unknown fields default to visible"). The table is hot-reloadable:
// callers replace it wholesale via SetTable when config changes.
type Redactor struct {
	mu    sync.RWMutex
	table map[event.Type]map[string]FieldMode
}

func NewRedactor(table map[event.Type]map[string]FieldMode) *Redactor {
	if table == nil {
		table = make(map[event.Type]map[string]FieldMode)
	}
	return &Redactor{table: table}
}

// SetTable hot-swaps the whole redaction table (driven by config.Watch).
func (r *Redactor) SetTable(table map[event.Type]map[string]FieldMode) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.table = table
}

// Redact returns a payload safe for delivery to an identity with the given
// access level. AccessFull identities (e.g. admins) see the payload
// untouched. Fields absent from the table are always left visible, per the
// "default to visible" edge case in spec §4.2.
func (r *Redactor) Redact(t event.Type, payload map[string]any, level identity.AccessLevel) map[string]any {
	if level == identity.AccessFull || len(payload) == 0 {
		return payload
	}

	r.mu.RLock()
	fields := r.table[t]
	r.mu.RUnlock()
	if len(fields) == 0 {
		return payload
	}

	out := make(map[string]any, len(payload))
	for k, v := range payload {
		mode, redacted := fields[k]
		if !redacted {
			out[k] = v
			continue
		}
		switch mode {
		case ModeHash:
			out[k] = hashField(v)
		default:
			// omit the key entirely
		}
	}
	return out
}

func hashField(v any) string {
	sum := sha256.Sum256([]byte(toString(v)))
	return hex.EncodeToString(sum[:])[:16]
}

func toString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case fmt.Stringer:
		return s.String()
	default:
		return fmt.Sprintf("%v", v)
	}
}
