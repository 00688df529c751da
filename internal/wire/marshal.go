package wire

import (
	"time"

	"github.com/hybriddns/eventfabric/internal/domain/event"
)

// MarshalEnvelope converts a delivered EventEnvelope into the wire Frame
// shape shared by every transport. Domain event frames use the event's
// own Type as the frame's MessageType (spec §6.1 lists them verbatim,
// e.g. "zone_created", "health_alert").
func MarshalEnvelope(env *event.Envelope) Frame {
	ev := env.Event
	f := Frame{
		Data:      ev.Payload,
		Timestamp: time.UnixMilli(ev.Timestamp).UTC(),
		ID:        ev.ID.String(),
		Source:    ev.Source,
		Tags:      ev.Tags,
		Metadata:  ev.Metadata,
		Priority:  ev.Priority.String(),
		Seq:       env.SessionSeq,
	}
	if env.Replay {
		f.Type = MsgEventReplay
		f.Data = map[string]any{
			"original_event": ev.Payload,
			"original_type":  string(ev.Type),
			"replay_id":      env.ReplayJobID,
		}
	} else {
		f.Type = MessageType(ev.Type)
	}
	return f
}
