package producer

import (
	"encoding/json"
	"log/slog"
	"runtime/debug"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/hybriddns/eventfabric/internal/domain/event"
)

// wireEvent is the JSON shape an out-of-process producer publishes onto
// the bus, mirroring the in-process Emitter signature one-to-one so the
// AMQP path and the direct-call path agree on what an event is.
type wireEvent struct {
	Type     string         `json:"type"`
	Payload  map[string]any `json:"payload"`
	Source   string         `json:"source"`
	Priority string         `json:"priority"`
	Tags     []string       `json:"tags"`
}

// Consumer rehydrates bus messages into Emitter.Emit calls, generalized
// from the teacher's Bind[T]/MessageHandler pattern
// (internal/handler/amqp/bind.go): panic recovery keeps the consumer
// goroutine alive across a single poison message, and decode/type errors
// are acknowledged rather than retried since re-delivering an
// unparseable or unregistered-type message can never succeed.
type Consumer struct {
	emitter Emitter
	logger  *slog.Logger
}

func NewConsumer(emitter Emitter, logger *slog.Logger) *Consumer {
	return &Consumer{emitter: emitter, logger: logger}
}

// Handle is a message.NoPublishHandlerFunc bound to the events queue.
func (c *Consumer) Handle(msg *message.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("PRODUCER_PANIC_RECOVERED",
				slog.Any("err", r),
				slog.String("stack", string(debug.Stack())),
				slog.String("msg_id", msg.UUID))
			err = nil // ack: a poison message must not be redelivered forever
		}
	}()

	var we wireEvent
	if err := json.Unmarshal(msg.Payload, &we); err != nil {
		c.logger.Warn("PRODUCER_DECODE_FAILED", slog.Any("err", err), slog.String("msg_id", msg.UUID))
		return nil
	}

	id, emitErr := c.emitter.Emit(event.Type(we.Type), we.Payload, we.Source, event.ParsePriority(we.Priority), we.Tags)
	if emitErr != nil {
		c.logger.Warn("PRODUCER_EMIT_REJECTED", slog.String("type", we.Type), slog.Any("err", emitErr), slog.String("msg_id", msg.UUID))
		return nil
	}

	c.logger.Debug("PRODUCER_EVENT_ACCEPTED", slog.String("event_id", id.String()), slog.String("type", we.Type))
	return nil
}
