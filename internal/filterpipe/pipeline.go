package filterpipe

import (
	"log/slog"
	"time"

	"github.com/hybriddns/eventfabric/internal/connmgr"
	"github.com/hybriddns/eventfabric/internal/domain/event"
	"github.com/hybriddns/eventfabric/internal/wire"
)

// Config bundles the filter pipeline's tunables (spec §4.2).
type Config struct {
	DefaultRateCapPerMinute int
	RateLimitNotifyEvery    time.Duration
	BatchWindow             time.Duration
	BatchSize               int
	RedactionTable          map[event.Type]map[string]FieldMode
}

func DefaultConfig() Config {
	return Config{
		DefaultRateCapPerMinute: DefaultRateCapPerMinute,
		RateLimitNotifyEvery:    10 * time.Second,
		BatchWindow:             DefaultBatchWindow,
		BatchSize:               DefaultBatchSize,
	}
}

// Pipeline is the ordered, short-circuiting filter chain applied to every
// (Session, Event) candidate pair before delivery (spec §4.2): permission,
// redaction, rate limit, then batching. Stages 1-3 are pure given their
// inputs; stage 4 is the pipeline's one piece of held state, isolated in
// Batcher.
type Pipeline struct {
	Index *Index

	manager  *connmgr.Manager
	redactor *Redactor
	limiter  *RateLimiter
	batcher  *Batcher
	logger   *slog.Logger
}

func NewPipeline(manager *connmgr.Manager, cfg Config, logger *slog.Logger) *Pipeline {
	p := &Pipeline{
		Index:    NewIndex(),
		manager:  manager,
		redactor: NewRedactor(cfg.RedactionTable),
		limiter:  NewRateLimiter(cfg.DefaultRateCapPerMinute, cfg.RateLimitNotifyEvery),
		logger:   logger,
	}
	p.batcher = NewBatcher(cfg.BatchWindow, cfg.BatchSize, p.deliver)
	return p
}

// Route fans ev out to every current subscriber of ev.Type, applying the
// filter chain per subscriber (spec §4.3: "the broadcaster asks the
// subscription index for the candidate set, then the filter pipeline
// decides, per subscriber, whether and how the event is delivered").
func (p *Pipeline) Route(ev *event.Event) {
	for _, sess := range p.Index.Snapshot(ev.Type) {
		p.Dispatch(sess, ev)
	}
}

// Dispatch runs the four stages for a single (Session, Event) pair.
func (p *Pipeline) Dispatch(sess *connmgr.Session, ev *event.Event) {
	if !sess.IsActive() {
		return
	}
	if !sess.Identity.IsAllowed(ev.Type) {
		return
	}

	payload := p.redactor.Redact(ev.Type, ev.Payload, sess.Identity.AccessLevel)

	notify := func(frame wire.Frame) { p.manager.SendControl(sess.ID, frame) }
	if !p.limiter.Allow(sess, ev, notify) {
		return
	}

	clone := *ev
	clone.Payload = payload
	env := &event.Envelope{Event: &clone}

	if ev.Priority == event.PriorityCritical {
		p.deliver(sess, []*event.Envelope{env})
		return
	}
	p.batcher.Submit(sess, ev.Type, env)
}

// deliver is the Batcher sink: a single pending envelope is sent as-is,
// two or more are coalesced into one array-payload envelope (spec §4.2
// stage 4 edge case: "fewer than two pending at flush time, deliver
// individually rather than wrapping a single-element array").
func (p *Pipeline) deliver(sess *connmgr.Session, envs []*event.Envelope) {
	if len(envs) == 0 {
		return
	}
	if len(envs) == 1 {
		p.send(sess, envs[0])
		return
	}

	batched := make([]map[string]any, 0, len(envs))
	highest := envs[0].Event.Priority
	for _, e := range envs {
		batched = append(batched, e.Event.Payload)
		if e.Event.Priority > highest {
			highest = e.Event.Priority
		}
	}
	first := envs[0].Event
	combined := &event.Event{
		ID:        event.NextID(),
		Type:      first.Type,
		Payload:   map[string]any{"batch": batched},
		Timestamp: first.Timestamp,
		Source:    first.Source,
		Priority:  highest,
	}
	p.send(sess, &event.Envelope{Event: combined})
}

func (p *Pipeline) send(sess *connmgr.Session, env *event.Envelope) {
	if result := p.manager.Send(sess.ID, env); result == connmgr.SendDropped {
		p.logger.Debug("EVENT_DROPPED", slog.String("session_id", sess.ID.String()), slog.String("type", string(env.Event.Type)))
	}
}

// SetRedactionTable hot-swaps the redaction table, driven by config reload.
func (p *Pipeline) SetRedactionTable(table map[event.Type]map[string]FieldMode) {
	p.redactor.SetTable(table)
}

// RateLimitDropped returns the cumulative count of events rejected by the
// rate-limit stage (spec S4: counter `rate_limit_dropped`).
func (p *Pipeline) RateLimitDropped() uint64 {
	return p.limiter.Dropped()
}

// Subscribe applies a subscribe_events request and returns the accepted
// full subscription set for the subscription_updated ack.
func (p *Pipeline) Subscribe(sess *connmgr.Session, requested []event.Type) []event.Type {
	sess.Activate()
	return ApplySubscribe(p.Index, sess, requested)
}

// Unsubscribe applies an unsubscribe_events request.
func (p *Pipeline) Unsubscribe(sess *connmgr.Session, requested []event.Type) []event.Type {
	return ApplyUnsubscribe(p.Index, sess, requested)
}

// Teardown removes every subscription owned by sess (spec invariant: a
// closed Session leaves no trace in the index).
func (p *Pipeline) Teardown(sess *connmgr.Session) {
	p.Index.RemoveSession(sess, sess.Subscriptions())
}
