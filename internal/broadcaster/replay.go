package broadcaster

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/hybriddns/eventfabric/internal/connmgr"
	"github.com/hybriddns/eventfabric/internal/domain/event"
	"github.com/hybriddns/eventfabric/internal/wire"
)

// MaxReplayRange is the 7-day cap on a ReplayJob's inclusive [start, end] range
// (spec §4.3, §8 Testable Property 5: "|J.range| <= 7 days is a
// precondition; attempting otherwise fails without state change").
const MaxReplayRange = 7 * 24 * time.Hour

// ReplayStatusInterval bounds replay_status push frequency to <=1Hz
// (spec §4.3).
const ReplayStatusInterval = time.Second

// ErrRangeTooLarge is returned by ReplayEngine.Start for an out-of-bounds range.
var ErrRangeTooLarge = errors.New("broadcaster: replay range exceeds 7 days")

type replayStatus int32

const (
	replayRunning replayStatus = iota
	replayStopped
	replayCompleted
)

func (s replayStatus) String() string {
	switch s {
	case replayStopped:
		return "stopped"
	case replayCompleted:
		return "completed"
	default:
		return "running"
	}
}

// ReplayJob paces delivery of a historical event slice back to the
// requesting Session (spec §4.3 "Replay engine").
type ReplayJob struct {
	ID        uuid.UUID
	SessionID uuid.UUID

	events  []*event.Event
	speed   float64
	status  atomic.Int32
	processed atomic.Int32

	stop chan struct{}
	done chan struct{}
}

func (j *ReplayJob) Status() replayStatus { return replayStatus(j.status.Load()) }

func (j *ReplayJob) snapshot() wire.ReplayStatus {
	processed := int(j.processed.Load())
	total := len(j.events)
	percent := 0.0
	if total > 0 {
		percent = float64(processed) / float64(total) * 100
	}
	return wire.ReplayStatus{
		ReplayID:  j.ID.String(),
		Processed: processed,
		Total:     total,
		Percent:   percent,
		Status:    j.Status().String(),
	}
}

// ReplayEngine tracks every in-flight ReplayJob and paces its delivery.
type ReplayEngine struct {
	manager *connmgr.Manager
	history *HistoryBuffer
	source  HistorySource
	logger  *slog.Logger

	mu   sync.RWMutex
	jobs map[uuid.UUID]*ReplayJob
}

func NewReplayEngine(manager *connmgr.Manager, history *HistoryBuffer, source HistorySource, logger *slog.Logger) *ReplayEngine {
	if source == nil {
		source = noopHistorySource{}
	}
	return &ReplayEngine{manager: manager, history: history, source: source, logger: logger, jobs: make(map[uuid.UUID]*ReplayJob)}
}

// Start validates req, gathers the candidate Events, and launches the
// pacing goroutine, returning the new job's id.
func (e *ReplayEngine) Start(ctx context.Context, sessionID uuid.UUID, req wire.StartReplayRequest) (uuid.UUID, error) {
	start := time.UnixMilli(req.Start)
	end := time.UnixMilli(req.End)
	if end.Before(start) {
		start, end = end, start
	}
	if end.Sub(start) > MaxReplayRange {
		e.logger.Warn("REPLAY_RANGE_TOO_LARGE", slog.String("session_id", sessionID.String()), slog.Duration("range", end.Sub(start)))
		return uuid.Nil, ErrRangeTooLarge
	}

	filter := make([]event.Type, 0, len(req.Filter))
	for _, t := range req.Filter {
		filter = append(filter, event.Type(t))
	}

	local := e.history.Range(req.Start, req.End, filter)
	external, err := e.source.Range(ctx, req.Start, req.End, filter)
	if err != nil {
		external = nil
	}
	events := mergeSortedByTimestamp(local, external)

	speed := req.Speed
	if speed <= 0 {
		speed = 1.0
	}

	job := &ReplayJob{
		ID:        uuid.New(),
		SessionID: sessionID,
		events:    events,
		speed:     speed,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}

	e.mu.Lock()
	e.jobs[job.ID] = job
	e.mu.Unlock()

	go e.pace(job)
	return job.ID, nil
}

// Stop transitions job to stopped before its next scheduled emission;
// pending emissions are discarded (spec §4.3).
func (e *ReplayEngine) Stop(replayID uuid.UUID) error {
	e.mu.RLock()
	job, ok := e.jobs[replayID]
	e.mu.RUnlock()
	if !ok {
		return fmt.Errorf("broadcaster: unknown replay job %s", replayID)
	}
	if job.Status() == replayRunning {
		job.status.Store(int32(replayStopped))
		close(job.stop)
	}
	return nil
}

// ActiveJobs counts jobs still in the running state, for connection_stats.
func (e *ReplayEngine) ActiveJobs() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	n := 0
	for _, job := range e.jobs {
		if job.Status() == replayRunning {
			n++
		}
	}
	return n
}

// Status returns a snapshot of the job's progress.
func (e *ReplayEngine) Status(replayID uuid.UUID) (wire.ReplayStatus, error) {
	e.mu.RLock()
	job, ok := e.jobs[replayID]
	e.mu.RUnlock()
	if !ok {
		return wire.ReplayStatus{}, fmt.Errorf("broadcaster: unknown replay job %s", replayID)
	}
	return job.snapshot(), nil
}

func (e *ReplayEngine) pace(job *ReplayJob) {
	defer close(job.done)
	lastReport := time.Now()
	var prevTimestamp int64
	if len(job.events) > 0 {
		prevTimestamp = job.events[0].Timestamp
	}

	for _, ev := range job.events {
		select {
		case <-job.stop:
			return
		default:
		}

		delayMillis := float64(ev.Timestamp-prevTimestamp) / job.speed
		if delayMillis > 0 {
			timer := time.NewTimer(time.Duration(delayMillis) * time.Millisecond)
			select {
			case <-job.stop:
				timer.Stop()
				return
			case <-timer.C:
			}
		}
		prevTimestamp = ev.Timestamp

		e.manager.Send(job.SessionID, &event.Envelope{
			Event:       ev,
			Replay:      true,
			ReplayJobID: job.ID.String(),
		})
		job.processed.Add(1)

		if time.Since(lastReport) >= ReplayStatusInterval {
			e.pushStatus(job)
			lastReport = time.Now()
		}
	}

	if job.Status() == replayRunning {
		job.status.Store(int32(replayCompleted))
	}
	e.pushStatus(job)
}

func (e *ReplayEngine) pushStatus(job *ReplayJob) {
	e.manager.SendControl(job.SessionID, wire.NewFrame(wire.MsgReplayStatus, job.snapshot()))
}

// mergeSortedByTimestamp merges two already-unsorted-but-typically-ordered
// slices into one slice sorted by Event.Timestamp, then ID for stability.
func mergeSortedByTimestamp(a, b []*event.Event) []*event.Event {
	out := make([]*event.Event, 0, len(a)+len(b))
	out = append(out, a...)
	out = append(out, b...)
	sort.Slice(out, func(i, j int) bool {
		if out[i].Timestamp != out[j].Timestamp {
			return out[i].Timestamp < out[j].Timestamp
		}
		return out[i].ID.Less(out[j].ID)
	})
	return out
}
