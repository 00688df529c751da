package broadcaster

import (
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hybriddns/eventfabric/internal/domain/event"
)

// DefaultWorkerBackoff is the bounded delay a panic-recovered dispatcher
// worker waits before resuming (spec §4.3: "restarted by a supervisor
// after a bounded backoff").
const DefaultWorkerBackoff = 200 * time.Millisecond

// Router is the dependency the dispatcher hands a dequeued Event to; in
// production this is *filterpipe.Pipeline.Route, kept as an interface here
// so the broadcaster package doesn't import filterpipe (it's wired the
// other way: filterpipe's fx module provides *Pipeline as a Router).
type Router interface {
	Route(ev *event.Event)
}

// dispatcher owns the worker pool draining the PriorityQueue (spec §4.3
// "N dispatcher workers, N defaults to number of CPU cores, min 2").
// Grounded on registry.Hub's supervised background-loop shape
// (runEvictor), generalized to N restart-on-panic workers instead of one
// janitor.
type dispatcher struct {
	queue   *PriorityQueue
	router  Router
	workers int
	logger  *slog.Logger

	requeued     atomic.Uint64
	panics       atomic.Uint64
	requeuedIDs  sync.Map // event.ID -> struct{}, caps a poison event at one requeue

	stop chan struct{}
}

func newDispatcher(queue *PriorityQueue, router Router, workers int, logger *slog.Logger) *dispatcher {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers < 2 {
		workers = 2
	}
	return &dispatcher{queue: queue, router: router, workers: workers, logger: logger, stop: make(chan struct{})}
}

func (d *dispatcher) start() {
	for i := 0; i < d.workers; i++ {
		go d.supervise()
	}
}

// supervise runs worker, restarting it after DefaultWorkerBackoff whenever
// it panics, until the queue is closed and drained (spec §4.3: "Dispatcher
// worker panics -> worker is restarted by a supervisor after a bounded
// backoff; the in-flight event is requeued at its original priority at
// most once").
func (d *dispatcher) supervise() {
	for {
		done := d.runOnce()
		if done {
			return
		}
		d.panics.Add(1)
		time.Sleep(DefaultWorkerBackoff)
	}
}

// runOnce drains the queue until it panics or the queue closes. Returns
// true when the queue is closed and empty (clean exit), false when it
// recovered a panic and should be restarted.
func (d *dispatcher) runOnce() (clean bool) {
	var current *event.Event

	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("DISPATCHER_WORKER_PANIC", slog.Any("recover", r))
			if current != nil {
				if _, already := d.requeuedIDs.LoadOrStore(current.ID, struct{}{}); !already {
					d.queue.Push(current)
					d.requeued.Add(1)
				}
			}
			clean = false
		}
	}()

	for {
		ev, ok := d.queue.Pop()
		if !ok {
			return true
		}
		current = ev
		d.router.Route(ev)
		current = nil
	}
}

func (d *dispatcher) Requeued() uint64 { return d.requeued.Load() }
func (d *dispatcher) Panics() uint64   { return d.panics.Load() }
