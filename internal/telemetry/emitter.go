package telemetry

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

const DefaultQueueSize = 256

// Emitter hands events to its sinks on a separate goroutine. When the queue
// is full new events are dropped and counted.
type Emitter struct {
	sinks []Recorder
	queue chan Event
	done  chan struct{}

	mu      sync.RWMutex
	closed  bool
	dropped atomic.Int64
}

// NewEmitter starts an emitter with the given queue size (DefaultQueueSize
// when size <= 0).
func NewEmitter(size int, sinks ...Recorder) *Emitter {
	if size <= 0 {
		size = DefaultQueueSize
	}
	e := &Emitter{
		sinks: sinks,
		queue: make(chan Event, size),
		done:  make(chan struct{}),
	}
	go e.run()
	return e
}

func (e *Emitter) run() {
	defer close(e.done)
	for ev := range e.queue {
		for _, s := range e.sinks {
			s.Record(ev)
		}
	}
}

// Record enqueues ev. It never blocks.
func (e *Emitter) Record(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return
	}

	select {
	case e.queue <- ev:
	default:
		if n := e.dropped.Add(1); n == 1 || n%100 == 0 {
			slog.Debug("telemetry queue full, dropping events", "dropped", n)
		}
	}
}

// Dropped returns the number of events lost to a full queue.
func (e *Emitter) Dropped() int64 {
	return e.dropped.Load()
}

// Close stops accepting events and waits until queued ones are delivered.
func (e *Emitter) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		<-e.done
		return
	}
	e.closed = true
	close(e.queue)
	e.mu.Unlock()

	<-e.done
}
