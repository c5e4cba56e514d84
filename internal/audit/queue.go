package audit

import (
	"log/slog"
	"sync"
	"sync/atomic"
)

// worker drains a bounded event queue on a single goroutine.
type worker struct {
	name    string
	logger  *slog.Logger
	queue   chan Event
	done    chan struct{}
	mu      sync.RWMutex
	closed  bool
	dropped atomic.Int64
}

func startWorker(name string, size int, logger *slog.Logger, handle func(Event)) *worker {
	if size <= 0 {
		size = 1000
	}
	w := &worker{
		name:   name,
		logger: logger,
		queue:  make(chan Event, size),
		done:   make(chan struct{}),
	}
	go func() {
		defer close(w.done)
		for event := range w.queue {
			handle(event)
		}
	}()
	return w
}

// enqueue never blocks; a full queue drops the event.
func (w *worker) enqueue(event Event) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return
	}
	select {
	case w.queue <- event:
	default:
		if n := w.dropped.Add(1); n == 1 || n%100 == 0 {
			w.logger.Warn("Audit queue full, dropping events", "sink", w.name, "dropped", n)
		}
	}
}

// stop closes the queue and waits for it to drain.
func (w *worker) stop() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		<-w.done
		return
	}
	w.closed = true
	close(w.queue)
	w.mu.Unlock()
	<-w.done
}
