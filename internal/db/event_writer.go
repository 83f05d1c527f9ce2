package db

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// EventWriter persists progress events off the hot path. Enqueue never
// blocks; when the queue is full the event is dropped and logged.
type EventWriter struct {
	store  *Store
	logger *zap.Logger
	queue  chan EventRecord
	stopCh chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
}

// NewEventWriter starts workers draining a queue of size buffer.
func NewEventWriter(store *Store, buffer, workers int, logger *zap.Logger) *EventWriter {
	if buffer <= 0 {
		buffer = 1000
	}
	if workers <= 0 {
		workers = 2
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	w := &EventWriter{
		store:  store,
		logger: logger,
		queue:  make(chan EventRecord, buffer),
		stopCh: make(chan struct{}),
	}
	for i := 0; i < workers; i++ {
		w.wg.Add(1)
		go w.worker(i)
	}
	return w
}

// Enqueue schedules an event for persistence.
func (w *EventWriter) Enqueue(e EventRecord) bool {
	select {
	case <-w.stopCh:
		return false
	default:
	}
	select {
	case w.queue <- e:
		return true
	default:
		w.logger.Warn("Event queue full, dropping event",
			zap.String("run_id", e.RunID),
			zap.Int64("seq", e.Seq),
		)
		return false
	}
}

func (w *EventWriter) worker(id int) {
	defer w.wg.Done()
	w.logger.Debug("Event writer started", zap.Int("worker_id", id))
	for {
		select {
		case <-w.stopCh:
			w.drain()
			return
		case e := <-w.queue:
			w.write(e)
		}
	}
}

func (w *EventWriter) write(e EventRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := w.store.AppendEvent(ctx, e); err != nil {
		w.logger.Error("Failed to persist event", zap.String("run_id", e.RunID), zap.Error(err))
	}
}

// drain processes remaining events during shutdown
func (w *EventWriter) drain() {
	timeout := time.After(10 * time.Second)
	for {
		select {
		case e := <-w.queue:
			w.write(e)
		case <-timeout:
			w.logger.Warn("Timeout draining event queue")
			return
		default:
			return
		}
	}
}

// Close stops the workers after the queue is drained.
func (w *EventWriter) Close() {
	w.once.Do(func() { close(w.stopCh) })
	w.wg.Wait()
}
