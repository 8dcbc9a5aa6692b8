package audit

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

const (
	// DefaultQueueSize bounds entries waiting to be written.
	DefaultQueueSize = 256

	// sinkTimeout bounds a single sink write.
	sinkTimeout = 5 * time.Second
)

// Sink is a destination for activity entries.
type Sink interface {
	Name() string
	Write(ctx context.Context, e *Entry) error
}

// Dispatcher writes activity entries to its sinks off the request path.
//
// Record never blocks and never reports failure: a full queue drops the
// entry and a failing sink is logged at warn level. Activity logging must
// not break the operation that triggered it.
//
// Every recorded entry is either written or counted in Dropped, including
// entries racing Close.
type Dispatcher struct {
	sinks  []Sink
	logger *slog.Logger

	ch        chan Entry
	done      chan struct{}
	wg        sync.WaitGroup
	dropped   atomic.Uint64
	closeOnce sync.Once

	mu     sync.RWMutex // held for reading across the closed check and the send
	closed bool
}

// NewDispatcher starts a dispatcher writing to sinks in order.
// queueSize <= 0 uses DefaultQueueSize.
func NewDispatcher(logger *slog.Logger, queueSize int, sinks ...Sink) *Dispatcher {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if logger == nil {
		logger = slog.Default()
	}

	d := &Dispatcher{
		sinks:  sinks,
		logger: logger,
		ch:     make(chan Entry, queueSize),
		done:   make(chan struct{}),
	}

	d.wg.Add(1)
	go d.run()
	return d
}

// Record enqueues e. The caller's context is not used for the write,
// since the request usually finishes first.
func (d *Dispatcher) Record(_ context.Context, e Entry) {
	if d == nil {
		return
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		d.dropped.Add(1)
		d.logger.Debug("activity dispatcher closed, dropping entry", "action", e.Action)
		return
	}

	select {
	case d.ch <- e:
	default:
		d.dropped.Add(1)
		d.logger.Warn("activity queue full, dropping entry",
			"action", e.Action,
			"user_id", e.UserID,
		)
	}
}

func (d *Dispatcher) run() {
	defer d.wg.Done()

	for {
		select {
		case e := <-d.ch:
			d.write(e)
		case <-d.done:
			for {
				select {
				case e := <-d.ch:
					d.write(e)
				default:
					return
				}
			}
		}
	}
}

// write hands e to each sink serially, which suits SQLite's single writer.
func (d *Dispatcher) write(e Entry) {
	for _, sink := range d.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
		err := sink.Write(ctx, &e)
		cancel()
		if err != nil {
			d.logger.Warn("activity write failed",
				"sink", sink.Name(),
				"action", e.Action,
				"user_id", e.UserID,
				"error", err,
			)
		}
	}
}

// Close stops accepting entries and waits until queued ones are written.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.closeOnce.Do(func() {
		// No Record is mid-send once the write lock is held, so the drain
		// below sees every accepted entry.
		d.mu.Lock()
		d.closed = true
		d.mu.Unlock()

		close(d.done)
		d.wg.Wait()
	})
}

// Dropped returns how many entries were discarded because the queue was
// full or the dispatcher was closed.
func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}
