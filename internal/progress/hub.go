package progress

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Config tunes how the Hub groups events before handing them to sinks.
type Config struct {
	// BufferSize bounds events waiting for the delivery goroutine. Default 4096.
	BufferSize int
	// MaxBatchEvents caps one delivery. Default 500.
	MaxBatchEvents int
	// MaxBatchWait is how often pending events of an unfinished run are
	// delivered. Default 1s.
	MaxBatchWait time.Duration
	// SinkTimeout bounds each Consume call. Default 10s.
	SinkTimeout time.Duration
	// BaseContext parents sink calls.
	BaseContext context.Context
	Logger      *zap.Logger
}

func (c Config) withDefaults() Config {
	if c.BufferSize <= 0 {
		c.BufferSize = 4096
	}
	if c.MaxBatchEvents <= 0 {
		c.MaxBatchEvents = 500
	}
	if c.MaxBatchWait <= 0 {
		c.MaxBatchWait = time.Second
	}
	if c.SinkTimeout <= 0 {
		c.SinkTimeout = 10 * time.Second
	}
	if c.BaseContext == nil {
		c.BaseContext = context.Background()
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return c
}

// Hub collects stage events from the pipeline and delivers them to sinks on
// a single goroutine. Pending events go out when a run reports its final
// outcome, when MaxBatchEvents accumulate, or every MaxBatchWait, so a
// finished run is visible to the recorder as soon as it ends.
//
// Emit never blocks. Events that do not fit in the buffer are counted and
// reported with the next delivery.
type Hub struct {
	cfg   Config
	sinks []Sink
	in    chan Event
	stop  chan struct{}
	done  chan struct{}

	dropped atomic.Int64
	closed  atomic.Bool

	stopOnce sync.Once
	closeCtx context.Context
}

// NewHub starts the delivery goroutine for sinks. Nil sinks are ignored.
func NewHub(cfg Config, sinks ...Sink) *Hub {
	cfg = cfg.withDefaults()
	h := &Hub{
		cfg:  cfg,
		in:   make(chan Event, cfg.BufferSize),
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	for _, s := range sinks {
		if s != nil {
			h.sinks = append(h.sinks, s)
		}
	}
	go h.loop()
	return h
}

// Emit queues evt. Invalid events and events sent after Close are discarded.
func (h *Hub) Emit(evt Event) {
	if h == nil || h.closed.Load() {
		return
	}
	if evt.TS.IsZero() {
		evt.TS = time.Now().UTC()
	}
	if err := evt.Validate(); err != nil {
		h.cfg.Logger.Debug("discarding invalid progress event",
			zap.String("stage", string(evt.Stage)),
			zap.String("outcome", string(evt.Outcome)),
			zap.Error(err),
		)
		return
	}
	select {
	case h.in <- evt:
	default:
		h.dropped.Add(1)
	}
}

// Close delivers everything already queued, closes the sinks and waits for
// the delivery goroutine. Later calls only wait.
func (h *Hub) Close(ctx context.Context) error {
	if h == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	h.stopOnce.Do(func() {
		h.closed.Store(true)
		h.closeCtx = ctx
		close(h.stop)
	})
	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("progress hub close: %w", ctx.Err())
	}
}

func (h *Hub) loop() {
	defer close(h.done)
	tick := time.NewTicker(h.cfg.MaxBatchWait)
	defer tick.Stop()

	pending := make([]Event, 0, h.cfg.MaxBatchEvents)
	for {
		select {
		case evt := <-h.in:
			pending = append(pending, evt)
			if endsRun(evt) || len(pending) >= h.cfg.MaxBatchEvents {
				pending = h.deliver(pending)
			}
		case <-tick.C:
			pending = h.deliver(pending)
		case <-h.stop:
			h.drain(pending)
			return
		}
	}
}

// drain empties the queue in MaxBatchEvents chunks, then closes the sinks.
func (h *Hub) drain(pending []Event) {
	for empty := false; !empty; {
		select {
		case evt := <-h.in:
			pending = append(pending, evt)
			if len(pending) >= h.cfg.MaxBatchEvents {
				pending = h.deliver(pending)
			}
		default:
			empty = true
		}
	}
	h.deliver(pending)

	for _, s := range h.sinks {
		if err := s.Close(h.closeCtx); err != nil {
			h.cfg.Logger.Warn("progress sink close failed", zap.Error(err))
		}
	}
}

// deliver hands a copy of batch to every sink and returns batch emptied.
func (h *Hub) deliver(batch []Event) []Event {
	if n := h.dropped.Swap(0); n > 0 {
		h.cfg.Logger.Warn("progress events dropped, buffer full", zap.Int64("dropped", n))
	}
	if len(batch) == 0 {
		return batch
	}
	out := append([]Event(nil), batch...)
	for _, s := range h.sinks {
		ctx, cancel := context.WithTimeout(h.cfg.BaseContext, h.cfg.SinkTimeout)
		if err := s.Consume(ctx, out); err != nil {
			h.cfg.Logger.Warn("progress sink consume failed",
				zap.Int("events", len(out)),
				zap.Error(err),
			)
		}
		cancel()
	}
	return batch[:0]
}

// endsRun reports whether evt is the final event of a run.
func endsRun(evt Event) bool {
	return evt.Stage == StageRun && evt.Outcome != OutcomeStart
}
