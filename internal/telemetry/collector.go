package telemetry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/luckyPipewrench/spyglass/internal/diag"
	"github.com/luckyPipewrench/spyglass/internal/metrics"
)

// Default values for Collector configuration.
const (
	DefaultQueueSize     = 1024
	DefaultFlushInterval = 200 * time.Millisecond
	DefaultBatchMax      = 256
)

// ErrShutdownTimeout is returned by Close when the final drain did not
// complete in time. Undrained and in-flight payloads are lost. This is
// a warning outcome, not a fault the host application needs to handle.
var ErrShutdownTimeout = errors.New("telemetry: shutdown timed out, in-flight data lost")

// DropPolicy selects which payload is sacrificed when the queue is full
// at enqueue time.
type DropPolicy int

const (
	// DropNewest rejects the incoming payload. Default: the queue
	// contents represent the oldest coherent window of events.
	DropNewest DropPolicy = iota
	// DropOldest evicts the head of the queue to admit the incoming
	// payload. Preferred when recent events matter more than old ones.
	DropOldest
)

// String returns the lowercase string representation of the policy.
func (p DropPolicy) String() string {
	if p == DropOldest {
		return "oldest"
	}
	return "newest"
}

// ParseDropPolicy converts a string to a DropPolicy. The comparison is
// case-insensitive. Returns DropNewest for unrecognized values.
func ParseDropPolicy(s string) DropPolicy {
	if strings.ToLower(s) == "oldest" {
		return DropOldest
	}
	return DropNewest
}

type collectorState int

const (
	stateRunning collectorState = iota
	stateClosing
	stateClosed
)

// Collector owns a bounded in-memory queue of payloads and a single
// background consumer that drains it into batches for a Sink.
//
// Enqueue is safe for concurrent use from any number of producers and
// never blocks beyond an O(1) critical section. The consumer is the
// only reader of drained batches and the only caller of the Sink, so
// sinks see strictly serialized writes.
type Collector struct {
	sink          Sink
	queueSize     int
	flushInterval time.Duration
	batchMax      int
	policy        DropPolicy
	logger        *diag.Logger
	metrics       *metrics.Metrics

	mu    sync.Mutex
	queue []Payload
	state collectorState

	wake         chan struct{}
	done         chan struct{}
	consumerDone chan struct{}
	closeOnce    sync.Once
	closeErr     error
	finalTimeout time.Duration

	enqueued   atomic.Uint64
	dropped    atomic.Uint64
	flushed    atomic.Uint64
	sinkErrors atomic.Uint64
}

// Stats is a snapshot of the collector's counters.
type Stats struct {
	Enqueued       uint64
	Dropped        uint64
	FlushedBatches uint64
	SinkErrors     uint64
}

// Option configures a Collector.
type Option func(*Collector)

// WithQueueSize sets the maximum number of pending payloads.
func WithQueueSize(n int) Option {
	return func(c *Collector) {
		if n > 0 {
			c.queueSize = n
		}
	}
}

// WithFlushInterval sets the maximum time a payload waits in the queue
// before a drain is forced.
func WithFlushInterval(d time.Duration) Option {
	return func(c *Collector) {
		if d > 0 {
			c.flushInterval = d
		}
	}
}

// WithBatchMax sets the high-water mark that wakes the consumer before
// the flush interval elapses.
func WithBatchMax(n int) Option {
	return func(c *Collector) {
		if n > 0 {
			c.batchMax = n
		}
	}
}

// WithDropPolicy sets the backpressure policy applied on a full queue.
func WithDropPolicy(p DropPolicy) Option {
	return func(c *Collector) {
		c.policy = p
	}
}

// WithLogger sets the diagnostics logger.
func WithLogger(l *diag.Logger) Option {
	return func(c *Collector) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithMetrics wires pipeline self-metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Collector) {
		c.metrics = m
	}
}

// NewCollector creates a Collector bound to sink and starts its
// background consumer. The caller must call Close to flush and release
// the sink.
func NewCollector(sink Sink, opts ...Option) *Collector {
	c := &Collector{
		sink:          sink,
		queueSize:     DefaultQueueSize,
		flushInterval: DefaultFlushInterval,
		batchMax:      DefaultBatchMax,
		logger:        diag.NewNop(),
		wake:          make(chan struct{}, 1),
		done:          make(chan struct{}),
		consumerDone:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.batchMax > c.queueSize {
		c.batchMax = c.queueSize
	}
	c.queue = make([]Payload, 0, c.queueSize)

	c.logger.LogStartup(c.queueSize, c.batchMax, c.flushInterval)
	go c.run()

	return c
}

// Enqueue offers one payload to the queue. It never blocks and never
// panics into the caller. Payloads offered after Close, or while the
// queue is full under DropNewest, are counted and discarded.
func (c *Collector) Enqueue(p Payload) {
	if c == nil || p == nil {
		return
	}

	c.mu.Lock()
	if c.state != stateRunning {
		c.mu.Unlock()
		c.dropped.Add(1)
		if c.metrics != nil {
			c.metrics.RecordDropped("shutdown")
		}
		return
	}

	if len(c.queue) >= c.queueSize {
		if c.policy == DropNewest {
			c.mu.Unlock()
			c.dropped.Add(1)
			c.logger.LogQueueDrop(c.policy.String(), c.dropped.Load())
			if c.metrics != nil {
				c.metrics.RecordDropped("queue_full")
			}
			return
		}
		// DropOldest: evict the head in place.
		copy(c.queue, c.queue[1:])
		c.queue[len(c.queue)-1] = p
		depth := len(c.queue)
		c.mu.Unlock()

		c.dropped.Add(1)
		c.enqueued.Add(1)
		c.logger.LogQueueDrop(c.policy.String(), c.dropped.Load())
		if c.metrics != nil {
			c.metrics.RecordDropped("queue_full")
			c.metrics.RecordEnqueued()
			c.metrics.SetQueueDepth(depth)
		}
		c.wakeConsumerIfHighWater(depth)
		return
	}

	c.queue = append(c.queue, p)
	depth := len(c.queue)
	c.mu.Unlock()

	c.enqueued.Add(1)
	if c.metrics != nil {
		c.metrics.RecordEnqueued()
		c.metrics.SetQueueDepth(depth)
	}
	c.wakeConsumerIfHighWater(depth)
}

// wakeConsumerIfHighWater nudges the consumer when the queue reaches the
// batch high-water mark. The wake channel has capacity one; a pending
// wake is never a correctness problem, only an early flush.
func (c *Collector) wakeConsumerIfHighWater(depth int) {
	if depth < c.batchMax {
		return
	}
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// Stats returns a snapshot of the collector's counters.
func (c *Collector) Stats() Stats {
	return Stats{
		Enqueued:       c.enqueued.Load(),
		Dropped:        c.dropped.Load(),
		FlushedBatches: c.flushed.Load(),
		SinkErrors:     c.sinkErrors.Load(),
	}
}

// Close transitions the collector to CLOSING, waits up to timeout for
// the consumer to drain remaining payloads and release the sink, then
// transitions to CLOSED. It returns ErrShutdownTimeout if the drain did
// not finish in time. Close is idempotent; subsequent calls return the
// first call's outcome.
func (c *Collector) Close(timeout time.Duration) error {
	if c == nil {
		return nil
	}
	c.closeOnce.Do(func() {
		if timeout <= 0 {
			timeout = 5 * time.Second
		}

		c.mu.Lock()
		c.state = stateClosing
		c.mu.Unlock()

		// Written before close(done); the channel close orders it
		// ahead of the consumer's read.
		c.finalTimeout = timeout
		close(c.done)

		select {
		case <-c.consumerDone:
			c.logger.LogShutdown(c.enqueued.Load(), c.dropped.Load())
		case <-time.After(timeout):
			c.mu.Lock()
			pending := len(c.queue)
			c.mu.Unlock()
			c.logger.LogShutdownTimeout(timeout, pending)
			c.closeErr = ErrShutdownTimeout
		}

		c.mu.Lock()
		c.state = stateClosed
		c.mu.Unlock()
	})
	return c.closeErr
}

// run is the single background consumer. It wakes on the flush ticker
// or the high-water signal, and performs one final bounded drain on
// shutdown.
func (c *Collector) run() {
	defer close(c.consumerDone)

	ticker := time.NewTicker(c.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.flush(context.Background())
		case <-c.wake:
			c.flush(context.Background())
		case <-c.done:
			ctx, cancel := context.WithTimeout(context.Background(), c.finalTimeout)
			c.flush(ctx)
			cancel()
			if err := c.sink.Close(); err != nil {
				c.logger.LogSinkError(0, fmt.Errorf("closing sink: %w", err))
			}
			return
		}
	}
}

// flush atomically swaps the queue contents into a batch and hands it
// to the sink. Producers keep enqueueing into the fresh queue while the
// sink write is in flight. A failed or panicking sink drops the batch
// and the loop continues.
func (c *Collector) flush(ctx context.Context) {
	c.mu.Lock()
	if len(c.queue) == 0 {
		c.mu.Unlock()
		return
	}
	batch := c.queue
	c.queue = make([]Payload, 0, c.queueSize)
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.SetQueueDepth(0)
	}

	start := time.Now()
	err := c.writeBatch(ctx, batch)
	elapsed := time.Since(start)

	if err != nil {
		c.sinkErrors.Add(1)
		c.logger.LogSinkError(len(batch), err)
		if c.metrics != nil {
			c.metrics.RecordFlushError(elapsed)
		}
		return
	}

	c.flushed.Add(1)
	if c.metrics != nil {
		c.metrics.RecordFlush(len(batch), elapsed)
	}
}

// writeBatch calls the sink, converting a panic into an error so one
// bad batch can never stop future flushing.
func (c *Collector) writeBatch(ctx context.Context, batch []Payload) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sink panic: %v", r)
		}
	}()
	return c.sink.Write(ctx, batch)
}
