/* CoSync - Collaborative value synchronization engine
 *
 * Copyright (C) 2020-2024 Eric Newberry.
 *
 * This file is licensed under the terms of the MIT License, as found in LICENSE.md.
 */

package face

import (
	"context"
	"sync"

	"github.com/named-data/cosync/core"
	"github.com/named-data/cosync/defn"
	"github.com/named-data/cosync/wire"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// ErrQueueClosed is reported to handles whose message never left a closed queue.
var ErrQueueClosed = errors.New("queue closed")

// ErrSendFailed is reported to handles whose message was dequeued but could not be written.
var ErrSendFailed = errors.New("send failed")

const meterName = "github.com/named-data/cosync/face"

// Handle is notified exactly once, after its message was written to the transport or discarded.
type Handle struct {
	done chan struct{}
	once sync.Once
	err  error
}

func newHandle() *Handle {
	return &Handle{done: make(chan struct{})}
}

func (h *Handle) finish(err error) {
	h.once.Do(func() {
		h.err = err
		close(h.done)
	})
}

// Done is closed when the message was written, failed to send, or was discarded.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Err returns nil if the message was written, ErrSendFailed or ErrQueueClosed otherwise.
// It is only meaningful once Done is closed.
func (h *Handle) Err() error {
	select {
	case <-h.done:
		return h.err
	default:
		return nil
	}
}

// Wait blocks until the handle is notified or ctx ends.
func (h *Handle) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		return h.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// QueueEntry is a dequeued message. Whoever dequeues it must call Finish.
type QueueEntry struct {
	Message  wire.Message
	Priority defn.Priority
	handle   *Handle
}

// Finish notifies the handle of the entry with the outcome of the write.
func (e *QueueEntry) Finish(err error) {
	e.handle.finish(err)
}

// queueMetrics are the OpenTelemetry counters of one queue.
type queueMetrics struct {
	enqueued metric.Int64Counter
	removed  metric.Int64Counter
	attrs    [defn.NumPriorities]metric.AddOption
}

func newQueueMetrics(label string) *queueMetrics {
	meter := otel.GetMeterProvider().Meter(meterName)
	m := &queueMetrics{}
	var err error
	if m.enqueued, err = meter.Int64Counter("cosync.messagequeue.enqueued",
		metric.WithDescription("Messages pushed onto a peer queue")); err != nil {
		core.LogWarn("PriorityQueue", "Unable to create enqueued counter: ", err)
	}
	if m.removed, err = meter.Int64Counter("cosync.messagequeue.removed",
		metric.WithDescription("Messages pulled from a peer queue")); err != nil {
		core.LogWarn("PriorityQueue", "Unable to create removed counter: ", err)
	}
	for prio := range m.attrs {
		m.attrs[prio] = metric.WithAttributeSet(attribute.NewSet(
			attribute.Int("priority", prio),
			attribute.String("role", label),
		))
	}
	return m
}

func (m *queueMetrics) add(c metric.Int64Counter, prio defn.Priority) {
	if c != nil {
		c.Add(context.Background(), 1, m.attrs[prio])
	}
}

// QueueStats counts messages per priority level.
type QueueStats struct {
	Label    string
	Enqueued [defn.NumPriorities]uint64
	Dequeued [defn.NumPriorities]uint64
}

// PriorityQueue holds outgoing messages in fixed priority levels, served strictly by level
// and FIFO within a level.
type PriorityQueue struct {
	label string

	mu     sync.Mutex
	levels [defn.NumPriorities]LinkedList[*QueueEntry]
	closed bool
	stats  QueueStats

	metrics *queueMetrics
	ready   chan struct{}
}

// NewPriorityQueue creates a queue. The label is reported as the role attribute of the counters,
// usually the peer role.
func NewPriorityQueue(label string) *PriorityQueue {
	return &PriorityQueue{
		label:   label,
		stats:   QueueStats{Label: label},
		metrics: newQueueMetrics(label),
		ready:   make(chan struct{}, 1),
	}
}

func (q *PriorityQueue) String() string {
	return "PriorityQueue-" + q.label
}

// Enqueue appends msg to the level given by its priority.
func (q *PriorityQueue) Enqueue(msg wire.Message) *Handle {
	h := newHandle()
	prio := msg.Priority()
	if int(prio) >= defn.NumPriorities {
		prio = defaultPriority
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		h.finish(ErrQueueClosed)
		return h
	}
	q.levels[prio].Push(&QueueEntry{Message: msg, Priority: prio, handle: h})
	q.stats.Enqueued[prio]++
	q.mu.Unlock()
	q.metrics.add(q.metrics.enqueued, prio)

	select {
	case q.ready <- struct{}{}:
	default:
	}
	return h
}

// Dequeue removes the oldest message of the highest non-empty level. The handle of the entry
// stays pending until Finish is called.
func (q *PriorityQueue) Dequeue() (*QueueEntry, bool) {
	q.mu.Lock()
	for prio := range q.levels {
		if entry, ok := q.levels[prio].Shift(); ok {
			q.stats.Dequeued[prio]++
			q.mu.Unlock()
			q.metrics.add(q.metrics.removed, entry.Priority)
			return entry, true
		}
	}
	q.mu.Unlock()
	return nil, false
}

// Ready is signalled after an enqueue. A single signal may cover several messages.
func (q *PriorityQueue) Ready() <-chan struct{} {
	return q.ready
}

// Len returns the number of queued messages.
func (q *PriorityQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for prio := range q.levels {
		n += q.levels[prio].Len()
	}
	return n
}

// LenAt returns the number of queued messages at one level.
func (q *PriorityQueue) LenAt(prio defn.Priority) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.levels[prio].Len()
}

// Stats returns a snapshot of the counters of this queue.
func (q *PriorityQueue) Stats() QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.stats
}

// Close discards every queued message. Later enqueues fail immediately.
func (q *PriorityQueue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	var dropped []*QueueEntry
	for prio := range q.levels {
		for {
			entry, ok := q.levels[prio].Shift()
			if !ok {
				break
			}
			dropped = append(dropped, entry)
		}
	}
	q.mu.Unlock()

	for _, entry := range dropped {
		entry.handle.finish(ErrQueueClosed)
	}
}

// IsClosed reports whether Close was called.
func (q *PriorityQueue) IsClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}
