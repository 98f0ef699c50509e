// Package outbox implements the outbound delivery queue for the hardware
// link: a thread-safe FIFO drained by a single sender loop, the only writer
// to the socket. Delivery is at-least-once; a frame that fails to send is
// re-enqueued at the tail and retried after a fixed interval, so relative
// order is only guaranteed for frames that never fail.
package outbox

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/vlm-project/vlmcore/core/logger"
	"github.com/vlm-project/vlmcore/core/metrics"
)

// ErrNotConnected is returned by senders while the hardware link is down.
var ErrNotConnected = errors.New("outbox: device not connected")

// Sender transmits a frame over the current hardware connection.
type Sender interface {
	IsConnected() bool
	Send(payload []byte) error
}

// PendingMessage is one queued outbound frame. It is owned exclusively by
// the outbox from enqueue until confirmed sent, and is never mutated.
type PendingMessage struct {
	Payload    []byte
	EnqueuedAt time.Time
}

// Outbox is the durable-in-process delivery queue.
type Outbox struct {
	sender  Sender
	retry   time.Duration
	log     logger.Logger
	metrics metrics.Sink

	mu      sync.Mutex
	pending []PendingMessage
	wake    chan struct{}

	degraded bool // sender loop only
}

// New creates an Outbox draining into the given sender. retry is the fixed
// interval slept after a failed transmission; it defaults to one second.
func New(sender Sender, retry time.Duration, log logger.Logger, sink metrics.Sink) *Outbox {
	if retry <= 0 {
		retry = time.Second
	}
	if sink == nil {
		sink = metrics.NopSink{}
	}
	return &Outbox{
		sender:  sender,
		retry:   retry,
		log:     log,
		metrics: sink,
		wake:    make(chan struct{}, 1),
	}
}

// Enqueue appends a frame to the queue. It is safe to call from any
// goroutine and never blocks the caller.
func (o *Outbox) Enqueue(frame []byte) {
	o.mu.Lock()
	o.pending = append(o.pending, PendingMessage{Payload: frame, EnqueuedAt: time.Now()})
	o.metrics.SetQueueDepth(len(o.pending))
	o.mu.Unlock()
	select {
	case o.wake <- struct{}{}:
	default:
	}
}

// Depth returns the number of frames waiting for delivery.
func (o *Outbox) Depth() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.pending)
}

// Run drains the queue until the context is cancelled. It is the single
// consumer; pending frames survive disconnects and are retried once a new
// connection is established.
func (o *Outbox) Run(ctx context.Context) {
	for {
		msg, ok := o.pop()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-o.wake:
			}
			continue
		}
		if err := o.transmit(msg); err != nil {
			o.requeue(msg)
			o.noteFailure(err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(o.retry):
			}
			continue
		}
		o.noteRecovery()
		o.metrics.FrameSent()
	}
}

func (o *Outbox) transmit(msg PendingMessage) error {
	if !o.sender.IsConnected() {
		return ErrNotConnected
	}
	return o.sender.Send(msg.Payload)
}

func (o *Outbox) pop() (PendingMessage, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.pending) == 0 {
		return PendingMessage{}, false
	}
	msg := o.pending[0]
	o.pending = o.pending[1:]
	o.metrics.SetQueueDepth(len(o.pending))
	return msg, true
}

func (o *Outbox) requeue(msg PendingMessage) {
	o.mu.Lock()
	o.pending = append(o.pending, msg)
	o.metrics.SetQueueDepth(len(o.pending))
	o.mu.Unlock()
}

// noteFailure logs once per transition into the failing state so a long
// outage does not flood the log.
func (o *Outbox) noteFailure(err error) {
	o.metrics.SendRetried()
	if o.degraded {
		return
	}
	o.degraded = true
	o.log.Warnf("delivery paused, retrying every %s: %v", o.retry, err)
}

func (o *Outbox) noteRecovery() {
	if !o.degraded {
		return
	}
	o.degraded = false
	o.log.Infof("delivery resumed, %d frame(s) pending", o.Depth())
}
