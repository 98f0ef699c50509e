// Package metrics defines the sink interface for operational metrics.
package metrics

// Sink receives operational measurements from the core components. The
// Prometheus implementation lives under infra/metrics.
type Sink interface {
	// SetQueueDepth reports the current outbound queue depth.
	SetQueueDepth(depth int)
	// SetConnected reports the hardware link state.
	SetConnected(connected bool)
	// FrameReceived counts one decoded inbound frame by message code.
	FrameReceived(code int)
	// FrameDropped counts one rejected inbound frame.
	FrameDropped(reason string)
	// FrameSent counts one successfully transmitted outbound frame.
	FrameSent()
	// SendRetried counts one failed transmission attempt.
	SendRetried()
	// FulfillmentProcessed counts one completed inventory operation.
	FulfillmentProcessed(operation, source string)
}

// NopSink discards all measurements.
type NopSink struct{}

func (NopSink) SetQueueDepth(int)              {}
func (NopSink) SetConnected(bool)              {}
func (NopSink) FrameReceived(int)              {}
func (NopSink) FrameDropped(string)            {}
func (NopSink) FrameSent()                     {}
func (NopSink) SendRetried()                   {}
func (NopSink) FulfillmentProcessed(_, _ string) {}
