// Package metrics implements the core metrics sink on Prometheus.
package metrics

import (
	"errors"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	coremetrics "github.com/vlm-project/vlmcore/core/metrics"
)

// PromSink exposes the service counters and gauges through a Prometheus
// registry.
type PromSink struct {
	queueDepth     prometheus.Gauge
	connected      prometheus.Gauge
	framesReceived *prometheus.CounterVec
	framesDropped  *prometheus.CounterVec
	framesSent     prometheus.Counter
	sendRetries    prometheus.Counter
	fulfillments   *prometheus.CounterVec
}

// NewPromSink creates a PromSink and registers its collectors. A nil
// registerer uses the default registry; collectors already registered there
// are tolerated so repeated construction in tests does not panic.
func NewPromSink(reg prometheus.Registerer) *PromSink {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PromSink{
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "vlm_outbound_queue_depth",
			Help: "Frames waiting for delivery to the device.",
		}),
		connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "vlm_hardware_connected",
			Help: "1 while a device connection is attached.",
		}),
		framesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vlm_frames_received_total",
			Help: "Inbound frames decoded, by message code.",
		}, []string{"code"}),
		framesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vlm_frames_dropped_total",
			Help: "Inbound frames rejected, by reason.",
		}, []string{"reason"}),
		framesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vlm_frames_sent_total",
			Help: "Outbound frames delivered to the device.",
		}),
		sendRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vlm_send_retries_total",
			Help: "Failed transmission attempts.",
		}),
		fulfillments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vlm_fulfillments_total",
			Help: "Completed inventory operations, by operation and source.",
		}, []string{"operation", "source"}),
	}
	for _, c := range []prometheus.Collector{
		s.queueDepth, s.connected, s.framesReceived, s.framesDropped,
		s.framesSent, s.sendRetries, s.fulfillments,
	} {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if !errors.As(err, &are) {
				panic(err)
			}
		}
	}
	return s
}

func (s *PromSink) SetQueueDepth(depth int) { s.queueDepth.Set(float64(depth)) }

func (s *PromSink) SetConnected(connected bool) {
	if connected {
		s.connected.Set(1)
		return
	}
	s.connected.Set(0)
}

func (s *PromSink) FrameReceived(code int) {
	s.framesReceived.WithLabelValues(strconv.Itoa(code)).Inc()
}

func (s *PromSink) FrameDropped(reason string) {
	s.framesDropped.WithLabelValues(reason).Inc()
}

func (s *PromSink) FrameSent()   { s.framesSent.Inc() }
func (s *PromSink) SendRetried() { s.sendRetries.Inc() }

func (s *PromSink) FulfillmentProcessed(operation, source string) {
	s.fulfillments.WithLabelValues(operation, source).Inc()
}

var _ coremetrics.Sink = (*PromSink)(nil)
