// Package telemetry persists hall-sensor samples to InfluxDB. The samples
// are diagnostics for carriage positioning; losing one is acceptable, so
// write failures are logged and swallowed.
package telemetry

import (
	"context"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	influxapi "github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/vlm-project/vlmcore/core/logger"
)

// InfluxWriter writes hall readings as points in the hall_reading
// measurement.
type InfluxWriter struct {
	client influxdb2.Client
	write  influxapi.WriteAPIBlocking
	log    logger.Logger
}

// NewInfluxWriter connects to the given InfluxDB instance.
func NewInfluxWriter(url, token, org, bucket string, log logger.Logger) *InfluxWriter {
	client := influxdb2.NewClient(url, token)
	return &InfluxWriter{
		client: client,
		write:  client.WriteAPIBlocking(org, bucket),
		log:    log,
	}
}

// RecordHall stores one sample. Manual readings are tagged with the
// transaction id of the command that triggered them.
func (w *InfluxWriter) RecordHall(ctx context.Context, value float64, transactionID string, auto bool) {
	mode := "manual"
	if auto {
		mode = "auto"
	}
	tags := map[string]string{"mode": mode}
	if transactionID != "" {
		tags["transaction_id"] = transactionID
	}
	point := influxdb2.NewPoint("hall_reading", tags, map[string]any{"value": value}, time.Now())
	if err := w.write.WritePoint(ctx, point); err != nil {
		w.log.Errorf("hall reading write failed: %v", err)
	}
}

// Close releases the client.
func (w *InfluxWriter) Close() { w.client.Close() }

// Nop discards all samples, for deployments without InfluxDB.
type Nop struct{}

func (Nop) RecordHall(context.Context, float64, string, bool) {}
