package telemetry

import (
	"context"
	"errors"
	"fmt"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/ventwise/dab-controller/internal/engine"
)

// Measurement is the InfluxDB measurement vent points are written to.
const Measurement = "dab_vent"

// pointWriter is the part of api.WriteAPIBlocking the writer uses.
type pointWriter interface {
	WritePoint(ctx context.Context, point ...*write.Point) error
}

// Writer stores per-vent telemetry in InfluxDB v2.
type Writer struct {
	client influxdb2.Client
	api    pointWriter
}

// NewWriter connects to InfluxDB and verifies the server is reachable.
func NewWriter(ctx context.Context, url, token, org, bucket string) (*Writer, error) {
	if url == "" {
		return nil, errors.New("telemetry: empty influx url")
	}
	client := influxdb2.NewClient(url, token)
	if _, err := client.Health(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("telemetry: influx health: %w", err)
	}
	return &Writer{client: client, api: client.WriteAPIBlocking(org, bucket)}, nil
}

// WriteVents writes one point per vent.
func (w *Writer) WriteVents(ctx context.Context, points []engine.VentPoint) error {
	if len(points) == 0 {
		return nil
	}
	out := make([]*write.Point, 0, len(points))
	for _, p := range points {
		out = append(out, Point(p))
	}
	if err := w.api.WritePoint(ctx, out...); err != nil {
		return fmt.Errorf("write %d vent points: %w", len(out), err)
	}
	return nil
}

// Close releases the client.
func (w *Writer) Close() {
	if w.client != nil {
		w.client.Close()
	}
}

// Point converts one vent's state to a line-protocol point. Unknown
// temperature and aperture are left out rather than written as zero.
func Point(p engine.VentPoint) *write.Point {
	tags := map[string]string{
		"circuit": p.CircuitID,
		"vent_id": p.VentID,
		"mode":    p.Mode,
	}
	if p.RoomID != "" {
		tags["room_id"] = p.RoomID
	}
	if p.Strategy != "" {
		tags["strategy"] = p.Strategy
	}
	fields := map[string]interface{}{
		"target":     p.Target,
		"committed":  p.Committed,
		"temp_error": p.TempError,
		"efficiency": p.Efficiency,
	}
	if p.TempC != nil {
		fields["temp_c"] = *p.TempC
	}
	if p.Aperture != nil {
		fields["aperture"] = *p.Aperture
	}
	return write.NewPoint(Measurement, tags, fields, p.At)
}
