package telemetry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ventwise/dab-controller/internal/engine"
	"github.com/ventwise/dab-controller/internal/hvac"
)

type fakeAPI struct {
	points []*write.Point
	err    error
}

func (f *fakeAPI) WritePoint(_ context.Context, points ...*write.Point) error {
	if f.err != nil {
		return f.err
	}
	f.points = append(f.points, points...)
	return nil
}

var at = time.Date(2026, 1, 15, 8, 0, 0, 0, time.UTC)

func TestPointLineProtocol(t *testing.T) {
	p := Point(engine.VentPoint{
		CircuitID:  "t1",
		VentID:     "v1",
		RoomID:     "room1",
		Mode:       "heating",
		Strategy:   "dab",
		TempC:      hvac.Float(19.5),
		Aperture:   hvac.Int(40),
		Target:     60,
		Committed:  true,
		Efficiency: 0.25,
		At:         at,
	})
	line := write.PointToLineProtocol(p, time.Second)
	assert.Contains(t, line, "dab_vent,")
	assert.Contains(t, line, "vent_id=v1")
	assert.Contains(t, line, "room_id=room1")
	assert.Contains(t, line, "target=60i")
	assert.Contains(t, line, "aperture=40i")
	assert.Contains(t, line, "committed=true")
	assert.Contains(t, line, "temp_c=19.5")
}

func TestPointOmitsUnknowns(t *testing.T) {
	line := write.PointToLineProtocol(Point(engine.VentPoint{CircuitID: "t1", VentID: "v1", Mode: "cooling", At: at}), time.Second)
	assert.NotContains(t, line, "temp_c=")
	assert.NotContains(t, line, "aperture=")
	assert.NotContains(t, line, "room_id=")
}

func TestWriteVents(t *testing.T) {
	api := &fakeAPI{}
	w := &Writer{api: api}

	require.NoError(t, w.WriteVents(context.Background(), nil))
	assert.Empty(t, api.points)

	require.NoError(t, w.WriteVents(context.Background(), []engine.VentPoint{
		{CircuitID: "t1", VentID: "v1", At: at},
		{CircuitID: "t1", VentID: "v2", At: at},
	}))
	assert.Len(t, api.points, 2)

	api.err = errors.New("bucket not found")
	err := w.WriteVents(context.Background(), []engine.VentPoint{{VentID: "v1", At: at}})
	assert.ErrorIs(t, err, api.err)
	w.Close()
}
