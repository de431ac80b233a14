package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ventwise/dab-controller/internal/engine"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func TestPublishEncodesEvent(t *testing.T) {
	w := &fakeWriter{}
	p := newPublisher(w, "dab.cycles", nil)
	at := time.Date(2026, 1, 15, 8, 0, 0, 0, time.UTC)

	err := p.Publish(context.Background(), engine.Event{
		Kind:      engine.EventVentCommanded,
		CircuitID: "t1",
		VentID:    "v1",
		Values:    map[string]float64{"percent": 40},
		At:        at,
	})
	require.NoError(t, err)
	require.Len(t, w.msgs, 1)

	msg := w.msgs[0]
	assert.Equal(t, "t1", string(msg.Key))
	assert.Equal(t, at, msg.Time)
	require.Len(t, msg.Headers, 2)
	assert.Equal(t, engine.EventVentCommanded, string(msg.Headers[0].Value))
	assert.Equal(t, "event_id", msg.Headers[1].Key)
	assert.Len(t, msg.Headers[1].Value, 36)

	var ev engine.Event
	require.NoError(t, json.Unmarshal(msg.Value, &ev))
	assert.Equal(t, "v1", ev.VentID)
	assert.Equal(t, 40.0, ev.Values["percent"])

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestPublishWrapsWriterError(t *testing.T) {
	boom := errors.New("broker down")
	p := newPublisher(&fakeWriter{err: boom}, "dab.cycles", nil)
	err := p.Publish(context.Background(), engine.Event{Kind: engine.EventCycleStarted, CircuitID: "t1"})
	assert.ErrorIs(t, err, boom)
}

func TestNewPublisherValidates(t *testing.T) {
	_, err := NewPublisher(nil, "dab.cycles", nil)
	assert.Error(t, err)
	_, err = NewPublisher([]string{"localhost:9092"}, "", nil)
	assert.Error(t, err)
}

func TestMessageKeyFallsBackToVent(t *testing.T) {
	msg, err := Message(engine.Event{Kind: engine.EventEfficiencyChanged, VentID: "v7"})
	require.NoError(t, err)
	assert.Equal(t, "v7", string(msg.Key))
}
