package dispatch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSetter struct {
	mu    sync.Mutex
	calls map[string][]time.Time
	fail  map[string]error
	block map[string]bool
}

func newFakeSetter() *fakeSetter {
	return &fakeSetter{calls: map[string][]time.Time{}, fail: map[string]error{}, block: map[string]bool{}}
}

func (f *fakeSetter) SetVentAperture(ctx context.Context, ventID string, percent int) error {
	f.mu.Lock()
	f.calls[ventID] = append(f.calls[ventID], time.Now())
	err := f.fail[ventID]
	block := f.block[ventID]
	f.mu.Unlock()
	if block {
		<-ctx.Done()
		return ctx.Err()
	}
	return err
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewRejectsNonPositiveRate(t *testing.T) {
	_, err := New(newFakeSetter(), Config{MinInterval: 0}, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidRate))
}

func TestApplyContainsFailures(t *testing.T) {
	setter := newFakeSetter()
	setter.fail["v2"] = errors.New("server error")
	setter.block["v3"] = true

	d, err := New(setter, Config{MinInterval: time.Millisecond, Concurrency: 4, CallTimeout: 50 * time.Millisecond}, quietLogger())
	require.NoError(t, err)

	out := d.Apply(context.Background(), []Command{
		{VentID: "v1", Percent: 40, Previous: intPtr(10)},
		{VentID: "v2", Percent: 60},
		{VentID: "v3", Percent: 70},
		{VentID: "v4", Percent: 20},
	})
	require.Len(t, out, 4)

	assert.True(t, out[0].OK())
	assert.Equal(t, 30, out[0].Movement)
	assert.False(t, out[1].OK())
	assert.False(t, out[2].OK(), "timeout is a per-vent failure")
	assert.True(t, errors.Is(out[2].Err, context.DeadlineExceeded))
	assert.True(t, out[3].OK())
	assert.Equal(t, 20, out[3].Movement)
}

func TestApplyRateLimitsPerDevice(t *testing.T) {
	setter := newFakeSetter()
	d, err := New(setter, Config{MinInterval: 40 * time.Millisecond, Concurrency: 2, CallTimeout: time.Second}, quietLogger())
	require.NoError(t, err)

	d.Apply(context.Background(), []Command{{VentID: "v1", Percent: 10}})
	d.Apply(context.Background(), []Command{{VentID: "v1", Percent: 20}, {VentID: "v2", Percent: 20}})

	setter.mu.Lock()
	defer setter.mu.Unlock()
	require.Len(t, setter.calls["v1"], 2)
	gap := setter.calls["v1"][1].Sub(setter.calls["v1"][0])
	assert.GreaterOrEqual(t, gap, 30*time.Millisecond)
	require.Len(t, setter.calls["v2"], 1)
}

func TestApplyEmpty(t *testing.T) {
	d, err := New(newFakeSetter(), DefaultConfig(), quietLogger())
	require.NoError(t, err)
	assert.Empty(t, d.Apply(context.Background(), nil))
}

func intPtr(v int) *int { return &v }
