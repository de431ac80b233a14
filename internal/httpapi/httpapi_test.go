package httpapi

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ventwise/dab-controller/internal/device"
	"github.com/ventwise/dab-controller/internal/dispatch"
	"github.com/ventwise/dab-controller/internal/engine"
	"github.com/ventwise/dab-controller/internal/exchange"
	"github.com/ventwise/dab-controller/internal/hvac"
	"github.com/ventwise/dab-controller/internal/metrics"
)

func newServer(t *testing.T) (*httptest.Server, *device.Simulator) {
	t.Helper()
	circuits := []hvac.Circuit{{ThermostatID: "t1", VentIDs: []string{"v1", "v2"}}}
	sim := device.FromCircuits(circuits, device.SimOptions{AmbientC: 18, TargetC: 21, Mode: hvac.ModeHeat})

	cfg := engine.DefaultConfig()
	cfg.Circuits = circuits
	cfg.Dispatch = dispatch.Config{MinInterval: time.Millisecond, Concurrency: 2, CallTimeout: time.Second}

	reg := prometheus.NewRegistry()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	eng, err := engine.New(cfg, engine.Deps{Device: sim, Collectors: metrics.NewCollectors(reg)}, logger)
	require.NoError(t, err)
	t.Cleanup(eng.Close)

	srv := httptest.NewServer(Handler(NewRouter(eng, reg, logger), io.Discard))
	t.Cleanup(srv.Close)
	return srv, sim
}

func do(t *testing.T, srv *httptest.Server, method, path, body string) *http.Response {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, srv.URL+path, rd)
	require.NoError(t, err)
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, dst any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(dst))
}

func TestHealth(t *testing.T) {
	srv, _ := newServer(t)
	resp := do(t, srv, "GET", "/health", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRunDABThenReadVent(t *testing.T) {
	srv, sim := newServer(t)

	resp := do(t, srv, "POST", "/v1/dab/run", "")
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, 100, sim.Aperture("v1"))

	resp = do(t, srv, "GET", "/v1/vents/v1", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var v engine.VentView
	decodeBody(t, resp, &v)
	require.NotNil(t, v.LastCommanded)
	assert.Equal(t, 100, *v.LastCommanded)
	assert.Equal(t, "room-v1", v.RoomID)

	resp = do(t, srv, "GET", "/v1/vents/nope", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = do(t, srv, "POST", "/v1/dab/run", `{"thermostat_id":"t9"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = do(t, srv, "GET", "/metrics", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), "dab_vent_commands_total")
}

func TestRoomControls(t *testing.T) {
	srv, sim := newServer(t)

	resp := do(t, srv, "PUT", "/v1/rooms/room-v2/active", `{"active":false}`)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = do(t, srv, "GET", "/v1/rooms/room-v2", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var room engine.RoomView
	decodeBody(t, resp, &room)
	assert.False(t, room.Active)

	resp = do(t, srv, "PUT", "/v1/rooms/v1/setpoint", `{"temp_c":22.5}`)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	th, _ := sim.Thermostat("t1")
	assert.Equal(t, 22.5, *th.TargetC)

	assert.Equal(t, http.StatusBadRequest, do(t, srv, "PUT", "/v1/rooms/room-v1/active", `{}`).StatusCode)
	assert.Equal(t, http.StatusBadRequest, do(t, srv, "PUT", "/v1/rooms/room-v1/active", `{"active":"yes"}`).StatusCode)
	assert.Equal(t, http.StatusBadRequest, do(t, srv, "PUT", "/v1/structure/mode", `{"mode":"eco"}`).StatusCode)
	assert.Equal(t, http.StatusNoContent, do(t, srv, "PUT", "/v1/structure/mode", `{"mode":"manual"}`).StatusCode)
	assert.Equal(t, "manual", sim.StructureMode())
	assert.Equal(t, http.StatusBadRequest, do(t, srv, "PUT", "/v1/vents/v1/manual-aperture", `{"percent":40}`).StatusCode)
}

func TestImportExport(t *testing.T) {
	srv, _ := newServer(t)

	resp := do(t, srv, "POST", "/v1/efficiency/import", `{"efficiencyData":{"globalRates":{"maxHeatingRate":0.8},
		"roomEfficiencies":[{"ventId":"v1","heatingRate":0.4},{"roomName":"Nowhere","heatingRate":0.1}]}}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var res exchange.Result
	decodeBody(t, resp, &res)
	assert.Equal(t, 1, res.Applied)
	assert.Equal(t, 1, res.Unmatched)

	resp = do(t, srv, "POST", "/v1/efficiency/import", `{"efficiencyData":{"roomEfficiencies":"nope"}}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = do(t, srv, "GET", "/v1/efficiency/export", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var p exchange.Payload
	decodeBody(t, resp, &p)
	require.Len(t, p.Data.RoomEfficiencies, 1)
	assert.Equal(t, exchange.R(0.4), p.Data.RoomEfficiencies[0].HeatingRate)

	resp = do(t, srv, "GET", "/v1/vents/v1", "")
	var v engine.VentView
	decodeBody(t, resp, &v)
	assert.Equal(t, 50.0, v.HeatingEfficiency)
}
