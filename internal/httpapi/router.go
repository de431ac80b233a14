package httpapi

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ventwise/dab-controller/internal/engine"
	"github.com/ventwise/dab-controller/internal/exchange"
	"github.com/ventwise/dab-controller/internal/metrics"
)

// Controller is the slice of the engine the API serves.
type Controller interface {
	View() engine.View
	Vent(ventID string) (engine.VentView, bool)
	Room(roomID string) (engine.RoomView, bool)
	StrategyMetrics() *metrics.StrategyMetrics

	RunDAB(ctx context.Context, thermostatID string) error
	RefreshDevices(ctx context.Context) error
	SetRoomActive(ctx context.Context, id string, active bool) error
	SetRoomSetpoint(ctx context.Context, id string, tempC float64, holdUntil *time.Time) error
	SetStructureMode(ctx context.Context, mode string) error
	SetManualAperture(ctx context.Context, ventID string, percent int) error
	ExportEfficiency(ctx context.Context, path string) (exchange.Payload, error)
	ImportEfficiency(ctx context.Context, p exchange.Payload) (exchange.Result, error)
}

// API serves the engine's views and control operations.
type API struct {
	ctl    Controller
	logger *slog.Logger
}

// NewRouter registers every route. gatherer may be nil to omit /metrics.
func NewRouter(ctl Controller, gatherer prometheus.Gatherer, logger *slog.Logger) *mux.Router {
	if logger == nil {
		logger = slog.Default()
	}
	a := &API{ctl: ctl, logger: logger.With("component", "httpapi")}

	r := mux.NewRouter()
	r.HandleFunc("/health", a.health).Methods("GET")
	if gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods("GET")
	}

	v1 := r.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/view", a.getView).Methods("GET")
	v1.HandleFunc("/vents/{id}", a.getVent).Methods("GET")
	v1.HandleFunc("/vents/{id}/manual-aperture", a.putManualAperture).Methods("PUT")
	v1.HandleFunc("/rooms/{id}", a.getRoom).Methods("GET")
	v1.HandleFunc("/rooms/{id}/active", a.putRoomActive).Methods("PUT")
	v1.HandleFunc("/rooms/{id}/setpoint", a.putRoomSetpoint).Methods("PUT")
	v1.HandleFunc("/strategy", a.getStrategy).Methods("GET")
	v1.HandleFunc("/structure/mode", a.putStructureMode).Methods("PUT")
	v1.HandleFunc("/dab/run", a.postRunDAB).Methods("POST")
	v1.HandleFunc("/devices/refresh", a.postRefresh).Methods("POST")
	v1.HandleFunc("/efficiency/export", a.getExport).Methods("GET")
	v1.HandleFunc("/efficiency/import", a.postImport).Methods("POST")
	return r
}

// Handler wraps h with panic recovery and an access log written to w.
func Handler(h http.Handler, w io.Writer) http.Handler {
	return handlers.LoggingHandler(w, handlers.RecoveryHandler(handlers.PrintRecoveryStack(true))(h))
}
