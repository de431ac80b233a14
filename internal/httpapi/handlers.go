package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/ventwise/dab-controller/internal/engine"
	"github.com/ventwise/dab-controller/internal/exchange"
)

const maxBody = 1 << 20

// #region reads
func (a *API) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"updated_at": a.ctl.View().UpdatedAt,
	})
}

func (a *API) getView(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.ctl.View())
}

func (a *API) getVent(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	v, ok := a.ctl.Vent(id)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("vent %q not found", id))
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (a *API) getRoom(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	room, ok := a.ctl.Room(id)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("room %q not found", id))
		return
	}
	writeJSON(w, http.StatusOK, room)
}

func (a *API) getStrategy(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.ctl.StrategyMetrics())
}

func (a *API) getExport(w http.ResponseWriter, r *http.Request) {
	p, err := a.ctl.ExportEfficiency(r.Context(), "")
	if err != nil {
		a.fail(w, "export", err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// #endregion reads

// #region controls
type runRequest struct {
	ThermostatID string `json:"thermostat_id"`
}

func (a *API) postRunDAB(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	if r.ContentLength != 0 {
		if !decode(w, r, &req) {
			return
		}
	}
	if err := a.ctl.RunDAB(r.Context(), req.ThermostatID); err != nil {
		a.fail(w, "run dab", err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "ran"})
}

func (a *API) postRefresh(w http.ResponseWriter, r *http.Request) {
	if err := a.ctl.RefreshDevices(r.Context()); err != nil {
		a.fail(w, "refresh devices", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "refreshed"})
}

type activeRequest struct {
	Active *bool `json:"active"`
}

func (a *API) putRoomActive(w http.ResponseWriter, r *http.Request) {
	var req activeRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Active == nil {
		writeError(w, http.StatusBadRequest, "active is required")
		return
	}
	if err := a.ctl.SetRoomActive(r.Context(), mux.Vars(r)["id"], *req.Active); err != nil {
		a.fail(w, "set room active", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type setpointRequest struct {
	TempC     *float64   `json:"temp_c"`
	HoldUntil *time.Time `json:"hold_until,omitempty"`
}

func (a *API) putRoomSetpoint(w http.ResponseWriter, r *http.Request) {
	var req setpointRequest
	if !decode(w, r, &req) {
		return
	}
	if req.TempC == nil {
		writeError(w, http.StatusBadRequest, "temp_c is required")
		return
	}
	if err := a.ctl.SetRoomSetpoint(r.Context(), mux.Vars(r)["id"], *req.TempC, req.HoldUntil); err != nil {
		a.fail(w, "set room setpoint", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type modeRequest struct {
	Mode string `json:"mode"`
}

func (a *API) putStructureMode(w http.ResponseWriter, r *http.Request) {
	var req modeRequest
	if !decode(w, r, &req) {
		return
	}
	if err := a.ctl.SetStructureMode(r.Context(), req.Mode); err != nil {
		a.fail(w, "set structure mode", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type apertureRequest struct {
	Percent *int `json:"percent"`
}

func (a *API) putManualAperture(w http.ResponseWriter, r *http.Request) {
	var req apertureRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Percent == nil {
		writeError(w, http.StatusBadRequest, "percent is required")
		return
	}
	if err := a.ctl.SetManualAperture(r.Context(), mux.Vars(r)["id"], *req.Percent); err != nil {
		a.fail(w, "set manual aperture", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) postImport(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBody))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, err.Error())
		return
	}
	p, err := exchange.Parse(body)
	if err != nil {
		a.fail(w, "import", err)
		return
	}
	res, err := a.ctl.ImportEfficiency(r.Context(), p)
	if err != nil {
		a.fail(w, "import", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// #endregion controls

// #region helpers
func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid body: %v", err))
		return false
	}
	return true
}

// fail maps validation errors to 400 and everything else to 500.
func (a *API) fail(w http.ResponseWriter, op string, err error) {
	if errors.Is(err, engine.ErrValidation) || errors.Is(err, exchange.ErrInvalidPayload) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	a.logger.Error("request failed", "op", op, "err", err)
	writeError(w, http.StatusInternalServerError, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// #endregion helpers
