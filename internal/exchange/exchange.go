package exchange

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/ventwise/dab-controller/internal/hvac"
	"github.com/ventwise/dab-controller/internal/update"
)

// VentRef carries the identifiers an import entry can match on.
type VentRef struct {
	VentID   string
	RoomID   string
	RoomName string
}

// RefsFromSnapshot lists every vent in s with its room's id and name.
func RefsFromSnapshot(s hvac.Snapshot) []VentRef {
	refs := make([]VentRef, 0, len(s.Vents))
	for id, v := range s.Vents {
		ref := VentRef{VentID: id, RoomID: v.RoomID}
		if room, ok := s.Rooms[v.RoomID]; ok {
			ref.RoomName = room.Name
		}
		refs = append(refs, ref)
	}
	sortRefs(refs)
	return refs
}

// RefsFromModels lists vents known only from learned data. Used when no device
// snapshot is available, so only ventId matching can succeed.
func RefsFromModels(m *update.Models) []VentRef {
	seen := map[string]bool{}
	for id := range m.VentRates {
		seen[id] = true
	}
	for id := range m.Efficiency {
		seen[id] = true
	}
	refs := make([]VentRef, 0, len(seen))
	for id := range seen {
		refs = append(refs, VentRef{VentID: id})
	}
	sortRefs(refs)
	return refs
}

func sortRefs(refs []VentRef) {
	sort.Slice(refs, func(i, j int) bool { return refs[i].VentID < refs[j].VentID })
}

// #region export
// Build produces the export payload from the published vent rates.
func Build(structureID string, m *update.Models, vents []VentRef, now time.Time) Payload {
	byID := make(map[string]VentRef, len(vents))
	for _, v := range vents {
		byID[v.VentID] = v
	}

	ids := make([]string, 0, len(m.VentRates))
	for id, modes := range m.VentRates {
		if len(modes) > 0 {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	rooms := make([]RoomEfficiency, 0, len(ids))
	for _, id := range ids {
		ref := byID[id]
		// A mode without data exports as 0, which import skips.
		rooms = append(rooms, RoomEfficiency{
			VentID:      id,
			RoomID:      ref.RoomID,
			RoomName:    ref.RoomName,
			CoolingRate: R(m.VentRates[id][hvac.ActionCooling]),
			HeatingRate: R(m.VentRates[id][hvac.ActionHeating]),
		})
	}

	return Payload{
		Metadata: &Metadata{
			StructureID: structureID,
			Version:     PayloadVersion,
			ExportedAt:  now.UTC(),
		},
		Data: EfficiencyData{
			GlobalRates: GlobalRates{
				MaxCoolingRate: R(m.MaxRates[hvac.ActionCooling]),
				MaxHeatingRate: R(m.MaxRates[hvac.ActionHeating]),
			},
			RoomEfficiencies: rooms,
		},
	}
}

// #endregion export

// #region parse
// Parse decodes and validates an import document. Every error wraps
// ErrInvalidPayload.
func Parse(data []byte) (Payload, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(data, &top); err != nil {
		return Payload{}, fmt.Errorf("%w: payload must be an object: %v", ErrInvalidPayload, err)
	}
	raw, ok := top["efficiencyData"]
	if !ok {
		return Payload{}, fmt.Errorf("%w: missing efficiencyData", ErrInvalidPayload)
	}
	var section map[string]json.RawMessage
	if err := json.Unmarshal(raw, &section); err != nil || section == nil {
		return Payload{}, fmt.Errorf("%w: efficiencyData must be an object", ErrInvalidPayload)
	}
	if rooms, ok := section["roomEfficiencies"]; ok {
		var list []json.RawMessage
		if err := json.Unmarshal(rooms, &list); err != nil {
			return Payload{}, fmt.Errorf("%w: roomEfficiencies must be a list", ErrInvalidPayload)
		}
	}

	var p Payload
	if err := json.Unmarshal(data, &p); err != nil {
		return Payload{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if err := p.Validate(); err != nil {
		return Payload{}, err
	}
	return p, nil
}

// Validate checks a decoded payload. Rates are already range-checked while
// decoding; this catches documents built in code.
func (p Payload) Validate() error {
	check := func(where string, r Rate) error {
		if r.Set && r.Value < 0 {
			return fmt.Errorf("%w: %s is negative", ErrInvalidPayload, where)
		}
		return nil
	}
	if err := check("maxCoolingRate", p.Data.GlobalRates.MaxCoolingRate); err != nil {
		return err
	}
	if err := check("maxHeatingRate", p.Data.GlobalRates.MaxHeatingRate); err != nil {
		return err
	}
	for i, e := range p.Data.RoomEfficiencies {
		if err := check(fmt.Sprintf("roomEfficiencies[%d].coolingRate", i), e.CoolingRate); err != nil {
			return err
		}
		if err := check(fmt.Sprintf("roomEfficiencies[%d].heatingRate", i), e.HeatingRate); err != nil {
			return err
		}
	}
	return nil
}

// #endregion parse

// #region apply
// Apply writes a validated payload into m. Entries are matched to vents by
// ventId, then roomId, then exact roomName. Unmatched entries are counted.
// An invalid payload leaves m untouched.
func Apply(m *update.Models, p Payload, vents []VentRef) (Result, error) {
	if err := p.Validate(); err != nil {
		return Result{}, err
	}
	if m.MaxRates == nil {
		m.MaxRates = map[hvac.Action]float64{}
	}

	if r := p.Data.GlobalRates.MaxCoolingRate; r.Set && r.Value > 0 {
		m.MaxRates[hvac.ActionCooling] = r.Value
	}
	if r := p.Data.GlobalRates.MaxHeatingRate; r.Set && r.Value > 0 {
		m.MaxRates[hvac.ActionHeating] = r.Value
	}

	res := Result{Entries: len(p.Data.RoomEfficiencies)}
	for _, e := range p.Data.RoomEfficiencies {
		ventID, ok := match(e, vents)
		if !ok {
			res.Unmatched++
			res.Skipped = append(res.Skipped, entryKey(e))
			continue
		}
		if e.CoolingRate.Set && e.CoolingRate.Value > 0 {
			m.SetVentRate(ventID, hvac.ActionCooling, e.CoolingRate.Value)
		}
		if e.HeatingRate.Set && e.HeatingRate.Value > 0 {
			m.SetVentRate(ventID, hvac.ActionHeating, e.HeatingRate.Value)
		}
		res.Applied++
	}
	return res, nil
}

func match(e RoomEfficiency, vents []VentRef) (string, bool) {
	if e.VentID != "" {
		for _, v := range vents {
			if v.VentID == e.VentID {
				return v.VentID, true
			}
		}
	}
	if e.RoomID != "" {
		for _, v := range vents {
			if v.RoomID == e.RoomID {
				return v.VentID, true
			}
		}
	}
	if e.RoomName != "" {
		for _, v := range vents {
			if v.RoomName == e.RoomName {
				return v.VentID, true
			}
		}
	}
	return "", false
}

func entryKey(e RoomEfficiency) string {
	switch {
	case e.VentID != "":
		return "vent:" + e.VentID
	case e.RoomID != "":
		return "room:" + e.RoomID
	case e.RoomName != "":
		return "name:" + e.RoomName
	}
	return "(empty)"
}

// #endregion apply

// #region files
// WriteFile writes p as indented JSON, creating parent directories.
func WriteFile(path string, p Payload) error {
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create dir: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// ReadFile reads and parses an import document.
func ReadFile(path string) (Payload, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Payload{}, fmt.Errorf("read %s: %w", path, err)
	}
	return Parse(data)
}

// #endregion files
