package exchange

import (
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ventwise/dab-controller/internal/hvac"
	"github.com/ventwise/dab-controller/internal/update"
)

var refs = []VentRef{
	{VentID: "v1", RoomID: "room1", RoomName: "Office"},
	{VentID: "v2", RoomID: "room2", RoomName: "Bedroom"},
}

func seeded() *update.Models {
	m := update.NewModels()
	m.SetVentRate("v1", hvac.ActionCooling, 0.1)
	m.SetVentRate("v1", hvac.ActionHeating, 0.2)
	m.MaxRates[hvac.ActionCooling] = 0.5
	m.MaxRates[hvac.ActionHeating] = 0.7
	return m
}

func TestBuildContainsRates(t *testing.T) {
	now := time.Date(2026, 4, 2, 12, 0, 0, 0, time.UTC)
	p := Build("structure1", seeded(), refs, now)

	require.NotNil(t, p.Metadata)
	assert.Equal(t, "structure1", p.Metadata.StructureID)
	assert.Equal(t, PayloadVersion, p.Metadata.Version)
	assert.Equal(t, 0.5, p.Data.GlobalRates.MaxCoolingRate.Value)
	require.Len(t, p.Data.RoomEfficiencies, 1)

	e := p.Data.RoomEfficiencies[0]
	assert.Equal(t, "v1", e.VentID)
	assert.Equal(t, "room1", e.RoomID)
	assert.Equal(t, "Office", e.RoomName)
	assert.Equal(t, R(0.2), e.HeatingRate)
}

func TestBuildJSONShape(t *testing.T) {
	p := Build("s", seeded(), refs, time.Unix(0, 0))
	data, err := json.Marshal(p)
	require.NoError(t, err)

	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &doc))
	require.Contains(t, doc, "exportMetadata")
	eff := doc["efficiencyData"].(map[string]interface{})
	globals := eff["globalRates"].(map[string]interface{})
	assert.Equal(t, 0.7, globals["maxHeatingRate"])
	rooms := eff["roomEfficiencies"].([]interface{})
	assert.Equal(t, 0.1, rooms[0].(map[string]interface{})["coolingRate"])
}

func TestImportMatchesByVentID(t *testing.T) {
	m := seeded()
	p, err := Parse([]byte(`{"efficiencyData": {
		"globalRates": {"maxCoolingRate": 0.9},
		"roomEfficiencies": [{"ventId": "v1", "coolingRate": 0.3, "heatingRate": "0.4"}]}}`))
	require.NoError(t, err)

	res, err := Apply(m, p, refs)
	require.NoError(t, err)
	assert.Equal(t, Result{Entries: 1, Applied: 1}, res)
	assert.Equal(t, 0.3, m.VentRates["v1"][hvac.ActionCooling])
	assert.Equal(t, 0.4, m.VentRates["v1"][hvac.ActionHeating])
	assert.Equal(t, 0.9, m.MaxRates[hvac.ActionCooling])
}

func TestImportMatchesByRoomIDAndName(t *testing.T) {
	m := seeded()
	p, err := Parse([]byte(`{"efficiencyData": {"roomEfficiencies": [
		{"roomId": "room2", "coolingRate": 0.2},
		{"roomName": "Office", "heatingRate": 0.6},
		{"roomName": "office", "heatingRate": 0.6},
		{"ventId": "ghost", "coolingRate": 1}]}}`))
	require.NoError(t, err)

	res, err := Apply(m, p, refs)
	require.NoError(t, err)
	assert.Equal(t, 4, res.Entries)
	assert.Equal(t, 2, res.Applied)
	assert.Equal(t, 2, res.Unmatched)
	assert.Equal(t, []string{"name:office", "vent:ghost"}, res.Skipped)
	assert.Equal(t, 0.2, m.VentRates["v2"][hvac.ActionCooling])
	assert.Equal(t, 0.6, m.VentRates["v1"][hvac.ActionHeating])
}

func TestParseRejectsBadShapes(t *testing.T) {
	cases := map[string]string{
		"not an object":    `"bad"`,
		"missing section":  `{}`,
		"section string":   `{"efficiencyData": "bad"}`,
		"rooms object":     `{"efficiencyData": {"roomEfficiencies": {"a": 1}}}`,
		"negative rate":    `{"efficiencyData": {"roomEfficiencies": [{"ventId": "v1", "coolingRate": -1}]}}`,
		"unparseable rate": `{"efficiencyData": {"roomEfficiencies": [{"ventId": "v1", "heatingRate": "fast"}]}}`,
		"bool rate":        `{"efficiencyData": {"globalRates": {"maxHeatingRate": true}}}`,
		"negative string":  `{"efficiencyData": {"globalRates": {"maxCoolingRate": "-0.5"}}}`,
		"not json":         `{`,
	}
	for name, body := range cases {
		body := body
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(body))
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidPayload), "got %v", err)
		})
	}
}

func TestApplyInvalidLeavesModelsUntouched(t *testing.T) {
	m := seeded()
	p := Payload{Data: EfficiencyData{RoomEfficiencies: []RoomEfficiency{
		{VentID: "v1", CoolingRate: R(0.9)},
		{VentID: "v2", HeatingRate: Rate{Value: -1, Set: true}},
	}}}
	_, err := Apply(m, p, refs)
	require.ErrorIs(t, err, ErrInvalidPayload)
	assert.Equal(t, 0.1, m.VentRates["v1"][hvac.ActionCooling])
}

func TestExportImportRoundTrip(t *testing.T) {
	src := seeded()
	src.SetVentRate("v2", hvac.ActionCooling, 0.35)

	path := filepath.Join(t.TempDir(), "nested", "efficiency.json")
	require.NoError(t, WriteFile(path, Build("s", src, refs, time.Now())))

	p, err := ReadFile(path)
	require.NoError(t, err)

	dst := update.NewModels()
	res, err := Apply(dst, p, refs)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Applied)
	assert.Equal(t, src.VentRates, dst.VentRates)
	assert.Equal(t, src.MaxRates, dst.MaxRates)
}

func TestRefsFromSnapshot(t *testing.T) {
	s := hvac.Snapshot{
		Rooms: map[string]hvac.Room{"r1": {ID: "r1", Name: "Office"}},
		Vents: map[string]hvac.Vent{"b": {ID: "b", RoomID: "r1"}, "a": {ID: "a", RoomID: "r9"}},
	}
	got := RefsFromSnapshot(s)
	assert.Equal(t, []VentRef{{VentID: "a", RoomID: "r9"}, {VentID: "b", RoomID: "r1", RoomName: "Office"}}, got)

	assert.Equal(t, []VentRef{{VentID: "v1"}}, RefsFromModels(seeded()))
}
