package exchange

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidPayload marks an import payload whose shape or numbers are wrong.
// Nothing is mutated when it is returned.
var ErrInvalidPayload = errors.New("invalid efficiency payload")

// PayloadVersion is written into exportMetadata.version.
const PayloadVersion = "1"

// #region payload
// Payload is the efficiency export/import document.
type Payload struct {
	Metadata *Metadata      `json:"exportMetadata,omitempty"`
	Data     EfficiencyData `json:"efficiencyData"`
}

// Metadata describes where and when an export was produced.
type Metadata struct {
	StructureID string    `json:"structureId"`
	Version     string    `json:"version"`
	ExportedAt  time.Time `json:"exportedAt"`
}

// EfficiencyData holds the global and per-room rates.
type EfficiencyData struct {
	GlobalRates      GlobalRates      `json:"globalRates"`
	RoomEfficiencies []RoomEfficiency `json:"roomEfficiencies"`
}

// GlobalRates are the fastest rates observed across all vents.
type GlobalRates struct {
	MaxCoolingRate Rate `json:"maxCoolingRate"`
	MaxHeatingRate Rate `json:"maxHeatingRate"`
}

// RoomEfficiency is one vent's learned rates plus the keys used to match it.
type RoomEfficiency struct {
	VentID      string `json:"ventId,omitempty"`
	RoomID      string `json:"roomId,omitempty"`
	RoomName    string `json:"roomName,omitempty"`
	CoolingRate Rate   `json:"coolingRate"`
	HeatingRate Rate   `json:"heatingRate"`
}

// #endregion payload

// #region rate
// Rate is a non-negative rate that may arrive as a JSON number or a numeric
// string. Set is false when the field was absent or null.
type Rate struct {
	Value float64
	Set   bool
}

// R returns a set rate.
func R(v float64) Rate { return Rate{Value: v, Set: true} }

// MarshalJSON writes the value as a number.
func (r Rate) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.Value)
}

// UnmarshalJSON accepts a number, a numeric string or null.
func (r *Rate) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*r = Rate{}
		return nil
	}
	var raw interface{}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	v, err := coerceRate(raw)
	if err != nil {
		return err
	}
	*r = Rate{Value: v, Set: true}
	return nil
}

func coerceRate(raw interface{}) (float64, error) {
	var v float64
	switch x := raw.(type) {
	case float64:
		v = x
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0, fmt.Errorf("rate %q is not numeric", x)
		}
		v = f
	default:
		return 0, fmt.Errorf("rate has type %T", raw)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0, fmt.Errorf("rate %v must be non-negative", v)
	}
	return v, nil
}

// #endregion rate

// #region result
// Result reports what an import did.
type Result struct {
	Entries   int      `json:"entries"`
	Applied   int      `json:"applied"`
	Unmatched int      `json:"unmatched"`
	Skipped   []string `json:"skipped,omitempty"` // keys of unmatched entries
}

// #endregion result
