package config

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ventwise/dab-controller/internal/dispatch"
	"github.com/ventwise/dab-controller/internal/target"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dab.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 0.5, cfg.InitialRate())
	assert.Equal(t, target.StrategyHybrid, cfg.TargetConfig().Strategy)
	assert.Equal(t, time.Second, cfg.DispatchConfig().MinInterval)
	assert.Equal(t, 2*time.Minute, cfg.GateConfig().StartLag)
}

func TestLoadYAMLOverDefaults(t *testing.T) {
	path := writeFile(t, `
structure_id: cabin
dab:
  strategy: cost
  poll_active: 45s
  circuits:
    - thermostat: t1
      vents: [v1, v2, v3]
      conventional_vents: 2
target:
  min_adjustment_percent: 15
  cost_efficiency_weight: 0.5
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "cabin", cfg.StructureID)
	assert.Equal(t, 45*time.Second, cfg.DAB.PollActive)
	assert.Equal(t, 3*time.Minute, cfg.DAB.PollIdle, "unset keys keep defaults")

	tc := cfg.TargetConfig()
	assert.Equal(t, target.StrategyCost, tc.Strategy)
	assert.Equal(t, 15, tc.MinAdjustPercent)
	assert.Equal(t, 0.5, tc.CostEfficiencyWeight)
	assert.Equal(t, 1.0, tc.CostTempWeight)

	circuits := cfg.Circuits()
	require.Len(t, circuits, 1)
	assert.Equal(t, "t1", circuits[0].ThermostatID)
	assert.Equal(t, []string{"v1", "v2", "v3"}, circuits[0].VentIDs)
	assert.Equal(t, 2, circuits[0].ConventionalVents)
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeFile(t, "structure_id: cabin\n")
	t.Setenv("DAB_STRUCTURE_ID", "lake-house")
	t.Setenv("DAB_POLL_IDLE", "5m")
	t.Setenv("DAB_MANUAL_VENTS", "true")
	t.Setenv("DAB_KAFKA_BROKERS", "k1:9092, k2:9092")
	t.Setenv("DAB_SNAPSHOT_KEEP", "not-a-number")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "lake-house", cfg.StructureID)
	assert.Equal(t, 5*time.Minute, cfg.DAB.PollIdle)
	assert.True(t, cfg.DAB.ManualVents)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 200, cfg.DAB.SnapshotKeep, "unparseable env keeps the previous value")
}

func TestValidateErrors(t *testing.T) {
	twoOwners := []CircuitConfig{
		{Thermostat: "t1", Vents: []string{"v1"}},
		{Thermostat: "t2", Vents: []string{"v1"}},
	}
	cases := map[string]func(*Config){
		"strategy":        func(c *Config) { c.DAB.Strategy = "magic" },
		"poll":            func(c *Config) { c.DAB.PollActive = 0 },
		"initial percent": func(c *Config) { c.DAB.InitialEfficiencyPercent = 150 },
		"granularity":     func(c *Config) { c.Target.Granularity = 0 },
		"device kind":     func(c *Config) { c.Device.Kind = "zigbee" },
		"mqtt broker":     func(c *Config) { c.Device.Kind = "mqtt"; c.Device.MQTT.Broker = "" },
		"thermostat":      func(c *Config) { c.DAB.Circuits = []CircuitConfig{{Vents: []string{"v1"}}} },
		"conventional":    func(c *Config) { c.DAB.Circuits = []CircuitConfig{{Thermostat: "t1", ConventionalVents: -1}} },
		"vent on two":     func(c *Config) { c.DAB.Circuits = twoOwners },
	}
	for name, mutate := range cases {
		mutate := mutate
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestValidateRejectsNonPositiveRate(t *testing.T) {
	cfg := Default()
	cfg.Dispatch.MinInterval = 0
	err := cfg.Validate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, dispatch.ErrInvalidRate))
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	LogConfig{Level: "warn", Format: "json"}.NewLogger(&buf).Info("hidden")
	assert.Empty(t, buf.String())

	LogConfig{Level: "debug", Format: "json"}.NewLogger(&buf).Debug("shown", "component", "test")
	assert.Contains(t, buf.String(), `"msg":"shown"`)
}
