package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ventwise/dab-controller/internal/dispatch"
	"github.com/ventwise/dab-controller/internal/eval"
	"github.com/ventwise/dab-controller/internal/gate"
	"github.com/ventwise/dab-controller/internal/hvac"
	"github.com/ventwise/dab-controller/internal/target"
	"github.com/ventwise/dab-controller/internal/update"
)

// #region config
// Config is the whole controller configuration.
type Config struct {
	StructureID string         `yaml:"structure_id"`
	DBPath      string         `yaml:"db_path"`
	HTTPAddr    string         `yaml:"http_addr"`
	GRPCAddr    string         `yaml:"grpc_addr"`
	Log         LogConfig      `yaml:"log"`
	DAB         DABConfig      `yaml:"dab"`
	Gate        GateConfig     `yaml:"gate"`
	Target      TargetConfig   `yaml:"target"`
	Dispatch    DispatchConfig `yaml:"dispatch"`
	Update      UpdateConfig   `yaml:"update"`
	Eval        EvalConfig     `yaml:"eval"`
	Device      DeviceConfig   `yaml:"device"`
	Kafka       KafkaConfig    `yaml:"kafka"`
	Influx      InfluxConfig   `yaml:"influx"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// DABConfig holds the engine's own settings.
type DABConfig struct {
	Enabled                  bool            `yaml:"enabled"`
	Strategy                 string          `yaml:"strategy"`
	ManualVents              bool            `yaml:"manual_vents"`
	ForceStructureManual     bool            `yaml:"force_structure_manual"`
	PollActive               time.Duration   `yaml:"poll_active"`
	PollIdle                 time.Duration   `yaml:"poll_idle"`
	FinalizeDelay            time.Duration   `yaml:"finalize_delay"`
	SetpointOffsetC          float64         `yaml:"setpoint_offset_c"`
	PreAdjust                bool            `yaml:"pre_adjust"`
	PreAdjustMarginC         float64         `yaml:"pre_adjust_margin_c"`
	InitialEfficiencyPercent float64         `yaml:"initial_efficiency_percent"`
	EfficiencyChangeLogPct   float64         `yaml:"efficiency_change_log_pct"`
	SnapshotKeep             int             `yaml:"snapshot_keep"`
	Circuits                 []CircuitConfig `yaml:"circuits"`
}

// CircuitConfig assigns vents to a thermostat.
type CircuitConfig struct {
	Thermostat        string   `yaml:"thermostat"`
	Vents             []string `yaml:"vents"`
	ConventionalVents int      `yaml:"conventional_vents"`
}

// GateConfig mirrors gate.GateConfig.
type GateConfig struct {
	Window            time.Duration `yaml:"window"`
	StartLag          time.Duration `yaml:"start_lag"`
	MinCycleMinutes   float64       `yaml:"min_cycle_minutes"`
	MinDeltaC         float64       `yaml:"min_delta_c"`
	MinAperturePct    float64       `yaml:"min_aperture_pct"`
	ApertureJitterPct float64       `yaml:"aperture_jitter_pct"`
	MinDuctDeltaC     float64       `yaml:"min_duct_delta_c"`
	DuctDeltaJitterC  float64       `yaml:"duct_delta_jitter_c"`
	DuctReferenceC    float64       `yaml:"duct_reference_c"`
}

// TargetConfig mirrors target.Config, minus the strategy which lives in dab.
type TargetConfig struct {
	TimeBudgetMinutes    float64       `yaml:"time_budget_minutes"`
	Granularity          int           `yaml:"vent_granularity"`
	CloseInactiveRooms   bool          `yaml:"close_inactive_rooms"`
	ClosedTarget         int           `yaml:"closed_target"`
	ConventionalOpenPct  float64       `yaml:"conventional_open_pct"`
	MinAdjustPercent     int           `yaml:"min_adjustment_percent"`
	MinAdjustInterval    time.Duration `yaml:"min_adjustment_interval"`
	TempErrorOverrideC   float64       `yaml:"temp_error_override_c"`
	CostTempWeight       float64       `yaml:"cost_temp_weight"`
	CostEfficiencyWeight float64       `yaml:"cost_efficiency_weight"`
	HybridDABWeight      float64       `yaml:"hybrid_dab_weight"`
	DefaultAvgTempError  float64       `yaml:"default_avg_temp_error"`
}

// DispatchConfig mirrors dispatch.Config.
type DispatchConfig struct {
	MinInterval time.Duration `yaml:"device_min_interval"`
	Concurrency int           `yaml:"concurrency"`
	CallTimeout time.Duration `yaml:"call_timeout"`
}

// UpdateConfig mirrors update.UpdateConfig.
type UpdateConfig struct {
	RegimeConfidence float64 `yaml:"regime_confidence"`
	OffsetWindow     int     `yaml:"offset_window"`
}

// EvalConfig mirrors eval.EvalConfig.
type EvalConfig struct {
	MaxEfficiency float64 `yaml:"max_efficiency"`
	MaxRate       float64 `yaml:"max_rate"`
	MaxOffsets    int     `yaml:"max_offsets"`
}

// DeviceConfig selects and configures the device adapter.
type DeviceConfig struct {
	Kind      string          `yaml:"kind"` // simulator | mqtt
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Simulator SimulatorConfig `yaml:"simulator"`
}

// MQTTConfig configures the MQTT bridge.
type MQTTConfig struct {
	Broker      string        `yaml:"broker"`
	ClientID    string        `yaml:"client_id"`
	TopicPrefix string        `yaml:"topic_prefix"`
	Username    string        `yaml:"username"`
	Password    string        `yaml:"password"`
	Timeout     time.Duration `yaml:"timeout"`
}

// SimulatorConfig seeds the in-memory simulator.
type SimulatorConfig struct {
	AmbientC float64 `yaml:"ambient_c"`
	TargetC  float64 `yaml:"target_c"`
	Mode     string  `yaml:"mode"`
}

// KafkaConfig enables cycle event publishing when Brokers is non-empty.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// InfluxConfig enables telemetry when URL is non-empty.
type InfluxConfig struct {
	URL    string `yaml:"url"`
	Org    string `yaml:"org"`
	Token  string `yaml:"token"`
	Bucket string `yaml:"bucket"`
}

// #endregion config

// #region defaults
// Default returns the configuration used when no file or env is given.
func Default() Config {
	g := gate.DefaultGateConfig()
	t := target.DefaultConfig()
	d := dispatch.DefaultConfig()
	u := update.DefaultUpdateConfig()
	e := eval.DefaultEvalConfig()
	return Config{
		StructureID: "home",
		DBPath:      "dab_state.db",
		HTTPAddr:    ":8080",
		GRPCAddr:    ":9090",
		Log:         LogConfig{Level: "info", Format: "text"},
		DAB: DABConfig{
			Enabled:                  true,
			Strategy:                 string(target.StrategyHybrid),
			PollActive:               30 * time.Second,
			PollIdle:                 3 * time.Minute,
			FinalizeDelay:            2 * time.Minute,
			PreAdjustMarginC:         0.5,
			InitialEfficiencyPercent: 50,
			EfficiencyChangeLogPct:   10,
			SnapshotKeep:             200,
		},
		Gate: GateConfig{
			Window:            g.Window,
			StartLag:          g.StartLag,
			MinCycleMinutes:   g.MinCycleMinutes,
			MinDeltaC:         g.MinDeltaC,
			MinAperturePct:    g.MinAperturePct,
			ApertureJitterPct: g.ApertureJitterPct,
			MinDuctDeltaC:     g.MinDuctDeltaC,
			DuctDeltaJitterC:  g.DuctDeltaJitterC,
			DuctReferenceC:    g.DuctReferenceC,
		},
		Target: TargetConfig{
			TimeBudgetMinutes:    t.TimeBudgetMinutes,
			Granularity:          t.Granularity,
			CloseInactiveRooms:   t.CloseInactiveRooms,
			ClosedTarget:         t.ClosedTarget,
			ConventionalOpenPct:  t.ConventionalOpenPct,
			MinAdjustPercent:     t.MinAdjustPercent,
			MinAdjustInterval:    t.MinAdjustInterval,
			TempErrorOverrideC:   t.TempErrorOverrideC,
			CostTempWeight:       t.CostTempWeight,
			CostEfficiencyWeight: t.CostEfficiencyWeight,
			HybridDABWeight:      t.HybridDABWeight,
			DefaultAvgTempError:  t.DefaultAvgTempError,
		},
		Dispatch: DispatchConfig{MinInterval: d.MinInterval, Concurrency: d.Concurrency, CallTimeout: d.CallTimeout},
		Update:   UpdateConfig{RegimeConfidence: u.RegimeConfidence, OffsetWindow: u.OffsetWindow},
		Eval:     EvalConfig{MaxEfficiency: e.MaxEfficiency, MaxRate: e.MaxRate, MaxOffsets: e.MaxOffsets},
		Device: DeviceConfig{
			Kind: "simulator",
			MQTT: MQTTConfig{
				Broker:      "tcp://localhost:1883",
				ClientID:    "dab-controller",
				TopicPrefix: "dab",
				Timeout:     10 * time.Second,
			},
			Simulator: SimulatorConfig{AmbientC: 18, TargetC: 21, Mode: string(hvac.ModeHeat)},
		},
		Kafka: KafkaConfig{Topic: "dab.cycles"},
		Influx: InfluxConfig{
			Org:    "home",
			Bucket: "dab",
		},
	}
}

// #endregion defaults

// #region load
// Load reads path (if non-empty) over the defaults, applies DAB_* environment
// overrides and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.StructureID = getEnv("DAB_STRUCTURE_ID", c.StructureID)
	c.DBPath = getEnv("DAB_DB_PATH", c.DBPath)
	c.HTTPAddr = getEnv("DAB_HTTP_ADDR", c.HTTPAddr)
	c.GRPCAddr = getEnv("DAB_GRPC_ADDR", c.GRPCAddr)
	c.Log.Level = getEnv("DAB_LOG_LEVEL", c.Log.Level)
	c.Log.Format = getEnv("DAB_LOG_FORMAT", c.Log.Format)

	c.DAB.Enabled = getEnvBool("DAB_ENABLED", c.DAB.Enabled)
	c.DAB.Strategy = getEnv("DAB_STRATEGY", c.DAB.Strategy)
	c.DAB.ManualVents = getEnvBool("DAB_MANUAL_VENTS", c.DAB.ManualVents)
	c.DAB.ForceStructureManual = getEnvBool("DAB_FORCE_STRUCTURE_MANUAL", c.DAB.ForceStructureManual)
	c.DAB.PollActive = getEnvDuration("DAB_POLL_ACTIVE", c.DAB.PollActive)
	c.DAB.PollIdle = getEnvDuration("DAB_POLL_IDLE", c.DAB.PollIdle)
	c.DAB.FinalizeDelay = getEnvDuration("DAB_FINALIZE_DELAY", c.DAB.FinalizeDelay)
	c.DAB.PreAdjust = getEnvBool("DAB_PRE_ADJUST", c.DAB.PreAdjust)
	c.DAB.InitialEfficiencyPercent = getEnvFloat("DAB_INITIAL_EFFICIENCY_PERCENT", c.DAB.InitialEfficiencyPercent)
	c.DAB.SnapshotKeep = getEnvInt("DAB_SNAPSHOT_KEEP", c.DAB.SnapshotKeep)

	c.Target.MinAdjustPercent = getEnvInt("DAB_MIN_ADJUSTMENT_PERCENT", c.Target.MinAdjustPercent)
	c.Target.MinAdjustInterval = getEnvDuration("DAB_MIN_ADJUSTMENT_INTERVAL", c.Target.MinAdjustInterval)
	c.Target.Granularity = getEnvInt("DAB_VENT_GRANULARITY", c.Target.Granularity)
	c.Target.CloseInactiveRooms = getEnvBool("DAB_CLOSE_INACTIVE_ROOMS", c.Target.CloseInactiveRooms)
	c.Dispatch.MinInterval = getEnvDuration("DAB_DEVICE_MIN_INTERVAL", c.Dispatch.MinInterval)

	c.Device.Kind = getEnv("DAB_DEVICE_KIND", c.Device.Kind)
	c.Device.MQTT.Broker = getEnv("DAB_MQTT_BROKER", c.Device.MQTT.Broker)
	c.Device.MQTT.Username = getEnv("DAB_MQTT_USERNAME", c.Device.MQTT.Username)
	c.Device.MQTT.Password = getEnv("DAB_MQTT_PASSWORD", c.Device.MQTT.Password)
	c.Kafka.Brokers = getEnvStringSlice("DAB_KAFKA_BROKERS", c.Kafka.Brokers)
	c.Kafka.Topic = getEnv("DAB_KAFKA_TOPIC", c.Kafka.Topic)
	c.Influx.URL = getEnv("DAB_INFLUX_URL", c.Influx.URL)
	c.Influx.Token = getEnv("DAB_INFLUX_TOKEN", c.Influx.Token)
	c.Influx.Org = getEnv("DAB_INFLUX_ORG", c.Influx.Org)
	c.Influx.Bucket = getEnv("DAB_INFLUX_BUCKET", c.Influx.Bucket)
}

// #endregion load

// #region validate
// Validate reports the first configuration error found.
func (c Config) Validate() error {
	if _, err := target.ParseStrategy(c.DAB.Strategy); err != nil {
		return err
	}
	if c.DAB.PollActive <= 0 || c.DAB.PollIdle <= 0 {
		return errors.New("dab.poll_active and dab.poll_idle must be positive")
	}
	if c.DAB.FinalizeDelay < 0 {
		return errors.New("dab.finalize_delay must not be negative")
	}
	if c.DAB.InitialEfficiencyPercent < 0 || c.DAB.InitialEfficiencyPercent > 100 {
		return fmt.Errorf("dab.initial_efficiency_percent %v outside 0-100", c.DAB.InitialEfficiencyPercent)
	}
	if c.Dispatch.MinInterval <= 0 {
		return fmt.Errorf("%w: dispatch.device_min_interval %v", dispatch.ErrInvalidRate, c.Dispatch.MinInterval)
	}
	if c.Target.Granularity <= 0 || c.Target.Granularity > 100 {
		return fmt.Errorf("target.vent_granularity %d outside 1-100", c.Target.Granularity)
	}
	seen := map[string]string{}
	for i, circ := range c.DAB.Circuits {
		if circ.Thermostat == "" {
			return fmt.Errorf("dab.circuits[%d]: thermostat is required", i)
		}
		if circ.ConventionalVents < 0 {
			return fmt.Errorf("dab.circuits[%d]: conventional_vents must not be negative", i)
		}
		for _, v := range circ.Vents {
			if owner, ok := seen[v]; ok {
				return fmt.Errorf("vent %s assigned to both %s and %s", v, owner, circ.Thermostat)
			}
			seen[v] = circ.Thermostat
		}
	}
	switch c.Device.Kind {
	case "simulator":
	case "mqtt":
		if c.Device.MQTT.Broker == "" {
			return errors.New("device.mqtt.broker is required for the mqtt device")
		}
	default:
		return fmt.Errorf("unknown device.kind %q", c.Device.Kind)
	}
	return nil
}

// #endregion validate

// #region component-configs
// GateConfig returns the gate thresholds.
func (c Config) GateConfig() gate.GateConfig {
	g := c.Gate
	return gate.GateConfig{
		Window:            g.Window,
		StartLag:          g.StartLag,
		MinCycleMinutes:   g.MinCycleMinutes,
		MinDeltaC:         g.MinDeltaC,
		MinAperturePct:    g.MinAperturePct,
		ApertureJitterPct: g.ApertureJitterPct,
		MinDuctDeltaC:     g.MinDuctDeltaC,
		DuctDeltaJitterC:  g.DuctDeltaJitterC,
		DuctReferenceC:    g.DuctReferenceC,
	}
}

// TargetConfig returns the calculator settings. Strategy must already be valid.
func (c Config) TargetConfig() target.Config {
	strategy, _ := target.ParseStrategy(c.DAB.Strategy)
	t := c.Target
	return target.Config{
		Strategy:             strategy,
		TimeBudgetMinutes:    t.TimeBudgetMinutes,
		Granularity:          t.Granularity,
		CloseInactiveRooms:   t.CloseInactiveRooms,
		ClosedTarget:         t.ClosedTarget,
		ConventionalOpenPct:  t.ConventionalOpenPct,
		MinAdjustPercent:     t.MinAdjustPercent,
		MinAdjustInterval:    t.MinAdjustInterval,
		TempErrorOverrideC:   t.TempErrorOverrideC,
		CostTempWeight:       t.CostTempWeight,
		CostEfficiencyWeight: t.CostEfficiencyWeight,
		HybridDABWeight:      t.HybridDABWeight,
		DefaultEfficientPt:   c.InitialRate(),
		DefaultAvgTempError:  t.DefaultAvgTempError,
	}
}

// DispatchConfig returns the dispatcher settings.
func (c Config) DispatchConfig() dispatch.Config {
	return dispatch.Config{
		MinInterval: c.Dispatch.MinInterval,
		Concurrency: c.Dispatch.Concurrency,
		CallTimeout: c.Dispatch.CallTimeout,
	}
}

// UpdateConfig returns the learning settings.
func (c Config) UpdateConfig() update.UpdateConfig {
	return update.UpdateConfig{RegimeConfidence: c.Update.RegimeConfidence, OffsetWindow: c.Update.OffsetWindow}
}

// EvalConfig returns the post-update sanity bounds.
func (c Config) EvalConfig() eval.EvalConfig {
	return eval.EvalConfig{MaxEfficiency: c.Eval.MaxEfficiency, MaxRate: c.Eval.MaxRate, MaxOffsets: c.Eval.MaxOffsets}
}

// InitialRate is the efficiency assumed for a vent with no history.
func (c Config) InitialRate() float64 {
	return clamp01(c.DAB.InitialEfficiencyPercent / 100)
}

// Circuits returns the configured thermostat circuits.
func (c Config) Circuits() []hvac.Circuit {
	out := make([]hvac.Circuit, 0, len(c.DAB.Circuits))
	for _, circ := range c.DAB.Circuits {
		out = append(out, hvac.Circuit{
			ThermostatID:      circ.Thermostat,
			VentIDs:           append([]string(nil), circ.Vents...),
			ConventionalVents: circ.ConventionalVents,
		})
	}
	return out
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// #endregion component-configs

// #region helpers
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value, exists := os.LookupEnv(key); exists {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvStringSlice(key string, defaultValue []string) []string {
	value, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue
	}
	var out []string
	for _, p := range strings.Split(value, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// #endregion helpers
