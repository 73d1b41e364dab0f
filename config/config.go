//go:build !tinygo && !baremetal

// Package config loads the host simulator configuration from YAML.
package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/goccy/go-yaml"

	proto "github.com/ystepanoff/uwbtwr/protocol"
	"github.com/ystepanoff/uwbtwr/transport"
)

// ErrInvalidConfig wraps every validation failure. Failures found by the
// session or address parsers also match their own sentinel errors.
var ErrInvalidConfig = errors.New("invalid config")

// Config is the root of the simulator configuration.
type Config struct {
	Logger     LoggerConfig     `yaml:"logger"`
	Timing     TimingConfig     `yaml:"timing"`
	Radio      RadioConfig      `yaml:"radio"`
	Simulation SimulationConfig `yaml:"simulation"`
	Monitor    MonitorConfig    `yaml:"monitor"`
	Tag        NodeConfig       `yaml:"tag"`
	Anchors    []NodeConfig     `yaml:"anchors"`
}

type LoggerConfig struct {
	Level string `yaml:"level"`
}

// TimingConfig holds the protocol schedule. Intervals are milliseconds,
// delays microseconds.
type TimingConfig struct {
	BlinkIntervalMS uint32 `yaml:"blink_interval_ms"`
	PollIntervalMS  uint32 `yaml:"poll_interval_ms"`
	CheckIntervalMS uint32 `yaml:"check_interval_ms"`
	DeviceTimeoutMS uint32 `yaml:"device_timeout_ms"`
	ReplyDelayUS    uint16 `yaml:"reply_delay_us"`
	RangeDelayUS    uint32 `yaml:"range_delay_us"`
}

type RadioConfig struct {
	AntennaDelay     uint16 `yaml:"antenna_delay"`
	CorrectRangeBias bool   `yaml:"correct_range_bias"`
	AirTimeUS        uint32 `yaml:"air_time_us"`
}

type SimulationConfig struct {
	PassUS     uint32 `yaml:"pass_us"`
	DurationMS uint64 `yaml:"duration_ms"`
	// ReportEveryMS is the period of the statistics table. Zero disables it.
	ReportEveryMS uint64 `yaml:"report_every_ms"`
}

type MonitorConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

type Position struct {
	X float64 `yaml:"x"`
	Y float64 `yaml:"y"`
	Z float64 `yaml:"z"`
}

// NodeConfig describes one simulated radio. Addresses are hex strings.
type NodeConfig struct {
	Name        string   `yaml:"name"`
	ShortAddr   string   `yaml:"short_addr"`
	EUI64       string   `yaml:"eui64"`
	Position    Position `yaml:"position"`
	DriftPPM    float64  `yaml:"drift_ppm"`
	ClockOffset uint64   `yaml:"clock_offset"`
	TickOffset  uint32   `yaml:"tick_offset"`
	RxBias      int64    `yaml:"rx_bias"`
	RxTimeoutUS uint32   `yaml:"rx_timeout_us"`
}

// Addresses parses the node's short and extended addresses.
func (n NodeConfig) Addresses() (proto.ShortAddr, proto.EUI64, error) {
	short, err := proto.ParseShortAddr(n.ShortAddr)
	if err != nil {
		return proto.ShortAddr{}, proto.EUI64{}, fmt.Errorf("node %q: %w", n.Name, err)
	}
	eui, err := proto.ParseEUI64(n.EUI64)
	if err != nil {
		return proto.ShortAddr{}, proto.EUI64{}, fmt.Errorf("node %q: %w", n.Name, err)
	}
	return short, eui, nil
}

// Default returns a tag and three anchors around a 10 x 8 m room.
func Default() Config {
	return Config{
		Logger: LoggerConfig{Level: "info"},
		Timing: TimingConfig{
			BlinkIntervalMS: proto.BlinkInterval,
			PollIntervalMS:  proto.PollInterval,
			CheckIntervalMS: proto.CheckDeviceInterval,
			DeviceTimeoutMS: proto.DeviceTimeout,
			ReplyDelayUS:    proto.DefaultReplyDelayUS,
			RangeDelayUS:    proto.DefaultRangeDelayUS,
		},
		Radio: RadioConfig{
			AntennaDelay:     16436,
			CorrectRangeBias: true,
			AirTimeUS:        150,
		},
		Simulation: SimulationConfig{
			PassUS:        100,
			DurationMS:    10000,
			ReportEveryMS: 5000,
		},
		Monitor: MonitorConfig{Addr: ":8080"},
		Tag: NodeConfig{
			Name:      "tag",
			ShortAddr: "0x00AA",
			EUI64:     "0xDECA0000000000AA",
			Position:  Position{X: 3, Y: 4, Z: 1},
			DriftPPM:  5,
		},
		Anchors: []NodeConfig{
			{Name: "anchor-1", ShortAddr: "0x0001", EUI64: "0xDECA000000000001", Position: Position{Z: 2.5}},
			{Name: "anchor-2", ShortAddr: "0x0002", EUI64: "0xDECA000000000002", Position: Position{X: 10, Z: 2.5}, DriftPPM: -3},
			{Name: "anchor-3", ShortAddr: "0x0003", EUI64: "0xDECA000000000003", Position: Position{Y: 8, Z: 2.5}, DriftPPM: 2},
		},
	}
}

// Load reads a YAML file over the defaults. A missing file yields Default().
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := Parse(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Parse decodes YAML into cfg and validates the result.
func Parse(data []byte, cfg *Config) error {
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return cfg.Validate()
}

// Validate checks what the session config cannot catch: node addresses,
// the simulation parameters and the anchor count.
func (c *Config) Validate() error {
	if c.Simulation.PassUS == 0 {
		return fmt.Errorf("%w: simulation pass must be positive", ErrInvalidConfig)
	}
	if c.Radio.AirTimeUS == 0 {
		return fmt.Errorf("%w: air time must be positive", ErrInvalidConfig)
	}
	if len(c.Anchors) == 0 {
		return fmt.Errorf("%w: no anchors", ErrInvalidConfig)
	}
	if len(c.Anchors) > proto.MaxDevices {
		return fmt.Errorf("%w: %d anchors, a tag tracks at most %d", ErrInvalidConfig, len(c.Anchors), proto.MaxDevices)
	}
	if c.Monitor.Enabled && c.Monitor.Addr == "" {
		return fmt.Errorf("%w: monitor enabled without an address", ErrInvalidConfig)
	}

	seen := make(map[proto.ShortAddr]string)
	for _, n := range append([]NodeConfig{c.Tag}, c.Anchors...) {
		short, _, err := n.Addresses()
		if err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}
		if prev, dup := seen[short]; dup {
			return fmt.Errorf("%w: nodes %q and %q share address %s", ErrInvalidConfig, prev, n.Name, short)
		}
		seen[short] = n.Name
		cfg, err := c.ToSession(n)
		if err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("%w: node %q: %w", ErrInvalidConfig, n.Name, err)
		}
	}
	return nil
}

// ToSession builds the session config of one node.
func (c *Config) ToSession(n NodeConfig) (transport.Config, error) {
	short, eui, err := n.Addresses()
	if err != nil {
		return transport.Config{}, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	cfg := transport.DefaultConfig(short, eui)
	cfg.ReplyDelayUS = c.Timing.ReplyDelayUS
	cfg.RangeDelayUS = c.Timing.RangeDelayUS
	cfg.BlinkInterval = c.Timing.BlinkIntervalMS
	cfg.PollInterval = c.Timing.PollIntervalMS
	cfg.CheckInterval = c.Timing.CheckIntervalMS
	cfg.DeviceTimeout = c.Timing.DeviceTimeoutMS
	cfg.TxAntennaDelay = c.Radio.AntennaDelay
	cfg.CorrectRangeBias = c.Radio.CorrectRangeBias
	return cfg, nil
}
