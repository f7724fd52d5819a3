package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// MaxReceivers is the number of receiver inputs the mixer board provides.
const MaxReceivers = 3

type Config struct {
	Receivers []ReceiverConfig `yaml:"receivers"`
	Fusion    FusionConfig     `yaml:"fusion"`
	Output    OutputConfig     `yaml:"output"`
	LED       LEDConfig        `yaml:"led"`
	Web       WebConfig        `yaml:"web"`
	MQTT      MQTTConfig       `yaml:"mqtt"`
	Record    RecordConfig     `yaml:"record"`
}

type ReceiverConfig struct {
	Name string `yaml:"name"`
	// Device is a serial path or tcp://host:port.
	Device    string `yaml:"device"`
	Baud      int    `yaml:"baud"`
	Configure bool   `yaml:"configure"`
	NavRateHz int    `yaml:"nav_rate_hz"`
}

type FusionConfig struct {
	Interval           time.Duration `yaml:"interval"`
	ReceiverTimeout    time.Duration `yaml:"receiver_timeout"`
	CorrectionTerm     float64       `yaml:"correction_term"`
	ConvergeEpsilonDeg float64       `yaml:"converge_epsilon_deg"`
}

type OutputConfig struct {
	Transport string `yaml:"transport"`
	Dest      string `yaml:"dest"`
	Listen    string `yaml:"listen"`
	Device    string `yaml:"device"`
	Baud      int    `yaml:"baud"`
	// Mode is "stream" (a frame every tick) or "on_request" (a frame after
	// each host command).
	Mode string `yaml:"mode"`
}

type LEDConfig struct {
	Enable bool `yaml:"enable"`
	// Pin is BCM GPIO numbering.
	Pin   int           `yaml:"pin"`
	Cycle time.Duration `yaml:"cycle"`
}

type WebConfig struct {
	Listen string `yaml:"listen"`
}

type MQTTConfig struct {
	Enable   bool          `yaml:"enable"`
	Broker   string        `yaml:"broker"`
	Topic    string        `yaml:"topic"`
	ClientID string        `yaml:"client_id"`
	Interval time.Duration `yaml:"interval"`
}

type RecordConfig struct {
	Enable bool   `yaml:"enable"`
	Path   string `yaml:"path"`
}

func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, err
	}
	if err := DefaultAndValidate(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// DefaultAndValidate fills defaults in place and rejects unusable settings.
func DefaultAndValidate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}

	if len(cfg.Receivers) > MaxReceivers {
		return fmt.Errorf("receivers supports at most %d entries", MaxReceivers)
	}
	seen := make(map[string]bool, len(cfg.Receivers))
	for i := range cfg.Receivers {
		r := &cfg.Receivers[i]
		r.Device = strings.TrimSpace(r.Device)
		if r.Device == "" {
			return fmt.Errorf("receivers[%d].device is required", i)
		}
		if r.Name == "" {
			r.Name = fmt.Sprintf("gps%d", i+1)
		}
		if seen[r.Name] {
			return fmt.Errorf("receivers[%d].name %q is duplicated", i, r.Name)
		}
		seen[r.Name] = true
		if r.Baud == 0 && !strings.HasPrefix(r.Device, "tcp://") {
			r.Baud = 9600
		}
		if r.Baud < 0 {
			return fmt.Errorf("receivers[%d].baud must be > 0", i)
		}
		if r.NavRateHz < 0 || r.NavRateHz > 10 {
			return fmt.Errorf("receivers[%d].nav_rate_hz must be within 0..10", i)
		}
	}

	f := &cfg.Fusion
	if f.Interval <= 0 {
		f.Interval = 50 * time.Millisecond
	}
	if f.ReceiverTimeout <= 0 {
		f.ReceiverTimeout = 200 * time.Millisecond
	}
	if f.CorrectionTerm == 0 {
		f.CorrectionTerm = 0.985
	}
	if f.CorrectionTerm < 0 || f.CorrectionTerm >= 1 {
		return fmt.Errorf("fusion.correction_term must be within [0,1)")
	}
	if f.ConvergeEpsilonDeg == 0 {
		f.ConvergeEpsilonDeg = 1e-7
	}
	if f.ConvergeEpsilonDeg < 0 {
		return fmt.Errorf("fusion.converge_epsilon_deg must be > 0")
	}

	o := &cfg.Output
	o.Transport = strings.ToLower(strings.TrimSpace(o.Transport))
	if o.Transport == "" {
		o.Transport = "udp"
	}
	switch o.Transport {
	case "udp":
		if o.Dest == "" {
			return fmt.Errorf("output.dest is required")
		}
	case "serial":
		if o.Device == "" {
			return fmt.Errorf("output.device is required when output.transport is serial")
		}
		if o.Baud == 0 {
			o.Baud = 115200
		}
	default:
		return fmt.Errorf("output.transport must be udp or serial")
	}
	if o.Mode == "" {
		o.Mode = "stream"
	}
	if o.Mode != "stream" && o.Mode != "on_request" {
		return fmt.Errorf("output.mode must be stream or on_request")
	}

	if cfg.LED.Pin == 0 {
		cfg.LED.Pin = 17
	}
	if cfg.LED.Cycle <= 0 {
		cfg.LED.Cycle = 200 * time.Millisecond
	}

	if cfg.MQTT.Enable {
		if cfg.MQTT.Broker == "" {
			return fmt.Errorf("mqtt.broker is required when mqtt.enable is true")
		}
		if cfg.MQTT.Topic == "" {
			cfg.MQTT.Topic = "gpsmixer/fix"
		}
		if cfg.MQTT.ClientID == "" {
			cfg.MQTT.ClientID = "gpsmixer"
		}
		if cfg.MQTT.Interval <= 0 {
			cfg.MQTT.Interval = time.Second
		}
	}

	if cfg.Record.Enable && cfg.Record.Path == "" {
		return fmt.Errorf("record.path is required when record.enable is true")
	}
	return nil
}
