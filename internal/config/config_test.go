package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeTempConfig(t *testing.T, contents string) string {
	t.Helper()
	tmp := t.TempDir()
	path := filepath.Join(tmp, "cfg.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("WriteFile() error: %v", err)
	}
	return path
}

func requireErrEq(t *testing.T, err error, want string) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error %q, got nil", want)
	}
	if err.Error() != want {
		t.Fatalf("error=%q want %q", err.Error(), want)
	}
}

const minimal = "output:\n  dest: '127.0.0.1:4000'\n"

func TestLoad_RequiresDest(t *testing.T) {
	path := writeTempConfig(t, "output: {}\n")
	_, err := Load(path)
	requireErrEq(t, err, "output.dest is required")
}

func TestLoad_DefaultsApplied(t *testing.T) {
	path := writeTempConfig(t, minimal+"receivers:\n  - device: /dev/ttyAMA1\n  - device: tcp://127.0.0.1:2947\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Fusion.Interval != 50*time.Millisecond || cfg.Fusion.ReceiverTimeout != 200*time.Millisecond {
		t.Fatalf("fusion=%+v", cfg.Fusion)
	}
	if cfg.Fusion.CorrectionTerm != 0.985 || cfg.Fusion.ConvergeEpsilonDeg != 1e-7 {
		t.Fatalf("fusion=%+v", cfg.Fusion)
	}
	if cfg.Output.Transport != "udp" || cfg.Output.Mode != "stream" {
		t.Fatalf("output=%+v", cfg.Output)
	}
	if cfg.LED.Cycle != 200*time.Millisecond || cfg.LED.Pin != 17 {
		t.Fatalf("led=%+v", cfg.LED)
	}
	if cfg.Receivers[0].Name != "gps1" || cfg.Receivers[0].Baud != 9600 {
		t.Fatalf("receiver[0]=%+v", cfg.Receivers[0])
	}
	if cfg.Receivers[1].Name != "gps2" || cfg.Receivers[1].Baud != 0 {
		t.Fatalf("receiver[1]=%+v", cfg.Receivers[1])
	}
}

func TestLoad_ParsesDurations(t *testing.T) {
	path := writeTempConfig(t, minimal+"fusion:\n  interval: 20ms\n  receiver_timeout: 150ms\n  correction_term: 0.9\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Fusion.Interval != 20*time.Millisecond || cfg.Fusion.ReceiverTimeout != 150*time.Millisecond || cfg.Fusion.CorrectionTerm != 0.9 {
		t.Fatalf("fusion=%+v", cfg.Fusion)
	}
}

func TestLoad_Validation(t *testing.T) {
	cases := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "too many receivers",
			yaml: minimal + "receivers:\n  - device: a\n  - device: b\n  - device: c\n  - device: d\n",
			want: "receivers supports at most 3 entries",
		},
		{
			name: "missing device",
			yaml: minimal + "receivers:\n  - name: left\n",
			want: "receivers[0].device is required",
		},
		{
			name: "duplicate name",
			yaml: minimal + "receivers:\n  - {name: a, device: x}\n  - {name: a, device: y}\n",
			want: `receivers[1].name "a" is duplicated`,
		},
		{
			name: "correction term",
			yaml: minimal + "fusion:\n  correction_term: 1.0\n",
			want: "fusion.correction_term must be within [0,1)",
		},
		{
			name: "transport",
			yaml: "output:\n  transport: can\n",
			want: "output.transport must be udp or serial",
		},
		{
			name: "serial device",
			yaml: "output:\n  transport: serial\n",
			want: "output.device is required when output.transport is serial",
		},
		{
			name: "mode",
			yaml: minimal + "  mode: burst\n",
			want: "output.mode must be stream or on_request",
		},
		{
			name: "mqtt broker",
			yaml: minimal + "mqtt:\n  enable: true\n",
			want: "mqtt.broker is required when mqtt.enable is true",
		},
		{
			name: "record path",
			yaml: minimal + "record:\n  enable: true\n",
			want: "record.path is required when record.enable is true",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeTempConfig(t, tc.yaml))
			requireErrEq(t, err, tc.want)
		})
	}
}

func TestLoad_SerialOutputDefaults(t *testing.T) {
	path := writeTempConfig(t, "output:\n  transport: Serial\n  device: /dev/ttyAMA0\n  mode: on_request\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Output.Transport != "serial" || cfg.Output.Baud != 115200 || cfg.Output.Mode != "on_request" {
		t.Fatalf("output=%+v", cfg.Output)
	}
}

func TestLoad_MQTTDefaults(t *testing.T) {
	path := writeTempConfig(t, minimal+"mqtt:\n  enable: true\n  broker: tcp://localhost:1883\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.MQTT.Topic != "gpsmixer/fix" || cfg.MQTT.ClientID != "gpsmixer" || cfg.MQTT.Interval != time.Second {
		t.Fatalf("mqtt=%+v", cfg.MQTT)
	}
}
