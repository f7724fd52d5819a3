package gps

import (
	"bytes"
	"testing"
)

func TestMessageRateCommandLayout(t *testing.T) {
	got := MessageRateCommand(nmeaGSV, 0)
	want := []byte{0xB5, 0x62, 0x06, 0x01, 0x03, 0x00, 0xF0, 0x03, 0x00, 0xFD, 0x15}
	if !bytes.Equal(got, want) {
		t.Fatalf("cmd=% X want % X", got, want)
	}
}

func TestConfigCommandsEnableOnlyGGAAndVTG(t *testing.T) {
	cmds := ConfigCommands(0)
	if len(cmds) != len(configuredMessages) {
		t.Fatalf("commands=%d want %d", len(cmds), len(configuredMessages))
	}
	for _, c := range cmds {
		if len(c) != 11 {
			t.Fatalf("len=%d want 11", len(c))
		}
		a, b := ubxChecksum(c[2:9])
		if c[9] != a || c[10] != b {
			t.Fatalf("bad checksum in % X", c)
		}
		id, rate := c[7], c[8]
		wantRate := byte(0)
		if id == nmeaGGA || id == nmeaVTG {
			wantRate = 1
		}
		if rate != wantRate {
			t.Fatalf("msg=%#x rate=%d want %d", id, rate, wantRate)
		}
	}
}

func TestConfigCommandsNavRate(t *testing.T) {
	cmds := ConfigCommands(5)
	last := cmds[len(cmds)-1]
	if last[3] != ubxIDRate || last[6] != 200 || last[7] != 0 {
		t.Fatalf("nav rate cmd=% X", last)
	}
	if NavRateCommand(20) != nil {
		t.Fatalf("expected nil for unsupported rate")
	}
}
