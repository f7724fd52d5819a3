package frame

import (
	"bytes"
	"errors"
	"math"
	"testing"

	"gpsmixer/internal/fusion"
)

func sampleFix() fusion.Fix {
	return fusion.Fix{
		LatDeg:        48.1173,
		LonDeg:        -11.516667,
		LatE6:         48117300,
		LonE6:         -11516667,
		HDOP:          0.9,
		Satellites:    9,
		FixQuality:    1,
		AltitudeM:     545.4,
		HeadingDeg:    54.7,
		SpeedKmh:      10.2,
		ReceiverCount: 2,
		Valid:         true,
	}
}

func TestGoldenFixFrame(t *testing.T) {
	got := EncodeFix(sampleFix())
	want := []byte{
		0x02, 0xDE, 0x36, 0x34, // lat 48.117300
		0xFF, 0x50, 0x45, 0x05, // lon -11.516667
		0x21,       // 2 receivers, quality 1
		0x09,       // sats
		0x09,       // hdop 0.9
		0x15, 0x4E, // alt 545.4 m
		0x15, 0x5E, // heading 54.70
		0x00, 0x66, // speed 10.2 km/h
		0x66, // checksum
		0xEE, 0xEF,
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("frame=% X want % X", got, want)
	}
}

func TestFixRoundTrip(t *testing.T) {
	in := sampleFix()
	out, err := DecodeFix(EncodeFix(in))
	if err != nil {
		t.Fatalf("DecodeFix: %v", err)
	}
	check := func(name string, got, want, q float64) {
		t.Helper()
		if math.Abs(got-want) > q/2+1e-9 {
			t.Fatalf("%s=%v want %v (quantum %v)", name, got, want, q)
		}
	}
	check("lat", out.LatDeg(), in.LatDeg, 1e-6)
	check("lon", out.LonDeg(), in.LonDeg, 1e-6)
	check("heading", out.HeadingDeg(), in.HeadingDeg, 0.01)
	check("speed", out.SpeedKmh(), in.SpeedKmh, 0.1)
	check("alt", out.AltitudeM(), in.AltitudeM, 0.1)
	check("hdop", out.HDOP(), in.HDOP, 0.1)
	if int(out.Satellites) != in.Satellites || int(out.ReceiverCount) != in.ReceiverCount || int(out.FixQuality) != in.FixQuality {
		t.Fatalf("decoded=%+v", out)
	}
}

func TestFixFrameSaturates(t *testing.T) {
	f := NewFixFrame(fusion.Fix{HDOP: fusion.WorstHDOP, AltitudeM: 1e6, SpeedKmh: -5, HeadingDeg: -90, Satellites: 400})
	if f.HDOPx10 != 255 || f.AltDm != math.MaxInt16 || f.SpeedDkmh != 0 || f.HeadingCdeg != 27000 || f.Satellites != 255 {
		t.Fatalf("frame=%+v", f)
	}
	f = NewFixFrame(fusion.Fix{HeadingDeg: 359.999})
	if f.HeadingCdeg != 0 {
		t.Fatalf("heading=%d want 0", f.HeadingCdeg)
	}
}

func TestDecodeFixErrors(t *testing.T) {
	good := EncodeFix(sampleFix())

	bad := append([]byte(nil), good...)
	bad[3] ^= 0x10
	if _, err := DecodeFix(bad); !errors.Is(err, ErrChecksum) {
		t.Fatalf("err=%v want ErrChecksum", err)
	}

	if _, err := DecodeFix(good[:19]); !errors.Is(err, ErrLength) {
		t.Fatalf("err=%v want ErrLength", err)
	}

	noSuffix := append([]byte(nil), good...)
	noSuffix[19] = 0x00
	if _, err := DecodeFix(noSuffix); !errors.Is(err, ErrSuffix) {
		t.Fatalf("err=%v want ErrSuffix", err)
	}
}

func TestCommandRoundTrip(t *testing.T) {
	in := Command{Status: 1, Backlight: 200, Alignment: 3}
	b := EncodeCommand(in)
	if len(b) != CommandPayloadLen+Overhead {
		t.Fatalf("len=%d", len(b))
	}
	out, err := DecodeCommand(b)
	if err != nil {
		t.Fatalf("DecodeCommand: %v", err)
	}
	if out != in {
		t.Fatalf("command=%+v want %+v", out, in)
	}
}
