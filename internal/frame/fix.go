package frame

import (
	"encoding/binary"
	"fmt"
	"math"

	"gpsmixer/internal/fusion"
)

const (
	FixPayloadLen = 17
	FixFrameLen   = FixPayloadLen + Overhead
)

// FixFrame is the quantized fused fix as carried on the wire.
//
//	[0..3]   latitude, int32 micro-degrees
//	[4..7]   longitude, int32 micro-degrees
//	[8]      receiver count << 4 | fix quality
//	[9]      satellites
//	[10]     HDOP x10, 255 when unknown or worse
//	[11..12] altitude x10 m, int16
//	[13..14] heading x100 deg, uint16
//	[15..16] speed x10 km/h, uint16
//
// Multi-byte fields are big endian.
type FixFrame struct {
	LatE6         int32
	LonE6         int32
	ReceiverCount uint8
	FixQuality    uint8
	Satellites    uint8
	HDOPx10       uint8
	AltDm         int16
	HeadingCdeg   uint16
	SpeedDkmh     uint16
}

func NewFixFrame(f fusion.Fix) FixFrame {
	heading := math.Mod(f.HeadingDeg, 360)
	if heading < 0 {
		heading += 360
	}
	return FixFrame{
		LatE6:         f.LatE6,
		LonE6:         f.LonE6,
		ReceiverCount: uint8(clamp(float64(f.ReceiverCount), 0, 15)),
		FixQuality:    uint8(clamp(float64(f.FixQuality), 0, 15)),
		Satellites:    uint8(clamp(float64(f.Satellites), 0, 255)),
		HDOPx10:       uint8(clamp(math.Round(f.HDOP*10), 0, 255)),
		AltDm:         int16(clamp(math.Round(f.AltitudeM*10), math.MinInt16, math.MaxInt16)),
		HeadingCdeg:   uint16(math.Round(heading*100)) % 36000,
		SpeedDkmh:     uint16(clamp(math.Round(f.SpeedKmh*10), 0, math.MaxUint16)),
	}
}

func (f FixFrame) LatDeg() float64     { return float64(f.LatE6) / 1e6 }
func (f FixFrame) LonDeg() float64     { return float64(f.LonE6) / 1e6 }
func (f FixFrame) HDOP() float64       { return float64(f.HDOPx10) / 10 }
func (f FixFrame) AltitudeM() float64  { return float64(f.AltDm) / 10 }
func (f FixFrame) HeadingDeg() float64 { return float64(f.HeadingCdeg) / 100 }
func (f FixFrame) SpeedKmh() float64   { return float64(f.SpeedDkmh) / 10 }

// Payload returns the 17 payload bytes without checksum or suffix.
func (f FixFrame) Payload() []byte {
	p := make([]byte, FixPayloadLen)
	binary.BigEndian.PutUint32(p[0:4], uint32(f.LatE6))
	binary.BigEndian.PutUint32(p[4:8], uint32(f.LonE6))
	p[8] = f.ReceiverCount<<4 | f.FixQuality&0x0F
	p[9] = f.Satellites
	p[10] = f.HDOPx10
	binary.BigEndian.PutUint16(p[11:13], uint16(f.AltDm))
	binary.BigEndian.PutUint16(p[13:15], f.HeadingCdeg)
	binary.BigEndian.PutUint16(p[15:17], f.SpeedDkmh)
	return p
}

func (f FixFrame) Encode() []byte { return Seal(f.Payload()) }

// EncodeFix builds the 20-byte frame for a fused fix.
func EncodeFix(f fusion.Fix) []byte { return NewFixFrame(f).Encode() }

// DecodeFix validates a complete fix frame.
func DecodeFix(frame []byte) (FixFrame, error) {
	if len(frame) != FixFrameLen {
		return FixFrame{}, fmt.Errorf("%w: fix frame is %d bytes, want %d", ErrLength, len(frame), FixFrameLen)
	}
	p, err := Open(frame)
	if err != nil {
		return FixFrame{}, err
	}
	return ParseFixPayload(p)
}

func ParseFixPayload(p []byte) (FixFrame, error) {
	if len(p) != FixPayloadLen {
		return FixFrame{}, fmt.Errorf("%w: fix payload is %d bytes, want %d", ErrLength, len(p), FixPayloadLen)
	}
	return FixFrame{
		LatE6:         int32(binary.BigEndian.Uint32(p[0:4])),
		LonE6:         int32(binary.BigEndian.Uint32(p[4:8])),
		ReceiverCount: p[8] >> 4,
		FixQuality:    p[8] & 0x0F,
		Satellites:    p[9],
		HDOPx10:       p[10],
		AltDm:         int16(binary.BigEndian.Uint16(p[11:13])),
		HeadingCdeg:   binary.BigEndian.Uint16(p[13:15]),
		SpeedDkmh:     binary.BigEndian.Uint16(p[15:17]),
	}, nil
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
