package gps

import (
	"fmt"
	"strconv"
	"strings"

	nmea "github.com/adrianmo/go-nmea"
)

// MaxSentenceLen bounds the bytes kept between '$' and '*'. NMEA 0183 allows
// 82 characters per line; anything longer than this is a corrupted stream.
const MaxSentenceLen = 100

const knotsToKmh = 1.852

type SentenceType string

const (
	TypeGGA SentenceType = "GGA"
	TypeVTG SentenceType = "VTG"
)

// Sentence holds the decoded fields of one GGA or VTG sentence.
// GGA fills the position subset, VTG the course subset.
type Sentence struct {
	Type   SentenceType
	Talker string

	LatDeg     float64
	LonDeg     float64
	FixQuality int
	Satellites int
	HDOP       float64
	AltitudeM  float64

	HeadingDeg float64
	SpeedKmh   float64
}

// DecoderStats counts what happened to every started sentence.
type DecoderStats struct {
	Sentences      uint64 `json:"sentences"`
	ChecksumErrors uint64 `json:"checksum_errors"`
	Overflows      uint64 `json:"overflows"`
	Malformed      uint64 `json:"malformed"`
	ParseErrors    uint64 `json:"parse_errors"`
	Ignored        uint64 `json:"ignored"`
}

// lineBuffer is a fixed-capacity sentence body buffer; 0 <= n <= len(buf).
type lineBuffer struct {
	buf [MaxSentenceLen]byte
	n   int
}

func (l *lineBuffer) reset() { l.n = 0 }

func (l *lineBuffer) push(b byte) bool {
	if l.n >= len(l.buf) {
		return false
	}
	l.buf[l.n] = b
	l.n++
	return true
}

func (l *lineBuffer) String() string { return string(l.buf[:l.n]) }

type decodeState uint8

const (
	stateIdle decodeState = iota
	stateBody
	stateChecksum
	stateEnd
)

// Decoder incrementally rebuilds NMEA sentences from a byte stream.
// It is not safe for concurrent use; each receiver owns its own Decoder.
type Decoder struct {
	line   lineBuffer
	state  decodeState
	sum    byte
	want   byte
	digits int
	stats  DecoderStats
}

// Feed consumes one byte. It returns a sentence when b completed a valid
// GGA or VTG sentence.
func (d *Decoder) Feed(b byte) (Sentence, bool) {
	if b == '$' {
		// A '$' after a complete checksum closes the previous sentence even
		// when the receiver skipped CR/LF.
		var (
			s  Sentence
			ok bool
		)
		if d.state == stateEnd {
			s, ok = d.finish()
		} else if d.state != stateIdle {
			d.stats.Malformed++
		}
		d.start()
		return s, ok
	}

	switch d.state {
	case stateBody:
		switch b {
		case '*':
			d.state = stateChecksum
			d.digits = 0
			d.want = 0
		case '\r', '\n':
			d.stats.Malformed++
			d.state = stateIdle
		default:
			if !d.line.push(b) {
				d.stats.Overflows++
				d.state = stateIdle
				return Sentence{}, false
			}
			d.sum ^= b
		}
	case stateChecksum:
		v, ok := hexNibble(b)
		if !ok {
			d.stats.Malformed++
			d.state = stateIdle
			return Sentence{}, false
		}
		d.want = d.want<<4 | v
		d.digits++
		if d.digits == 2 {
			d.state = stateEnd
		}
	case stateEnd:
		if b == '\r' || b == '\n' {
			return d.finish()
		}
		d.stats.Malformed++
		d.state = stateIdle
	}
	return Sentence{}, false
}

// FeedBytes feeds a chunk and calls fn for every decoded sentence, in order.
func (d *Decoder) FeedBytes(p []byte, fn func(Sentence)) int {
	n := 0
	for _, b := range p {
		if s, ok := d.Feed(b); ok {
			n++
			if fn != nil {
				fn(s)
			}
		}
	}
	return n
}

func (d *Decoder) Stats() DecoderStats { return d.stats }

func (d *Decoder) start() {
	d.line.reset()
	d.sum = 0
	d.want = 0
	d.digits = 0
	d.state = stateBody
}

func (d *Decoder) finish() (Sentence, bool) {
	d.state = stateIdle
	if d.sum != d.want {
		d.stats.ChecksumErrors++
		return Sentence{}, false
	}
	d.stats.Sentences++

	body := d.line.String()
	typ := sentenceType(body)
	if typ != TypeGGA && typ != TypeVTG {
		d.stats.Ignored++
		return Sentence{}, false
	}

	s, err := decodeFields(body, d.sum)
	if err != nil {
		d.stats.ParseErrors++
		return Sentence{}, false
	}
	return s, true
}

// sentenceType returns the last three characters of the address field,
// so GPGGA, GNGGA and GLGGA all map to GGA.
func sentenceType(body string) SentenceType {
	addr := body
	if i := strings.IndexByte(body, ','); i >= 0 {
		addr = body[:i]
	}
	if len(addr) < 3 {
		return ""
	}
	return SentenceType(strings.ToUpper(addr[len(addr)-3:]))
}

func decodeFields(body string, sum byte) (Sentence, error) {
	if s, ok := noFixGGA(body); ok {
		return s, nil
	}
	// Rebuild the canonical form so lower-case checksums from the wire do not
	// trip the library's own verification.
	raw := fmt.Sprintf("$%s*%02X", body, sum)
	parsed, err := nmea.Parse(raw)
	if err != nil {
		return Sentence{}, err
	}

	switch m := parsed.(type) {
	case nmea.GGA:
		q, err := strconv.Atoi(strings.TrimSpace(m.FixQuality))
		if err != nil {
			return Sentence{}, fmt.Errorf("gga fix quality %q: %w", m.FixQuality, err)
		}
		return Sentence{
			Type:       TypeGGA,
			Talker:     m.Talker,
			LatDeg:     m.Latitude,
			LonDeg:     m.Longitude,
			FixQuality: q,
			Satellites: int(m.NumSatellites),
			HDOP:       m.HDOP,
			AltitudeM:  m.Altitude,
		}, nil
	case nmea.VTG:
		speed := m.GroundSpeedKPH
		if speed == 0 && m.GroundSpeedKnots > 0 {
			speed = m.GroundSpeedKnots * knotsToKmh
		}
		return Sentence{
			Type:       TypeVTG,
			Talker:     m.Talker,
			HeadingDeg: m.TrueTrack,
			SpeedKmh:   speed,
		}, nil
	default:
		return Sentence{}, fmt.Errorf("unexpected sentence %s", parsed.DataType())
	}
}

// noFixGGA handles GGA sentences without a fix. Receivers leave the position
// fields empty then, which the library rejects as unparsable lat/lon.
func noFixGGA(body string) (Sentence, bool) {
	if sentenceType(body) != TypeGGA {
		return Sentence{}, false
	}
	f := strings.Split(body, ",")
	if len(f) < 9 {
		return Sentence{}, false
	}
	q := strings.TrimSpace(f[6])
	if q != "" && q != "0" {
		return Sentence{}, false
	}
	s := Sentence{Type: TypeGGA, Talker: f[0][:len(f[0])-3], HDOP: 99.99}
	if n, err := strconv.Atoi(strings.TrimSpace(f[7])); err == nil {
		s.Satellites = n
	}
	if h, err := strconv.ParseFloat(strings.TrimSpace(f[8]), 64); err == nil {
		s.HDOP = h
	}
	return s, true
}

func hexNibble(b byte) (byte, bool) {
	switch {
	case b >= '0' && b <= '9':
		return b - '0', true
	case b >= 'A' && b <= 'F':
		return b - 'A' + 10, true
	case b >= 'a' && b <= 'f':
		return b - 'a' + 10, true
	default:
		return 0, false
	}
}
