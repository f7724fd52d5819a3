// Package fusion merges the working receivers into one fused fix per tick.
package fusion

import (
	"math"
	"time"

	geo "github.com/kellydunn/golang-geo"

	"gpsmixer/internal/gps"
)

const (
	DefaultCorrectionTerm     = 0.985
	DefaultConvergeEpsilonDeg = 1e-7

	// WorstHDOP is reported while no receiver is working.
	WorstHDOP = 99.9
)

type Config struct {
	// CorrectionTerm is the per-tick decay of the offset captured when the
	// receiver set changes. Must be in [0,1).
	CorrectionTerm float64
	// ConvergeEpsilonDeg ends the blend once the offset is below it on both
	// axes.
	ConvergeEpsilonDeg float64
	ReceiverTimeout    time.Duration
}

func (c Config) withDefaults() Config {
	if c.CorrectionTerm <= 0 || c.CorrectionTerm >= 1 {
		c.CorrectionTerm = DefaultCorrectionTerm
	}
	if c.ConvergeEpsilonDeg <= 0 {
		c.ConvergeEpsilonDeg = DefaultConvergeEpsilonDeg
	}
	if c.ReceiverTimeout <= 0 {
		c.ReceiverTimeout = gps.DefaultReceiverTimeout
	}
	return c
}

// Fix is the engine's output register.
type Fix struct {
	LatDeg float64 `json:"lat_deg"`
	LonDeg float64 `json:"lon_deg"`
	LatE6  int32   `json:"lat_e6"`
	LonE6  int32   `json:"lon_e6"`

	HDOP       float64 `json:"hdop"`
	Satellites int     `json:"satellites"`
	FixQuality int     `json:"fix_quality"`
	AltitudeM  float64 `json:"altitude_m"`
	HeadingDeg float64 `json:"heading_deg"`
	SpeedKmh   float64 `json:"speed_kmh"`

	ReceiverCount        int  `json:"receiver_count"`
	ReceiverCountChanged bool `json:"receiver_count_changed"`
	Smoothing            bool `json:"smoothing"`

	// SpreadM is the largest distance of a contributing receiver from the raw
	// mean position.
	SpreadM float64 `json:"spread_m"`

	// Valid is false until the first position has been fused.
	Valid bool `json:"valid"`
}

// Engine is not safe for concurrent use; the mixer loop owns it.
type Engine struct {
	cfg Config

	fix       Fix
	lastCount int
	blending  bool

	// dLat and dLon are the remaining offset of the output from the raw mean.
	dLat, dLon float64

	working []*gps.ReceiverState
}

func NewEngine(cfg Config) *Engine {
	return &Engine{cfg: cfg.withDefaults(), fix: Fix{HDOP: WorstHDOP}}
}

func (e *Engine) Config() Config { return e.cfg }

// Fix returns the current output register.
func (e *Engine) Fix() Fix { return e.fix }

// Tick refreshes receiver availability and recomputes the fused fix.
func (e *Engine) Tick(now time.Time, receivers []*gps.ReceiverState) Fix {
	e.working = e.working[:0]
	edge := false
	for _, r := range receivers {
		if r == nil {
			continue
		}
		r.Refresh(now, e.cfg.ReceiverTimeout)
		if r.Working != r.WorkingLast {
			edge = true
		}
		if r.Working {
			e.working = append(e.working, r)
		}
	}

	count := len(e.working)
	changed := count != e.lastCount
	e.lastCount = count

	e.fix.ReceiverCount = count
	e.fix.ReceiverCountChanged = changed

	if count == 0 {
		// Hold the last position, altitude, heading and speed.
		e.fix.HDOP = WorstHDOP
		e.fix.Satellites = 0
		e.fix.FixQuality = 0
		e.fix.SpreadM = 0
		e.fix.Smoothing = false
		e.stopBlend()
		return e.fix
	}

	m := mean(e.working)

	// A swap of receivers keeps the count but still shifts the mean, so any
	// per-receiver edge starts a blend too. The offset rides on top of the raw
	// mean, so a moving platform does not hold the blend open.
	if (changed || edge) && e.fix.Valid {
		e.blending = true
		e.dLat = e.fix.LatDeg - m.lat
		e.dLon = e.fix.LonDeg - m.lon
	}

	lat, lon := m.lat, m.lon
	if e.blending {
		e.dLat *= e.cfg.CorrectionTerm
		e.dLon *= e.cfg.CorrectionTerm
		eps := e.cfg.ConvergeEpsilonDeg
		if math.Abs(e.dLat) < eps && math.Abs(e.dLon) < eps {
			e.stopBlend()
		} else {
			lat += e.dLat
			lon += e.dLon
		}
	}

	e.fix.LatDeg = lat
	e.fix.LonDeg = lon
	e.fix.LatE6 = toE6(lat)
	e.fix.LonE6 = toE6(lon)
	e.fix.AltitudeM = m.alt
	if m.courses > 0 {
		e.fix.HeadingDeg = m.heading
		e.fix.SpeedKmh = m.speed
	}
	e.fix.HDOP = m.hdop
	e.fix.Satellites = m.sats
	e.fix.FixQuality = m.quality
	e.fix.SpreadM = spreadM(e.working, m.lat, m.lon)
	e.fix.Smoothing = e.blending
	e.fix.Valid = true
	return e.fix
}

func (e *Engine) stopBlend() {
	e.blending = false
	e.dLat, e.dLon = 0, 0
}

type rawMean struct {
	lat, lon, alt  float64
	heading, speed float64
	courses        int
	hdop           float64
	sats, quality  int
}

func mean(rs []*gps.ReceiverState) rawMean {
	out := rawMean{hdop: math.Inf(1)}
	var sx, sy float64
	for _, r := range rs {
		s := r.Sample
		out.lat += s.LatDeg
		out.lon += s.LonDeg
		out.alt += s.AltitudeM
		if s.HasCourse {
			rad := s.HeadingDeg * math.Pi / 180
			sx += math.Cos(rad)
			sy += math.Sin(rad)
			out.speed += s.SpeedKmh
			out.courses++
		}
		if s.Satellites > out.sats {
			out.sats = s.Satellites
		}
		if s.HDOP < out.hdop {
			out.hdop = s.HDOP
		}
		if s.FixQuality > out.quality {
			out.quality = s.FixQuality
		}
	}
	n := float64(len(rs))
	out.lat /= n
	out.lon /= n
	out.alt /= n
	if out.courses > 0 {
		out.speed /= float64(out.courses)
		out.heading = circularMeanDeg(sx, sy)
	}
	return out
}

// circularMeanDeg maps a summed unit vector back to [0,360).
func circularMeanDeg(sx, sy float64) float64 {
	if sx == 0 && sy == 0 {
		return 0
	}
	h := math.Atan2(sy, sx) * 180 / math.Pi
	if h < 0 {
		h += 360
	}
	if h >= 360 {
		h -= 360
	}
	return h
}

func spreadM(rs []*gps.ReceiverState, lat, lon float64) float64 {
	if len(rs) < 2 {
		return 0
	}
	center := geo.NewPoint(lat, lon)
	var maxKm float64
	for _, r := range rs {
		km := center.GreatCircleDistance(geo.NewPoint(r.Sample.LatDeg, r.Sample.LonDeg))
		if km > maxKm {
			maxKm = km
		}
	}
	return maxKm * 1000
}

func toE6(deg float64) int32 {
	v := math.Round(deg * 1e6)
	if v > math.MaxInt32 {
		return math.MaxInt32
	}
	if v < math.MinInt32 {
		return math.MinInt32
	}
	return int32(v)
}
