package gps

import "time"

// DefaultReceiverTimeout is how long a receiver may stay silent before it is
// no longer counted as working.
const DefaultReceiverTimeout = 200 * time.Millisecond

// RawFixSample is the latest decoded content of one receiver. GGA and VTG
// update disjoint subsets; the other subset keeps its previous value.
type RawFixSample struct {
	LatDeg     float64 `json:"lat_deg"`
	LonDeg     float64 `json:"lon_deg"`
	FixQuality int     `json:"fix_quality"`
	Satellites int     `json:"satellites"`
	HDOP       float64 `json:"hdop"`
	AltitudeM  float64 `json:"altitude_m"`
	HeadingDeg float64 `json:"heading_deg"`
	SpeedKmh   float64 `json:"speed_kmh"`

	// HasPosition is set by a GGA with a fix and cleared by a GGA without one.
	HasPosition bool `json:"has_position"`
	// HasCourse is set once any VTG has been decoded.
	HasCourse bool `json:"has_course"`

	NewGGA bool `json:"-"`
	NewVTG bool `json:"-"`
}

// ReceiverState wraps one receiver's sample with its availability.
type ReceiverState struct {
	Name string

	Sample RawFixSample

	Working     bool
	WorkingLast bool
	LastUpdate  time.Time
}

func NewReceiverState(name string) *ReceiverState {
	return &ReceiverState{Name: name, Sample: RawFixSample{HDOP: 99.99}}
}

// Apply merges a decoded sentence into the sample and marks the receiver fresh.
func (r *ReceiverState) Apply(now time.Time, s Sentence) {
	switch s.Type {
	case TypeGGA:
		r.Sample.FixQuality = s.FixQuality
		r.Sample.Satellites = s.Satellites
		r.Sample.HDOP = s.HDOP
		if s.FixQuality == 0 {
			r.Sample.HasPosition = false
		} else {
			r.Sample.LatDeg = s.LatDeg
			r.Sample.LonDeg = s.LonDeg
			r.Sample.AltitudeM = s.AltitudeM
			r.Sample.HasPosition = true
		}
		r.Sample.NewGGA = true
	case TypeVTG:
		r.Sample.HeadingDeg = s.HeadingDeg
		r.Sample.SpeedKmh = s.SpeedKmh
		r.Sample.HasCourse = true
		r.Sample.NewVTG = true
	default:
		return
	}
	r.LastUpdate = now
}

// Refresh recomputes availability. WorkingLast keeps the previous value so
// callers can detect edges.
func (r *ReceiverState) Refresh(now time.Time, timeout time.Duration) {
	if timeout <= 0 {
		timeout = DefaultReceiverTimeout
	}
	r.WorkingLast = r.Working
	fresh := !r.LastUpdate.IsZero() && now.Sub(r.LastUpdate) <= timeout
	r.Working = fresh && r.Sample.HasPosition
}

// TakeFresh reports and clears the new-data flags.
func (r *ReceiverState) TakeFresh() (gga bool, vtg bool) {
	gga, vtg = r.Sample.NewGGA, r.Sample.NewVTG
	r.Sample.NewGGA = false
	r.Sample.NewVTG = false
	return gga, vtg
}
