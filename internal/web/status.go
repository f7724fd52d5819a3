package web

import (
	"sync/atomic"
	"time"

	"gpsmixer/internal/mixer"
	"gpsmixer/internal/telemetry"
)

// Status aggregates what /api/status reports. Providers are read on every
// request and must be safe for concurrent use.
type Status struct {
	startUnixNano int64
	static        atomic.Value // StaticInfo

	mixerFn     func() mixer.Snapshot
	telemetryFn func() telemetry.Snapshot
}

type StaticInfo struct {
	Version    string `json:"version,omitempty"`
	ConfigPath string `json:"config_path,omitempty"`
	Output     string `json:"output,omitempty"`
	Mode       string `json:"mode,omitempty"`
	Interval   string `json:"interval,omitempty"`
}

type StatusSnapshot struct {
	Service   string              `json:"service"`
	NowUTC    string              `json:"now_utc"`
	UptimeSec int64               `json:"uptime_sec"`
	Static    StaticInfo          `json:"static"`
	Mixer     *mixer.Snapshot     `json:"mixer,omitempty"`
	Telemetry *telemetry.Snapshot `json:"telemetry,omitempty"`
}

func NewStatus() *Status {
	s := &Status{}
	atomic.StoreInt64(&s.startUnixNano, time.Now().UTC().UnixNano())
	s.static.Store(StaticInfo{})
	return s
}

func (s *Status) SetStatic(info StaticInfo) { s.static.Store(info) }

func (s *Status) SetMixer(fn func() mixer.Snapshot) { s.mixerFn = fn }

func (s *Status) SetTelemetry(fn func() telemetry.Snapshot) { s.telemetryFn = fn }

func (s *Status) Snapshot(nowUTC time.Time) StatusSnapshot {
	start := time.Unix(0, atomic.LoadInt64(&s.startUnixNano)).UTC()
	out := StatusSnapshot{
		Service:   "gpsmixer",
		NowUTC:    nowUTC.Format(time.RFC3339Nano),
		UptimeSec: int64(nowUTC.Sub(start).Seconds()),
		Static:    s.static.Load().(StaticInfo),
	}
	if s.mixerFn != nil {
		m := s.mixerFn()
		out.Mixer = &m
	}
	if s.telemetryFn != nil {
		t := s.telemetryFn()
		out.Telemetry = &t
	}
	return out
}
