// Package mixer runs the tick loop: drain every receiver, fuse, encode, send,
// then update the LED and status.
package mixer

import (
	"context"
	"encoding/hex"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"

	"gpsmixer/internal/frame"
	"gpsmixer/internal/fusion"
	"gpsmixer/internal/gps"
	"gpsmixer/internal/led"
	"gpsmixer/internal/link"
	"gpsmixer/internal/metrics"
	"gpsmixer/internal/replay"
)

// Source is one receiver's byte queue.
type Source interface {
	Name() string
	Drain(fn func([]byte)) int
	Snapshot() gps.PortSnapshot
}

// Sender is the downstream link.
type Sender interface {
	Send(p []byte) error
	Commands() <-chan frame.Command
	Snapshot() link.Snapshot
}

type Publisher interface {
	Publish(now time.Time, fix fusion.Fix) bool
}

type Recorder interface {
	Write(now time.Time, dir replay.Direction, frame []byte) error
}

type Config struct {
	Interval time.Duration
	Fusion   fusion.Config
	// OnRequest sends a fix frame only in ticks that received a host command.
	OnRequest bool
	// SummaryEvery controls the periodic receiver log line; <= 0 disables it.
	SummaryEvery time.Duration
}

type Deps struct {
	Sources   []Source
	Out       Sender
	LED       *led.Signal
	Publisher Publisher
	Recorder  Recorder
	Metrics   *metrics.Metrics
}

type receiver struct {
	src   Source
	dec   gps.Decoder
	state *gps.ReceiverState
}

type Mixer struct {
	cfg  Config
	deps Deps

	receivers []*receiver
	states    []*gps.ReceiverState
	engine    *fusion.Engine

	lastCmd     *frame.Command
	lastFrame   []byte
	lastSummary time.Time
	ticks       uint64

	snap atomic.Value // Snapshot
}

func New(cfg Config, deps Deps) (*Mixer, error) {
	if deps.Out == nil {
		return nil, fmt.Errorf("mixer output is nil")
	}
	if len(deps.Sources) > 3 {
		return nil, fmt.Errorf("mixer supports at most 3 receivers, got %d", len(deps.Sources))
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 50 * time.Millisecond
	}

	m := &Mixer{cfg: cfg, deps: deps, engine: fusion.NewEngine(cfg.Fusion)}
	for _, src := range deps.Sources {
		r := &receiver{src: src, state: gps.NewReceiverState(src.Name())}
		m.receivers = append(m.receivers, r)
		m.states = append(m.states, r.state)
	}
	m.snap.Store(Snapshot{Fix: m.engine.Fix()})
	return m, nil
}

// Run ticks until ctx is cancelled.
func (m *Mixer) Run(ctx context.Context) error {
	t := time.NewTicker(m.cfg.Interval)
	defer t.Stop()

	log.Printf("mixer running receivers=%d interval=%s on_request=%t", len(m.receivers), m.cfg.Interval, m.cfg.OnRequest)
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-t.C:
			m.Step(now)
		}
	}
}

// Step runs one tick. All receivers are drained before fusion runs.
func (m *Mixer) Step(now time.Time) fusion.Fix {
	started := time.Now()
	m.ticks++

	for _, r := range m.receivers {
		r.src.Drain(func(chunk []byte) {
			r.dec.FeedBytes(chunk, func(s gps.Sentence) {
				r.state.Apply(now, s)
			})
		})
	}

	prevCount := m.engine.Fix().ReceiverCount
	fix := m.engine.Tick(now, m.states)
	if fix.ReceiverCountChanged {
		log.Printf("mixer working receivers=%d (was %d) smoothing=%t", fix.ReceiverCount, prevCount, fix.Smoothing)
	}
	for _, r := range m.receivers {
		r.state.TakeFresh()
	}

	requests := m.drainCommands(now)
	if !m.cfg.OnRequest || requests > 0 {
		m.send(now, fix)
	}

	if m.deps.LED != nil {
		m.deps.LED.Update(now, fix.ReceiverCount)
	}
	if m.deps.Publisher != nil && fix.Valid {
		m.deps.Publisher.Publish(now, fix)
	}

	m.publishSnapshot(now, fix)
	m.maybeLogSummary(now)
	m.deps.Metrics.ObserveTick(time.Since(started))
	return fix
}

func (m *Mixer) drainCommands(now time.Time) int {
	n := 0
	for {
		select {
		case c := <-m.deps.Out.Commands():
			cmd := c
			m.lastCmd = &cmd
			n++
			m.record(now, replay.RX, frame.EncodeCommand(cmd))
		default:
			return n
		}
	}
}

func (m *Mixer) send(now time.Time, fix fusion.Fix) {
	b := frame.EncodeFix(fix)
	m.lastFrame = b
	if err := m.deps.Out.Send(b); err != nil {
		return
	}
	m.record(now, replay.TX, b)
}

func (m *Mixer) record(now time.Time, dir replay.Direction, b []byte) {
	if m.deps.Recorder == nil {
		return
	}
	if err := m.deps.Recorder.Write(now, dir, b); err != nil {
		log.Printf("mixer record failed: %v", err)
		m.deps.Recorder = nil
	}
}

func (m *Mixer) publishSnapshot(now time.Time, fix fusion.Fix) {
	s := Snapshot{
		UpdatedUTC: now.UTC().Format(time.RFC3339Nano),
		Ticks:      m.ticks,
		Fix:        fix,
		Link:       m.deps.Out.Snapshot(),
	}
	if m.lastFrame != nil {
		s.LastFrameHex = hex.EncodeToString(m.lastFrame)
	}
	if m.lastCmd != nil {
		c := *m.lastCmd
		s.LastCommand = &c
	}
	if m.deps.LED != nil {
		st := m.deps.LED.State()
		s.LED = &st
	}
	s.Receivers = make([]ReceiverStatus, 0, len(m.receivers))
	for _, r := range m.receivers {
		rs := ReceiverStatus{
			Name:    r.state.Name,
			Working: r.state.Working,
			Sample:  r.state.Sample,
			Decoder: r.dec.Stats(),
			Port:    r.src.Snapshot(),
		}
		if !r.state.LastUpdate.IsZero() {
			rs.LastUpdateUTC = r.state.LastUpdate.UTC().Format(time.RFC3339Nano)
		}
		s.Receivers = append(s.Receivers, rs)
	}
	m.snap.Store(s)
}

func (m *Mixer) maybeLogSummary(now time.Time) {
	if m.cfg.SummaryEvery <= 0 {
		return
	}
	if m.lastSummary.IsZero() {
		m.lastSummary = now
		return
	}
	if now.Sub(m.lastSummary) < m.cfg.SummaryEvery {
		return
	}
	m.lastSummary = now
	for _, line := range m.Snapshot().SummaryLines() {
		log.Print(line)
	}
}

// Snapshot returns the status published by the last tick. Safe for
// concurrent use.
func (m *Mixer) Snapshot() Snapshot {
	return m.snap.Load().(Snapshot)
}

// MetricsSample adapts the current snapshot for the Prometheus collector.
func (m *Mixer) MetricsSample() metrics.Sample {
	s := m.Snapshot()
	out := metrics.Sample{
		WorkingCount:   s.Fix.ReceiverCount,
		Smoothing:      s.Fix.Smoothing,
		SpreadM:        s.Fix.SpreadM,
		HDOP:           s.Fix.HDOP,
		FramesSent:     s.Link.FramesSent,
		SendErrors:     s.Link.SendErrors,
		Commands:       s.Link.Commands,
		FrameCRCErrors: s.Link.Scanner.ChecksumErrors,
	}
	for _, r := range s.Receivers {
		out.Receivers = append(out.Receivers, metrics.ReceiverSample{
			Name:           r.Name,
			Working:        r.Working,
			Connected:      r.Port.Connected,
			BytesRead:      r.Port.BytesRead,
			DroppedChunks:  r.Port.DroppedChunks,
			Sentences:      r.Decoder.Sentences,
			ChecksumErrors: r.Decoder.ChecksumErrors,
			Overflows:      r.Decoder.Overflows,
			ParseErrors:    r.Decoder.ParseErrors,
		})
	}
	return out
}

type ReceiverStatus struct {
	Name          string           `json:"name"`
	Working       bool             `json:"working"`
	LastUpdateUTC string           `json:"last_update_utc,omitempty"`
	Sample        gps.RawFixSample `json:"sample"`
	Decoder       gps.DecoderStats `json:"decoder"`
	Port          gps.PortSnapshot `json:"port"`
}

type Snapshot struct {
	UpdatedUTC   string           `json:"updated_utc,omitempty"`
	Ticks        uint64           `json:"ticks"`
	Fix          fusion.Fix       `json:"fix"`
	LastFrameHex string           `json:"last_frame_hex,omitempty"`
	LastCommand  *frame.Command   `json:"last_command,omitempty"`
	Receivers    []ReceiverStatus `json:"receivers"`
	Link         link.Snapshot    `json:"link"`
	LED          *led.State       `json:"led,omitempty"`
}

// SummaryLines renders one log line per receiver.
func (s Snapshot) SummaryLines() []string {
	out := make([]string, 0, len(s.Receivers))
	for _, r := range s.Receivers {
		out = append(out, fmt.Sprintf(
			"gps receiver=%s working=%t read=%s sentences=%d checksum_errors=%d overflows=%d dropped_chunks=%d",
			r.Name, r.Working, humanize.Bytes(r.Port.BytesRead), r.Decoder.Sentences,
			r.Decoder.ChecksumErrors, r.Decoder.Overflows, r.Port.DroppedChunks,
		))
	}
	return out
}
