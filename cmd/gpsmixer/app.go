package main

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"gpsmixer/internal/config"
	"gpsmixer/internal/fusion"
	"gpsmixer/internal/gps"
	"gpsmixer/internal/led"
	"gpsmixer/internal/link"
	"gpsmixer/internal/metrics"
	"gpsmixer/internal/mixer"
	"gpsmixer/internal/replay"
	"gpsmixer/internal/telemetry"
	"gpsmixer/internal/web"
)

var (
	openLinkFn = link.Open
	openLEDFn  = led.Open
)

const summaryEvery = 30 * time.Second

type app struct {
	cfg config.Config

	ports  []*gps.Port
	out    *link.Link
	led    *led.Signal
	pub    *telemetry.Publisher
	rec    *replay.Writer
	mixer  *mixer.Mixer
	status *web.Status
	logs   *web.LogBuffer
	met    *metrics.Metrics
}

func mixerConfig(cfg config.Config) mixer.Config {
	return mixer.Config{
		Interval: cfg.Fusion.Interval,
		Fusion: fusion.Config{
			CorrectionTerm:     cfg.Fusion.CorrectionTerm,
			ConvergeEpsilonDeg: cfg.Fusion.ConvergeEpsilonDeg,
			ReceiverTimeout:    cfg.Fusion.ReceiverTimeout,
		},
		OnRequest:    cfg.Output.Mode == "on_request",
		SummaryEvery: summaryEvery,
	}
}

func linkConfig(o config.OutputConfig) link.Config {
	return link.Config{Transport: o.Transport, Dest: o.Dest, Listen: o.Listen, Device: o.Device, Baud: o.Baud}
}

func newApp(ctx context.Context, cfg config.Config, configPath string, logs *web.LogBuffer) (*app, error) {
	if err := config.DefaultAndValidate(&cfg); err != nil {
		return nil, err
	}
	r := &app{cfg: cfg, logs: logs, status: web.NewStatus()}

	t, err := openLinkFn(linkConfig(cfg.Output))
	if err != nil {
		return nil, fmt.Errorf("output link init failed: %w", err)
	}
	r.out = link.New(t)
	if err := r.out.Start(ctx); err != nil {
		r.Close()
		return nil, err
	}

	sources := make([]mixer.Source, 0, len(cfg.Receivers))
	for _, rc := range cfg.Receivers {
		p := gps.NewPort(gps.PortConfig{
			Name:      rc.Name,
			Device:    rc.Device,
			Baud:      rc.Baud,
			Configure: rc.Configure,
			NavRateHz: rc.NavRateHz,
		})
		if err := p.Start(ctx); err != nil {
			r.Close()
			return nil, err
		}
		r.ports = append(r.ports, p)
		sources = append(sources, p)
	}

	var drv led.Driver = led.NoopDriver{}
	if cfg.LED.Enable {
		d, err := openLEDFn(cfg.LED.Pin)
		if err != nil {
			// Keep mixing without the LED.
			log.Printf("led init failed pin=%d: %v", cfg.LED.Pin, err)
		} else {
			drv = d
		}
	}
	r.led = led.New(drv, cfg.LED.Cycle)

	if cfg.MQTT.Enable {
		r.pub = telemetry.New(telemetry.Config{
			Broker:   cfg.MQTT.Broker,
			Topic:    cfg.MQTT.Topic,
			ClientID: cfg.MQTT.ClientID,
			Interval: cfg.MQTT.Interval,
		})
		if err := r.pub.Connect(); err != nil {
			log.Printf("telemetry connect failed (will retry): %v", err)
		}
	}

	if cfg.Record.Enable {
		w, err := replay.CreateWriter(cfg.Record.Path)
		if err != nil {
			r.Close()
			return nil, fmt.Errorf("record init failed: %w", err)
		}
		r.rec = w
		log.Printf("recording frames path=%s", cfg.Record.Path)
	}

	deps := mixer.Deps{Sources: sources, Out: r.out, LED: r.led}
	if r.pub != nil {
		deps.Publisher = r.pub
	}
	if r.rec != nil {
		deps.Recorder = r.rec
	}
	var m *mixer.Mixer
	r.met = metrics.New(func() metrics.Sample { return m.MetricsSample() })
	deps.Metrics = r.met
	m, err = mixer.New(mixerConfig(cfg), deps)
	if err != nil {
		r.Close()
		return nil, err
	}
	r.mixer = m

	r.status.SetStatic(web.StaticInfo{
		ConfigPath: configPath,
		Output:     t.String(),
		Mode:       cfg.Output.Mode,
		Interval:   cfg.Fusion.Interval.String(),
	})
	r.status.SetMixer(m.Snapshot)
	if r.pub != nil {
		r.status.SetTelemetry(r.pub.Snapshot)
	}
	return r, nil
}

// Run blocks until ctx is done.
func (r *app) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	if r.cfg.Web.Listen != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h := web.Handler(r.status, r.logs, r.met.Handler())
			if err := web.Serve(ctx, r.cfg.Web.Listen, h); err != nil {
				log.Printf("web server stopped: %v", err)
			}
		}()
	}
	err := r.mixer.Run(ctx)
	wg.Wait()
	return err
}

func (r *app) Close() {
	for _, p := range r.ports {
		p.Close()
	}
	if r.out != nil {
		_ = r.out.Close()
	}
	if r.led != nil {
		_ = r.led.Close()
	}
	if r.pub != nil {
		r.pub.Close()
	}
	if r.rec != nil {
		if err := r.rec.Close(); err != nil {
			log.Printf("record close failed: %v", err)
		}
	}
}
