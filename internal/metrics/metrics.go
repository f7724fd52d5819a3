// Package metrics exposes mixer counters to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "gpsmixer"

// ReceiverSample is one receiver's counters at scrape time.
type ReceiverSample struct {
	Name           string
	Working        bool
	Connected      bool
	BytesRead      uint64
	DroppedChunks  uint64
	Sentences      uint64
	ChecksumErrors uint64
	Overflows      uint64
	ParseErrors    uint64
}

// Sample is read once per scrape.
type Sample struct {
	Receivers      []ReceiverSample
	WorkingCount   int
	Smoothing      bool
	SpreadM        float64
	HDOP           float64
	FramesSent     uint64
	SendErrors     uint64
	Commands       uint64
	FrameCRCErrors uint64
}

// Metrics owns a private registry so tests and the binary never share
// global state.
type Metrics struct {
	Registry *prometheus.Registry

	TickSeconds prometheus.Histogram
}

func New(sample func() Sample) *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		TickSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tick_seconds",
			Help:      "Time spent in one mixer tick.",
			Buckets:   []float64{.0001, .0005, .001, .005, .01, .05},
		}),
	}
	reg.MustRegister(m.TickSeconds)
	if sample != nil {
		reg.MustRegister(newCollector(sample))
	}
	return m
}

func (m *Metrics) ObserveTick(d time.Duration) {
	if m == nil {
		return
	}
	m.TickSeconds.Observe(d.Seconds())
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

type collector struct {
	sample func() Sample

	working        *prometheus.Desc
	connected      *prometheus.Desc
	bytesRead      *prometheus.Desc
	dropped        *prometheus.Desc
	sentences      *prometheus.Desc
	checksumErrors *prometheus.Desc
	overflows      *prometheus.Desc
	parseErrors    *prometheus.Desc

	workingCount *prometheus.Desc
	smoothing    *prometheus.Desc
	spread       *prometheus.Desc
	hdop         *prometheus.Desc
	framesSent   *prometheus.Desc
	sendErrors   *prometheus.Desc
	commands     *prometheus.Desc
	frameCRC     *prometheus.Desc
}

func newCollector(sample func() Sample) *collector {
	rx := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "receiver", name), help, []string{"receiver"}, nil)
	}
	top := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, nil, nil)
	}
	return &collector{
		sample:         sample,
		working:        rx("working", "1 while the receiver contributes to the fused fix."),
		connected:      rx("connected", "1 while the receiver port is open."),
		bytesRead:      rx("bytes_read_total", "Bytes read from the receiver."),
		dropped:        rx("dropped_chunks_total", "Read chunks dropped because the mixer fell behind."),
		sentences:      rx("sentences_total", "Checksum-valid NMEA sentences."),
		checksumErrors: rx("checksum_errors_total", "NMEA sentences with a bad checksum."),
		overflows:      rx("overflows_total", "NMEA sentences longer than the line buffer."),
		parseErrors:    rx("parse_errors_total", "GGA/VTG sentences whose fields failed to parse."),
		workingCount:   top("working_receivers", "Receivers contributing to the fused fix."),
		smoothing:      top("smoothing", "1 while a receiver-set change is being blended in."),
		spread:         top("receiver_spread_meters", "Largest distance of a receiver from the mean position."),
		hdop:           top("hdop", "Fused HDOP."),
		framesSent:     top("frames_sent_total", "Fix frames sent to the controller."),
		sendErrors:     top("send_errors_total", "Failed frame sends."),
		commands:       top("commands_total", "Host command frames received."),
		frameCRC:       top("command_checksum_errors_total", "Host command frames dropped on checksum mismatch."),
	}
}

func (c *collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.working, c.connected, c.bytesRead, c.dropped, c.sentences, c.checksumErrors, c.overflows, c.parseErrors,
		c.workingCount, c.smoothing, c.spread, c.hdop, c.framesSent, c.sendErrors, c.commands, c.frameCRC,
	} {
		ch <- d
	}
}

func (c *collector) Collect(ch chan<- prometheus.Metric) {
	s := c.sample()
	for _, r := range s.Receivers {
		ch <- prometheus.MustNewConstMetric(c.working, prometheus.GaugeValue, boolf(r.Working), r.Name)
		ch <- prometheus.MustNewConstMetric(c.connected, prometheus.GaugeValue, boolf(r.Connected), r.Name)
		ch <- prometheus.MustNewConstMetric(c.bytesRead, prometheus.CounterValue, float64(r.BytesRead), r.Name)
		ch <- prometheus.MustNewConstMetric(c.dropped, prometheus.CounterValue, float64(r.DroppedChunks), r.Name)
		ch <- prometheus.MustNewConstMetric(c.sentences, prometheus.CounterValue, float64(r.Sentences), r.Name)
		ch <- prometheus.MustNewConstMetric(c.checksumErrors, prometheus.CounterValue, float64(r.ChecksumErrors), r.Name)
		ch <- prometheus.MustNewConstMetric(c.overflows, prometheus.CounterValue, float64(r.Overflows), r.Name)
		ch <- prometheus.MustNewConstMetric(c.parseErrors, prometheus.CounterValue, float64(r.ParseErrors), r.Name)
	}
	ch <- prometheus.MustNewConstMetric(c.workingCount, prometheus.GaugeValue, float64(s.WorkingCount))
	ch <- prometheus.MustNewConstMetric(c.smoothing, prometheus.GaugeValue, boolf(s.Smoothing))
	ch <- prometheus.MustNewConstMetric(c.spread, prometheus.GaugeValue, s.SpreadM)
	ch <- prometheus.MustNewConstMetric(c.hdop, prometheus.GaugeValue, s.HDOP)
	ch <- prometheus.MustNewConstMetric(c.framesSent, prometheus.CounterValue, float64(s.FramesSent))
	ch <- prometheus.MustNewConstMetric(c.sendErrors, prometheus.CounterValue, float64(s.SendErrors))
	ch <- prometheus.MustNewConstMetric(c.commands, prometheus.CounterValue, float64(s.Commands))
	ch <- prometheus.MustNewConstMetric(c.frameCRC, prometheus.CounterValue, float64(s.FrameCRCErrors))
}

func boolf(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
