package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestHandlerExposesSample(t *testing.T) {
	m := New(func() Sample {
		return Sample{
			Receivers: []ReceiverSample{
				{Name: "left", Working: true, Sentences: 42, ChecksumErrors: 1},
				{Name: "right"},
			},
			WorkingCount: 1,
			FramesSent:   7,
			HDOP:         0.9,
		}
	})
	m.ObserveTick(time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	text := string(body)

	for _, want := range []string{
		`gpsmixer_receiver_sentences_total{receiver="left"} 42`,
		`gpsmixer_receiver_checksum_errors_total{receiver="left"} 1`,
		`gpsmixer_receiver_working{receiver="right"} 0`,
		`gpsmixer_working_receivers 1`,
		`gpsmixer_frames_sent_total 7`,
		`gpsmixer_tick_seconds_count 1`,
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("missing %q in:\n%s", want, text)
		}
	}
}

func TestNilMetricsIgnoresTicks(t *testing.T) {
	var m *Metrics
	m.ObserveTick(time.Second)
}
