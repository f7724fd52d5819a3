// Package telemetry mirrors the fused fix to an MQTT broker as JSON.
package telemetry

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/tevino/abool/v2"

	"gpsmixer/internal/fusion"
)

type Config struct {
	Broker   string
	Topic    string
	ClientID string
	// Interval is the minimum spacing between publishes.
	Interval time.Duration
}

// Client is the subset of mqtt.Client the publisher uses.
type Client interface {
	Connect() mqtt.Token
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

var newClientFn = func(opts *mqtt.ClientOptions) Client { return mqtt.NewClient(opts) }

var tokenTimeout = 5 * time.Second

// connectRetryInterval spaces connect attempts while the broker is unreachable.
var connectRetryInterval = 5 * time.Second

// Message is the JSON document published per fix.
type Message struct {
	TimeUTC string     `json:"time_utc"`
	Fix     fusion.Fix `json:"fix"`
}

type Snapshot struct {
	Broker    string `json:"broker"`
	Topic     string `json:"topic"`
	Connected bool   `json:"connected"`
	Published uint64 `json:"published"`
	Errors    uint64 `json:"errors"`
	LastError string `json:"last_error,omitempty"`
}

type Publisher struct {
	cfg    Config
	client Client

	connected *abool.AtomicBool
	last      time.Time

	published atomic.Uint64
	errors    atomic.Uint64

	mu        sync.Mutex
	lastErr   string
	wg        sync.WaitGroup
	done      chan struct{}
	closeOnce sync.Once
}

func New(cfg Config) *Publisher {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(connectRetryInterval).
		SetConnectTimeout(tokenTimeout)
	p := &Publisher{cfg: cfg, connected: abool.New(), done: make(chan struct{})}
	opts.SetOnConnectHandler(func(mqtt.Client) {
		p.connected.Set()
		log.Printf("telemetry mqtt connected broker=%s", cfg.Broker)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		p.connected.UnSet()
		p.setError(fmt.Sprintf("telemetry mqtt connection lost broker=%s: %v", cfg.Broker, err))
	})
	p.client = newClientFn(opts)
	return p
}

// Connect dials the broker and waits up to tokenTimeout for the first attempt.
// When that attempt fails or is still pending, the error is returned and
// connecting continues in the background until it succeeds or Close is called.
func (p *Publisher) Connect() error {
	tok := p.client.Connect()
	select {
	case <-tok.Done():
		if err := tok.Error(); err != nil {
			p.startRetry(tok)
			return fmt.Errorf("mqtt connect to %s: %w", p.cfg.Broker, err)
		}
		p.connected.Set()
		return nil
	case <-time.After(tokenTimeout):
		p.startRetry(tok)
		return fmt.Errorf("mqtt connect to %s timed out", p.cfg.Broker)
	}
}

func (p *Publisher) startRetry(pending mqtt.Token) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.retryConnect(pending)
	}()
}

// retryConnect waits on the pending token and dials again after each failure.
// The client retries dial errors itself; this loop covers refusals it reports.
func (p *Publisher) retryConnect(tok mqtt.Token) {
	for {
		select {
		case <-p.done:
			return
		case <-tok.Done():
		}
		err := tok.Error()
		if err == nil {
			p.connected.Set()
			log.Printf("telemetry mqtt connected broker=%s", p.cfg.Broker)
			return
		}
		p.setError(fmt.Sprintf("telemetry mqtt connect failed broker=%s: %v", p.cfg.Broker, err))
		select {
		case <-p.done:
			return
		case <-time.After(connectRetryInterval):
		}
		tok = p.client.Connect()
	}
}

// Publish sends the fix unless the previous publish is less than Interval old.
// It never blocks the caller on the broker.
func (p *Publisher) Publish(now time.Time, fix fusion.Fix) bool {
	if !p.last.IsZero() && now.Sub(p.last) < p.cfg.Interval {
		return false
	}
	p.last = now

	payload, err := json.Marshal(Message{TimeUTC: now.UTC().Format(time.RFC3339Nano), Fix: fix})
	if err != nil {
		p.errors.Add(1)
		p.setError(fmt.Sprintf("telemetry marshal failed: %v", err))
		return false
	}
	tok := p.client.Publish(p.cfg.Topic, 0, true, payload)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		if !tok.WaitTimeout(tokenTimeout) {
			p.errors.Add(1)
			p.setError(fmt.Sprintf("telemetry publish timed out topic=%s", p.cfg.Topic))
			return
		}
		if err := tok.Error(); err != nil {
			p.errors.Add(1)
			p.setError(fmt.Sprintf("telemetry publish failed topic=%s: %v", p.cfg.Topic, err))
			return
		}
		p.published.Add(1)
	}()
	return true
}

func (p *Publisher) Snapshot() Snapshot {
	p.mu.Lock()
	lastErr := p.lastErr
	p.mu.Unlock()
	return Snapshot{
		Broker:    p.cfg.Broker,
		Topic:     p.cfg.Topic,
		Connected: p.connected.IsSet(),
		Published: p.published.Load(),
		Errors:    p.errors.Load(),
		LastError: lastErr,
	}
}

func (p *Publisher) Close() {
	p.closeOnce.Do(func() { close(p.done) })
	p.wg.Wait()
	p.client.Disconnect(250)
	p.connected.UnSet()
}

func (p *Publisher) setError(msg string) {
	p.mu.Lock()
	changed := p.lastErr != msg
	p.lastErr = msg
	p.mu.Unlock()
	if changed {
		log.Print(msg)
	}
}
