package telemetry

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"gpsmixer/internal/fusion"
)

type fakeToken struct {
	err error
}

func (t *fakeToken) Wait() bool                     { return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Done() <-chan struct{}          { ch := make(chan struct{}); close(ch); return ch }
func (t *fakeToken) Error() error                   { return t.err }

type published struct {
	topic    string
	retained bool
	payload  []byte
}

type fakeClient struct {
	mu           sync.Mutex
	connectErr   error
	connectErrs  []error
	connects     int
	publishErr   error
	pubs         []published
	disconnected bool
}

// Connect fails with connectErrs in order, then with connectErr.
func (c *fakeClient) Connect() mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connects++
	if len(c.connectErrs) > 0 {
		err := c.connectErrs[0]
		c.connectErrs = c.connectErrs[1:]
		return &fakeToken{err: err}
	}
	return &fakeToken{err: c.connectErr}
}

func (c *fakeClient) Connects() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connects
}

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pubs = append(c.pubs, published{topic: topic, retained: retained, payload: payload.([]byte)})
	return &fakeToken{err: c.publishErr}
}

func (c *fakeClient) Disconnect(uint) { c.disconnected = true }

func withFakeClient(t *testing.T, fc *fakeClient) {
	t.Helper()
	prev := newClientFn
	newClientFn = func(*mqtt.ClientOptions) Client { return fc }
	t.Cleanup(func() { newClientFn = prev })
}

func TestPublisherPublishesJSON(t *testing.T) {
	fc := &fakeClient{}
	withFakeClient(t, fc)

	p := New(Config{Broker: "tcp://b:1883", Topic: "gpsmixer/fix", ClientID: "x", Interval: time.Second})
	if err := p.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	now := time.Unix(100, 0)
	if !p.Publish(now, fusion.Fix{LatDeg: 1.5, ReceiverCount: 2}) {
		t.Fatalf("first publish skipped")
	}
	if p.Publish(now.Add(500*time.Millisecond), fusion.Fix{}) {
		t.Fatalf("publish inside interval should be skipped")
	}
	if !p.Publish(now.Add(time.Second), fusion.Fix{}) {
		t.Fatalf("publish after interval skipped")
	}
	p.Close()

	if len(fc.pubs) != 2 || fc.pubs[0].topic != "gpsmixer/fix" || !fc.pubs[0].retained {
		t.Fatalf("pubs=%+v", fc.pubs)
	}
	var msg Message
	if err := json.Unmarshal(fc.pubs[0].payload, &msg); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if msg.Fix.LatDeg != 1.5 || msg.Fix.ReceiverCount != 2 {
		t.Fatalf("msg=%+v", msg)
	}
	if s := p.Snapshot(); s.Published != 2 || s.Errors != 0 {
		t.Fatalf("snapshot=%+v", s)
	}
	if !fc.disconnected {
		t.Fatalf("Close did not disconnect")
	}
}

func TestPublisherCountsErrors(t *testing.T) {
	fc := &fakeClient{publishErr: errors.New("not connected")}
	withFakeClient(t, fc)

	p := New(Config{Broker: "tcp://b:1883", Topic: "t"})
	p.Publish(time.Unix(1, 0), fusion.Fix{})
	p.Close()

	if s := p.Snapshot(); s.Errors != 1 || s.LastError == "" {
		t.Fatalf("snapshot=%+v", s)
	}
}

func withRetryInterval(t *testing.T, d time.Duration) {
	t.Helper()
	prev := connectRetryInterval
	connectRetryInterval = d
	t.Cleanup(func() { connectRetryInterval = prev })
}

func TestPublisherConnectError(t *testing.T) {
	withRetryInterval(t, time.Hour)
	fc := &fakeClient{connectErr: errors.New("refused")}
	withFakeClient(t, fc)

	p := New(Config{Broker: "tcp://b:1883", Topic: "t"})
	if err := p.Connect(); err == nil {
		t.Fatalf("expected connect error")
	}
	p.Close()
	if p.Snapshot().Connected {
		t.Fatalf("connected after refused connect")
	}
}

func TestPublisherRetriesFailedFirstConnect(t *testing.T) {
	withRetryInterval(t, time.Millisecond)
	fc := &fakeClient{connectErrs: []error{errors.New("refused"), errors.New("refused")}}
	withFakeClient(t, fc)

	p := New(Config{Broker: "tcp://b:1883", Topic: "t"})
	defer p.Close()
	if err := p.Connect(); err == nil {
		t.Fatalf("expected first connect to fail")
	}

	deadline := time.Now().Add(2 * time.Second)
	for !p.Snapshot().Connected {
		if time.Now().After(deadline) {
			t.Fatalf("never connected after broker came up; attempts=%d", fc.Connects())
		}
		time.Sleep(5 * time.Millisecond)
	}
	if n := fc.Connects(); n != 3 {
		t.Fatalf("connect attempts=%d want 3", n)
	}
}
