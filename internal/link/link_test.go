package link

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"gpsmixer/internal/frame"
)

type fakePacketConn struct {
	mu       sync.Mutex
	writes   [][]byte
	addrs    []net.Addr
	writeErr error
	reads    chan []byte
	closed   chan struct{}
	once     sync.Once
}

func newFakePacketConn() *fakePacketConn {
	return &fakePacketConn{reads: make(chan []byte, 8), closed: make(chan struct{})}
}

func (c *fakePacketConn) WriteTo(p []byte, addr net.Addr) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeErr != nil {
		return 0, c.writeErr
	}
	c.writes = append(c.writes, append([]byte(nil), p...))
	c.addrs = append(c.addrs, addr)
	return len(p), nil
}

func (c *fakePacketConn) ReadFrom(p []byte) (int, net.Addr, error) {
	select {
	case b := <-c.reads:
		return copy(p, b), nil, nil
	case <-c.closed:
		return 0, nil, net.ErrClosed
	}
}

func (c *fakePacketConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func newTestUDP(t *testing.T, fc *fakePacketConn) *UDP {
	t.Helper()
	listen := func(network string, laddr *net.UDPAddr) (packetConn, error) { return fc, nil }
	u, err := newUDP("127.0.0.1:4000", "", net.ResolveUDPAddr, listen)
	if err != nil {
		t.Fatalf("newUDP: %v", err)
	}
	return u
}

func TestNewUDPListensAndSendsToDest(t *testing.T) {
	fc := newFakePacketConn()
	var gotLaddr *net.UDPAddr
	listen := func(network string, laddr *net.UDPAddr) (packetConn, error) {
		gotLaddr = laddr
		return fc, nil
	}
	u, err := newUDP("127.0.0.1:4000", "0.0.0.0:4001", net.ResolveUDPAddr, listen)
	if err != nil {
		t.Fatalf("newUDP: %v", err)
	}
	defer u.Close()

	if gotLaddr == nil || gotLaddr.Port != 4001 {
		t.Fatalf("laddr=%v want port 4001", gotLaddr)
	}
	if err := u.Send([]byte{1, 2}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(fc.writes) != 1 || fc.addrs[0].String() != "127.0.0.1:4000" {
		t.Fatalf("writes=%v addrs=%v", fc.writes, fc.addrs)
	}
	if err := u.Send(nil); err != nil || len(fc.writes) != 1 {
		t.Fatalf("empty send wrote or failed: %v", err)
	}
}

func TestNewUDPResolveFailure(t *testing.T) {
	resolveErr := errors.New("nope")
	resolve := func(network, address string) (*net.UDPAddr, error) { return nil, resolveErr }
	listen := func(string, *net.UDPAddr) (packetConn, error) { return newFakePacketConn(), nil }
	if _, err := newUDP("bad", "", resolve, listen); !errors.Is(err, resolveErr) {
		t.Fatalf("err=%v want %v", err, resolveErr)
	}
}

func TestLinkSendCountsErrors(t *testing.T) {
	fc := newFakePacketConn()
	l := New(newTestUDP(t, fc))
	defer l.Close()

	if err := l.Send([]byte{1}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	fc.writeErr = errors.New("unreachable")
	if err := l.Send([]byte{1}); err == nil {
		t.Fatalf("expected send error")
	}
	s := l.Snapshot()
	if s.FramesSent != 1 || s.SendErrors != 1 || s.LastError == "" {
		t.Fatalf("snapshot=%+v", s)
	}
}

func TestLinkReadsCommands(t *testing.T) {
	fc := newFakePacketConn()
	l := New(newTestUDP(t, fc))
	if err := l.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer l.Close()

	raw := frame.EncodeCommand(frame.Command{Status: 2, Backlight: 80, Alignment: 1})
	fc.reads <- raw[:2]
	fc.reads <- raw[2:]

	select {
	case c := <-l.Commands():
		if c.Status != 2 || c.Backlight != 80 || c.Alignment != 1 {
			t.Fatalf("command=%+v", c)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no command received")
	}

	s := l.Snapshot()
	if s.Commands != 1 || s.LastCommand == nil || s.Scanner.Frames != 1 {
		t.Fatalf("snapshot=%+v", s)
	}
}

func TestLinkCloseStopsReader(t *testing.T) {
	fc := newFakePacketConn()
	l := New(newTestUDP(t, fc))
	if err := l.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	done := make(chan struct{})
	go func() {
		_ = l.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Close did not return")
	}
}

func TestOpenSelectsTransport(t *testing.T) {
	prevUDP, prevSerial := openUDPFn, openSerialFn
	t.Cleanup(func() { openUDPFn, openSerialFn = prevUDP, prevSerial })

	var got string
	openUDPFn = func(dest, listen string) (Transport, error) {
		got = "udp " + dest
		return nil, nil
	}
	openSerialFn = func(device string, baud int) (Transport, error) {
		got = "serial " + device
		return nil, nil
	}

	if _, err := Open(Config{Dest: "1.2.3.4:5"}); err != nil || got != "udp 1.2.3.4:5" {
		t.Fatalf("got=%q err=%v", got, err)
	}
	if _, err := Open(Config{Transport: "serial", Device: "/dev/ttyAMA0"}); err != nil || got != "serial /dev/ttyAMA0" {
		t.Fatalf("got=%q err=%v", got, err)
	}
	if _, err := Open(Config{Transport: "can"}); err == nil {
		t.Fatalf("expected error for unknown transport")
	}
}
