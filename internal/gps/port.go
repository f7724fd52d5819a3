package gps

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tevino/abool/v2"
	"go.uber.org/ratelimit"
)

// PortConfig describes one receiver input.
//
// Device is either a serial device path (/dev/ttyUSB0) or tcp://host:port for
// NMEA served over TCP (bench feeds, simulators, ser2net).
type PortConfig struct {
	Name      string
	Device    string
	Baud      int
	Configure bool
	NavRateHz int

	// QueueChunks bounds how many unread chunks are buffered between the
	// reader goroutine and the mixer tick.
	QueueChunks int
}

type PortSnapshot struct {
	Name          string `json:"name"`
	Device        string `json:"device"`
	Baud          int    `json:"baud,omitempty"`
	Connected     bool   `json:"connected"`
	BytesRead     uint64 `json:"bytes_read"`
	DroppedChunks uint64 `json:"dropped_chunks"`
	Reconnects    uint64 `json:"reconnects"`
	LastReadUTC   string `json:"last_read_utc,omitempty"`
	LastError     string `json:"last_error,omitempty"`
}

var openPortFn = openPort

// configCommandsPerSecond paces UBX writes; some receivers drop commands that
// arrive back to back.
var configCommandsPerSecond = 10

const (
	reconnectInitial = 250 * time.Millisecond
	reconnectMax     = 10 * time.Second
)

type Port struct {
	cfg PortConfig

	chunks    chan []byte
	connected *abool.AtomicBool

	bytesRead    atomic.Uint64
	dropped      atomic.Uint64
	reconnects   atomic.Uint64
	lastReadNano atomic.Int64

	mu      sync.Mutex
	lastErr string
	closer  io.Closer
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewPort(cfg PortConfig) *Port {
	if cfg.Baud == 0 && !isTCPDevice(cfg.Device) {
		cfg.Baud = 9600
	}
	if cfg.QueueChunks <= 0 {
		cfg.QueueChunks = 64
	}
	return &Port{
		cfg:       cfg,
		chunks:    make(chan []byte, cfg.QueueChunks),
		connected: abool.New(),
	}
}

func (p *Port) Name() string {
	if p == nil {
		return ""
	}
	return p.cfg.Name
}

// Start launches the reader goroutine. It never blocks on the device: open
// failures are retried with backoff in the background.
func (p *Port) Start(ctx context.Context) error {
	if p == nil {
		return fmt.Errorf("gps port is nil")
	}
	if ctx == nil {
		return fmt.Errorf("ctx is nil")
	}
	if strings.TrimSpace(p.cfg.Device) == "" {
		return fmt.Errorf("gps receiver=%s device is required", p.cfg.Name)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return nil
	}
	childCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.run(childCtx)
	}()
	return nil
}

func (p *Port) run(ctx context.Context) {
	backoff := reconnectInitial
	for {
		if ctx.Err() != nil {
			return
		}

		rw, err := openPortFn(p.cfg.Device, p.cfg.Baud)
		if err != nil {
			p.setError(fmt.Sprintf("gps receiver=%s open failed device=%s: %v", p.cfg.Name, p.cfg.Device, err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff < reconnectMax {
				backoff *= 2
			}
			continue
		}
		backoff = reconnectInitial

		p.mu.Lock()
		p.closer = rw
		p.mu.Unlock()
		p.connected.Set()
		log.Printf("gps receiver=%s connected device=%s baud=%d", p.cfg.Name, p.cfg.Device, p.cfg.Baud)

		if p.cfg.Configure {
			if err := writeConfig(rw, p.cfg.NavRateHz); err != nil {
				p.setError(fmt.Sprintf("gps receiver=%s configure failed: %v", p.cfg.Name, err))
			}
		}

		err = p.readLoop(ctx, rw)
		p.connected.UnSet()
		_ = rw.Close()
		p.mu.Lock()
		p.closer = nil
		p.mu.Unlock()

		if ctx.Err() != nil {
			return
		}
		p.reconnects.Add(1)
		p.setError(fmt.Sprintf("gps receiver=%s read stopped: %v", p.cfg.Name, err))
	}
}

func (p *Port) readLoop(ctx context.Context, r io.Reader) error {
	buf := make([]byte, 256)
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		n, err := r.Read(buf)
		if n > 0 {
			chunk := append([]byte(nil), buf[:n]...)
			select {
			case p.chunks <- chunk:
			default:
				// The mixer fell behind; losing bytes only costs sentences.
				p.dropped.Add(1)
			}
			p.lastReadNano.Store(time.Now().UnixNano())
			p.bytesRead.Add(uint64(n))
		}
		if err != nil {
			return err
		}
	}
}

func writeConfig(w io.Writer, navRateHz int) error {
	rl := ratelimit.New(configCommandsPerSecond)
	for _, cmd := range ConfigCommands(navRateHz) {
		rl.Take()
		if _, err := w.Write(cmd); err != nil {
			return err
		}
	}
	return nil
}

// Drain hands every queued chunk to fn without blocking and returns how many
// chunks were delivered. At most one queue's worth is drained per call.
func (p *Port) Drain(fn func([]byte)) int {
	if p == nil {
		return 0
	}
	n := 0
	for n < cap(p.chunks) {
		select {
		case c := <-p.chunks:
			fn(c)
			n++
		default:
			return n
		}
	}
	return n
}

func (p *Port) Close() {
	if p == nil {
		return
	}
	p.mu.Lock()
	cancel := p.cancel
	closer := p.closer
	p.cancel = nil
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if closer != nil {
		_ = closer.Close()
	}
	p.wg.Wait()
}

func (p *Port) Snapshot() PortSnapshot {
	if p == nil {
		return PortSnapshot{}
	}
	p.mu.Lock()
	lastErr := p.lastErr
	p.mu.Unlock()

	out := PortSnapshot{
		Name:          p.cfg.Name,
		Device:        p.cfg.Device,
		Baud:          p.cfg.Baud,
		Connected:     p.connected.IsSet(),
		BytesRead:     p.bytesRead.Load(),
		DroppedChunks: p.dropped.Load(),
		Reconnects:    p.reconnects.Load(),
		LastError:     lastErr,
	}
	if ns := p.lastReadNano.Load(); ns != 0 {
		out.LastReadUTC = time.Unix(0, ns).UTC().Format(time.RFC3339Nano)
	}
	return out
}

func (p *Port) setError(msg string) {
	p.mu.Lock()
	changed := p.lastErr != msg
	p.lastErr = msg
	p.mu.Unlock()
	if changed {
		log.Print(msg)
	}
}

func isTCPDevice(device string) bool {
	return strings.HasPrefix(strings.TrimSpace(device), "tcp://")
}

func openPort(device string, baud int) (io.ReadWriteCloser, error) {
	device = strings.TrimSpace(device)
	if isTCPDevice(device) {
		addr := strings.TrimPrefix(device, "tcp://")
		if addr == "" {
			return nil, errors.New("empty tcp address")
		}
		return net.DialTimeout("tcp", addr, 2*time.Second)
	}
	return openSerial(device, baud)
}
