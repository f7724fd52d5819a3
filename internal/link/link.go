package link

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tevino/abool/v2"

	"gpsmixer/internal/frame"
)

type Snapshot struct {
	Transport     string             `json:"transport"`
	FramesSent    uint64             `json:"frames_sent"`
	SendErrors    uint64             `json:"send_errors"`
	Commands      uint64             `json:"commands"`
	DroppedCmds   uint64             `json:"dropped_commands"`
	Scanner       frame.ScannerStats `json:"scanner"`
	LastCommand   *frame.Command     `json:"last_command,omitempty"`
	LastCommandAt string             `json:"last_command_utc,omitempty"`
	LastError     string             `json:"last_error,omitempty"`
}

// Link owns a Transport: the mixer sends frames on it and a reader goroutine
// turns inbound bytes into host commands.
type Link struct {
	t Transport

	running  *abool.AtomicBool
	commands chan frame.Command

	sent       atomic.Uint64
	sendErrors atomic.Uint64
	cmdCount   atomic.Uint64
	cmdDropped atomic.Uint64

	mu        sync.Mutex
	scanner   *frame.Scanner
	lastCmd   *frame.Command
	lastCmdAt time.Time
	lastErr   string

	wg sync.WaitGroup
}

func New(t Transport) *Link {
	return &Link{
		t:        t,
		running:  abool.New(),
		commands: make(chan frame.Command, 8),
		scanner:  frame.NewScanner(frame.CommandPayloadLen),
	}
}

// Start launches the command reader.
func (l *Link) Start(ctx context.Context) error {
	if l == nil || l.t == nil {
		return fmt.Errorf("link transport is nil")
	}
	if !l.running.SetToIf(false, true) {
		return nil
	}
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		l.readLoop(ctx)
	}()
	return nil
}

func (l *Link) readLoop(ctx context.Context) {
	buf := make([]byte, 256)
	for l.running.IsSet() && ctx.Err() == nil {
		n, err := l.t.Read(buf)
		if n > 0 {
			l.consume(buf[:n])
		}
		if err == nil {
			continue
		}
		if !l.running.IsSet() || errors.Is(err, net.ErrClosed) {
			return
		}
		l.setError(fmt.Sprintf("link read failed transport=%s: %v", l.t, err))
		select {
		case <-ctx.Done():
			return
		case <-time.After(100 * time.Millisecond):
		}
	}
}

func (l *Link) consume(p []byte) {
	l.mu.Lock()
	var cmds []frame.Command
	l.scanner.Write(p, func(payload []byte) {
		c, err := frame.ParseCommandPayload(payload)
		if err != nil {
			return
		}
		cmds = append(cmds, c)
	})
	if len(cmds) > 0 {
		last := cmds[len(cmds)-1]
		l.lastCmd = &last
		l.lastCmdAt = time.Now().UTC()
	}
	l.mu.Unlock()

	for _, c := range cmds {
		l.cmdCount.Add(1)
		select {
		case l.commands <- c:
		default:
			l.cmdDropped.Add(1)
		}
	}
}

// Commands delivers decoded host commands. Commands arriving while the
// channel is full are dropped and counted.
func (l *Link) Commands() <-chan frame.Command { return l.commands }

// Send transmits one frame. Errors are counted and returned; the link stays
// usable.
func (l *Link) Send(p []byte) error {
	if err := l.t.Send(p); err != nil {
		l.sendErrors.Add(1)
		l.setError(fmt.Sprintf("link send failed transport=%s: %v", l.t, err))
		return err
	}
	l.sent.Add(1)
	return nil
}

func (l *Link) Snapshot() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	s := Snapshot{
		Transport:   l.t.String(),
		FramesSent:  l.sent.Load(),
		SendErrors:  l.sendErrors.Load(),
		Commands:    l.cmdCount.Load(),
		DroppedCmds: l.cmdDropped.Load(),
		Scanner:     l.scanner.Stats(),
		LastError:   l.lastErr,
	}
	if l.lastCmd != nil {
		c := *l.lastCmd
		s.LastCommand = &c
		s.LastCommandAt = l.lastCmdAt.Format(time.RFC3339Nano)
	}
	return s
}

func (l *Link) Close() error {
	if l == nil || l.t == nil {
		return nil
	}
	l.running.UnSet()
	err := l.t.Close()
	l.wg.Wait()
	return err
}

func (l *Link) setError(msg string) {
	l.mu.Lock()
	changed := l.lastErr != msg
	l.lastErr = msg
	l.mu.Unlock()
	if changed {
		log.Print(msg)
	}
}
