// Package replay records link frames to a text log and plays them back.
//
// Log format, one record per line:
//
//	START                  resets the time origin
//	<t_ns>,<dir>,<hex>     t_ns since START, dir is tx or rx
//
// Blank lines and lines starting with '#' are ignored.
package replay

import (
	"bufio"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

type Direction string

const (
	// TX frames went from the mixer to the controller.
	TX Direction = "tx"
	// RX frames came from the controller.
	RX Direction = "rx"
)

// Record is one log line. Frame is nil for START markers.
type Record struct {
	At    time.Duration
	Dir   Direction
	Frame []byte
}

func ReadAll(r io.Reader) ([]Record, error) {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 4*1024), 64*1024)

	var recs []Record
	lineNo := 0
	for s.Scan() {
		lineNo++
		line := strings.TrimSpace(s.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if line == "START" {
			recs = append(recs, Record{})
			continue
		}
		rec, err := parseLine(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		recs = append(recs, rec)
	}
	if err := s.Err(); err != nil {
		return nil, err
	}
	return recs, nil
}

func ReadFile(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadAll(f)
}

func parseLine(line string) (Record, error) {
	parts := strings.SplitN(line, ",", 3)
	if len(parts) != 3 {
		return Record{}, fmt.Errorf("want <t_ns>,<dir>,<hex>: %q", line)
	}
	tsNs, err := strconv.ParseInt(strings.TrimSpace(parts[0]), 10, 64)
	if err != nil {
		return Record{}, fmt.Errorf("timestamp %q: %w", parts[0], err)
	}
	if tsNs < 0 {
		return Record{}, fmt.Errorf("negative timestamp %d", tsNs)
	}
	dir := Direction(strings.ToLower(strings.TrimSpace(parts[1])))
	if dir != TX && dir != RX {
		return Record{}, fmt.Errorf("direction %q", parts[1])
	}
	b, err := hex.DecodeString(strings.ReplaceAll(strings.TrimSpace(parts[2]), " ", ""))
	if err != nil {
		return Record{}, fmt.Errorf("hex: %w", err)
	}
	if len(b) == 0 {
		return Record{}, errors.New("empty frame")
	}
	return Record{At: time.Duration(tsNs), Dir: dir, Frame: b}, nil
}

// Writer appends frames to a log. It is safe for concurrent use.
type Writer struct {
	mu     sync.Mutex
	f      *os.File
	w      *bufio.Writer
	start  time.Time
	closed bool
}

func CreateWriter(path string) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	bw := bufio.NewWriterSize(f, 16*1024)
	if _, err := bw.WriteString("START\n"); err != nil {
		_ = f.Close()
		return nil, err
	}
	return &Writer{f: f, w: bw, start: time.Now()}, nil
}

func (ww *Writer) Write(now time.Time, dir Direction, frame []byte) error {
	ww.mu.Lock()
	defer ww.mu.Unlock()
	if ww.closed {
		return errors.New("frame log is closed")
	}
	if len(frame) == 0 {
		return errors.New("frame is empty")
	}
	d := now.Sub(ww.start)
	if d < 0 {
		d = 0
	}
	_, err := fmt.Fprintf(ww.w, "%d,%s,%s\n", d.Nanoseconds(), dir, hex.EncodeToString(frame))
	return err
}

func (ww *Writer) Flush() error {
	ww.mu.Lock()
	defer ww.mu.Unlock()
	if ww.closed {
		return nil
	}
	return ww.w.Flush()
}

func (ww *Writer) Close() error {
	ww.mu.Lock()
	defer ww.mu.Unlock()
	if ww.closed {
		return nil
	}
	ww.closed = true
	if err := ww.w.Flush(); err != nil {
		_ = ww.f.Close()
		return err
	}
	return ww.f.Close()
}

type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

type realSleeper struct{}

func (realSleeper) Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Play calls cb for every record in dir with the recorded spacing divided by
// speed. START markers reset the origin.
func Play(ctx context.Context, records []Record, dir Direction, speed float64, sleeper Sleeper, cb func(Record) error) error {
	if speed <= 0 {
		return fmt.Errorf("speed must be > 0")
	}
	if cb == nil {
		return errors.New("callback is nil")
	}
	if sleeper == nil {
		sleeper = realSleeper{}
	}

	var lastAt time.Duration
	haveLast := false
	for _, r := range records {
		if r.Frame == nil {
			haveLast = false
			continue
		}
		if dir != "" && r.Dir != dir {
			continue
		}
		if haveLast {
			if wait := time.Duration(float64(r.At-lastAt) / speed); wait > 0 {
				if err := sleeper.Sleep(ctx, wait); err != nil {
					return err
				}
			}
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := cb(r); err != nil {
			return err
		}
		lastAt = r.At
		haveLast = true
	}
	return nil
}
