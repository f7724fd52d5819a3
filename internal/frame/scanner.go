package frame

import "errors"

// ScannerCapacity bounds one buffered frame.
const ScannerCapacity = 100

type ScannerStats struct {
	Frames         uint64 `json:"frames"`
	ChecksumErrors uint64 `json:"checksum_errors"`
	LengthErrors   uint64 `json:"length_errors"`
	Overflows      uint64 `json:"overflows"`
}

// Scanner finds frames in a byte stream by looking for the suffix pair.
// It keeps a fixed positional buffer and a one-byte lookback and never blocks.
type Scanner struct {
	// PayloadLen, when non-zero, rejects frames with a different payload size.
	PayloadLen int

	buf   [ScannerCapacity]byte
	pos   int
	prev  byte
	stats ScannerStats
}

func NewScanner(payloadLen int) *Scanner {
	return &Scanner{PayloadLen: payloadLen}
}

// Push consumes one byte. When b completes a checksum-valid frame the payload
// is returned; it is a copy owned by the caller.
func (s *Scanner) Push(b byte) ([]byte, bool) {
	if s.pos >= len(s.buf) {
		s.stats.Overflows++
		s.pos = 0
	}
	s.buf[s.pos] = b
	s.pos++

	if s.prev != Suffix1 || b != Suffix2 {
		s.prev = b
		return nil, false
	}

	frame := s.buf[:s.pos]
	s.pos = 0
	s.prev = 0

	if s.PayloadLen > 0 && len(frame) != s.PayloadLen+Overhead {
		s.stats.LengthErrors++
		return nil, false
	}
	p, err := Open(frame)
	if err != nil {
		if errors.Is(err, ErrChecksum) {
			s.stats.ChecksumErrors++
		} else {
			s.stats.LengthErrors++
		}
		return nil, false
	}
	s.stats.Frames++
	return append([]byte(nil), p...), true
}

// Write feeds p and calls fn for every accepted payload.
func (s *Scanner) Write(p []byte, fn func([]byte)) int {
	n := 0
	for _, b := range p {
		if payload, ok := s.Push(b); ok {
			n++
			if fn != nil {
				fn(payload)
			}
		}
	}
	return n
}

func (s *Scanner) Stats() ScannerStats { return s.stats }
