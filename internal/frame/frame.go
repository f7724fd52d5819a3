// Package frame implements the suffix-delimited binary frames exchanged with
// the platform controller.
//
// A frame is payload | XOR(payload) | 0xEE 0xEF. There is no start marker and
// no byte stuffing: a payload that happens to contain 0xEE 0xEF ends the frame
// early and is then rejected by the checksum or length check.
package frame

import (
	"errors"
	"fmt"
)

const (
	Suffix1 = 0xEE
	Suffix2 = 0xEF

	// Overhead is checksum plus suffix.
	Overhead = 3
)

var (
	ErrChecksum = errors.New("frame checksum mismatch")
	ErrLength   = errors.New("frame length mismatch")
	ErrSuffix   = errors.New("frame suffix missing")
)

// Checksum is the XOR of all bytes in p.
func Checksum(p []byte) byte {
	var c byte
	for _, b := range p {
		c ^= b
	}
	return c
}

// Seal appends checksum and suffix to payload.
func Seal(payload []byte) []byte {
	out := make([]byte, 0, len(payload)+Overhead)
	out = append(out, payload...)
	return append(out, Checksum(payload), Suffix1, Suffix2)
}

// Open validates a complete frame and returns its payload (aliasing frame).
func Open(frame []byte) ([]byte, error) {
	if len(frame) < Overhead+1 {
		return nil, fmt.Errorf("%w: %d bytes", ErrLength, len(frame))
	}
	n := len(frame)
	if frame[n-2] != Suffix1 || frame[n-1] != Suffix2 {
		return nil, ErrSuffix
	}
	payload := frame[:n-Overhead]
	if got, want := frame[n-Overhead], Checksum(payload); got != want {
		return nil, fmt.Errorf("%w: got 0x%02X want 0x%02X", ErrChecksum, got, want)
	}
	return payload, nil
}
