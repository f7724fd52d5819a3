package frame

import (
	"bytes"
	"testing"
)

func TestScannerFindsFrames(t *testing.T) {
	s := NewScanner(CommandPayloadLen)
	stream := append([]byte{0x01, 0x02}, EncodeCommand(Command{Status: 1, Backlight: 2, Alignment: 3})...)

	// Leading noise makes the first frame too long; the next one is clean.
	var got [][]byte
	s.Write(stream, func(p []byte) { got = append(got, p) })
	if len(got) != 0 || s.Stats().LengthErrors != 1 {
		t.Fatalf("got=%v stats=%+v", got, s.Stats())
	}

	s.Write(EncodeCommand(Command{Status: 4, Backlight: 5, Alignment: 6}), func(p []byte) { got = append(got, p) })
	if len(got) != 1 || !bytes.Equal(got[0], []byte{4, 5, 6}) {
		t.Fatalf("got=%v", got)
	}
}

func TestScannerByteAtATime(t *testing.T) {
	s := NewScanner(FixPayloadLen)
	frame := EncodeFix(sampleFix())
	for i, b := range frame {
		p, ok := s.Push(b)
		if ok != (i == len(frame)-1) {
			t.Fatalf("byte %d ok=%v", i, ok)
		}
		if ok && !bytes.Equal(p, frame[:FixPayloadLen]) {
			t.Fatalf("payload=% X", p)
		}
	}
}

func TestScannerDropsChecksumMismatch(t *testing.T) {
	s := NewScanner(0)
	bad := EncodeCommand(Command{Status: 1})
	bad[0] ^= 0xFF
	if n := s.Write(bad, nil); n != 0 {
		t.Fatalf("accepted corrupted frame")
	}
	if st := s.Stats(); st.ChecksumErrors != 1 || st.Frames != 0 {
		t.Fatalf("stats=%+v", st)
	}
	if n := s.Write(EncodeCommand(Command{Status: 1}), nil); n != 1 {
		t.Fatalf("did not recover after bad frame")
	}
}

func TestScannerWrapsOnOverflow(t *testing.T) {
	s := NewScanner(0)
	noise := bytes.Repeat([]byte{0x55}, ScannerCapacity)
	s.Write(noise, nil)
	// The buffer is full; the next frame starts over at position zero.
	if n := s.Write(EncodeCommand(Command{Alignment: 9}), nil); n != 1 {
		t.Fatalf("frames=%d want 1 stats=%+v", n, s.Stats())
	}
	if s.Stats().Overflows != 1 {
		t.Fatalf("overflows=%d want 1", s.Stats().Overflows)
	}
}

func TestScannerSuffixInsidePayloadIsNotEscaped(t *testing.T) {
	s := NewScanner(CommandPayloadLen)
	// A payload containing the suffix pair splits the frame; both halves are
	// rejected and nothing is delivered.
	frame := EncodeCommand(Command{Status: Suffix1, Backlight: Suffix2, Alignment: 0})
	if n := s.Write(frame, nil); n != 0 {
		t.Fatalf("frames=%d want 0", n)
	}
	if st := s.Stats(); st.LengthErrors == 0 {
		t.Fatalf("stats=%+v", st)
	}
}
