package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"strings"

	"gpsmixer/internal/config"
	"gpsmixer/internal/frame"
	"gpsmixer/internal/replay"
)

type logSummary struct {
	Segments int
	TX       int
	RX       int
	Invalid  int
}

func summarizeFrameLog(records []replay.Record) logSummary {
	var s logSummary
	for _, r := range records {
		if r.Frame == nil {
			s.Segments++
			continue
		}
		switch r.Dir {
		case replay.TX:
			s.TX++
			if _, err := frame.DecodeFix(r.Frame); err != nil {
				s.Invalid++
			}
		case replay.RX:
			s.RX++
			if _, err := frame.DecodeCommand(r.Frame); err != nil {
				s.Invalid++
			}
		}
	}
	if s.Segments == 0 && s.TX+s.RX > 0 {
		s.Segments = 1
	}
	return s
}

func describeRecord(r replay.Record) string {
	switch r.Dir {
	case replay.TX:
		f, err := frame.DecodeFix(r.Frame)
		if err != nil {
			return fmt.Sprintf("%s tx invalid: %v", r.At, err)
		}
		return fmt.Sprintf("%s tx lat=%.6f lon=%.6f alt=%.1fm hdg=%.2f spd=%.1fkmh sats=%d hdop=%.1f rx=%d q=%d",
			r.At, f.LatDeg(), f.LonDeg(), f.AltitudeM(), f.HeadingDeg(), f.SpeedKmh(),
			f.Satellites, f.HDOP(), f.ReceiverCount, f.FixQuality)
	case replay.RX:
		c, err := frame.DecodeCommand(r.Frame)
		if err != nil {
			return fmt.Sprintf("%s rx invalid: %v", r.At, err)
		}
		return fmt.Sprintf("%s rx status=%d backlight=%d alignment=%d", r.At, c.Status, c.Backlight, c.Alignment)
	default:
		return fmt.Sprintf("%s %s % X", r.At, r.Dir, r.Frame)
	}
}

func printFrameLog(w io.Writer, path string) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return fmt.Errorf("path is empty")
	}
	recs, err := replay.ReadFile(path)
	if err != nil {
		return err
	}
	for _, r := range recs {
		if r.Frame == nil {
			fmt.Fprintln(w, "START")
			continue
		}
		fmt.Fprintln(w, describeRecord(r))
	}
	s := summarizeFrameLog(recs)
	fmt.Fprintf(w, "segments=%d tx=%d rx=%d invalid=%d\n", s.Segments, s.TX, s.RX, s.Invalid)
	return nil
}

func replayToOutput(ctx context.Context, cfg config.Config, path string, speed float64) error {
	recs, err := replay.ReadFile(path)
	if err != nil {
		return err
	}
	t, err := openLinkFn(linkConfig(cfg.Output))
	if err != nil {
		return err
	}
	defer t.Close()

	n := 0
	err = replay.Play(ctx, recs, replay.TX, speed, nil, func(r replay.Record) error {
		n++
		return t.Send(r.Frame)
	})
	log.Printf("replay sent frames=%d to %s", n, t)
	return err
}
