package main

import (
	"context"
	"flag"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"gpsmixer/internal/config"
	"gpsmixer/internal/web"
)

func main() {
	var (
		configPath string
		decodePath string
		replayPath string
		replaySpd  float64
	)
	flag.StringVar(&configPath, "config", "./gpsmixer.yaml", "Path to YAML config")
	flag.StringVar(&decodePath, "decode", "", "Print the frames of a recorded log and exit")
	flag.StringVar(&replayPath, "replay", "", "Send the tx frames of a recorded log to the configured output and exit")
	flag.Float64Var(&replaySpd, "replay-speed", 1.0, "Replay speed multiplier")
	flag.Parse()

	if decodePath != "" {
		if err := printFrameLog(os.Stdout, decodePath); err != nil {
			log.Fatalf("decode failed: %v", err)
		}
		return
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if replayPath != "" {
		if err := replayToOutput(ctx, cfg, replayPath, replaySpd); err != nil {
			log.Fatalf("replay failed: %v", err)
		}
		return
	}

	logs := web.NewLogBuffer(500)
	log.SetOutput(io.MultiWriter(os.Stderr, logs))

	rt, err := newApp(ctx, cfg, configPath, logs)
	if err != nil {
		log.Fatalf("startup failed: %v", err)
	}
	defer rt.Close()

	log.Printf("gpsmixer starting receivers=%d output=%s mode=%s", len(cfg.Receivers), cfg.Output.Transport, cfg.Output.Mode)
	if err := rt.Run(ctx); err != nil {
		log.Printf("gpsmixer stopped: %v", err)
	}
	log.Printf("gpsmixer stopping")
}
