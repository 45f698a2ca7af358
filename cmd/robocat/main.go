// robocat tracks a red laser dot on a camera feed and serves the mask and
// frame rate to a browser preview.
package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/teslashibe/robocat/internal/config"
	"github.com/teslashibe/robocat/internal/log"
	"github.com/teslashibe/robocat/pkg/capture"
	"github.com/teslashibe/robocat/pkg/observer"
	"github.com/teslashibe/robocat/pkg/processor"
	"github.com/teslashibe/robocat/pkg/web"
)

func main() {
	cfg := parseFlags()
	log.Init(cfg.LogLevel)

	pool := observer.NewBufferPool(cfg.PoolSize)
	registry := observer.NewRegistry(pool)

	source := capture.NewDevice()
	defer source.Release()

	pcfg := processor.DefaultConfig()
	pcfg.Device = cfg.CameraIndex
	proc := processor.New(pcfg, source, registry)

	wcfg := web.DefaultConfig()
	wcfg.Port = cfg.ListenPort
	wcfg.StaticDir = cfg.StaticDir
	server := web.NewServer(wcfg, proc, registry)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	errc := make(chan error, 1)
	go func() { errc <- server.Start(ctx) }()

	if cfg.AutoStart {
		if err := server.StartProcessor(ctx); err != nil {
			// The camera may be plugged in later; /api/start retries.
			log.Warn("processing not started", "error", err)
		}
	}

	select {
	case <-ctx.Done():
	case err := <-errc:
		if err != nil {
			log.Error("web server failed", "error", err)
			cancel()
			shutdown(proc)
			os.Exit(1)
		}
	}

	shutdown(proc)
	log.Info("bye", "frames", proc.Frames(), "stats", registry.Stats())
}

// shutdown stops the loop and waits briefly for it to release the camera.
func shutdown(proc *processor.Processor) {
	proc.Stop()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := proc.Wait(ctx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		log.Warn("processing ended with error", "error", err)
	} else if err != nil {
		log.Warn("processing loop did not stop in time")
	}
}

// parseFlags loads the config file and environment, then applies flags.
func parseFlags() config.Config {
	configPath := flag.String("config", os.Getenv("ROBOCAT_CONFIG"), "Path to YAML config file")
	camera := flag.Int("camera", -1, "Camera index (overrides ROBOCAT_CAMERA)")
	port := flag.String("port", "", "HTTP listen port (overrides ROBOCAT_PORT)")
	level := flag.String("log-level", "", "Log level: debug, info, warn, error")
	noStart := flag.Bool("no-start", false, "Wait for POST /api/start instead of starting at boot")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Error("configuration error", "error", err)
		os.Exit(1)
	}

	if *camera >= 0 {
		cfg.CameraIndex = *camera
	}
	if *port != "" {
		cfg.ListenPort = *port
	}
	if *level != "" {
		cfg.LogLevel = *level
	}
	if *noStart {
		cfg.AutoStart = false
	}
	return cfg
}
