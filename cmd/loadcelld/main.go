package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/weighworks/loadcell-dash/internal/registry"
	"github.com/weighworks/loadcell-dash/internal/scale"
	"github.com/weighworks/loadcell-dash/internal/server"
	"github.com/weighworks/loadcell-dash/web"
)

func main() {
	configPath := flag.String("config", "/etc/loadcell-dash/config.yaml", "Path to config file")
	demo := flag.Bool("demo", false, "Run with a simulated two-cell bus")
	listenAddr := flag.String("listen", "", "Override listen address (e.g. :8080)")
	flag.Parse()

	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
	log.Println("[main] loadcelld starting")

	cfg := server.LoadConfig(*configPath)

	if *demo {
		cfg.Bus.Type = "demo"
	}
	if *listenAddr != "" {
		cfg.Server.ListenAddr = *listenAddr
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("[main] received %v, shutting down", sig)
		cancel()
	}()

	var bus scale.Bus
	switch cfg.Bus.Type {
	case "serial":
		bus = scale.NewSerialBus(cfg.Bus.ScaleConfig())
	default:
		bus = scale.NewDemoBus(cfg.Bus.ScaleConfig())
	}

	reg := registry.New(correctionFromConfig(cfg.Calibration))

	// Server starts immediately; the bus connects with exponential backoff
	// in the background and begins polling once the port opens.
	go func() {
		connectWithRetry(ctx, bus, 10)
		bus.Run(ctx)
	}()

	srv := server.New(cfg, bus, reg, web.FS)
	if err := srv.Run(ctx); err != nil {
		log.Printf("[main] server exited: %v", err)
	}
	bus.Close()
}

// correctionFromConfig maps the config to a correction policy.
func correctionFromConfig(c server.CalibrationConfig) registry.Correction {
	switch c.Correction {
	case "linear":
		l := registry.Linear{Slope: c.Slope, Intercept: c.Intercept}
		if l.Slope == 0 {
			l = registry.FittedLinear
		}
		return l
	case "quadratic":
		q := registry.Quadratic{A: c.A, B: c.B, C: c.C}
		if q.A == 0 && q.B == 0 && q.C == 0 {
			q = registry.FittedQuadratic
		}
		return q
	default:
		return registry.Identity{}
	}
}

// connectWithRetry attempts to connect with exponential backoff.
// Starts at 1s, doubles each attempt up to 60s, retries up to maxAttempts
// then continues at max interval indefinitely.
func connectWithRetry(ctx context.Context, bus scale.Bus, maxAttempts int) {
	delay := 1 * time.Second
	maxDelay := 60 * time.Second
	attempt := 0

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := bus.Connect(); err != nil {
			attempt++
			if attempt <= maxAttempts {
				log.Printf("[%s] connect attempt %d/%d failed: %v (retry in %v)",
					bus.Name(), attempt, maxAttempts, err, delay)
			} else {
				log.Printf("[%s] connect attempt %d failed: %v (retry in %v)",
					bus.Name(), attempt, err, delay)
			}

			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}

			delay *= 2
			if delay > maxDelay {
				delay = maxDelay
			}
		} else {
			log.Printf("[%s] connected successfully (attempt %d)", bus.Name(), attempt+1)
			return
		}
	}
}
