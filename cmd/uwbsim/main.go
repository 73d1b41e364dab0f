//go:build !tinygo && !baremetal

// Command uwbsim runs a tag and a set of anchors over a simulated radio
// medium and prints the ranges they measure.
package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"time"

	"github.com/pterm/pterm"

	"github.com/ystepanoff/uwbtwr/config"
	"github.com/ystepanoff/uwbtwr/internal/util"
	"github.com/ystepanoff/uwbtwr/monitor"
)

var (
	configPath  = flag.String("config", "uwbsim.yaml", "path to the YAML configuration")
	durationMS  = flag.Uint64("duration", 0, "simulated time in milliseconds (overrides the config)")
	debug       = flag.Bool("debug", false, "enable debug logging")
	monitorAddr = flag.String("monitor", "", "serve the monitor on this address (overrides the config)")
	quiet       = flag.Bool("quiet", false, "only print the final tables")
)

func main() {
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	cfg, err := config.Load(*configPath)
	if err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}
	if *durationMS > 0 {
		cfg.Simulation.DurationMS = *durationMS
	}
	if *monitorAddr != "" {
		cfg.Monitor.Enabled = true
		cfg.Monitor.Addr = *monitorAddr
	}
	if *quiet {
		cfg.Simulation.ReportEveryMS = 0
	}

	if *debug {
		util.EnableDebug()
	} else if cfg.Logger.Level != "" && !util.SetLevel(cfg.Logger.Level) {
		util.LogWarning("unknown log level %q, keeping the default", cfg.Logger.Level)
	}

	if err := run(ctx, cfg); err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config) error {
	sim, err := newSimulation(cfg)
	if err != nil {
		return err
	}

	if cfg.Monitor.Enabled {
		sim.mon = monitor.New(cfg.Monitor.Addr)
		if err := sim.mon.Start(); err != nil {
			return err
		}
		defer func() {
			if err := sim.mon.Stop(); err != nil {
				util.LogWarning("%v", err)
			}
		}()
	}

	pterm.Info.Printf("simulating %d anchors for %d ms\n", len(cfg.Anchors), cfg.Simulation.DurationMS)
	start := time.Now()

	err = sim.run(ctx, cfg.Simulation.DurationMS, cfg.Simulation.ReportEveryMS, sim.printReport)
	switch {
	case errors.Is(err, context.Canceled):
		util.LogWarning("interrupted at %.0f ms", sim.elapsedMS())
	case err != nil:
		return err
	}

	sim.printReport()
	util.LogSuccess("simulated %.0f ms in %s", sim.elapsedMS(), time.Since(start).Round(time.Millisecond))

	if cfg.Monitor.Enabled {
		// Keep serving the final state until interrupted.
		pterm.Info.Printf("monitor still serving on http://%s, press Ctrl+C to exit\n", sim.mon.Addr())
		<-ctx.Done()
	}
	return nil
}
