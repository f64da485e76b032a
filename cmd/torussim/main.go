// Command torussim runs a particle swarm in a magnetic torus on the gpgpu
// double-buffered compute renderer and writes periodic PNG snapshots.
//
// Usage:
//
//	torussim [-config file.toml] [-backend software|wgpu] [-steps n] [-metrics :9090]
//
// Settings come from defaults, then the TOML file, then TORUSSIM_*
// environment variables, then flags.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gogpu/gpgpu"
	"github.com/gogpu/gpgpu/metrics"
	"github.com/gogpu/gpgpu/software"
	"github.com/gogpu/gpgpu/wgpu"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

func main() {
	cfg, err := LoadConfig(os.Args[1:], environ())
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		log.Fatal(err)
	}

	level, _ := cfg.Level()
	gpgpu.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Fatal(err)
	}
}

func openDevice(cfg *Config) (gpgpu.Device, error) {
	if cfg.Backend == "wgpu" {
		return wgpu.New()
	}
	return software.New(software.WithWorkers(cfg.Workers)), nil
}

func run(ctx context.Context, cfg *Config) error {
	dev, err := openDevice(cfg)
	if err != nil {
		return err
	}
	defer dev.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	collector := metrics.NewCollector(reg, "torussim")

	sim, err := newSimulation(dev, cfg, collector)
	if err != nil {
		return err
	}
	defer sim.close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	if cfg.MetricsAddr != "" {
		srv := &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			gpgpu.Logger().Info("torussim: serving metrics", "addr", cfg.MetricsAddr)
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
			defer cancelShutdown()
			return srv.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error {
		defer cancel()
		return sim.run(ctx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	printSummary(sim)
	return nil
}

func printSummary(sim *simulation) {
	p := message.NewPrinter(language.English)
	rate := 0.0
	if sec := sim.elapsed.Seconds(); sec > 0 {
		rate = float64(sim.steps) / sec
	}
	p.Printf("%d steps of %d particles in %v (%.1f steps/s)\n",
		sim.steps, sim.cfg.Size*sim.cfg.Size, sim.elapsed.Round(time.Millisecond), rate)
	p.Printf("%d snapshots, %d resets on %s\n", sim.snapshots, sim.resets, sim.r.Device().Name())
}
