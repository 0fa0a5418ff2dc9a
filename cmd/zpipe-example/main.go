// Copyright (C) 2017 Michael J. Fromberger. All Rights Reserved.

// Program zpipe-example starts a zpipe gateway, prints the notices it
// delivers, and publishes lines read from standard input.
//
// Usage:
//
//	zpipe-example [options] [gateway-program [args...]]
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/zpipe-go/zpipe"
	"github.com/zpipe-go/zpipe/metrics"
	"github.com/zpipe-go/zpipe/wire"
)

var (
	configPath  = flag.String("config", "", "Path of a TOML config file")
	formatName  = flag.String("f", "", "Wire format (canonical or legacy); overrides the config")
	count       = flag.Int("n", -1, "Number of lines to publish; overrides the config")
	metricsAddr = flag.String("metrics", "", "Serve Prometheus metrics at this address; overrides the config")
	verbose     = flag.Bool("v", false, "Enable debug logging")
)

func init() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: %s [options] [gateway-program [args...]]

Start a zpipe gateway, subscribe to the configured notices and print each one
received. Then read lines from stdin, publish each as a notice, and shut the
gateway down cleanly.

If a gateway program is given on the command line, it replaces the one named
by the config file.

Options:
`, filepath.Base(os.Args[0]))
		flag.PrintDefaults()
	}
}

func main() {
	flag.Parse()
	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if err := applyFlags(&cfg); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	log, err := newLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Creating logger: %v\n", err)
		os.Exit(2)
	}
	defer log.Sync()

	if err := run(context.Background(), cfg, log); err != nil {
		log.Fatal("Example failed", zap.Error(err))
	}
}

func applyFlags(cfg *config) error {
	if *formatName != "" {
		f := wire.FormatByName(*formatName)
		if f == nil {
			return fmt.Errorf("unknown format %q", *formatName)
		}
		cfg.Format = f
	}
	if *count >= 0 {
		cfg.Count = *count
	}
	if *metricsAddr != "" {
		cfg.MetricsAddr = *metricsAddr
	}
	if *verbose {
		cfg.LogLevel = "debug"
	}
	if flag.NArg() != 0 {
		cfg.Gateway = flag.Args()
	}
	return nil
}

func newLogger(cfg config) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	zc := zap.NewProductionConfig()
	if cfg.Development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}

// listenMetrics binds addr and returns a server that exports m there. The
// caller must call Serve with the returned listener.
func listenMetrics(addr string, m *metrics.M) (*http.Server, net.Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, nil, fmt.Errorf("metrics listener: %w", err)
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(metrics.NewCollector(m, "zpipe"))
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return &http.Server{Handler: mux}, ln, nil
}

func run(ctx context.Context, cfg config, log *zap.Logger) error {
	m := metrics.New()

	// Bind the metrics address before starting the gateway, so that a bad or
	// busy address is reported at once.
	var srv *http.Server
	var ln net.Listener
	if cfg.MetricsAddr != "" {
		var err error
		srv, ln, err = listenMetrics(cfg.MetricsAddr, m)
		if err != nil {
			return err
		}
		defer ln.Close()
	}

	p, err := zpipe.Open(cfg.Gateway, func(_ *zpipe.Pipe, z *zpipe.Zephyrgram) {
		fmt.Println(z)
	}, &zpipe.Options{
		Logger:      log,
		Format:      cfg.Format,
		Concurrency: cfg.Concurrency,
		Metrics:     m,
	})
	if err != nil {
		return err
	}
	defer p.Close()

	g, ctx := errgroup.WithContext(ctx)
	if srv != nil {
		g.Go(func() error {
			log.Info("Serving metrics", zap.Stringer("addr", ln.Addr()))
			if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}

	g.Go(func() error {
		defer func() {
			if srv != nil {
				sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(sctx)
			}
		}()
		return publish(ctx, cfg, p, log)
	})
	if err := g.Wait(); err != nil {
		return err
	}
	counters, maxes := make(map[string]int64), make(map[string]int64)
	m.Snapshot(counters, maxes)
	log.Info("Gateway closed", zap.Any("counters", counters), zap.Any("max", maxes))
	return p.Wait()
}

// publish subscribes p as configured, publishes up to cfg.Count lines from
// stdin, and closes p.
func publish(ctx context.Context, cfg config, p *zpipe.Pipe, log *zap.Logger) error {
	for _, s := range cfg.Subs {
		if err := p.Subscribe(s.Class, s.Instance, s.Recipient); err != nil {
			return fmt.Errorf("subscribe: %w", err)
		}
	}

	in := bufio.NewScanner(os.Stdin)
	for i := 1; i <= cfg.Count; i++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		fmt.Fprintf(os.Stderr, "enter a message (%d/%d) > ", i, cfg.Count)
		if !in.Scan() {
			break
		}
		z := &zpipe.Zephyrgram{
			Class:    cfg.Class,
			Instance: cfg.Instance,
			Opcode:   cfg.Opcode,
			Auth:     true,
			Fields:   []string{fmt.Sprintf("zpipe example %d/%d", i, cfg.Count), in.Text()},
		}
		if err := p.Zwrite(z); err != nil {
			return fmt.Errorf("zwrite: %w", err)
		}
		log.Debug("Published", zap.Stringer("zephyrgram", z))
	}
	if err := in.Err(); err != nil {
		return fmt.Errorf("reading input: %w", err)
	}

	if err := p.CloseZephyr(); err != nil {
		return fmt.Errorf("close_zephyr: %w", err)
	}
	p.Drain()
	if err := p.Err(); err != nil {
		return fmt.Errorf("gateway output: %w", err)
	}
	return p.Close()
}
