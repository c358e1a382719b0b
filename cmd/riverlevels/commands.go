package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hako/durafmt"

	"github.com/riverlevels/riverlevels/internal/config"
	"github.com/riverlevels/riverlevels/internal/gauge"
	"github.com/riverlevels/riverlevels/internal/live"
	"github.com/riverlevels/riverlevels/internal/manager"
	"github.com/riverlevels/riverlevels/internal/metrics"
	"github.com/riverlevels/riverlevels/internal/monitor"
	"github.com/riverlevels/riverlevels/internal/state"
)

func cmdLevel(ctx context.Context, e *env, args []string) error {
	flags := newFlagSet("level", e)
	qualifier := flags.String("q", config.DefaultQualifier, "measure qualifier")
	flags.StringVar(qualifier, "qualifier", config.DefaultQualifier, "measure qualifier")
	apiRoot := flags.String("api", config.DefaultAPIRoot, "flood-monitoring API root")
	timeout := flags.Duration("timeout", config.DefaultHTTPTimeout, "HTTP timeout")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if flags.NArg() != 1 {
		return fmt.Errorf("%w: expected exactly one STATION", errUsage)
	}
	station := flags.Arg(0)

	client := gauge.NewClient(*apiRoot, gauge.WithTimeout(*timeout))
	r, err := client.Level(ctx, station, *qualifier)
	if err != nil {
		return err
	}
	if at, err := r.Time(); err == nil {
		e.log.Info("reading", "station", station, "qualifier", *qualifier,
			"age", durafmt.Parse(time.Since(at)).LimitFirstN(2).String())
	}
	fmt.Fprintln(e.stdout, formatLevel(r.Value), r.Timestamp)
	return nil
}

// formatLevel prints a level with at least one decimal place, so a whole
// metre reads "10.0" rather than "10".
func formatLevel(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}

func cmdAlerts(ctx context.Context, e *env, args []string) error {
	flags := newFlagSet("alerts", e)
	cfgPath := configFlag(flags)
	if err := flags.Parse(args); err != nil {
		return err
	}
	cfg, _, err := loadConfig(e, *cfgPath)
	if err != nil {
		return err
	}
	return runOnce(ctx, e, cfg, manager.RunOptions{})
}

func cmdEmailAlerts(ctx context.Context, e *env, args []string) error {
	flags := newFlagSet("email-alerts", e)
	cfgPath := configFlag(flags)
	dryRun := noActionFlag(flags)
	if err := flags.Parse(args); err != nil {
		return err
	}
	cfg, _, err := loadConfig(e, *cfgPath)
	if err != nil {
		return err
	}
	return runOnce(ctx, e, cfg, manager.RunOptions{Email: true, DryRun: *dryRun})
}

func cmdWatch(ctx context.Context, e *env, args []string) error {
	flags := newFlagSet("watch", e)
	cfgPath := configFlag(flags)
	interval := flags.Duration("interval", 0, "time between cycles (default: watch.interval from config)")
	email := flags.Bool("email", false, "email alerts instead of printing them")
	dryRun := noActionFlag(flags)
	if err := flags.Parse(args); err != nil {
		return err
	}
	cfg, path, err := loadConfig(e, *cfgPath)
	if err != nil {
		return err
	}
	every := *interval
	if every <= 0 {
		every = cfg.Watch.Interval
	}

	mt := metrics.New()
	var hub *live.Hub
	if cfg.Metrics.Listen != "" {
		hub = live.New()
		defer hub.Close()
		mux := http.NewServeMux()
		mux.Handle("/metrics", mt.Handler())
		mux.Handle("/ws", hub)
		srv := &http.Server{Addr: cfg.Metrics.Listen, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
		go func() {
			e.log.Info("metrics server listening", "addr", cfg.Metrics.Listen)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				e.log.Error("metrics server stopped", "err", err)
			}
		}()
		defer srv.Shutdown(context.Background()) //nolint:errcheck
	}

	var mu sync.Mutex
	current := cfg
	if path != "-" {
		go func() {
			if err := config.Watch(ctx, path, func(updated *config.Config) {
				mu.Lock()
				current = updated
				mu.Unlock()
				e.log.Info("config reloaded", "monitors", len(updated.Monitors))
			}); err != nil {
				e.log.Error("config watcher stopped", "err", err)
			}
		}()
	}

	opts := manager.RunOptions{Email: *email, DryRun: *dryRun}
	cycle := func() {
		mu.Lock()
		c := current
		mu.Unlock()
		alerts, err := runCycle(ctx, e, c, opts, mt)
		if err != nil {
			e.log.Error("cycle failed", "err", err)
		}
		hub.Publish(live.NewCycle(time.Now(), alerts, err))
	}

	e.log.Info("watching", "monitors", len(cfg.Monitors), "interval", every)
	cycle()
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			e.log.Info("watch stopped")
			return nil
		case <-ticker.C:
			cycle()
		}
	}
}

// runOnce performs a single cycle, exporting metrics to the configured
// textfile if any.
func runOnce(ctx context.Context, e *env, cfg *config.Config, opts manager.RunOptions) error {
	var mt *metrics.Metrics
	if cfg.Metrics.Textfile != "" {
		mt = metrics.New()
	}
	_, err := runCycle(ctx, e, cfg, opts, mt)
	return err
}

func runCycle(ctx context.Context, e *env, cfg *config.Config, opts manager.RunOptions, mt *metrics.Metrics) ([]monitor.Alert, error) {
	store, err := state.Open(cfg.State.Backend, cfg.StatePath())
	if err != nil {
		return nil, err
	}
	defer store.Close()

	client := gauge.NewClient(cfg.APIRoot, gauge.WithTimeout(cfg.HTTPTimeout))
	m := manager.FromConfig(cfg, client, store,
		manager.WithOutput(e.stdout),
		manager.WithLogger(e.log),
		manager.WithMetrics(mt, config.ExpandHome(cfg.Metrics.Textfile)),
	)

	alerts, err := m.Run(ctx, opts)
	if err != nil {
		return alerts, err
	}
	if !opts.Email {
		printAlerts(e.stdout, alerts)
	}
	return alerts, nil
}

func printAlerts(w io.Writer, alerts []monitor.Alert) {
	for _, a := range alerts {
		fmt.Fprintln(w, a.String())
	}
}

func configFlag(flags *flag.FlagSet) *string {
	p := flags.String("c", "", "configuration file, - for stdin (default: $"+configEnv+" or "+config.DefaultConfigFile+")")
	flags.StringVar(p, "config", "", "configuration file")
	return p
}

func noActionFlag(flags *flag.FlagSet) *bool {
	n := flags.Bool("n", false, "print the email but do not send it")
	flags.BoolVar(n, "no-action", false, "print the email but do not send it")
	return n
}

// loadConfig resolves the configuration path (flag, then environment, then
// default) and loads it. "-" reads the configuration from stdin.
func loadConfig(e *env, path string) (*config.Config, string, error) {
	if path == "" {
		path = os.Getenv(configEnv)
	}
	if path == "" {
		path = config.DefaultConfigFile
	}
	if path == "-" {
		data, err := io.ReadAll(e.stdin)
		if err != nil {
			return nil, path, fmt.Errorf("config: read stdin: %w", err)
		}
		cfg, err := config.Parse(data)
		return cfg, path, err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, path, err
	}
	e.log.Debug("config loaded", "path", path, "monitors", len(cfg.Monitors))
	return cfg, path, nil
}
