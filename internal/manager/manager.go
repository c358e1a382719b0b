package manager

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/hako/durafmt"

	"github.com/riverlevels/riverlevels/internal/config"
	"github.com/riverlevels/riverlevels/internal/metrics"
	"github.com/riverlevels/riverlevels/internal/monitor"
	"github.com/riverlevels/riverlevels/internal/notify"
	"github.com/riverlevels/riverlevels/internal/state"
)

var (
	// ErrNoEmailConfig is returned by EmailAlerts when the configuration has
	// no email section.
	ErrNoEmailConfig = errors.New(`no "email" group in configuration`)

	// ErrNoRecipients is returned by EmailAlerts when no recipients are configured.
	ErrNoRecipients = errors.New("no email recipients in configuration")
)

// Manager evaluates a set of monitors against a persisted state mapping.
//
// Monitors are evaluated strictly in order; Manager is not safe for
// concurrent use and two processes must not share a state store.
type Manager struct {
	monitors []*monitor.Monitor
	store    state.Store
	saved    state.Map

	email    *config.EmailConfig
	webBase  string
	ack      string
	webhooks *notify.Webhooks
	metrics  *metrics.Metrics
	textfile string

	sender notify.Sender
	out    io.Writer
	log    *slog.Logger
	now    func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithEmail sets the email configuration used by EmailAlerts.
func WithEmail(e *config.EmailConfig) Option {
	return func(m *Manager) { m.email = e }
}

// WithWebBase sets the base URL of station web pages.
func WithWebBase(u string) Option {
	return func(m *Manager) { m.webBase = u }
}

// WithAcknowledgement sets the data-source attribution line.
func WithAcknowledgement(ack string) Option {
	return func(m *Manager) { m.ack = ack }
}

// WithWebhooks enables webhook delivery in Notify.
func WithWebhooks(w *notify.Webhooks) Option {
	return func(m *Manager) { m.webhooks = w }
}

// WithMetrics records readings, baselines and alerts on mt. When textfile is
// not empty it is rewritten after every Run.
func WithMetrics(mt *metrics.Metrics, textfile string) Option {
	return func(m *Manager) {
		m.metrics = mt
		m.textfile = textfile
	}
}

// WithSender replaces the sendmail transport.
func WithSender(s notify.Sender) Option {
	return func(m *Manager) { m.sender = s }
}

// WithOutput sets where dry-run emails are printed (default stdout).
func WithOutput(w io.Writer) Option {
	return func(m *Manager) { m.out = w }
}

// WithLogger sets the logger (default slog.Default()).
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.log = l
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// New returns a Manager for monitors persisting to store.
func New(monitors []*monitor.Monitor, store state.Store, opts ...Option) *Manager {
	m := &Manager{
		monitors: monitors,
		store:    store,
		saved:    state.Map{},
		webBase:  config.DefaultWebBase,
		ack:      config.DefaultAcknowledgement,
		out:      os.Stdout,
		log:      slog.Default(),
		now:      time.Now,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// FromConfig builds the monitors described by cfg, all reading through
// fetcher, and applies the email and presentation settings of cfg. opts are
// applied after the configuration.
func FromConfig(cfg *config.Config, fetcher monitor.LevelFetcher, store state.Store, opts ...Option) *Manager {
	monitors := make([]*monitor.Monitor, 0, len(cfg.Monitors))
	for _, mc := range cfg.Monitors {
		monitors = append(monitors, monitor.New(monitor.Config{
			Station:    mc.Station,
			Qualifier:  mc.Qualifier,
			Name:       mc.Name,
			ExternalID: mc.ExternalID,
			Threshold:  mc.Threshold,
		}, fetcher))
	}
	base := []Option{
		WithEmail(cfg.Email),
		WithWebBase(cfg.WebBase),
		WithAcknowledgement(cfg.Acknowledgement),
	}
	if len(cfg.Webhooks) > 0 {
		base = append(base, WithWebhooks(notify.NewWebhooks(cfg.Webhooks, cfg.WebBase, cfg.Acknowledgement)))
	}
	return New(monitors, store, append(base, opts...)...)
}

// Monitors returns the managed monitors in evaluation order.
func (m *Manager) Monitors() []*monitor.Monitor { return m.monitors }

// LoadState reads the persisted mapping and restores every monitor from it.
// A store with no saved data yields an empty mapping.
func (m *Manager) LoadState(ctx context.Context) error {
	saved, err := m.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("manager: load state: %w", err)
	}
	m.saved = saved
	for _, mon := range m.monitors {
		m.restore(mon)
	}
	return nil
}

// restore applies the saved baseline of mon, if there is one. A monitor
// without a saved entry keeps its in-memory state.
func (m *Manager) restore(mon *monitor.Monitor) {
	if _, ok := m.saved[mon.Key()]; ok {
		mon.Restore(m.saved.Get(mon.Key()))
	}
}

// SaveState copies every monitor's baseline into the mapping and persists
// it. Entries for keys no longer monitored are kept.
func (m *Manager) SaveState(ctx context.Context) error {
	for _, mon := range m.monitors {
		m.saved.Put(mon.Key(), mon.State())
	}
	if err := m.store.Save(ctx, m.saved); err != nil {
		return fmt.Errorf("manager: save state: %w", err)
	}
	return nil
}

// EvaluateAll fetches the latest reading of every monitor and returns the
// alerts raised. A monitor whose fetch fails is logged and skipped.
func (m *Manager) EvaluateAll(ctx context.Context) []monitor.Alert {
	var alerts []monitor.Alert
	for _, mon := range m.monitors {
		if ctx.Err() != nil {
			m.log.Warn("evaluation interrupted", "err", ctx.Err())
			break
		}
		cfg := mon.Config()
		name := cfg.DisplayName()

		m.restore(mon)
		prev := mon.State()

		r, err := mon.FetchLevel(ctx)
		if err != nil {
			m.log.Warn("fetch failed", "monitor", name, "station", cfg.Station, "err", err)
			m.metrics.IncFetchError(cfg.Station, cfg.Qualifier, name)
			continue
		}

		at, _ := r.Time()
		attrs := []any{"monitor", name, "new", r.Value, "at", r.Timestamp}
		if prev.Observed {
			attrs = append(attrs, "old", prev.Level)
		}
		if !at.IsZero() {
			attrs = append(attrs, "age", durafmt.Parse(m.now().Sub(at)).LimitFirstN(2).String())
		}
		m.log.Info("reading", attrs...)
		m.metrics.ObserveReading(cfg.Station, cfg.Qualifier, name, r.Value, at)

		alert := mon.Evaluate(r)
		m.saved.Put(mon.Key(), mon.State())
		m.metrics.ObserveBaseline(cfg.Station, cfg.Qualifier, name, mon.State().Level)

		if alert == nil {
			continue
		}
		m.log.Info("alert", "monitor", name, "direction", alert.Direction, "text", alert.Text)
		m.metrics.IncAlert(cfg.Station, cfg.Qualifier, name, string(alert.Direction))
		alerts = append(alerts, *alert)
	}
	return alerts
}

// EmailAlerts evaluates every monitor and emails the alerts, or prints the
// email when dryRun is set. The email configuration is checked before any
// reading is fetched. Nothing is sent when there are no alerts.
func (m *Manager) EmailAlerts(ctx context.Context, dryRun bool) ([]monitor.Alert, error) {
	if m.email == nil {
		return nil, ErrNoEmailConfig
	}
	if len(m.email.Recipients) == 0 {
		return nil, ErrNoRecipients
	}

	alerts := m.EvaluateAll(ctx)
	if len(alerts) == 0 {
		return nil, nil
	}

	msg := m.RenderEmail(alerts)

	var sender notify.Sender = notify.Sendmail{Path: m.email.SendmailPath()}
	if m.sender != nil {
		sender = m.sender
	}
	if dryRun {
		sender = notify.Printer{W: m.out}
	}
	if err := sender.Send(ctx, msg); err != nil {
		return alerts, fmt.Errorf("manager: send email: %w", err)
	}
	return alerts, nil
}

// RenderEmail renders alerts with the configured email settings.
func (m *Manager) RenderEmail(alerts []monitor.Alert) notify.Message {
	opts := notify.EmailOptions{
		WebBase:         m.webBase,
		Acknowledgement: m.ack,
	}
	if m.email != nil {
		opts.Recipients = m.email.Recipients
		opts.Subject = m.email.Subject
		opts.From = m.email.From
		if m.email.HTML {
			opts.Format = notify.FormatHTML
		}
	}
	return notify.RenderEmail(alerts, opts)
}

// Notify delivers alerts to the configured webhooks.
func (m *Manager) Notify(ctx context.Context, alerts []monitor.Alert) {
	if failed := m.webhooks.Deliver(ctx, alerts); failed > 0 {
		m.log.Warn("webhook delivery incomplete", "failed", failed)
	}
}

// RunOptions selects what a Run does with the alerts.
type RunOptions struct {
	// Email sends the alerts by email.
	Email bool

	// DryRun prints the email instead of sending it and skips webhooks.
	DryRun bool
}

// Run performs one complete cycle: load state, evaluate (and email),
// persist state, notify webhooks and export metrics.
//
// If sending the email fails the state is not saved, so the same alerts are
// raised again on the next run.
func (m *Manager) Run(ctx context.Context, opts RunOptions) ([]monitor.Alert, error) {
	if err := m.LoadState(ctx); err != nil {
		return nil, err
	}

	var alerts []monitor.Alert
	if opts.Email {
		var err error
		if alerts, err = m.EmailAlerts(ctx, opts.DryRun); err != nil {
			return alerts, err
		}
	} else {
		alerts = m.EvaluateAll(ctx)
	}

	if err := m.SaveState(ctx); err != nil {
		return alerts, err
	}

	if !opts.DryRun {
		m.Notify(ctx, alerts)
	}

	m.metrics.MarkRun(m.now())
	if err := m.metrics.WriteTextfile(m.textfile); err != nil {
		m.log.Error("metrics textfile not written", "path", m.textfile, "err", err)
	}
	return alerts, nil
}
