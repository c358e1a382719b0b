package monitor

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/riverlevels/riverlevels/internal/gauge"
)

// Direction is the sense of a level change.
type Direction string

const (
	Up   Direction = "UP"
	Down Direction = "DOWN"
)

// Config identifies one measure at a station and its alert threshold.
type Config struct {
	Station    string
	Qualifier  string
	Name       string
	ExternalID string

	// Threshold is the level change in metres that must be exceeded
	// (strictly) before an alert fires.
	Threshold float64
}

// Key is the state key of the measure: "station.qualifier".
func (c Config) Key() string {
	return c.Station + "." + c.Qualifier
}

// DisplayName returns Name, falling back to Station.
func (c Config) DisplayName() string {
	if c.Name != "" {
		return c.Name
	}
	return c.Station
}

// LinkDirection is the direction parameter of the station web page:
// "d" for downstream gauges, "u" otherwise.
func (c Config) LinkDirection() string {
	if strings.Contains(c.Qualifier, "Downstream") {
		return "d"
	}
	return "u"
}

// AlertState is the alert baseline of a monitor. The zero value means the
// measure has never been observed.
type AlertState struct {
	Level     float64
	Timestamp string
	Observed  bool
}

// Baseline returns an observed AlertState.
func Baseline(level float64, timestamp string) AlertState {
	return AlertState{Level: level, Timestamp: timestamp, Observed: true}
}

// Alert is produced when a level has moved past the threshold since the
// previous baseline.
type Alert struct {
	Key        string
	Direction  Direction
	Name       string
	ExternalID string

	// MonitorDirection is "u" or "d", see Config.LinkDirection.
	MonitorDirection string

	// Text is the human-readable change description, e.g.
	// "now 1.08m, UP by 8cm since 2019-01-01 00:00:00".
	Text string

	Value    float64
	Previous float64
	Delta    float64
}

func (a Alert) String() string {
	return fmt.Sprintf("%s %s %s", a.Direction, a.Name, a.Text)
}

// Evaluate decides whether reading warrants an alert against prev and
// returns the state to commit.
//
// The first observation only establishes the baseline. Afterwards the
// baseline moves to the new reading only when an alert fires, so slow drift
// accumulates until it crosses the threshold while a fast change produces a
// sequence of alerts.
func Evaluate(cfg Config, prev AlertState, r gauge.Reading) (AlertState, *Alert) {
	if !prev.Observed {
		return Baseline(r.Value, r.Timestamp), nil
	}

	delta := r.Value - prev.Level
	if math.Abs(delta) <= cfg.Threshold {
		return prev, nil
	}

	dir := Down
	if delta > 0 {
		dir = Up
	}
	alert := &Alert{
		Key:              cfg.Key(),
		Direction:        dir,
		Name:             cfg.DisplayName(),
		ExternalID:       cfg.ExternalID,
		MonitorDirection: cfg.LinkDirection(),
		Text: fmt.Sprintf("now %.2fm, %s by %.0fcm since %s",
			r.Value, dir, math.Abs(delta)*100, HumanTimestamp(prev.Timestamp)),
		Value:    r.Value,
		Previous: prev.Level,
		Delta:    delta,
	}
	return Baseline(r.Value, r.Timestamp), alert
}

// HumanTimestamp renders an ISO-8601 UTC timestamp as "2006-01-02 15:04:05".
func HumanTimestamp(ts string) string {
	return strings.ReplaceAll(strings.ReplaceAll(ts, "T", " "), "Z", "")
}

// LevelFetcher returns the latest level reading of a measure.
type LevelFetcher interface {
	Level(ctx context.Context, station, qualifier string) (gauge.Reading, error)
}

// Monitor tracks one measure and its committed alert baseline.
// A Monitor is not safe for concurrent use.
type Monitor struct {
	cfg     Config
	fetcher LevelFetcher
	state   AlertState
}

// New returns a Monitor with no baseline.
func New(cfg Config, fetcher LevelFetcher) *Monitor {
	return &Monitor{cfg: cfg, fetcher: fetcher}
}

// Config returns the monitor configuration.
func (m *Monitor) Config() Config { return m.cfg }

// Key is shorthand for Config().Key().
func (m *Monitor) Key() string { return m.cfg.Key() }

// State returns the committed baseline.
func (m *Monitor) State() AlertState { return m.state }

// Restore replaces the committed baseline, typically with persisted state.
func (m *Monitor) Restore(s AlertState) { m.state = s }

// FetchLevel returns the latest reading of the monitored measure.
func (m *Monitor) FetchLevel(ctx context.Context) (gauge.Reading, error) {
	return m.fetcher.Level(ctx, m.cfg.Station, m.cfg.Qualifier)
}

// Evaluate runs Evaluate against the committed baseline and commits the result.
func (m *Monitor) Evaluate(r gauge.Reading) *Alert {
	next, alert := Evaluate(m.cfg, m.state, r)
	m.state = next
	return alert
}
