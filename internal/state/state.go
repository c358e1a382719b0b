package state

import (
	"context"
	"fmt"

	"github.com/riverlevels/riverlevels/internal/monitor"
)

// Entry is the persisted baseline of one monitor. Field order keeps the
// encoded keys sorted.
type Entry struct {
	AlertDate  *string  `json:"alert_date"`
	AlertLevel *float64 `json:"alert_level"`
}

// Map is the persisted mapping from "station.qualifier" to Entry.
type Map map[string]Entry

// Store loads and saves the whole mapping.
type Store interface {
	Load(ctx context.Context) (Map, error)
	Save(ctx context.Context, m Map) error
	Close() error
}

// FromAlertState converts a monitor baseline to its persisted form.
func FromAlertState(s monitor.AlertState) Entry {
	if !s.Observed {
		return Entry{}
	}
	level, date := s.Level, s.Timestamp
	return Entry{AlertDate: &date, AlertLevel: &level}
}

// AlertState converts a persisted entry back to a baseline. An entry with a
// null level is unobserved.
func (e Entry) AlertState() monitor.AlertState {
	if e.AlertLevel == nil {
		return monitor.AlertState{}
	}
	var date string
	if e.AlertDate != nil {
		date = *e.AlertDate
	}
	return monitor.Baseline(*e.AlertLevel, date)
}

// Get returns the baseline stored under key, or the zero AlertState.
func (m Map) Get(key string) monitor.AlertState {
	e, ok := m[key]
	if !ok {
		return monitor.AlertState{}
	}
	return e.AlertState()
}

// Put stores s under key. Unobserved states are not recorded so that an
// existing baseline is never replaced by nulls.
func (m Map) Put(key string, s monitor.AlertState) {
	if !s.Observed {
		return
	}
	m[key] = FromAlertState(s)
}

// Open returns the Store for backend ("json" or "sqlite") at path.
func Open(backend, path string) (Store, error) {
	switch backend {
	case "", "json":
		return NewFileStore(path), nil
	case "sqlite":
		return OpenSQLite(path)
	default:
		return nil, fmt.Errorf("state: unknown backend %q", backend)
	}
}
