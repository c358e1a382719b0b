// Package monitor holds the alert rule for a single gauge measure.
//
// Evaluate is a pure function from (config, previous baseline, reading) to
// (next baseline, optional alert). Monitor wraps it with a LevelFetcher and
// the committed baseline for use by the manager.
package monitor
