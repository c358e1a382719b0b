// Package state persists alert baselines between runs.
//
// The mapping is keyed by "station.qualifier" and each entry holds
// alert_level and alert_date. FileStore keeps it as pretty-printed JSON with
// sorted keys, replaced atomically on every save; a missing file loads as an
// empty mapping. SQLiteStore keeps the same mapping in a single table.
package state
