// Package gauge is a client for the Environment Agency flood-monitoring API.
//
// Client.Measures lists the measures of a station
// ({root}/id/measures?stationReference={station}); Client.Level picks the
// latest reading of the "level" measure whose qualifier matches exactly.
//
// A missing measure yields an error wrapping ErrNotFound. Transport failures,
// non-200 responses and undecodable bodies yield a *NetworkError.
package gauge
