package gauge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bytedance/sonic"
)

const (
	defaultTimeout = 30 * time.Second

	// maxBodyBytes caps how much of a measures response is read.
	maxBodyBytes = 4 << 20

	parameterLevel = "level"
)

// ErrNotFound is returned when a station has no level measure with the
// requested qualifier.
var ErrNotFound = errors.New("level measure not found")

// NetworkError reports a failure to fetch or decode the measures of a station.
type NetworkError struct {
	Station string
	Err     error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("gauge: station %s: %v", e.Station, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// Reading is the latest value of a measure.
type Reading struct {
	// Value is the level in metres.
	Value float64

	// Timestamp is the ISO-8601 time of the reading as published upstream.
	Timestamp string
}

// Time parses Timestamp.
func (r Reading) Time() (time.Time, error) {
	return time.Parse(time.RFC3339, r.Timestamp)
}

// Measure is one item of the station measures listing.
type Measure struct {
	Qualifier     string        `json:"qualifier"`
	Parameter     string        `json:"parameter"`
	Notation      string        `json:"notation"`
	UnitName      string        `json:"unitName"`
	LatestReading latestReading `json:"latestReading"`
}

// Latest returns the embedded latest reading, if the API included one.
func (m Measure) Latest() (Reading, bool) {
	if !m.LatestReading.present {
		return Reading{}, false
	}
	return Reading{Value: m.LatestReading.Value, Timestamp: m.LatestReading.DateTime}, true
}

// latestReading tolerates the API publishing the reading as a URL reference
// instead of an embedded object.
type latestReading struct {
	Value    float64 `json:"value"`
	DateTime string  `json:"dateTime"`
	present  bool
}

func (l *latestReading) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if !strings.HasPrefix(trimmed, "{") {
		return nil
	}
	var raw struct {
		Value    float64 `json:"value"`
		DateTime string  `json:"dateTime"`
	}
	if err := sonic.Unmarshal(data, &raw); err != nil {
		return err
	}
	l.Value, l.DateTime, l.present = raw.Value, raw.DateTime, true
	return nil
}

type measuresResponse struct {
	Items []Measure `json:"items"`
}

// Client fetches station measures from the flood-monitoring API.
// A Client is safe for concurrent use.
type Client struct {
	root   string
	client *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.client = hc
		}
	}
}

// WithTimeout sets the per-request timeout of the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.client.Timeout = d
		}
	}
}

// NewClient returns a Client for the API rooted at root,
// e.g. "http://environment.data.gov.uk/flood-monitoring".
func NewClient(root string, opts ...Option) *Client {
	c := &Client{
		root:   strings.TrimRight(root, "/"),
		client: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Measures returns every measure published for station.
func (c *Client) Measures(ctx context.Context, station string) ([]Measure, error) {
	u := c.root + "/id/measures?stationReference=" + url.QueryEscape(station)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, &NetworkError{Station: station, Err: fmt.Errorf("build request: %w", err)}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &NetworkError{Station: station, Err: fmt.Errorf("http get: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &NetworkError{Station: station, Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, &NetworkError{Station: station, Err: fmt.Errorf("read body: %w", err)}
	}

	var data measuresResponse
	if err := sonic.Unmarshal(body, &data); err != nil {
		return nil, &NetworkError{Station: station, Err: fmt.Errorf("decode measures: %w", err)}
	}
	return data.Items, nil
}

// Level returns the latest reading of the level measure at station whose
// qualifier matches exactly.
func (c *Client) Level(ctx context.Context, station, qualifier string) (Reading, error) {
	items, err := c.Measures(ctx, station)
	if err != nil {
		return Reading{}, err
	}
	return FindLevel(items, station, qualifier)
}

// FindLevel picks the level reading for qualifier out of a measures listing.
func FindLevel(items []Measure, station, qualifier string) (Reading, error) {
	for _, m := range items {
		if m.Qualifier != qualifier || m.Parameter != parameterLevel {
			continue
		}
		if r, ok := m.Latest(); ok {
			return r, nil
		}
	}
	return Reading{}, fmt.Errorf("gauge: station %s qualifier %q: %w", station, qualifier, ErrNotFound)
}
