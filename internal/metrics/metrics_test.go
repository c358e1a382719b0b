package metrics

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestWriteText(t *testing.T) {
	m := New()
	at := time.Date(2019, 1, 1, 1, 0, 0, 0, time.UTC)
	m.ObserveReading("1503TH", "Downstream Stage", "Sandford Lock", 1.08, at)
	m.ObserveBaseline("1503TH", "Downstream Stage", "Sandford Lock", 1.08)
	m.IncAlert("1503TH", "Downstream Stage", "Sandford Lock", "UP")
	m.IncFetchError("1491TH", "Stage", "1491TH")
	m.MarkRun(at)

	var buf bytes.Buffer
	if err := m.WriteText(&buf); err != nil {
		t.Fatalf("WriteText() error = %v", err)
	}
	out := buf.String()

	for _, want := range []string{
		`riverlevels_level_metres{name="Sandford Lock",qualifier="Downstream Stage",station="1503TH"} 1.08`,
		`riverlevels_reading_timestamp_seconds{name="Sandford Lock",qualifier="Downstream Stage",station="1503TH"} 1.5463044e+09`,
		`riverlevels_baseline_metres{name="Sandford Lock",qualifier="Downstream Stage",station="1503TH"} 1.08`,
		`riverlevels_alerts_total{direction="UP",name="Sandford Lock",qualifier="Downstream Stage",station="1503TH"} 1`,
		`riverlevels_fetch_errors_total{name="1491TH",qualifier="Stage",station="1491TH"} 1`,
		`# TYPE riverlevels_last_run_timestamp_seconds gauge`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q\n%s", want, out)
		}
	}
}

func TestWriteTextfile(t *testing.T) {
	m := New()
	m.ObserveReading("S", "Stage", "S", 0.5, time.Time{})

	path := filepath.Join(t.TempDir(), "riverlevels.prom")
	if err := m.WriteTextfile(path); err != nil {
		t.Fatalf("WriteTextfile() error = %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `riverlevels_level_metres{name="S",qualifier="Stage",station="S"} 0.5`) {
		t.Errorf("textfile content:\n%s", data)
	}
	if strings.Contains(string(data), "riverlevels_reading_timestamp_seconds{") {
		t.Error("zero reading time must not be exported")
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveReading("S", "Stage", "S", 1, time.Now())
	m.IncAlert("S", "Stage", "S", "UP")
	m.MarkRun(time.Now())
	if err := m.WriteTextfile(filepath.Join(t.TempDir(), "x.prom")); err != nil {
		t.Errorf("nil WriteTextfile() error = %v", err)
	}
}

func TestHandler(t *testing.T) {
	m := New()
	m.ObserveBaseline("S", "Stage", "S", 2.25)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	if !strings.Contains(string(body), `riverlevels_baseline_metres{name="S",qualifier="Stage",station="S"} 2.25`) {
		t.Errorf("body:\n%s", body)
	}
}
