package main

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

// gaugeServer serves a single downstream gauge whose value can be changed
// between runs.
type gaugeServer struct {
	mu    sync.Mutex
	value string
	date  string
}

func (g *gaugeServer) set(value, date string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.value, g.date = value, date
}

func (g *gaugeServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/id/measures" || r.URL.Query().Get("stationReference") != "1503TH" {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"items": []}`))
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"items": [{"latestReading": {"dateTime": %q, "value": %s},
	  "parameter": "level", "qualifier": "Downstream Stage"}]}`, g.date, g.value)
}

func newGauge(t *testing.T) (*gaugeServer, *httptest.Server) {
	t.Helper()
	g := &gaugeServer{value: "1.08", date: "2019-01-01T01:00:00Z"}
	srv := httptest.NewServer(g)
	t.Cleanup(srv.Close)
	return g, srv
}

func writeConfig(t *testing.T, apiRoot, extra string) (cfgPath, savePath string) {
	t.Helper()
	dir := t.TempDir()
	cfgPath = filepath.Join(dir, "riverlevels.conf")
	savePath = filepath.Join(dir, "riverlevels.save")
	content := fmt.Sprintf(`api_root: %s
savefile: %s
monitors:
  - station: 1503TH
    qualifier: Downstream Stage
    name: Sandford Lock
    externalId: "7057"
%s`, apiRoot, savePath, extra)
	if err := os.WriteFile(cfgPath, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return cfgPath, savePath
}

func runCLI(t *testing.T, stdin string, args ...string) (code int, stdout, stderr string) {
	t.Helper()
	defer slog.SetDefault(slog.Default())
	var out, errOut bytes.Buffer
	code = run(context.Background(), args, strings.NewReader(stdin), &out, &errOut)
	return code, out.String(), errOut.String()
}

func TestLogLevel(t *testing.T) {
	tests := []struct {
		verbose, debug bool
		want           slog.Level
	}{
		{false, false, slog.LevelWarn},
		{true, false, slog.LevelInfo},
		{false, true, slog.LevelDebug},
		{true, true, slog.LevelDebug},
	}
	for _, tc := range tests {
		if got := logLevel(tc.verbose, tc.debug); got != tc.want {
			t.Errorf("logLevel(%v, %v) = %v, want %v", tc.verbose, tc.debug, got, tc.want)
		}
	}
}

func TestRun_Usage(t *testing.T) {
	if code, _, _ := runCLI(t, ""); code != 2 {
		t.Errorf("no action: exit %d, want 2", code)
	}
	if code, _, errOut := runCLI(t, "", "flood"); code != 2 || !strings.Contains(errOut, `unknown action "flood"`) {
		t.Errorf("unknown action: exit %d, stderr %q", code, errOut)
	}
	if code, _, _ := runCLI(t, "", "level"); code != 2 {
		t.Errorf("level without station: exit %d, want 2", code)
	}
}

func TestRun_Level(t *testing.T) {
	_, srv := newGauge(t)

	code, out, errOut := runCLI(t, "", "level", "-q", "Downstream Stage", "-api", srv.URL, "1503TH")
	if code != 0 {
		t.Fatalf("exit %d, stderr %s", code, errOut)
	}
	if out != "1.08 2019-01-01T01:00:00Z\n" {
		t.Errorf("stdout %q", out)
	}
}

func TestFormatLevel(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{10, "10.0"},
		{0, "0.0"},
		{1.08, "1.08"},
		{-0.5, "-0.5"},
		{2.314, "2.314"},
	}
	for _, tc := range tests {
		if got := formatLevel(tc.in); got != tc.want {
			t.Errorf("formatLevel(%v) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestRun_LevelWholeMetre(t *testing.T) {
	g, srv := newGauge(t)
	g.set("10", "2019-01-01T01:00:00Z")

	code, out, errOut := runCLI(t, "", "level", "-q", "Downstream Stage", "-api", srv.URL, "1503TH")
	if code != 0 {
		t.Fatalf("exit %d, stderr %s", code, errOut)
	}
	if out != "10.0 2019-01-01T01:00:00Z\n" {
		t.Errorf("stdout %q", out)
	}
}

func TestRun_LevelNotFound(t *testing.T) {
	_, srv := newGauge(t)

	code, out, errOut := runCLI(t, "", "level", "-api", srv.URL, "1503TH")
	if code != 1 {
		t.Errorf("exit %d, want 1", code)
	}
	if out != "" {
		t.Errorf("stdout %q", out)
	}
	if !strings.Contains(errOut, "level failed") {
		t.Errorf("stderr %q", errOut)
	}
}

func TestRun_Alerts(t *testing.T) {
	g, srv := newGauge(t)
	cfgPath, savePath := writeConfig(t, srv.URL, "")

	code, out, errOut := runCLI(t, "", "alerts", "-c", cfgPath)
	if code != 0 {
		t.Fatalf("first run: exit %d, stderr %s", code, errOut)
	}
	if out != "" {
		t.Errorf("first run printed alerts: %q", out)
	}
	if _, err := os.Stat(savePath); err != nil {
		t.Fatalf("state file not written: %v", err)
	}

	g.set("1.30", "2019-01-01T02:00:00Z")
	code, out, errOut = runCLI(t, "", "-v", "alerts", "-c", cfgPath)
	if code != 0 {
		t.Fatalf("second run: exit %d, stderr %s", code, errOut)
	}
	want := "UP Sandford Lock now 1.30m, UP by 22cm since 2019-01-01 01:00:00\n"
	if out != want {
		t.Errorf("stdout %q, want %q", out, want)
	}

	saved, err := os.ReadFile(savePath)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(saved), `"alert_date": "2019-01-01T02:00:00Z"`) {
		t.Errorf("state not advanced:\n%s", saved)
	}
}

func TestRun_AlertsConfigFromEnvAndStdin(t *testing.T) {
	_, srv := newGauge(t)
	cfgPath, savePath := writeConfig(t, srv.URL, "")

	t.Setenv(configEnv, cfgPath)
	if code, _, errOut := runCLI(t, "", "alerts"); code != 0 {
		t.Fatalf("env config: exit %d, stderr %s", code, errOut)
	}
	if _, err := os.Stat(savePath); err != nil {
		t.Errorf("state file not written: %v", err)
	}

	data, err := os.ReadFile(cfgPath)
	if err != nil {
		t.Fatal(err)
	}
	if code, _, errOut := runCLI(t, string(data), "alerts", "-c", "-"); code != 0 {
		t.Errorf("stdin config: exit %d, stderr %s", code, errOut)
	}
}

func TestRun_AlertsMissingConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "absent.conf")
	if code, _, _ := runCLI(t, "", "alerts", "-c", path); code != 1 {
		t.Errorf("exit %d, want 1", code)
	}
}

func TestRun_EmailAlerts(t *testing.T) {
	g, srv := newGauge(t)

	t.Run("no email section", func(t *testing.T) {
		cfgPath, _ := writeConfig(t, srv.URL, "")
		code, _, errOut := runCLI(t, "", "email-alerts", "-c", cfgPath, "-n")
		if code != 1 || !strings.Contains(errOut, "email") {
			t.Errorf("exit %d, stderr %q", code, errOut)
		}
	})

	t.Run("dry run", func(t *testing.T) {
		g.set("1.08", "2019-01-01T01:00:00Z")
		cfgPath, _ := writeConfig(t, srv.URL, "email:\n  recipients: [ops@example.com]\n")
		if code, _, errOut := runCLI(t, "", "email-alerts", "-c", cfgPath, "-n"); code != 0 {
			t.Fatalf("baseline run: exit %d, stderr %s", code, errOut)
		}

		g.set("0.90", "2019-01-01T02:00:00Z")
		code, out, errOut := runCLI(t, "", "email-alerts", "-c", cfgPath, "-n")
		if code != 0 {
			t.Fatalf("exit %d, stderr %s", code, errOut)
		}
		for _, want := range []string{
			"To: ops@example.com\n",
			"Subject: River level changes DOWN\n",
			"Sandford Lock now 0.90m, DOWN by 18cm since 2019-01-01 01:00:00\n",
		} {
			if !strings.Contains(out, want) {
				t.Errorf("email missing %q:\n%s", want, out)
			}
		}
	})
}
