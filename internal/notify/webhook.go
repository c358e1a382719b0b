package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/riverlevels/riverlevels/internal/config"
	"github.com/riverlevels/riverlevels/internal/monitor"
)

const webhookTimeout = 10 * time.Second

// discordSender is the subset of *discordgo.Session used for delivery.
type discordSender interface {
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Webhooks delivers alerts to chat and HTTP targets.
type Webhooks struct {
	targets []config.WebhookConfig
	webBase string
	ack     string
	client  *http.Client

	// newDiscord is swapped by tests.
	newDiscord func(token string) (discordSender, error)
}

// NewWebhooks returns a Webhooks for targets. webBase and ack are used to
// link station pages and attribute the data source.
func NewWebhooks(targets []config.WebhookConfig, webBase, ack string) *Webhooks {
	return &Webhooks{
		targets:    targets,
		webBase:    webBase,
		ack:        ack,
		client:     &http.Client{Timeout: webhookTimeout},
		newDiscord: newDiscordSession,
	}
}

func newDiscordSession(token string) (discordSender, error) {
	return discordgo.New("Bot " + token)
}

// Deliver sends alerts to every configured target. Failures are logged and
// do not stop delivery to the remaining targets; the number of failed
// targets is returned.
func (w *Webhooks) Deliver(ctx context.Context, alerts []monitor.Alert) int {
	if w == nil || len(alerts) == 0 {
		return 0
	}
	failed := 0
	for _, wh := range w.targets {
		var err error
		switch wh.Type {
		case "slack":
			err = w.sendSlack(ctx, wh.URL(), alerts)
		case "teams":
			err = w.sendTeams(ctx, wh.URL(), alerts)
		case "http":
			err = w.sendHTTP(ctx, wh.URL(), alerts)
		case "discord":
			err = w.sendDiscord(ctx, wh, alerts)
		default:
			slog.Warn("notify: unknown webhook type, skipping", "type", wh.Type)
			continue
		}

		if err != nil {
			failed++
			slog.Error("notify: webhook delivery failed", "type", wh.Type, "err", err)
		} else {
			slog.Debug("notify: webhook delivered", "type", wh.Type, "alerts", len(alerts))
		}
	}
	return failed
}

// lines renders one line per alert with an optional markdown link.
func (w *Webhooks) lines(alerts []monitor.Alert, markdown bool) []string {
	out := make([]string, 0, len(alerts))
	for _, a := range alerts {
		name := a.Name
		if u := StationURL(w.webBase, a); u != "" && markdown {
			name = fmt.Sprintf("[%s](%s)", a.Name, u)
		}
		out = append(out, name+" "+a.Text)
	}
	return out
}

func (w *Webhooks) sendSlack(ctx context.Context, url string, alerts []monitor.Alert) error {
	text := fmt.Sprintf("*River level changes %s*\n%s\n_%s_",
		Summary(alerts), strings.Join(w.lines(alerts, false), "\n"), w.ack)
	body, _ := json.Marshal(map[string]string{"text": text})
	return w.post(ctx, url, body)
}

func (w *Webhooks) sendTeams(ctx context.Context, url string, alerts []monitor.Alert) error {
	payload := map[string]interface{}{
		"@type":      "MessageCard",
		"@context":   "http://schema.org/extensions",
		"themeColor": summaryColor(Summary(alerts)),
		"summary":    "River level changes " + Summary(alerts),
		"title":      "River level changes " + Summary(alerts),
		"text":       strings.Join(w.lines(alerts, true), "<br>") + "<br><i>" + w.ack + "</i>",
	}
	body, _ := json.Marshal(payload)
	return w.post(ctx, url, body)
}

type httpAlert struct {
	Key        string  `json:"key"`
	Name       string  `json:"name"`
	Direction  string  `json:"direction"`
	Text       string  `json:"text"`
	Value      float64 `json:"value"`
	Previous   float64 `json:"previous"`
	Delta      float64 `json:"delta"`
	StationURL string  `json:"station_url,omitempty"`
}

func (w *Webhooks) sendHTTP(ctx context.Context, url string, alerts []monitor.Alert) error {
	out := make([]httpAlert, 0, len(alerts))
	for _, a := range alerts {
		out = append(out, httpAlert{
			Key:        a.Key,
			Name:       a.Name,
			Direction:  string(a.Direction),
			Text:       a.Text,
			Value:      a.Value,
			Previous:   a.Previous,
			Delta:      a.Delta,
			StationURL: StationURL(w.webBase, a),
		})
	}
	body, _ := json.Marshal(map[string]interface{}{
		"alerts":          out,
		"acknowledgement": w.ack,
	})
	return w.post(ctx, url, body)
}

func (w *Webhooks) sendDiscord(ctx context.Context, wh config.WebhookConfig, alerts []monitor.Alert) error {
	token := wh.Token()
	if token == "" {
		return fmt.Errorf("discord: %s is empty", wh.TokenEnv)
	}
	s, err := w.newDiscord(token)
	if err != nil {
		return fmt.Errorf("discord: session: %w", err)
	}
	content := fmt.Sprintf("**River level changes %s**\n%s\n*%s*",
		Summary(alerts), strings.Join(w.lines(alerts, false), "\n"), w.ack)
	if _, err := s.ChannelMessageSend(wh.ChannelID, content, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("discord: send: %w", err)
	}
	return nil
}

func (w *Webhooks) post(ctx context.Context, url string, body []byte) error {
	if url == "" {
		return fmt.Errorf("webhook url is empty")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("http post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned HTTP %d", resp.StatusCode)
	}
	return nil
}

func summaryColor(s string) string {
	switch s {
	case "UP":
		return "FF4F6A"
	case "DOWN":
		return "00D4FF"
	default:
		return "FFAB40"
	}
}
