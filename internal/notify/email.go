package notify

import (
	"fmt"
	"html"
	"strings"

	"github.com/riverlevels/riverlevels/internal/monitor"
)

// Format selects how an email body is rendered.
type Format int

const (
	FormatPlain Format = iota
	FormatHTML
)

// EmailOptions controls email rendering.
type EmailOptions struct {
	Recipients []string

	// Subject overrides the generated "River level changes ..." subject.
	Subject string
	From    string
	Format  Format

	// WebBase is the station page base URL used for HTML links.
	WebBase string

	// Acknowledgement is the data-source attribution line.
	Acknowledgement string
}

// Message is a complete email: header lines and body lines.
type Message struct {
	Headers []string
	Body    []string
}

// Bytes renders the message as headers, a blank line, the body and a
// trailing newline, suitable for `sendmail -t`.
func (m Message) Bytes() []byte {
	lines := make([]string, 0, len(m.Headers)+1+len(m.Body))
	lines = append(lines, m.Headers...)
	lines = append(lines, "")
	lines = append(lines, m.Body...)
	return []byte(strings.Join(lines, "\n") + "\n")
}

// Summary is "UP", "DOWN" or "UP/DOWN" depending on the alert directions.
func Summary(alerts []monitor.Alert) string {
	var up, down bool
	for _, a := range alerts {
		switch a.Direction {
		case monitor.Up:
			up = true
		case monitor.Down:
			down = true
		}
	}
	switch {
	case up && down:
		return "UP/DOWN"
	case up:
		return "UP"
	default:
		return "DOWN"
	}
}

// StationURL is the web page of a station, or "" without an external id.
func StationURL(webBase string, a monitor.Alert) string {
	if a.ExternalID == "" {
		return ""
	}
	return fmt.Sprintf("%s/%s?direction=%s", strings.TrimRight(webBase, "/"), a.ExternalID, a.MonitorDirection)
}

// RenderEmail builds the notification email for alerts.
func RenderEmail(alerts []monitor.Alert, opts EmailOptions) Message {
	subject := opts.Subject
	if subject == "" {
		subject = "River level changes " + Summary(alerts)
	}

	headers := []string{
		"To: " + strings.Join(opts.Recipients, ","),
		"Subject: " + subject,
	}
	if opts.From != "" {
		headers = append(headers, "From: "+opts.From)
	}

	var body []string
	switch opts.Format {
	case FormatHTML:
		body = htmlBody(alerts, subject, opts)
		headers = append(headers, "Content-type: text/html; charset=UTF-8")
	default:
		for _, a := range alerts {
			body = append(body, a.Name+" "+a.Text)
		}
		body = append(body, "", opts.Acknowledgement)
		headers = append(headers, "Content-type: text/plain; charset=UTF-8")
	}

	return Message{Headers: headers, Body: body}
}

func htmlBody(alerts []monitor.Alert, subject string, opts EmailOptions) []string {
	body := []string{
		"<!doctype html>",
		`<html lang="en">`,
		"<head><title>" + html.EscapeString(subject) + "</title></head>",
		"<body>",
		`<div id="alerts">`,
	}
	for _, a := range alerts {
		name := html.EscapeString(a.Name)
		if u := StationURL(opts.WebBase, a); u != "" {
			name = `<a href="` + html.EscapeString(u) + `">` + name + "</a>"
		}
		body = append(body, name+" "+html.EscapeString(a.Text)+"<br>")
	}
	return append(body,
		"</div>",
		`<div id="ack">`+html.EscapeString(opts.Acknowledgement)+"</div>",
		"</body>",
		"</html>",
	)
}
