package notify

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
)

// Sender delivers a rendered email.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// Sendmail pipes messages to a sendmail-compatible program invoked as
// `path -t -oi`, so recipients are taken from the headers.
type Sendmail struct {
	Path string
}

// Send runs the mail transfer program with msg on stdin.
func (s Sendmail) Send(ctx context.Context, msg Message) error {
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, s.Path, "-t", "-oi")
	cmd.Stdin = bytes.NewReader(msg.Bytes())
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if out := strings.TrimSpace(stderr.String()); out != "" {
			return fmt.Errorf("notify: %s: %w: %s", s.Path, err, out)
		}
		return fmt.Errorf("notify: %s: %w", s.Path, err)
	}
	return nil
}

// Printer writes messages to W instead of sending them.
type Printer struct {
	W io.Writer
}

// Send writes msg verbatim.
func (p Printer) Send(_ context.Context, msg Message) error {
	_, err := p.W.Write(msg.Bytes())
	return err
}
