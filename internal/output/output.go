// Package output delivers finished transcripts to their destination.
package output

import (
	"fmt"
	"log/slog"

	"github.com/atotto/clipboard"
)

// Deliverer places a finished transcript where the user consumes it.
type Deliverer interface {
	Deliver(text string) error
	Name() string
}

// New builds the deliverer selected by configuration. Supported modes are
// "clipboard" and "log".
func New(mode string, logger *slog.Logger) (Deliverer, error) {
	switch mode {
	case "clipboard":
		return &clipboardDeliverer{}, nil
	case "log":
		return &logDeliverer{logger: logger.With("component", "output")}, nil
	default:
		return nil, fmt.Errorf("unknown output mode %q", mode)
	}
}

type clipboardDeliverer struct{}

func (d *clipboardDeliverer) Name() string { return "clipboard" }

func (d *clipboardDeliverer) Deliver(text string) error {
	if err := clipboard.WriteAll(text); err != nil {
		return fmt.Errorf("copy transcript to clipboard: %w", err)
	}
	return nil
}

type logDeliverer struct {
	logger *slog.Logger
}

func (d *logDeliverer) Name() string { return "log" }

func (d *logDeliverer) Deliver(text string) error {
	d.logger.Info("transcript ready", "text", text)
	return nil
}
