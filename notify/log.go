package notify

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
)

// LogDispatcher only logs. Used for SMS (no gateway is configured in this
// repo) and for email when SMTP is disabled.
type LogDispatcher struct {
	Log     zerolog.Logger
	Channel string
}

func (d LogDispatcher) Send(_ context.Context, to, template string, data map[string]any) error {
	if !knownTemplate(template) {
		return fmt.Errorf("%w: %s", ErrUnknownTemplate, template)
	}
	d.Log.Info().
		Str("channel", d.Channel).
		Str("to", to).
		Str("template", template).
		Interface("data", data).
		Msg("notification")
	return nil
}
