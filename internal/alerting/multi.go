package alerting

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"collectionwatch/internal/config"
)

// Multi fans an alert out to several channels. Delivery counts as successful when at least one
// channel accepts it; partial failures are logged.
type Multi struct {
	notifiers []namedNotifier
	logger    zerolog.Logger
}

type namedNotifier struct {
	name string
	Notifier
}

// NewMulti builds an empty fan-out; register channels with Add.
func NewMulti(logger zerolog.Logger) *Multi {
	return &Multi{logger: logger.With().Str("component", "alert_multi").Logger()}
}

// Add registers a channel. The name only appears in logs and errors.
func (m *Multi) Add(name string, n Notifier) *Multi {
	m.notifiers = append(m.notifiers, namedNotifier{name: name, Notifier: n})
	return m
}

// Len reports the number of registered channels.
func (m *Multi) Len() int { return len(m.notifiers) }

func (m *Multi) Notify(ctx context.Context, alert Alert) error {
	if len(m.notifiers) == 0 {
		return errors.New("no alert channel configured")
	}
	var errs []error
	for _, n := range m.notifiers {
		if err := n.Notify(ctx, alert); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", n.name, err))
		}
	}
	if len(errs) == len(m.notifiers) {
		return errors.Join(errs...)
	}
	for _, err := range errs {
		m.logger.Warn().Err(err).
			Str("category", alert.Category.String()).
			Str("collection", alert.Collection).
			Msg("alert channel failed; delivered elsewhere")
	}
	return nil
}

// LogNotifier writes alerts to the log instead of a messaging channel.
type LogNotifier struct {
	logger zerolog.Logger
}

// NewLogNotifier builds a log-only notifier.
func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With().Str("component", "alert_log").Logger()}
}

func (n *LogNotifier) Notify(_ context.Context, alert Alert) error {
	n.logger.Info().
		Str("category", alert.Category.String()).
		Str("collection", alert.Collection).
		Str("title", alert.Title).
		Str("url", alert.URL).
		Msg("alert")
	return nil
}

// FromConfig builds the configured channels. With none enabled, alerts are logged.
func FromConfig(cfg config.AlertingConfig, timeout time.Duration, logger zerolog.Logger) (Notifier, error) {
	multi := NewMulti(logger)
	if cfg.Telegram.Enabled {
		tg, err := NewTelegramNotifier(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Telegram.APIBase, cfg.Telegram.Routes, timeout, logger)
		if err != nil {
			return nil, err
		}
		multi.Add("telegram", tg)
	}
	if cfg.Discord.Enabled {
		dc, err := NewDiscordNotifier(cfg.Discord.WebhookURL, cfg.Discord.Routes, timeout, logger)
		if err != nil {
			return nil, err
		}
		multi.Add("discord", dc)
	}
	if multi.Len() == 0 {
		logger.Warn().Msg("no alert channel enabled; alerts will only be logged")
		return NewLogNotifier(logger), nil
	}
	return multi, nil
}

var (
	_ Notifier = (*Multi)(nil)
	_ Notifier = (*LogNotifier)(nil)
)
