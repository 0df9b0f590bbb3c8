package alerting

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/rs/zerolog"
)

// TelegramNotifier pushes alerts through the Telegram Bot API.
type TelegramNotifier struct {
	bot    *bot.Bot
	routes routeTable
	logger zerolog.Logger
}

// NewTelegramNotifier builds a Telegram notifier. routes maps a category name to a chat id; other
// categories go to chatID. No request is made until the first alert.
func NewTelegramNotifier(botToken, chatID, baseURL string, routes map[string]string, timeout time.Duration, logger zerolog.Logger) (*TelegramNotifier, error) {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}
	rt, err := newRouteTable(chatID, routes)
	if err != nil {
		return nil, fmt.Errorf("telegram routes: %w", err)
	}

	b, err := bot.New(botToken,
		bot.WithSkipGetMe(),
		bot.WithServerURL(strings.TrimRight(baseURL, "/")),
		bot.WithHTTPClient(timeout, &http.Client{Timeout: timeout}),
	)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}

	return &TelegramNotifier{
		bot:    b,
		routes: rt,
		logger: logger.With().Str("component", "alert_telegram").Logger(),
	}, nil
}

// Notify sends the rendered alert as a text message to the routed chat.
func (n *TelegramNotifier) Notify(ctx context.Context, alert Alert) error {
	chatID := n.routes.destination(alert.Category)
	if chatID == "" {
		return errors.New("telegram chat id not configured")
	}

	noPreview := alert.Image == "" && alert.Thumbnail == ""
	_, err := n.bot.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:             chatID,
		Text:               alert.Text(),
		LinkPreviewOptions: &models.LinkPreviewOptions{IsDisabled: &noPreview},
	})
	if err != nil {
		return fmt.Errorf("send telegram message: %w", err)
	}

	n.logger.Debug().
		Str("category", alert.Category.String()).
		Str("collection", alert.Collection).
		Str("chat_id", chatID).
		Msg("alert delivered (telegram)")
	return nil
}

var _ Notifier = (*TelegramNotifier)(nil)
