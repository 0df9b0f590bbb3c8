package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// DiscordNotifier posts alerts as webhook embeds.
type DiscordNotifier struct {
	routes routeTable
	client *http.Client
	logger zerolog.Logger
}

// NewDiscordNotifier builds a Discord notifier. routes maps a category name to a webhook url; other
// categories go to webhookURL.
func NewDiscordNotifier(webhookURL string, routes map[string]string, timeout time.Duration, logger zerolog.Logger) (*DiscordNotifier, error) {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	rt, err := newRouteTable(webhookURL, routes)
	if err != nil {
		return nil, fmt.Errorf("discord routes: %w", err)
	}
	return &DiscordNotifier{
		routes: rt,
		client: &http.Client{Timeout: timeout},
		logger: logger.With().Str("component", "alert_discord").Logger(),
	}, nil
}

type discordPayload struct {
	Embeds []discordEmbed `json:"embeds"`
}

type discordEmbed struct {
	Title       string         `json:"title,omitempty"`
	URL         string         `json:"url,omitempty"`
	Description string         `json:"description,omitempty"`
	Color       int            `json:"color,omitempty"`
	Timestamp   string         `json:"timestamp,omitempty"`
	Author      *discordAuthor `json:"author,omitempty"`
	Fields      []discordField `json:"fields,omitempty"`
	Thumbnail   *discordImage  `json:"thumbnail,omitempty"`
	Image       *discordImage  `json:"image,omitempty"`
	Footer      *discordFooter `json:"footer,omitempty"`
}

type discordAuthor struct {
	Name    string `json:"name"`
	IconURL string `json:"icon_url,omitempty"`
}

type discordField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

type discordImage struct {
	URL string `json:"url"`
}

type discordFooter struct {
	Text    string `json:"text"`
	IconURL string `json:"icon_url,omitempty"`
}

func embedFor(alert Alert) discordEmbed {
	e := discordEmbed{
		Title:       alert.Title,
		URL:         alert.URL,
		Description: strings.Join(alert.Description, "\n"),
		Color:       alert.Color,
	}
	if !alert.Timestamp.IsZero() {
		e.Timestamp = alert.Timestamp.UTC().Format(time.RFC3339)
	}
	if alert.Author != "" {
		e.Author = &discordAuthor{Name: alert.Author, IconURL: alert.AuthorIcon}
	}
	for _, f := range alert.Fields {
		e.Fields = append(e.Fields, discordField{Name: f.Name, Value: f.Value, Inline: f.Inline})
	}
	if alert.URL != "" && alert.LinkLabel != "" {
		e.Fields = append(e.Fields, discordField{Name: alert.LinkLabel, Value: alert.URL})
	}
	if alert.Thumbnail != "" {
		e.Thumbnail = &discordImage{URL: alert.Thumbnail}
	}
	if alert.Image != "" {
		e.Image = &discordImage{URL: alert.Image}
	}
	if alert.Footer != "" {
		e.Footer = &discordFooter{Text: alert.Footer, IconURL: alert.FooterIcon}
	}
	return e
}

// Notify posts a single embed to the routed webhook.
func (n *DiscordNotifier) Notify(ctx context.Context, alert Alert) error {
	webhook := n.routes.destination(alert.Category)
	if webhook == "" {
		return errors.New("discord webhook not configured")
	}

	body, err := json.Marshal(discordPayload{Embeds: []discordEmbed{embedFor(alert)}})
	if err != nil {
		return fmt.Errorf("marshal discord payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhook, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create discord request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send discord request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("discord unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	n.logger.Debug().
		Str("category", alert.Category.String()).
		Str("collection", alert.Collection).
		Msg("alert delivered (discord)")
	return nil
}

var _ Notifier = (*DiscordNotifier)(nil)
