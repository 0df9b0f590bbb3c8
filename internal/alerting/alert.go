// Package alerting renders alerts and delivers them to messaging channels.
package alerting

import (
	"context"
	"fmt"
	"strings"
	"time"

	"collectionwatch/internal/detect"
)

// Field is a labelled value shown on an alert card.
type Field struct {
	Name   string
	Value  string
	Inline bool
}

// Alert is one outbound notification. It carries enough structure for rich embeds and renders to
// plain text for channels that only take text.
type Alert struct {
	Category    detect.Category
	Collection  string
	Title       string
	URL         string
	LinkLabel   string
	Author      string
	AuthorIcon  string
	Description []string
	Fields      []Field
	Thumbnail   string
	Image       string
	Footer      string
	FooterIcon  string
	Color       int
	Timestamp   time.Time
}

// Notifier delivers alerts.
type Notifier interface {
	Notify(ctx context.Context, alert Alert) error
}

// Text renders the alert as a plain multi-line message.
func (a Alert) Text() string {
	var b strings.Builder
	if a.Author != "" {
		fmt.Fprintf(&b, "[%s]\n", a.Author)
	}
	if a.Title != "" {
		b.WriteString(a.Title)
		b.WriteString("\n")
	}
	for _, line := range a.Description {
		b.WriteString(line)
		b.WriteString("\n")
	}
	for _, f := range a.Fields {
		fmt.Fprintf(&b, "%s: %s\n", f.Name, f.Value)
	}
	if a.URL != "" {
		label := a.LinkLabel
		if label == "" {
			label = "Link"
		}
		fmt.Fprintf(&b, "%s: %s\n", label, a.URL)
	}
	if a.Footer != "" {
		b.WriteString(a.Footer)
		b.WriteString("\n")
	}
	if !a.Timestamp.IsZero() {
		fmt.Fprintf(&b, "%s UTC", a.Timestamp.UTC().Format(time.RFC3339))
	}
	return strings.TrimRight(b.String(), "\n")
}

// routeTable resolves a per-category destination with a default fallback.
type routeTable struct {
	fallback string
	routes   map[detect.Category]string
}

func newRouteTable(fallback string, raw map[string]string) (routeTable, error) {
	rt := routeTable{fallback: fallback, routes: make(map[detect.Category]string, len(raw))}
	for name, dest := range raw {
		cat, err := detect.ParseCategory(name)
		if err != nil {
			return routeTable{}, err
		}
		if strings.TrimSpace(dest) != "" {
			rt.routes[cat] = strings.TrimSpace(dest)
		}
	}
	return rt, nil
}

func (rt routeTable) destination(cat detect.Category) string {
	if dest, ok := rt.routes[cat]; ok {
		return dest
	}
	return rt.fallback
}
