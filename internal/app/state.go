package app

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"

	"collectionwatch/internal/detect"
	"collectionwatch/internal/storage"
)

// StateOptions select what the state commands operate on.
type StateOptions struct {
	Collection string
	Categories []detect.Category
}

func (o StateOptions) categories() []detect.Category {
	if len(o.Categories) == 0 {
		return detect.AllCategories
	}
	return o.Categories
}

// ShowState prints the stored keys for a collection.
func (a *App) ShowState(ctx context.Context, opts StateOptions) error {
	collection, err := a.resolveCollection(opts.Collection)
	if err != nil {
		return err
	}
	state, closeState, err := a.openState(ctx)
	if err != nil {
		return err
	}
	defer closeState()

	entries, err := state.Snapshot(ctx, collection, opts.categories())
	if err != nil {
		return err
	}
	return writeEntries(a, entries)
}

func writeEntries(a *App, entries []storage.Entry) error {
	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Category\tKey\tValue")
	for _, e := range entries {
		value := "-"
		if e.Present {
			value = sanitizeInline(e.Value)
		}
		fmt.Fprintf(writer, "%s\t%s\t%s\n", e.Category, e.Key, value)
	}
	return writer.Flush()
}

// ResetState deletes stored state so the next cycle bootstraps the selected categories.
func (a *App) ResetState(ctx context.Context, opts StateOptions) error {
	collection, err := a.resolveCollection(opts.Collection)
	if err != nil {
		return err
	}
	state, closeState, err := a.openState(ctx)
	if err != nil {
		return err
	}
	defer closeState()

	cats := opts.categories()
	if err := state.Reset(ctx, collection, cats); err != nil {
		return err
	}
	names := make([]string, 0, len(cats))
	for _, c := range cats {
		names = append(names, c.String())
	}
	a.Logger.Info().Str("collection", collection).Strs("categories", names).Msg("state reset")
	fmt.Fprintf(a.Out, "reset %s for %s\n", strings.Join(names, ","), collection)

	purged, err := state.PurgeExpired(ctx)
	if err != nil {
		a.Logger.Warn().Err(err).Msg("could not purge expired keys")
		return nil
	}
	if purged > 0 {
		a.Logger.Info().Int64("purged", purged).Msg("expired keys removed")
		fmt.Fprintf(a.Out, "purged %d expired keys\n", purged)
	}
	return nil
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
