// Package service runs the poll cycle: for every tracked collection and enabled category it fetches
// fresh marketplace data, asks the detectors what is new, delivers alerts and records progress.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"collectionwatch/internal/alerting"
	"collectionwatch/internal/config"
	"collectionwatch/internal/detect"
	"collectionwatch/internal/fetcher"
	"collectionwatch/internal/scheduler"
	"collectionwatch/internal/storage"
)

// Options carry the poll settings derived from configuration.
type Options struct {
	Collections     []string
	Categories      map[detect.Category]bool
	Policy          detect.Policy
	ListingsWindow  int
	SalesWindow     int
	Workers         int
	CycleTimeout    time.Duration
	AnnounceRestart bool
	BurnAddress     common.Address
}

// OptionsFromConfig maps configuration onto poll options.
func OptionsFromConfig(cfg *config.Config) (Options, error) {
	cats, err := cfg.EnabledCategories()
	if err != nil {
		return Options{}, fmt.Errorf("%w: %w", config.ErrConfiguration, err)
	}
	return Options{
		Collections:     cfg.TrackedCollections(),
		Categories:      cats,
		Policy:          cfg.Policy(),
		ListingsWindow:  cfg.Reservoir.ListingsWindow,
		SalesWindow:     cfg.Reservoir.SalesWindow,
		Workers:         cfg.Scheduler.Workers,
		CycleTimeout:    cfg.Scheduler.CycleTimeout,
		AnnounceRestart: cfg.Alerting.AnnounceRestart,
		BurnAddress:     cfg.BurnAddress(),
	}, nil
}

// Report summarises one poll cycle.
type Report struct {
	Cycle      string
	Alerts     int
	Suppressed int
	Skipped    int
	Failures   int
}

func (r *Report) add(o Report) {
	r.Alerts += o.Alerts
	r.Suppressed += o.Suppressed
	r.Skipped += o.Skipped
	r.Failures += o.Failures
}

// Poller orchestrates fetching, change detection, alerting and state updates.
type Poller struct {
	opts      Options
	scheduler *scheduler.Scheduler
	source    fetcher.Source
	state     *storage.State
	notifier  alerting.Notifier
	render    renderer
	logger    zerolog.Logger
	now       func() time.Time
	newCycle  func() string
}

// New constructs a Poller. sched may be nil when only RunCycle is used.
func New(opts Options, sched *scheduler.Scheduler, source fetcher.Source, state *storage.State, notifier alerting.Notifier, logger zerolog.Logger) *Poller {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	now := func() time.Time { return time.Now().UTC() }
	return &Poller{
		opts:      opts,
		scheduler: sched,
		source:    source,
		state:     state,
		notifier:  notifier,
		render:    renderer{meta: source, now: now},
		logger:    logger.With().Str("component", "poller").Logger(),
		now:       now,
		newCycle:  func() string { return uuid.NewString() },
	}
}

// Run polls until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) error {
	if p.scheduler == nil {
		return errors.New("scheduler not configured")
	}
	return p.scheduler.Run(ctx, func(ctx context.Context, _ time.Time) error {
		report := p.RunCycle(ctx)
		if report.Failures > 0 {
			return fmt.Errorf("cycle %s: %d failures", report.Cycle, report.Failures)
		}
		return nil
	})
}

// RunCycle performs one pass over every tracked collection. Collections fan out to at most
// Workers goroutines; categories of one collection run in order on a single goroutine. Per-item
// and per-category failures are logged and counted, never returned.
func (p *Poller) RunCycle(ctx context.Context) Report {
	report := Report{Cycle: p.newCycle()}
	logger := p.logger.With().Str("cycle", report.Cycle).Logger()

	if p.opts.CycleTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.opts.CycleTimeout)
		defer cancel()
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.Workers)
	for _, collection := range p.opts.Collections {
		collection := collection
		g.Go(func() error {
			r := p.pollCollection(gctx, logger.With().Str("collection", collection).Logger(), collection)
			mu.Lock()
			report.add(r)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	logger.Info().
		Int("collections", len(p.opts.Collections)).
		Int("alerts", report.Alerts).
		Int("suppressed", report.Suppressed).
		Int("skipped", report.Skipped).
		Int("failures", report.Failures).
		Msg("poll cycle complete")
	return report
}

// pollCollection runs every enabled category for one collection. The sales window is fetched at
// most once and shared by the sales and burn categories.
func (p *Poller) pollCollection(ctx context.Context, logger zerolog.Logger, collection string) Report {
	var report Report
	var (
		sales      []detect.Sale
		salesErr   error
		salesReady bool
	)
	loadSales := func() ([]detect.Sale, error) {
		if !salesReady {
			sales, salesErr = p.source.Sales(ctx, collection, p.opts.SalesWindow)
			salesReady = true
		}
		return sales, salesErr
	}

	for _, cat := range detect.AllCategories {
		if !p.opts.Categories[cat] {
			continue
		}
		if ctx.Err() != nil {
			logger.Warn().Err(ctx.Err()).Msg("cycle deadline reached; remaining categories skipped")
			report.Failures++
			return report
		}
		log := logger.With().Str("category", cat.String()).Logger()

		switch cat {
		case detect.CategoryFloor, detect.CategoryBid:
			report.add(p.pollScalar(ctx, log, cat, collection))
		case detect.CategoryListings:
			listings, err := p.source.Listings(ctx, collection, p.opts.ListingsWindow)
			if err != nil {
				log.Error().Err(err).Msg("could not pull listings")
				report.Failures++
				continue
			}
			report.add(reconcile(ctx, p, log, cat, collection, detect.ListingFeed, listings, p.render.listing))
		case detect.CategorySales:
			window, err := loadSales()
			if err != nil {
				log.Error().Err(err).Msg("could not pull sales")
				report.Failures++
				continue
			}
			report.add(reconcile(ctx, p, log, cat, collection, detect.SaleFeed, window, p.render.sale))
		case detect.CategoryBurn:
			window, err := loadSales()
			if err != nil {
				log.Error().Err(err).Msg("could not pull transfers")
				report.Failures++
				continue
			}
			burns := detect.Burns(window, p.opts.BurnAddress)
			report.add(reconcile(ctx, p, log, cat, collection, detect.SaleFeed, burns, p.render.burn))
		}
	}
	return report
}

func (p *Poller) pollScalar(ctx context.Context, logger zerolog.Logger, cat detect.Category, collection string) Report {
	var report Report
	det := detect.ScalarDetector{Category: cat, Policy: p.opts.Policy}

	fetch, render := p.source.LatestFloorAsk, p.render.floor
	if cat == detect.CategoryBid {
		fetch, render = p.source.LatestTopBid, p.render.bid
	}

	ev, err := fetch(ctx, collection)
	if err != nil {
		logger.Error().Err(err).Msg("could not pull latest event")
		report.Failures++
		return report
	}

	st, err := p.state.LoadScalar(ctx, cat, collection)
	if err != nil {
		logger.Error().Err(err).Msg("could not read state")
		report.Failures++
		return report
	}

	eval, err := det.Evaluate(ev, st)
	if err != nil {
		logger.Warn().Err(err).Msg("skipping incomplete event")
		report.Skipped++
		return report
	}

	log := logger.With().Str("id", ev.ID).Logger()
	switch eval.Outcome {
	case detect.Unchanged:
		return report
	case detect.Suppressed:
		log.Debug().Str("ratio", eval.Decision.Ratio.String()).Msg("change suppressed by cooldown")
		report.Suppressed++
		return report
	}

	alert, err := render(ctx, collection, ev)
	if err != nil {
		if errors.Is(err, detect.ErrIncompleteData) {
			log.Warn().Err(err).Msg("skipping alert with incomplete metadata")
			report.Skipped++
		} else {
			log.Error().Err(err).Msg("could not build alert")
			report.Failures++
		}
		return report
	}

	if err := p.notifier.Notify(ctx, alert); err != nil {
		log.Error().Err(err).Msg("alert delivery failed; state left untouched")
		report.Failures++
		return report
	}
	report.Alerts++

	if err := p.state.CommitScalar(ctx, cat, collection, det.Next(ev), p.opts.Policy.Cooldown); err != nil {
		log.Error().Err(err).Msg("could not record alerted event")
		report.Failures++
	}
	log.Info().
		Bool("overridden", eval.Decision.Overridden).
		Str("price", ev.Price.Decimal.String()).
		Msg("alerted")
	return report
}

// reconcile replays an ordered feed against the stored cursor.
func reconcile[T any](
	ctx context.Context,
	p *Poller,
	logger zerolog.Logger,
	cat detect.Category,
	collection string,
	feed detect.Feed[T],
	window []T,
	render func(context.Context, string, T) (alerting.Alert, error),
) Report {
	var report Report

	cursor, err := p.state.Cursor(ctx, cat, collection)
	if err != nil {
		logger.Error().Err(err).Msg("could not read cursor")
		report.Failures++
		return report
	}

	plan := feed.Reconcile(window, cursor)
	switch plan.Action {
	case detect.ActionNone:
		return report

	case detect.ActionBootstrap:
		if p.opts.AnnounceRestart && cat != detect.CategoryBurn {
			if err := p.notifier.Notify(ctx, restartNotice(cat, collection, p.now())); err != nil {
				logger.Warn().Err(err).Msg("could not post restart notice")
			}
		}
		if err := p.state.SetCursor(ctx, cat, collection, plan.Cursor); err != nil {
			logger.Error().Err(err).Msg("could not store bootstrap cursor")
			report.Failures++
			return report
		}
		logger.Info().Str("id", plan.Cursor).Msg("tracking from newest entry")
		return report

	case detect.ActionReset:
		logger.Warn().Str("cursor", cursor).Int("window", len(window)).Msg("stored id not in window; resetting")
		if err := p.state.ClearCursor(ctx, cat, collection); err != nil {
			logger.Error().Err(err).Msg("could not clear cursor")
			report.Failures++
		}
		return report
	}

	for _, entry := range plan.Collapsed {
		logger.Debug().Str("id", feed.ID(entry)).Msg("skipping duplicate listing from another marketplace")
	}
	for _, entry := range plan.Alerts {
		log := logger.With().Str("id", feed.ID(entry)).Logger()
		alert, err := render(ctx, collection, entry)
		if err != nil {
			log.Warn().Err(err).Msg("skipping entry")
			report.Skipped++
			continue
		}
		if err := p.notifier.Notify(ctx, alert); err != nil {
			log.Error().Err(err).Msg("alert delivery failed")
			report.Failures++
			continue
		}
		report.Alerts++
	}

	if err := p.state.SetCursor(ctx, cat, collection, plan.Cursor); err != nil {
		logger.Error().Err(err).Msg("could not advance cursor")
		report.Failures++
		return report
	}
	logger.Debug().Str("cursor", plan.Cursor).Int("alerts", report.Alerts).Msg("cursor advanced")
	return report
}
