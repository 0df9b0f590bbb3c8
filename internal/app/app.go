package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"collectionwatch/internal/alerting"
	"collectionwatch/internal/config"
	"collectionwatch/internal/fetcher"
	"collectionwatch/internal/scheduler"
	"collectionwatch/internal/service"
	"collectionwatch/internal/storage"
	"collectionwatch/internal/version"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
	Out    io.Writer
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger(), Out: os.Stdout}
}

func (a *App) newSource() *fetcher.Reservoir {
	rc := a.Config.Reservoir
	ua := rc.UserAgent
	if ua == "" {
		ua = version.UserAgent()
	}
	return fetcher.NewReservoir(fetcher.Options{
		BaseURL:           rc.BaseURL,
		APIKey:            rc.APIKey,
		Timeout:           rc.RequestTimeout,
		UserAgent:         ua,
		RequestsPerSecond: rc.RequestsPerSecond,
		MaxRetries:        rc.MaxRetries,
		BackoffBase:       rc.BackoffBase,
	}, a.Logger)
}

func (a *App) newNotifier() (alerting.Notifier, error) {
	return alerting.FromConfig(a.Config.Alerting, a.Config.Reservoir.RequestTimeout, a.Logger)
}

func (a *App) openState(ctx context.Context) (*storage.State, func(), error) {
	store, err := storage.Open(ctx, a.Config.State)
	if err != nil {
		return nil, nil, err
	}
	closer := func() {
		if err := store.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("closing state store")
		}
	}
	return storage.NewState(store, a.Config.State.OpTimeout), closer, nil
}

func (a *App) newPoller(ctx context.Context, sched *scheduler.Scheduler) (*service.Poller, func(), error) {
	opts, err := service.OptionsFromConfig(a.Config)
	if err != nil {
		return nil, nil, err
	}
	notifier, err := a.newNotifier()
	if err != nil {
		return nil, nil, err
	}
	state, closeState, err := a.openState(ctx)
	if err != nil {
		return nil, nil, err
	}
	return service.New(opts, sched, a.newSource(), state, notifier, a.Logger), closeState, nil
}

// Run executes the long-running poll loop.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	sched := scheduler.New(scheduler.Options{
		Interval:     a.Config.Scheduler.Interval,
		StartupDelay: a.Config.Scheduler.StartupDelay,
	}, a.Logger)

	poller, closeState, err := a.newPoller(ctx, sched)
	if err != nil {
		return err
	}
	defer closeState()

	a.Logger.Info().
		Strs("collections", a.Config.TrackedCollections()).
		Strs("categories", a.Config.Alerting.Categories).
		Str("backend", a.Config.State.Backend).
		Dur("interval", a.Config.Scheduler.Interval).
		Msg("starting collection watcher")

	err = poller.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("poller terminated with error")
		return err
	}

	a.Logger.Info().Msg("collection watcher stopped")
	return nil
}

// resolveCollection returns the configured spelling of contract so state keys match what the
// poller writes. Unknown contracts are returned trimmed.
func (a *App) resolveCollection(contract string) (string, error) {
	contract = strings.TrimSpace(contract)
	if !common.IsHexAddress(contract) {
		return "", fmt.Errorf("%q is not a contract address", contract)
	}
	want := common.HexToAddress(contract)
	for _, c := range a.Config.TrackedCollections() {
		if common.HexToAddress(c) == want {
			return c, nil
		}
	}
	a.Logger.Warn().Str("collection", contract).Msg("contract is not in the tracked collections")
	return contract, nil
}
