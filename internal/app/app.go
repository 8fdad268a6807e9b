package app

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"

	"votewatch/internal/config"
	"votewatch/internal/events"
	"votewatch/internal/httpapi"
	"votewatch/internal/metrics"
	"votewatch/internal/notify"
	"votewatch/internal/poller"
	"votewatch/internal/replay"
	"votewatch/internal/store"
	"votewatch/internal/transport"
)

// App wires the tracker components together.
type App struct {
	cfg      config.Config
	history  *store.History
	poller   *poller.Poller
	notifier *notify.Notifier
	replay   *replay.Watcher
	bus      *events.Bus
	mux      *http.ServeMux
}

func New(cfg config.Config) (*App, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, err
	}
	history, err := store.OpenHistory(cfg.DBPath)
	if err != nil {
		return nil, err
	}

	m := metrics.New()
	policy := transport.DefaultPolicy()
	policy.MaxAttempts = cfg.RetryMax
	policy.InitialBackoff = cfg.RetryBackoff
	fetcher := transport.New(cfg, policy)
	fetcher.OnFallback(m.RecordFallback)

	state := store.LoadSnapshot(cfg.SnapshotPath, cfg.InitialTotal)
	bus := events.NewBus()
	p := poller.New(cfg, fetcher, state, store.NewLog(cfg.LogPath), history, m, bus)

	mux := http.NewServeMux()
	httpapi.NewRouter(cfg, history, m, p).Register(mux)

	return &App{
		cfg:      cfg,
		history:  history,
		poller:   p,
		notifier: notify.New(cfg.WebhookURL),
		replay:   replay.New(cfg.ReplayDir, cfg.EnableReplay),
		bus:      bus,
		mux:      mux,
	}, nil
}

// Run starts the ops server, notifier, and replay watcher, then blocks in
// the poll loop until the context is cancelled.
func (a *App) Run(ctx context.Context) error {
	go a.notifier.Run(ctx, a.bus.Subscribe())
	if err := a.replay.Start(ctx); err != nil {
		return err
	}

	srv := &http.Server{Addr: a.cfg.HTTPPort, Handler: a.mux}
	go func() {
		log.Printf("ops listening on %s", a.cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("ops server: %v", err)
		}
	}()

	err := a.poller.Run(ctx)
	_ = srv.Shutdown(context.Background())
	if closeErr := a.history.Close(); closeErr != nil {
		log.Printf("history close: %v", closeErr)
	}
	return err
}

// Poller exposes the poll loop for tests and control tooling.
func (a *App) Poller() *poller.Poller { return a.poller }

// History exposes the cycle store.
func (a *App) History() *store.History { return a.history }

// Mux exposes the ops handler for tests.
func (a *App) Mux() *http.ServeMux { return a.mux }
