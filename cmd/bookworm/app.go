package main

import (
	"context"
	"errors"
	"net/http"
	"path/filepath"

	"github.com/MarcoPoloResearchLab/bookworm/internal/booklookup"
	"github.com/MarcoPoloResearchLab/bookworm/internal/challenge"
	"github.com/MarcoPoloResearchLab/bookworm/internal/config"
	"github.com/MarcoPoloResearchLab/bookworm/internal/database"
	"github.com/MarcoPoloResearchLab/bookworm/internal/localstorage"
	"github.com/MarcoPoloResearchLab/bookworm/internal/logging"
	"github.com/MarcoPoloResearchLab/bookworm/internal/reading"
	"github.com/MarcoPoloResearchLab/bookworm/internal/snapshots"
	"github.com/MarcoPoloResearchLab/bookworm/internal/syncer"
	"github.com/MarcoPoloResearchLab/bookworm/internal/tracker"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const stateDirName = "state"

// clientApp wires the local tracker for one CLI invocation.
type clientApp struct {
	cfg        config.ClientConfig
	logger     *zap.Logger
	storage    *localstorage.Badger
	store      *tracker.Store
	sync       *syncer.Manager
	challenges *challenge.Engine
	reading    *reading.Service

	// loadOutcome is empty until the load-time sync runs.
	loadOutcome syncer.Outcome

	closers []func() error
}

type openOptions struct {
	// syncOnLoad runs the load-time sync before the command body.
	syncOnLoad bool
}

func openClient(ctx context.Context, opts openOptions) (*clientApp, error) {
	cfg, err := config.LoadClient(viper.GetViper())
	if err != nil {
		return nil, err
	}
	logger, err := logging.NewLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, err
	}

	app := &clientApp{cfg: cfg, logger: logger}
	app.closers = append(app.closers, func() error {
		_ = logger.Sync()
		return nil
	})

	storage, err := localstorage.OpenBadger(filepath.Join(cfg.DataDir, stateDirName), logger)
	if err != nil {
		app.Close()
		return nil, err
	}
	app.storage = storage
	app.closers = append(app.closers, storage.Close)

	store, err := tracker.NewStore(tracker.StoreConfig{Storage: storage, Logger: logger})
	if err != nil {
		app.Close()
		return nil, err
	}
	app.store = store

	var uploader challenge.Uploader
	if cfg.SyncConfigured() {
		remote, err := app.openRemote()
		if err != nil {
			app.Close()
			return nil, err
		}
		manager, err := syncer.NewManager(syncer.Config{State: store, Remote: remote, Logger: logger})
		if err != nil {
			app.Close()
			return nil, err
		}
		if cfg.UserID == "" {
			logger.Warn("sync is configured but no user is set; running offline")
		} else if err := manager.SignIn(cfg.UserID); err != nil {
			app.Close()
			return nil, err
		}
		app.sync = manager
		uploader = manager
	}

	engine, err := challenge.NewEngine(challenge.Config{
		State:      store,
		Uploader:   uploader,
		Animations: storage,
		Location:   cfg.ChallengeLocation,
		Logger:     logger,
	})
	if err != nil {
		app.Close()
		return nil, err
	}
	app.challenges = engine

	service, err := reading.NewService(reading.Config{
		Store:      store,
		Uploader:   uploader,
		Challenges: engine,
		Lookup: booklookup.NewClient(booklookup.Config{
			BaseURL:           cfg.BooksAPIURL,
			RequestsPerMinute: cfg.BooksRequestsPerMinute,
			Logger:            logger,
		}),
		Location: cfg.ChallengeLocation,
		Logger:   logger,
	})
	if err != nil {
		app.Close()
		return nil, err
	}
	app.reading = service

	if opts.syncOnLoad && app.sync != nil {
		app.loadOutcome = app.sync.SyncOnLoad(ctx)
		logger.Debug("load sync finished", zap.String("outcome", string(app.loadOutcome)))
	}
	return app, nil
}

func (a *clientApp) openRemote() (syncer.Remote, error) {
	if a.cfg.RemoteURL != "" {
		return snapshots.NewClient(snapshots.ClientConfig{
			BaseURL:    a.cfg.RemoteURL,
			Token:      a.cfg.Token,
			HTTPClient: &http.Client{Timeout: a.cfg.RequestTimeout},
			Logger:     a.logger,
		})
	}
	db, err := database.OpenSQLite(a.cfg.SyncDatabase, a.logger)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func() error { return database.Close(db) })
	return snapshots.NewService(snapshots.ServiceConfig{Database: db, Logger: a.logger})
}

// reconciled reports whether local state was brought in line with the remote during this run.
func (a *clientApp) reconciled() bool {
	return a.loadOutcome == syncer.OutcomeHydrated || a.loadOutcome == syncer.OutcomeUploaded
}

// Close flushes a final snapshot when the load sync reconciled and releases resources in reverse order.
// Local state that was never reconciled is not uploaded.
func (a *clientApp) Close() error {
	if a.sync != nil {
		if a.reconciled() {
			a.sync.Flush(a.cfg.ShutdownTimeout)
		} else {
			a.logger.Debug("skipping teardown flush", zap.String("load_outcome", string(a.loadOutcome)))
		}
	}
	var errs []error
	for index := len(a.closers) - 1; index >= 0; index-- {
		if err := a.closers[index](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
