// Package node wires the database, transport, moderation and sync engine
// into a runnable application.
package node

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/pinmesh/pinmesh/config"
	"github.com/pinmesh/pinmesh/hashindex"
	"github.com/pinmesh/pinmesh/moderation"
	"github.com/pinmesh/pinmesh/p2p/room"
	"github.com/pinmesh/pinmesh/session"
	"github.com/pinmesh/pinmesh/sql"
	"github.com/pinmesh/pinmesh/syncer"
)

const dbFileName = "state.sql"

// App is a fully wired node.
type App struct {
	logger  *zap.Logger
	cfg     config.Config
	db      *sql.Database
	room    *room.Room
	syncer  *syncer.Syncer
	session *session.Manager

	metricsSrv *http.Server
	eg         errgroup.Group
}

// OpenDatabase opens (or creates) the node database under the data dir.
func OpenDatabase(logger *zap.Logger, dataDir string) (*sql.Database, error) {
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, fmt.Errorf("create data dir %s: %w", dataDir, err)
	}
	return sql.Open(filepath.Join(dataDir, dbFileName), sql.WithLogger(logger))
}

// New builds the application from configuration.
func New(ctx context.Context, logger *zap.Logger, cfg config.Config) (*App, error) {
	db, err := OpenDatabase(logger.Named("sql"), cfg.DataDir)
	if err != nil {
		return nil, err
	}
	policy, err := moderation.NewPolicy(logger.Named("moderation"), cfg.Moderation)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("compile moderation policy: %w", err)
	}
	rm, err := room.New(ctx, logger.Named("room"), cfg.P2P)
	if err != nil {
		db.Close()
		return nil, err
	}

	clock := clockwork.NewRealClock()
	app := &App{
		logger:  logger,
		cfg:     cfg,
		db:      db,
		room:    rm,
		syncer:  syncer.New(logger.Named("syncer"), clock, rm, db, hashindex.New(logger.Named("index")), policy, cfg.Sync),
		session: session.New(logger.Named("session"), clock, db, cfg.TokenValidity),
	}
	return app, nil
}

// Session exposes the key manager.
func (app *App) Session() *session.Manager { return app.session }

// Syncer exposes the sync engine.
func (app *App) Syncer() *syncer.Syncer { return app.syncer }

// Start loads persisted state and begins serving.
func (app *App) Start(ctx context.Context) error {
	if err := app.syncer.Start(ctx); err != nil {
		return err
	}
	if sess, err := app.session.Load(); err == nil {
		app.logger.Info("session restored", zap.String("public_key", sess.PublicKey))
	} else {
		app.logger.Info("no active session")
	}
	if app.cfg.CollectMetrics {
		app.metricsSrv = &http.Server{
			Addr:    fmt.Sprintf(":%d", app.cfg.MetricsPort),
			Handler: promhttp.Handler(),
		}
		app.eg.Go(func() error {
			if err := app.metricsSrv.ListenAndServe(); err != http.ErrServerClosed {
				return err
			}
			return nil
		})
	}
	app.logger.Info("node started", zap.Stringer("id", app.room.ID()))
	return nil
}

// Stop shuts everything down in reverse dependency order.
func (app *App) Stop() {
	if app.metricsSrv != nil {
		app.metricsSrv.Close()
	}
	app.syncer.Stop()
	if err := app.room.Close(); err != nil {
		app.logger.Warn("room close failed", zap.Error(err))
	}
	if err := app.db.Close(); err != nil {
		app.logger.Warn("database close failed", zap.Error(err))
	}
	app.eg.Wait()
	app.logger.Info("node stopped")
}
