// Package daemon ties the engine, store, and HTTP API into the long-running
// conveyord process, enforcing single-instance execution via a lock file.
package daemon

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"conveyor/internal/config"
	"conveyor/internal/engine"
	"conveyor/internal/logging"
	"conveyor/internal/metrics"
	"conveyor/internal/pool"
	"conveyor/internal/preflight"
	"conveyor/internal/store"
)

// Daemon coordinates the background services and enforces single-instance
// execution.
type Daemon struct {
	cfg     *config.Config
	logger  *slog.Logger
	store   *store.Store
	engine  *engine.Engine
	pools   *pool.Set
	metrics *metrics.Metrics

	lockPath string
	lock     *flock.Flock

	api *apiServer

	running atomic.Bool
	cancel  context.CancelFunc
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, st *store.Store, eng *engine.Engine, pools *pool.Set, m *metrics.Metrics, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || st == nil || eng == nil || pools == nil {
		return nil, errors.New("daemon requires config, store, engine, and pools")
	}
	if m == nil {
		m = metrics.New()
	}
	lockPath := filepath.Join(cfg.Paths.DataDir, "conveyord.lock")
	return &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		store:    st,
		engine:   eng,
		pools:    pools,
		metrics:  m,
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}, nil
}

// Start acquires the instance lock, runs preflight, starts the engine and
// the API server. It returns once the daemon is serving.
func (d *Daemon) Start(ctx context.Context) error {
	locked, err := d.lock.TryLock()
	if err != nil {
		return errors.New("acquire instance lock: " + err.Error())
	}
	if !locked {
		return errors.New("another conveyord instance is already running")
	}

	for _, result := range preflight.Run(d.cfg) {
		if result.Passed {
			d.logger.Debug("preflight check passed",
				logging.String("check", result.Name),
				logging.String("detail", result.Detail),
			)
			continue
		}
		d.logger.Warn("preflight check failed",
			logging.String(logging.FieldEventType, "preflight_failed"),
			logging.String("check", result.Name),
			logging.String("detail", result.Detail),
			logging.String(logging.FieldErrorHint, "executions may fail until this is fixed"),
		)
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	if err := d.engine.Start(runCtx); err != nil {
		cancel()
		_ = d.lock.Unlock()
		return err
	}

	apiSrv, err := newAPIServer(d.cfg, d, d.logger)
	if err != nil {
		d.engine.Stop()
		cancel()
		_ = d.lock.Unlock()
		return err
	}
	d.api = apiSrv
	if err := d.api.start(runCtx); err != nil {
		d.engine.Stop()
		cancel()
		_ = d.lock.Unlock()
		return err
	}

	d.running.Store(true)
	d.logger.Info("daemon started",
		logging.String("db_path", d.store.Path()),
		logging.String("lock_path", d.lockPath),
	)
	return nil
}

// Stop shuts the daemon down: cancel in-flight work, mark interrupted
// executions failed, release the lock.
func (d *Daemon) Stop() {
	if !d.running.Swap(false) {
		return
	}
	if d.cancel != nil {
		d.cancel()
	}
	d.engine.Stop()
	d.pools.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if count, err := d.store.FailInFlight(shutdownCtx, store.ShutdownReason); err != nil {
		d.logger.Error("failed to mark interrupted executions", logging.Error(err))
	} else if count > 0 {
		d.logger.Warn("marked in-flight executions as failed on shutdown",
			logging.Int64("count", count),
		)
	}

	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("release instance lock", logging.Error(err))
	}
	d.logger.Info("daemon stopped")
}

// Running reports whether the daemon accepts work.
func (d *Daemon) Running() bool {
	return d.running.Load()
}

// APIAddr returns the bound API listener address, empty before Start.
func (d *Daemon) APIAddr() string {
	if d.api == nil {
		return ""
	}
	return d.api.addr()
}
