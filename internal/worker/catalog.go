package worker

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/coneflip-overlay/server/internal/config"
	"github.com/coneflip-overlay/server/internal/domain"
	"github.com/coneflip-overlay/server/internal/skins"
)

// Broadcaster pushes events to connected overlay clients.
type Broadcaster interface {
	Broadcast(event string, payload interface{})
}

// CatalogWorker watches the skin config file and hot-reloads the catalog when
// it changes, so new skins go live without a restart.
type CatalogWorker struct {
	engine  *skins.Engine
	hub     Broadcaster
	config  *config.SkinsConfig
	logger  *slog.Logger
	stopCh  chan struct{}
	doneCh  chan struct{}
	mu      sync.Mutex
	running bool

	lastModTime time.Time
}

// NewCatalogWorker creates a new catalog reload worker
func NewCatalogWorker(
	engine *skins.Engine,
	hub Broadcaster,
	cfg *config.SkinsConfig,
	logger *slog.Logger,
) *CatalogWorker {
	return &CatalogWorker{
		engine: engine,
		hub:    hub,
		config: cfg,
		logger: logger,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Start begins the background reload process
func (w *CatalogWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	if info, err := os.Stat(w.config.ConfigPath); err == nil {
		w.lastModTime = info.ModTime()
	}

	w.logger.Info("catalog worker started", "interval", w.config.ReloadInterval, "path", w.config.ConfigPath)

	go w.run(ctx)
	return nil
}

// Stop stops the background reload process
func (w *CatalogWorker) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh

	w.mu.Lock()
	w.running = false
	w.mu.Unlock()

	w.logger.Info("catalog worker stopped")
	return nil
}

// run is the main worker loop
func (w *CatalogWorker) run(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(w.config.ReloadInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.checkAndReload(ctx)
		}
	}
}

// checkAndReload reloads the catalog when the config file has changed since
// the last observed modification.
func (w *CatalogWorker) checkAndReload(ctx context.Context) {
	info, err := os.Stat(w.config.ConfigPath)
	if err != nil {
		w.logger.Warn("failed to stat skin config", "path", w.config.ConfigPath, "error", err)
		return
	}
	if !info.ModTime().After(w.lastModTime) {
		return
	}

	reloadCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := w.engine.Reload(reloadCtx, w.config.ConfigPath); err != nil {
		w.logger.Error("failed to reload skin catalog", "error", err)
		return
	}
	w.lastModTime = info.ModTime()

	w.hub.Broadcast(domain.EventSkinRefresh, nil)
	w.logger.Info("skin catalog reloaded", "mod_time", w.lastModTime)
}
