package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/taskhub/uploadgate/internal/storage"
)

// PathSource supplies the set of stored paths still referenced by
// persisted attachment records.
type PathSource interface {
	AttachmentPaths(ctx context.Context) (map[string]struct{}, error)
}

// CleanupWorker periodically deletes stored files that no metadata
// record references anymore.
type CleanupWorker struct {
	store    *storage.Store
	paths    PathSource
	interval time.Duration
	logger   *zap.Logger
	done     chan struct{}
}

func NewCleanupWorker(store *storage.Store, paths PathSource, interval time.Duration, logger *zap.Logger) *CleanupWorker {
	if interval == 0 {
		interval = time.Hour
	}
	return &CleanupWorker{
		store:    store,
		paths:    paths,
		interval: interval,
		logger:   logger,
		done:     make(chan struct{}),
	}
}

func (w *CleanupWorker) Start(ctx context.Context) {
	go w.run(ctx)
	w.logger.Info("cleanup worker started", zap.Duration("interval", w.interval))
}

func (w *CleanupWorker) Stop() {
	close(w.done)
	w.logger.Info("cleanup worker stopped")
}

func (w *CleanupWorker) run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single cleanup pass.
func (w *CleanupWorker) RunOnce(ctx context.Context) int {
	referenced, err := w.paths.AttachmentPaths(ctx)
	if err != nil {
		w.logger.Error("cleanup pass skipped", zap.Error(err))
		return 0
	}
	return w.store.CleanupOrphans(referenced)
}
