package engine

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/telemeet/sfu-coordinator/internal/log"
)

const pingTimeout = 5 * time.Second

// HealthWatcher periodically pings the media engine. After a configured
// number of consecutive failures it reports the engine as down, exactly
// once, through the OnDown callback. The coordinator cannot operate
// without its engine, so the callback is expected to trip shutdown.
type HealthWatcher struct {
	api          API
	interval     time.Duration
	maxFailures  int
	onDown       func(reason string)
	clock        clockwork.Clock
	cancel       context.CancelFunc
	stopped      chan struct{}
	downOnce     sync.Once
	consecutive  int
	logger       *log.Logger
}

func NewHealthWatcher(api API, interval time.Duration, maxFailures int, logger *log.Logger) *HealthWatcher {
	return newHealthWatcherWithClock(api, interval, maxFailures, logger, clockwork.NewRealClock())
}

func newHealthWatcherWithClock(
	api API,
	interval time.Duration,
	maxFailures int,
	logger *log.Logger,
	clock clockwork.Clock,
) *HealthWatcher {
	if logger == nil {
		panic("logger is required")
	}
	if maxFailures < 1 {
		maxFailures = 1
	}
	return &HealthWatcher{
		api:         api,
		interval:    interval,
		maxFailures: maxFailures,
		clock:       clock,
		stopped:     make(chan struct{}),
		logger:      logger,
	}
}

// SetOnDown sets the callback invoked when the engine is declared down.
// Must be called before Start.
func (w *HealthWatcher) SetOnDown(handler func(reason string)) {
	w.onDown = handler
}

func (w *HealthWatcher) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)
	go w.watchLoop(ctx)
	w.logger.Info("engine health watcher started",
		log.Duration("interval", w.interval),
		log.Int("maxFailures", w.maxFailures),
	)
}

func (w *HealthWatcher) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	<-w.stopped
	w.logger.Info("engine health watcher stopped")
}

func (w *HealthWatcher) watchLoop(ctx context.Context) {
	ticker := w.clock.NewTicker(w.interval)
	defer close(w.stopped)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			w.checkOnce(ctx)
		}
	}
}

func (w *HealthWatcher) checkOnce(ctx context.Context) {
	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	if err := w.api.Ping(pingCtx); err != nil {
		w.consecutive++
		pingFailures.Add(ctx, 1)
		w.logger.Warn("engine ping failed",
			log.Int("consecutive", w.consecutive),
			log.Error(err),
		)
		if w.consecutive >= w.maxFailures {
			w.declareDown("engine_unreachable")
		}
		return
	}

	if w.consecutive > 0 {
		w.logger.Info("engine ping recovered", log.Int("afterFailures", w.consecutive))
	}
	w.consecutive = 0
}

func (w *HealthWatcher) declareDown(reason string) {
	w.downOnce.Do(func() {
		engineDowns.Add(context.Background(), 1)
		w.logger.Error("engine declared down", log.String("reason", reason))
		if w.onDown != nil {
			w.onDown(reason)
		}
	})
}
