package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/BrandonDHaskell/turnstile/internal/admission/store"
	"github.com/BrandonDHaskell/turnstile/internal/logging"
)

// ReaderSweeper periodically forgets readers that have been silent longer
// than the retention period. It never touches the access log.
//
// A retention of 0 disables sweeping entirely.
type ReaderSweeper struct {
	store     store.ReaderStore
	retention time.Duration
	interval  time.Duration
	logger    *slog.Logger
	cancel    context.CancelFunc
	done      chan struct{}
}

type SweeperConfig struct {
	// RetentionDays is how long a silent reader is kept. 0 keeps readers
	// forever and the sweeper will not start.
	RetentionDays int

	// IntervalHours is how often the sweeper runs. Defaults to 6.
	IntervalHours int
}

// NewReaderSweeper creates a sweeper but does not start it.
func NewReaderSweeper(s store.ReaderStore, cfg SweeperConfig, logger *slog.Logger) *ReaderSweeper {
	interval := time.Duration(cfg.IntervalHours) * time.Hour
	if interval <= 0 {
		interval = 6 * time.Hour
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &ReaderSweeper{
		store:     s,
		retention: time.Duration(cfg.RetentionDays) * 24 * time.Hour,
		interval:  interval,
		logger:    logger,
		done:      make(chan struct{}),
	}
}

// Start sweeps once immediately, then on every interval until ctx is
// cancelled or Stop is called.
func (p *ReaderSweeper) Start(ctx context.Context) {
	if p.retention <= 0 {
		p.logger.Info("reader sweeper disabled", "retention_days", 0)
		close(p.done)
		return
	}

	ctx, p.cancel = context.WithCancel(ctx)
	go p.loop(ctx)

	p.logger.Info("reader sweeper started",
		"retention_days", int(p.retention.Hours()/24), "interval", p.interval)
}

// Stop signals the sweeper to exit and waits for it. Safe to call twice.
func (p *ReaderSweeper) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	<-p.done
}

func (p *ReaderSweeper) loop(ctx context.Context) {
	defer close(p.done)

	p.Sweep(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Sweep(ctx)
		}
	}
}

// Sweep runs one pass and returns the number of readers removed.
func (p *ReaderSweeper) Sweep(ctx context.Context) int64 {
	cutoff := time.Now().UTC().Add(-p.retention)
	n, err := p.store.PruneSilentSince(ctx, cutoff)
	if err != nil {
		p.logger.Error("reader sweep failed", "err", err)
		return 0
	}
	if n > 0 {
		p.logger.Info("reader sweep", "removed", n, "cutoff", cutoff.Format(time.RFC3339))
	}
	return n
}
