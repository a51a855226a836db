package events

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// RetentionConfig configures scheduled event pruning.
type RetentionConfig struct {
	// RetentionDays is the number of days to retain events.
	// 0 means keep events forever (no pruning).
	RetentionDays int

	// Schedule is a cron expression for pruning runs.
	// Example: "0 3 * * *" (daily at 3 AM)
	Schedule string
}

// DefaultRetentionConfig returns the default retention configuration.
func DefaultRetentionConfig() *RetentionConfig {
	return &RetentionConfig{
		RetentionDays: 30,
		Schedule:      "0 3 * * *",
	}
}

// Pruner deletes events past the retention horizon on a cron schedule.
type Pruner struct {
	store  *Store
	config *RetentionConfig
	cron   *cron.Cron
	logger *slog.Logger

	mu      sync.Mutex
	running bool
}

// NewPruner creates a pruner. Call Start to begin scheduled pruning.
func NewPruner(store *Store, config *RetentionConfig) *Pruner {
	if config == nil {
		config = DefaultRetentionConfig()
	}
	return &Pruner{
		store:  store,
		config: config,
		cron:   cron.New(),
		logger: slog.Default().With("component", "events.retention"),
	}
}

// Prune runs one pruning cycle and returns the number of deleted events.
func (p *Pruner) Prune(ctx context.Context) (int64, error) {
	if p.config.RetentionDays <= 0 {
		return 0, nil
	}
	cutoff := time.Now().AddDate(0, 0, -p.config.RetentionDays)
	return p.store.DeleteOlderThan(ctx, cutoff)
}

// Start schedules pruning per the cron expression. An empty schedule or a
// zero retention disables scheduling.
func (p *Pruner) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.config.Schedule == "" || p.config.RetentionDays <= 0 {
		p.logger.Info("event retention not configured, skipping scheduler")
		return nil
	}

	if _, err := cron.ParseStandard(p.config.Schedule); err != nil {
		return fmt.Errorf("invalid retention schedule %q: %w", p.config.Schedule, err)
	}

	if _, err := p.cron.AddFunc(p.config.Schedule, func() {
		deleted, err := p.Prune(ctx)
		if err != nil {
			p.logger.Error("scheduled event pruning failed", "error", err)
			return
		}
		if deleted > 0 {
			p.logger.Info("scheduled event pruning completed", "deleted", deleted)
		}
	}); err != nil {
		return fmt.Errorf("failed to schedule event pruning: %w", err)
	}

	p.cron.Start()
	p.running = true
	p.logger.Info("event retention scheduler started",
		"schedule", p.config.Schedule,
		"retention_days", p.config.RetentionDays,
	)

	go func() {
		<-ctx.Done()
		p.Stop()
	}()
	return nil
}

// Stop stops the scheduler and waits for any running job.
func (p *Pruner) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		ctx := p.cron.Stop()
		<-ctx.Done()
		p.running = false
		p.logger.Info("event retention scheduler stopped")
	}
}
