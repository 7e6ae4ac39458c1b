package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/knowledgeops/stacks/pkg/observability"
)

// Retention purges authz_events rows older than the configured window
// on a nightly schedule.
type Retention struct {
	db     *sql.DB
	maxAge time.Duration
	cron   *cron.Cron
	log    *observability.Logger
}

// NewRetention creates a retention job. A maxAge of zero disables
// purging.
func NewRetention(db *sql.DB, maxAge time.Duration, log *observability.Logger) *Retention {
	return &Retention{
		db:     db,
		maxAge: maxAge,
		cron:   cron.New(),
		log:    log,
	}
}

// Start schedules the nightly purge.
func (r *Retention) Start() error {
	if r.maxAge <= 0 {
		return nil
	}

	if _, err := r.cron.AddFunc("@daily", func() {
		if err := r.Purge(context.Background()); err != nil {
			r.log.WithError(err).Warn("audit retention purge failed")
		}
	}); err != nil {
		return fmt.Errorf("failed to schedule retention purge: %w", err)
	}
	r.cron.Start()
	return nil
}

// Stop halts the schedule and waits for a running purge to finish.
func (r *Retention) Stop() {
	ctx := r.cron.Stop()
	<-ctx.Done()
}

// Purge deletes events older than the retention window.
func (r *Retention) Purge(ctx context.Context) error {
	cutoff := time.Now().Add(-r.maxAge)
	result, err := r.db.ExecContext(ctx, `DELETE FROM authz_events WHERE timestamp < $1`, cutoff)
	if err != nil {
		return fmt.Errorf("failed to purge authz events: %w", err)
	}
	if rows, err := result.RowsAffected(); err == nil && rows > 0 {
		r.log.WithField("purged", rows).Info("purged expired authz events")
	}
	return nil
}
