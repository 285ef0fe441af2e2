package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/petercort/RunWatch-sub000/forge"
	"github.com/petercort/RunWatch-sub000/models"
)

// QuotaFloor is the remaining-call threshold below which the crawl
// suspends itself until the quota window resets.
const QuotaFloor = 100

// Governor gates every outbound page fetch on the API's remaining
// quota. The pause is a real wall-clock wait and suspends only the
// crawl's own goroutine; live intake is untouched.
type Governor struct {
	client  forge.Client
	tracker *Tracker
	l       *slog.Logger

	// injectable for tests
	wait func(ctx context.Context, d time.Duration) error
	now  func() time.Time
}

func NewGovernor(client forge.Client, tracker *Tracker, l *slog.Logger) *Governor {
	return &Governor{
		client:  client,
		tracker: tracker,
		l:       l,
		wait:    sleep,
		now:     time.Now,
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Guard must be called before every API page fetch. A failed quota
// read is fatal to the current crawl step, never silently ignored.
func (g *Governor) Guard(ctx context.Context, session *models.SyncSession) error {
	rl, err := g.client.RateLimit(ctx)
	if err != nil {
		return fmt.Errorf("quota check: %w", err)
	}

	snapshot := models.RateLimitSnapshot{
		Remaining: rl.Remaining,
		Limit:     rl.Limit,
		ResetAt:   rl.ResetAt,
	}
	if err := g.tracker.UpdateRateLimit(session, snapshot); err != nil {
		return fmt.Errorf("recording rate limit: %w", err)
	}

	if rl.Remaining >= QuotaFloor {
		return nil
	}

	if err := g.tracker.Pause(session, rl.ResetAt); err != nil {
		return err
	}

	g.l.Warn("api quota exhausted, waiting for reset",
		"remaining", rl.Remaining,
		"floor", QuotaFloor,
		"reset", rl.ResetAt,
	)
	if err := g.wait(ctx, rl.ResetAt.Sub(g.now())); err != nil {
		return err
	}

	return g.tracker.Resume(session)
}
