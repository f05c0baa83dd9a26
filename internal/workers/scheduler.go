package workers

import (
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/fixmart-dev/fixmart/internal/tasks"
)

// expiryUniqueTTL keeps several workers from enqueueing the same sweep
const expiryUniqueTTL = 55 * time.Second

// cronParser accepts the standard 5-field format: minute hour day-of-month month day-of-week
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// NewOfferExpiryScheduler returns a stopped cron that enqueues an offer expiry
// sweep on schedule. The caller starts and stops it.
func NewOfferExpiryScheduler(enqueuer tasks.Enqueuer, schedule string, logger zerolog.Logger) (*cron.Cron, error) {
	if _, err := cronParser.Parse(schedule); err != nil {
		return nil, fmt.Errorf("invalid offer expiry schedule %q: %w", schedule, err)
	}

	c := cron.New(cron.WithParser(cronParser), cron.WithLocation(time.UTC))
	if _, err := c.AddFunc(schedule, func() {
		enqueueExpireOffers(enqueuer, logger)
	}); err != nil {
		return nil, fmt.Errorf("failed to schedule offer expiry: %w", err)
	}

	logger.Info().
		Str("schedule", schedule).
		Time("next_run", nextRun(schedule, time.Now())).
		Msg("Offer expiry scheduler configured")
	return c, nil
}

func enqueueExpireOffers(enqueuer tasks.Enqueuer, logger zerolog.Logger) {
	_, err := enqueuer.Enqueue(tasks.NewExpireOffersTask(), asynq.Unique(expiryUniqueTTL), asynq.MaxRetry(1))
	switch {
	case errors.Is(err, asynq.ErrDuplicateTask):
		logger.Debug().Msg("Offer expiry sweep already queued")
	case err != nil:
		logger.Error().Err(err).Msg("Failed to enqueue offer expiry sweep")
	default:
		logger.Debug().Msg("Offer expiry sweep enqueued")
	}
}

// nextRun calculates the next run time of a cron schedule, zero when invalid
func nextRun(cronExpr string, from time.Time) time.Time {
	schedule, err := cronParser.Parse(cronExpr)
	if err != nil {
		return time.Time{}
	}
	return schedule.Next(from)
}
