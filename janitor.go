package stash

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// janitor enforces partition bounds on a background schedule. It never
// touches the static store; only a version bump wipes that.
type janitor struct {
	interval   time.Duration
	partitions []*partition
	logger     *zap.Logger
}

func newJanitor(interval time.Duration, partitions []*partition, logger *zap.Logger) *janitor {
	return &janitor{
		interval:   interval,
		partitions: partitions,
		logger:     logger,
	}
}

// run starts the periodic sweep routine.
func (j *janitor) run(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			j.sweep(time.Now())
		case <-ctx.Done():
			j.logger.Info("Stopping janitor due to context cancellation")
			return
		}
	}
}

// sweep applies count and age bounds to every governed partition.
func (j *janitor) sweep(now time.Time) {
	for _, p := range j.partitions {
		if evicted := p.sweep(now); evicted > 0 {
			j.logger.Debug("Janitor evicted entries",
				zap.String("partition", p.name), zap.Int("evicted", evicted))
		}
	}
}
