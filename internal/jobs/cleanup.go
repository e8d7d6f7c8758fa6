package jobs

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/temzero/chatter-sub006/internal/config"
	"github.com/temzero/chatter-sub006/internal/repository"
)

// CleanupJob purges archived call records that are past the retention
// window and drops presence rows that have not been touched for a long
// time.
type CleanupJob struct {
	callRepo     repository.CallRepository
	presenceRepo repository.PresenceRepository
	retention    time.Duration
	interval     time.Duration
	done         chan struct{}
}

func NewCleanupJob(callRepo repository.CallRepository, presenceRepo repository.PresenceRepository, retention, interval time.Duration) *CleanupJob {
	return &CleanupJob{
		callRepo:     callRepo,
		presenceRepo: presenceRepo,
		retention:    retention,
		interval:     interval,
		done:         make(chan struct{}),
	}
}

func (j *CleanupJob) Start() {
	go j.run()
	log.Info().Dur("interval", j.interval).Dur("retention", j.retention).Msg("cleanup job started")
}

func (j *CleanupJob) Stop() {
	close(j.done)
	log.Info().Msg("cleanup job stopped")
}

func (j *CleanupJob) run() {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.cleanup()

	for {
		select {
		case <-j.done:
			return
		case <-ticker.C:
			j.cleanup()
		}
	}
}

func (j *CleanupJob) cleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	j.runCleanup(ctx, "call records", func(ctx context.Context) (int64, error) {
		return j.callRepo.DeleteOlderThan(ctx, time.Now().Add(-j.retention))
	})

	j.runCleanup(ctx, "presence records", func(ctx context.Context) (int64, error) {
		return j.presenceRepo.DeleteStale(ctx, time.Now().Add(-config.PresenceRetention))
	})
}

func (j *CleanupJob) runCleanup(ctx context.Context, name string, fn func(context.Context) (int64, error)) {
	count, err := fn(ctx)
	if err != nil {
		log.Error().Err(err).Msgf("failed to cleanup %s", name)
	} else if count > 0 {
		log.Info().Int64("count", count).Msgf("cleaned up %s", name)
	}
}
