package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// TaskIdempotencyCleanup purges processed idempotency keys.
	TaskIdempotencyCleanup = "shared:idempotency_cleanup"
	// IdempotencyCleanupSpec runs the purge nightly.
	IdempotencyCleanupSpec = "0 3 * * *"

	idempotencyRetention = 7 * 24 * time.Hour
)

// NewIdempotencyCleanupTask constructs an Asynq task for the key purge.
func NewIdempotencyCleanupTask() *asynq.Task {
	return asynq.NewTask(TaskIdempotencyCleanup, nil, asynq.Queue(QueueDefault))
}

// KeyCleaner is the slice of the idempotency store the purge needs.
type KeyCleaner interface {
	Cleanup(ctx context.Context, olderThan time.Duration) error
}

// IdempotencyCleanupJob drops keys older than the retention window. Replays
// that old indicate a client bug, not a retry.
type IdempotencyCleanupJob struct {
	cleaner KeyCleaner
	logger  *slog.Logger
}

// NewIdempotencyCleanupJob builds the job.
func NewIdempotencyCleanupJob(cleaner KeyCleaner, logger *slog.Logger) *IdempotencyCleanupJob {
	return &IdempotencyCleanupJob{cleaner: cleaner, logger: logger}
}

// Handle processes TaskIdempotencyCleanup tasks.
func (j *IdempotencyCleanupJob) Handle(ctx context.Context, t *asynq.Task) error {
	if err := j.cleaner.Cleanup(ctx, idempotencyRetention); err != nil {
		j.logger.Error("idempotency cleanup failed", slog.Any("error", err))
		return err
	}
	return nil
}
