package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// TaskReservationSweep expires overdue stock reservations.
	TaskReservationSweep = "stock:reservation_sweep"
	// ReservationSweepSpec runs the sweep every minute.
	ReservationSweepSpec = "* * * * *"
)

// ReservationSweepPayload carries scheduling metadata.
type ReservationSweepPayload struct {
	ScheduledFor time.Time `json:"scheduled_for"`
}

// NewReservationSweepTask constructs an Asynq task for the reservation sweep.
func NewReservationSweepTask(at time.Time) (*asynq.Task, error) {
	body, err := json.Marshal(ReservationSweepPayload{ScheduledFor: at})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskReservationSweep, body, asynq.Queue(QueueDefault)), nil
}

// ReservationSweeper is the slice of the stock service the sweep needs.
type ReservationSweeper interface {
	SweepExpired(ctx context.Context, now time.Time) (int64, error)
}

// ReservationSweepJob expires stale holds. The sweep is idempotent, so an
// overlapping or retried run is harmless.
type ReservationSweepJob struct {
	sweeper ReservationSweeper
	logger  *slog.Logger
}

// NewReservationSweepJob builds the job.
func NewReservationSweepJob(sweeper ReservationSweeper, logger *slog.Logger) *ReservationSweepJob {
	return &ReservationSweepJob{sweeper: sweeper, logger: logger}
}

// Handle processes TaskReservationSweep tasks.
func (j *ReservationSweepJob) Handle(ctx context.Context, t *asynq.Task) error {
	var payload ReservationSweepPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	count, err := j.sweeper.SweepExpired(ctx, time.Now().UTC())
	if err != nil {
		j.logger.Error("reservation sweep failed", slog.Any("error", err))
		return err
	}
	if count > 0 {
		j.logger.Info("reservation sweep done", slog.Int64("expired", count))
	}
	return nil
}
