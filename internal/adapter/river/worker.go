package river

import (
	"context"

	"github.com/riverqueue/river"

	"github.com/rosterbatch/rosterbatch/internal/logger"
)

// ChangeWorker processes batch change jobs from the River queue.
// For now it writes an audit log line; future versions will dispatch
// to webhooks and notification systems.
type ChangeWorker struct {
	river.WorkerDefaults[ChangeJobArgs]

	log *logger.Logger
}

// Work processes a single change job.
func (w *ChangeWorker) Work(ctx context.Context, job *river.Job[ChangeJobArgs]) error {
	w.log.Info("processing batch change",
		"event", job.Args.Event,
		"reference", job.Args.Reference,
		"tenant_id", job.Args.TenantID,
		"student_count", job.Args.StudentCount,
		"total", job.Args.Total,
		"job_id", job.ID,
		"attempt", job.Attempt,
	)
	return nil
}
