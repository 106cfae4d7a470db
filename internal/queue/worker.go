package queue

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hibiken/asynq"
)

// HandlePublishScheduleTask runs one claimed attempt. When the attempt ends
// in a transient failure the orchestrator has already released the schedule;
// the task is re-enqueued with the backoff delay so the retry does not wait
// for the next sweep.
func (q *Queue) HandlePublishScheduleTask(ctx context.Context, task *asynq.Task) error {
	var payload PublishSchedulePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return err
	}

	retryIn, err := q.runner.Run(ctx, payload.ScheduleID)
	if err != nil {
		return err
	}

	if retryIn > 0 {
		if err := EnqueueSchedule(q.client, payload.ScheduleID, retryIn); err != nil {
			// The periodic sweep will still pick the schedule up.
			slog.Info(err.Error())
		}
	}
	return nil
}
