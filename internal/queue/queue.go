package queue

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
)

// Enqueuer is the slice of *asynq.Client the queue uses.
type Enqueuer interface {
	Enqueue(task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// EnqueueSchedule queues one publish attempt for a schedule. Retries are
// owned by the schedule row, so the task itself never retries.
func EnqueueSchedule(client Enqueuer, scheduleID int64, delay time.Duration) error {
	taskPayload, err := json.Marshal(PublishSchedulePayload{ScheduleID: scheduleID})
	if err != nil {
		return err
	}

	task := asynq.NewTask(TaskTypePublishSchedule, taskPayload, asynq.MaxRetry(0))

	_, err = client.Enqueue(task, asynq.ProcessIn(delay))
	if err != nil {
		return err
	}

	slog.Info("schedule enqueued", "schedule_id", scheduleID, "delay", delay.String())
	return nil
}
