package queue

import (
	"context"
	"time"
)

const TaskTypePublishSchedule = "schedule:publish"

type PublishSchedulePayload struct {
	ScheduleID int64 `json:"schedule_id"`
}

// ScheduleRunner is the orchestrator surface the queue needs: claim one
// schedule, attempt it, report the retry delay if any.
type ScheduleRunner interface {
	Run(ctx context.Context, scheduleID int64) (time.Duration, error)
}

type Queue struct {
	runner ScheduleRunner
	client Enqueuer
}

func NewQueue(runner ScheduleRunner, client Enqueuer) *Queue {
	return &Queue{
		runner: runner,
		client: client,
	}
}
