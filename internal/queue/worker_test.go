package queue

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRunner struct {
	retryIn time.Duration
	err     error
	calls   []int64
}

func (r *fakeRunner) Run(_ context.Context, scheduleID int64) (time.Duration, error) {
	r.calls = append(r.calls, scheduleID)
	return r.retryIn, r.err
}

type fakeEnqueuer struct {
	tasks []*asynq.Task
}

func (e *fakeEnqueuer) Enqueue(task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	e.tasks = append(e.tasks, task)
	return &asynq.TaskInfo{}, nil
}

func publishTask(t *testing.T, scheduleID int64) *asynq.Task {
	t.Helper()
	payload, err := json.Marshal(PublishSchedulePayload{ScheduleID: scheduleID})
	require.NoError(t, err)
	return asynq.NewTask(TaskTypePublishSchedule, payload)
}

func TestHandlePublishScheduleTask(t *testing.T) {
	runner := &fakeRunner{}
	client := &fakeEnqueuer{}
	q := NewQueue(runner, client)

	err := q.HandlePublishScheduleTask(context.Background(), publishTask(t, 42))
	require.NoError(t, err)

	assert.Equal(t, []int64{42}, runner.calls)
	assert.Empty(t, client.tasks, "terminal outcome should not re-enqueue")
}

func TestHandlePublishScheduleTaskReenqueuesOnRetry(t *testing.T) {
	runner := &fakeRunner{retryIn: 5 * time.Second}
	client := &fakeEnqueuer{}
	q := NewQueue(runner, client)

	err := q.HandlePublishScheduleTask(context.Background(), publishTask(t, 42))
	require.NoError(t, err)

	require.Len(t, client.tasks, 1)
	assert.Equal(t, TaskTypePublishSchedule, client.tasks[0].Type())

	var payload PublishSchedulePayload
	require.NoError(t, json.Unmarshal(client.tasks[0].Payload(), &payload))
	assert.Equal(t, int64(42), payload.ScheduleID)
}

func TestHandlePublishScheduleTaskBadPayload(t *testing.T) {
	q := NewQueue(&fakeRunner{}, &fakeEnqueuer{})

	err := q.HandlePublishScheduleTask(context.Background(),
		asynq.NewTask(TaskTypePublishSchedule, []byte("not json")))
	assert.Error(t, err)
}
