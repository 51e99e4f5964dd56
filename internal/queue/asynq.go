package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

const TaskTypeRunJob = "job:run"

type runJobPayload struct {
	JobID string `json:"job_id"`
}

// AsynqDriver hands wake-ups to Redis so they survive restarts and are
// shared between processes. Retries belong to JobQueue, so every task is
// enqueued with MaxRetry(0).
type AsynqDriver struct {
	client *asynq.Client
	server *asynq.Server
	mux    *asynq.ServeMux

	logger *zap.SugaredLogger
}

func NewAsynqDriver(redisAddr string, concurrency int, logger *zap.SugaredLogger) *AsynqDriver {
	redisConn := asynq.RedisClientOpt{Addr: redisAddr}

	server := asynq.NewServer(redisConn, asynq.Config{
		Concurrency: concurrency,
		Logger:      logger,
	})

	return &AsynqDriver{
		client: asynq.NewClient(redisConn),
		server: server,
		mux:    asynq.NewServeMux(),
		logger: logger,
	}
}

func (d *AsynqDriver) Schedule(ctx context.Context, jobID string, runAt time.Time) error {
	payload, err := json.Marshal(runJobPayload{JobID: jobID})
	if err != nil {
		return err
	}

	task := asynq.NewTask(TaskTypeRunJob, payload)
	taskID := fmt.Sprintf("%s:%d", jobID, runAt.Unix())

	_, err = d.client.EnqueueContext(ctx, task,
		asynq.ProcessAt(runAt),
		asynq.MaxRetry(0),
		asynq.TaskID(taskID),
	)
	if err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask) {
			return nil
		}
		return fmt.Errorf("enqueue task: %w", err)
	}

	d.logger.Debugw("task scheduled", "job_id", jobID, "run_at", runAt)
	return nil
}

func (d *AsynqDriver) Start(exec Executor) error {
	d.mux.HandleFunc(TaskTypeRunJob, func(ctx context.Context, task *asynq.Task) error {
		var payload runJobPayload
		if err := json.Unmarshal(task.Payload(), &payload); err != nil {
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
		return exec(ctx, payload.JobID)
	})

	if err := d.server.Start(d.mux); err != nil {
		return fmt.Errorf("start asynq server: %w", err)
	}
	return nil
}

func (d *AsynqDriver) Stop() {
	d.server.Shutdown()
	if err := d.client.Close(); err != nil {
		d.logger.Warnw("closing asynq client", "error", err)
	}
}
