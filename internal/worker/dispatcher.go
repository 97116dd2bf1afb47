package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"mass-payments/internal/service"
	"mass-payments/internal/utils"
)

// Enqueuer is the part of *asynq.Client the dispatcher uses.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// TaskInspector is the part of *asynq.Inspector the dispatcher uses.
type TaskInspector interface {
	GetTaskInfo(queue, id string) (*asynq.TaskInfo, error)
	DeleteTask(queue, id string) error
}

// Dispatcher enqueues background jobs on asynq.
type Dispatcher struct {
	client     Enqueuer
	inspector  TaskInspector
	maxRetries int
	log        *logrus.Logger
}

func NewDispatcher(client Enqueuer, inspector TaskInspector, maxRetries int) *Dispatcher {
	return &Dispatcher{client: client, inspector: inspector, maxRetries: maxRetries, log: utils.GetLogger()}
}

func (d *Dispatcher) EnqueueValidation(ctx context.Context, fileID string) error {
	task, err := NewValidateFileTask(fileID)
	if err != nil {
		return err
	}
	return d.enqueueFileTask(ctx, task, QueueDefault, FileTaskID(TypeValidateFile, fileID))
}

func (d *Dispatcher) EnqueueProcessing(ctx context.Context, fileID string) error {
	task, err := NewProcessFileTask(fileID)
	if err != nil {
		return err
	}
	return d.enqueueFileTask(ctx, task, QueueCritical, FileTaskID(TypeProcessFile, fileID))
}

func (d *Dispatcher) EnqueueInstruction(ctx context.Context, instructionID string) error {
	task, err := NewExecuteInstructionTask(instructionID)
	if err != nil {
		return err
	}
	return d.enqueue(ctx, task)
}

// enqueueFileTask enqueues a task carrying a fixed ID. asynq keeps the IDs of
// archived and completed tasks, so such a leftover is deleted and the task
// enqueued again. A live task with the ID yields service.ErrJobAlreadyQueued.
func (d *Dispatcher) enqueueFileTask(ctx context.Context, task *asynq.Task, queue, id string) error {
	err := d.enqueue(ctx, task)
	if !errors.Is(err, asynq.ErrTaskIDConflict) {
		return err
	}

	info, err := d.inspector.GetTaskInfo(queue, id)
	switch {
	case errors.Is(err, asynq.ErrTaskNotFound):
		// Finished and removed since the conflict.
		return d.retryEnqueue(ctx, task)
	case err != nil:
		return fmt.Errorf("inspect task %s: %w", id, err)
	}

	switch info.State {
	case asynq.TaskStateArchived, asynq.TaskStateCompleted:
		if err := d.inspector.DeleteTask(queue, id); err != nil && !errors.Is(err, asynq.ErrTaskNotFound) {
			return fmt.Errorf("delete %s task %s: %w", info.State, id, err)
		}
		d.log.WithFields(logrus.Fields{"task": task.Type(), "id": id, "state": info.State.String()}).
			Info("Replacing finished task")
		return d.retryEnqueue(ctx, task)
	default:
		d.log.WithFields(logrus.Fields{"task": task.Type(), "id": id, "state": info.State.String()}).
			Debug("Task already queued")
		return service.ErrJobAlreadyQueued
	}
}

func (d *Dispatcher) retryEnqueue(ctx context.Context, task *asynq.Task) error {
	err := d.enqueue(ctx, task)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return service.ErrJobAlreadyQueued
	}
	return err
}

func (d *Dispatcher) enqueue(ctx context.Context, task *asynq.Task) error {
	info, err := d.client.EnqueueContext(ctx, task, asynq.MaxRetry(d.maxRetries))
	if err != nil {
		return err
	}
	d.log.WithFields(logrus.Fields{
		"task":  task.Type(),
		"id":    info.ID,
		"queue": info.Queue,
	}).Debug("Task enqueued")
	return nil
}
