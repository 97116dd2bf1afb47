package worker

import (
	"context"
	"sync"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"mass-payments/internal/utils"
)

// InlineDispatcher runs jobs on goroutines in the calling process. It backs
// the single-binary mode where no Redis is available. Bind must be called
// before the first job is enqueued.
type InlineDispatcher struct {
	mu      sync.RWMutex
	handler *TaskHandler
	ctx     context.Context
	wg      sync.WaitGroup
	log     *logrus.Logger
}

func NewInlineDispatcher(ctx context.Context) *InlineDispatcher {
	return &InlineDispatcher{ctx: ctx, log: utils.GetLogger()}
}

func (d *InlineDispatcher) Bind(h *TaskHandler) {
	d.mu.Lock()
	d.handler = h
	d.mu.Unlock()
}

func (d *InlineDispatcher) EnqueueValidation(_ context.Context, fileID string) error {
	task, err := NewValidateFileTask(fileID)
	if err != nil {
		return err
	}
	d.run(task, func(h *TaskHandler) asynq.HandlerFunc { return h.HandleValidate })
	return nil
}

func (d *InlineDispatcher) EnqueueProcessing(_ context.Context, fileID string) error {
	task, err := NewProcessFileTask(fileID)
	if err != nil {
		return err
	}
	d.run(task, func(h *TaskHandler) asynq.HandlerFunc { return h.HandleProcess })
	return nil
}

func (d *InlineDispatcher) EnqueueInstruction(_ context.Context, instructionID string) error {
	task, err := NewExecuteInstructionTask(instructionID)
	if err != nil {
		return err
	}
	d.run(task, func(h *TaskHandler) asynq.HandlerFunc { return h.HandleExecute })
	return nil
}

// Wait blocks until every started job has returned.
func (d *InlineDispatcher) Wait() {
	d.wg.Wait()
}

func (d *InlineDispatcher) run(task *asynq.Task, pick func(*TaskHandler) asynq.HandlerFunc) {
	d.mu.RLock()
	h := d.handler
	d.mu.RUnlock()
	if h == nil {
		d.log.WithField("task", task.Type()).Error("Inline dispatcher not bound, job dropped")
		return
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := pick(h).ProcessTask(d.ctx, task); err != nil {
			d.log.WithField("task", task.Type()).WithError(err).Error("Inline job failed")
		}
	}()
}
