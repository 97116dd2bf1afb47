package worker

import (
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
)

const (
	TypeValidateFile       = "payment_file:validate"
	TypeProcessFile        = "payment_file:process"
	TypeExecuteInstruction = "instruction:execute"
	TypeReconcile          = "payment_file:reconcile"
)

const (
	QueueCritical = "critical"
	QueueDefault  = "default"
	QueueLow      = "low"
)

type FilePayload struct {
	FileID string `json:"file_id"`
}

type InstructionPayload struct {
	InstructionID string `json:"instruction_id"`
}

// FileTaskID is the asynq task ID of a file job. At most one job of a type
// is live per file.
func FileTaskID(taskType, fileID string) string {
	return fmt.Sprintf("%s:%s", taskType, fileID)
}

func NewValidateFileTask(fileID string) (*asynq.Task, error) {
	payload, err := json.Marshal(FilePayload{FileID: fileID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeValidateFile, payload,
		asynq.Queue(QueueDefault),
		asynq.TaskID(FileTaskID(TypeValidateFile, fileID)),
	), nil
}

func NewProcessFileTask(fileID string) (*asynq.Task, error) {
	payload, err := json.Marshal(FilePayload{FileID: fileID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeProcessFile, payload,
		asynq.Queue(QueueCritical),
		asynq.TaskID(FileTaskID(TypeProcessFile, fileID)),
	), nil
}

// NewExecuteInstructionTask carries no task ID: a retried instruction must be
// enqueued again after its previous attempt finished.
func NewExecuteInstructionTask(instructionID string) (*asynq.Task, error) {
	payload, err := json.Marshal(InstructionPayload{InstructionID: instructionID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeExecuteInstruction, payload, asynq.Queue(QueueCritical)), nil
}

func NewReconcileTask() *asynq.Task {
	return asynq.NewTask(TypeReconcile, nil, asynq.Queue(QueueLow), asynq.MaxRetry(0))
}
