package worker

import (
	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"mass-payments/internal/utils"
)

func RegisterHandlers(mux *asynq.ServeMux, h *TaskHandler) {
	mux.HandleFunc(TypeValidateFile, h.HandleValidate)
	mux.HandleFunc(TypeProcessFile, h.HandleProcess)
	mux.HandleFunc(TypeExecuteInstruction, h.HandleExecute)
	mux.HandleFunc(TypeReconcile, h.HandleReconcile)
}

// RegisterSchedule queues the reconcile sweep on a cron expression such as
// "@every 5m". An empty expression disables the sweep.
func RegisterSchedule(scheduler *asynq.Scheduler, cronExpr string) error {
	if cronExpr == "" {
		utils.GetLogger().Warn("Reconcile schedule disabled")
		return nil
	}
	entryID, err := scheduler.Register(cronExpr, NewReconcileTask())
	if err != nil {
		return err
	}
	utils.GetLogger().WithFields(logrus.Fields{"entry": entryID, "cron": cronExpr}).Info("Reconcile sweep scheduled")
	return nil
}
