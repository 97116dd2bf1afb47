package service

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"mass-payments/internal/models"
)

// events fans notifications out in the background. Delivery failures are
// logged and never reach the operation that triggered them.
type events struct {
	notifier Notifier
	timeout  time.Duration
	log      *logrus.Logger
}

func (e events) send(kind, fileID string, fn func(ctx context.Context) error) {
	if e.notifier == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), e.timeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			e.log.WithFields(logrus.Fields{
				"event":   kind,
				"file_id": fileID,
				"error":   err.Error(),
			}).Warn("Notification delivery failed")
		}
	}()
}

func (e events) statusChanged(file models.PaymentFile, from, to models.FileStatus) {
	file.Status = to
	e.send("status_change", file.ID, func(ctx context.Context) error {
		return e.notifier.NotifyStatusChange(ctx, file, from, to)
	})
}

func (e events) approvalRequired(file models.PaymentFile, approval models.Approval) {
	e.send("approval_required", file.ID, func(ctx context.Context) error {
		return e.notifier.NotifyApprovalRequired(ctx, file, approval)
	})
}
