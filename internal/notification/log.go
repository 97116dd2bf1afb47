package notification

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"mass-payments/internal/models"
)

// LogNotifier writes events to the application log. Used when Redis is not
// configured.
type LogNotifier struct {
	log *logrus.Logger
}

func NewLogNotifier(log *logrus.Logger) *LogNotifier {
	return &LogNotifier{log: log}
}

func (n *LogNotifier) NotifyApprovalRequired(_ context.Context, file models.PaymentFile, approval models.Approval) error {
	n.write(approvalEvent(file, approval, time.Now().UTC()))
	return nil
}

func (n *LogNotifier) NotifyStatusChange(_ context.Context, file models.PaymentFile, from, to models.FileStatus) error {
	n.write(statusEvent(file, from, to, time.Now().UTC()))
	return nil
}

func (n *LogNotifier) write(ev Event) {
	n.log.WithFields(logrus.Fields{
		"event":       ev.Type,
		"file_id":     ev.FileID,
		"tenant_id":   ev.TenantID,
		"from":        ev.From,
		"to":          ev.To,
		"approval_id": ev.ApprovalID,
		"approver_id": ev.ApproverID,
	}).Info("Payment file event")
}
