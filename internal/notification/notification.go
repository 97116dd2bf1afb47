// Package notification delivers file lifecycle events to approvers and
// downstream listeners.
package notification

import (
	"time"

	"mass-payments/internal/models"
)

const (
	EventApprovalRequired = "approval_required"
	EventStatusChanged    = "status_changed"
)

// Event is the JSON document published for every notification.
type Event struct {
	Type       string            `json:"type"`
	FileID     string            `json:"file_id"`
	TenantID   string            `json:"tenant_id"`
	Filename   string            `json:"filename,omitempty"`
	From       models.FileStatus `json:"from,omitempty"`
	To         models.FileStatus `json:"to,omitempty"`
	ApprovalID string            `json:"approval_id,omitempty"`
	ApproverID string            `json:"approver_id,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
}

func approvalEvent(file models.PaymentFile, approval models.Approval, now time.Time) Event {
	return Event{
		Type:       EventApprovalRequired,
		FileID:     file.ID,
		TenantID:   file.TenantID,
		Filename:   file.OriginalFilename,
		To:         file.Status,
		ApprovalID: approval.ID,
		ApproverID: approval.ApproverID,
		OccurredAt: now,
	}
}

func statusEvent(file models.PaymentFile, from, to models.FileStatus, now time.Time) Event {
	return Event{
		Type:       EventStatusChanged,
		FileID:     file.ID,
		TenantID:   file.TenantID,
		Filename:   file.OriginalFilename,
		From:       from,
		To:         to,
		OccurredAt: now,
	}
}
