package models

import "time"

type ApprovalStatus string

const (
	ApprovalStatusPending   ApprovalStatus = "pending"
	ApprovalStatusApproved  ApprovalStatus = "approved"
	ApprovalStatusRejected  ApprovalStatus = "rejected"
	ApprovalStatusCancelled ApprovalStatus = "cancelled"
	ApprovalStatusExpired   ApprovalStatus = "expired"
)

type ApprovalAction string

const (
	ActionApprove ApprovalAction = "approve"
	ActionReject  ApprovalAction = "reject"
)

type Approval struct {
	ID          string         `db:"id" json:"id"`
	FileID      string         `db:"file_id" json:"file_id"`
	TenantID    string         `db:"tenant_id" json:"tenant_id"`
	ApproverID  string         `db:"approver_id" json:"approver_id"`
	Status      ApprovalStatus `db:"status" json:"status"`
	RequestedAt time.Time      `db:"requested_at" json:"requested_at"`
	DecidedAt   *time.Time     `db:"decided_at" json:"decided_at,omitempty"`
	Comments    *string        `db:"comments" json:"comments,omitempty"`
}

// IsExpired reports whether a pending approval is older than timeout.
func (a *Approval) IsExpired(now time.Time, timeout time.Duration) bool {
	return a.Status == ApprovalStatusPending && now.Sub(a.RequestedAt) > timeout
}

type ApprovalDecision struct {
	Action   ApprovalAction `json:"action"`
	Comments string         `json:"comments"`
}
