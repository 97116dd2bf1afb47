// Package memory is a mutex guarded in-process repository. It honours the
// same conditional-write and transactional contracts as the SQL repository.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"mass-payments/internal/lifecycle"
	"mass-payments/internal/models"
)

type Store struct {
	mu           sync.Mutex
	files        map[string]models.PaymentFile
	instructions map[string]models.PaymentInstruction
	approvals    map[string]models.Approval
	accounts     map[string]models.SettlementAccount
	reservations map[string]models.FundReservation
	tenants      map[string]models.Tenant
	users        map[string]models.User
	now          func() time.Time
}

func NewStore() *Store {
	return &Store{
		files:        make(map[string]models.PaymentFile),
		instructions: make(map[string]models.PaymentInstruction),
		approvals:    make(map[string]models.Approval),
		accounts:     make(map[string]models.SettlementAccount),
		reservations: make(map[string]models.FundReservation),
		tenants:      make(map[string]models.Tenant),
		users:        make(map[string]models.User),
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the clock used for timestamps.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

// Seeding helpers.

func (s *Store) AddTenant(t models.Tenant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tenants[t.ID] = t
}

func (s *Store) AddUser(u models.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
}

func (s *Store) AddSettlementAccount(a models.SettlementAccount) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[a.ID] = a
}

// Files

func (s *Store) CreateFile(_ context.Context, file *models.PaymentFile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if file.Checksum != "" {
		for _, f := range s.files {
			if f.TenantID == file.TenantID && f.Checksum == file.Checksum && f.DeletedAt == nil {
				return models.ErrDuplicateFile
			}
		}
	}
	now := s.now()
	if file.CreatedAt.IsZero() {
		file.CreatedAt = now
	}
	file.UpdatedAt = now
	s.files[file.ID] = *file
	return nil
}

func (s *Store) GetFile(_ context.Context, id string) (*models.PaymentFile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.files[id]
	if !ok || f.DeletedAt != nil {
		return nil, models.ErrNotFound
	}
	return &f, nil
}

func (s *Store) ListFiles(_ context.Context, tenantID string, filter models.FileFilter) ([]models.PaymentFile, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var matched []models.PaymentFile
	for _, f := range s.files {
		if f.TenantID != tenantID || f.DeletedAt != nil {
			continue
		}
		if filter.Status != "" && f.Status != filter.Status {
			continue
		}
		matched = append(matched, f)
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID > matched[j].ID
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	total := len(matched)
	return page(matched, filter.Offset, filter.Limit), total, nil
}

func (s *Store) FindFileByChecksum(_ context.Context, tenantID, checksum string) (*models.PaymentFile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range s.files {
		if f.TenantID == tenantID && f.Checksum == checksum && f.DeletedAt == nil {
			return &f, nil
		}
	}
	return nil, models.ErrNotFound
}

func (s *Store) UpdateFileStatus(_ context.Context, id string, from, to models.FileStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := s.fileLocked(id, from)
	if err != nil {
		return err
	}
	f.Status = to
	f.UpdatedAt = s.now()
	s.files[id] = f
	return nil
}

func (s *Store) SaveValidationResult(_ context.Context, file *models.PaymentFile, from models.FileStatus, instructions []models.PaymentInstruction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := s.fileLocked(file.ID, from)
	if err != nil {
		return err
	}

	for id, inst := range s.instructions {
		if inst.FileID == file.ID {
			delete(s.instructions, id)
		}
	}
	now := s.now()
	for _, inst := range instructions {
		inst.CreatedAt = now
		inst.UpdatedAt = now
		s.instructions[inst.ID] = inst
	}

	f.Status = file.Status
	f.TotalRows = file.TotalRows
	f.ValidRows = file.ValidRows
	f.InvalidRows = file.InvalidRows
	f.TotalAmount = file.TotalAmount
	f.ValidationSummary = file.ValidationSummary
	f.UpdatedAt = now
	s.files[file.ID] = f
	return nil
}

func (s *Store) UpdateFileTotals(_ context.Context, id string, totals models.FileTotals) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.files[id]
	if !ok {
		return models.ErrNotFound
	}
	f.ProcessedCount = totals.Processed
	f.SucceededCount = totals.Succeeded
	f.FailedCount = totals.Failed
	f.ProcessedAmount = totals.ProcessedAmount
	f.UpdatedAt = s.now()
	s.files[id] = f
	return nil
}

func (s *Store) CancelFile(_ context.Context, id string, from models.FileStatus) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := s.fileLocked(id, from)
	if err != nil {
		return 0, err
	}
	n := s.cancelInstructionsLocked(id)
	s.cancelApprovalsLocked(id)
	f.Status = models.FileStatusCancelled
	f.UpdatedAt = s.now()
	s.files[id] = f
	return n, nil
}

func (s *Store) SoftDeleteFile(_ context.Context, id string, from models.FileStatus, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := s.fileLocked(id, from)
	if err != nil {
		return err
	}
	s.cancelInstructionsLocked(id)
	s.cancelApprovalsLocked(id)
	f.DeletedAt = &at
	f.UpdatedAt = s.now()
	s.files[id] = f
	return nil
}

func (s *Store) ListFilesByStatus(_ context.Context, statuses []models.FileStatus, updatedBefore time.Time, limit int) ([]models.PaymentFile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.PaymentFile
	for _, f := range s.files {
		if f.DeletedAt != nil || !f.UpdatedAt.Before(updatedBefore) || !containsFileStatus(statuses, f.Status) {
			continue
		}
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	return page(out, 0, limit), nil
}

func (s *Store) ListFilesHoldingInstructions(_ context.Context, fileStatuses []models.FileStatus, instStatuses []models.InstructionStatus, limit int) ([]models.PaymentFile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	holding := make(map[string]bool)
	for _, inst := range s.instructions {
		if containsInstructionStatus(instStatuses, inst.Status) {
			holding[inst.FileID] = true
		}
	}
	var out []models.PaymentFile
	for _, f := range s.files {
		if f.DeletedAt == nil && holding[f.ID] && containsFileStatus(fileStatuses, f.Status) {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	return page(out, 0, limit), nil
}

func (s *Store) fileLocked(id string, from models.FileStatus) (models.PaymentFile, error) {
	f, ok := s.files[id]
	if !ok || f.DeletedAt != nil {
		return f, models.ErrNotFound
	}
	if f.Status != from {
		return f, models.ErrStaleStatus
	}
	return f, nil
}

func (s *Store) cancelInstructionsLocked(fileID string) int {
	now := s.now()
	n := 0
	for id, inst := range s.instructions {
		if inst.FileID != fileID || !containsInstructionStatus(lifecycle.NonTerminalInstructionStatuses(), inst.Status) {
			continue
		}
		if inst.Status == models.InstructionStatusProcessing && inst.ExternalTransactionID != nil {
			continue
		}
		inst.Status = models.InstructionStatusCancelled
		inst.UpdatedAt = now
		s.instructions[id] = inst
		n++
	}
	return n
}

func (s *Store) cancelApprovalsLocked(fileID string) {
	now := s.now()
	for id, a := range s.approvals {
		if a.FileID == fileID && a.Status == models.ApprovalStatusPending {
			a.Status = models.ApprovalStatusCancelled
			a.DecidedAt = &now
			s.approvals[id] = a
		}
	}
}

// Instructions

func (s *Store) ListInstructions(_ context.Context, fileID string, q models.InstructionQuery) ([]models.PaymentInstruction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.PaymentInstruction
	for _, inst := range s.instructions {
		if inst.FileID != fileID || inst.RowNumber <= q.AfterRow {
			continue
		}
		if len(q.Statuses) > 0 && !containsInstructionStatus(q.Statuses, inst.Status) {
			continue
		}
		out = append(out, inst)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RowNumber < out[j].RowNumber })
	return page(out, q.Offset, q.Limit), nil
}

func (s *Store) CountInstructions(_ context.Context, fileID string, statuses []models.InstructionStatus) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, inst := range s.instructions {
		if inst.FileID == fileID && (len(statuses) == 0 || containsInstructionStatus(statuses, inst.Status)) {
			n++
		}
	}
	return n, nil
}

func (s *Store) GetInstruction(_ context.Context, id string) (*models.PaymentInstruction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inst, ok := s.instructions[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return &inst, nil
}

func (s *Store) UpdateInstruction(_ context.Context, inst *models.PaymentInstruction, from models.InstructionStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.instructions[inst.ID]
	if !ok {
		return models.ErrNotFound
	}
	if stored.Status != from {
		return models.ErrStaleStatus
	}
	updated := *inst
	updated.FileID = stored.FileID
	updated.TenantID = stored.TenantID
	updated.RowNumber = stored.RowNumber
	updated.CreatedAt = stored.CreatedAt
	updated.UpdatedAt = s.now()
	s.instructions[inst.ID] = updated
	inst.UpdatedAt = updated.UpdatedAt
	return nil
}

func (s *Store) InstructionTotals(_ context.Context, fileID string) (models.FileTotals, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	totals := models.FileTotals{ProcessedAmount: decimal.Zero}
	for _, inst := range s.instructions {
		if inst.FileID != fileID {
			continue
		}
		switch inst.Status {
		case models.InstructionStatusCompleted:
			totals.Processed++
			totals.Succeeded++
			totals.ProcessedAmount = totals.ProcessedAmount.Add(inst.Amount)
		case models.InstructionStatusFailed:
			totals.Processed++
			totals.Failed++
		case models.InstructionStatusCancelled:
			totals.Cancelled++
		case models.InstructionStatusValidated, models.InstructionStatusPending, models.InstructionStatusProcessing:
			totals.Pending++
		}
	}
	return totals, nil
}

// Approvals

func (s *Store) CreateApproval(_ context.Context, approval *models.Approval) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.approvals {
		if a.FileID == approval.FileID && a.ApproverID == approval.ApproverID && a.Status == models.ApprovalStatusPending {
			return models.ErrDuplicatePending
		}
	}
	s.approvals[approval.ID] = *approval
	return nil
}

func (s *Store) GetApproval(_ context.Context, id string) (*models.Approval, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.approvals[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return &a, nil
}

func (s *Store) ListApprovals(_ context.Context, fileID string) ([]models.Approval, error) {
	return s.approvalsWhere(func(a models.Approval) bool { return a.FileID == fileID }), nil
}

func (s *Store) FindPendingApprovals(_ context.Context, fileID string) ([]models.Approval, error) {
	return s.approvalsWhere(func(a models.Approval) bool {
		return a.FileID == fileID && a.Status == models.ApprovalStatusPending
	}), nil
}

func (s *Store) approvalsWhere(keep func(models.Approval) bool) []models.Approval {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Approval
	for _, a := range s.approvals {
		if keep(a) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RequestedAt.Equal(out[j].RequestedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].RequestedAt.Before(out[j].RequestedAt)
	})
	return out
}

func (s *Store) ExpireApproval(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.approvals[id]
	if !ok {
		return models.ErrNotFound
	}
	if a.Status != models.ApprovalStatusPending {
		return models.ErrStaleStatus
	}
	a.Status = models.ApprovalStatusExpired
	s.approvals[id] = a
	return nil
}

func (s *Store) DecideApproval(_ context.Context, approval *models.Approval, fileStatus models.FileStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.approvals[approval.ID]
	if !ok {
		return models.ErrNotFound
	}
	if stored.Status != models.ApprovalStatusPending {
		return models.ErrStaleStatus
	}
	f, err := s.fileLocked(stored.FileID, models.FileStatusAwaitingApproval)
	if err != nil {
		return err
	}

	stored.Status = approval.Status
	stored.DecidedAt = approval.DecidedAt
	stored.Comments = approval.Comments
	s.approvals[stored.ID] = stored

	for id, other := range s.approvals {
		if other.FileID == stored.FileID && other.ID != stored.ID && other.Status == models.ApprovalStatusPending {
			other.Status = models.ApprovalStatusCancelled
			other.DecidedAt = approval.DecidedAt
			s.approvals[id] = other
		}
	}

	f.Status = fileStatus
	if fileStatus == models.FileStatusApproved {
		approver := stored.ApproverID
		f.ApprovedBy = &approver
		f.ApprovedAt = approval.DecidedAt
	}
	f.UpdatedAt = s.now()
	s.files[f.ID] = f
	return nil
}

// Settlement accounts

func (s *Store) GetSettlementAccount(_ context.Context, id string) (*models.SettlementAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return &a, nil
}

func (s *Store) ReserveFunds(_ context.Context, accountID, instructionID string, amount decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, exists := s.reservations[instructionID]
	if exists && res.Status != models.ReservationReleased {
		return nil
	}
	acct, ok := s.accounts[accountID]
	if !ok {
		return models.ErrNotFound
	}
	if acct.AvailableBalance.LessThan(amount) {
		return models.ErrInsufficientFunds
	}
	now := s.now()
	acct.AvailableBalance = acct.AvailableBalance.Sub(amount)
	acct.ReservedBalance = acct.ReservedBalance.Add(amount)
	acct.UpdatedAt = now
	s.accounts[accountID] = acct

	if !exists {
		res.CreatedAt = now
	}
	res.InstructionID = instructionID
	res.AccountID = accountID
	res.Amount = amount
	res.Status = models.ReservationReserved
	res.UpdatedAt = now
	s.reservations[instructionID] = res
	return nil
}

func (s *Store) CommitReservation(_ context.Context, instructionID string) error {
	return s.settleReservation(instructionID, models.ReservationCommitted)
}

func (s *Store) ReleaseReservation(_ context.Context, instructionID string) error {
	return s.settleReservation(instructionID, models.ReservationReleased)
}

func (s *Store) settleReservation(instructionID string, to models.ReservationStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, ok := s.reservations[instructionID]
	if !ok || res.Status != models.ReservationReserved {
		return nil
	}
	acct := s.accounts[res.AccountID]
	acct.ReservedBalance = acct.ReservedBalance.Sub(res.Amount)
	if to == models.ReservationReleased {
		acct.AvailableBalance = acct.AvailableBalance.Add(res.Amount)
	}
	acct.UpdatedAt = s.now()
	s.accounts[res.AccountID] = acct

	res.Status = to
	res.UpdatedAt = acct.UpdatedAt
	s.reservations[instructionID] = res
	return nil
}

// Reservation returns the reservation held for an instruction.
func (s *Store) Reservation(instructionID string) (models.FundReservation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, ok := s.reservations[instructionID]
	return res, ok
}

// Users and tenants

func (s *Store) GetTenant(_ context.Context, tenantID string) (*models.Tenant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tenants[tenantID]
	if !ok {
		return nil, models.ErrNotFound
	}
	return &t, nil
}

func (s *Store) ResolveApprovers(_ context.Context, tenantID, excludeUserID string) ([]models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.User
	for _, u := range s.users {
		if u.TenantID != tenantID || u.ID == excludeUserID || !u.IsActive {
			continue
		}
		if u.Role == models.RoleApprover || u.Role == models.RoleAdmin {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out, nil
}

func (s *Store) FindByUsername(_ context.Context, username string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Username == username {
			return &u, nil
		}
	}
	return nil, models.ErrNotFound
}

func (s *Store) FindByID(_ context.Context, id string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return &u, nil
}

func page[T any](items []T, offset, limit int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return nil
		}
		items = items[offset:]
	}
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

func containsFileStatus(list []models.FileStatus, s models.FileStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func containsInstructionStatus(list []models.InstructionStatus, s models.InstructionStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func (s *Store) CreateUser(_ context.Context, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Username == user.Username {
			return models.ErrDuplicateUser
		}
	}
	s.users[user.ID] = *user
	return nil
}

func (s *Store) CreateTenant(_ context.Context, tenant *models.Tenant) error {
	s.AddTenant(*tenant)
	return nil
}

func (s *Store) CreateSettlementAccount(_ context.Context, account *models.SettlementAccount) error {
	s.mu.Lock()
	account.UpdatedAt = s.now()
	s.mu.Unlock()
	s.AddSettlementAccount(*account)
	return nil
}

func (s *Store) ListSettlementAccounts(_ context.Context, tenantID string) ([]models.SettlementAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []models.SettlementAccount{}
	for _, a := range s.accounts {
		if a.TenantID == tenantID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Currency == out[j].Currency {
			return out[i].ID < out[j].ID
		}
		return out[i].Currency < out[j].Currency
	})
	return out, nil
}
