package provider

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"

	"mass-payments/internal/models"
)

// Sandbox settles instructions in memory. The beneficiary account decides
// the outcome: accounts starting with REJECT are rejected, PENDING stay
// pending and TIMEOUT time out. Everything else settles.
type Sandbox struct {
	mu          sync.Mutex
	name        string
	unavailable bool
	byInst      map[string]Result
	byTxn       map[string]Status
	calls       map[string]int
}

func NewSandbox(name string) *Sandbox {
	return &Sandbox{
		name:   name,
		byInst: make(map[string]Result),
		byTxn:  make(map[string]Status),
		calls:  make(map[string]int),
	}
}

func (s *Sandbox) Name() string { return s.name }

// SetUnavailable makes every call fail with ErrUnavailable.
func (s *Sandbox) SetUnavailable(down bool) {
	s.mu.Lock()
	s.unavailable = down
	s.mu.Unlock()
}

// Settle moves a pending transaction to settled, as a provider callback would.
func (s *Sandbox) Settle(transactionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byTxn[transactionID]; ok {
		s.byTxn[transactionID] = StatusSettled
	}
}

// Calls reports how many times Execute ran for an instruction.
func (s *Sandbox) Calls(instructionID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[instructionID]
}

func (s *Sandbox) Execute(ctx context.Context, inst models.PaymentInstruction) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, ErrTimeout
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls[inst.ID]++
	if s.unavailable {
		return Result{}, ErrUnavailable
	}
	if prev, ok := s.byInst[inst.ID]; ok && prev.Status != StatusRejected {
		prev.Status = s.byTxn[prev.TransactionID]
		return prev, nil
	}

	account := strings.ToUpper(inst.BeneficiaryAccount)
	res := Result{TransactionID: "sbx_" + uuid.NewString(), Status: StatusSettled}
	switch {
	case strings.HasPrefix(account, "REJECT"):
		res.Status = StatusRejected
		res.Reason = "beneficiary account closed"
	case strings.HasPrefix(account, "PENDING"):
		res.Status = StatusPending
	case strings.HasPrefix(account, "TIMEOUT"):
		return Result{}, ErrTimeout
	}
	s.byInst[inst.ID] = res
	s.byTxn[res.TransactionID] = res.Status
	return res, nil
}

func (s *Sandbox) QueryStatus(ctx context.Context, transactionID string) (Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unavailable {
		return StatusUnknown, ErrUnavailable
	}
	st, ok := s.byTxn[transactionID]
	if !ok {
		return StatusUnknown, ErrUnknownTxn
	}
	return st, nil
}

func (s *Sandbox) Cancel(ctx context.Context, transactionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unavailable {
		return ErrUnavailable
	}
	st, ok := s.byTxn[transactionID]
	if !ok {
		return ErrUnknownTxn
	}
	if st == StatusSettled {
		return ErrAlreadySettled
	}
	s.byTxn[transactionID] = StatusCanceled
	return nil
}
