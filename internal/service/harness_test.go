package service

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"mass-payments/internal/config"
	"mass-payments/internal/currency"
	"mass-payments/internal/models"
	"mass-payments/internal/provider"
	"mass-payments/internal/repository/memory"
	"mass-payments/internal/validation"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type memStorage struct {
	mu    sync.Mutex
	blobs map[string][]byte
}

func (m *memStorage) Store(_ context.Context, _ string, r io.Reader) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	ref := uuid.NewString()
	m.mu.Lock()
	m.blobs[ref] = data
	m.mu.Unlock()
	return ref, nil
}

func (m *memStorage) Open(_ context.Context, ref string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.blobs[ref]
	if !ok {
		return nil, models.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *memStorage) Delete(_ context.Context, ref string) error {
	m.mu.Lock()
	delete(m.blobs, ref)
	m.mu.Unlock()
	return nil
}

// recordingDispatcher remembers jobs without running them.
type recordingDispatcher struct {
	mu           sync.Mutex
	validations  []string
	processing   []string
	instructions []string
	// live marks files whose processing job is still queued.
	live map[string]bool
}

func (d *recordingDispatcher) EnqueueValidation(_ context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.validations = append(d.validations, id)
	return nil
}

func (d *recordingDispatcher) EnqueueProcessing(_ context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.live[id] {
		return ErrJobAlreadyQueued
	}
	d.processing = append(d.processing, id)
	return nil
}

func (d *recordingDispatcher) EnqueueInstruction(_ context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.instructions = append(d.instructions, id)
	return nil
}

func (d *recordingDispatcher) processed() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.processing...)
}

type harness struct {
	t          *testing.T
	ctx        context.Context
	cfg        *config.Config
	clock      *clock
	store      *memory.Store
	storage    *memStorage
	dispatcher *recordingDispatcher
	sandbox    *provider.Sandbox
	providers  *provider.Registry
	files      *FileService
	approvals  *ApprovalService
	processor  *PaymentProcessor
	reconciler *Reconciler

	tenant   models.Tenant
	uploader models.Principal
	approver models.Principal
	account  models.SettlementAccount
}

func newHarness(t *testing.T, opts ...func(*config.Config)) *harness {
	t.Helper()
	cfg := config.Defaults()
	for _, opt := range opts {
		opt(cfg)
	}

	h := &harness{
		t:          t,
		ctx:        context.Background(),
		cfg:        cfg,
		clock:      &clock{t: time.Date(2024, 6, 3, 9, 0, 0, 0, time.UTC)},
		store:      memory.NewStore(),
		storage:    &memStorage{blobs: make(map[string][]byte)},
		dispatcher: &recordingDispatcher{},
		sandbox:    provider.NewSandbox("sandbox"),
	}
	h.store.SetClock(h.clock.Now)
	h.providers = provider.NewRegistry(h.sandbox)

	h.tenant = models.Tenant{ID: "tenant-1", Name: "Acme", HomeCurrency: "USD"}
	h.store.AddTenant(h.tenant)
	h.store.AddUser(models.User{ID: "user-up", TenantID: h.tenant.ID, Username: "uploader", Role: models.RoleUser, IsActive: true})
	h.store.AddUser(models.User{ID: "user-ap", TenantID: h.tenant.ID, Username: "approver", Role: models.RoleApprover, IsActive: true})
	h.uploader = models.Principal{UserID: "user-up", TenantID: h.tenant.ID, Role: models.RoleUser}
	h.approver = models.Principal{UserID: "user-ap", TenantID: h.tenant.ID, Role: models.RoleApprover}

	h.account = models.SettlementAccount{
		ID:               "acct-usd",
		TenantID:         h.tenant.ID,
		Currency:         "USD",
		AvailableBalance: decimal.NewFromInt(1_000_000),
		ReservedBalance:  decimal.Zero,
	}
	h.store.AddSettlementAccount(h.account)

	rules := currency.Default()
	h.approvals = NewApprovalService(h.store, rules, h.store, h.store, h.dispatcher, nil, cfg)
	h.files = NewFileService(h.store, h.storage, rules, h.approvals, h.dispatcher, nil, nil, cfg)
	h.processor = NewPaymentProcessor(h.store, rules, h.providers, h.dispatcher, nil, nil, cfg)
	h.files.SetPendingCanceller(h.processor)
	h.reconciler = NewReconciler(h.store, h.processor, h.approvals, h.dispatcher, cfg)
	h.approvals.now = h.clock.Now
	h.files.now = h.clock.Now
	h.processor.now = h.clock.Now
	h.reconciler.now = h.clock.Now
	return h
}

// usdRows returns n valid USD rows; amounts are 11.00, 12.00, ...
func usdRows(n int) [][]string {
	rule, _ := currency.Default().RuleFor("USD")
	return SampleRows(rule, nil, n)
}

func col(name string) int {
	for i, c := range validation.Columns {
		if c == name {
			return i
		}
	}
	panic("unknown column " + name)
}

func csvBytes(t *testing.T, header []string, rows [][]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	require.NoError(t, w.Write(header))
	require.NoError(t, w.WriteAll(rows))
	return buf.Bytes()
}

// uploadAndValidate runs upload and the validation job for a USD file.
func (h *harness) uploadAndValidate(rows [][]string) *models.PaymentFile {
	h.t.Helper()
	file, err := h.files.Upload(h.ctx, h.uploader, models.UploadRequest{
		Filename:            fmt.Sprintf("payments-%s.csv", uuid.NewString()[:8]),
		Currency:            "USD",
		SettlementAccountID: h.account.ID,
	}, bytes.NewReader(csvBytes(h.t, validation.Columns, rows)))
	require.NoError(h.t, err)

	file, err = h.files.Validate(h.ctx, file.ID)
	require.NoError(h.t, err)
	return file
}

// approvedFile uploads rows and moves the file to approved without an
// approval round.
func (h *harness) approvedFile(rows [][]string) *models.PaymentFile {
	h.t.Helper()
	file := h.uploadAndValidate(rows)
	require.Equal(h.t, models.FileStatusValidated, file.Status)
	file, err := h.files.Submit(h.ctx, h.uploader, file.ID)
	require.NoError(h.t, err)
	require.Equal(h.t, models.FileStatusApproved, file.Status)
	return file
}

func (h *harness) file(id string) *models.PaymentFile {
	h.t.Helper()
	f, err := h.store.GetFile(h.ctx, id)
	require.NoError(h.t, err)
	return f
}

func (h *harness) instructions(fileID string) []models.PaymentInstruction {
	h.t.Helper()
	list, err := h.store.ListInstructions(h.ctx, fileID, models.InstructionQuery{})
	require.NoError(h.t, err)
	return list
}

func (h *harness) balance() models.SettlementAccount {
	h.t.Helper()
	acct, err := h.store.GetSettlementAccount(h.ctx, h.account.ID)
	require.NoError(h.t, err)
	return *acct
}
