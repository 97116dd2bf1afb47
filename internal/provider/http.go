package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"mass-payments/internal/models"
)

// HTTPProvider talks to a corridor gateway over JSON. The instruction id is
// sent as the Idempotency-Key so replays return the original result.
type HTTPProvider struct {
	name       string
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewHTTPProvider(name, baseURL, apiKey string, timeout time.Duration) *HTTPProvider {
	return &HTTPProvider{
		name:    name,
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:    10,
				IdleConnTimeout: 30 * time.Second,
			},
			Timeout: timeout,
		},
	}
}

func (p *HTTPProvider) Name() string { return p.name }

type paymentRequest struct {
	InstructionID    string                    `json:"instruction_id"`
	Amount           string                    `json:"amount"`
	Currency         string                    `json:"currency"`
	BeneficiaryName  string                    `json:"beneficiary_name"`
	Account          string                    `json:"account"`
	BankCode         string                    `json:"bank_code,omitempty"`
	SettlementMethod string                    `json:"settlement_method"`
	Reference        string                    `json:"reference,omitempty"`
	PurposeCode      string                    `json:"purpose_code,omitempty"`
	Details          models.InstructionDetails `json:"details"`
}

type statusResponse struct {
	Status Status `json:"status"`
}

func (p *HTTPProvider) Execute(ctx context.Context, inst models.PaymentInstruction) (Result, error) {
	body := paymentRequest{
		InstructionID:    inst.ID,
		Amount:           inst.Amount.String(),
		Currency:         inst.Currency,
		BeneficiaryName:  inst.BeneficiaryName,
		Account:          inst.BeneficiaryAccount,
		BankCode:         inst.BankCode,
		SettlementMethod: inst.SettlementMethod,
		Reference:        inst.Reference,
		PurposeCode:      inst.PurposeCode,
		Details:          inst.Details,
	}

	var res Result
	status, err := p.do(ctx, http.MethodPost, "/payments", inst.ID, body, &res)
	if err != nil {
		return Result{}, err
	}
	switch status {
	case http.StatusOK, http.StatusCreated, http.StatusAccepted, http.StatusConflict:
		if res.Status == "" {
			res.Status = StatusPending
		}
		return res, nil
	case http.StatusUnprocessableEntity, http.StatusBadRequest:
		if res.Status == "" {
			res.Status = StatusRejected
		}
		return res, nil
	default:
		return Result{}, fmt.Errorf("%w: %s returned %d", ErrUnavailable, p.name, status)
	}
}

func (p *HTTPProvider) QueryStatus(ctx context.Context, transactionID string) (Status, error) {
	var res statusResponse
	status, err := p.do(ctx, http.MethodGet, "/payments/"+transactionID, "", nil, &res)
	if err != nil {
		return StatusUnknown, err
	}
	switch status {
	case http.StatusOK:
		return res.Status, nil
	case http.StatusNotFound:
		return StatusUnknown, ErrUnknownTxn
	default:
		return StatusUnknown, fmt.Errorf("%w: %s returned %d", ErrUnavailable, p.name, status)
	}
}

func (p *HTTPProvider) Cancel(ctx context.Context, transactionID string) error {
	status, err := p.do(ctx, http.MethodPost, "/payments/"+transactionID+"/cancel", "", nil, nil)
	if err != nil {
		return err
	}
	switch status {
	case http.StatusOK, http.StatusAccepted, http.StatusNoContent:
		return nil
	case http.StatusConflict:
		return ErrAlreadySettled
	case http.StatusNotFound:
		return ErrUnknownTxn
	default:
		return fmt.Errorf("%w: %s returned %d", ErrUnavailable, p.name, status)
	}
}

func (p *HTTPProvider) do(ctx context.Context, method, path, idempotencyKey string, in, out interface{}) (int, error) {
	var reqBody io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return 0, err
		}
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, reqBody)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Api-Key", p.apiKey)
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return 0, classify(err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return 0, classify(err)
	}
	if out != nil && len(bytes.TrimSpace(respBody)) > 0 && resp.StatusCode < http.StatusInternalServerError {
		if err := json.Unmarshal(respBody, out); err != nil {
			return 0, fmt.Errorf("%w: decode %s response: %v", ErrUnavailable, p.name, err)
		}
	}
	return resp.StatusCode, nil
}

func classify(err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}
