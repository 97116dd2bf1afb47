package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mass-payments/internal/models"
)

func instruction(id, account string) models.PaymentInstruction {
	return models.PaymentInstruction{
		ID:                 id,
		BeneficiaryName:    "John Doe",
		BeneficiaryAccount: account,
		Amount:             decimal.RequireFromString("125.50"),
		Currency:           "USD",
		SettlementMethod:   models.SettlementSwift,
	}
}

func TestSandboxIsIdempotentPerInstruction(t *testing.T) {
	sb := NewSandbox("swift")
	ctx := context.Background()

	first, err := sb.Execute(ctx, instruction("i-1", "123456"))
	require.NoError(t, err)
	second, err := sb.Execute(ctx, instruction("i-1", "123456"))
	require.NoError(t, err)

	assert.Equal(t, StatusSettled, first.Status)
	assert.Equal(t, first.TransactionID, second.TransactionID)
	assert.Equal(t, 2, sb.Calls("i-1"))
}

func TestSandboxOutcomes(t *testing.T) {
	sb := NewSandbox("swift")
	ctx := context.Background()

	res, err := sb.Execute(ctx, instruction("i-1", "REJECT-1"))
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, res.Status)
	assert.NotEmpty(t, res.Reason)

	_, err = sb.Execute(ctx, instruction("i-2", "TIMEOUT-1"))
	assert.ErrorIs(t, err, ErrTimeout)

	pending, err := sb.Execute(ctx, instruction("i-3", "PENDING-1"))
	require.NoError(t, err)
	assert.Equal(t, StatusPending, pending.Status)
	require.NoError(t, sb.Cancel(ctx, pending.TransactionID))
	st, err := sb.QueryStatus(ctx, pending.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, StatusCanceled, st)

	settled, err := sb.Execute(ctx, instruction("i-4", "123456"))
	require.NoError(t, err)
	assert.ErrorIs(t, sb.Cancel(ctx, settled.TransactionID), ErrAlreadySettled)

	sb.SetUnavailable(true)
	_, err = sb.Execute(ctx, instruction("i-5", "123456"))
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestRegistryFallback(t *testing.T) {
	swift := NewSandbox("swift")
	reg := NewRegistry(nil)
	reg.Register("swift", swift)

	p, err := reg.Resolve("swift")
	require.NoError(t, err)
	assert.Equal(t, "swift", p.Name())

	_, err = reg.Resolve("sepa")
	assert.ErrorIs(t, err, ErrProviderNotFound)

	withFallback := NewRegistry(swift)
	p, err = withFallback.Resolve("sepa")
	require.NoError(t, err)
	assert.Same(t, swift, p)
}

func TestHTTPProviderExecute(t *testing.T) {
	tests := []struct {
		name           string
		responseStatus int
		responseBody   string
		expectErr      error
		expectStatus   Status
	}{
		{
			name:           "Success - 201 Created",
			responseStatus: http.StatusCreated,
			responseBody:   `{"transaction_id":"tx-1","status":"settled"}`,
			expectStatus:   StatusSettled,
		},
		{
			name:           "Replay - 409 Conflict",
			responseStatus: http.StatusConflict,
			responseBody:   `{"transaction_id":"tx-1","status":"pending"}`,
			expectStatus:   StatusPending,
		},
		{
			name:           "Rejected - 422",
			responseStatus: http.StatusUnprocessableEntity,
			responseBody:   `{"reason":"invalid beneficiary"}`,
			expectStatus:   StatusRejected,
		},
		{
			name:           "Error - 503",
			responseStatus: http.StatusServiceUnavailable,
			responseBody:   `maintenance`,
			expectErr:      ErrUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodPost, r.Method)
				assert.Equal(t, "/payments", r.URL.Path)
				assert.Equal(t, "i-1", r.Header.Get("Idempotency-Key"))
				assert.Equal(t, "key", r.Header.Get("Api-Key"))

				var body paymentRequest
				assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
				assert.Equal(t, "125.5", body.Amount)

				w.WriteHeader(tt.responseStatus)
				_, err := w.Write([]byte(tt.responseBody))
				assert.NoError(t, err)
			}))
			defer server.Close()

			p := NewHTTPProvider("swift", server.URL, "key", 5*time.Second)
			res, err := p.Execute(context.Background(), instruction("i-1", "123456"))
			if tt.expectErr != nil {
				assert.ErrorIs(t, err, tt.expectErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expectStatus, res.Status)
		})
	}
}

func TestHTTPProviderTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer server.Close()

	p := NewHTTPProvider("swift", server.URL, "", 50*time.Millisecond)
	_, err := p.Execute(context.Background(), instruction("i-1", "123456"))
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestHTTPProviderCancelAndQuery(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/payments/tx-settled/cancel":
			w.WriteHeader(http.StatusConflict)
		case "/payments/tx-open/cancel":
			w.WriteHeader(http.StatusNoContent)
		case "/payments/tx-open":
			_, _ = w.Write([]byte(`{"status":"pending"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	p := NewHTTPProvider("swift", server.URL, "", time.Second)
	ctx := context.Background()

	assert.ErrorIs(t, p.Cancel(ctx, "tx-settled"), ErrAlreadySettled)
	assert.NoError(t, p.Cancel(ctx, "tx-open"))

	st, err := p.QueryStatus(ctx, "tx-open")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, st)

	_, err = p.QueryStatus(ctx, "tx-missing")
	assert.ErrorIs(t, err, ErrUnknownTxn)
}
