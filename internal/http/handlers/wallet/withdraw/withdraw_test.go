package withdraw

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/pesapoll/internal/http/middlewarectx"
	"github.com/magabrotheeeer/pesapoll/internal/http/response"
	"github.com/magabrotheeeer/pesapoll/internal/models"
)

type ServiceMock struct {
	mock.Mock
}

func (m *ServiceMock) Withdraw(ctx context.Context, profileID string, amount int64) (*models.WalletSummary, error) {
	args := m.Called(ctx, profileID, amount)
	s, _ := args.Get(0).(*models.WalletSummary)
	return s, args.Error(1)
}

func TestWithdrawHandler_ServeHTTP(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		amount     int64
		mockResult *models.WalletSummary
		mockErr    error
		wantStatus int
		wantError  string
	}{
		{
			name:       "accepted",
			body:       `{"amount":5000}`,
			amount:     5000,
			mockResult: &models.WalletSummary{UserID: "u1", Balance: 100},
			wantStatus: http.StatusCreated,
		},
		{
			name:       "not a number",
			body:       `{"amount":"lots"}`,
			wantStatus: http.StatusUnprocessableEntity,
			wantError:  "Please enter a valid amount.",
		},
		{
			name:       "zero amount",
			body:       `{"amount":0}`,
			mockErr:    models.ErrInvalidAmount,
			wantStatus: http.StatusUnprocessableEntity,
			wantError:  "Please enter a valid amount.",
		},
		{
			name:       "insufficient",
			body:       `{"amount":9000}`,
			amount:     9000,
			mockErr:    fmt.Errorf("wallet.Withdraw: %w", models.ErrInsufficientBalance),
			wantStatus: http.StatusUnprocessableEntity,
			wantError:  "Insufficient balance.",
		},
		{
			name:       "below minimum",
			body:       `{"amount":100}`,
			amount:     100,
			mockErr:    fmt.Errorf("wallet.Withdraw: %w", &models.MinimumWithdrawalError{Minimum: 4500}),
			wantStatus: http.StatusUnprocessableEntity,
			wantError:  "Minimum withdrawal amount is Ksh 4500",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(ServiceMock)
			if tt.mockResult != nil || tt.mockErr != nil {
				svc.On("Withdraw", mock.Anything, "p1", tt.amount).Return(tt.mockResult, tt.mockErr).Once()
			}

			req := httptest.NewRequest(http.MethodPost, "/wallet/withdrawals", bytes.NewBufferString(tt.body))
			req = req.WithContext(middlewarectx.WithProfile(req.Context(), "p1"))
			rr := httptest.NewRecorder()
			New(slog.New(slog.NewTextHandler(io.Discard, nil)), svc).ServeHTTP(rr, req)

			assert.Equal(t, tt.wantStatus, rr.Code)
			var resp response.Response
			require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
			if tt.wantError != "" {
				assert.Equal(t, tt.wantError, resp.Error)
			}
			svc.AssertExpectations(t)
		})
	}
}
