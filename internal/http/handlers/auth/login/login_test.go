package login

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

func (m *ServiceMock) Login(ctx context.Context, profileID string, req models.LoginRequest) (*models.User, error) {
	args := m.Called(ctx, profileID, req)
	u, _ := args.Get(0).(*models.User)
	return u, args.Error(1)
}

func newNoopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
}

func TestLoginHandler_ServeHTTP(t *testing.T) {
	creds := models.LoginRequest{Email: "amina@example.com", Password: "secret1"}

	tests := []struct {
		name        string
		requestBody any
		mockUser    *models.User
		mockErr     error
		wantStatus  int
		wantError   string
	}{
		{
			name:        "valid login",
			requestBody: creds,
			mockUser:    &models.User{ID: "u1", Email: "amina@example.com"},
			wantStatus:  http.StatusOK,
		},
		{
			name:        "invalid json body",
			requestBody: "not a json",
			wantStatus:  http.StatusBadRequest,
			wantError:   "invalid request body",
		},
		{
			name:        "validation error - missing password",
			requestBody: models.LoginRequest{Email: "amina@example.com"},
			wantStatus:  http.StatusUnprocessableEntity,
			wantError:   "field Password is a required field",
		},
		{
			name:        "wrong credentials",
			requestBody: creds,
			mockErr:     fmt.Errorf("auth.Login: %w", models.ErrInvalidCredentials),
			wantStatus:  http.StatusUnauthorized,
			wantError:   "Invalid email or password.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(ServiceMock)
			if tt.mockUser != nil || tt.mockErr != nil {
				svc.On("Login", mock.Anything, "p1", creds).Return(tt.mockUser, tt.mockErr).Once()
			}

			var body []byte
			switch v := tt.requestBody.(type) {
			case string:
				body = []byte(v)
			default:
				var err error
				body, err = json.Marshal(v)
				require.NoError(t, err)
			}

			req := httptest.NewRequest(http.MethodPost, "/auth/login", bytes.NewReader(body))
			req = req.WithContext(middlewarectx.WithProfile(req.Context(), "p1"))
			rr := httptest.NewRecorder()

			New(newNoopLogger(), svc).ServeHTTP(rr, req)

			assert.Equal(t, tt.wantStatus, rr.Code)
			var resp response.Response
			require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
			if tt.wantError != "" {
				assert.Equal(t, response.StatusError, resp.Status)
				assert.Equal(t, tt.wantError, resp.Error)
			} else {
				assert.Equal(t, response.StatusOK, resp.Status)
			}
			svc.AssertExpectations(t)
		})
	}
}
