package update

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/pesapoll/internal/http/middlewarectx"
	"github.com/magabrotheeeer/pesapoll/internal/models"
	"github.com/magabrotheeeer/pesapoll/internal/services/identity"
	"github.com/magabrotheeeer/pesapoll/internal/storage/kv"
)

type MirrorMock struct{ mock.Mock }

func (m *MirrorMock) UpdateUser(ctx context.Context, user models.User) error {
	return m.Called(ctx, user).Error(0)
}

func setup(t *testing.T, mirror identity.AccountMirror) *identity.Service {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	db := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = db.Close() })

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return identity.New(log, kv.New(db, "test", 10), mirror)
}

func serve(t *testing.T, svc Service, body string) *httptest.ResponseRecorder {
	t.Helper()
	h := New(slog.New(slog.NewTextHandler(io.Discard, nil)), svc)
	req := httptest.NewRequest(http.MethodPatch, "/me", strings.NewReader(body))
	req = req.WithContext(middlewarectx.WithProfile(req.Context(), "p1"))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestUpdateHandler_AppliesPatch(t *testing.T) {
	users := setup(t, nil)
	ctx := context.Background()
	require.NoError(t, users.Replace(ctx, "p1", models.User{ID: "u1", Name: "Guest"}))

	rr := serve(t, users, `{"name":"Amina","tier":"gold"}`)
	require.Equal(t, http.StatusOK, rr.Code)

	var resp struct {
		Data struct {
			User models.User `json:"user"`
		} `json:"data"`
	}
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.Equal(t, "Amina", resp.Data.User.Name)
	assert.Equal(t, models.TierGold, resp.Data.User.Tier)

	u, err := users.GetUser(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "Amina", u.Name)
}

func TestUpdateHandler_RoleIsNotSelfAssignable(t *testing.T) {
	mirror := new(MirrorMock)
	users := setup(t, mirror)
	ctx := context.Background()
	require.NoError(t, users.Replace(ctx, "p1", models.User{
		ID:    "u1",
		Name:  "Amina",
		Email: "amina@example.com",
		Role:  models.RoleUser,
	}))

	mirror.On("UpdateUser", mock.Anything, mock.MatchedBy(func(u models.User) bool {
		return u.ID == "u1" && u.Name == "Eve" && u.Role == models.RoleUser
	})).Return(nil).Once()

	rr := serve(t, users, `{"name":"Eve","role":"admin"}`)
	require.Equal(t, http.StatusOK, rr.Code)

	u, err := users.GetUser(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "Eve", u.Name)
	assert.Equal(t, models.RoleUser, u.Role)
	assert.NotContains(t, rr.Body.String(), models.RoleAdmin)
	mirror.AssertExpectations(t)
}

func TestUpdateHandler_InvalidBody(t *testing.T) {
	users := setup(t, nil)

	rr := serve(t, users, `{"name":`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = serve(t, users, `{"tier":"diamond"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
}
