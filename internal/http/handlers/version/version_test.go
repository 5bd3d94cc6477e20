package version

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/pesapoll/internal/http/middlewarectx"
)

type stubVersions struct {
	surveys, auth int64
	err           error
}

func (s stubVersions) Version(context.Context, string) (int64, error)     { return s.surveys, s.err }
func (s stubVersions) AuthVersion(context.Context, string) (int64, error) { return s.auth, nil }

func TestVersionHandler(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	stub := stubVersions{surveys: 1700000000001, auth: 1700000000002}

	req := httptest.NewRequest(http.MethodGet, "/version", nil)
	req = req.WithContext(middlewarectx.WithProfile(req.Context(), "p1"))
	rr := httptest.NewRecorder()
	New(log, stub, stub).ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	var resp struct {
		Data map[string]int64 `json:"data"`
	}
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.Equal(t, int64(1700000000001), resp.Data["surveys"])
	assert.Equal(t, int64(1700000000002), resp.Data["auth"])
}

func TestVersionHandler_Error(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	stub := stubVersions{err: errors.New("redis down")}

	req := httptest.NewRequest(http.MethodGet, "/version", nil)
	rr := httptest.NewRecorder()
	New(log, stub, stub).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
}
