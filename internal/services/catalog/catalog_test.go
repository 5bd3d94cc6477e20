package catalog

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/pesapoll/internal/config"
	"github.com/magabrotheeeer/pesapoll/internal/models"
)

const collectionJSON = `[
	{"id":"s1","name":"Mobile money habits","payout":50,"currency":"KSH","items":[{"id":"q1","prompt":"Use M-Pesa?","options":["Yes","No"]}]},
	{"id":2,"title":"Shopping","reward":30.4,"questions":[{"prompt":"Where?","options":["Market","Mall"]}]}
]`

const databaseJSON = `{"users":[],"surveys":[{"id":"s9","name":"Fallback survey","payout":10,"items":[]}]}`

type upstream struct {
	collectionHits atomic.Int32
	databaseHits   atomic.Int32
	collection     http.HandlerFunc
	database       http.HandlerFunc
}

func jsonHandler(status int, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}
}

func setup(t *testing.T, up *upstream, ttl time.Duration) *Service {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/mock/surveys", func(w http.ResponseWriter, r *http.Request) {
		up.collectionHits.Add(1)
		up.collection(w, r)
	})
	mux.HandleFunc("/api/mock", func(w http.ResponseWriter, r *http.Request) {
		up.databaseHits.Add(1)
		up.database(w, r)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(log, config.Catalog{
		CollectionURL: srv.URL + "/api/mock/surveys",
		DatabaseURL:   srv.URL + "/api/mock",
		Timeout:       2 * time.Second,
		TTL:           ttl,
	}, nil)
}

func TestLoad_CollectionSource(t *testing.T) {
	up := &upstream{
		collection: func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "application/json", r.Header.Get("Accept"))
			assert.Equal(t, "no-store", r.Header.Get("Cache-Control"))
			assert.NotEmpty(t, r.URL.Query().Get("_"))
			jsonHandler(http.StatusOK, collectionJSON)(w, r)
		},
		database: jsonHandler(http.StatusOK, databaseJSON),
	}
	svc := setup(t, up, 0)

	surveys, err := svc.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, surveys, 2)

	assert.Equal(t, "s1", surveys[0].ID)
	assert.Equal(t, int64(50), surveys[0].Payout)
	assert.Equal(t, "ksh", surveys[0].Currency)

	assert.Equal(t, "2", surveys[1].ID)
	assert.Equal(t, int64(30), surveys[1].Payout)
	require.Len(t, surveys[1].Items, 1)
	assert.Equal(t, "q1", surveys[1].Items[0].ID)

	assert.Equal(t, int32(0), up.databaseHits.Load())
}

func TestLoad_IsMemoized(t *testing.T) {
	up := &upstream{
		collection: jsonHandler(http.StatusOK, collectionJSON),
		database:   jsonHandler(http.StatusOK, databaseJSON),
	}
	svc := setup(t, up, 0)
	ctx := context.Background()

	first, err := svc.Load(ctx)
	require.NoError(t, err)
	first[0].Name = "mutated"

	second, err := svc.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Mobile money habits", second[0].Name)
	assert.Equal(t, int32(1), up.collectionHits.Load())

	svc.Reset()
	_, err = svc.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(2), up.collectionHits.Load())
}

func TestLoad_ConcurrentFirstCallsHitUpstreamOnce(t *testing.T) {
	up := &upstream{
		collection: func(w http.ResponseWriter, r *http.Request) {
			time.Sleep(50 * time.Millisecond)
			jsonHandler(http.StatusOK, collectionJSON)(w, r)
		},
		database: jsonHandler(http.StatusOK, databaseJSON),
	}
	svc := setup(t, up, 0)

	var wg sync.WaitGroup
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Load(context.Background())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), up.collectionHits.Load())
}

func TestLoad_TTLExpires(t *testing.T) {
	up := &upstream{
		collection: jsonHandler(http.StatusOK, collectionJSON),
		database:   jsonHandler(http.StatusOK, databaseJSON),
	}
	svc := setup(t, up, time.Minute)
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }
	ctx := context.Background()

	_, err := svc.Load(ctx)
	require.NoError(t, err)
	_, err = svc.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(1), up.collectionHits.Load())

	now = now.Add(2 * time.Minute)
	_, err = svc.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(2), up.collectionHits.Load())
}

func TestLoad_FallsBackToDatabase(t *testing.T) {
	tests := []struct {
		name       string
		collection http.HandlerFunc
	}{
		{
			name: "non-JSON content type",
			collection: func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "text/html")
				_, _ = io.WriteString(w, "<html>404</html>")
			},
		},
		{
			name:       "server error",
			collection: jsonHandler(http.StatusInternalServerError, `{"error":"boom"}`),
		},
		{
			name:       "not found",
			collection: jsonHandler(http.StatusNotFound, `{}`),
		},
		{
			name:       "broken JSON",
			collection: jsonHandler(http.StatusOK, `[{"id":`),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			up := &upstream{
				collection: tt.collection,
				database:   jsonHandler(http.StatusOK, databaseJSON),
			}
			svc := setup(t, up, 0)

			surveys, err := svc.Load(context.Background())
			require.NoError(t, err)
			require.Len(t, surveys, 1)
			assert.Equal(t, "s9", surveys[0].ID)
			assert.Equal(t, int32(1), up.databaseHits.Load())
		})
	}
}

func TestLoad_CollectionWrappedInObject(t *testing.T) {
	up := &upstream{
		collection: jsonHandler(http.StatusOK, `{"surveys":[{"id":"w1","payout":5}]}`),
		database:   jsonHandler(http.StatusOK, databaseJSON),
	}
	svc := setup(t, up, 0)

	surveys, err := svc.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, surveys, 1)
	assert.Equal(t, "w1", surveys[0].ID)
	assert.Equal(t, int32(0), up.databaseHits.Load())
}

func TestLoad_SkipsMalformedEntries(t *testing.T) {
	up := &upstream{
		collection: jsonHandler(http.StatusOK, `[{"name":"no id"},{"id":"ok"}]`),
		database:   jsonHandler(http.StatusOK, databaseJSON),
	}
	svc := setup(t, up, 0)

	surveys, err := svc.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, surveys, 1)
	assert.Equal(t, "ok", surveys[0].ID)
}

func TestLoad_BothSourcesFail(t *testing.T) {
	var healthy atomic.Bool
	up := &upstream{
		collection: func(w http.ResponseWriter, r *http.Request) {
			if healthy.Load() {
				jsonHandler(http.StatusOK, collectionJSON)(w, r)
				return
			}
			jsonHandler(http.StatusBadGateway, `{}`)(w, r)
		},
		database: func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "text/plain")
			_, _ = io.WriteString(w, "maintenance")
		},
	}
	svc := setup(t, up, 0)
	ctx := context.Background()

	surveys, err := svc.Load(ctx)
	assert.Nil(t, surveys)
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrCatalogUnavailable))

	// неудача не запоминается
	healthy.Store(true)
	surveys, err = svc.Load(ctx)
	require.NoError(t, err)
	assert.Len(t, surveys, 2)
}

func TestLoad_DatabaseWithoutSurveysFails(t *testing.T) {
	up := &upstream{
		collection: jsonHandler(http.StatusServiceUnavailable, `{}`),
		database:   jsonHandler(http.StatusOK, `{"users":[]}`),
	}
	svc := setup(t, up, 0)

	_, err := svc.Load(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrCatalogUnavailable))
}

func TestFind(t *testing.T) {
	up := &upstream{
		collection: jsonHandler(http.StatusOK, collectionJSON),
		database:   jsonHandler(http.StatusOK, databaseJSON),
	}
	svc := setup(t, up, 0)
	ctx := context.Background()

	s, err := svc.Find(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "Mobile money habits", s.Name)

	_, err = svc.Find(ctx, "missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrSurveyNotFound))
}
