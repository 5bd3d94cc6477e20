package events

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/pesapoll/internal/storage/kv"
)

type PublisherMock struct{ mock.Mock }

func (m *PublisherMock) Publish(ctx context.Context, e Event) error {
	return m.Called(ctx, e).Error(0)
}

func setupBus(t *testing.T, pub Publisher) *Bus {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	db := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = db.Close() })

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewBus(log, kv.New(db, "test", 3), pub)
}

func TestBus_SubscribeReceivesChanges(t *testing.T) {
	bus := setupBus(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes, stop, err := bus.Subscribe(ctx, "p1")
	require.NoError(t, err)
	defer stop()

	bus.Changed(ctx, "p2", ScopeSurveys, 1)
	bus.Changed(ctx, "p1", ScopeSurveys, 42)

	select {
	case c := <-changes:
		assert.Equal(t, "p1", c.ProfileID)
		assert.Equal(t, ScopeSurveys, c.Scope)
		assert.Equal(t, int64(42), c.Version)
		assert.False(t, c.At.IsZero())
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for change")
	}
}

func TestBus_StopClosesChannel(t *testing.T) {
	bus := setupBus(t, nil)

	changes, stop, err := bus.Subscribe(context.Background(), "p1")
	require.NoError(t, err)
	stop()
	stop()

	select {
	case _, ok := <-changes:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("channel was not closed")
	}
}

func TestBus_EmitUsesPublisher(t *testing.T) {
	pub := new(PublisherMock)
	bus := setupBus(t, pub)
	ctx := context.Background()

	pub.On("Publish", ctx, mock.MatchedBy(func(e Event) bool {
		return e.Type == TypeSurveyCompleted && e.SurveyID == "s1" && !e.At.IsZero()
	})).Return(nil).Once()

	bus.Emit(ctx, Event{Type: TypeSurveyCompleted, ProfileID: "p1", UserID: "u1", SurveyID: "s1"})
	pub.AssertExpectations(t)
}

func TestBus_EmitSwallowsPublisherErrors(t *testing.T) {
	pub := new(PublisherMock)
	bus := setupBus(t, pub)
	ctx := context.Background()

	pub.On("Publish", ctx, mock.Anything).Return(errors.New("broker down")).Once()

	assert.NotPanics(t, func() {
		bus.Emit(ctx, Event{Type: TypeWithdrawal, ProfileID: "p1", Amount: 100})
	})
	pub.AssertExpectations(t)
}

func TestBus_EmitWithoutPublisher(t *testing.T) {
	bus := setupBus(t, nil)
	assert.NotPanics(t, func() {
		bus.Emit(context.Background(), Event{Type: TypeCompletionsReset})
	})
}
