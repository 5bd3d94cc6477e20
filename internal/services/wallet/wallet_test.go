package wallet

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/pesapoll/internal/events"
	"github.com/magabrotheeeer/pesapoll/internal/models"
	"github.com/magabrotheeeer/pesapoll/internal/services/identity"
	"github.com/magabrotheeeer/pesapoll/internal/services/ledger"
	"github.com/magabrotheeeer/pesapoll/internal/storage/kv"
)

type staticCatalog []models.Survey

func (c staticCatalog) Load(context.Context) ([]models.Survey, error) { return c, nil }

// gatedCatalog задерживает первую загрузку каталога до закрытия release.
type gatedCatalog struct {
	staticCatalog
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func newGatedCatalog(c staticCatalog) *gatedCatalog {
	return &gatedCatalog{staticCatalog: c, entered: make(chan struct{}), release: make(chan struct{})}
}

func (c *gatedCatalog) Load(context.Context) ([]models.Survey, error) {
	first := false
	c.once.Do(func() { first = true })
	if first {
		close(c.entered)
		<-c.release
	}
	return c.staticCatalog, nil
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recordingEmitter) Changed(context.Context, string, string, int64) {}

func (r *recordingEmitter) Emit(_ context.Context, e events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

type fixture struct {
	svc     *Service
	users   *identity.Service
	ledger  *ledger.Service
	emitter *recordingEmitter
	mr      *miniredis.Miniredis
}

func setup(t *testing.T, catalog staticCatalog) *fixture {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	db := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = db.Close() })

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := kv.New(db, "test", 10)
	users := identity.New(log, store, nil)
	emitter := &recordingEmitter{}
	l := ledger.New(log, store, users, emitter, nil)

	return &fixture{
		svc:     New(log, store, users, l, catalog, emitter, nil),
		users:   users,
		ledger:  l,
		emitter: emitter,
		mr:      mr,
	}
}

var testCatalog = staticCatalog{
	{ID: "big", Name: "Household budget", Payout: 3000},
	{ID: "small", Title: "Transport", Payout: 200},
}

func TestBuild(t *testing.T) {
	mon := time.Date(2025, 6, 9, 10, 0, 0, 0, time.UTC)
	records := map[string]models.CompletionRecord{
		"big":     {CompletedAt: mon},
		"small":   {CompletedAt: mon.Add(24 * time.Hour)},
		"removed": {CompletedAt: mon.Add(-24 * time.Hour)},
	}
	withdrawals := []models.Withdrawal{{ID: 1, Amount: 1000, DateISO: mon.Add(48 * time.Hour)}}

	s := Build(models.User{ID: "u1", Tier: models.TierGold}, records, testCatalog, withdrawals)

	assert.Equal(t, "u1", s.UserID)
	assert.Equal(t, int64(2200), s.Balance)
	assert.Equal(t, "Gold Account", s.AccountType)
	assert.Equal(t, 10, s.SurveysPerDay)
	assert.Equal(t, int64(2500), s.MinWithdrawal)

	require.Len(t, s.Transactions, 4)
	assert.Equal(t, "wd-1", s.Transactions[0].ID)
	assert.Equal(t, int64(-1000), s.Transactions[0].Amount)
	assert.Equal(t, WithdrawalType, s.Transactions[0].Type)
	assert.Equal(t, models.TxStatusCompleted, s.Transactions[0].Status)

	assert.Equal(t, "earn-small", s.Transactions[1].ID)
	assert.Equal(t, "Survey Completed - Transport", s.Transactions[1].Type)
	assert.Equal(t, "earn-big", s.Transactions[2].ID)
	assert.Equal(t, "Survey Completed - Household budget", s.Transactions[2].Type)
	assert.Equal(t, models.TxStatusEarned, s.Transactions[2].Status)

	removed := s.Transactions[3]
	assert.Equal(t, "earn-removed", removed.ID)
	assert.Equal(t, int64(0), removed.Amount)
	assert.Equal(t, "Survey Completed - Survey", removed.Type)

	assert.Equal(t, int64(3000), s.EarningsWeekday[time.Monday])
	assert.Equal(t, int64(200), s.EarningsWeekday[time.Tuesday])
	assert.Equal(t, int64(0), s.EarningsWeekday[time.Wednesday])
}

func TestBuild_BalanceNeverNegative(t *testing.T) {
	s := Build(models.User{ID: "u1"}, nil, nil, []models.Withdrawal{{ID: 1, Amount: 50}})
	assert.Equal(t, int64(0), s.Balance)
	assert.Equal(t, "Free Account", s.AccountType)
	assert.Equal(t, int64(4500), s.MinWithdrawal)
}

func TestSummary_PersistsRebuiltBalance(t *testing.T) {
	f := setup(t, testCatalog)
	ctx := context.Background()
	require.NoError(t, f.users.Replace(ctx, "p1", models.User{ID: "u1", Name: "Halima", Balance: 999}))
	require.NoError(t, f.ledger.MarkCompleted(ctx, "p1", "u1", "small", nil))

	s, err := f.svc.Summary(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, int64(200), s.Balance)

	u, err := f.users.GetUser(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, int64(200), u.Balance)
}

func TestWithdraw(t *testing.T) {
	f := setup(t, testCatalog)
	ctx := context.Background()
	require.NoError(t, f.users.Replace(ctx, "p1", models.User{ID: "u1", Name: "Baraka", Tier: models.TierGold}))
	require.NoError(t, f.ledger.MarkCompleted(ctx, "p1", "u1", "big", nil))

	tests := []struct {
		name    string
		amount  int64
		wantErr error
	}{
		{name: "zero", amount: 0, wantErr: models.ErrInvalidAmount},
		{name: "negative", amount: -5, wantErr: models.ErrInvalidAmount},
		{name: "above balance", amount: 3500, wantErr: models.ErrInsufficientBalance},
		{name: "below tier minimum", amount: 2000, wantErr: models.ErrBelowMinimumWithdrawal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := f.svc.Withdraw(ctx, "p1", tt.amount)
			assert.Nil(t, s)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.wantErr), err.Error())
		})
	}

	s, err := f.svc.Withdraw(ctx, "p1", 2500)
	require.NoError(t, err)
	assert.Equal(t, int64(500), s.Balance)
	require.Len(t, s.Transactions, 2)
	assert.Equal(t, "wd-1", s.Transactions[0].ID)
	assert.Equal(t, int64(-2500), s.Transactions[0].Amount)

	u, err := f.users.GetUser(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, int64(500), u.Balance)

	require.Len(t, f.emitter.events, 1)
	assert.Equal(t, events.TypeWithdrawal, f.emitter.events[0].Type)
	assert.Equal(t, int64(2500), f.emitter.events[0].Amount)
}

func TestWithdraw_SequentialIDs(t *testing.T) {
	f := setup(t, testCatalog)
	ctx := context.Background()
	require.NoError(t, f.users.Replace(ctx, "p1", models.User{ID: "u1", Tier: models.TierPlatinum}))
	require.NoError(t, f.ledger.MarkCompleted(ctx, "p1", "u1", "big", nil))
	require.NoError(t, f.ledger.MarkCompleted(ctx, "p1", "u1", "small", nil))

	_, err := f.svc.Withdraw(ctx, "p1", 2000)
	require.NoError(t, err)
	_, err = f.svc.Withdraw(ctx, "p1", 1200)
	assert.True(t, errors.Is(err, models.ErrBelowMinimumWithdrawal))

	require.NoError(t, f.ledger.MarkCompleted(ctx, "p1", "u1", "extra", nil))
	f.svc.catalog = append(testCatalog, models.Survey{ID: "extra", Payout: 1000})

	s, err := f.svc.Withdraw(ctx, "p1", 2000)
	require.NoError(t, err)
	assert.Equal(t, int64(200), s.Balance)

	var ids []string
	for _, tx := range s.Transactions {
		if tx.Type == WithdrawalType {
			ids = append(ids, tx.ID)
		}
	}
	assert.ElementsMatch(t, []string{"wd-1", "wd-2"}, ids)
}

func TestWithdraw_CorruptHistoryStartsOver(t *testing.T) {
	f := setup(t, testCatalog)
	ctx := context.Background()
	require.NoError(t, f.users.Replace(ctx, "p1", models.User{ID: "u1", Tier: models.TierGold}))
	require.NoError(t, f.ledger.MarkCompleted(ctx, "p1", "u1", "big", nil))
	require.NoError(t, f.mr.Set("test:p1:withdrawals:u1", "garbage"))

	s, err := f.svc.Withdraw(ctx, "p1", 2500)
	require.NoError(t, err)
	assert.Equal(t, "wd-1", s.Transactions[0].ID)
}

func TestWithdraw_InterleavedRequestsCannotOverdraw(t *testing.T) {
	f := setup(t, testCatalog)
	ctx := context.Background()
	require.NoError(t, f.users.Replace(ctx, "p1", models.User{ID: "u1", Tier: models.TierGold}))
	require.NoError(t, f.ledger.MarkCompleted(ctx, "p1", "u1", "big", nil))

	gate := newGatedCatalog(testCatalog)
	f.svc.catalog = gate

	errc := make(chan error, 1)
	go func() {
		_, err := f.svc.Withdraw(ctx, "p1", 2500)
		errc <- err
	}()
	<-gate.entered

	s, err := f.svc.Withdraw(ctx, "p1", 2500)
	require.NoError(t, err)
	assert.Equal(t, int64(500), s.Balance)

	close(gate.release)
	err = <-errc
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrInsufficientBalance), err.Error())

	s, err = f.svc.Summary(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, int64(500), s.Balance)
	var withdrawals int
	for _, tx := range s.Transactions {
		if tx.Type == WithdrawalType {
			withdrawals++
		}
	}
	assert.Equal(t, 1, withdrawals)

	u, err := f.users.GetUser(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, int64(500), u.Balance)
}

func TestWithdraw_ConcurrentTotalNeverExceedsEarnings(t *testing.T) {
	f := setup(t, testCatalog)
	ctx := context.Background()
	require.NoError(t, f.users.Replace(ctx, "p1", models.User{ID: "u1", Tier: models.TierPlatinum}))
	require.NoError(t, f.ledger.MarkCompleted(ctx, "p1", "u1", "big", nil))
	require.NoError(t, f.ledger.MarkCompleted(ctx, "p1", "u1", "small", nil))

	const workers = 6
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Withdraw(ctx, "p1", 2000)
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
				return
			}
			assert.True(t, errors.Is(err, models.ErrInsufficientBalance) || errors.Is(err, kv.ErrConflict), err.Error())
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, succeeded, 1)

	s, err := f.svc.Summary(ctx, "p1")
	require.NoError(t, err)
	var withdrawn int64
	for _, tx := range s.Transactions {
		if tx.Type == WithdrawalType {
			withdrawn -= tx.Amount
		}
	}
	assert.Equal(t, int64(succeeded)*2000, withdrawn)
	assert.LessOrEqual(t, withdrawn, int64(3200))
	assert.Equal(t, int64(3200)-withdrawn, s.Balance)
}

func TestWithdraw_PartiallyCorruptHistoryStartsOver(t *testing.T) {
	f := setup(t, testCatalog)
	ctx := context.Background()
	require.NoError(t, f.users.Replace(ctx, "p1", models.User{ID: "u1", Tier: models.TierGold}))
	require.NoError(t, f.ledger.MarkCompleted(ctx, "p1", "u1", "big", nil))
	require.NoError(t, f.mr.Set("test:p1:withdrawals:u1", `[{"id":7,"amount":1},{"id":8,"amount":"lots"}]`))

	s, err := f.svc.Withdraw(ctx, "p1", 2500)
	require.NoError(t, err)
	assert.Equal(t, int64(500), s.Balance)

	var ids []string
	for _, tx := range s.Transactions {
		if tx.Type == WithdrawalType {
			ids = append(ids, tx.ID)
		}
	}
	assert.Equal(t, []string{"wd-1"}, ids)
}

func TestSavePaymentDetails(t *testing.T) {
	f := setup(t, testCatalog)
	ctx := context.Background()

	u, err := f.svc.SavePaymentDetails(ctx, "p1", models.PaymentDetails{MpesaNumber: "0712345678", MpesaName: "Jane W"})
	require.NoError(t, err)
	require.NotNil(t, u.PaymentDetails)
	assert.Equal(t, "0712345678", u.PaymentDetails.MpesaNumber)

	again, err := f.users.GetUser(ctx, "p1")
	require.NoError(t, err)
	require.NotNil(t, again.PaymentDetails)
	assert.Equal(t, "Jane W", again.PaymentDetails.MpesaName)
}
