// Package wallet строит историю и баланс кошелька из журнала прохождений
// и выводов средств, а также принимает заявки на вывод.
package wallet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/magabrotheeeer/pesapoll/internal/events"
	"github.com/magabrotheeeer/pesapoll/internal/lib/sl"
	"github.com/magabrotheeeer/pesapoll/internal/metrics"
	"github.com/magabrotheeeer/pesapoll/internal/models"
	"github.com/magabrotheeeer/pesapoll/internal/services/identity"
	"github.com/magabrotheeeer/pesapoll/internal/services/ledger"
	"github.com/magabrotheeeer/pesapoll/internal/storage/kv"
)

// WithdrawalType тип транзакции вывода средств.
const WithdrawalType = "Withdrawal"

// Users хранилище текущего пользователя.
type Users interface {
	GetUser(ctx context.Context, profileID string) (*models.User, error)
	SetUser(ctx context.Context, profileID string, patch models.UserPatch) (*models.User, error)
	Mirror(ctx context.Context, profileID string, u models.User)
	Key(profileID string) string
}

// Ledger журнал прохождений. Кошелёк читает его в своей транзакции,
// поэтому нужен только ключ документа.
type Ledger interface {
	Key(profileID string) string
}

// Catalog источник опросов для сумм и названий.
type Catalog interface {
	Load(ctx context.Context) ([]models.Survey, error)
}

// Emitter публикует доменные события.
type Emitter interface {
	Emit(ctx context.Context, e events.Event)
}

// Service кошелёк пользователя.
type Service struct {
	log     *slog.Logger
	store   *kv.Store
	users   Users
	ledger  Ledger
	catalog Catalog
	emitter Emitter
	metrics *metrics.Metrics
	now     func() time.Time
}

// New создаёт кошелёк. m может быть nil.
func New(log *slog.Logger, store *kv.Store, users Users, book Ledger, catalog Catalog, emitter Emitter, m *metrics.Metrics) *Service {
	return &Service{
		log:     log,
		store:   store,
		users:   users,
		ledger:  book,
		catalog: catalog,
		emitter: emitter,
		metrics: m,
		now:     time.Now,
	}
}

var errUserChanged = fmt.Errorf("session user changed: %w", kv.ErrConflict)

func (s *Service) withdrawalsKey(profileID, userID string) string {
	return s.store.Key(profileID, kv.KeyWithdrawals, userID)
}

// keys набор ключей, под которыми читается состояние кошелька.
func (s *Service) keys(profileID, userID string) []string {
	return []string{s.users.Key(profileID), s.ledger.Key(profileID), s.withdrawalsKey(profileID, userID)}
}

// state снимок кошелька, прочитанный внутри одной транзакции.
type state struct {
	user        models.User
	records     map[string]models.CompletionRecord
	withdrawals []models.Withdrawal
}

func (s *Service) readState(tx *kv.Tx, profileID, userID string, now time.Time) (state, error) {
	user, _, err := identity.Resolve(tx, s.users.Key(profileID), now)
	if err != nil {
		return state{}, err
	}
	if user.ID != userID {
		return state{}, errUserChanged
	}

	l, err := ledger.FromTx(tx, s.ledger.Key(profileID))
	if err != nil {
		return state{}, err
	}

	var list []models.Withdrawal
	if _, err := tx.Get(s.withdrawalsKey(profileID, userID), &list); err != nil {
		if !errors.Is(err, kv.ErrCorrupt) {
			return state{}, err
		}
		s.log.Warn("withdrawals document is corrupt, treating as empty", sl.Profile(profileID), sl.Err(err))
		list = nil
	}
	return state{user: user, records: l[userID], withdrawals: list}, nil
}

// Summary перестраивает историю транзакций и сохраняет пересчитанный баланс пользователю.
func (s *Service) Summary(ctx context.Context, profileID string) (*models.WalletSummary, error) {
	const op = "wallet.Summary"
	catalog, err := s.catalog.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	u, err := s.users.GetUser(ctx, profileID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	summary, err := s.rebuild(ctx, profileID, u.ID, catalog)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return summary, nil
}

// rebuild пересчитывает сводку и записывает баланс в той же транзакции,
// в которой прочитаны журнал и выводы.
func (s *Service) rebuild(ctx context.Context, profileID, userID string, catalog []models.Survey) (*models.WalletSummary, error) {
	userKey := s.users.Key(profileID)
	var (
		summary models.WalletSummary
		changed *models.User
	)
	err := s.store.Update(ctx, s.keys(profileID, userID), func(tx *kv.Tx) error {
		now := s.now()
		changed = nil
		st, err := s.readState(tx, profileID, userID, now)
		if err != nil {
			return err
		}
		summary = Build(st.user, st.records, catalog, st.withdrawals)
		if summary.Balance == st.user.Balance {
			return nil
		}
		u := st.user
		u.Balance = summary.Balance
		u.UpdatedAt = now.UTC()
		changed = &u
		return tx.Set(userKey, u)
	})
	if err != nil {
		return nil, err
	}
	if changed != nil {
		s.users.Mirror(ctx, profileID, *changed)
	}
	return &summary, nil
}

// Build собирает сводку кошелька: заработок за каждое прохождение по выплате
// из каталога и выводы как отрицательные суммы, от новых к старым.
// Баланс равен сумме транзакций, но не меньше нуля.
func Build(u models.User, records map[string]models.CompletionRecord, catalog []models.Survey, withdrawals []models.Withdrawal) models.WalletSummary {
	byID := make(map[string]models.Survey, len(catalog))
	for _, sv := range catalog {
		byID[sv.ID] = sv
	}

	txs := make([]models.Transaction, 0, len(records)+len(withdrawals))
	for surveyID, rec := range records {
		sv, ok := byID[surveyID]
		title := "Survey"
		var amount int64
		if ok {
			title = sv.DisplayTitle()
			amount = sv.Payout
		}
		txs = append(txs, models.Transaction{
			ID:      "earn-" + surveyID,
			Type:    "Survey Completed - " + title,
			DateISO: rec.CompletedAt,
			Amount:  amount,
			Status:  models.TxStatusEarned,
		})
	}
	for _, w := range withdrawals {
		amount := w.Amount
		if amount > 0 {
			amount = -amount
		}
		txs = append(txs, models.Transaction{
			ID:      fmt.Sprintf("wd-%d", w.ID),
			Type:    WithdrawalType,
			DateISO: w.DateISO,
			Amount:  amount,
			Status:  models.TxStatusCompleted,
		})
	}

	sort.SliceStable(txs, func(i, j int) bool {
		if !txs[i].DateISO.Equal(txs[j].DateISO) {
			return txs[i].DateISO.After(txs[j].DateISO)
		}
		return txs[i].ID < txs[j].ID
	})

	plan := models.PlanFor(u.Tier)
	summary := models.WalletSummary{
		UserID:        u.ID,
		AccountType:   plan.Label,
		SurveysPerDay: plan.SurveysPerDay,
		MinWithdrawal: plan.MinWithdrawal,
		Transactions:  txs,
	}
	for _, tx := range txs {
		summary.Balance += tx.Amount
		if tx.Amount > 0 {
			summary.EarningsWeekday[tx.DateISO.UTC().Weekday()] += tx.Amount
		}
	}
	if summary.Balance < 0 {
		summary.Balance = 0
	}
	return summary
}

// Withdraw проверяет сумму и добавляет вывод средств. Порядок проверок:
// некорректная сумма, недостаточный баланс, сумма меньше минимальной для тарифа.
// Доступный баланс пересчитывается из журнала и выводов в той же транзакции,
// что и запись вывода.
func (s *Service) Withdraw(ctx context.Context, profileID string, amount int64) (*models.WalletSummary, error) {
	const op = "wallet.Withdraw"
	if amount <= 0 {
		return nil, fmt.Errorf("%s: %w", op, models.ErrInvalidAmount)
	}

	catalog, err := s.catalog.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	current, err := s.users.GetUser(ctx, profileID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	userKey := s.users.Key(profileID)
	key := s.withdrawalsKey(profileID, current.ID)
	var (
		entry models.Withdrawal
		user  models.User
	)
	err = s.store.Update(ctx, s.keys(profileID, current.ID), func(tx *kv.Tx) error {
		now := s.now()
		st, err := s.readState(tx, profileID, current.ID, now)
		if err != nil {
			return err
		}
		available := Build(st.user, st.records, catalog, st.withdrawals).Balance
		if amount > available {
			return models.ErrInsufficientBalance
		}
		if minAmount := models.PlanFor(st.user.Tier).MinWithdrawal; amount < minAmount {
			return &models.MinimumWithdrawalError{Minimum: minAmount}
		}

		var lastID int64
		if n := len(st.withdrawals); n > 0 {
			lastID = st.withdrawals[n-1].ID
		}
		entry = models.Withdrawal{ID: lastID + 1, Amount: amount, DateISO: now.UTC()}
		if err := tx.Set(key, append(st.withdrawals, entry)); err != nil {
			return err
		}

		user = st.user
		user.Balance = available - amount
		user.UpdatedAt = now.UTC()
		return tx.Set(userKey, user)
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	s.users.Mirror(ctx, profileID, user)
	s.metrics.Withdrawn(amount)
	s.log.Info("withdrawal accepted", sl.Profile(profileID), slog.String("user_id", user.ID), slog.Int64("amount", amount))
	s.emitter.Emit(ctx, events.Event{
		Type:      events.TypeWithdrawal,
		ProfileID: profileID,
		UserID:    user.ID,
		Amount:    amount,
		At:        entry.DateISO,
	})

	summary, err := s.rebuild(ctx, profileID, user.ID, catalog)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return summary, nil
}

// SavePaymentDetails сохраняет реквизиты M-Pesa пользователя.
func (s *Service) SavePaymentDetails(ctx context.Context, profileID string, details models.PaymentDetails) (*models.User, error) {
	const op = "wallet.SavePaymentDetails"
	u, err := s.users.SetUser(ctx, profileID, models.UserPatch{PaymentDetails: &details})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return u, nil
}
