package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/magabrotheeeer/pesapoll/internal/models"
)

// uniqueViolation код ошибки PostgreSQL при нарушении уникального индекса.
const uniqueViolation = "23505"

const accountColumns = `id, name, email, password_hash, plan, tier, role, balance,
			      referral, created_at, updated_at`

// CreateUser сохраняет новую учётную запись. Повторный email даёт models.ErrEmailTaken.
func (s *Storage) CreateUser(ctx context.Context, account models.Account) error {
	const op = "storage.CreateUser"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `INSERT INTO accounts (id, name, email, password_hash, plan, tier, role, balance,
			      referral, created_at, updated_at)
			  VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	_, err := s.DB.ExecContext(ctx, query,
		account.ID, account.Name, strings.ToLower(account.Email), account.PasswordHash,
		account.Plan, string(account.Tier), account.Role, account.Balance,
		account.Referral, account.CreatedAt, account.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("%s: %w", op, models.ErrEmailTaken)
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// GetUserByEmail возвращает учётную запись по email без учёта регистра.
func (s *Storage) GetUserByEmail(ctx context.Context, email string) (*models.Account, error) {
	const op = "storage.GetUserByEmail"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT ` + accountColumns + `
			  FROM accounts
			  WHERE email = lower($1)`
	account, err := scanAccount(s.DB.QueryRowContext(ctx, query, strings.TrimSpace(email)))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return account, nil
}

// GetUserByID возвращает учётную запись по её идентификатору.
func (s *Storage) GetUserByID(ctx context.Context, id string) (*models.Account, error) {
	const op = "storage.GetUserByID"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT ` + accountColumns + `
			  FROM accounts
			  WHERE id = $1`
	account, err := scanAccount(s.DB.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return account, nil
}

// UpdateUser переносит изменения сессионного пользователя в реестр.
// Хеш пароля и email не меняются.
func (s *Storage) UpdateUser(ctx context.Context, user models.User) error {
	const op = "storage.UpdateUser"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `UPDATE accounts
			  SET name = $1,
			      plan = $2,
			      tier = $3,
			      role = $4,
			      balance = $5,
			      updated_at = now()
			  WHERE id = $6`
	res, err := s.DB.ExecContext(ctx, query,
		user.Name, user.Plan, string(user.Tier), user.Role, user.Balance, user.ID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if affected == 0 {
		return fmt.Errorf("%s: %w", op, models.ErrUserNotFound)
	}
	return nil
}

func scanAccount(row *sql.Row) (*models.Account, error) {
	var (
		a         models.Account
		tier      string
		referral  sql.NullString
		updatedAt sql.NullTime
	)
	err := row.Scan(&a.ID, &a.Name, &a.Email, &a.PasswordHash, &a.Plan, &tier, &a.Role,
		&a.Balance, &referral, &a.CreatedAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	a.Tier = models.Tier(tier)
	a.Referral = referral.String
	if updatedAt.Valid {
		a.UpdatedAt = updatedAt.Time
	}
	return &a, nil
}
