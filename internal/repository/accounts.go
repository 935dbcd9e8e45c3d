package repository

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ledgermail/extractor/constants"
	"github.com/ledgermail/extractor/internal/common"
	"github.com/ledgermail/extractor/internal/entity"
)

type AccountRepository interface {
	GetSourceAccount(ctx context.Context, id uuid.UUID) (*entity.SourceAccount, error)
	GetUser(ctx context.Context, id uuid.UUID) (*entity.User, error)
}

type accountRepository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewAccountRepository(pool *pgxpool.Pool, logger *slog.Logger) AccountRepository {
	return &accountRepository{pool: pool, logger: logger}
}

func (r *accountRepository) GetSourceAccount(ctx context.Context, id uuid.UUID) (*entity.SourceAccount, error) {
	var a entity.SourceAccount
	err := r.pool.QueryRow(ctx, `
		SELECT id, user_id, provider, email_address, status, created_at
		FROM source_accounts WHERE id = $1
	`, id).Scan(&a.ID, &a.UserID, &a.Provider, &a.EmailAddress, &a.Status, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, common.ErrSourceAccountNotFound
		}
		r.logger.Error("failed to load source account", "account_id", id, "error", err)
		return nil, err
	}
	return &a, nil
}

func (r *accountRepository) GetUser(ctx context.Context, id uuid.UUID) (*entity.User, error) {
	var (
		u    entity.User
		plan string
	)
	err := r.pool.QueryRow(ctx,
		`SELECT id, email, plan FROM users WHERE id = $1`, id).Scan(&u.ID, &u.Email, &plan)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		r.logger.Error("failed to load user", "user_id", id, "error", err)
		return nil, err
	}
	u.Plan = constants.ParsePlan(plan)
	return &u, nil
}
