package repository

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"log/slog"

	"github.com/honeynil/ReWearExchange/internal/infrastructure/observability"
	"github.com/honeynil/ReWearExchange/internal/models"
	pkgerrors "github.com/honeynil/ReWearExchange/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
)

const ledgerTracer = "ledger-repository"

type PostgresLedgerRepository struct {
	q querier
}

func NewPostgresLedgerRepository(q querier) *PostgresLedgerRepository {
	return &PostgresLedgerRepository{q: q}
}

func (r *PostgresLedgerRepository) CreateAccount(ctx context.Context, account *models.Account) (err error) {
	ctx, span, done := observability.TrackRepositoryCall(ctx, ledgerTracer, "CreateAccount")
	defer done(&err)

	if account == nil {
		err = fmt.Errorf("%w: account is nil", pkgerrors.ErrInvalidInput)
		return err
	}
	if account.Balance < 0 {
		err = pkgerrors.ErrNegativeAmount
		slog.Error("invalid opening balance", "method", "CreateAccount", "user_id", account.UserID, "balance", account.Balance)
		return err
	}
	if account.Role == "" {
		account.Role = models.RoleUser
	}
	span.SetAttributes(attribute.Int64("user_id", account.UserID))

	query := `INSERT INTO users (id, role, balance) VALUES ($1, $2, $3) RETURNING created_at`
	err = r.q.QueryRowContext(ctx, query, account.UserID, string(account.Role), account.Balance).Scan(&account.CreatedAt)
	if err != nil {
		slog.Error("failed to create account", "method", "CreateAccount", "user_id", account.UserID, "error", err)
		err = classify(fmt.Errorf("failed to create account: %w", err))
		return err
	}

	slog.Info("account created", "method", "CreateAccount", "user_id", account.UserID, "balance", account.Balance)
	return nil
}

func (r *PostgresLedgerRepository) Get(ctx context.Context, userID int64) (*models.Account, error) {
	return r.get(ctx, "GetAccount", `SELECT id, role, balance, created_at FROM users WHERE id = $1`, userID)
}

func (r *PostgresLedgerRepository) GetForUpdate(ctx context.Context, userID int64) (*models.Account, error) {
	return r.get(ctx, "GetAccountForUpdate", `SELECT id, role, balance, created_at FROM users WHERE id = $1 FOR UPDATE NOWAIT`, userID)
}

func (r *PostgresLedgerRepository) get(ctx context.Context, method, query string, userID int64) (acc *models.Account, err error) {
	ctx, span, done := observability.TrackRepositoryCall(ctx, ledgerTracer, method)
	defer done(&err)
	span.SetAttributes(attribute.Int64("user_id", userID))

	var a models.Account
	err = r.q.QueryRowContext(ctx, query, userID).Scan(&a.UserID, &a.Role, &a.Balance, &a.CreatedAt)
	if stderrors.Is(err, sql.ErrNoRows) {
		err = pkgerrors.ErrUserNotFound
		return nil, err
	}
	if err != nil {
		slog.Error("failed to get account", "method", method, "user_id", userID, "error", err)
		err = classify(fmt.Errorf("failed to get account: %w", err))
		return nil, err
	}
	return &a, nil
}

// Debit checks and decrements the balance in a single conditional UPDATE, so two
// debits racing on one account can never take it below zero.
func (r *PostgresLedgerRepository) Debit(ctx context.Context, userID, amount int64) (newBalance int64, err error) {
	ctx, span, done := observability.TrackRepositoryCall(ctx, ledgerTracer, "Debit")
	defer done(&err)
	span.SetAttributes(attribute.Int64("user_id", userID), attribute.Int64("amount", amount))

	if amount < 0 {
		err = pkgerrors.ErrNegativeAmount
		return 0, err
	}

	query := `
		UPDATE users
		SET balance = balance - $1
		WHERE id = $2
		AND balance >= $1
		RETURNING balance
		`
	err = r.q.QueryRowContext(ctx, query, amount, userID).Scan(&newBalance)
	if stderrors.Is(err, sql.ErrNoRows) {
		var balance int64
		err = r.q.QueryRowContext(ctx, `SELECT balance FROM users WHERE id = $1`, userID).Scan(&balance)
		if stderrors.Is(err, sql.ErrNoRows) {
			err = pkgerrors.ErrUserNotFound
			return 0, err
		}
		if err != nil {
			err = classify(fmt.Errorf("failed to read balance: %w", err))
			return 0, err
		}
		err = fmt.Errorf("%w: balance %d, needed %d", pkgerrors.ErrInsufficientFunds, balance, amount)
		slog.Warn("debit rejected", "method", "Debit", "user_id", userID, "balance", balance, "amount", amount)
		return 0, err
	}
	if err != nil {
		slog.Error("failed to debit account", "method", "Debit", "user_id", userID, "error", err)
		err = classify(fmt.Errorf("failed to debit account: %w", err))
		return 0, err
	}

	slog.Info("account debited", "method", "Debit", "user_id", userID, "amount", amount, "balance", newBalance)
	return newBalance, nil
}

func (r *PostgresLedgerRepository) Credit(ctx context.Context, userID, amount int64) (newBalance int64, err error) {
	ctx, span, done := observability.TrackRepositoryCall(ctx, ledgerTracer, "Credit")
	defer done(&err)
	span.SetAttributes(attribute.Int64("user_id", userID), attribute.Int64("amount", amount))

	if amount < 0 {
		err = pkgerrors.ErrNegativeAmount
		return 0, err
	}

	query := `UPDATE users SET balance = balance + $1 WHERE id = $2 RETURNING balance`
	err = r.q.QueryRowContext(ctx, query, amount, userID).Scan(&newBalance)
	if stderrors.Is(err, sql.ErrNoRows) {
		err = pkgerrors.ErrUserNotFound
		return 0, err
	}
	if err != nil {
		slog.Error("failed to credit account", "method", "Credit", "user_id", userID, "error", err)
		err = classify(fmt.Errorf("failed to credit account: %w", err))
		return 0, err
	}

	slog.Info("account credited", "method", "Credit", "user_id", userID, "amount", amount, "balance", newBalance)
	return newBalance, nil
}
