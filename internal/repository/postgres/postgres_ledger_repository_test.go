package repository_test

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/honeynil/ReWearExchange/internal/models"
	postgres "github.com/honeynil/ReWearExchange/internal/repository/postgres"
	pkgerrors "github.com/honeynil/ReWearExchange/pkg/errors"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgresLedgerRepository_CreateAccount(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := postgres.NewPostgresLedgerRepository(db)
	ctx := context.Background()

	t.Run("DefaultsRole", func(t *testing.T) {
		mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO users (id, role, balance) VALUES ($1, $2, $3) RETURNING created_at`)).
			WithArgs(int64(7), "user", int64(500)).
			WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(time.Now()))

		acc := &models.Account{UserID: 7, Balance: 500}
		require.NoError(t, repo.CreateAccount(ctx, acc))
		assert.Equal(t, models.RoleUser, acc.Role)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Duplicate", func(t *testing.T) {
		mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO users`)).
			WillReturnError(&pq.Error{Code: "23505"})

		err := repo.CreateAccount(ctx, &models.Account{UserID: 7})
		assert.ErrorIs(t, err, pkgerrors.ErrConflict)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("NegativeBalance", func(t *testing.T) {
		err := repo.CreateAccount(ctx, &models.Account{UserID: 8, Balance: -1})
		assert.ErrorIs(t, err, pkgerrors.ErrInvalidInput)
	})
}

func TestPostgresLedgerRepository_Get(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := postgres.NewPostgresLedgerRepository(db)
	ctx := context.Background()

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id, role, balance, created_at FROM users WHERE id = $1 FOR UPDATE NOWAIT`)).
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "role", "balance", "created_at"}).AddRow(int64(1), "admin", int64(250), time.Now()))

	acc, err := repo.GetForUpdate(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, models.RoleAdmin, acc.Role)
	assert.Equal(t, int64(250), acc.Balance)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id, role, balance, created_at FROM users WHERE id = $1`)).
		WithArgs(int64(2)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "role", "balance", "created_at"}))

	_, err = repo.Get(ctx, 2)
	assert.ErrorIs(t, err, pkgerrors.ErrUserNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresLedgerRepository_Debit(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := postgres.NewPostgresLedgerRepository(db)
	ctx := context.Background()

	debitQuery := regexp.QuoteMeta(`UPDATE users SET balance = balance - $1 WHERE id = $2 AND balance >= $1 RETURNING balance`)

	t.Run("Success", func(t *testing.T) {
		mock.ExpectQuery(debitQuery).
			WithArgs(int64(100), int64(1)).
			WillReturnRows(sqlmock.NewRows([]string{"balance"}).AddRow(int64(400)))

		balance, err := repo.Debit(ctx, 1, 100)
		require.NoError(t, err)
		assert.Equal(t, int64(400), balance)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("InsufficientFunds", func(t *testing.T) {
		mock.ExpectQuery(debitQuery).
			WithArgs(int64(100), int64(1)).
			WillReturnRows(sqlmock.NewRows([]string{"balance"}))
		mock.ExpectQuery(regexp.QuoteMeta(`SELECT balance FROM users WHERE id = $1`)).
			WithArgs(int64(1)).
			WillReturnRows(sqlmock.NewRows([]string{"balance"}).AddRow(int64(50)))

		_, err := repo.Debit(ctx, 1, 100)
		assert.ErrorIs(t, err, pkgerrors.ErrInsufficientFunds)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("UserNotFound", func(t *testing.T) {
		mock.ExpectQuery(debitQuery).
			WithArgs(int64(100), int64(404)).
			WillReturnRows(sqlmock.NewRows([]string{"balance"}))
		mock.ExpectQuery(regexp.QuoteMeta(`SELECT balance FROM users WHERE id = $1`)).
			WithArgs(int64(404)).
			WillReturnRows(sqlmock.NewRows([]string{"balance"}))

		_, err := repo.Debit(ctx, 404, 100)
		assert.ErrorIs(t, err, pkgerrors.ErrUserNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("NegativeAmount", func(t *testing.T) {
		_, err := repo.Debit(ctx, 1, -5)
		assert.ErrorIs(t, err, pkgerrors.ErrNegativeAmount)
	})

	t.Run("RowLocked", func(t *testing.T) {
		mock.ExpectQuery(debitQuery).
			WillReturnError(&pq.Error{Code: "55P03", Message: "could not obtain lock on row in relation \"users\""})

		_, err := repo.Debit(ctx, 1, 100)
		assert.ErrorIs(t, err, pkgerrors.ErrConflict)
		assert.False(t, pkgerrors.IsTransient(err))
		assert.NotContains(t, err.Error(), "relation")
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostgresLedgerRepository_Credit(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := postgres.NewPostgresLedgerRepository(db)
	ctx := context.Background()

	creditQuery := regexp.QuoteMeta(`UPDATE users SET balance = balance + $1 WHERE id = $2 RETURNING balance`)

	mock.ExpectQuery(creditQuery).
		WithArgs(int64(80), int64(2)).
		WillReturnRows(sqlmock.NewRows([]string{"balance"}).AddRow(int64(80)))
	balance, err := repo.Credit(ctx, 2, 80)
	require.NoError(t, err)
	assert.Equal(t, int64(80), balance)

	mock.ExpectQuery(creditQuery).
		WithArgs(int64(80), int64(404)).
		WillReturnRows(sqlmock.NewRows([]string{"balance"}))
	_, err = repo.Credit(ctx, 404, 80)
	assert.ErrorIs(t, err, pkgerrors.ErrUserNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}
