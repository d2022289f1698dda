package repository_test

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/honeynil/ReWearExchange/internal/repository"
	postgres "github.com/honeynil/ReWearExchange/internal/repository/postgres"
	pkgerrors "github.com/honeynil/ReWearExchange/pkg/errors"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgresUnitOfWork_Do(t *testing.T) {
	debitQuery := regexp.QuoteMeta(`UPDATE users SET balance = balance - $1`)

	t.Run("Commit", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectBegin()
		mock.ExpectQuery(debitQuery).
			WithArgs(int64(10), int64(1)).
			WillReturnRows(sqlmock.NewRows([]string{"balance"}).AddRow(int64(90)))
		mock.ExpectCommit()

		uow := postgres.NewPostgresUnitOfWork(db, time.Second)
		err = uow.Do(context.Background(), func(ctx context.Context, tx repository.Tx) error {
			_, err := tx.Ledger().Debit(ctx, 1, 10)
			return err
		})
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("RollbackOnDomainError", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectBegin()
		mock.ExpectRollback()

		uow := postgres.NewPostgresUnitOfWork(db, time.Second)
		err = uow.Do(context.Background(), func(ctx context.Context, tx repository.Tx) error {
			return pkgerrors.ErrItemNotAvailable
		})
		assert.ErrorIs(t, err, pkgerrors.ErrItemNotAvailable)
		assert.False(t, pkgerrors.IsTransient(err))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("SerializationFailureIsTransient", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectBegin()
		mock.ExpectQuery(debitQuery).WillReturnError(&pq.Error{Code: "40001"})
		mock.ExpectRollback()

		uow := postgres.NewPostgresUnitOfWork(db, time.Second)
		err = uow.Do(context.Background(), func(ctx context.Context, tx repository.Tx) error {
			_, err := tx.Ledger().Debit(ctx, 1, 10)
			return err
		})
		assert.True(t, pkgerrors.IsTransient(err))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("BeginFailure", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectBegin().WillReturnError(errors.New("connection refused"))

		called := false
		uow := postgres.NewPostgresUnitOfWork(db, time.Second)
		err = uow.Do(context.Background(), func(ctx context.Context, tx repository.Tx) error {
			called = true
			return nil
		})
		assert.True(t, pkgerrors.IsTransient(err))
		assert.NotContains(t, err.Error(), "connection refused")
		assert.False(t, called)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("CommitFailure", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectBegin()
		mock.ExpectCommit().WillReturnError(&pq.Error{Code: "40001"})

		uow := postgres.NewPostgresUnitOfWork(db, time.Second)
		err = uow.Do(context.Background(), func(ctx context.Context, tx repository.Tx) error {
			return nil
		})
		assert.True(t, pkgerrors.IsTransient(err))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("PanicRollsBack", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectBegin()
		mock.ExpectRollback()

		uow := postgres.NewPostgresUnitOfWork(db, time.Second)
		assert.Panics(t, func() {
			_ = uow.Do(context.Background(), func(ctx context.Context, tx repository.Tx) error {
				panic("boom")
			})
		})
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostgresUnitOfWork_ReadOnly(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id, role, balance, created_at FROM users WHERE id = $1`)).
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "role", "balance", "created_at"}).AddRow(int64(1), "user", int64(30), time.Now()))
	mock.ExpectCommit()

	uow := postgres.NewPostgresUnitOfWork(db, time.Second)
	var balance int64
	err = uow.ReadOnly(context.Background(), func(ctx context.Context, tx repository.Tx) error {
		acc, err := tx.Ledger().Get(ctx, 1)
		if err != nil {
			return err
		}
		balance = acc.Balance
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, int64(30), balance)
	assert.NoError(t, mock.ExpectationsWereMet())
}
