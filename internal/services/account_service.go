package service

import (
	"context"
	"log/slog"

	"github.com/honeynil/ReWearExchange/internal/models"
	"github.com/honeynil/ReWearExchange/internal/repository"
	pkgerrors "github.com/honeynil/ReWearExchange/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

// AccountService opens ledger accounts on behalf of the registration collaborator.
type AccountService interface {
	OpenAccount(ctx context.Context, actor models.Actor, account *models.Account) (*models.Account, error)
}

type accountService struct {
	uow  repository.UnitOfWork
	opts Options
}

func NewAccountService(uow repository.UnitOfWork, opts Options) *accountService {
	return &accountService{uow: uow, opts: opts.withDefaults()}
}

func (s *accountService) OpenAccount(ctx context.Context, actor models.Actor, account *models.Account) (*models.Account, error) {
	ctx, span := otel.Tracer("account-service").Start(ctx, "OpenAccount")
	defer span.End()

	if !actor.IsAdmin() {
		return nil, fail(span, "OpenAccount", pkgerrors.ErrNotAuthorized, "actor_id", actor.ID)
	}
	if account == nil || account.UserID <= 0 {
		return nil, fail(span, "OpenAccount", pkgerrors.ErrInvalidInput)
	}
	if account.Role != "" && account.Role != models.RoleUser && account.Role != models.RoleAdmin {
		return nil, fail(span, "OpenAccount", pkgerrors.ErrInvalidInput, "role", account.Role)
	}
	span.SetAttributes(attribute.Int64("user_id", account.UserID))

	err := withRetry(ctx, s.opts, "OpenAccount", func() error {
		return s.uow.Do(ctx, func(ctx context.Context, tx repository.Tx) error {
			return tx.Ledger().CreateAccount(ctx, account)
		})
	})
	if err != nil {
		return nil, fail(span, "OpenAccount", err, "user_id", account.UserID)
	}

	slog.Info("account opened", "method", "OpenAccount", "user_id", account.UserID, "balance", account.Balance)
	return account, nil
}
