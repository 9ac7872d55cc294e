package api

import (
	"admin_service/internal/directory"
	"admin_service/internal/domain"
	"admin_service/pkg/crypto"
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// TokenAuthenticator accepts session tokens issued by a crypto.Signer and
// records each successful login in the directory.
type TokenAuthenticator struct {
	signer    *crypto.Signer
	directory directory.Directory
	logger    *zap.Logger
	now       func() time.Time
}

func NewTokenAuthenticator(signer *crypto.Signer, dir directory.Directory, logger *zap.Logger) *TokenAuthenticator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TokenAuthenticator{
		signer:    signer,
		directory: dir,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (a *TokenAuthenticator) Authenticate(ctx context.Context, token string) (domain.DirectoryEntry, error) {
	id, err := a.signer.VerifyToken(token)
	if err != nil {
		return domain.DirectoryEntry{}, fmt.Errorf("failed to verify token: %w", err)
	}
	account, err := a.directory.LoadDirectoryEntry(ctx, id)
	if err != nil {
		return domain.DirectoryEntry{}, fmt.Errorf("failed to load account %d: %w", id, err)
	}
	if !account.IsAccount() {
		return domain.DirectoryEntry{}, fmt.Errorf("%w: %s", directory.ErrNotAccount, account)
	}
	if err := a.directory.RecordLogin(ctx, account, a.now()); err != nil {
		return domain.DirectoryEntry{}, fmt.Errorf("failed to record login of %s: %w", account, err)
	}
	a.logger.Info("Session authenticated", zap.Uint32("account", account.ID))
	return account, nil
}
