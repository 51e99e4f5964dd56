package service

import (
	"context"
	"fmt"

	"github.com/maheshrc27/postcraft/internal/models"
	"github.com/maheshrc27/postcraft/internal/platform"
	"github.com/maheshrc27/postcraft/internal/repository"
	"go.uber.org/zap"
)

type AccountService interface {
	// GetAuthURL returns the destination's consent page carrying state.
	// Destinations that use PKCE challenge with verifier; others ignore it.
	GetAuthURL(ctx context.Context, platformName, state, verifier string) (string, error)
	// Connect exchanges an authorization code and stores the account for
	// userID. Reconnecting an account replaces its credentials.
	Connect(ctx context.Context, platformName, code, verifier string, userID int64) (*models.SocialAccount, error)
	List(ctx context.Context, userID int64) ([]*models.SocialAccount, error)
	Delete(ctx context.Context, userID, accountID int64) error
	// Refresh renews the stored credentials of one account.
	Refresh(ctx context.Context, acc *models.SocialAccount) error
}

type accountService struct {
	sa       repository.SocialAccountRepository
	registry *platform.Registry
	vault    *CredentialVault
	logger   *zap.SugaredLogger
}

func NewAccountService(sa repository.SocialAccountRepository, registry *platform.Registry, vault *CredentialVault, logger *zap.SugaredLogger) AccountService {
	return &accountService{
		sa:       sa,
		registry: registry,
		vault:    vault,
		logger:   logger,
	}
}

func (s *accountService) GetAuthURL(ctx context.Context, platformName, state, verifier string) (string, error) {
	adapter, err := s.registry.Resolve(platformName)
	if err != nil {
		return "", err
	}

	if pkce, ok := adapter.(platform.PKCEAuthorizer); ok {
		if verifier == "" {
			return "", fmt.Errorf("%s requires a PKCE verifier: %w", adapter.Name(), ErrInvalidInput)
		}
		return pkce.AuthURLWithVerifier(state, verifier), nil
	}

	authorizer, ok := adapter.(platform.Authorizer)
	if !ok {
		return "", fmt.Errorf("%s does not support browser authorization: %w", adapter.Name(), ErrInvalidInput)
	}
	return authorizer.AuthURL(state), nil
}

func (s *accountService) Connect(ctx context.Context, platformName, code, verifier string, userID int64) (*models.SocialAccount, error) {
	if userID == 0 {
		return nil, fmt.Errorf("user id is required: %w", ErrInvalidInput)
	}
	if code == "" {
		return nil, fmt.Errorf("authorization code is required: %w", ErrInvalidInput)
	}

	adapter, err := s.registry.Resolve(platformName)
	if err != nil {
		return nil, err
	}

	var creds *platform.Credentials
	if pkce, ok := adapter.(platform.PKCEAuthorizer); ok {
		creds, err = pkce.ConnectWithVerifier(ctx, code, verifier)
	} else {
		creds, err = adapter.Connect(ctx, code)
	}
	if err != nil {
		return nil, err
	}

	access, err := s.vault.Seal(creds.AccessToken)
	if err != nil {
		return nil, err
	}
	refresh, err := s.vault.Seal(creds.RefreshToken)
	if err != nil {
		return nil, err
	}

	acc := &models.SocialAccount{
		UserID:          userID,
		Platform:        adapter.Name(),
		AccountID:       creds.AccountID,
		AccountName:     creds.Profile.Name,
		AccountUsername: creds.Profile.Username,
		ProfilePicture:  creds.Profile.PictureURL,
		AccessToken:     access,
		RefreshToken:    refresh,
		TokenExpiresAt:  creds.ExpiresAt,
	}

	id, err := s.sa.Create(ctx, nil, acc)
	if err != nil {
		return nil, err
	}
	acc.ID = id

	s.logger.Infow("account connected", "user_id", userID, "platform", acc.Platform, "account_id", id)
	return acc, nil
}

func (s *accountService) List(ctx context.Context, userID int64) ([]*models.SocialAccount, error) {
	if userID == 0 {
		return nil, fmt.Errorf("user id is required: %w", ErrInvalidInput)
	}
	return s.sa.ListByUserID(ctx, userID)
}

func (s *accountService) Delete(ctx context.Context, userID, accountID int64) error {
	if accountID == 0 {
		return fmt.Errorf("account id is required: %w", ErrInvalidInput)
	}

	isValid, err := s.sa.CheckByUserID(ctx, accountID, userID)
	if err != nil {
		return err
	}
	if !isValid {
		return fmt.Errorf("account %d: %w", accountID, ErrNotFound)
	}

	acc, err := s.sa.GetByID(ctx, accountID)
	if err != nil {
		return err
	}
	if acc == nil {
		return fmt.Errorf("account %d: %w", accountID, ErrNotFound)
	}

	s.revoke(ctx, acc)

	return s.sa.Remove(ctx, accountID)
}

// revoke is best effort. An already expired token must not block the
// account from being disconnected.
func (s *accountService) revoke(ctx context.Context, acc *models.SocialAccount) {
	adapter, err := s.registry.Resolve(acc.Platform)
	if err != nil {
		return
	}
	revoker, ok := adapter.(platform.Revoker)
	if !ok {
		return
	}

	creds, err := s.vault.Open(acc)
	if err != nil {
		s.logger.Warnw("cannot decrypt credentials for revoke", "account_id", acc.ID, "error", err)
		return
	}
	if err := revoker.Revoke(ctx, creds); err != nil {
		s.logger.Warnw("token revoke failed", "account_id", acc.ID, "platform", acc.Platform, "error", err)
	}
}

func (s *accountService) Refresh(ctx context.Context, acc *models.SocialAccount) error {
	adapter, err := s.registry.Resolve(acc.Platform)
	if err != nil {
		return err
	}
	_, err = s.vault.Refresh(ctx, adapter, acc)
	return err
}
