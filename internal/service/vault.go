package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/maheshrc27/postcraft/internal/models"
	"github.com/maheshrc27/postcraft/internal/platform"
	"github.com/maheshrc27/postcraft/internal/repository"
	"github.com/maheshrc27/postcraft/pkg/utils"
)

// CredentialVault keeps account tokens encrypted at rest and owns every
// credential write. Concurrent refreshes of one account are last write wins.
type CredentialVault struct {
	accounts repository.SocialAccountRepository
	key      []byte
}

func NewCredentialVault(accounts repository.SocialAccountRepository, secretKey string) *CredentialVault {
	return &CredentialVault{accounts: accounts, key: []byte(secretKey)}
}

func (v *CredentialVault) Seal(token string) (string, error) {
	if token == "" {
		return "", nil
	}
	return utils.Encrypt([]byte(token), v.key)
}

func (v *CredentialVault) open(sealed string) (string, error) {
	if sealed == "" {
		return "", nil
	}
	return utils.Decrypt(sealed, v.key)
}

// Open decrypts the account's stored credentials.
func (v *CredentialVault) Open(acc *models.SocialAccount) (platform.Credentials, error) {
	access, err := v.open(acc.AccessToken)
	if err != nil {
		return platform.Credentials{}, fmt.Errorf("decrypt access token for account %d: %w", acc.ID, err)
	}
	refresh, err := v.open(acc.RefreshToken)
	if err != nil {
		return platform.Credentials{}, fmt.Errorf("decrypt refresh token for account %d: %w", acc.ID, err)
	}

	return platform.Credentials{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresAt:    acc.TokenExpiresAt,
		AccountID:    acc.AccountID,
		Profile: platform.Profile{
			Name:       acc.AccountName,
			Username:   acc.AccountUsername,
			PictureURL: acc.ProfilePicture,
		},
	}, nil
}

// Refresh exchanges the account's refresh token through the adapter and
// persists the result. A destination that does not rotate refresh tokens
// keeps the stored one.
func (v *CredentialVault) Refresh(ctx context.Context, adapter platform.Adapter, acc *models.SocialAccount) (platform.Credentials, error) {
	current, err := v.Open(acc)
	if err != nil {
		return platform.Credentials{}, err
	}
	if current.RefreshToken == "" {
		return platform.Credentials{}, platform.Authentication(adapter.Name(), "no refresh token stored", nil)
	}

	fresh, err := adapter.RefreshCredentials(ctx, current.RefreshToken)
	if err != nil {
		return platform.Credentials{}, err
	}

	access, err := v.Seal(fresh.AccessToken)
	if err != nil {
		return platform.Credentials{}, err
	}
	refresh, err := v.Seal(fresh.RefreshToken)
	if err != nil {
		return platform.Credentials{}, err
	}
	if err := v.accounts.UpdateCredentials(ctx, acc.ID, access, refresh, fresh.ExpiresAt); err != nil {
		return platform.Credentials{}, err
	}

	current.AccessToken = fresh.AccessToken
	if fresh.RefreshToken != "" {
		current.RefreshToken = fresh.RefreshToken
	}
	current.ExpiresAt = fresh.ExpiresAt
	return current, nil
}

// withAuthRetry runs call once and, if the destination rejects the
// credentials, refreshes them and runs call one more time.
func (v *CredentialVault) withAuthRetry(ctx context.Context, adapter platform.Adapter, acc *models.SocialAccount, call func(platform.Credentials) error) error {
	creds, err := v.Open(acc)
	if err != nil {
		return err
	}

	err = call(creds)
	if err == nil || !errors.Is(err, platform.ErrAuthentication) {
		return err
	}

	creds, refreshErr := v.Refresh(ctx, adapter, acc)
	if refreshErr != nil {
		return platform.Authentication(adapter.Name(), "credential refresh failed", refreshErr)
	}
	return call(creds)
}
