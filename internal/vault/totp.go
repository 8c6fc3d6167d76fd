// ABOUTME: TOTP second factor stored as a sealed vault entry.
// ABOUTME: Setup returns an otpauth:// URL for authenticator enrollment.

package vault

import (
	"context"
	"errors"

	"github.com/pquerna/otp/totp"

	"github.com/2389/claw-gateway/internal/store"
)

const totpIssuer = "claw-gateway"

// HasTotp reports whether a TOTP secret is enrolled. Works while locked
// since it only checks existence.
func (v *Vault) HasTotp(ctx context.Context) (bool, error) {
	_, err := v.store.GetSecret(ctx, totpSecretName)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	return false, err
}

// SetupTotp generates a fresh TOTP secret, seals it into the vault, and
// returns the otpauth:// provisioning URL. Replaces any existing secret.
func (v *Vault) SetupTotp(ctx context.Context, account string) (string, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      totpIssuer,
		AccountName: account,
	})
	if err != nil {
		return "", err
	}
	if err := v.Store(ctx, totpSecretName, key.Secret(), PolicyAuth, nil); err != nil {
		return "", err
	}
	v.logger.Info("TOTP enrolled", "account", account)
	return key.URL(), nil
}

// VerifyTotp checks a 6-digit code against the enrolled secret. Returns
// false for a wrong code, ErrNoTotp when nothing is enrolled.
func (v *Vault) VerifyTotp(ctx context.Context, code string) (bool, error) {
	secret, err := v.Peek(ctx, totpSecretName)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, ErrNoTotp
		}
		return false, err
	}
	return totp.Validate(code, secret), nil
}

// RemoveTotp disables the second factor. Removing an unenrolled secret
// is not an error.
func (v *Vault) RemoveTotp(ctx context.Context) error {
	err := v.Delete(ctx, totpSecretName)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	return err
}
