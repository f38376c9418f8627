package vault

import (
	"context"
	"database/sql"
	"fmt"
	"unicode"
	"unicode/utf8"

	"github.com/forest6511/clipvault/pkg/audit"
	"github.com/forest6511/clipvault/pkg/crypto"
)

// Master password limits.
const (
	MinPasswordLength = 8
	MaxPasswordLength = 128
)

// PasswordStrength represents the strength level of a password
type PasswordStrength int

const (
	PasswordWeak PasswordStrength = iota
	PasswordFair
	PasswordGood
	PasswordStrong
)

// String returns a human-readable representation of password strength
func (s PasswordStrength) String() string {
	switch s {
	case PasswordWeak:
		return "weak"
	case PasswordFair:
		return "fair"
	case PasswordGood:
		return "good"
	case PasswordStrong:
		return "strong"
	default:
		return "unknown"
	}
}

// PasswordValidationResult is the outcome of ValidateMasterPassword.
// Warnings are advice; only Valid=false blocks vault creation.
type PasswordValidationResult struct {
	Valid    bool
	Strength PasswordStrength
	Warnings []string
}

// ValidateMasterPassword checks length limits and estimates strength from
// the character classes used.
func ValidateMasterPassword(password string) *PasswordValidationResult {
	res := &PasswordValidationResult{Valid: true, Strength: PasswordFair}

	n := utf8.RuneCountInString(password)
	if n < MinPasswordLength {
		res.Valid = false
		res.Strength = PasswordWeak
		res.Warnings = append(res.Warnings, fmt.Sprintf("Password must be at least %d characters", MinPasswordLength))
		return res
	}
	if n > MaxPasswordLength {
		res.Valid = false
		res.Strength = PasswordWeak
		res.Warnings = append(res.Warnings, fmt.Sprintf("Password must be at most %d characters", MaxPasswordLength))
		return res
	}

	var upper, lower, digit, other bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		case !unicode.IsSpace(r):
			other = true
		}
	}
	classes := 0
	for _, ok := range []bool{upper, lower, digit, other} {
		if ok {
			classes++
		}
	}

	if classes < 2 {
		res.Warnings = append(res.Warnings, "Consider using a mix of uppercase, lowercase, numbers, and symbols")
	}
	if n < 12 {
		res.Warnings = append(res.Warnings, "Longer passwords (12+ characters) are more secure")
	}

	switch {
	case classes >= 3 && n >= 16:
		res.Strength = PasswordStrong
	case classes >= 2 && n >= 12:
		res.Strength = PasswordGood
	case classes >= 2 || n >= 12:
		res.Strength = PasswordFair
	default:
		res.Strength = PasswordWeak
	}
	return res
}

// ChangePassword re-wraps the data key under a key derived from newPassword
// with a fresh salt. Items are not re-encrypted. Sessions holding a key
// derived from the old password stop working.
func (v *Vault) ChangePassword(ctx context.Context, oldPassword, newPassword []byte) error {
	if len(newPassword) == 0 {
		return ErrEmptyPassword
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.dek == nil {
		return ErrVaultLocked
	}

	h, err := v.loadHeader(ctx)
	if err != nil {
		return err
	}
	oldKEK := crypto.DeriveKeyWithParams(oldPassword, h.Salt, h.KDF)
	defer crypto.SecureWipe(oldKEK)
	if !crypto.VerifyFingerprint(oldKEK, h.Fingerprint) {
		return ErrWrongPassword
	}

	salt, err := crypto.RandomBytes(crypto.SaltLength)
	if err != nil {
		return err
	}
	newKEK := crypto.DeriveKeyWithParams(newPassword, salt, v.opts.KDF)
	defer crypto.SecureWipe(newKEK)

	nh, err := newHeader(newKEK, v.dek, salt, v.opts.KDF, v.opts.Clock())
	if err != nil {
		return err
	}
	if err := v.withTx(ctx, "change password", func(tx *sql.Tx) error {
		return rewrapHeader(ctx, tx, nh)
	}); err != nil {
		return err
	}
	v.logAudit(audit.OpVaultPasswordChange, "")
	return nil
}
