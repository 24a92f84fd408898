package identity

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/halcyon-id/halcyon-id/internal/accounts"
	"github.com/halcyon-id/halcyon-id/internal/credential"
	"github.com/halcyon-id/halcyon-id/internal/notify"
	"github.com/halcyon-id/halcyon-id/internal/roles"
	"github.com/halcyon-id/halcyon-id/internal/shared"
)

// CredentialPort covers the hashing and token operations the lifecycle needs.
type CredentialPort interface {
	Hash(plaintext string) (string, error)
	Verify(storedHash, plaintext string) bool
	IssueConfirmationCode() (string, error)
}

// Service is the account lifecycle state machine: signup, activation,
// password reset, profile edit and soft deletion.
type Service struct {
	repo     accounts.Repository
	creds    CredentialPort
	notifier notify.Notifier
	logger   *slog.Logger
}

// NewService constructs the lifecycle service.
func NewService(repo accounts.Repository, creds CredentialPort, notifier notify.Notifier, logger *slog.Logger) *Service {
	return &Service{repo: repo, creds: creds, notifier: notifier, logger: logger}
}

// SignupInput is the pre-validated submitted profile.
type SignupInput struct {
	LoginName string
	Email     string
	// Password may be empty for provider-originated signups; a random
	// credential is generated so the hash is never empty once persisted.
	Password string
	Profile  accounts.Profile
	Social   *accounts.SocialIdentity
}

// Signup constructs and persists a new account. Unless autoActivate is set the
// account starts pending with the one-time rename grant, and the welcome
// notification carries the confirmation code. Persisting the record and its
// initial role grant is one atomic unit; the notification is best-effort after
// commit.
func (s *Service) Signup(ctx context.Context, input SignupInput, autoActivate bool) (*accounts.UserRecord, error) {
	password := input.Password
	if password == "" {
		generated, err := s.creds.IssueConfirmationCode()
		if err != nil {
			return nil, err
		}
		// Random throwaway credential, replaceable through password reset.
		password = generated[:16]
	}
	hash, err := s.creds.Hash(password)
	if err != nil {
		return nil, err
	}
	code, err := s.creds.IssueConfirmationCode()
	if err != nil {
		return nil, err
	}

	user := &accounts.UserRecord{
		LoginName:        input.LoginName,
		Email:            input.Email,
		PasswordHash:     hash,
		ConfirmationCode: code,
		Profile:          input.Profile,
		Enabled:          true,
		Social:           input.Social,
	}
	if autoActivate {
		user.Roles = roles.NewSet(roles.Active)
	} else {
		user.Roles = roles.NewSet(roles.NotActive, roles.CanRename)
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx accounts.Repository) error {
		_, err := tx.Create(ctx, user)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.notifier.Send(ctx, user.Email, notify.TemplateWelcome, map[string]string{
		"login_name":        user.LoginName,
		"confirmation_code": user.ConfirmationCode,
		"active":            strconv.FormatBool(autoActivate),
	})
	return user, nil
}

// Activate applies the confirmation-code proof. Activating an already-active
// account reports AlreadyActive without touching role state; two concurrent
// attempts with the same valid code cannot both report ActivatedOK because the
// check runs inside the account transaction.
func (s *Service) Activate(ctx context.Context, accountID int64, submittedCode string) (ActivationResult, error) {
	result := CodeMismatch
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx accounts.Repository) error {
		user, err := tx.FindByID(ctx, accountID)
		if err != nil {
			return err
		}
		if user.Roles.IsActive() {
			result = AlreadyActive
			return nil
		}
		if !credential.CodesMatch(user.ConfirmationCode, submittedCode) {
			result = CodeMismatch
			return nil
		}
		user.Roles.Activate()
		user.ConfirmationCode = ""
		if err := tx.Update(ctx, user); err != nil {
			return err
		}
		result = ActivatedOK
		return nil
	})
	if err != nil {
		return CodeMismatch, err
	}
	return result, nil
}

// RequestPasswordReset issues a fresh confirmation code (invalidating any
// prior unused one) and dispatches the reset notification. Unknown emails
// surface shared.ErrNotFound to the caller; whether to reveal that distinction
// to the end user is the caller's policy.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) error {
	var user *accounts.UserRecord
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx accounts.Repository) error {
		found, err := tx.FindByEmail(ctx, email)
		if err != nil {
			return err
		}
		code, err := s.creds.IssueConfirmationCode()
		if err != nil {
			return err
		}
		found.ConfirmationCode = code
		if err := tx.Update(ctx, found); err != nil {
			return err
		}
		user = found
		return nil
	})
	if err != nil {
		return err
	}

	s.notifier.Send(ctx, user.Email, notify.TemplatePasswordReset, map[string]string{
		"login_name":        user.LoginName,
		"confirmation_code": user.ConfirmationCode,
	})
	return nil
}

// ResetPassword stores the new password when the code matches and clears the
// code so it cannot be replayed. The reset link proves email ownership, so a
// pending account is activated as a side effect.
func (s *Service) ResetPassword(ctx context.Context, accountID int64, submittedCode, newPassword string) (ResetResult, error) {
	hash, err := s.creds.Hash(newPassword)
	if err != nil {
		return ResetCodeMismatch, err
	}
	result := ResetCodeMismatch
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx accounts.Repository) error {
		user, err := tx.FindByID(ctx, accountID)
		if err != nil {
			return err
		}
		if !credential.CodesMatch(user.ConfirmationCode, submittedCode) {
			result = ResetCodeMismatch
			return nil
		}
		user.PasswordHash = hash
		user.ConfirmationCode = ""
		if !user.Roles.IsActive() {
			user.Roles.Activate()
		}
		if err := tx.Update(ctx, user); err != nil {
			return err
		}
		result = ResetOK
		return nil
	})
	if err != nil {
		return ResetCodeMismatch, err
	}
	return result, nil
}

// ProfileChanges lists the submitted edits; nil fields are untouched.
type ProfileChanges struct {
	Email     *string
	LoginName *string
	Password  *string
	Profile   *accounts.Profile
}

// UpdateProfile applies profile edits. An email change demotes the account to
// pending and re-sends the activation code unless autoActivate holds; a
// login-name change requires and consumes the rename grant; a password change
// re-hashes. Any of the three tells the caller to re-establish the session.
func (s *Service) UpdateProfile(ctx context.Context, accountID int64, changes ProfileChanges, autoActivate bool) (UpdateResult, error) {
	var (
		result      UpdateResult
		notifyEmail string
		notifyCode  string
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx accounts.Repository) error {
		user, err := tx.FindByID(ctx, accountID)
		if err != nil {
			return err
		}

		if changes.LoginName != nil && *changes.LoginName != user.LoginName {
			if !user.Roles.Has(roles.CanRename) {
				return ErrRenameNotAllowed
			}
			user.LoginName = *changes.LoginName
			user.Roles.Remove(roles.CanRename)
			result.NeedsReauth = true
		}

		if changes.Email != nil && *changes.Email != user.Email {
			user.Email = *changes.Email
			if !autoActivate {
				code, err := s.creds.IssueConfirmationCode()
				if err != nil {
					return err
				}
				user.ConfirmationCode = code
				user.Roles.Remove(roles.Active)
				user.Roles.Add(roles.NotActive)
				result.NeedsReauth = true
				result.EmailReverifyTriggered = true
				notifyEmail = user.Email
				notifyCode = code
			}
		}

		if changes.Password != nil {
			hash, err := s.creds.Hash(*changes.Password)
			if err != nil {
				return err
			}
			user.PasswordHash = hash
			result.NeedsReauth = true
		}

		if changes.Profile != nil {
			user.Profile = *changes.Profile
		}
		return tx.Update(ctx, user)
	})
	if err != nil {
		return UpdateResult{}, err
	}

	if notifyEmail != "" {
		s.notifier.Send(ctx, notifyEmail, notify.TemplateActivate, map[string]string{
			"confirmation_code": notifyCode,
		})
	}
	return result, nil
}

// Find fetches one account by id.
func (s *Service) Find(ctx context.Context, accountID int64) (*accounts.UserRecord, error) {
	return s.repo.FindByID(ctx, accountID)
}

// Authenticate validates credentials against an account looked up by login
// name or email. Disabled accounts are refused regardless of role state.
func (s *Service) Authenticate(ctx context.Context, loginNameOrEmail, password string) (*accounts.UserRecord, error) {
	user, err := s.repo.FindByLoginName(ctx, loginNameOrEmail)
	if err != nil {
		user, err = s.repo.FindByEmail(ctx, loginNameOrEmail)
	}
	if err != nil {
		return nil, shared.ErrInvalidCredentials
	}
	if !user.Enabled {
		return nil, shared.ErrAccountDisabled
	}
	if !s.creds.Verify(user.PasswordHash, password) {
		return nil, shared.ErrInvalidCredentials
	}
	return user, nil
}

// RecordLogin stamps the last successful login time.
func (s *Service) RecordLogin(ctx context.Context, accountID int64) error {
	return s.repo.WithTx(ctx, func(ctx context.Context, tx accounts.Repository) error {
		user, err := tx.FindByID(ctx, accountID)
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		user.LastLoginAt = &now
		return tx.Update(ctx, user)
	})
}

// Disable soft-deletes the account. The record is kept; authentication must
// refuse it from now on.
func (s *Service) Disable(ctx context.Context, accountID int64) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx accounts.Repository) error {
		user, err := tx.FindByID(ctx, accountID)
		if err != nil {
			return err
		}
		user.Enabled = false
		return tx.Update(ctx, user)
	})
	if err != nil {
		return fmt.Errorf("identity: disable account %d: %w", accountID, err)
	}
	return nil
}
