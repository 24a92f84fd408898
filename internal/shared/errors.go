package shared

import "errors"

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrConflict indicates a uniqueness conflict (login name, email, social id).
	ErrConflict = errors.New("conflict")
	// ErrInvalidCredentials indicates login failure.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAccountDisabled indicates the account was soft-deleted.
	ErrAccountDisabled = errors.New("account disabled")
)

// UserSafeMessage maps internal errors to messages safe to show end users.
func UserSafeMessage(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return "The requested account was not found."
	case errors.Is(err, ErrConflict):
		return "That name or email is already in use."
	case errors.Is(err, ErrInvalidCredentials):
		return "Invalid email or password."
	case errors.Is(err, ErrAccountDisabled):
		return "This account has been deactivated."
	default:
		return "Something went wrong. Please try again."
	}
}
