package identity

import (
	"errors"

	"github.com/halcyon-id/halcyon-id/internal/accounts"
)

// State is the coarse account lifecycle state derived from roles and the
// enabled flag.
type State string

const (
	StatePendingActivation State = "PENDING_ACTIVATION"
	StateActive            State = "ACTIVE"
	StateDisabled          State = "DISABLED"
)

// StateOf derives the lifecycle state of an account.
func StateOf(u *accounts.UserRecord) State {
	switch {
	case !u.Enabled:
		return StateDisabled
	case u.Roles.IsActive():
		return StateActive
	default:
		return StatePendingActivation
	}
}

// ActivationResult reports the outcome of an activation attempt.
type ActivationResult string

const (
	ActivatedOK   ActivationResult = "ACTIVATED_OK"
	AlreadyActive ActivationResult = "ALREADY_ACTIVE"
	CodeMismatch  ActivationResult = "CODE_MISMATCH"
)

// ResetResult reports the outcome of a password reset attempt.
type ResetResult string

const (
	ResetOK           ResetResult = "OK"
	ResetCodeMismatch ResetResult = "CODE_MISMATCH"
)

// UpdateResult reports the outcome of a profile update.
type UpdateResult struct {
	// NeedsReauth tells the caller the authentication proof changed and the
	// session must be re-established before further authenticated actions.
	NeedsReauth bool
	// EmailReverifyTriggered is set when the email change demoted the account
	// back to pending and a fresh confirmation code was dispatched.
	EmailReverifyTriggered bool
}

// ErrRenameNotAllowed is returned when a login-name change is attempted
// without holding the one-time rename grant.
var ErrRenameNotAllowed = errors.New("identity: login name change not allowed")
