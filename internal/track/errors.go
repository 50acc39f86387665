package track

import "errors"

// Error taxonomy for the attendance core. IllegalTransition and
// PermissionDenied are usage errors and never retried. RemoteAppend is
// surfaced for a user-visible retry and leaves local state unchanged.
// Persistence wraps a non-fatal adapter write failure that accompanies an
// in-memory state change that did happen.
var (
	ErrInvalidCredentials = errors.New("invalid credentials shape")
	ErrPermissionDenied   = errors.New("permission denied")
	ErrTargetNotFound     = errors.New("impersonation target not found")
	ErrIllegalTransition  = errors.New("illegal transition")
	ErrRemoteAppend       = errors.New("attendance log append failed")
	ErrPersistence        = errors.New("persistence warning")
)

// IsWarning reports whether err only carries a persistence warning, meaning
// the operation itself succeeded in memory.
func IsWarning(err error) bool {
	return err != nil && errors.Is(err, ErrPersistence)
}
