package chat

import (
	"errors"
	"fmt"

	"github.com/chatsync/internal/remote"
)

// Error taxonomy of the sync core. NotFound is absence and is swallowed into
// placeholder rendering wherever possible; Validation surfaces before any
// remote call; RemoteUnavailable wraps transport failures for the caller to
// present and retry manually.
var (
	ErrNotFound          = remote.ErrNotFound
	ErrConflict          = errors.New("conflict")
	ErrValidation        = errors.New("validation failed")
	ErrRemoteUnavailable = errors.New("remote unavailable")
	ErrPermissionDenied  = errors.New("permission denied")
)

func validationf(format string, v ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrValidation}, v...)...)
}

func conflictf(format string, v ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrConflict}, v...)...)
}

func permissionf(format string, v ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrPermissionDenied}, v...)...)
}

// remoteErr classifies a store error: not-found passes through, anything
// else becomes RemoteUnavailable with the operation attached.
func remoteErr(op string, err error) error {
	if errors.Is(err, remote.ErrNotFound) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, ErrRemoteUnavailable, err)
}
