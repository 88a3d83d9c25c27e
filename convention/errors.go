package convention

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation signals malformed or incomplete input; nothing was mutated.
	ErrValidation = errors.New("convention: validation failed")
	// ErrForbidden signals the actor lacks the role required for the
	// attempted transition; nothing was mutated.
	ErrForbidden = errors.New("convention: forbidden")
	// ErrConflict signals the convention changed since the caller's view;
	// refetch and retry.
	ErrConflict = errors.New("convention: conflict")
	// ErrNotFound signals the referenced convention does not exist.
	ErrNotFound = errors.New("convention: not found")
)

func validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func forbiddenf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrForbidden, fmt.Sprintf(format, args...))
}
