package exam

import (
	"errors"
	"fmt"
)

var (
	ErrAttemptLimitExceeded        = errors.New("attempt limit exceeded")
	ErrAttemptAlreadyActive        = errors.New("an attempt is already in progress")
	ErrAttemptNotActive            = errors.New("attempt is not in progress")
	ErrAlreadySubmitted            = errors.New("attempt already submitted")
	ErrAttemptNotFound             = errors.New("attempt not found")
	ErrResultNotFound              = errors.New("result not found")
	ErrCertificateNotFound         = errors.New("certificate not found")
	ErrCertificationNotFound       = errors.New("certification not found")
	ErrDuplicateCodeRetryExhausted = errors.New("could not allocate a unique certificate code")
	ErrMalformedDefinition         = errors.New("malformed certification definition")

	// ErrAttemptExpired is returned when a write reaches an attempt after
	// its deadline. It matches ErrAttemptNotActive.
	ErrAttemptExpired = fmt.Errorf("attempt expired: %w", ErrAttemptNotActive)
)

// alreadySubmitted matches both ErrAlreadySubmitted and ErrAttemptNotActive.
func alreadySubmitted(attemptID int64) error {
	return fmt.Errorf("attempt %d: %w: %w", attemptID, ErrAlreadySubmitted, ErrAttemptNotActive)
}
