package license

import "errors"

var (
	// ErrInputMalformed means the key or fingerprint failed shape validation.
	ErrInputMalformed = errors.New("license: malformed input")
	// ErrNotFound means no license has the given key.
	ErrNotFound = errors.New("license: not found")
	// ErrPlanUnresolved means the license's plan could not be loaded.
	ErrPlanUnresolved = errors.New("license: plan unresolved")
	// ErrExpired means the expiry gate is active.
	ErrExpired = errors.New("license: expired")
	// ErrQuotaExceeded means the plan's device limit is already reached.
	ErrQuotaExceeded = errors.New("license: device quota exceeded")
	// ErrStoreUnavailable wraps any persistent store failure or timeout.
	ErrStoreUnavailable = errors.New("license: store unavailable")
	// ErrCacheUnavailable wraps lookup cache failures. Never surfaced to callers.
	ErrCacheUnavailable = errors.New("license: cache unavailable")

	errRevisionConflict = errors.New("license: revision conflict")
)

// OutcomeOf maps an error from the taxonomy to its wire outcome.
// A nil error is Valid; anything unrecognised fails closed.
func OutcomeOf(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeValid
	case errors.Is(err, ErrExpired):
		return OutcomeExpired
	case errors.Is(err, ErrQuotaExceeded):
		return OutcomeLimitReached
	default:
		return OutcomeInvalid
	}
}
