package license

import internalsettings "github.com/router-for-me/LicenseGuard/internal/settings"

// Outcome is the closed set of verification results.
type Outcome int

const (
	OutcomeInvalid Outcome = iota
	OutcomeExpired
	OutcomeLimitReached
	OutcomeValid
)

// String returns the metric label for the outcome.
func (o Outcome) String() string {
	switch o {
	case OutcomeValid:
		return "valid"
	case OutcomeExpired:
		return "expired"
	case OutcomeLimitReached:
		return "limit_reached"
	default:
		return "invalid"
	}
}

// Encode renders the outcome in the configured wire vocabulary.
// Unknown formats fall back to compact.
func (o Outcome) Encode(format string) string {
	if format == internalsettings.ResponseFormatDescriptive {
		switch o {
		case OutcomeValid:
			return "valid"
		case OutcomeExpired:
			return "expires"
		case OutcomeLimitReached:
			return "limit"
		default:
			return "invalid"
		}
	}
	switch o {
	case OutcomeValid:
		return "1"
	case OutcomeExpired:
		return "0e"
	case OutcomeLimitReached:
		return "0l"
	default:
		return "0i"
	}
}
