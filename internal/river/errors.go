package river

import "errors"

// Error taxonomy shared by every source and by the reconciler. Wrap these with
// eris to add context; classify with errors.Is.
var (
	// ErrInvalidIdentifier is returned for malformed or unknown station,
	// reservoir, or snow-station identifiers.
	ErrInvalidIdentifier = errors.New("invalid identifier")

	// ErrNetworkFailure marks transient transport or upstream failures that
	// are safe to retry.
	ErrNetworkFailure = errors.New("network failure")

	// ErrNoData means the source answered but had no usable rows. It reflects
	// real absence and is not retried.
	ErrNoData = errors.New("no data")

	// ErrDecoding means the payload did not have the expected shape. The
	// source is treated as unavailable for the current cycle.
	ErrDecoding = errors.New("decoding error")
)

// IsRetryable reports whether err is worth retrying.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrNetworkFailure)
}

// Outcome classifies err for metrics and logs.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrNetworkFailure):
		return "network_failure"
	case errors.Is(err, ErrNoData):
		return "no_data"
	case errors.Is(err, ErrDecoding):
		return "decoding_error"
	case errors.Is(err, ErrInvalidIdentifier):
		return "invalid_identifier"
	default:
		return "error"
	}
}
