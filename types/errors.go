package types

import "errors"

// Error taxonomy for the command-processing path. Handlers and adapters wrap
// these sentinels with fmt.Errorf("...: %w", ...) so callers can classify
// with errors.Is while keeping the original detail.
var (
	// ErrUnknownCommand means the command token matched nothing in the table.
	ErrUnknownCommand = errors.New("unknown command")

	// ErrMissingArgument means a required alias argument was absent.
	ErrMissingArgument = errors.New("missing argument")

	// ErrForbidden means the alias tier does not allow the operation.
	ErrForbidden = errors.New("forbidden")

	// ErrNotFound means no alias is configured under that name.
	ErrNotFound = errors.New("alias not found")

	// ErrUnauthorized means AWS denied the call (IAM). Never retried.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrThrottled means AWS rate-limited the call. The cache layer owns
	// the retry policy; adapters surface this untouched.
	ErrThrottled = errors.New("throttled")

	// ErrTimeout means the call exceeded its deadline. Not retried.
	ErrTimeout = errors.New("timeout")

	// ErrUnavailable means the retry budget was exhausted.
	ErrUnavailable = errors.New("unavailable")

	// ErrNoDataPoints is a valid empty metrics result, not a failure.
	ErrNoDataPoints = errors.New("no data points")

	// ErrConfig means the configuration is invalid. Fatal at startup.
	ErrConfig = errors.New("invalid config")
)
