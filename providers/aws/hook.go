package aws

import (
	"errors"
	"strings"

	"opsbot/types"
)

// CallHook observes every AWS API call with its outcome. Wired to the
// opsbot.aws.calls counter at startup.
type CallHook func(service, operation, outcome string)

// callObserver is embedded by the adapters so they share one hook wiring.
type callObserver struct {
	onCall CallHook
}

// Option adjusts adapter construction.
type Option func(*callObserver)

// WithCallHook observes every call the adapter issues.
func WithCallHook(hook CallHook) Option {
	return func(o *callObserver) { o.onCall = hook }
}

// translate classifies an SDK error and records the call with its outcome.
// Every SDK call goes through here, successes included.
func (o *callObserver) translate(err error, action string) error {
	cerr := classify(err, action)
	if o.onCall != nil {
		service, operation, _ := strings.Cut(action, ":")
		o.onCall(service, operation, callOutcome(cerr))
	}
	return cerr
}

func callOutcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, errIncorrectState):
		return "noop"
	case errors.Is(err, types.ErrThrottled):
		return "throttled"
	case errors.Is(err, types.ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, types.ErrTimeout):
		return "timeout"
	default:
		return "error"
	}
}
