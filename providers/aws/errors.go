package aws

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/smithy-go"

	"opsbot/types"
)

// throttleCodes are the API error codes AWS uses for rate limiting across
// EC2, RDS and CloudWatch.
var throttleCodes = map[string]bool{
	"Throttling":                             true,
	"ThrottlingException":                    true,
	"RequestLimitExceeded":                   true,
	"TooManyRequestsException":               true,
	"ProvisionedThroughputExceededException": true,
}

// accessCodes are IAM denial codes. These are fatal to the invocation and
// never retried.
var accessCodes = map[string]bool{
	"UnauthorizedOperation": true,
	"AccessDenied":          true,
	"AccessDeniedException": true,
}

// incorrectStateCodes signal a start/stop issued against a resource already
// in (or moving to) the requested state. Treated as no-op success.
var incorrectStateCodes = map[string]bool{
	"IncorrectState":              true,
	"IncorrectInstanceState":      true,
	"InvalidDBInstanceState":      true,
	"InvalidDBInstanceStateFault": true,
}

var errIncorrectState = errors.New("incorrect resource state")

// classify translates an SDK error into the bot's error taxonomy. The
// adapter does pure translation here; retry policy lives in the cache layer.
func classify(err error, action string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s exceeded deadline", types.ErrTimeout, action)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		switch {
		case throttleCodes[code]:
			return fmt.Errorf("%w: %s: %s", types.ErrThrottled, action, apiErr.ErrorMessage())
		case accessCodes[code]:
			return fmt.Errorf("%w: missing permission for %s: %s", types.ErrUnauthorized, action, apiErr.ErrorMessage())
		case incorrectStateCodes[code]:
			return fmt.Errorf("%w: %s: %s", errIncorrectState, action, apiErr.ErrorMessage())
		}
	}
	return fmt.Errorf("%s failed: %w", action, err)
}
