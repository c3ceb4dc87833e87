package aws

import (
	"errors"
	"fmt"

	"github.com/aws/smithy-go"

	"github.com/yairfalse/vigil/pkg/compliance"
	"github.com/yairfalse/vigil/pkg/resource"
)

var transientCodes = map[string]bool{
	"Throttling":                             true,
	"ThrottlingException":                    true,
	"ThrottledException":                     true,
	"RequestLimitExceeded":                   true,
	"RequestThrottled":                       true,
	"RequestThrottledException":              true,
	"TooManyRequestsException":               true,
	"SlowDown":                               true,
	"RequestTimeout":                         true,
	"RequestTimeoutException":                true,
	"InternalError":                          true,
	"InternalFailure":                        true,
	"ServiceUnavailable":                     true,
	"ServiceUnavailableException":            true,
	"ProvisionedThroughputExceededException": true,
}

var notFoundCodes = map[string]bool{
	"NoSuchBucket":              true,
	"ResourceNotFoundException": true,
}

// classify maps an SDK error onto the compliance taxonomy. Retryable faults
// are wrapped with compliance.ErrTransient; vanished resources become
// *compliance.NotFoundError.
func classify(err error, kind resource.Kind, id, op string) error {
	if err == nil {
		return nil
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		switch {
		case notFoundCodes[code] && id != "":
			return &compliance.NotFoundError{Kind: kind, ID: id}
		case transientCodes[code], apiErr.ErrorFault() == smithy.FaultServer:
			return fmt.Errorf("%s: %w: %w", op, compliance.ErrTransient, err)
		}
	}

	return fmt.Errorf("%s: %w", op, err)
}

func errorCode(err error) string {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode()
	}
	return ""
}
