package aws

import (
	"errors"

	"github.com/aws/smithy-go"
)

// ErrorCode extracts the service error code from an AWS SDK error chain,
// e.g. "ConditionalCheckFailedException" or "ThrottlingException". Returns ""
// for non-API errors.
func ErrorCode(err error) string {
	var ae smithy.APIError
	if errors.As(err, &ae) {
		return ae.ErrorCode()
	}
	return ""
}
