package aws

import (
	"errors"
	"fmt"
	"testing"

	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
)

func TestErrorCode(t *testing.T) {
	apiErr := &smithy.GenericAPIError{Code: "ThrottlingException", Message: "slow down"}
	assert.Equal(t, "ThrottlingException", ErrorCode(apiErr))

	wrapped := fmt.Errorf("put item: %w", apiErr)
	assert.Equal(t, "ThrottlingException", ErrorCode(wrapped))

	assert.Equal(t, "", ErrorCode(errors.New("plain error")))
	assert.Equal(t, "", ErrorCode(nil))
}
