package validation

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	validatorv10 "github.com/go-playground/validator/v10"
)

// BindAndValidate decodes the webhook request body into out and validates it.
// A body that does not parse, or an envelope that fails validation, gets a
// 400 written here; the caller only needs to stop on a non-nil return. The
// payload names the offending fields so a rejected delivery can be triaged
// from the provider's webhook log without replaying it.
func BindAndValidate(c *gin.Context, out interface{}, v *validatorv10.Validate) error {
	if err := c.ShouldBindJSON(out); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":  "malformed_envelope",
			"detail": err.Error(),
		})
		return err
	}

	if err := v.Struct(out); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":  "invalid_envelope",
			"fields": fieldMessages(err),
		})
		return err
	}
	return nil
}

// fieldMessages flattens validator errors into field -> reason pairs. The
// correlation rule carries its message in the tag param; everything else
// reports the failed tag.
func fieldMessages(err error) map[string]string {
	fields := map[string]string{}
	var ve validatorv10.ValidationErrors
	if !errors.As(err, &ve) {
		fields["envelope"] = err.Error()
		return fields
	}
	for _, fe := range ve {
		switch fe.Tag() {
		case "correlation_required":
			fields[fe.Field()] = fe.Param()
		case "required":
			fields[fe.Field()] = "required"
		default:
			fields[fe.Field()] = "failed " + fe.Tag()
		}
	}
	return fields
}
