package validation

import (
	"strings"

	validatorv10 "github.com/go-playground/validator/v10"
)

// New returns a configured validator with custom struct-level validation registered.
func New() *validatorv10.Validate {
	v := validatorv10.New()

	// register struct-level validation for WebhookEnvelope to ensure dispute
	// and charge events carry the payment-intent correlation key; without it
	// the event could never be reconciled against an order.
	v.RegisterStructValidation(webhookEnvelopeStructValidation, WebhookEnvelope{})

	return v
}

func webhookEnvelopeStructValidation(sl validatorv10.StructLevel) {
	env := sl.Current().Interface().(WebhookEnvelope)

	if strings.HasPrefix(env.Type, "charge.") {
		obj := env.Data.Object
		if obj.PaymentIntent == "" && obj.Metadata.OrderID == "" {
			sl.ReportError(obj.PaymentIntent, "data.object.payment_intent", "PaymentIntent",
				"correlation_required", "charge events require payment_intent or metadata.orderId")
		}
	}
}
