package validation

// EventMetadata carries the correlation hints stamped on provider objects by
// the checkout flow.
type EventMetadata struct {
	OrderID      string `json:"orderId,omitempty"`
	Email        string `json:"email,omitempty"`
	CustomerName string `json:"customerName,omitempty"`
}

// EventObject is the provider object inside a webhook event: a checkout
// session, payment intent, dispute or charge, depending on the event type.
type EventObject struct {
	ID             string        `json:"id" validate:"required"`     // session/intent/dispute/charge id
	Status         string        `json:"status,omitempty"`           // provider object status
	PaymentIntent  string        `json:"payment_intent,omitempty"`   // correlation key on sessions/disputes/charges
	AmountTotal    float64       `json:"amount_total,omitempty"`     // checkout sessions
	Amount         float64       `json:"amount,omitempty"`           // intents/disputes/charges
	Currency       string        `json:"currency,omitempty"`
	Reason         string        `json:"reason,omitempty"`           // dispute reason
	FailureMessage string        `json:"failure_message,omitempty"`  // failed intents
	Metadata       EventMetadata `json:"metadata,omitempty"`
}

// WebhookEnvelope is the verified event shape handed over by the upstream
// signature-verification layer: {type, data: {object}}.
type WebhookEnvelope struct {
	ID   string `json:"id" validate:"required"`
	Type string `json:"type" validate:"required"`
	Data struct {
		Object EventObject `json:"object"`
	} `json:"data"`
}
