package reconcile

import (
	"fmt"

	"github.com/imrishuroy/go-webhook-reconciler/internal/validation"
)

// Kind enumerates every provider event the state machine handles. The set is
// closed: an unrecognized provider type string fails parsing at the edge
// instead of silently no-opping in the core.
type Kind int

const (
	KindCheckoutCompleted Kind = iota
	KindSessionExpired
	KindPaymentSucceeded
	KindPaymentFailed
	KindPaymentProcessing
	KindPaymentRequiresAction
	KindPaymentCanceled
	KindDisputeCreated
	KindDisputeUpdated
	KindDisputeClosed
	KindChargeRefunded
)

var kindNames = map[Kind]string{
	KindCheckoutCompleted:     "checkout.session.completed",
	KindSessionExpired:        "checkout.session.expired",
	KindPaymentSucceeded:      "payment_intent.succeeded",
	KindPaymentFailed:         "payment_intent.payment_failed",
	KindPaymentProcessing:     "payment_intent.processing",
	KindPaymentRequiresAction: "payment_intent.requires_action",
	KindPaymentCanceled:       "payment_intent.canceled",
	KindDisputeCreated:        "charge.dispute.created",
	KindDisputeUpdated:        "charge.dispute.updated",
	KindDisputeClosed:         "charge.dispute.closed",
	KindChargeRefunded:        "charge.refunded",
}

func (k Kind) String() string { return kindNames[k] }

// UnknownEventTypeError reports a provider type string outside the handled set.
type UnknownEventTypeError struct {
	Type string
}

func (e *UnknownEventTypeError) Error() string {
	return fmt.Sprintf("unknown provider event type: %q", e.Type)
}

// ParseKind maps a provider event type string to its Kind.
func ParseKind(s string) (Kind, error) {
	for k, name := range kindNames {
		if name == s {
			return k, nil
		}
	}
	return 0, &UnknownEventTypeError{Type: s}
}

// Metadata carries the correlation hints the checkout flow stamps on provider
// objects.
type Metadata struct {
	OrderID      string
	Email        string
	CustomerName string
}

// Event is one verified provider event, already signature-checked upstream.
type Event struct {
	Kind            Kind
	ProviderEventID string
	ObjectID        string // session, payment intent, dispute or charge id
	PaymentIntentID string
	Status          string // provider object status (dispute sub-status, intent status)
	Reason          string // failure message / dispute reason
	AmountTotal     float64
	Currency        string
	Metadata        Metadata
}

// FromEnvelope converts a validated webhook envelope into a typed Event.
func FromEnvelope(env validation.WebhookEnvelope) (Event, error) {
	kind, err := ParseKind(env.Type)
	if err != nil {
		return Event{}, err
	}

	obj := env.Data.Object
	ev := Event{
		Kind:            kind,
		ProviderEventID: env.ID,
		ObjectID:        obj.ID,
		Status:          obj.Status,
		Currency:        obj.Currency,
		Metadata: Metadata{
			OrderID:      obj.Metadata.OrderID,
			Email:        obj.Metadata.Email,
			CustomerName: obj.Metadata.CustomerName,
		},
	}

	switch kind {
	case KindPaymentSucceeded, KindPaymentFailed, KindPaymentProcessing,
		KindPaymentRequiresAction, KindPaymentCanceled:
		// the object itself is the payment intent
		ev.PaymentIntentID = obj.ID
		ev.AmountTotal = obj.Amount
		ev.Reason = obj.FailureMessage
	case KindCheckoutCompleted, KindSessionExpired:
		ev.PaymentIntentID = obj.PaymentIntent
		ev.AmountTotal = obj.AmountTotal
	case KindDisputeCreated, KindDisputeUpdated, KindDisputeClosed, KindChargeRefunded:
		ev.PaymentIntentID = obj.PaymentIntent
		ev.AmountTotal = obj.Amount
		ev.Reason = obj.Reason
	}

	return ev, nil
}
