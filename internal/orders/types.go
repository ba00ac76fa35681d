package orders

import "time"

// PaymentStatus is the fine-grained payment lifecycle of an order.
type PaymentStatus string

const (
	PaymentPending        PaymentStatus = "PENDING"
	PaymentProcessing     PaymentStatus = "PROCESSING"
	PaymentRequiresAction PaymentStatus = "REQUIRES_ACTION"
	PaymentPaid           PaymentStatus = "PAID"
	PaymentDisputed       PaymentStatus = "DISPUTED"
	PaymentRefunded       PaymentStatus = "REFUNDED"
	PaymentFailed         PaymentStatus = "FAILED"
	PaymentExpired        PaymentStatus = "EXPIRED"
	PaymentCancelled      PaymentStatus = "CANCELLED"
)

// Status is the coarse order lifecycle mirrored alongside PaymentStatus.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusConfirmed  Status = "CONFIRMED"
	StatusOnHold     Status = "ON_HOLD"
	StatusResolved   Status = "RESOLVED"
	StatusCancelled  Status = "CANCELLED"
)

// paymentTransitions is the set of legal payment-status edges. Once PAID, only
// DISPUTED/REFUNDED are reachable; negative terminals have no outgoing edges.
var paymentTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentPending:        {PaymentProcessing, PaymentRequiresAction, PaymentPaid, PaymentFailed, PaymentExpired, PaymentCancelled},
	PaymentProcessing:     {PaymentRequiresAction, PaymentPaid, PaymentFailed, PaymentExpired, PaymentCancelled},
	PaymentRequiresAction: {PaymentProcessing, PaymentPaid, PaymentFailed, PaymentExpired, PaymentCancelled},
	PaymentPaid:           {PaymentDisputed, PaymentRefunded},
	PaymentDisputed:       {PaymentPaid, PaymentRefunded},
}

// CanTransitionTo reports whether moving from s to next is a legal edge.
// Self-transitions are never legal; handlers short-circuit them as duplicates.
func (s PaymentStatus) CanTransitionTo(next PaymentStatus) bool {
	for _, t := range paymentTransitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// Terminal reports whether s has no outgoing edges.
func (s PaymentStatus) Terminal() bool {
	return len(paymentTransitions[s]) == 0
}

// OrderItem is a single line item, immutable after order creation except as
// read during stock operations.
type OrderItem struct {
	ProductID string  `dynamodbav:"product_id" json:"product_id"`
	VariantID string  `dynamodbav:"variant_id,omitempty" json:"variant_id,omitempty"`
	Quantity  int     `dynamodbav:"quantity" json:"quantity"`
	Price     float64 `dynamodbav:"price" json:"price"`
}

// Order represents the item stored in the orders DynamoDB table. Mutated only
// by the reconciliation state machine after creation.
type Order struct {
	OrderID               string        `dynamodbav:"order_id"` // PK
	UserID                string        `dynamodbav:"user_id,omitempty"`
	Status                Status        `dynamodbav:"status"`
	PaymentStatus         PaymentStatus `dynamodbav:"payment_status"`
	TotalAmount           float64       `dynamodbav:"total_amount"`
	Currency              string        `dynamodbav:"currency,omitempty"`
	StripeSessionID       string        `dynamodbav:"session_id,omitempty"`        // GSI session_id-index
	StripePaymentIntentID string        `dynamodbav:"payment_intent_id,omitempty"` // GSI payment_intent-index
	// StockDecremented is set atomically with the confirmation stock
	// decrement; a refund restocks only when it is set.
	StockDecremented bool        `dynamodbav:"stock_decremented,omitempty"`
	Notes            string      `dynamodbav:"notes,omitempty"`
	Items            []OrderItem `dynamodbav:"items,omitempty"`
	CreatedAt        time.Time   `dynamodbav:"created_at"`
	UpdatedAt        time.Time   `dynamodbav:"updated_at"`
}
