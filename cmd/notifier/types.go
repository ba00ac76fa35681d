package main

// notificationMessage is the payload consumed from the notifications queue:
// either an alert notification enqueued by the alert engine or an
// order-confirmation email job from the reconciler.
type notificationMessage struct {
	Type        string `json:"type"`
	AlertID     string `json:"alert_id,omitempty"`
	Severity    string `json:"severity,omitempty"`
	Status      string `json:"status,omitempty"`
	Message     string `json:"message,omitempty"`
	Occurrences int    `json:"occurrences,omitempty"`

	OrderID      string `json:"order_id,omitempty"`
	Email        string `json:"email,omitempty"`
	CustomerName string `json:"customer_name,omitempty"`
}
