// Package reconcile maps the stream of out-of-order, possibly duplicated
// provider webhook events onto order lifecycles. Every handler is idempotent:
// transitions are CAS-guarded against current persisted state, so re-delivery
// and stale events collapse into no-ops. Once a payment has succeeded, no
// processing error is ever raised back to the webhook transport; it becomes a
// CRITICAL alert instead.
package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/imrishuroy/go-webhook-reconciler/internal/alerts"
	"github.com/imrishuroy/go-webhook-reconciler/internal/aws"
	"github.com/imrishuroy/go-webhook-reconciler/internal/disputes"
	"github.com/imrishuroy/go-webhook-reconciler/internal/errs"
	"github.com/imrishuroy/go-webhook-reconciler/internal/inventory"
	"github.com/imrishuroy/go-webhook-reconciler/internal/orders"
	"github.com/sirupsen/logrus"
)

// Alert types emitted by the state machine.
const (
	AlertDisputeCreated        = "DISPUTE_CREATED"
	AlertDisputeNeedsResponse  = "DISPUTE_NEEDS_RESPONSE"
	AlertDisputeClosed         = "DISPUTE_CLOSED"
	AlertEmergencyOrder        = "EMERGENCY_ORDER_CREATED"
	AlertInsufficientStock     = "INSUFFICIENT_STOCK"
	AlertPostPaymentFailure    = "POST_PAYMENT_FAILURE"
	AlertLargeOrder            = "LARGE_ORDER"
	AlertOrderNotFound         = "ORDER_NOT_FOUND"
	AlertPaymentFailedAfterPay = "PAYMENT_FAILED_AFTER_PAID"
)

// Outcome classifies a handler result for the caller.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeWarning Outcome = "warning"
	OutcomeError   Outcome = "error"
)

// Result is the summarized handler outcome returned to the webhook layer.
type Result struct {
	Outcome Outcome
	Message string
}

// Reconciler is the order reconciliation state machine. Construct once and
// share; it holds no per-event state.
type Reconciler struct {
	orders        *orders.Store
	disputes      *disputes.Store
	inventory     *inventory.Engine
	alerts        *alerts.Engine
	confirmations *aws.Publisher // confirmation email job queue; nil disables
	metrics       *aws.Metrics
	log           *logrus.Logger
	largeOrder    float64
	nowFunc       func() time.Time
}

// NewReconciler wires the state machine. confirmations and metrics may be nil.
func NewReconciler(
	ordersStore *orders.Store,
	disputesStore *disputes.Store,
	inv *inventory.Engine,
	alertEngine *alerts.Engine,
	confirmations *aws.Publisher,
	metrics *aws.Metrics,
	log *logrus.Logger,
	largeOrderThreshold float64,
) *Reconciler {
	return &Reconciler{
		orders:        ordersStore,
		disputes:      disputesStore,
		inventory:     inv,
		alerts:        alertEngine,
		confirmations: confirmations,
		metrics:       metrics,
		log:           log,
		largeOrder:    largeOrderThreshold,
		nowFunc:       time.Now,
	}
}

// Process dispatches one verified event to its handler. The switch is
// exhaustive over Kind; an unhandled kind is a programming error surfaced as
// an explicit failure, never a silent no-op.
func (r *Reconciler) Process(ctx context.Context, ev Event) error {
	r.count(ctx, "WebhookEventsProcessed", map[string]string{"kind": ev.Kind.String()})

	switch ev.Kind {
	case KindCheckoutCompleted:
		_, err := r.ProcessCheckoutCompleted(ctx, ev)
		return err
	case KindSessionExpired:
		return r.ProcessSessionExpired(ctx, ev)
	case KindPaymentSucceeded:
		return r.ProcessPaymentSucceeded(ctx, ev)
	case KindPaymentFailed:
		_, err := r.ProcessPaymentFailed(ctx, ev)
		return err
	case KindPaymentProcessing:
		return r.ProcessPaymentProcessing(ctx, ev)
	case KindPaymentRequiresAction:
		return r.ProcessPaymentRequiresAction(ctx, ev)
	case KindPaymentCanceled:
		return r.ProcessPaymentCanceled(ctx, ev)
	case KindDisputeCreated:
		return r.ProcessDisputeCreated(ctx, ev)
	case KindDisputeUpdated:
		return r.ProcessDisputeUpdated(ctx, ev)
	case KindDisputeClosed:
		return r.ProcessDisputeClosed(ctx, ev)
	case KindChargeRefunded:
		return r.ProcessChargeRefunded(ctx, ev)
	}
	return fmt.Errorf("unhandled event kind %d", ev.Kind)
}

// resolveOrder applies the resolution precedence: metadata orderId, then the
// session correlation key, then the payment-intent correlation key.
// Returns (nil, nil) when nothing resolves.
func (r *Reconciler) resolveOrder(ctx context.Context, ev Event) (*orders.Order, error) {
	if ev.Metadata.OrderID != "" {
		o, err := r.orders.Get(ctx, ev.Metadata.OrderID)
		if err != nil || o != nil {
			return o, err
		}
	}
	if ev.Kind == KindCheckoutCompleted || ev.Kind == KindSessionExpired {
		o, err := r.orders.GetBySessionID(ctx, ev.ObjectID)
		if err != nil || o != nil {
			return o, err
		}
	}
	return r.orders.GetByPaymentIntentID(ctx, ev.PaymentIntentID)
}

// synthesizeEmergencyOrder creates an order from the raw event so a
// successful payment is never silently lost, and raises a CRITICAL alert for
// manual reconciliation.
func (r *Reconciler) synthesizeEmergencyOrder(ctx context.Context, ev Event) (*orders.Order, error) {
	note := fmt.Sprintf("emergency order synthesized from provider event %s", ev.ProviderEventID)
	if ev.Metadata.Email != "" {
		note += fmt.Sprintf(" (customer %s <%s>)", ev.Metadata.CustomerName, ev.Metadata.Email)
	}
	o := &orders.Order{
		OrderID:               uuid.NewString(),
		Status:                orders.StatusPending,
		PaymentStatus:         orders.PaymentPending,
		TotalAmount:           ev.AmountTotal,
		Currency:              ev.Currency,
		StripePaymentIntentID: ev.PaymentIntentID,
		Notes:                 note,
	}
	if ev.Kind == KindCheckoutCompleted || ev.Kind == KindSessionExpired {
		o.StripeSessionID = ev.ObjectID
	}
	if err := r.orders.Create(ctx, o); err != nil {
		return nil, err
	}

	r.log.WithFields(logrus.Fields{
		"order_id": o.OrderID,
		"event":    ev.ProviderEventID,
	}).Warn("synthesized emergency order")
	r.alert(ctx, alerts.Config{
		Type:     AlertEmergencyOrder,
		Severity: alerts.SeverityCritical,
		Message:  note,
		Entity:   alerts.EntityRef{Kind: alerts.EntityOrder, ID: o.OrderID},
	})
	return o, nil
}

// ProcessCheckoutCompleted confirms the order for a completed checkout:
// stock decrement and the PAID/CONFIRMED flip commit in one transaction.
// Per the failure policy, nothing after the successful payment is allowed to
// propagate as an error.
func (r *Reconciler) ProcessCheckoutCompleted(ctx context.Context, ev Event) (*orders.Order, error) {
	order, err := r.resolveOrder(ctx, ev)
	if err != nil {
		return nil, err
	}
	if order == nil {
		order, err = r.synthesizeEmergencyOrder(ctx, ev)
		if err != nil {
			return nil, err
		}
	}

	if order.PaymentStatus == orders.PaymentPaid {
		return order, nil // re-delivery
	}
	if !order.PaymentStatus.CanTransitionTo(orders.PaymentPaid) {
		r.log.WithFields(logrus.Fields{
			"order_id": order.OrderID,
			"from":     order.PaymentStatus,
		}).Info("ignoring checkout completion on terminal order")
		return order, nil
	}

	statusFlip := r.orders.ConfirmItem(order.OrderID, order.PaymentStatus)
	if err := r.inventory.DecrementStock(ctx, order, statusFlip); err != nil {
		r.confirmFailed(ctx, order, err)
		return order, nil
	}
	order.PaymentStatus = orders.PaymentPaid
	order.Status = orders.StatusConfirmed
	order.StockDecremented = true

	r.sendConfirmationEmail(ctx, order, ev)
	if r.largeOrder > 0 && order.TotalAmount >= r.largeOrder {
		r.alert(ctx, alerts.Config{
			Type:     AlertLargeOrder,
			Severity: alerts.SeverityWarning,
			Message:  fmt.Sprintf("large order confirmed: %s (%.2f %s)", order.OrderID, order.TotalAmount, order.Currency),
			Entity:   alerts.EntityRef{Kind: alerts.EntityOrder, ID: order.OrderID},
		})
	}
	r.count(ctx, "OrdersConfirmed", nil)
	return order, nil
}

// confirmFailed handles a failed confirmation transaction after a successful
// payment: insufficient stock or a lost CAS race. Never returns an error.
func (r *Reconciler) confirmFailed(ctx context.Context, order *orders.Order, err error) {
	var stockErr *errs.InsufficientStockError
	if errors.As(err, &stockErr) {
		r.count(ctx, "StockConflicts", nil)
		r.alert(ctx, alerts.Config{
			Type:     AlertInsufficientStock,
			Severity: alerts.SeverityUrgent,
			Message:  fmt.Sprintf("paid order %s cannot be confirmed: %v", order.OrderID, stockErr),
			Entity:   alerts.EntityRef{Kind: alerts.EntityOrder, ID: order.OrderID},
		})
		return
	}

	// a concurrent delivery may have won the CAS; re-read before alerting
	if fresh, rerr := r.orders.Get(ctx, order.OrderID); rerr == nil && fresh != nil &&
		fresh.PaymentStatus == orders.PaymentPaid {
		*order = *fresh
		return
	}

	r.log.WithError(err).WithField("order_id", order.OrderID).Error("order confirmation failed after successful payment")
	r.alert(ctx, alerts.Config{
		Type:     AlertPostPaymentFailure,
		Severity: alerts.SeverityCritical,
		Message:  fmt.Sprintf("post-payment processing failed for order %s: %v", order.OrderID, err),
		Entity:   alerts.EntityRef{Kind: alerts.EntityOrder, ID: order.OrderID},
	})
}

// ProcessPaymentSucceeded moves a resolvable order to PAID/CONFIRMED; a
// payment that cannot be correlated synthesizes an emergency order and then
// records the success on it the same way.
func (r *Reconciler) ProcessPaymentSucceeded(ctx context.Context, ev Event) error {
	order, err := r.resolveOrder(ctx, ev)
	if err != nil {
		return err
	}
	if order == nil {
		order, err = r.synthesizeEmergencyOrder(ctx, ev)
		if err != nil {
			return err
		}
	}
	if order.PaymentStatus == orders.PaymentPaid ||
		!order.PaymentStatus.CanTransitionTo(orders.PaymentPaid) {
		return nil
	}
	err = r.orders.UpdateStatuses(ctx, order.OrderID, order.PaymentStatus,
		orders.PaymentPaid, orders.StatusConfirmed, "")
	if errors.Is(err, orders.ErrStatusMismatch) {
		return nil // lost the race to a concurrent delivery
	}
	return err
}

// ProcessPaymentFailed records a failed payment. Never regresses a PAID order.
func (r *Reconciler) ProcessPaymentFailed(ctx context.Context, ev Event) (Result, error) {
	order, err := r.resolveOrder(ctx, ev)
	if err != nil {
		return Result{Outcome: OutcomeError, Message: err.Error()}, err
	}
	if order == nil {
		r.alert(ctx, alerts.Config{
			Type:     AlertOrderNotFound,
			Severity: alerts.SeverityWarning,
			Message:  fmt.Sprintf("payment failure for unknown order (intent %s)", ev.PaymentIntentID),
			Entity:   alerts.EntityRef{Kind: alerts.EntityOrder, ID: ev.PaymentIntentID},
		})
		return Result{Outcome: OutcomeWarning, Message: "order not found"}, nil
	}
	if order.PaymentStatus == orders.PaymentPaid {
		r.alert(ctx, alerts.Config{
			Type:     AlertPaymentFailedAfterPay,
			Severity: alerts.SeverityWarning,
			Message:  fmt.Sprintf("payment failure event received for already-paid order %s", order.OrderID),
			Entity:   alerts.EntityRef{Kind: alerts.EntityOrder, ID: order.OrderID},
		})
		return Result{Outcome: OutcomeWarning, Message: "order already paid"}, nil
	}
	if order.PaymentStatus == orders.PaymentFailed {
		return Result{Outcome: OutcomeSuccess, Message: "already failed"}, nil
	}
	if !order.PaymentStatus.CanTransitionTo(orders.PaymentFailed) {
		return Result{Outcome: OutcomeWarning, Message: "terminal order, ignored"}, nil
	}

	note := appendNote(order.Notes, fmt.Sprintf("payment failed at %s: %s",
		r.nowFunc().UTC().Format(time.RFC3339), ev.Reason))
	err = r.orders.UpdateStatuses(ctx, order.OrderID, order.PaymentStatus,
		orders.PaymentFailed, orders.StatusCancelled, note)
	if errors.Is(err, orders.ErrStatusMismatch) {
		return Result{Outcome: OutcomeSuccess, Message: "state changed concurrently"}, nil
	}
	if err != nil {
		return Result{Outcome: OutcomeError, Message: err.Error()}, err
	}
	return Result{Outcome: OutcomeSuccess, Message: "order marked failed"}, nil
}

// ProcessPaymentRequiresAction marks an order as awaiting customer action.
func (r *Reconciler) ProcessPaymentRequiresAction(ctx context.Context, ev Event) error {
	return r.applyIntentTransition(ctx, ev, orders.PaymentRequiresAction, orders.StatusPending)
}

// ProcessPaymentProcessing marks an order as processing.
func (r *Reconciler) ProcessPaymentProcessing(ctx context.Context, ev Event) error {
	return r.applyIntentTransition(ctx, ev, orders.PaymentProcessing, orders.StatusPending)
}

// applyIntentTransition applies an intermediate intent transition with the
// idempotent short-circuit: already-in-state and illegal (stale) transitions
// are silent no-ops.
func (r *Reconciler) applyIntentTransition(ctx context.Context, ev Event, target orders.PaymentStatus, mirror orders.Status) error {
	order, err := r.resolveOrder(ctx, ev)
	if err != nil {
		return err
	}
	if order == nil {
		r.log.WithField("payment_intent", ev.PaymentIntentID).Warn("intent event for unknown order")
		return nil
	}
	if order.PaymentStatus == target || !order.PaymentStatus.CanTransitionTo(target) {
		return nil
	}
	err = r.orders.UpdateStatuses(ctx, order.OrderID, order.PaymentStatus, target, mirror, "")
	if errors.Is(err, orders.ErrStatusMismatch) {
		return nil
	}
	return err
}

// ProcessPaymentCanceled cancels an order whose intent the provider confirms
// as canceled.
func (r *Reconciler) ProcessPaymentCanceled(ctx context.Context, ev Event) error {
	if ev.Status != "" && ev.Status != "canceled" {
		return nil // provider status does not confirm cancellation
	}
	order, err := r.resolveOrder(ctx, ev)
	if err != nil {
		return err
	}
	if order == nil {
		return nil
	}
	if order.Status == orders.StatusCancelled ||
		!order.PaymentStatus.CanTransitionTo(orders.PaymentFailed) {
		return nil
	}
	note := appendNote(order.Notes, fmt.Sprintf("payment canceled by provider at %s",
		r.nowFunc().UTC().Format(time.RFC3339)))
	err = r.orders.UpdateStatuses(ctx, order.OrderID, order.PaymentStatus,
		orders.PaymentFailed, orders.StatusCancelled, note)
	if errors.Is(err, orders.ErrStatusMismatch) {
		return nil
	}
	return err
}

// ProcessSessionExpired expires an unfinished checkout. Terminal payment
// states (PAID, REFUNDED, FAILED) are left untouched.
func (r *Reconciler) ProcessSessionExpired(ctx context.Context, ev Event) error {
	order, err := r.resolveOrder(ctx, ev)
	if err != nil {
		return err
	}
	if order == nil {
		return nil
	}
	switch order.PaymentStatus {
	case orders.PaymentPaid, orders.PaymentRefunded, orders.PaymentFailed,
		orders.PaymentExpired, orders.PaymentCancelled:
		return nil
	}
	note := appendNote(order.Notes, fmt.Sprintf("checkout session expired at %s",
		r.nowFunc().UTC().Format(time.RFC3339)))
	err = r.orders.UpdateStatuses(ctx, order.OrderID, order.PaymentStatus,
		orders.PaymentExpired, orders.StatusCancelled, note)
	if errors.Is(err, orders.ErrStatusMismatch) {
		return nil
	}
	return err
}

// disputeTarget maps the provider dispute sub-status to a payment status.
func disputeTarget(subStatus string) (orders.PaymentStatus, bool) {
	switch subStatus {
	case disputes.StatusNeedsResponse, disputes.StatusUnderReview:
		return orders.PaymentDisputed, true
	case disputes.StatusWon:
		return orders.PaymentPaid, true
	case disputes.StatusLost:
		return orders.PaymentRefunded, true
	}
	return "", false
}

// ProcessDisputeCreated records a new dispute, puts the order on hold and
// raises an URGENT alert. All writes are state-checked so re-delivery skips.
func (r *Reconciler) ProcessDisputeCreated(ctx context.Context, ev Event) error {
	order, err := r.resolveOrder(ctx, ev)
	if err != nil {
		return err
	}
	existing, err := r.disputes.Get(ctx, ev.ObjectID)
	if err != nil {
		return err
	}
	if existing != nil && existing.Status == ev.Status &&
		(order == nil || order.PaymentStatus == orders.PaymentDisputed) {
		return nil // dispute and order already reflect this event
	}

	if existing == nil {
		d := disputes.Dispute{
			StripeID: ev.ObjectID,
			Status:   ev.Status,
			Reason:   ev.Reason,
		}
		if order != nil {
			d.OrderID = order.OrderID
			d.UserID = order.UserID
		}
		if _, err := r.disputes.CreateIfNotExists(ctx, d); err != nil {
			r.captureDisputeFailure(ctx, order, "record dispute", err)
			return nil
		}
	}

	if order != nil && order.PaymentStatus.CanTransitionTo(orders.PaymentDisputed) {
		err := r.orders.UpdateStatuses(ctx, order.OrderID, order.PaymentStatus,
			orders.PaymentDisputed, orders.StatusOnHold, "")
		if err != nil && !errors.Is(err, orders.ErrStatusMismatch) {
			r.captureDisputeFailure(ctx, order, "hold disputed order", err)
			return nil
		}
	}

	entity := alerts.EntityRef{Kind: alerts.EntityDispute, ID: ev.ObjectID}
	if order != nil {
		entity = alerts.EntityRef{Kind: alerts.EntityOrder, ID: order.OrderID}
	}
	r.alert(ctx, alerts.Config{
		Type:     AlertDisputeCreated,
		Severity: alerts.SeverityUrgent,
		Message:  fmt.Sprintf("payment dispute opened (%s): %s", ev.ObjectID, ev.Reason),
		Entity:   entity,
	})
	return nil
}

// ProcessDisputeUpdated applies a dispute sub-status change, updating the
// dispute row and the order independently: only what actually changed is
// written.
func (r *Reconciler) ProcessDisputeUpdated(ctx context.Context, ev Event) error {
	target, ok := disputeTarget(ev.Status)
	if !ok {
		r.log.WithField("status", ev.Status).Warn("unmapped dispute sub-status")
		return nil
	}

	d, err := r.disputes.Get(ctx, ev.ObjectID)
	if err != nil {
		return err
	}
	order, err := r.resolveOrder(ctx, ev)
	if err != nil {
		return err
	}
	if d != nil && d.Status == ev.Status && (order == nil || order.PaymentStatus == target) {
		return nil // both already reflect the provider state
	}

	if d == nil {
		nd := disputes.Dispute{StripeID: ev.ObjectID, Status: ev.Status, Reason: ev.Reason}
		if order != nil {
			nd.OrderID = order.OrderID
			nd.UserID = order.UserID
		}
		if _, err := r.disputes.CreateIfNotExists(ctx, nd); err != nil {
			r.captureDisputeFailure(ctx, order, "record dispute update", err)
			return nil
		}
	} else if d.Status != ev.Status {
		err := r.disputes.UpdateStatus(ctx, ev.ObjectID, d.Status, ev.Status)
		if err != nil && !errors.Is(err, disputes.ErrStatusMismatch) {
			r.captureDisputeFailure(ctx, order, "update dispute status", err)
			return nil
		}
	}

	if order != nil && order.PaymentStatus != target &&
		order.PaymentStatus.CanTransitionTo(target) {
		mirror := mirrorForDisputeOutcome(target)
		err := r.orders.UpdateStatuses(ctx, order.OrderID, order.PaymentStatus, target, mirror, "")
		if err != nil && !errors.Is(err, orders.ErrStatusMismatch) {
			r.captureDisputeFailure(ctx, order, "apply dispute outcome", err)
			return nil
		}
	}

	if ev.Status == disputes.StatusNeedsResponse || ev.Status == disputes.StatusUnderReview {
		entity := alerts.EntityRef{Kind: alerts.EntityDispute, ID: ev.ObjectID}
		if order != nil {
			entity = alerts.EntityRef{Kind: alerts.EntityOrder, ID: order.OrderID}
		}
		r.alert(ctx, alerts.Config{
			Type:     AlertDisputeNeedsResponse,
			Severity: alerts.SeverityCritical,
			Message:  fmt.Sprintf("dispute %s requires attention: %s", ev.ObjectID, ev.Status),
			Entity:   entity,
		})
	}
	return nil
}

// ProcessDisputeClosed settles a dispute: won restores PAID/RESOLVED, lost
// lands on REFUNDED/CANCELLED. An INFO alert records the outcome.
func (r *Reconciler) ProcessDisputeClosed(ctx context.Context, ev Event) error {
	d, err := r.disputes.Get(ctx, ev.ObjectID)
	if err != nil {
		return err
	}
	if d == nil {
		r.log.WithField("dispute", ev.ObjectID).Warn("close event for unknown dispute")
		return nil
	}
	if d.Status == ev.Status {
		return nil // re-delivery
	}

	var target orders.PaymentStatus
	var mirror orders.Status
	switch ev.Status {
	case disputes.StatusWon:
		target, mirror = orders.PaymentPaid, orders.StatusResolved
	case disputes.StatusLost:
		target, mirror = orders.PaymentRefunded, orders.StatusCancelled
	default:
		r.log.WithField("status", ev.Status).Warn("dispute closed with unmapped status")
		return nil
	}

	order, err := r.resolveOrderForDispute(ctx, ev, d)
	if err != nil {
		return err
	}
	if order != nil && order.PaymentStatus != target &&
		order.PaymentStatus.CanTransitionTo(target) {
		err := r.orders.UpdateStatuses(ctx, order.OrderID, order.PaymentStatus, target, mirror, "")
		if err != nil && !errors.Is(err, orders.ErrStatusMismatch) {
			r.captureDisputeFailure(ctx, order, "settle dispute", err)
			return nil
		}
	}

	if err := r.disputes.UpdateStatus(ctx, ev.ObjectID, d.Status, ev.Status); err != nil &&
		!errors.Is(err, disputes.ErrStatusMismatch) {
		r.captureDisputeFailure(ctx, order, "close dispute", err)
		return nil
	}

	entity := alerts.EntityRef{Kind: alerts.EntityDispute, ID: ev.ObjectID}
	if order != nil {
		entity = alerts.EntityRef{Kind: alerts.EntityOrder, ID: order.OrderID}
	}
	r.alert(ctx, alerts.Config{
		Type:     AlertDisputeClosed,
		Severity: alerts.SeverityInfo,
		Message:  fmt.Sprintf("dispute %s closed: %s", ev.ObjectID, ev.Status),
		Entity:   entity,
	})
	return nil
}

func (r *Reconciler) resolveOrderForDispute(ctx context.Context, ev Event, d *disputes.Dispute) (*orders.Order, error) {
	if d.OrderID != "" {
		return r.orders.Get(ctx, d.OrderID)
	}
	return r.resolveOrder(ctx, ev)
}

// ProcessChargeRefunded moves a paid order to REFUNDED/CANCELLED. Orders whose
// confirmation decremented stock get it restored in the same transaction as
// the status flip; orders paid without a stock transaction flip status only.
func (r *Reconciler) ProcessChargeRefunded(ctx context.Context, ev Event) error {
	order, err := r.orders.GetByPaymentIntentID(ctx, ev.PaymentIntentID)
	if err != nil {
		return err
	}
	if order == nil && ev.Metadata.OrderID != "" {
		if order, err = r.orders.Get(ctx, ev.Metadata.OrderID); err != nil {
			return err
		}
	}
	if order == nil {
		r.alert(ctx, alerts.Config{
			Type:     AlertOrderNotFound,
			Severity: alerts.SeverityWarning,
			Message:  fmt.Sprintf("refund for unknown order (intent %s)", ev.PaymentIntentID),
			Entity:   alerts.EntityRef{Kind: alerts.EntityOrder, ID: ev.PaymentIntentID},
		})
		return nil
	}
	if order.PaymentStatus == orders.PaymentRefunded ||
		!order.PaymentStatus.CanTransitionTo(orders.PaymentRefunded) {
		return nil
	}

	// restock only what the confirmation actually decremented: an order that
	// reached PAID without the stock transaction has no impact to restore
	if !order.StockDecremented {
		err = r.orders.UpdateStatuses(ctx, order.OrderID, order.PaymentStatus,
			orders.PaymentRefunded, orders.StatusCancelled, "")
		if errors.Is(err, orders.ErrStatusMismatch) {
			return nil
		}
		if err != nil {
			r.refundFailed(ctx, order, err)
			return nil
		}
		r.count(ctx, "OrdersRefunded", nil)
		return nil
	}

	statusFlip := r.orders.StatusUpdateItem(order.OrderID, order.PaymentStatus,
		orders.PaymentRefunded, orders.StatusCancelled, "")
	if err := r.inventory.IncrementStock(ctx, order.OrderID, statusFlip); err != nil {
		r.refundFailed(ctx, order, err)
		return nil
	}
	r.count(ctx, "OrdersRefunded", nil)
	return nil
}

// refundFailed converts a failed refund write into a CRITICAL alert per the
// post-payment failure policy.
func (r *Reconciler) refundFailed(ctx context.Context, order *orders.Order, err error) {
	r.log.WithError(err).WithField("order_id", order.OrderID).Error("refund processing failed")
	r.alert(ctx, alerts.Config{
		Type:     AlertPostPaymentFailure,
		Severity: alerts.SeverityCritical,
		Message:  fmt.Sprintf("refund processing failed for order %s: %v", order.OrderID, err),
		Entity:   alerts.EntityRef{Kind: alerts.EntityOrder, ID: order.OrderID},
	})
}

// captureDisputeFailure converts a post-payment processing error into a
// CRITICAL alert per the failure policy.
func (r *Reconciler) captureDisputeFailure(ctx context.Context, order *orders.Order, op string, err error) {
	fields := logrus.Fields{"op": op}
	entity := alerts.EntityRef{}
	if order != nil {
		fields["order_id"] = order.OrderID
		entity = alerts.EntityRef{Kind: alerts.EntityOrder, ID: order.OrderID}
	}
	r.log.WithError(err).WithFields(fields).Error("dispute processing failed")
	r.alert(ctx, alerts.Config{
		Type:     AlertPostPaymentFailure,
		Severity: alerts.SeverityCritical,
		Message:  fmt.Sprintf("%s failed: %v", op, err),
		Entity:   entity,
	})
}

// sendConfirmationEmail queues the confirmation email job, fire-and-forget.
func (r *Reconciler) sendConfirmationEmail(ctx context.Context, order *orders.Order, ev Event) {
	if r.confirmations == nil || ev.Metadata.Email == "" {
		return
	}
	payload, err := json.Marshal(map[string]string{
		"type":          "order_confirmation",
		"order_id":      order.OrderID,
		"email":         ev.Metadata.Email,
		"customer_name": ev.Metadata.CustomerName,
	})
	if err != nil {
		return
	}
	if err := r.confirmations.Send(ctx, string(payload), map[string]string{
		"type":     "order_confirmation",
		"order_id": order.OrderID,
	}); err != nil {
		r.log.WithError(err).WithField("order_id", order.OrderID).Warn("confirmation email enqueue failed")
	}
}

func (r *Reconciler) alert(ctx context.Context, cfg alerts.Config) {
	if r.alerts == nil {
		return
	}
	if _, err := r.alerts.Create(ctx, cfg); err != nil {
		r.log.WithError(err).WithField("type", cfg.Type).Error("alert creation failed")
	}
}

func (r *Reconciler) count(ctx context.Context, name string, dims map[string]string) {
	if r.metrics == nil {
		return
	}
	r.metrics.Count(ctx, name, 1, dims)
}

func mirrorForDisputeOutcome(target orders.PaymentStatus) orders.Status {
	switch target {
	case orders.PaymentPaid:
		return orders.StatusResolved
	case orders.PaymentRefunded:
		return orders.StatusCancelled
	default:
		return orders.StatusOnHold
	}
}

func appendNote(existing, note string) string {
	if existing == "" {
		return note
	}
	return existing + "\n" + note
}
