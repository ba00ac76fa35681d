package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/imrishuroy/go-webhook-reconciler/internal/aws"
)

// GSI names for the external correlation keys.
const (
	SessionIndex       = "session_id-index"
	PaymentIntentIndex = "payment_intent-index"
)

// ErrStatusMismatch indicates a conditional status update failed because the
// persisted payment status no longer matched the expected value.
var ErrStatusMismatch = errors.New("status mismatch/conditional failed")

// Store encapsulates operations on the orders table.
type Store struct {
	client    aws.DynamoDBAPI
	tableName string
	nowFunc   func() time.Time
}

// NewStore creates a new orders Store.
func NewStore(client aws.DynamoDBAPI, tableName string) *Store {
	return &Store{
		client:    client,
		tableName: tableName,
		nowFunc:   time.Now,
	}
}

// Create persists a new order, guarded so an existing order_id is never
// overwritten. Used by the state machine for emergency order synthesis.
func (s *Store) Create(ctx context.Context, order *Order) error {
	now := s.nowFunc()
	if order.CreatedAt.IsZero() {
		order.CreatedAt = now
	}
	order.UpdatedAt = now

	item, err := attributevalue.MarshalMap(order)
	if err != nil {
		return fmt.Errorf("marshal order: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dyn.PutItemInput{
		TableName:           &s.tableName,
		Item:                item,
		ConditionExpression: awsString("attribute_not_exists(order_id)"),
	})
	if err != nil {
		var cc *types.ConditionalCheckFailedException
		if errors.As(err, &cc) {
			return fmt.Errorf("order %s already exists: %w", order.OrderID, err)
		}
		return fmt.Errorf("put order: %w", err)
	}
	return nil
}

// Get fetches an order by order_id. Returns (nil, nil) if not found.
func (s *Store) Get(ctx context.Context, orderID string) (*Order, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"order_id": &types.AttributeValueMemberS{Value: orderID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var o Order
	if err := attributevalue.UnmarshalMap(out.Item, &o); err != nil {
		return nil, fmt.Errorf("unmarshal order: %w", err)
	}
	return &o, nil
}

// GetBySessionID resolves an order by its checkout session correlation key.
// Returns (nil, nil) if no order carries the session id.
func (s *Store) GetBySessionID(ctx context.Context, sessionID string) (*Order, error) {
	return s.queryIndex(ctx, SessionIndex, "session_id", sessionID)
}

// GetByPaymentIntentID resolves an order by its payment-intent correlation key.
// Returns (nil, nil) if no order carries the payment intent id.
func (s *Store) GetByPaymentIntentID(ctx context.Context, paymentIntentID string) (*Order, error) {
	return s.queryIndex(ctx, PaymentIntentIndex, "payment_intent_id", paymentIntentID)
}

func (s *Store) queryIndex(ctx context.Context, index, attr, value string) (*Order, error) {
	if value == "" {
		return nil, nil
	}
	out, err := s.client.Query(ctx, &dyn.QueryInput{
		TableName:              &s.tableName,
		IndexName:              &index,
		KeyConditionExpression: awsString("#k = :v"),
		ExpressionAttributeNames: map[string]string{
			"#k": attr,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":v": &types.AttributeValueMemberS{Value: value},
		},
		Limit: awsInt32(1),
	})
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", index, err)
	}
	if len(out.Items) == 0 {
		return nil, nil
	}
	var o Order
	if err := attributevalue.UnmarshalMap(out.Items[0], &o); err != nil {
		return nil, fmt.Errorf("unmarshal order: %w", err)
	}
	return &o, nil
}

// UpdateStatuses conditionally moves payment_status from expected to newPayment
// and mirrors the coarse status, in one CAS write. note, when non-empty,
// replaces the order notes (callers append to the freshly read value).
// Returns ErrStatusMismatch if the persisted payment status changed underneath.
func (s *Store) UpdateStatuses(ctx context.Context, orderID string, expected, newPayment PaymentStatus, newStatus Status, note string) error {
	input := s.statusUpdateInput(orderID, expected, newPayment, newStatus, note)
	_, err := s.client.UpdateItem(ctx, input)
	if err != nil {
		var cc *types.ConditionalCheckFailedException
		if errors.As(err, &cc) {
			return ErrStatusMismatch
		}
		return fmt.Errorf("update order statuses: %w", err)
	}
	return nil
}

// StatusUpdateItem returns the CAS status write as a transact entry so callers
// can commit it atomically with other writes (stock decrements).
func (s *Store) StatusUpdateItem(orderID string, expected, newPayment PaymentStatus, newStatus Status, note string) types.TransactWriteItem {
	return transactUpdate(s.statusUpdateInput(orderID, expected, newPayment, newStatus, note))
}

// ConfirmItem returns the CAS flip to PAID/CONFIRMED with the stock-impact
// marker set, so the marker lands in the same transaction as the decrements
// it records.
func (s *Store) ConfirmItem(orderID string, expected PaymentStatus) types.TransactWriteItem {
	in := s.statusUpdateInput(orderID, expected, PaymentPaid, StatusConfirmed, "")
	expr := *in.UpdateExpression + ", stock_decremented = :sd"
	in.UpdateExpression = &expr
	in.ExpressionAttributeValues[":sd"] = &types.AttributeValueMemberBOOL{Value: true}
	return transactUpdate(in)
}

func transactUpdate(in *dyn.UpdateItemInput) types.TransactWriteItem {
	return types.TransactWriteItem{
		Update: &types.Update{
			TableName:                 in.TableName,
			Key:                       in.Key,
			UpdateExpression:          in.UpdateExpression,
			ConditionExpression:       in.ConditionExpression,
			ExpressionAttributeNames:  in.ExpressionAttributeNames,
			ExpressionAttributeValues: in.ExpressionAttributeValues,
		},
	}
}

func (s *Store) statusUpdateInput(orderID string, expected, newPayment PaymentStatus, newStatus Status, note string) *dyn.UpdateItemInput {
	now := s.nowFunc()
	updateExpr := "SET payment_status = :new, #s = :st, updated_at = :ua"
	values := map[string]types.AttributeValue{
		":new":      &types.AttributeValueMemberS{Value: string(newPayment)},
		":st":       &types.AttributeValueMemberS{Value: string(newStatus)},
		":ua":       &types.AttributeValueMemberS{Value: now.Format(time.RFC3339)},
		":expected": &types.AttributeValueMemberS{Value: string(expected)},
	}
	if note != "" {
		updateExpr += ", notes = :n"
		values[":n"] = &types.AttributeValueMemberS{Value: note}
	}
	return &dyn.UpdateItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"order_id": &types.AttributeValueMemberS{Value: orderID},
		},
		UpdateExpression:          &updateExpr,
		ConditionExpression:       awsString("payment_status = :expected"),
		ExpressionAttributeNames:  map[string]string{"#s": "status"},
		ExpressionAttributeValues: values,
	}
}

func awsString(s string) *string { return &s }
func awsInt32(i int32) *int32    { return &i }
