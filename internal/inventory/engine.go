// Package inventory enforces stock non-negativity under concurrent order
// confirmations. Every mutation is a guarded conditional update committed via
// TransactWriteItems, so a failed guard can never half-apply.
package inventory

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/imrishuroy/go-webhook-reconciler/internal/aws"
	"github.com/imrishuroy/go-webhook-reconciler/internal/errs"
	"github.com/imrishuroy/go-webhook-reconciler/internal/orders"
)

// Variant is the item stored in the variants DynamoDB table.
type Variant struct {
	VariantID string    `dynamodbav:"variant_id"` // PK
	ProductID string    `dynamodbav:"product_id,omitempty"`
	Stock     int       `dynamodbav:"stock"`
	UpdatedAt time.Time `dynamodbav:"updated_at"`
}

// Engine performs stock decrement/increment/check operations.
type Engine struct {
	client        aws.DynamoDBAPI
	variantsTable string
	orders        *orders.Store
	nowFunc       func() time.Time
}

// NewEngine returns an Engine over the variants table. The orders store is
// used to read items fresh when reversing a confirmed order's stock impact.
func NewEngine(client aws.DynamoDBAPI, variantsTable string, ordersStore *orders.Store) *Engine {
	return &Engine{
		client:        client,
		variantsTable: variantsTable,
		orders:        ordersStore,
		nowFunc:       time.Now,
	}
}

// GetVariant fetches a variant by id. Returns (nil, nil) if not found.
func (e *Engine) GetVariant(ctx context.Context, variantID string) (*Variant, error) {
	out, err := e.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &e.variantsTable,
		Key: map[string]types.AttributeValue{
			"variant_id": &types.AttributeValueMemberS{Value: variantID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("get variant: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var v Variant
	if err := attributevalue.UnmarshalMap(out.Item, &v); err != nil {
		return nil, fmt.Errorf("unmarshal variant: %w", err)
	}
	return &v, nil
}

// CheckVariantStock verifies a single variant can satisfy quantity.
func (e *Engine) CheckVariantStock(ctx context.Context, variantID string, quantity int) error {
	v, err := e.GetVariant(ctx, variantID)
	if err != nil {
		return err
	}
	if v == nil {
		return &errs.NotFoundError{Entity: "variant", ID: variantID}
	}
	if v.Stock < quantity {
		return &errs.InsufficientStockError{VariantID: variantID, Requested: quantity, Available: v.Stock}
	}
	return nil
}

// HasSufficientStock is the read-only pre-flight gate before confirmation:
// true when no order item requests more than its variant currently holds.
func (e *Engine) HasSufficientStock(ctx context.Context, orderID string) (bool, error) {
	order, err := e.orders.Get(ctx, orderID)
	if err != nil {
		return false, err
	}
	if order == nil {
		return false, &errs.NotFoundError{Entity: "order", ID: orderID}
	}
	for _, item := range order.Items {
		if item.VariantID == "" {
			continue
		}
		v, err := e.GetVariant(ctx, item.VariantID)
		if err != nil {
			return false, err
		}
		if v == nil {
			return false, &errs.NotFoundError{Entity: "variant", ID: item.VariantID}
		}
		if v.Stock < item.Quantity {
			return false, nil
		}
	}
	return true, nil
}

// DecrementItems builds one guarded decrement per order item with a resolved
// variant. The "stock >= :q" condition is the contract: a failed guard is
// insufficient stock, never a silent success.
func (e *Engine) DecrementItems(order *orders.Order) []types.TransactWriteItem {
	items := make([]types.TransactWriteItem, 0, len(order.Items))
	now := e.nowFunc()
	for _, item := range order.Items {
		if item.VariantID == "" || item.Quantity <= 0 {
			continue
		}
		items = append(items, types.TransactWriteItem{
			Update: &types.Update{
				TableName: &e.variantsTable,
				Key: map[string]types.AttributeValue{
					"variant_id": &types.AttributeValueMemberS{Value: item.VariantID},
				},
				UpdateExpression:    awsString("SET stock = stock - :q, updated_at = :ua"),
				ConditionExpression: awsString("stock >= :q"),
				ExpressionAttributeValues: map[string]types.AttributeValue{
					":q":  &types.AttributeValueMemberN{Value: strconv.Itoa(item.Quantity)},
					":ua": &types.AttributeValueMemberS{Value: now.Format(time.RFC3339)},
				},
			},
		})
	}
	return items
}

// DecrementStock atomically decrements stock for every order item, together
// with any caller-supplied transact entries (typically the order's payment
// status flip), all-or-nothing. A failed stock guard rolls the whole
// transaction back and surfaces as InsufficientStockError.
func (e *Engine) DecrementStock(ctx context.Context, order *orders.Order, extra ...types.TransactWriteItem) error {
	decs := e.DecrementItems(order)
	if len(decs) == 0 && len(extra) == 0 {
		return nil
	}
	transact := append(decs, extra...)
	_, err := e.client.TransactWriteItems(ctx, &dyn.TransactWriteItemsInput{
		TransactItems: transact,
	})
	if err != nil {
		return e.mapCancellation(ctx, err, order, len(decs))
	}
	return nil
}

// IncrementStock reverses a confirmed order's stock impact. Order items are
// read fresh inside the call to avoid stale data, and caller-supplied entries
// commit in the same transaction.
func (e *Engine) IncrementStock(ctx context.Context, orderID string, extra ...types.TransactWriteItem) error {
	order, err := e.orders.Get(ctx, orderID)
	if err != nil {
		return err
	}
	if order == nil {
		return &errs.NotFoundError{Entity: "order", ID: orderID}
	}

	now := e.nowFunc()
	transact := make([]types.TransactWriteItem, 0, len(order.Items)+len(extra))
	for _, item := range order.Items {
		if item.VariantID == "" || item.Quantity <= 0 {
			continue
		}
		transact = append(transact, types.TransactWriteItem{
			Update: &types.Update{
				TableName: &e.variantsTable,
				Key: map[string]types.AttributeValue{
					"variant_id": &types.AttributeValueMemberS{Value: item.VariantID},
				},
				UpdateExpression:    awsString("SET stock = stock + :q, updated_at = :ua"),
				ConditionExpression: awsString("attribute_exists(variant_id)"),
				ExpressionAttributeValues: map[string]types.AttributeValue{
					":q":  &types.AttributeValueMemberN{Value: strconv.Itoa(item.Quantity)},
					":ua": &types.AttributeValueMemberS{Value: now.Format(time.RFC3339)},
				},
			},
		})
	}
	transact = append(transact, extra...)
	if len(transact) == 0 {
		return nil
	}

	_, err = e.client.TransactWriteItems(ctx, &dyn.TransactWriteItemsInput{
		TransactItems: transact,
	})
	if err != nil {
		return fmt.Errorf("increment stock transact: %w", err)
	}
	return nil
}

// mapCancellation translates a TransactionCanceledException back to the order
// item whose guard failed. The decrement entries occupy the first decCount
// transact slots, so cancellation-reason indexes map directly to items.
func (e *Engine) mapCancellation(ctx context.Context, err error, order *orders.Order, decCount int) error {
	var tce *types.TransactionCanceledException
	if !errors.As(err, &tce) {
		return fmt.Errorf("decrement stock transact: %w", err)
	}

	resolved := make([]orders.OrderItem, 0, decCount)
	for _, item := range order.Items {
		if item.VariantID != "" && item.Quantity > 0 {
			resolved = append(resolved, item)
		}
	}
	for i, reason := range tce.CancellationReasons {
		if reason.Code == nil || *reason.Code != "ConditionalCheckFailed" {
			continue
		}
		if i >= len(resolved) {
			break
		}
		item := resolved[i]
		available := -1
		if v, verr := e.GetVariant(ctx, item.VariantID); verr == nil && v != nil {
			available = v.Stock
		}
		return &errs.InsufficientStockError{
			VariantID: item.VariantID,
			Requested: item.Quantity,
			Available: available,
		}
	}
	return fmt.Errorf("decrement stock transact canceled: %w", err)
}

func awsString(s string) *string { return &s }
