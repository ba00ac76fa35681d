// Package disputes tracks provider dispute rows keyed by the external dispute
// id. Rows are created once on the first dispute event and mutated on every
// subsequent status change; they are never deleted.
package disputes

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

// Provider-defined dispute sub-statuses.
const (
	StatusNeedsResponse = "needs_response"
	StatusUnderReview   = "under_review"
	StatusWon           = "won"
	StatusLost          = "lost"
)

// Dispute is the item stored in the disputes DynamoDB table.
type Dispute struct {
	StripeID  string    `dynamodbav:"stripe_id"` // PK, external correlation key
	OrderID   string    `dynamodbav:"order_id,omitempty"`
	UserID    string    `dynamodbav:"user_id,omitempty"`
	Status    string    `dynamodbav:"status"`
	Reason    string    `dynamodbav:"reason,omitempty"`
	CreatedAt time.Time `dynamodbav:"created_at"`
	UpdatedAt time.Time `dynamodbav:"updated_at"`
}

// Store encapsulates operations on the disputes table.
type Store struct {
	client    aws.DynamoDBAPI
	tableName string
	nowFunc   func() time.Time
}

// NewStore returns a configured Store.
func NewStore(client aws.DynamoDBAPI, tableName string) *Store {
	return &Store{
		client:    client,
		tableName: tableName,
		nowFunc:   time.Now,
	}
}

// Get retrieves a dispute by its provider id. Returns (nil, nil) if not found.
func (s *Store) Get(ctx context.Context, stripeID string) (*Dispute, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"stripe_id": &types.AttributeValueMemberS{Value: stripeID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("get dispute: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var d Dispute
	if err := attributevalue.UnmarshalMap(out.Item, &d); err != nil {
		return nil, fmt.Errorf("unmarshal dispute: %w", err)
	}
	return &d, nil
}

// CreateIfNotExists claims the dispute row for stripe_id.
// Returns (created=true, nil) if the row was written.
// Returns (created=false, nil) if a row already exists (re-delivered event).
func (s *Store) CreateIfNotExists(ctx context.Context, d Dispute) (bool, error) {
	now := s.nowFunc()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	d.UpdatedAt = now

	item, err := attributevalue.MarshalMap(d)
	if err != nil {
		return false, fmt.Errorf("marshal dispute: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dyn.PutItemInput{
		TableName:           &s.tableName,
		Item:                item,
		ConditionExpression: awsString("attribute_not_exists(stripe_id)"),
	})
	if err != nil {
		var cc *types.ConditionalCheckFailedException
		if errors.As(err, &cc) {
			return false, nil
		}
		return false, fmt.Errorf("put dispute: %w", err)
	}
	return true, nil
}

// UpdateStatus conditionally moves the dispute status from expected to next.
// Returns ErrStatusMismatch when the persisted status no longer matches.
var ErrStatusMismatch = errors.New("dispute status mismatch/conditional failed")

func (s *Store) UpdateStatus(ctx context.Context, stripeID, expected, next string) error {
	now := s.nowFunc()
	_, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"stripe_id": &types.AttributeValueMemberS{Value: stripeID},
		},
		UpdateExpression:         awsString("SET #s = :new, updated_at = :ua"),
		ConditionExpression:      awsString("#s = :expected"),
		ExpressionAttributeNames: map[string]string{"#s": "status"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":new":      &types.AttributeValueMemberS{Value: next},
			":expected": &types.AttributeValueMemberS{Value: expected},
			":ua":       &types.AttributeValueMemberS{Value: now.Format(time.RFC3339)},
		},
	})
	if err != nil {
		var cc *types.ConditionalCheckFailedException
		if errors.As(err, &cc) {
			return ErrStatusMismatch
		}
		return fmt.Errorf("update dispute status: %w", err)
	}
	return nil
}

func awsString(s string) *string { return &s }
