package alerts

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
	"github.com/imrishuroy/go-webhook-reconciler/internal/aws"
)

// ErrNotBumpable indicates the deduplication target is already resolved, so a
// fresh alert must be created instead of bumping occurrences.
var ErrNotBumpable = errors.New("alert not bumpable (resolved)")

// ErrAlreadyResolved indicates a resolve hit an already-terminal alert.
var ErrAlreadyResolved = errors.New("alert already resolved")

// dedupRecord claims a deduplication key for its window. PK = dedup_key;
// expires_at drives DynamoDB TTL cleanup of stale claims.
type dedupRecord struct {
	DedupKey  string    `dynamodbav:"dedup_key"` // PK
	AlertID   string    `dynamodbav:"alert_id"`
	AlertType string    `dynamodbav:"alert_type"`
	CreatedAt time.Time `dynamodbav:"created_at"`
	ExpiresAt int64     `dynamodbav:"expires_at"` // TTL epoch seconds
}

// Store encapsulates alert persistence: the alerts table (PK alert_id), the
// dedup table (PK dedup_key, TTL window) and the append-only history table.
type Store struct {
	client       aws.DynamoDBAPI
	alertsTable  string
	dedupTable   string
	historyTable string
	window       time.Duration
	nowFunc      func() time.Time
}

// NewStore returns a configured Store. window is the rolling deduplication
// window (e.g. 24*time.Hour). historyTable may be empty to disable the audit
// trail.
func NewStore(client aws.DynamoDBAPI, alertsTable, dedupTable, historyTable string, window time.Duration) *Store {
	return &Store{
		client:       client,
		alertsTable:  alertsTable,
		dedupTable:   dedupTable,
		historyTable: historyTable,
		window:       window,
		nowFunc:      time.Now,
	}
}

// CreateWithDedup atomically claims the alert's dedup key and writes the alert
// row in one transaction. Returns (created=true, "", nil) on success. If the
// key is already claimed within the window, returns (false, existingAlertID,
// nil) so the caller can bump occurrences. A stale claim (outside the window,
// TTL not yet swept) is overwritten.
func (s *Store) CreateWithDedup(ctx context.Context, alert *Alert) (bool, string, error) {
	now := s.nowFunc()
	rec := dedupRecord{
		DedupKey:  alert.DedupKey,
		AlertID:   alert.AlertID,
		AlertType: alert.Type,
		CreatedAt: now,
		ExpiresAt: now.Add(s.window).Unix(),
	}
	recMap, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return false, "", fmt.Errorf("marshal dedup record: %w", err)
	}
	alertMap, err := attributevalue.MarshalMap(alert)
	if err != nil {
		return false, "", fmt.Errorf("marshal alert: %w", err)
	}

	_, err = s.client.TransactWriteItems(ctx, &dyn.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{
				Put: &types.Put{
					TableName:           &s.dedupTable,
					Item:                recMap,
					ConditionExpression: awsString("attribute_not_exists(dedup_key)"),
				},
			},
			{
				Put: &types.Put{
					TableName: &s.alertsTable,
					Item:      alertMap,
				},
			},
		},
	})
	if err == nil {
		return true, "", nil
	}

	var tce *types.TransactionCanceledException
	if !errors.As(err, &tce) {
		return false, "", fmt.Errorf("create alert transact: %w", err)
	}

	existing, gerr := s.getDedup(ctx, alert.DedupKey)
	if gerr != nil {
		return false, "", gerr
	}
	if existing == nil {
		// claim vanished between the transact and the read (TTL sweep);
		// treat as a fresh create via overwrite.
		if err := s.ReplaceDedup(ctx, alert); err != nil {
			return false, "", err
		}
		return true, "", nil
	}
	// dedup is scoped to (key, type): a stale claim or one held by a
	// different alert type does not suppress this alert.
	if now.Sub(existing.CreatedAt) > s.window || existing.AlertType != alert.Type {
		if err := s.ReplaceDedup(ctx, alert); err != nil {
			return false, "", err
		}
		return true, "", nil
	}
	return false, existing.AlertID, nil
}

// ReplaceDedup overwrites the dedup claim and writes the alert row, used when
// the previous claim is stale or its alert already resolved.
func (s *Store) ReplaceDedup(ctx context.Context, alert *Alert) error {
	now := s.nowFunc()
	rec := dedupRecord{
		DedupKey:  alert.DedupKey,
		AlertID:   alert.AlertID,
		AlertType: alert.Type,
		CreatedAt: now,
		ExpiresAt: now.Add(s.window).Unix(),
	}
	recMap, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return fmt.Errorf("marshal dedup record: %w", err)
	}
	alertMap, err := attributevalue.MarshalMap(alert)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}
	_, err = s.client.TransactWriteItems(ctx, &dyn.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{Put: &types.Put{TableName: &s.dedupTable, Item: recMap}},
			{Put: &types.Put{TableName: &s.alertsTable, Item: alertMap}},
		},
	})
	if err != nil {
		return fmt.Errorf("replace dedup transact: %w", err)
	}
	return nil
}

func (s *Store) getDedup(ctx context.Context, key string) (*dedupRecord, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &s.dedupTable,
		Key: map[string]types.AttributeValue{
			"dedup_key": &types.AttributeValueMemberS{Value: key},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("get dedup record: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var rec dedupRecord
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal dedup record: %w", err)
	}
	return &rec, nil
}

// Get fetches an alert by id. Returns (nil, nil) if not found.
func (s *Store) Get(ctx context.Context, alertID string) (*Alert, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &s.alertsTable,
		Key: map[string]types.AttributeValue{
			"alert_id": &types.AttributeValueMemberS{Value: alertID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("get alert: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var a Alert
	if err := attributevalue.UnmarshalMap(out.Item, &a); err != nil {
		return nil, fmt.Errorf("unmarshal alert: %w", err)
	}
	return &a, nil
}

// BumpOccurrence atomically increments occurrences and stamps the last
// occurrence, without touching the SLA deadline. Fails with ErrNotBumpable if
// the alert is already resolved.
func (s *Store) BumpOccurrence(ctx context.Context, alertID string) (*Alert, error) {
	now := s.nowFunc()
	out, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName: &s.alertsTable,
		Key: map[string]types.AttributeValue{
			"alert_id": &types.AttributeValueMemberS{Value: alertID},
		},
		UpdateExpression:         awsString("SET last_occurrence_at = :t, updated_at = :t ADD occurrences :one"),
		ConditionExpression:      awsString("#s IN (:active, :ack, :inv, :esc)"),
		ExpressionAttributeNames: map[string]string{"#s": "status"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":t":      &types.AttributeValueMemberS{Value: now.UTC().Format(time.RFC3339Nano)},
			":one":    &types.AttributeValueMemberN{Value: "1"},
			":active": &types.AttributeValueMemberS{Value: string(StatusActive)},
			":ack":    &types.AttributeValueMemberS{Value: string(StatusAcknowledged)},
			":inv":    &types.AttributeValueMemberS{Value: string(StatusInvestigating)},
			":esc":    &types.AttributeValueMemberS{Value: string(StatusEscalated)},
		},
		ReturnValues: types.ReturnValueAllNew,
	})
	if err != nil {
		var cc *types.ConditionalCheckFailedException
		if errors.As(err, &cc) {
			return nil, ErrNotBumpable
		}
		return nil, fmt.Errorf("bump occurrence: %w", err)
	}
	var a Alert
	if err := attributevalue.UnmarshalMap(out.Attributes, &a); err != nil {
		return nil, fmt.Errorf("unmarshal bumped alert: %w", err)
	}
	return &a, nil
}

// Resolve terminally marks the alert RESOLVED. Fails with ErrAlreadyResolved
// if it is already terminal.
func (s *Store) Resolve(ctx context.Context, alertID, notes string) (*Alert, error) {
	now := s.nowFunc()
	updateExpr := "SET #s = :resolved, resolved = :true, resolved_at = :t, updated_at = :t"
	values := map[string]types.AttributeValue{
		":resolved": &types.AttributeValueMemberS{Value: string(StatusResolved)},
		":true":     &types.AttributeValueMemberBOOL{Value: true},
		":t":        &types.AttributeValueMemberS{Value: now.UTC().Format(time.RFC3339Nano)},
	}
	if notes != "" {
		updateExpr += ", resolution_notes = :n"
		values[":n"] = &types.AttributeValueMemberS{Value: notes}
	}
	out, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName: &s.alertsTable,
		Key: map[string]types.AttributeValue{
			"alert_id": &types.AttributeValueMemberS{Value: alertID},
		},
		UpdateExpression:          &updateExpr,
		ConditionExpression:       awsString("#s <> :resolved"),
		ExpressionAttributeNames:  map[string]string{"#s": "status"},
		ExpressionAttributeValues: values,
		ReturnValues:              types.ReturnValueAllNew,
	})
	if err != nil {
		var cc *types.ConditionalCheckFailedException
		if errors.As(err, &cc) {
			return nil, ErrAlreadyResolved
		}
		return nil, fmt.Errorf("resolve alert: %w", err)
	}
	var a Alert
	if err := attributevalue.UnmarshalMap(out.Attributes, &a); err != nil {
		return nil, fmt.Errorf("unmarshal resolved alert: %w", err)
	}
	return &a, nil
}

// Escalate conditionally transitions one overdue alert to ESCALATED. The
// condition re-checks status and deadline so a concurrent resolve wins the
// race and the escalation is skipped. Returns escalated=false when the
// condition failed.
func (s *Store) Escalate(ctx context.Context, alertID, reason string, now time.Time) (bool, error) {
	_, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName: &s.alertsTable,
		Key: map[string]types.AttributeValue{
			"alert_id": &types.AttributeValueMemberS{Value: alertID},
		},
		UpdateExpression:         awsString("SET #s = :esc, escalation_reason = :r, updated_at = :t"),
		ConditionExpression:      awsString("#s IN (:active, :ack, :inv) AND sla_deadline <= :now"),
		ExpressionAttributeNames: map[string]string{"#s": "status"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":esc":    &types.AttributeValueMemberS{Value: string(StatusEscalated)},
			":r":      &types.AttributeValueMemberS{Value: reason},
			":t":      &types.AttributeValueMemberS{Value: now.UTC().Format(time.RFC3339Nano)},
			":active": &types.AttributeValueMemberS{Value: string(StatusActive)},
			":ack":    &types.AttributeValueMemberS{Value: string(StatusAcknowledged)},
			":inv":    &types.AttributeValueMemberS{Value: string(StatusInvestigating)},
			":now":    &types.AttributeValueMemberN{Value: strconv.FormatInt(now.Unix(), 10)},
		},
	})
	if err != nil {
		var cc *types.ConditionalCheckFailedException
		if errors.As(err, &cc) {
			return false, nil
		}
		return false, fmt.Errorf("escalate alert: %w", err)
	}
	return true, nil
}

// ScanDue returns non-terminal alerts whose SLA deadline has passed.
func (s *Store) ScanDue(ctx context.Context, now time.Time) ([]Alert, error) {
	return s.scanAlerts(ctx,
		"#s IN (:active, :ack, :inv) AND sla_deadline <= :now",
		map[string]types.AttributeValue{
			":active": &types.AttributeValueMemberS{Value: string(StatusActive)},
			":ack":    &types.AttributeValueMemberS{Value: string(StatusAcknowledged)},
			":inv":    &types.AttributeValueMemberS{Value: string(StatusInvestigating)},
			":now":    &types.AttributeValueMemberN{Value: strconv.FormatInt(now.Unix(), 10)},
		})
}

// ListActive returns alerts in the active statuses (ACTIVE, ACKNOWLEDGED,
// INVESTIGATING), unsorted; the engine orders them.
func (s *Store) ListActive(ctx context.Context) ([]Alert, error) {
	return s.scanAlerts(ctx,
		"#s IN (:active, :ack, :inv)",
		map[string]types.AttributeValue{
			":active": &types.AttributeValueMemberS{Value: string(StatusActive)},
			":ack":    &types.AttributeValueMemberS{Value: string(StatusAcknowledged)},
			":inv":    &types.AttributeValueMemberS{Value: string(StatusInvestigating)},
		})
}

func (s *Store) scanAlerts(ctx context.Context, filter string, values map[string]types.AttributeValue) ([]Alert, error) {
	out, err := s.client.Scan(ctx, &dyn.ScanInput{
		TableName:                 &s.alertsTable,
		FilterExpression:          &filter,
		ExpressionAttributeNames:  map[string]string{"#s": "status"},
		ExpressionAttributeValues: values,
	})
	if err != nil {
		return nil, fmt.Errorf("scan alerts: %w", err)
	}
	alerts := make([]Alert, 0, len(out.Items))
	for _, item := range out.Items {
		var a Alert
		if err := attributevalue.UnmarshalMap(item, &a); err != nil {
			return nil, fmt.Errorf("unmarshal alert: %w", err)
		}
		alerts = append(alerts, a)
	}
	return alerts, nil
}

// AppendHistory writes one audit row. Best-effort: disabled when no history
// table is configured.
func (s *Store) AppendHistory(ctx context.Context, alertID, action, actor string, meta map[string]string) error {
	if s.historyTable == "" {
		return nil
	}
	entry := HistoryEntry{
		HistoryID: uuid.NewString(),
		AlertID:   alertID,
		Action:    action,
		Actor:     actor,
		Meta:      meta,
		Timestamp: s.nowFunc(),
	}
	item, err := attributevalue.MarshalMap(entry)
	if err != nil {
		return fmt.Errorf("marshal history entry: %w", err)
	}
	_, err = s.client.PutItem(ctx, &dyn.PutItemInput{
		TableName: &s.historyTable,
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("put history entry: %w", err)
	}
	return nil
}

func awsString(s string) *string { return &s }
