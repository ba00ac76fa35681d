// Package dynamotest provides an in-memory DynamoDB fake for package tests.
// It interprets the condition, update and filter expressions the stores
// actually use: attribute_(not_)exists, =, <>, <=, >=, IN lists, SET with
// +/- arithmetic, and ADD counters. It is intentionally not a general
// DynamoDB implementation.
package dynamotest

import (
	"context"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

type table struct {
	pk    string
	items map[string]map[string]types.AttributeValue
}

// Fake is a thread-safe in-memory stand-in for the DynamoDB client.
type Fake struct {
	mu     sync.Mutex
	tables map[string]*table
}

// New returns an empty Fake.
func New() *Fake {
	return &Fake{tables: map[string]*table{}}
}

// CreateTable registers a table with its partition key attribute.
func (f *Fake) CreateTable(name, pkAttr string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tables[name] = &table{pk: pkAttr, items: map[string]map[string]types.AttributeValue{}}
}

// Seed marshals v and stores it, bypassing all conditions.
func (f *Fake) Seed(tableName string, v interface{}) error {
	item, err := attributevalue.MarshalMap(v)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	t, err := f.table(tableName)
	if err != nil {
		return err
	}
	pk, err := pkValue(item, t.pk)
	if err != nil {
		return err
	}
	t.items[pk] = item
	return nil
}

// Item returns the raw stored item, or nil.
func (f *Fake) Item(tableName, key string) map[string]types.AttributeValue {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, err := f.table(tableName)
	if err != nil {
		return nil
	}
	return t.items[key]
}

// Len returns the number of items in a table.
func (f *Fake) Len(tableName string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, err := f.table(tableName)
	if err != nil {
		return 0
	}
	return len(t.items)
}

func (f *Fake) table(name string) (*table, error) {
	t, ok := f.tables[name]
	if !ok {
		return nil, fmt.Errorf("dynamotest: unknown table %q", name)
	}
	return t, nil
}

func pkValue(item map[string]types.AttributeValue, pk string) (string, error) {
	av, ok := item[pk]
	if !ok {
		return "", fmt.Errorf("dynamotest: item missing partition key %q", pk)
	}
	s, ok := av.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("dynamotest: partition key %q is not a string", pk)
	}
	return s.Value, nil
}

// PutItem implements the DynamoDB PutItem call with condition support.
func (f *Fake) PutItem(_ context.Context, params *dyn.PutItemInput, _ ...func(*dyn.Options)) (*dyn.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, err := f.table(*params.TableName)
	if err != nil {
		return nil, err
	}
	pk, err := pkValue(params.Item, t.pk)
	if err != nil {
		return nil, err
	}
	if params.ConditionExpression != nil {
		if !evalCondition(*params.ConditionExpression, t.items[pk], params.ExpressionAttributeNames, params.ExpressionAttributeValues) {
			return nil, &types.ConditionalCheckFailedException{}
		}
	}
	t.items[pk] = copyItem(params.Item)
	return &dyn.PutItemOutput{}, nil
}

// GetItem implements the DynamoDB GetItem call.
func (f *Fake) GetItem(_ context.Context, params *dyn.GetItemInput, _ ...func(*dyn.Options)) (*dyn.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, err := f.table(*params.TableName)
	if err != nil {
		return nil, err
	}
	pk, err := pkValue(params.Key, t.pk)
	if err != nil {
		return nil, err
	}
	item, ok := t.items[pk]
	if !ok {
		return &dyn.GetItemOutput{}, nil
	}
	return &dyn.GetItemOutput{Item: copyItem(item)}, nil
}

// UpdateItem implements the DynamoDB UpdateItem call with condition and
// SET/ADD expression support. Missing items are created from the key
// (DynamoDB upsert semantics).
func (f *Fake) UpdateItem(_ context.Context, params *dyn.UpdateItemInput, _ ...func(*dyn.Options)) (*dyn.UpdateItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, err := f.table(*params.TableName)
	if err != nil {
		return nil, err
	}
	pk, err := pkValue(params.Key, t.pk)
	if err != nil {
		return nil, err
	}
	item := t.items[pk]
	if params.ConditionExpression != nil {
		if !evalCondition(*params.ConditionExpression, item, params.ExpressionAttributeNames, params.ExpressionAttributeValues) {
			return nil, &types.ConditionalCheckFailedException{}
		}
	}
	if item == nil {
		item = copyItem(params.Key)
	}
	if params.UpdateExpression != nil {
		if err := applyUpdate(*params.UpdateExpression, item, params.ExpressionAttributeNames, params.ExpressionAttributeValues); err != nil {
			return nil, err
		}
	}
	t.items[pk] = item
	return &dyn.UpdateItemOutput{Attributes: copyItem(item)}, nil
}

// Query implements a single-attribute equality query, ignoring index names
// (the fake treats every attribute as queryable).
func (f *Fake) Query(_ context.Context, params *dyn.QueryInput, _ ...func(*dyn.Options)) (*dyn.QueryOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, err := f.table(*params.TableName)
	if err != nil {
		return nil, err
	}
	if params.KeyConditionExpression == nil {
		return nil, fmt.Errorf("dynamotest: query without key condition")
	}
	out := &dyn.QueryOutput{}
	for _, item := range t.items {
		if evalCondition(*params.KeyConditionExpression, item, params.ExpressionAttributeNames, params.ExpressionAttributeValues) {
			out.Items = append(out.Items, copyItem(item))
			if params.Limit != nil && int32(len(out.Items)) >= *params.Limit {
				break
			}
		}
	}
	return out, nil
}

// Scan implements a full scan with optional filter expression.
func (f *Fake) Scan(_ context.Context, params *dyn.ScanInput, _ ...func(*dyn.Options)) (*dyn.ScanOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, err := f.table(*params.TableName)
	if err != nil {
		return nil, err
	}
	out := &dyn.ScanOutput{}
	for _, item := range t.items {
		if params.FilterExpression == nil ||
			evalCondition(*params.FilterExpression, item, params.ExpressionAttributeNames, params.ExpressionAttributeValues) {
			out.Items = append(out.Items, copyItem(item))
		}
	}
	return out, nil
}

// TransactWriteItems implements the two-phase transact: all conditions are
// checked first, and any failure cancels the whole batch with per-item
// cancellation reasons, as the real service does.
func (f *Fake) TransactWriteItems(_ context.Context, params *dyn.TransactWriteItemsInput, _ ...func(*dyn.Options)) (*dyn.TransactWriteItemsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	reasons := make([]types.CancellationReason, len(params.TransactItems))
	failed := false
	for i, ti := range params.TransactItems {
		code := "None"
		switch {
		case ti.Put != nil:
			t, err := f.table(*ti.Put.TableName)
			if err != nil {
				return nil, err
			}
			pk, err := pkValue(ti.Put.Item, t.pk)
			if err != nil {
				return nil, err
			}
			if ti.Put.ConditionExpression != nil &&
				!evalCondition(*ti.Put.ConditionExpression, t.items[pk], ti.Put.ExpressionAttributeNames, ti.Put.ExpressionAttributeValues) {
				code = "ConditionalCheckFailed"
				failed = true
			}
		case ti.Update != nil:
			t, err := f.table(*ti.Update.TableName)
			if err != nil {
				return nil, err
			}
			pk, err := pkValue(ti.Update.Key, t.pk)
			if err != nil {
				return nil, err
			}
			if ti.Update.ConditionExpression != nil &&
				!evalCondition(*ti.Update.ConditionExpression, t.items[pk], ti.Update.ExpressionAttributeNames, ti.Update.ExpressionAttributeValues) {
				code = "ConditionalCheckFailed"
				failed = true
			}
		default:
			return nil, fmt.Errorf("dynamotest: unsupported transact item %d", i)
		}
		c := code
		reasons[i].Code = &c
	}
	if failed {
		return nil, &types.TransactionCanceledException{CancellationReasons: reasons}
	}

	for _, ti := range params.TransactItems {
		switch {
		case ti.Put != nil:
			t, _ := f.table(*ti.Put.TableName)
			pk, _ := pkValue(ti.Put.Item, t.pk)
			t.items[pk] = copyItem(ti.Put.Item)
		case ti.Update != nil:
			t, _ := f.table(*ti.Update.TableName)
			pk, _ := pkValue(ti.Update.Key, t.pk)
			item := t.items[pk]
			if item == nil {
				item = copyItem(ti.Update.Key)
			}
			if ti.Update.UpdateExpression != nil {
				if err := applyUpdate(*ti.Update.UpdateExpression, item, ti.Update.ExpressionAttributeNames, ti.Update.ExpressionAttributeValues); err != nil {
					return nil, err
				}
			}
			t.items[pk] = item
		}
	}
	return &dyn.TransactWriteItemsOutput{}, nil
}

func copyItem(item map[string]types.AttributeValue) map[string]types.AttributeValue {
	out := make(map[string]types.AttributeValue, len(item))
	for k, v := range item {
		out[k] = v
	}
	return out
}
