package orders

import (
	"context"
	"testing"
	"time"

	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/go-webhook-reconciler/internal/dynamotest"
)

const testTable = "orders"

func newTestStore(t *testing.T) (*Store, *dynamotest.Fake) {
	t.Helper()
	fake := dynamotest.New()
	fake.CreateTable(testTable, "order_id")
	return NewStore(fake, testTable), fake
}

func TestCreateAndGet(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	order := &Order{
		OrderID:       "order-1",
		Status:        StatusPending,
		PaymentStatus: PaymentPending,
		TotalAmount:   42.5,
		Items: []OrderItem{
			{ProductID: "p1", VariantID: "v1", Quantity: 2, Price: 21.25},
		},
	}
	require.NoError(t, store.Create(ctx, order))
	assert.False(t, order.CreatedAt.IsZero())

	got, err := store.Get(ctx, "order-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, PaymentPending, got.PaymentStatus)
	assert.Equal(t, 42.5, got.TotalAmount)
	require.Len(t, got.Items, 1)
	assert.Equal(t, "v1", got.Items[0].VariantID)
}

func TestCreateRejectsDuplicateID(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, &Order{OrderID: "order-1", PaymentStatus: PaymentPending}))
	err := store.Create(ctx, &Order{OrderID: "order-1", PaymentStatus: PaymentPending})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")
}

func TestGetMissingOrderReturnsNil(t *testing.T) {
	store, _ := newTestStore(t)

	got, err := store.Get(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestCorrelationLookups(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, &Order{
		OrderID:               "order-1",
		PaymentStatus:         PaymentPending,
		StripeSessionID:       "cs_123",
		StripePaymentIntentID: "pi_123",
	}))

	bySession, err := store.GetBySessionID(ctx, "cs_123")
	require.NoError(t, err)
	require.NotNil(t, bySession)
	assert.Equal(t, "order-1", bySession.OrderID)

	byIntent, err := store.GetByPaymentIntentID(ctx, "pi_123")
	require.NoError(t, err)
	require.NotNil(t, byIntent)
	assert.Equal(t, "order-1", byIntent.OrderID)

	missing, err := store.GetBySessionID(ctx, "cs_other")
	require.NoError(t, err)
	assert.Nil(t, missing)

	// empty correlation keys never match anything
	empty, err := store.GetByPaymentIntentID(ctx, "")
	require.NoError(t, err)
	assert.Nil(t, empty)
}

func TestUpdateStatusesCAS(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, &Order{
		OrderID:       "order-1",
		Status:        StatusPending,
		PaymentStatus: PaymentPending,
	}))

	err := store.UpdateStatuses(ctx, "order-1", PaymentPending, PaymentPaid, StatusConfirmed, "")
	require.NoError(t, err)

	got, err := store.Get(ctx, "order-1")
	require.NoError(t, err)
	assert.Equal(t, PaymentPaid, got.PaymentStatus)
	assert.Equal(t, StatusConfirmed, got.Status)

	// the expected state no longer holds: CAS must refuse
	err = store.UpdateStatuses(ctx, "order-1", PaymentPending, PaymentFailed, StatusCancelled, "")
	assert.ErrorIs(t, err, ErrStatusMismatch)

	got, err = store.Get(ctx, "order-1")
	require.NoError(t, err)
	assert.Equal(t, PaymentPaid, got.PaymentStatus)
}

func TestUpdateStatusesWritesNote(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, &Order{
		OrderID:       "order-1",
		PaymentStatus: PaymentPending,
	}))

	err := store.UpdateStatuses(ctx, "order-1", PaymentPending, PaymentFailed, StatusCancelled, "card declined")
	require.NoError(t, err)

	got, err := store.Get(ctx, "order-1")
	require.NoError(t, err)
	assert.Equal(t, "card declined", got.Notes)
}

func TestStatusUpdateItemMatchesDirectUpdate(t *testing.T) {
	store, _ := newTestStore(t)

	item := store.StatusUpdateItem("order-1", PaymentPending, PaymentPaid, StatusConfirmed, "")
	require.NotNil(t, item.Update)
	assert.Equal(t, testTable, *item.Update.TableName)
	assert.Equal(t, "payment_status = :expected", *item.Update.ConditionExpression)
	assert.Contains(t, *item.Update.UpdateExpression, "payment_status = :new")
}

func TestConfirmItemSetsStockMarker(t *testing.T) {
	store, fake := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, &Order{
		OrderID:       "order-1",
		Status:        StatusPending,
		PaymentStatus: PaymentPending,
	}))

	item := store.ConfirmItem("order-1", PaymentPending)
	require.NotNil(t, item.Update)
	assert.Contains(t, *item.Update.UpdateExpression, "stock_decremented = :sd")

	_, err := fake.TransactWriteItems(ctx, &dyn.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{item},
	})
	require.NoError(t, err)

	got, err := store.Get(ctx, "order-1")
	require.NoError(t, err)
	assert.Equal(t, PaymentPaid, got.PaymentStatus)
	assert.Equal(t, StatusConfirmed, got.Status)
	assert.True(t, got.StockDecremented)
}

func TestPaymentTransitions(t *testing.T) {
	cases := []struct {
		from, to PaymentStatus
		legal    bool
	}{
		{PaymentPending, PaymentPaid, true},
		{PaymentPending, PaymentProcessing, true},
		{PaymentProcessing, PaymentPaid, true},
		{PaymentRequiresAction, PaymentProcessing, true},
		{PaymentPaid, PaymentDisputed, true},
		{PaymentPaid, PaymentRefunded, true},
		{PaymentDisputed, PaymentPaid, true},
		{PaymentDisputed, PaymentRefunded, true},
		{PaymentPaid, PaymentFailed, false},
		{PaymentPaid, PaymentPending, false},
		{PaymentRefunded, PaymentPaid, false},
		{PaymentFailed, PaymentPaid, false},
		{PaymentExpired, PaymentPaid, false},
		{PaymentCancelled, PaymentPaid, false},
		// self-transitions are duplicates, never legal edges
		{PaymentPaid, PaymentPaid, false},
		{PaymentPending, PaymentPending, false},
	}
	for _, tc := range cases {
		assert.Equalf(t, tc.legal, tc.from.CanTransitionTo(tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestTerminalStatuses(t *testing.T) {
	for _, s := range []PaymentStatus{PaymentRefunded, PaymentFailed, PaymentExpired, PaymentCancelled} {
		assert.Truef(t, s.Terminal(), "%s should be terminal", s)
	}
	for _, s := range []PaymentStatus{PaymentPending, PaymentProcessing, PaymentPaid, PaymentDisputed} {
		assert.Falsef(t, s.Terminal(), "%s should not be terminal", s)
	}
}

func TestCreatePreservesCreatedAt(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	order := &Order{OrderID: "order-1", PaymentStatus: PaymentPending, CreatedAt: created}
	require.NoError(t, store.Create(ctx, order))

	got, err := store.Get(ctx, "order-1")
	require.NoError(t, err)
	assert.True(t, got.CreatedAt.Equal(created))
}
