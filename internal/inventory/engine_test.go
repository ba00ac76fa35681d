package inventory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/go-webhook-reconciler/internal/dynamotest"
	"github.com/imrishuroy/go-webhook-reconciler/internal/errs"
	"github.com/imrishuroy/go-webhook-reconciler/internal/orders"
)

const (
	ordersTable   = "orders"
	variantsTable = "variants"
)

func newTestEngine(t *testing.T) (*Engine, *orders.Store, *dynamotest.Fake) {
	t.Helper()
	fake := dynamotest.New()
	fake.CreateTable(ordersTable, "order_id")
	fake.CreateTable(variantsTable, "variant_id")
	ordersStore := orders.NewStore(fake, ordersTable)
	return NewEngine(fake, variantsTable, ordersStore), ordersStore, fake
}

func seedVariant(t *testing.T, fake *dynamotest.Fake, id string, stock int) {
	t.Helper()
	require.NoError(t, fake.Seed(variantsTable, Variant{VariantID: id, Stock: stock}))
}

func TestGetVariant(t *testing.T) {
	eng, _, fake := newTestEngine(t)
	seedVariant(t, fake, "v1", 10)

	v, err := eng.GetVariant(context.Background(), "v1")
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.Equal(t, 10, v.Stock)

	missing, err := eng.GetVariant(context.Background(), "v2")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestCheckVariantStock(t *testing.T) {
	eng, _, fake := newTestEngine(t)
	seedVariant(t, fake, "v1", 3)
	ctx := context.Background()

	assert.NoError(t, eng.CheckVariantStock(ctx, "v1", 3))

	err := eng.CheckVariantStock(ctx, "v1", 4)
	require.Error(t, err)
	assert.True(t, errs.IsInsufficientStock(err))

	err = eng.CheckVariantStock(ctx, "missing", 1)
	require.Error(t, err)
	assert.True(t, errs.IsNotFound(err))
}

func TestHasSufficientStock(t *testing.T) {
	eng, ordersStore, fake := newTestEngine(t)
	ctx := context.Background()
	seedVariant(t, fake, "v1", 5)
	seedVariant(t, fake, "v2", 1)

	require.NoError(t, ordersStore.Create(ctx, &orders.Order{
		OrderID:       "order-1",
		PaymentStatus: orders.PaymentPending,
		Items: []orders.OrderItem{
			{ProductID: "p1", VariantID: "v1", Quantity: 2},
			{ProductID: "p2", VariantID: "v2", Quantity: 1},
		},
	}))

	ok, err := eng.HasSufficientStock(ctx, "order-1")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, ordersStore.Create(ctx, &orders.Order{
		OrderID:       "order-2",
		PaymentStatus: orders.PaymentPending,
		Items: []orders.OrderItem{
			{ProductID: "p2", VariantID: "v2", Quantity: 2},
		},
	}))
	ok, err = eng.HasSufficientStock(ctx, "order-2")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDecrementStockWithStatusFlip(t *testing.T) {
	eng, ordersStore, fake := newTestEngine(t)
	ctx := context.Background()
	seedVariant(t, fake, "v1", 5)
	seedVariant(t, fake, "v2", 3)

	order := &orders.Order{
		OrderID:       "order-1",
		Status:        orders.StatusPending,
		PaymentStatus: orders.PaymentPending,
		Items: []orders.OrderItem{
			{ProductID: "p1", VariantID: "v1", Quantity: 2},
			{ProductID: "p2", VariantID: "v2", Quantity: 3},
		},
	}
	require.NoError(t, ordersStore.Create(ctx, order))

	flip := ordersStore.StatusUpdateItem("order-1", orders.PaymentPending,
		orders.PaymentPaid, orders.StatusConfirmed, "")
	require.NoError(t, eng.DecrementStock(ctx, order, flip))

	v1, err := eng.GetVariant(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, 3, v1.Stock)
	v2, err := eng.GetVariant(ctx, "v2")
	require.NoError(t, err)
	assert.Equal(t, 0, v2.Stock)

	got, err := ordersStore.Get(ctx, "order-1")
	require.NoError(t, err)
	assert.Equal(t, orders.PaymentPaid, got.PaymentStatus)
	assert.Equal(t, orders.StatusConfirmed, got.Status)
}

func TestDecrementStockInsufficientRollsBackEverything(t *testing.T) {
	eng, ordersStore, fake := newTestEngine(t)
	ctx := context.Background()
	seedVariant(t, fake, "v1", 5)
	seedVariant(t, fake, "v2", 1)

	order := &orders.Order{
		OrderID:       "order-1",
		Status:        orders.StatusPending,
		PaymentStatus: orders.PaymentPending,
		Items: []orders.OrderItem{
			{ProductID: "p1", VariantID: "v1", Quantity: 2},
			{ProductID: "p2", VariantID: "v2", Quantity: 2},
		},
	}
	require.NoError(t, ordersStore.Create(ctx, order))

	flip := ordersStore.StatusUpdateItem("order-1", orders.PaymentPending,
		orders.PaymentPaid, orders.StatusConfirmed, "")
	err := eng.DecrementStock(ctx, order, flip)
	require.Error(t, err)

	var stockErr *errs.InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, "v2", stockErr.VariantID)
	assert.Equal(t, 2, stockErr.Requested)
	assert.Equal(t, 1, stockErr.Available)

	// nothing moved: neither the satisfiable decrement nor the status flip
	v1, _ := eng.GetVariant(ctx, "v1")
	assert.Equal(t, 5, v1.Stock)
	v2, _ := eng.GetVariant(ctx, "v2")
	assert.Equal(t, 1, v2.Stock)
	got, _ := ordersStore.Get(ctx, "order-1")
	assert.Equal(t, orders.PaymentPending, got.PaymentStatus)
}

func TestDecrementStockContention(t *testing.T) {
	eng, ordersStore, fake := newTestEngine(t)
	ctx := context.Background()
	seedVariant(t, fake, "v1", 2)

	mkOrder := func(id string) *orders.Order {
		o := &orders.Order{
			OrderID:       id,
			PaymentStatus: orders.PaymentPending,
			Items:         []orders.OrderItem{{ProductID: "p1", VariantID: "v1", Quantity: 2}},
		}
		require.NoError(t, ordersStore.Create(ctx, o))
		return o
	}
	first := mkOrder("order-1")
	second := mkOrder("order-2")

	require.NoError(t, eng.DecrementStock(ctx, first))

	err := eng.DecrementStock(ctx, second)
	require.Error(t, err)
	assert.True(t, errs.IsInsufficientStock(err))

	v, _ := eng.GetVariant(ctx, "v1")
	assert.Equal(t, 0, v.Stock)
}

func TestDecrementStockSkipsUnresolvedItems(t *testing.T) {
	eng, ordersStore, _ := newTestEngine(t)
	ctx := context.Background()

	// no variant ids resolved: nothing to transact, succeed as a no-op
	order := &orders.Order{
		OrderID:       "order-1",
		PaymentStatus: orders.PaymentPending,
		Items:         []orders.OrderItem{{ProductID: "p1", Quantity: 2}},
	}
	require.NoError(t, ordersStore.Create(ctx, order))
	require.NoError(t, eng.DecrementStock(ctx, order))
}

func TestIncrementStockRestoresOrderImpact(t *testing.T) {
	eng, ordersStore, fake := newTestEngine(t)
	ctx := context.Background()
	seedVariant(t, fake, "v1", 3)

	order := &orders.Order{
		OrderID:       "order-1",
		PaymentStatus: orders.PaymentPaid,
		Status:        orders.StatusConfirmed,
		Items:         []orders.OrderItem{{ProductID: "p1", VariantID: "v1", Quantity: 2}},
	}
	require.NoError(t, ordersStore.Create(ctx, order))

	flip := ordersStore.StatusUpdateItem("order-1", orders.PaymentPaid,
		orders.PaymentRefunded, orders.StatusCancelled, "")
	require.NoError(t, eng.IncrementStock(ctx, "order-1", flip))

	v, err := eng.GetVariant(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, 5, v.Stock)

	got, err := ordersStore.Get(ctx, "order-1")
	require.NoError(t, err)
	assert.Equal(t, orders.PaymentRefunded, got.PaymentStatus)
	assert.Equal(t, orders.StatusCancelled, got.Status)
}

func TestIncrementStockUnknownOrder(t *testing.T) {
	eng, _, _ := newTestEngine(t)

	err := eng.IncrementStock(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, errs.IsNotFound(err))
}
