package disputes

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/go-webhook-reconciler/internal/dynamotest"
)

const testTable = "disputes"

func newTestStore(t *testing.T) *Store {
	t.Helper()
	fake := dynamotest.New()
	fake.CreateTable(testTable, "stripe_id")
	return NewStore(fake, testTable)
}

func TestCreateIfNotExists(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	created, err := store.CreateIfNotExists(ctx, Dispute{
		StripeID: "dp_1",
		OrderID:  "order-1",
		Status:   StatusNeedsResponse,
		Reason:   "fraudulent",
	})
	require.NoError(t, err)
	assert.True(t, created)

	// re-delivered event: row exists, nothing overwritten
	created, err = store.CreateIfNotExists(ctx, Dispute{
		StripeID: "dp_1",
		Status:   StatusUnderReview,
	})
	require.NoError(t, err)
	assert.False(t, created)

	got, err := store.Get(ctx, "dp_1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, StatusNeedsResponse, got.Status)
	assert.Equal(t, "order-1", got.OrderID)
}

func TestGetMissingDispute(t *testing.T) {
	store := newTestStore(t)

	got, err := store.Get(context.Background(), "dp_none")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestUpdateStatusCAS(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.CreateIfNotExists(ctx, Dispute{StripeID: "dp_1", Status: StatusNeedsResponse})
	require.NoError(t, err)

	require.NoError(t, store.UpdateStatus(ctx, "dp_1", StatusNeedsResponse, StatusUnderReview))

	got, err := store.Get(ctx, "dp_1")
	require.NoError(t, err)
	assert.Equal(t, StatusUnderReview, got.Status)

	// stale expectation loses
	err = store.UpdateStatus(ctx, "dp_1", StatusNeedsResponse, StatusWon)
	assert.ErrorIs(t, err, ErrStatusMismatch)

	got, err = store.Get(ctx, "dp_1")
	require.NoError(t, err)
	assert.Equal(t, StatusUnderReview, got.Status)
}
