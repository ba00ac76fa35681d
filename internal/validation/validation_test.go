package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envelope(id, typ string, obj EventObject) WebhookEnvelope {
	env := WebhookEnvelope{ID: id, Type: typ}
	env.Data.Object = obj
	return env
}

func TestWebhookEnvelope_Valid(t *testing.T) {
	v := New()

	env := envelope("evt_1", "checkout.session.completed", EventObject{
		ID:            "cs_123",
		PaymentIntent: "pi_123",
		AmountTotal:   99.99,
		Metadata:      EventMetadata{OrderID: "order-1"},
	})
	require.NoError(t, v.Struct(env))
}

func TestWebhookEnvelope_MissingRequiredFields(t *testing.T) {
	v := New()

	err := v.Struct(envelope("", "", EventObject{}))
	require.Error(t, err)

	// missing object id
	err = v.Struct(envelope("evt_1", "payment_intent.succeeded", EventObject{}))
	require.Error(t, err)
}

func TestWebhookEnvelope_ChargeEventsRequireCorrelation(t *testing.T) {
	v := New()

	// neither payment_intent nor metadata.orderId: unreconcilable
	err := v.Struct(envelope("evt_1", "charge.dispute.created", EventObject{ID: "dp_1"}))
	require.Error(t, err)

	// payment_intent alone is enough
	err = v.Struct(envelope("evt_2", "charge.dispute.created", EventObject{
		ID:            "dp_1",
		PaymentIntent: "pi_123",
	}))
	assert.NoError(t, err)

	// metadata.orderId alone is enough
	err = v.Struct(envelope("evt_3", "charge.refunded", EventObject{
		ID:       "ch_1",
		Metadata: EventMetadata{OrderID: "order-1"},
	}))
	assert.NoError(t, err)
}

func TestWebhookEnvelope_NonChargeEventsSkipCorrelationCheck(t *testing.T) {
	v := New()

	// intent events carry their own id as the correlation key
	err := v.Struct(envelope("evt_1", "payment_intent.payment_failed", EventObject{ID: "pi_123"}))
	assert.NoError(t, err)
}
