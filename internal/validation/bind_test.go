package validation

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bindContext(t *testing.T, body string) (*gin.Context, *httptest.ResponseRecorder) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodPost, "/webhooks/payment", strings.NewReader(body))
	c.Request.Header.Set("Content-Type", "application/json")
	return c, rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	return payload
}

func TestBindAndValidate_AcceptsValidEnvelope(t *testing.T) {
	c, rec := bindContext(t, `{
		"id": "evt_1",
		"type": "checkout.session.completed",
		"data": {"object": {"id": "cs_123", "payment_intent": "pi_123"}}
	}`)

	var env WebhookEnvelope
	require.NoError(t, BindAndValidate(c, &env, New()))
	assert.Equal(t, "evt_1", env.ID)
	assert.Empty(t, rec.Body.Bytes())
}

func TestBindAndValidate_MalformedBody(t *testing.T) {
	c, rec := bindContext(t, `{"id": "evt_1",`)

	var env WebhookEnvelope
	require.Error(t, BindAndValidate(c, &env, New()))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "malformed_envelope", decodeBody(t, rec)["error"])
}

func TestBindAndValidate_MissingRequiredFields(t *testing.T) {
	c, rec := bindContext(t, `{"data": {"object": {"id": "cs_123"}}}`)

	var env WebhookEnvelope
	require.Error(t, BindAndValidate(c, &env, New()))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	payload := decodeBody(t, rec)
	assert.Equal(t, "invalid_envelope", payload["error"])
	fields, ok := payload["fields"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "required", fields["ID"])
	assert.Equal(t, "required", fields["Type"])
}

func TestBindAndValidate_UncorrelatableChargeEvent(t *testing.T) {
	c, rec := bindContext(t, `{
		"id": "evt_1",
		"type": "charge.refunded",
		"data": {"object": {"id": "ch_1"}}
	}`)

	var env WebhookEnvelope
	require.Error(t, BindAndValidate(c, &env, New()))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	payload := decodeBody(t, rec)
	assert.Equal(t, "invalid_envelope", payload["error"])
	fields, ok := payload["fields"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, fields["data.object.payment_intent"], "payment_intent or metadata.orderId")
}
