package main

import (
	"context"
	"io"
	"testing"

	"github.com/aws/aws-lambda-go/events"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestProcessor() *Processor {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return NewProcessor(log)
}

func TestHandleAlertBatch(t *testing.T) {
	p := newTestProcessor()

	err := p.Handle(context.Background(), events.SQSEvent{
		Records: []events.SQSMessage{
			{Body: `{"type":"INSUFFICIENT_STOCK","alert_id":"a1","severity":"URGENT","message":"oversold"}`},
			{Body: `{"type":"DISPUTE_CREATED","alert_id":"a2","severity":"CRITICAL","message":"dispute"}`},
			{Body: `{"type":"order_confirmation","order_id":"order-1","email":"jo@example.com"}`},
		},
	})
	assert.NoError(t, err)
}

func TestHandleMalformedBodyFailsBatch(t *testing.T) {
	p := newTestProcessor()

	err := p.Handle(context.Background(), events.SQSEvent{
		Records: []events.SQSMessage{{Body: `not json`}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid message body")
}
