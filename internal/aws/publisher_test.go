package aws

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSQS struct {
	inputs []*sqs.SendMessageInput
	err    error
}

func (f *fakeSQS) SendMessage(_ context.Context, params *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	f.inputs = append(f.inputs, params)
	if f.err != nil {
		return nil, f.err
	}
	return &sqs.SendMessageOutput{}, nil
}

func TestPublisherSend(t *testing.T) {
	fake := &fakeSQS{}
	pub := NewPublisher(fake, "https://sqs.example/notifications")

	err := pub.Send(context.Background(), `{"alert_id":"a1"}`, map[string]string{
		"type":     "INSUFFICIENT_STOCK",
		"severity": "URGENT",
	})
	require.NoError(t, err)

	require.Len(t, fake.inputs, 1)
	in := fake.inputs[0]
	assert.Equal(t, "https://sqs.example/notifications", *in.QueueUrl)
	assert.Equal(t, `{"alert_id":"a1"}`, *in.MessageBody)
	require.Contains(t, in.MessageAttributes, "severity")
	assert.Equal(t, "URGENT", *in.MessageAttributes["severity"].StringValue)
	assert.Equal(t, "String", *in.MessageAttributes["severity"].DataType)
}

func TestPublisherSendNoAttributes(t *testing.T) {
	fake := &fakeSQS{}
	pub := NewPublisher(fake, "https://sqs.example/q")

	require.NoError(t, pub.Send(context.Background(), "body", nil))
	require.Len(t, fake.inputs, 1)
	assert.Nil(t, fake.inputs[0].MessageAttributes)
}

func TestPublisherSendError(t *testing.T) {
	fake := &fakeSQS{err: errors.New("queue unavailable")}
	pub := NewPublisher(fake, "https://sqs.example/q")

	err := pub.Send(context.Background(), "body", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "queue unavailable")
}
