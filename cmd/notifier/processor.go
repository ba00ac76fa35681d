package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-lambda-go/events"
	"github.com/sirupsen/logrus"
)

// Processor delivers queued notifications to their channels. Channel
// transports (email, Slack, PagerDuty) are external collaborators; the
// implementations here are logging stubs behind the same dispatch.
type Processor struct {
	log *logrus.Logger
}

// NewProcessor returns a Processor.
func NewProcessor(log *logrus.Logger) *Processor {
	return &Processor{log: log}
}

// Handle receives an SQS batch event and processes each message. A malformed
// body fails the batch so the queue redrive policy can park it.
func (p *Processor) Handle(ctx context.Context, ev events.SQSEvent) error {
	p.log.WithField("count", len(ev.Records)).Info("received notification batch")
	for _, rec := range ev.Records {
		if err := p.processMessage(ctx, rec); err != nil {
			p.log.WithError(err).Error("notifier error")
			return err
		}
	}
	return nil
}

func (p *Processor) processMessage(_ context.Context, rec events.SQSMessage) error {
	var msg notificationMessage
	if err := json.Unmarshal([]byte(rec.Body), &msg); err != nil {
		return fmt.Errorf("invalid message body: %w", err)
	}

	if msg.Type == "order_confirmation" {
		p.deliverConfirmation(msg)
		return nil
	}
	p.deliverAlert(msg)
	return nil
}

// deliverAlert routes an alert notification to a channel by severity:
// URGENT pages, CRITICAL goes to chat, the rest to email digest.
func (p *Processor) deliverAlert(msg notificationMessage) {
	channel := "email"
	switch msg.Severity {
	case "URGENT":
		channel = "pagerduty"
	case "CRITICAL":
		channel = "slack"
	}
	p.log.WithFields(logrus.Fields{
		"channel":     channel,
		"alert_id":    msg.AlertID,
		"type":        msg.Type,
		"severity":    msg.Severity,
		"status":      msg.Status,
		"occurrences": msg.Occurrences,
	}).Info(msg.Message)
}

func (p *Processor) deliverConfirmation(msg notificationMessage) {
	p.log.WithFields(logrus.Fields{
		"channel":  "email",
		"order_id": msg.OrderID,
		"to":       msg.Email,
	}).Info("order confirmation sent")
}
