package alerts

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/imrishuroy/go-webhook-reconciler/internal/aws"
	"github.com/sirupsen/logrus"
)

// Notification is the payload handed to the notification sink.
type Notification struct {
	AlertID     string   `json:"alert_id"`
	Type        string   `json:"type"`
	Severity    Severity `json:"severity"`
	Status      Status   `json:"status"`
	Message     string   `json:"message"`
	Occurrences int      `json:"occurrences,omitempty"`
}

// Sink delivers one notification. Implementations must tolerate being called
// from a single worker goroutine.
type Sink interface {
	Deliver(ctx context.Context, n Notification) error
}

// SQSSink publishes notifications to the notifications queue for the
// out-of-process delivery worker.
type SQSSink struct {
	pub *aws.Publisher
}

// NewSQSSink returns a Sink over an SQS publisher.
func NewSQSSink(pub *aws.Publisher) *SQSSink {
	return &SQSSink{pub: pub}
}

// Deliver publishes n as a JSON message with type/severity attributes.
func (s *SQSSink) Deliver(ctx context.Context, n Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	return s.pub.Send(ctx, string(body), map[string]string{
		"type":     n.Type,
		"severity": string(n.Severity),
	})
}

// Notifier is the bounded fire-and-forget notification queue. One worker
// goroutine drains it sequentially so sink failures never block alert
// creation or escalation. When the queue is full, the notification is
// dropped and counted; creators are never blocked.
type Notifier struct {
	ch        chan Notification
	sink      Sink
	log       *logrus.Logger
	metrics   *aws.Metrics
	startOnce sync.Once
}

// NewNotifier returns a Notifier with the given queue capacity.
func NewNotifier(sink Sink, capacity int, log *logrus.Logger, metrics *aws.Metrics) *Notifier {
	if capacity <= 0 {
		capacity = 256
	}
	return &Notifier{
		ch:      make(chan Notification, capacity),
		sink:    sink,
		log:     log,
		metrics: metrics,
	}
}

// Enqueue offers a notification without blocking. Returns false when the
// queue is full and the notification was dropped.
func (n *Notifier) Enqueue(note Notification) bool {
	select {
	case n.ch <- note:
		return true
	default:
		n.log.WithFields(logrus.Fields{
			"alert_id": note.AlertID,
			"type":     note.Type,
		}).Warn("notification queue full, dropping")
		n.metrics.Count(context.Background(), "NotificationsDropped", 1, nil)
		return false
	}
}

// Start launches the single worker loop. Safe to call more than once; only
// one worker is ever started. Each job is attempted once; failures are
// logged, not retried.
func (n *Notifier) Start(ctx context.Context) {
	n.startOnce.Do(func() {
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case note := <-n.ch:
					if n.sink == nil {
						continue
					}
					if err := n.sink.Deliver(ctx, note); err != nil {
						n.log.WithError(err).WithFields(logrus.Fields{
							"alert_id": note.AlertID,
							"type":     note.Type,
						}).Error("notification delivery failed")
					}
				}
			}
		}()
	})
}
