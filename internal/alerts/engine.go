// Package alerts is the single point of truth for operational alerts:
// deduplication within a rolling window, severity-based SLA deadlines, and a
// periodic escalation sweep for breached deadlines.
package alerts

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/imrishuroy/go-webhook-reconciler/internal/aws"
	"github.com/sirupsen/logrus"
)

// DedupWindow is the rolling window inside which semantically identical
// alerts collapse into one row.
const DedupWindow = 24 * time.Hour

// Engine owns the alert lifecycle. Construct once at process start and pass
// by handle; the sweep timer is a singleton per Engine.
type Engine struct {
	store         *Store
	notifier      *Notifier
	metrics       *aws.Metrics
	log           *logrus.Logger
	sweepInterval time.Duration
	sweepOnce     sync.Once
	nowFunc       func() time.Time
}

// NewEngine wires the alert engine. notifier and metrics may be nil in tests.
func NewEngine(store *Store, notifier *Notifier, metrics *aws.Metrics, log *logrus.Logger, sweepInterval time.Duration) *Engine {
	if sweepInterval <= 0 {
		sweepInterval = 5 * time.Minute
	}
	return &Engine{
		store:         store,
		notifier:      notifier,
		metrics:       metrics,
		log:           log,
		sweepInterval: sweepInterval,
		nowFunc:       time.Now,
	}
}

// Create deduplicates or creates an alert. Within the rolling window an
// existing non-resolved alert with the same (dedup key, type) gets an
// occurrence bump, with no new row and no SLA reset. Otherwise a new ACTIVE alert is
// written with slaDeadline = now + SLA(severity).
func (e *Engine) Create(ctx context.Context, cfg Config) (*Alert, error) {
	now := e.nowFunc().UTC()
	alert := &Alert{
		AlertID:          uuid.NewString(),
		Type:             cfg.Type,
		Severity:         cfg.Severity,
		Status:           StatusActive,
		Message:          cfg.Message,
		Entity:           cfg.Entity,
		DedupKey:         cfg.dedupKey(),
		Occurrences:      1,
		LastOccurrenceAt: now,
		SLADeadline:      now.Add(cfg.Severity.SLA()).Unix(),
		Tags:             cfg.Tags,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	created, existingID, err := e.store.CreateWithDedup(ctx, alert)
	if err != nil {
		return nil, err
	}
	if created {
		e.audit(ctx, alert.AlertID, "created", map[string]string{"severity": string(alert.Severity)})
		e.count(ctx, "AlertsCreated", map[string]string{"severity": string(alert.Severity)})
		e.notify(*alert)
		return alert, nil
	}

	bumped, err := e.store.BumpOccurrence(ctx, existingID)
	if errors.Is(err, ErrNotBumpable) {
		// existing alert resolved between claim and bump: start a fresh one.
		if rerr := e.store.ReplaceDedup(ctx, alert); rerr != nil {
			return nil, rerr
		}
		e.audit(ctx, alert.AlertID, "created", map[string]string{"severity": string(alert.Severity)})
		e.count(ctx, "AlertsCreated", map[string]string{"severity": string(alert.Severity)})
		e.notify(*alert)
		return alert, nil
	}
	if err != nil {
		return nil, err
	}
	e.audit(ctx, bumped.AlertID, "deduplicated", map[string]string{"occurrences": fmt.Sprintf("%d", bumped.Occurrences)})
	e.count(ctx, "AlertsDeduplicated", nil)
	return bumped, nil
}

// Resolve terminally resolves an alert. Resolving an already-resolved alert
// is a no-op returning the persisted row.
func (e *Engine) Resolve(ctx context.Context, alertID, notes string) (*Alert, error) {
	resolved, err := e.store.Resolve(ctx, alertID, notes)
	if errors.Is(err, ErrAlreadyResolved) {
		return e.store.Get(ctx, alertID)
	}
	if err != nil {
		return nil, err
	}
	e.audit(ctx, alertID, "resolved", map[string]string{"notes": notes})
	e.count(ctx, "AlertsResolved", nil)
	return resolved, nil
}

// ListActive returns active alerts ordered by severity rank descending, then
// by last occurrence descending.
func (e *Engine) ListActive(ctx context.Context, f Filters) ([]Alert, error) {
	alerts, err := e.store.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	filtered := alerts[:0]
	for _, a := range alerts {
		if f.Severity != "" && a.Severity != f.Severity {
			continue
		}
		if f.Type != "" && a.Type != f.Type {
			continue
		}
		if f.EntityKind != EntityNone && a.Entity.Kind != f.EntityKind {
			continue
		}
		filtered = append(filtered, a)
	}
	sort.SliceStable(filtered, func(i, j int) bool {
		if filtered[i].Severity.Rank() != filtered[j].Severity.Rank() {
			return filtered[i].Severity.Rank() > filtered[j].Severity.Rank()
		}
		return filtered[i].LastOccurrenceAt.After(filtered[j].LastOccurrenceAt)
	})
	return filtered, nil
}

// StartSweeper launches the periodic escalation sweep. Safe to call more
// than once; a single timer runs per engine for the process lifetime.
func (e *Engine) StartSweeper(ctx context.Context) {
	e.sweepOnce.Do(func() {
		go func() {
			ticker := time.NewTicker(e.sweepInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					if _, err := e.SweepEscalations(ctx); err != nil {
						e.log.WithError(err).Error("escalation sweep failed")
					}
				}
			}
		}()
	})
}

// SweepEscalations escalates every non-terminal alert whose SLA deadline has
// passed. Each escalation is a conditional update re-checking status and
// deadline, so concurrent resolves win and nothing is escalated twice.
// Returns the number of alerts escalated.
func (e *Engine) SweepEscalations(ctx context.Context) (int, error) {
	now := e.nowFunc().UTC()
	due, err := e.store.ScanDue(ctx, now)
	if err != nil {
		return 0, err
	}
	escalated := 0
	for _, a := range due {
		reason := fmt.Sprintf("SLA breached: %s deadline %s passed", a.Severity, time.Unix(a.SLADeadline, 0).UTC().Format(time.RFC3339))
		ok, err := e.store.Escalate(ctx, a.AlertID, reason, now)
		if err != nil {
			e.log.WithError(err).WithField("alert_id", a.AlertID).Error("escalation failed")
			continue
		}
		if !ok {
			// resolved or already escalated under our feet
			continue
		}
		escalated++
		e.audit(ctx, a.AlertID, "escalated", map[string]string{"reason": reason})
		e.count(ctx, "AlertsEscalated", map[string]string{"severity": string(a.Severity)})
		a.Status = StatusEscalated
		a.EscalationReason = reason
		e.notify(a)
	}
	return escalated, nil
}

func (e *Engine) notify(a Alert) {
	if e.notifier == nil {
		return
	}
	e.notifier.Enqueue(Notification{
		AlertID:     a.AlertID,
		Type:        a.Type,
		Severity:    a.Severity,
		Status:      a.Status,
		Message:     a.Message,
		Occurrences: a.Occurrences,
	})
}

func (e *Engine) audit(ctx context.Context, alertID, action string, meta map[string]string) {
	if err := e.store.AppendHistory(ctx, alertID, action, "system", meta); err != nil {
		e.log.WithError(err).WithField("alert_id", alertID).Warn("alert history write failed")
	}
}

func (e *Engine) count(ctx context.Context, name string, dims map[string]string) {
	if e.metrics == nil {
		return
	}
	e.metrics.Count(ctx, name, 1, dims)
}
