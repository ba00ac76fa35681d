package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/imrishuroy/go-webhook-reconciler/internal/alerts"
	"github.com/imrishuroy/go-webhook-reconciler/internal/reconcile"
	"github.com/imrishuroy/go-webhook-reconciler/internal/validation"
	"github.com/sirupsen/logrus"
)

// HandlerConfig groups dependencies for the webhook and alert routes.
type HandlerConfig struct {
	Reconciler *reconcile.Reconciler
	Alerts     *alerts.Engine
	Log        *logrus.Logger
}

// RegisterWebhookRoutes registers the payment-provider webhook ingress.
// Events arrive already signature-verified by the upstream layer (API
// Gateway authorizer or provider-SDK middleware); this route only binds,
// parses and dispatches. It always acknowledges structurally valid events so
// the provider stops retrying: processing failures surface as alerts, not
// as transport errors.
func RegisterWebhookRoutes(r *gin.Engine, cfg HandlerConfig) {
	v := validation.New()

	r.POST("/webhooks/payment", func(c *gin.Context) {
		ctx := c.Request.Context()

		var env validation.WebhookEnvelope
		if err := validation.BindAndValidate(c, &env, v); err != nil {
			// BindAndValidate already wrote a 400
			return
		}

		ev, err := reconcile.FromEnvelope(env)
		if err != nil {
			var unknown *reconcile.UnknownEventTypeError
			if errors.As(err, &unknown) {
				// unhandled event types are acknowledged, not retried
				cfg.Log.WithField("type", env.Type).Info("ignoring unhandled event type")
				c.JSON(http.StatusOK, gin.H{"received": true, "ignored": true})
				return
			}
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_event", "detail": err.Error()})
			return
		}

		if err := cfg.Reconciler.Process(ctx, ev); err != nil {
			// the state machine already converted anything post-payment into
			// alerts; whatever still propagates is logged and acknowledged so
			// the provider does not retry into the same failure.
			cfg.Log.WithError(err).WithFields(logrus.Fields{
				"event": env.ID,
				"type":  env.Type,
			}).Error("webhook processing failed")
			c.JSON(http.StatusOK, gin.H{"received": true, "status": "error"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"received": true})
	})
}

// RegisterAlertRoutes exposes the operator-facing alert API.
func RegisterAlertRoutes(r *gin.Engine, cfg HandlerConfig) {
	r.GET("/alerts", func(c *gin.Context) {
		ctx := c.Request.Context()
		f := alerts.Filters{
			Severity:   alerts.Severity(c.Query("severity")),
			Type:       c.Query("type"),
			EntityKind: alerts.EntityKind(c.Query("entity_kind")),
		}
		active, err := cfg.Alerts.ListActive(ctx, f)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "list_failed", "detail": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"alerts": active})
	})

	r.POST("/alerts/:id/resolve", func(c *gin.Context) {
		ctx := c.Request.Context()
		var body struct {
			Notes string `json:"notes"`
		}
		_ = c.ShouldBindJSON(&body)

		alert, err := cfg.Alerts.Resolve(ctx, c.Param("id"), body.Notes)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "resolve_failed", "detail": err.Error()})
			return
		}
		if alert == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "alert_not_found"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"alert": alert})
	})
}
