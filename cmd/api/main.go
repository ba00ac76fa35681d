package main

import (
	"context"
	"net/http"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	ginadapter "github.com/awslabs/aws-lambda-go-api-proxy/gin"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/imrishuroy/go-webhook-reconciler/internal/alerts"
	"github.com/imrishuroy/go-webhook-reconciler/internal/aws"
	"github.com/imrishuroy/go-webhook-reconciler/internal/config"
	"github.com/imrishuroy/go-webhook-reconciler/internal/disputes"
	"github.com/imrishuroy/go-webhook-reconciler/internal/handlers"
	"github.com/imrishuroy/go-webhook-reconciler/internal/inventory"
	"github.com/imrishuroy/go-webhook-reconciler/internal/orders"
	"github.com/imrishuroy/go-webhook-reconciler/internal/reconcile"
)

func setupRouter(cfg handlers.HandlerConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	// health
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	handlers.RegisterWebhookRoutes(r, cfg)
	handlers.RegisterAlertRoutes(r, cfg)

	return r
}

func main() {
	log := logrus.New()

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("failed to load config")
	}
	if cfg.RunLocal {
		log.SetFormatter(&logrus.TextFormatter{})
	} else {
		log.SetFormatter(&logrus.JSONFormatter{})
	}

	ctx := context.Background()
	clients, err := aws.NewAWSClients(ctx, cfg.AWSRegion)
	if err != nil {
		log.WithError(err).Fatal("failed to init aws clients")
	}

	metrics := aws.NewMetrics(clients.CloudWatch, cfg.MetricsNamespace, log)

	ordersStore := orders.NewStore(clients.DynamoDB, cfg.OrdersTable)
	disputesStore := disputes.NewStore(clients.DynamoDB, cfg.DisputesTable)
	inventoryEngine := inventory.NewEngine(clients.DynamoDB, cfg.VariantsTable, ordersStore)

	var sink alerts.Sink
	var confirmations *aws.Publisher
	if cfg.NotificationsQueueURL != "" {
		pub := aws.NewPublisher(clients.SQS, cfg.NotificationsQueueURL)
		sink = alerts.NewSQSSink(pub)
		confirmations = pub
	}
	notifier := alerts.NewNotifier(sink, cfg.NotifyQueueSize, log, metrics)

	alertStore := alerts.NewStore(clients.DynamoDB, cfg.AlertsTable, cfg.AlertDedupTable, cfg.AlertHistoryTable, alerts.DedupWindow)
	alertEngine := alerts.NewEngine(alertStore, notifier, metrics, log, cfg.SweepInterval)

	rec := reconcile.NewReconciler(ordersStore, disputesStore, inventoryEngine,
		alertEngine, confirmations, metrics, log, cfg.LargeOrderThreshold)

	// background lifecycles: one notification worker, one sweep timer
	notifier.Start(ctx)
	alertEngine.StartSweeper(ctx)

	r := setupRouter(handlers.HandlerConfig{
		Reconciler: rec,
		Alerts:     alertEngine,
		Log:        log,
	})

	// if RUN_LOCAL is set, run a local HTTP server for development.
	if cfg.RunLocal {
		log.WithField("addr", cfg.ListenAddr).Info("running local server")
		if err := r.Run(cfg.ListenAddr); err != nil {
			log.WithError(err).Fatal("failed to run local server")
		}
		return
	}

	// lambda adapter
	adapter := ginadapter.New(r)

	lambda.Start(func(ctx context.Context, req events.APIGatewayProxyRequest) (interface{}, error) {
		return adapter.ProxyWithContext(ctx, req)
	})
}
