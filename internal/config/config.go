package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config carries all process configuration, loaded from the environment.
type Config struct {
	AWSRegion string `envconfig:"AWS_REGION" default:"us-east-1"`

	OrdersTable       string `envconfig:"ORDERS_TABLE" required:"true"`
	VariantsTable     string `envconfig:"VARIANTS_TABLE" required:"true"`
	DisputesTable     string `envconfig:"DISPUTES_TABLE" required:"true"`
	AlertsTable       string `envconfig:"ALERTS_TABLE" required:"true"`
	AlertDedupTable   string `envconfig:"ALERT_DEDUP_TABLE" required:"true"`
	AlertHistoryTable string `envconfig:"ALERT_HISTORY_TABLE"`

	NotificationsQueueURL string `envconfig:"NOTIFICATIONS_QUEUE_URL"`
	MetricsNamespace      string `envconfig:"METRICS_NAMESPACE" default:"WebhookReconciler"`

	SweepInterval       time.Duration `envconfig:"SWEEP_INTERVAL" default:"5m"`
	NotifyQueueSize     int           `envconfig:"NOTIFY_QUEUE_SIZE" default:"256"`
	LargeOrderThreshold float64       `envconfig:"LARGE_ORDER_THRESHOLD" default:"1000"`

	RunLocal   bool   `envconfig:"RUN_LOCAL" default:"false"`
	ListenAddr string `envconfig:"LISTEN_ADDR" default:":8080"`
}

// Load reads configuration from the environment.
func Load() (Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return cfg, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}
