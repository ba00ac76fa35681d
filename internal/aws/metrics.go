package aws

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/sirupsen/logrus"
)

// Metrics emits operational counters to CloudWatch. Emission is best-effort:
// a failed PutMetricData is logged and never propagated to the caller.
type Metrics struct {
	client    CloudWatchAPI
	namespace string
	log       *logrus.Logger
	nowFunc   func() time.Time
}

// NewMetrics returns a Metrics emitter bound to a namespace.
func NewMetrics(client CloudWatchAPI, namespace string, log *logrus.Logger) *Metrics {
	return &Metrics{
		client:    client,
		namespace: namespace,
		log:       log,
		nowFunc:   time.Now,
	}
}

// Count emits a count metric with optional string dimensions.
func (m *Metrics) Count(ctx context.Context, name string, value float64, dims map[string]string) {
	if m == nil || m.client == nil {
		return
	}
	datum := cwtypes.MetricDatum{
		MetricName: &name,
		Value:      &value,
		Unit:       cwtypes.StandardUnitCount,
		Timestamp:  awsTime(m.nowFunc()),
	}
	for k, v := range dims {
		k, v := k, v
		datum.Dimensions = append(datum.Dimensions, cwtypes.Dimension{Name: &k, Value: &v})
	}

	_, err := m.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace:  &m.namespace,
		MetricData: []cwtypes.MetricDatum{datum},
	})
	if err != nil && m.log != nil {
		m.log.WithError(err).WithFields(logrus.Fields{
			"metric": name,
			"code":   ErrorCode(err),
		}).Warn("put metric data failed")
	}
}

func awsTime(t time.Time) *time.Time { return &t }
