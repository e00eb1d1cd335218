// Package monitoring delivers operational alerts and run summaries.
package monitoring

import (
	"context"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertRunFailure     AlertType = "run_failure"
	AlertBatchAnomaly   AlertType = "batch_anomaly"
	AlertMappingFailure AlertType = "mapping_learn_failure"
)

// Alert represents a single alert to be sent.
type Alert struct {
	Type       AlertType      `json:"type"`
	Severity   string         `json:"severity"`
	SourceCode string         `json:"source_code"`
	Message    string         `json:"message"`
	Details    map[string]any `json:"details,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}

// Notifier is what the pipeline raises alerts through.
type Notifier interface {
	Notify(ctx context.Context, alert Alert)
}

// Alerter delivers alerts to a webhook. Without a configured URL it logs
// them and drops them, so the pipeline never depends on alerting uptime.
type Alerter struct {
	webhookURL string
	client     *resty.Client
}

// NewAlerter creates an Alerter posting to the given webhook URL.
func NewAlerter(webhookURL string, timeout time.Duration) *Alerter {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	client := resty.New().
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(time.Second)
	return &Alerter{webhookURL: webhookURL, client: client}
}

// Notify sends one alert. Delivery failures are logged, never returned: an
// unreachable webhook must not fail a run.
func (a *Alerter) Notify(ctx context.Context, alert Alert) {
	if alert.Timestamp.IsZero() {
		alert.Timestamp = time.Now().UTC()
	}

	log := zap.L().With(
		zap.String("alert_type", string(alert.Type)),
		zap.String("source", alert.SourceCode),
		zap.String("severity", alert.Severity),
	)
	log.Warn("alert raised", zap.String("message", alert.Message))

	if a.webhookURL == "" {
		return
	}
	if err := a.post(ctx, alert); err != nil {
		log.Error("alert delivery failed", zap.Error(err))
	}
}

func (a *Alerter) post(ctx context.Context, alert Alert) error {
	resp, err := a.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(alert).
		Post(a.webhookURL)
	if err != nil {
		return eris.Wrap(err, "monitoring: post alert")
	}
	if resp.IsError() {
		return eris.Errorf("monitoring: webhook returned %d", resp.StatusCode())
	}
	return nil
}
