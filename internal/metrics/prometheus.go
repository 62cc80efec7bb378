package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	WebhookDeliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "brandclip_webhook_deliveries_total",
		Help: "Webhook deliveries handled, by worker and outcome",
	}, []string{"worker", "outcome"})

	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "brandclip_stage_duration_seconds",
		Help:    "Duration of edit and upload stages",
		Buckets: []float64{0.5, 1, 5, 10, 30, 60, 120, 300, 600},
	}, []string{"stage"})

	PublishStepsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "brandclip_publish_steps_total",
		Help: "Publish protocol calls, by step and result",
	}, []string{"step", "result"})

	ActiveJobs = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "brandclip_active_jobs",
		Help: "Jobs currently running in this process",
	}, []string{"worker"})

	RelayDeliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "brandclip_relay_deliveries_total",
		Help: "Local relay webhook attempts, by result",
	}, []string{"result"})
)
