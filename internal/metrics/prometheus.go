package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the pipeline's Prometheus collectors on a dedicated registry.
// All recording methods are safe on a nil receiver.
type Metrics struct {
	registry *prometheus.Registry

	// Ingestion
	WebhookEvents    *prometheus.CounterVec
	TenantResolution *prometheus.CounterVec
	CallsUpserted    *prometheus.CounterVec

	// Leads
	LeadsCreated prometheus.Counter

	// Billing
	UsageMinutes   prometheus.Counter
	OverageCharges *prometheus.CounterVec

	// Fan-out consumers
	FollowUps          *prometheus.CounterVec
	WorkflowExecutions *prometheus.CounterVec
	ConsumerErrors     *prometheus.CounterVec
}

// New creates and registers the collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		WebhookEvents: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "voiceagent_webhook_events_total",
				Help: "Provider webhook deliveries by outcome",
			},
			[]string{"source", "outcome"},
		),
		TenantResolution: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "voiceagent_tenant_resolution_total",
				Help: "Tenant resolutions by matching strategy (unresolved included)",
			},
			[]string{"strategy"},
		),
		CallsUpserted: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "voiceagent_calls_upserted_total",
				Help: "Call upserts by result",
			},
			[]string{"result"},
		),
		LeadsCreated: f.NewCounter(prometheus.CounterOpts{
			Name: "voiceagent_leads_created_total",
			Help: "Leads created from inbound calls",
		}),
		UsageMinutes: f.NewCounter(prometheus.CounterOpts{
			Name: "voiceagent_usage_minutes_total",
			Help: "Billable minutes metered",
		}),
		OverageCharges: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "voiceagent_overage_charges_total",
				Help: "Overage charge attempts by result",
			},
			[]string{"result"},
		),
		FollowUps: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "voiceagent_followups_total",
				Help: "Follow-up scheduling decisions by result",
			},
			[]string{"result"},
		),
		WorkflowExecutions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "voiceagent_workflow_executions_total",
				Help: "Workflow executions by final status",
			},
			[]string{"trigger", "status"},
		),
		ConsumerErrors: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "voiceagent_consumer_errors_total",
				Help: "Non-fatal fan-out consumer failures",
			},
			[]string{"consumer"},
		),
	}
}

// Handler exposes the registry for scraping.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) Webhook(source, outcome string) {
	if m == nil {
		return
	}
	m.WebhookEvents.WithLabelValues(source, outcome).Inc()
}

func (m *Metrics) TenantResolved(strategy string) {
	if m == nil {
		return
	}
	m.TenantResolution.WithLabelValues(strategy).Inc()
}

func (m *Metrics) CallUpserted(created bool) {
	if m == nil {
		return
	}
	result := "updated"
	if created {
		result = "created"
	}
	m.CallsUpserted.WithLabelValues(result).Inc()
}

func (m *Metrics) LeadCreated() {
	if m == nil {
		return
	}
	m.LeadsCreated.Inc()
}

func (m *Metrics) MinutesMetered(minutes int) {
	if m == nil || minutes <= 0 {
		return
	}
	m.UsageMinutes.Add(float64(minutes))
}

func (m *Metrics) OverageCharge(result string) {
	if m == nil {
		return
	}
	m.OverageCharges.WithLabelValues(result).Inc()
}

func (m *Metrics) FollowUp(result string) {
	if m == nil {
		return
	}
	m.FollowUps.WithLabelValues(result).Inc()
}

func (m *Metrics) WorkflowExecution(trigger, status string) {
	if m == nil {
		return
	}
	m.WorkflowExecutions.WithLabelValues(trigger, status).Inc()
}

func (m *Metrics) ConsumerError(consumer string) {
	if m == nil {
		return
	}
	m.ConsumerErrors.WithLabelValues(consumer).Inc()
}
