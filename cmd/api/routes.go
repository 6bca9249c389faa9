package main

import (
	"database/sql"
	"log/slog"

	"voiceagent-platform/internal/audit"
	"voiceagent-platform/internal/auth"
	"voiceagent-platform/internal/billing"
	"voiceagent-platform/internal/calls"
	"voiceagent-platform/internal/config"
	"voiceagent-platform/internal/followups"
	"voiceagent-platform/internal/httpapi"
	"voiceagent-platform/internal/leads"
	"voiceagent-platform/internal/metrics"
	"voiceagent-platform/internal/notify"
	"voiceagent-platform/internal/pipeline"
	"voiceagent-platform/internal/reporting"
	"voiceagent-platform/internal/telephony"
	"voiceagent-platform/internal/tenancy"
	"voiceagent-platform/internal/workflows"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

type deps struct {
	cfg        config.Config
	log        *slog.Logger
	db         *sql.DB
	rdb        *redis.Client
	auth       *auth.Manager
	metrics    *metrics.Metrics
	dispatcher followups.Dispatcher
}

// registerRoutes builds the services and mounts their handlers.
// Keep this file free of business logic.
func registerRoutes(r *gin.Engine, d deps) {
	cfg := d.cfg

	auditSvc := audit.NewService(audit.NewPostgresRepo(d.db))
	callStore := calls.NewPostgresStore(d.db)
	leadRepo := leads.NewPostgresRepo(d.db)
	billingStore := billing.NewPostgresStore(d.db)

	directory := tenancy.NewCachedDirectory(tenancy.NewPostgresDirectory(d.db), d.rdb, cfg.Resolver.CacheTTL, d.log)
	resolver := tenancy.NewResolver(directory, tenancy.Options{
		FallbackTenantID: cfg.Resolver.FallbackTenantID,
		DefaultLocation:  cfg.Location(),
		Metrics:          d.metrics,
	})

	var processor billing.PaymentProcessor = billing.LogProcessor{Log: d.log}
	if cfg.Billing.StripeSecretKey != "" {
		processor = billing.NewStripeProcessor(cfg.Billing.StripeSecretKey)
	}
	meter := billing.NewMeter(billingStore, processor, billing.MeterOptions{
		Currency:      cfg.Billing.Currency,
		ChargeTimeout: cfg.Billing.ChargeTimeout,
		Auditor:       auditSvc,
		Metrics:       d.metrics,
	})

	scheduler := followups.NewScheduler(followups.NewPostgresRepo(d.db), d.dispatcher, d.metrics)

	engine := workflows.NewEngine(
		workflows.NewPostgresRepo(d.db),
		workflows.NewHandlers(leadRepo, newMailer(cfg, d.log), notify.NewHTTPClient("", cfg.Outreach.Timeout)),
		d.metrics,
	)

	proc := pipeline.NewProcessor(pipeline.Deps{
		Resolver:  resolver,
		Calls:     callStore,
		Leads:     leads.NewReconciler(leadRepo, callStore),
		Billing:   meter,
		FollowUps: scheduler,
		Workflows: engine,
		Auditor:   auditSvc,
		Limiter:   pipeline.NewIngestLimiter(d.rdb, cfg.Ingest.TenantConcurrency, cfg.Ingest.CapTTL),
		Metrics:   d.metrics,

		ProcessTimeout: cfg.Ingest.ProcessTimeout,
	})

	httpapi.Mount(r, httpapi.Routes{
		Webhooks: httpapi.Webhooks{
			Normalizer: telephony.NewNormalizer(),
			Processor:  proc,
			Secret:     cfg.Provider.WebhookSecret,
			Metrics:    d.metrics,
		},
		Dashboard: httpapi.Dashboard{
			Auth:      d.auth,
			Calls:     callStore,
			FollowUps: scheduler,
			Reports:   reporting.NewService(billingStore, billing.DefaultCatalog, cfg.Billing.Currency),
			Audit:     auditSvc,
		},
		Auth:        d.auth,
		RateLimiter: httpapi.NewIPRateLimiter(cfg.Ingest.RateLimitPerSecond, cfg.Ingest.RateLimitBurst),
		Metrics:     d.metrics,
		DevLogin:    !cfg.IsProduction(),
	})
}

func newMailer(cfg config.Config, log *slog.Logger) notify.Mailer {
	if cfg.SMTP.Host == "" {
		return notify.LogMailer{Log: log}
	}
	return notify.NewSMTPMailer(cfg.SMTP.Host, cfg.SMTP.Port, cfg.SMTP.Username, cfg.SMTP.Password, cfg.SMTP.FromEmail, cfg.SMTP.FromName)
}
