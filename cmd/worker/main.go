package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"voiceagent-platform/internal/config"
	"voiceagent-platform/internal/followups"
	"voiceagent-platform/internal/leads"
	"voiceagent-platform/internal/metrics"
	"voiceagent-platform/internal/notify"
	"voiceagent-platform/pkg/logger"
	"voiceagent-platform/pkg/utils"

	"github.com/hibiken/asynq"
	_ "github.com/jackc/pgx/v5/stdlib"
)

const (
	sweepInterval = time.Minute
	sweepHorizon  = 5 * time.Minute
)

// worker executes due follow-ups and re-enqueues pending rows whose
// dispatch was lost.
func main() {
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env, "worker")
	slog.SetDefault(log)

	pg, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer pg.Close()

	redisOpt := asynq.RedisClientOpt{Addr: cfg.RedisAddr(), Password: cfg.Redis.Password}
	dispatcher := followups.NewAsynqDispatcher(redisOpt, cfg.Scheduler.Queue)
	defer dispatcher.Close()

	m := metrics.New()
	repo := followups.NewPostgresRepo(pg)

	var mailer notify.Mailer = notify.LogMailer{Log: log}
	if cfg.SMTP.Host != "" {
		mailer = notify.NewSMTPMailer(cfg.SMTP.Host, cfg.SMTP.Port, cfg.SMTP.Username, cfg.SMTP.Password, cfg.SMTP.FromEmail, cfg.SMTP.FromName)
	}
	exec := followups.NewExecutor(repo, leads.NewPostgresRepo(pg), mailer, notify.NewHTTPClient(cfg.Outreach.DispatchURL, cfg.Outreach.Timeout))

	handler := followups.NewHandler(repo, exec, m, log)
	w := followups.NewWorker(redisOpt, cfg.Scheduler.Queue, cfg.Scheduler.Concurrency, handler, log)
	scheduler := followups.NewScheduler(repo, dispatcher, m)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := w.Run(rootCtx); err != nil {
			log.Error("follow-up worker failed", "err", err)
			stop()
		}
	}()
	go func() {
		defer wg.Done()
		scheduler.RunSweeper(logger.With(rootCtx, log), sweepInterval, sweepHorizon)
	}()

	log.Info("worker started", "queue", cfg.Scheduler.Queue, "concurrency", cfg.Scheduler.Concurrency)
	<-rootCtx.Done()
	log.Info("shutdown initiated")
	wg.Wait()
}
