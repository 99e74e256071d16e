package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gimlee/settlement/internal/config"
	"github.com/gimlee/settlement/internal/core/application"
	"github.com/gimlee/settlement/internal/core/domain"
	"github.com/gimlee/settlement/internal/core/ports"
	"github.com/gimlee/settlement/internal/infrastructure/db"
	"github.com/gimlee/settlement/internal/infrastructure/ledger"
	"github.com/gimlee/settlement/internal/infrastructure/notifier"
	"github.com/gimlee/settlement/internal/infrastructure/pricefeed"
	scheduler "github.com/gimlee/settlement/internal/infrastructure/scheduler/gocron"
	"github.com/gimlee/settlement/internal/infrastructure/telemetry"
	"github.com/gimlee/settlement/internal/interface/web"
	log "github.com/sirupsen/logrus"
)

// nolint:all
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.WithError(err).Fatal("invalid config")
	}

	log.SetLevel(log.Level(cfg.LogLevel))

	flushSentry := func() {}
	if cfg.SentryDsn != "" {
		flushSentry, err = telemetry.InitSentry(cfg.SentryDsn, "prod", version)
		if err != nil {
			log.Fatal(err)
		}
	}

	log.Info("starting settlement engine...")

	dbConfig := cfg.DbConfig()
	if cfg.DbType == "badger" {
		dbConfig[1] = log.StandardLogger()
	}
	dbSvc, err := db.NewService(db.ServiceConfig{
		DbType:   cfg.DbType,
		DbConfig: dbConfig,
	})
	if err != nil {
		log.WithError(err).Fatal("failed to open db")
	}

	ledgers := make(map[domain.Currency]ports.LedgerService)
	for _, rail := range cfg.Rails() {
		svc, err := ledger.NewService(ledger.Config{
			Currency: rail.Currency,
			URL:      rail.RpcURL,
			User:     rail.RpcUser,
			Password: rail.RpcPassword,
		})
		if err != nil {
			log.WithError(err).Fatalf("failed to connect to %s node", rail.Currency)
		}
		ledgers[rail.Currency] = svc
	}
	if len(ledgers) == 0 {
		log.Warn("no rail enabled, payments will not be reconciled")
	}

	providers, err := pricefeed.NewProviders(
		cfg.PriceProviderList(), pricefeed.Config{Timeout: cfg.PriceFeedTimeout},
	)
	if err != nil {
		log.WithError(err).Fatal("invalid price providers")
	}

	paymentNotifier, err := notifier.New(notifier.Config{
		Type:       cfg.NotifierType,
		WebhookURL: cfg.NotifierWebhookURL,
		Timeout:    cfg.NotifierTimeout,
	})
	if err != nil {
		log.WithError(err).Fatal("failed to init notifier")
	}

	buildInfo := application.BuildInfo{
		Version: version,
		Commit:  commit,
		Date:    date,
	}

	appSvc, err := application.NewService(
		buildInfo, cfg.ApplicationConfig(), dbSvc, scheduler.NewScheduler(),
		ledgers, providers, paymentNotifier,
	)
	if err != nil {
		log.WithError(err).Fatal("failed to init application service")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := appSvc.Start(ctx); err != nil {
		log.WithError(err).Fatal("failed to start application service")
	}

	httpSvc := web.NewServer(appSvc, cfg.HTTPPort)
	if err := httpSvc.Start(); err != nil {
		log.WithError(err).Fatal("failed to start http server")
	}

	log.RegisterExitHandler(func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := httpSvc.Stop(shutdownCtx); err != nil {
			log.WithError(err).Warn("failed to stop http server")
		}
		appSvc.Stop()
		for _, l := range ledgers {
			l.Close()
		}
		dbSvc.Close()
		flushSentry()
	})

	log.WithField("version", version).Info("settlement engine running")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
	<-sigChan

	log.Info("shutting down service...")
	log.Exit(0)
}
