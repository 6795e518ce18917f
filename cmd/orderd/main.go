package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"campusmart/auth"
	"campusmart/catalog"
	"campusmart/config"
	"campusmart/files"
	"campusmart/ledger"
	"campusmart/models"
	"campusmart/notify"
	"campusmart/observability"
	"campusmart/observability/logging"
	otelinit "campusmart/observability/otel"
	"campusmart/orders"
	"campusmart/payments"
	"campusmart/server"
)

func main() {
	configPath := flag.String("config", "", "path to TOML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	logger := logging.Setup("orderd", cfg.Environment, logging.Options{
		FilePath:   cfg.LogFilePath,
		MaxSizeMB:  cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
	})

	db, err := openDatabase(cfg)
	if err != nil {
		log.Fatalf("database connection error: %v", err)
	}
	if err := models.AutoMigrate(db); err != nil {
		log.Fatalf("auto migrate error: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	otelShutdown, err := otelinit.Init(ctx, otelinit.Config{
		ServiceName: "campusmart-orders",
		Environment: cfg.Environment,
		Endpoint:    cfg.OTLPEndpoint,
		Insecure:    cfg.OTLPInsecure,
		Headers:     otelinit.ParseHeaders(cfg.OTLPHeaders),
	})
	if err != nil {
		log.Fatalf("telemetry init error: %v", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = otelShutdown(shutdownCtx)
	}()

	queue := notify.NewQueue(db, logger, cfg.NotifyQueueCapacity)
	queue.Start(ctx)
	defer queue.Close()

	var gateway payments.Gateway
	razorpay := payments.NewRazorpay(payments.RazorpayConfig{
		KeyID:     cfg.RazorpayKeyID,
		KeySecret: cfg.RazorpayKeySecret,
		BaseURL:   cfg.RazorpayBaseURL,
	})
	if razorpay.Configured() {
		gateway = razorpay
	} else if cfg.IsDev() {
		logger.Warn("payment gateway not configured, orders will skip capture")
	}

	var fileProvider files.Provider
	if cfg.FileSignSecret != "" {
		signer, serr := files.NewHMACSigner(cfg.FileBaseURL, cfg.FileSignSecret)
		if serr != nil {
			log.Fatalf("file signer error: %v", serr)
		}
		fileProvider = signer
	}

	svc := orders.New(orders.Config{
		Ledger:            ledger.NewStore(db),
		Catalog:           catalog.NewStore(db),
		Gateway:           gateway,
		Files:             fileProvider,
		Notifier:          queue,
		Logger:            logger,
		AllowSelfPurchase: cfg.AllowSelfPurchase,
		DisputeWindow:     cfg.DisputeWindow,
		DownloadTTL:       cfg.DownloadTTL,
	})

	authMW, err := auth.NewMiddleware(auth.Options{
		Secret:   cfg.JWTSecret,
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
	})
	if err != nil {
		log.Fatalf("auth init error: %v", err)
	}

	obs := observability.New(observability.Config{
		ServiceName: "campusmart-orders",
		Enabled:     cfg.MetricsEnabled,
		LogRequests: cfg.LogHTTPRequests,
	}, logger)

	srv := server.New(server.Config{
		DB:            db,
		Orders:        svc,
		Notifications: notify.NewStore(db),
		Auth:          authMW,
		Obs:           obs,
		Logger:        logger,
		PaymentRPS:    cfg.PaymentRPS,
		PaymentBurst:  cfg.PaymentBurst,
	})

	httpServer := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	logger.Info("starting orderd", "addr", cfg.ListenAddress, "env", cfg.Environment)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("server error: %v", err)
	}
}

func openDatabase(cfg config.Config) (*gorm.DB, error) {
	if cfg.DatabaseURL != "" {
		return gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{})
	}
	if cfg.DatabasePath != "" {
		return gorm.Open(sqlite.Open(cfg.DatabasePath), &gorm.Config{})
	}
	return nil, fmt.Errorf("no database configured")
}
