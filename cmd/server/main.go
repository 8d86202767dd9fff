package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"entitlement-api/internal/api"
	"entitlement-api/internal/config"
	"entitlement-api/internal/database"
	"entitlement-api/internal/services"
	"entitlement-api/pkg/logging"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		logging.Errorf("%v", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "entitlement-api",
		Short: "Premium entitlement service",
		Long:  `Verifies App Store receipts, processes App Store Server Notifications and keeps each user's premium entitlement.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := config.InitConfig(); err != nil {
				return err
			}
			logging.InitLogging(config.AppConfig.LogLevel, config.AppConfig.LogJSON)
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
		SilenceUsage: true,
	}

	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	})
	root.AddCommand(&cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := database.Open(config.AppConfig.DatabaseURL, config.AppConfig.Mode)
			if err != nil {
				return err
			}
			if err := database.Migrate(db); err != nil {
				return err
			}
			logging.Infof("Database migrated")
			return nil
		},
	})

	return root
}

func runServer(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := config.AppConfig

	// Initialize database
	if err := database.InitDatabase(); err != nil {
		return err
	}
	defer database.CloseDatabase()

	store := database.NewEntitlementStore(database.DB)

	receipts := services.NewReceiptClient(services.ReceiptClientConfig{
		ProductionURL:    cfg.VerifyReceiptURL,
		SandboxURL:       cfg.VerifyReceiptSandboxURL,
		SharedSecret:     cfg.AppleSharedSecret,
		Timeout:          cfg.UpstreamTimeout,
		FailureThreshold: cfg.BreakerFailureThreshold,
		OpenTimeout:      cfg.BreakerOpenTimeout,
	})

	tokens, err := services.NewDeveloperTokenSource(cfg.AppleIssuerID, cfg.AppleKeyID, cfg.AppleBundleID, cfg.ApplePrivateKey)
	if err != nil {
		return err
	}
	verifierCfg := services.SignatureVerifierConfig{
		ProductionJWKSURL: cfg.AppleJWKSURL,
		SandboxJWKSURL:    cfg.AppleJWKSSandboxURL,
		CacheTTL:          cfg.AppleJWKSCacheTTL,
		Timeout:           cfg.UpstreamTimeout,
	}
	if tokens != nil {
		verifierCfg.Tokens = tokens
	}

	processorCfg := services.NotificationProcessorConfig{
		Verifier: services.NewSignatureVerifier(verifierCfg),
		Repo:     store,
		BundleID: cfg.AppleBundleID,
	}
	if database.RedisClient != nil {
		processorCfg.Ledger = services.NewRedisNotificationLedger(database.RedisClient, cfg.NotificationTTL)
	} else {
		ledger := services.NewMemoryNotificationLedger(cfg.NotificationTTL)
		defer ledger.Stop()
		processorCfg.Ledger = ledger
	}
	if notifier := services.NewEntitlementNotifier(cfg.EntitlementCallbackURL, cfg.EntitlementCallbackSecret); notifier != nil {
		processorCfg.Notifier = notifier
	}

	// Set Gin mode
	gin.SetMode(cfg.Mode)
	r := gin.Default()

	api.SetupRoutes(r, &api.Handler{
		Entitlements:  services.NewEntitlementService(receipts, store, cfg.AppleProductID),
		Notifications: services.NewNotificationProcessor(processorCfg),
		AuthSecret:    cfg.AuthJWTSecret,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Infof("Starting server on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logging.Infof("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
