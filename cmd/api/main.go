package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	sentrygin "github.com/getsentry/sentry-go/gin"
	"github.com/gin-contrib/gzip"
	_ "github.com/joho/godotenv/autoload"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/consultia/billing-api/docs" // Swagger docs
	"github.com/consultia/billing-api/internal/config"
	"github.com/consultia/billing-api/internal/database"
	"github.com/consultia/billing-api/internal/gateway"
	"github.com/consultia/billing-api/internal/handlers"
	"github.com/consultia/billing-api/internal/jobs"
	"github.com/consultia/billing-api/internal/middleware"
	"github.com/consultia/billing-api/internal/repository"
	"github.com/consultia/billing-api/internal/services"
	"github.com/consultia/billing-api/internal/storage"
	"github.com/consultia/billing-api/pkg/logger"

	"github.com/gin-gonic/gin"
)

// @title Consultia Billing API
// @version 1.0
// @description Billing and settlement API for the Consultia consulting marketplace
// @termsOfService http://swagger.io/terms/

// @contact.name API Support
// @contact.email support@consultia.app

// @license.name Apache 2.0
// @license.url http://www.apache.org/licenses/LICENSE-2.0.html

// @host localhost:8080
// @BasePath /api/v1
// @schemes http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize logger
	logger.Setup(cfg.Environment)

	// Initialize Sentry when DSN is configured
	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:              cfg.SentryDSN,
			TracesSampleRate: 0.2,
			Environment:      cfg.Environment,
		}); err != nil {
			logger.Error("Sentry initialization failed", "error", err)
		} else {
			logger.Info("Sentry initialized")
		}
	}

	// Warn early when email is not configured; invoices still flow, receipts
	// and reminders just never reach anyone.
	if cfg.ResendAPIKey == "" || cfg.FromEmail == "" {
		logger.Warn("Resend email disabled: RESEND_API_KEY or FROM_EMAIL not set")
	}

	// Set Gin mode
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	// Connect to database
	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		logger.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	logger.Info("Connected to database")

	if err := database.Migrate(db); err != nil {
		logger.Error("Failed to run migrations", "error", err)
		os.Exit(1)
	}

	// Initialize storage
	store, err := storage.NewLocalStorage(cfg.StoragePath)
	if err != nil {
		logger.Error("Failed to initialize storage", "error", err)
		os.Exit(1)
	}
	logger.Info("Initialized local storage")

	// Initialize repositories
	repos := repository.NewRepositories(db)

	// Initialize background worker
	worker := jobs.NewWorker(cfg.WorkerCount)
	logger.Info("Started background worker", "goroutines", cfg.WorkerCount)

	// Payment gateway client
	gw := gateway.NewStripeGateway(cfg.GatewayAPIKey, cfg.GatewayAccountID)

	// Initialize services
	svcs := services.NewServices(repos, worker, store, gw, cfg, db)

	// Schedule recurring jobs
	scheduleJobs(worker, svcs, repos)

	// Initialize handlers
	h := handlers.NewHandlers(svcs, store, worker)

	// Setup router
	router := setupRouter(h, cfg)

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Info("Server starting", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Failed to start server", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Shutdown HTTP server
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown", "error", err)
	}

	// Shutdown background worker
	worker.Shutdown()
	logger.Info("Background worker stopped")

	// Flush Sentry events before exit
	if cfg.SentryDSN != "" {
		sentry.Flush(5 * time.Second)
	}

	logger.Info("Server exited gracefully")
}

func setupRouter(h *handlers.Handlers, cfg *config.Config) *gin.Engine {
	router := gin.New()

	// Global middleware
	if cfg.SentryDSN != "" {
		router.Use(sentrygin.New(sentrygin.Options{Repanic: true}))
	}
	router.Use(gin.Recovery())
	router.Use(middleware.RequestLogger())
	router.Use(middleware.CORS(cfg.AllowedOrigins))
	router.Use(gzip.Gzip(gzip.DefaultCompression))

	// Redirect root to swagger
	router.GET("/", func(c *gin.Context) {
		c.Redirect(http.StatusMovedPermanently, "/swagger/index.html")
	})

	// Swagger documentation
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// API v1 routes
	v1 := router.Group("/api/v1")
	{
		// Health check (public)
		v1.GET("/health", h.Health.Index)

		// Authentication (public)
		auth := v1.Group("/auth")
		{
			auth.POST("/login", h.Auth.Login)
			auth.POST("/refresh", h.Auth.Refresh)
		}

		// Protected routes (requires authentication)
		protected := v1.Group("")
		protected.Use(middleware.Auth(cfg.JWTSecret))
		{
			protected.POST("/auth/logout", h.Auth.Logout)
			protected.GET("/auth/me", h.Auth.Me)

			// Admin-only routes
			admin := protected.Group("")
			admin.Use(middleware.RequireAdmin())
			{
				// User management
				admin.GET("/users", h.User.Index)
				admin.POST("/users", h.User.Create)
				admin.PUT("/users/:user_id/status", h.User.SetStatus)
				admin.DELETE("/users/:user_id", h.User.Delete)

				// Invoice lifecycle (issuing is a back-office concern)
				admin.POST("/invoices", h.Invoice.Create)
				admin.PUT("/invoices/:invoice_id", h.Invoice.Update)
				admin.POST("/invoices/:invoice_id/send", h.Invoice.Send)
				admin.POST("/invoices/:invoice_id/cancel", h.Invoice.Cancel)

				// Bank transfer review and refunds
				admin.POST("/payments/:id/approve", h.Payment.ApproveBankTransfer)
				admin.POST("/payments/:id/reject", h.Payment.RejectBankTransfer)
				admin.POST("/payments/:id/refund", h.Payment.Refund)
				admin.POST("/payments/payouts", h.Payment.Payout)

				// Ledger exports and aggregates
				admin.GET("/transactions/stats", h.Transaction.Stats)
				admin.GET("/transactions/export", h.Transaction.Export)

				// Audit trail
				admin.GET("/audits", h.Audit.Index)
			}

			// Invoices (list/show are scoped to the caller inside the service)
			protected.GET("/invoices", h.Invoice.Index)
			protected.GET("/invoices/:invoice_id", h.Invoice.Show)
			protected.GET("/invoices/:invoice_id/transactions", h.Invoice.Transactions)
			protected.GET("/invoices/:invoice_id/pdf", h.Invoice.DownloadPDF)

			// Payments
			protected.POST("/payments", h.Payment.Process)
			protected.POST("/payments/:id/receipt", h.Payment.UploadReceipt)
			protected.GET("/payments/:id/receipt", h.Payment.DownloadReceipt)

			// Transactions (non-admins only see their own)
			protected.GET("/transactions", h.Transaction.Index)
			protected.GET("/transactions/statement", h.Transaction.Statement)
			protected.GET("/transactions/:id", h.Transaction.Show)

			// Users (self or admin checks live in the handler)
			protected.GET("/users/:user_id", h.User.Show)
			protected.PUT("/users/me", h.User.UpdateProfile)

			// Notifications
			// Static route first so "mark_all_as_read" is not matched as :notification_id
			notifications := protected.Group("/notifications")
			{
				notifications.GET("", h.Notification.Index)
				notifications.POST("/mark_all_as_read", h.Notification.MarkAllRead)
				notifications.POST("/:notification_id/mark_as_read", h.Notification.MarkRead)
			}
		}
	}

	return router
}

func scheduleJobs(worker *jobs.Worker, svcs *services.Services, repos *repository.Repositories) {
	// Derive overdue status from due dates every hour
	worker.ScheduleEvery("overdue-invoices", 1*time.Hour, func(ctx context.Context) error {
		return svcs.Invoice.CheckOverdueInvoices(ctx)
	})

	// Issue the next invoice in each recurring chain; runs at startup so a
	// redeploy on a billing date still issues that day's invoices
	worker.ScheduleEveryImmediate("recurring-invoices", 1*time.Hour, func(ctx context.Context) error {
		return svcs.Invoice.GenerateDueRecurringInvoices(ctx)
	})

	// Reconcile card payments the gateway settled out of band
	worker.ScheduleEvery("card-payment-sync", 15*time.Minute, func(ctx context.Context) error {
		return svcs.Payment.SyncPendingCardPayments(ctx)
	})

	// Daily overdue reminder emails
	worker.ScheduleEvery("invoice-reminders", 24*time.Hour, func(ctx context.Context) error {
		return svcs.Invoice.SendDailyInvoiceReminders(ctx)
	})

	// Purge expired refresh tokens
	worker.ScheduleEvery("refresh-token-purge", 24*time.Hour, func(ctx context.Context) error {
		return repos.RefreshToken.DeleteExpired(ctx)
	})

	logger.Info("Scheduled recurring jobs")
}
