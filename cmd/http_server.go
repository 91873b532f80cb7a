package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"
	gormpostgres "gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/bandroomhq/settlement/internal"
	"github.com/bandroomhq/settlement/internal/auth"
	bandpg "github.com/bandroomhq/settlement/internal/band/postgres"
	"github.com/bandroomhq/settlement/internal/core/events"
	"github.com/bandroomhq/settlement/internal/donation"
	donationpg "github.com/bandroomhq/settlement/internal/donation/postgres"
	"github.com/bandroomhq/settlement/internal/notifier"
	"github.com/bandroomhq/settlement/internal/payment"
	paymentpg "github.com/bandroomhq/settlement/internal/payment/postgres"
	"github.com/bandroomhq/settlement/internal/receipt"
	receiptpg "github.com/bandroomhq/settlement/internal/receipt/postgres"
	"github.com/bandroomhq/settlement/internal/transport/rest"
	"github.com/bandroomhq/settlement/pkg/logger"
)

var httpServerCmd = &cobra.Command{
	Use:   "server",
	Short: "Start HTTP server",
	Long:  `Start the HTTP server to handle API requests`,
	Run: func(cmd *cobra.Command, args []string) {
		startHTTPServer()
	},
}

type Dependencies struct {
	Config          *internal.Config
	DB              *sqlx.DB
	GormDB          *gorm.DB
	Router          *chi.Mux
	EventBus        *events.EventBus
	PaymentHandler  *payment.Handler
	DonationHandler *donation.Handler
	ReceiptHandler  *receipt.Handler
	AuthMiddleware  *auth.Middleware
	Logger          *slog.Logger
}

func startHTTPServer() {
	deps, err := initializeDependencies()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize dependencies: %v\n", err)
		os.Exit(1)
	}

	rest.RegisterAllRoutes(deps.Router, deps.DB.DB, deps.AuthMiddleware, deps.PaymentHandler, deps.DonationHandler, deps.ReceiptHandler, deps.Logger)

	addr := fmt.Sprintf(":%d", deps.Config.Server.Port)
	slog.Info("Starting HTTP server", "address", addr)

	server := &http.Server{
		Addr:         addr,
		Handler:      deps.Router,
		ReadTimeout:  deps.Config.Server.ReadTimeout,
		WriteTimeout: deps.Config.Server.WriteTimeout,
		IdleTimeout:  deps.Config.Server.IdleTimeout,
	}

	// Signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	serverErrChan := make(chan error, 1)
	go func() {
		serverErrChan <- server.ListenAndServe()
	}()

	select {
	case sig := <-sigChan:
		slog.Info("Received signal, shutting down...", "signal", sig)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}
		if err := deps.DB.Close(); err != nil {
			slog.Error("Database close error", "error", err)
		}
	case err := <-serverErrChan:
		if err != nil && err != http.ErrServerClosed {
			slog.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}

	slog.Info("Server stopped")
}

func initializeDependencies() (*Dependencies, error) {
	config, err := loadConfig(".")
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	db, err := initDB(config.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	gormDB, err := initGorm(db)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize orm: %w", err)
	}

	lg := logger.L()

	publicKey, err := config.Security.GetPublicKey()
	if err != nil {
		return nil, fmt.Errorf("failed to load JWT public key: %w", err)
	}
	authMiddleware := auth.NewMiddleware(auth.NewVerifier(publicKey), lg)

	eventBus := events.NewEventBus(lg)
	if config.Notifier.WebhookURL != "" {
		wh := notifier.New(config.Notifier.WebhookURL, config.Notifier.RequestTimeout, config.Notifier.MaxRetryTime, lg)
		wh.Register(eventBus)
	}

	directory := bandpg.NewBandDirectory(gormDB)

	paymentRepo := paymentpg.NewPaymentRepository(gormDB)
	paymentService := payment.NewService(paymentRepo, directory, eventBus, lg, config.Settlement.AutoConfirmWindow)

	donationRepo := donationpg.NewDonationRepository(gormDB)
	donationService := donation.NewService(donationRepo, directory, eventBus, lg, config.Settlement.SubmissionGrace, config.Settlement.MissedThreshold)

	receiptRepo := receiptpg.NewReceiptRepository(gormDB)
	receiptService := receipt.NewService(receiptRepo, lg)

	return &Dependencies{
		Config:          config,
		Logger:          lg,
		DB:              db,
		GormDB:          gormDB,
		Router:          chi.NewRouter(),
		EventBus:        eventBus,
		PaymentHandler:  payment.NewHandler(paymentService),
		DonationHandler: donation.NewHandler(donationService),
		ReceiptHandler:  receipt.NewHandler(receiptService),
		AuthMiddleware:  authMiddleware,
	}, nil
}

// initDB initializes the database connection
func initDB(cfg internal.DatabaseConfig) (*sqlx.DB, error) {
	const driver = "pgx"

	dbConn, err := sqlx.Connect(driver, cfg.Source)
	if err != nil {
		return nil, fmt.Errorf("failed to open db connection: %w", err)
	}

	dbConn.SetMaxIdleConns(cfg.MaxIdleConns)
	dbConn.SetMaxOpenConns(cfg.MaxOpenConns)
	dbConn.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	dbConn.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	// verify connection; close underlying *sql.DB on failure
	if err := dbConn.Ping(); err != nil {
		_ = dbConn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return dbConn, nil
}

// initGorm layers the ORM over the already open pgx connection pool.
func initGorm(db *sqlx.DB) (*gorm.DB, error) {
	return gorm.Open(gormpostgres.New(gormpostgres.Config{Conn: db.DB}), &gorm.Config{})
}
