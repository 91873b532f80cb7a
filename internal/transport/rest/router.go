package rest

import (
	"database/sql"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi"

	"github.com/bandroomhq/settlement/internal/auth"
	"github.com/bandroomhq/settlement/internal/donation"
	"github.com/bandroomhq/settlement/internal/payment"
	"github.com/bandroomhq/settlement/internal/receipt"
	"github.com/bandroomhq/settlement/internal/transport/middleware"
	"github.com/bandroomhq/settlement/internal/transport/swagger"
)

func RegisterAllRoutes(router *chi.Mux, db *sql.DB, authMiddleware *auth.Middleware, paymentHandler *payment.Handler, donationHandler *donation.Handler, receiptHandler *receipt.Handler, logger *slog.Logger) {
	healthHandler := NewHealthHandler(db)

	// Apply global middleware
	router.Use(middleware.CORS)
	router.Use(middleware.RequestID)
	router.Use(middleware.RecoveryMiddleware(logger))
	router.Use(middleware.LoggingMiddleware(logger))

	// Serve OpenAPI spec at root (outside API prefix)
	router.Get("/openapi.yml", func(w http.ResponseWriter, r *http.Request) {
		http.ServeFile(w, r, "./api/openapi.yml")
	})
	// Swagger UI route at root
	router.Handle("/swagger/*", swagger.Handler())

	// Mount API under /api/v1 to match OpenAPI basePath
	router.Route("/api/v1", func(r chi.Router) {
		// Health check route
		r.Get("/health", healthHandler.healthCheckHandler)
		r.Get("/ping", healthHandler.pingHandler)

		// Protected routes that require authentication
		r.Group(func(pr chi.Router) {
			pr.Use(authMiddleware.RequireUser)

			// Cross-band views for the calling user
			pr.Get("/me/pending-confirmations", paymentHandler.PendingConfirmations)
			pr.Get("/me/donations/summary", donationHandler.DonorSummary)

			pr.Route("/bands/{bandID}", func(br chi.Router) {
				// Manual payment lifecycle
				br.Route("/payments", func(pmr chi.Router) {
					pmr.Post("/", paymentHandler.RecordPayment)
					pmr.Get("/", paymentHandler.ListPayments)
					pmr.Get("/{id}", paymentHandler.GetPayment)
					pmr.Post("/{id}/confirm", paymentHandler.ConfirmPayment)
					pmr.Post("/{id}/dispute", paymentHandler.DisputePayment)
					pmr.Post("/{id}/resolve", paymentHandler.ResolvePayment)

					pmr.Post("/{id}/receipts", receiptHandler.AttachReceipt)
					pmr.Get("/{id}/receipts", receiptHandler.ListReceipts)
				})

				// Ad hoc donations and their confirmation flow
				br.Route("/donations", func(dr chi.Router) {
					dr.Post("/", donationHandler.CreateDonation)
					dr.Get("/", donationHandler.ListDonations)
					dr.Post("/{id}/submit", donationHandler.SubmitPayment)
					dr.Post("/{id}/confirm", donationHandler.ConfirmDonation)
					dr.Post("/{id}/reject", donationHandler.RejectDonation)
				})

				// Recurring donation commitments
				br.Route("/recurring-donations", func(rr chi.Router) {
					rr.Post("/", donationHandler.CreateRecurring)
					rr.Post("/{id}/pause", donationHandler.PauseRecurring)
					rr.Post("/{id}/resume", donationHandler.ResumeRecurring)
					rr.Post("/{id}/cancel", donationHandler.CancelRecurring)
				})
			})
		})
	})
}
