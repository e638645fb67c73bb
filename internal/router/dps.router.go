// internal/router/dps.router.go
package router

import (
	"net/http"
	"time"

	"deposit-service/internal/handler"
	mw "deposit-service/internal/middleware"
	"deposit-service/pkg/cache"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
)

func SetupRoutes(
	depositHandler *handler.DepositHandler,
	webhookHandler *handler.WebhookHandler,
	auth *mw.AuthMiddleware,
	store *cache.Cache,
	logger *zap.Logger,
) http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(LoggerMiddleware(logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(60 * time.Second))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Health check
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// Gateway callbacks authenticate with signatures, not sessions. Rate
	// limited more generously than the user API.
	r.Group(func(r chi.Router) {
		r.Use(mw.RateLimiter(store, 120, time.Minute, 5*time.Minute, "rl:webhook"))
		r.Post("/webhooks/{gateway}", webhookHandler.HandleWebhook)
	})

	// User API
	r.Route("/deposits", func(r chi.Router) {
		r.Use(auth.Require())
		r.Use(mw.RateLimiter(store, 30, time.Minute, 5*time.Minute, "rl:deposits"))

		r.Post("/address", depositHandler.ProvisionAddresses)
		r.Get("/addresses", depositHandler.ListAddresses)

		r.Post("/invoice", depositHandler.CreateInvoice)
		r.Get("/active", depositHandler.GetActivePayment)
		r.Get("/", depositHandler.ListPayments)
		r.Get("/{id}", depositHandler.GetPayment)
	})

	return r
}

// LoggerMiddleware logs HTTP requests
func LoggerMiddleware(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			logger.Info("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration", time.Since(start)),
				zap.String("remote_addr", r.RemoteAddr))
		})
	}
}
