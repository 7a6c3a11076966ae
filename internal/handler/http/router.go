package http

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/ecommerce-fulfillment/internal/metrics"
	"github.com/vasiliy-maslov/ecommerce-fulfillment/internal/payment"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

type RouterDeps struct {
	Engine   Fulfillment
	Orders   OrderReader
	Verifier payment.Verifier
	DB       Pinger
	Metrics  *metrics.Metrics
	Gatherer prometheus.Gatherer
	BaseURL  string
}

func NewRouter(d RouterDeps) *chi.Mux {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(RequestLogger)
	router.Use(middleware.Recoverer)
	if d.Metrics != nil {
		router.Use(d.Metrics.Middleware)
	}

	router.Get("/health", healthHandler(d.DB))
	if d.Gatherer != nil {
		router.Handle("/metrics", metrics.Handler(d.Gatherer))
	}

	NewCheckoutHandler(d.Engine).RegisterRoutes(router)
	NewWebhookHandler(d.Verifier, d.Engine).RegisterRoutes(router)
	NewOrderHandler(d.Orders, d.Engine, d.BaseURL).RegisterRoutes(router)

	return router
}

func healthHandler(db Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if db != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := db.Ping(ctx); err != nil {
				log.Error().Err(err).Msg("Health check failed")
				respondWithError(w, http.StatusServiceUnavailable, "database unavailable")
				return
			}
		}
		respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// RequestLogger writes one zerolog event per request.
func RequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		event := log.Info()
		if status >= http.StatusInternalServerError {
			event = log.Error()
		}
		event.
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Int("bytes", ww.BytesWritten()).
			Dur("duration", time.Since(start)).
			Msg("HTTP request")
	})
}
