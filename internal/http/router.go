package http

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robertarktes/ticket-marketplace/internal/observability"
	"github.com/robertarktes/ticket-marketplace/internal/rateLimit"
)

type RouterConfig struct {
	JWTPublicKey     string
	RateLimitPerUser int
	RateLimitPerIP   int

	PaymentWebhookSecret string
}

// SetupRouter wires the public API. rl may be nil, which disables rate limiting.
func SetupRouter(h *Handlers, logger observability.Logger, rl *rateLimit.RateLimiter, cfg RouterConfig) (*chi.Mux, error) {
	principal, err := PrincipalMiddleware(cfg.JWTPublicKey)
	if err != nil {
		return nil, err
	}

	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(RequestIDMiddleware)
	r.Use(LoggerMiddleware(logger))
	r.Use(TracingMiddleware)
	r.Use(MetricsMiddleware)

	r.Get("/healthz", h.Healthz)
	r.Get("/readyz", h.Readyz)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	r.Route("/v1", func(r chi.Router) {
		r.Use(principal)
		if rl != nil {
			r.Use(RateLimitMiddleware(rl, cfg.RateLimitPerUser, cfg.RateLimitPerIP))
		}

		r.Post("/events", h.CreateEvent)
		r.Get("/events/{id}", h.GetEvent)
		r.Post("/events/{id}/prefix", h.OverridePrefix)
		r.Post("/events/{id}/seats/{row}/{col}/cycle", h.CycleSeat)
		r.Get("/events/{id}/codes/preview", h.PreviewCodes)
		r.Get("/events/{id}/listings", h.EventListings)
		r.Get("/bookings/{id}", h.GetBooking)
		r.Get("/me/tickets", h.MyTickets)
		r.With(PaymentSignatureMiddleware(cfg.PaymentWebhookSecret, logger)).Post("/payments/callback", h.PaymentCallback)

		r.Group(func(r chi.Router) {
			r.Use(IdempotencyMiddleware)
			r.Post("/events/{id}/purchases", h.Purchase)
			r.Post("/listings", h.ListTicket)
			r.Post("/listings/{id}/buy", h.BuyListing)
		})
	})

	return r, nil
}
