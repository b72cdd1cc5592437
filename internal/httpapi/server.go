// Package httpapi exposes the storefront over HTTP.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"storefront/internal/checkout"
	"storefront/internal/history"
	"storefront/internal/order"
	"storefront/internal/ratelimit"
	"storefront/internal/reconcile"
	"storefront/internal/shipping"
)

type OrderReader interface {
	GetOrder(ctx context.Context, id string) (*order.Order, error)
}

type Deps struct {
	Reconciler *reconcile.Reconciler
	Shipping   *shipping.Service
	Checkout   *checkout.Service
	Orders     OrderReader
	History    history.Journal
	// WebhookLimiter budgets webhook deliveries per source IP.
	WebhookLimiter ratelimit.Limiter
	// Ping reports readiness for /health. nil means always ready.
	Ping           func(ctx context.Context) error
	Logger         *slog.Logger
	AllowedOrigins []string
	RequestTimeout time.Duration
}

type Handlers struct {
	reconciler *reconcile.Reconciler
	shipping   *shipping.Service
	checkout   *checkout.Service
	orders     OrderReader
	history    history.Journal
	ping       func(ctx context.Context) error
	logger     *slog.Logger
}

// NewRouter builds the chi router with the full middleware chain.
func NewRouter(d Deps) http.Handler {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := d.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	origins := d.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	h := &Handlers{
		reconciler: d.Reconciler,
		shipping:   d.Shipping,
		checkout:   d.Checkout,
		orders:     d.Orders,
		history:    d.History,
		ping:       d.Ping,
		logger:     logger,
	}

	r := chi.NewRouter()
	r.Use(traceID)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestLogger(&middleware.DefaultLogFormatter{
		Logger:  slog.NewLogLogger(logger.Handler(), slog.LevelInfo),
		NoColor: true,
	}))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(timeout))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "Authorization", "X-Request-Id"},
		ExposedHeaders: []string{"X-Trace-Id"},
		MaxAge:         300,
	}))
	r.Use(optionsOK)

	// Without a gateway there is nothing to reconcile against.
	if d.Reconciler != nil {
		r.Route("/webhooks", func(r chi.Router) {
			if d.WebhookLimiter != nil {
				r.Use(rateLimit(d.WebhookLimiter, logger))
			}
			r.Post("/barion", h.BarionWebhook)
		})
	}

	r.Route("/shipping", func(r chi.Router) {
		r.Post("/create-shipment", h.CreateShipment)
		r.Get("/pickup-points", h.PickupPoints)
		r.Get("/track", h.Track)
	})

	r.Post("/checkout", h.Checkout)
	r.Get("/orders/{orderID}", h.GetOrder)
	r.Get("/orders/{orderID}/history", h.GetOrderHistory)
	r.Get("/health", h.Health)

	return r
}
