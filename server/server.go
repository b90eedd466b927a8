// Package server exposes the storefront over HTTP.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"goflare.io/storefront"
	"goflare.io/storefront/identity"
	"goflare.io/storefront/mail"
	"goflare.io/storefront/metrics"
	"goflare.io/storefront/payment"
	"goflare.io/storefront/profile"
)

const (
	readHeaderTimeout = 10 * time.Second
	maxWebhookBytes   = 65536
)

type Options struct {
	Addr          string
	AllowedOrigin string
}

type Server struct {
	svc    storefront.Service
	auth   identity.Provider
	signup *profile.Signup
	mailer mail.Mailer
	relay  *payment.WebhookRelay

	allowedOrigin string
	httpServer    *http.Server
	logger        *zap.Logger
}

// New builds the router. auth may be nil, in which case every bearer token is
// rejected; relay may be nil, in which case webhooks answer 503.
func New(svc storefront.Service, auth identity.Provider, signup *profile.Signup, mailer mail.Mailer,
	relay *payment.WebhookRelay, opts Options, logger *zap.Logger) *Server {
	if auth == nil {
		auth = identity.Disabled{}
	}
	s := &Server{
		svc:           svc,
		auth:          auth,
		signup:        signup,
		mailer:        mailer,
		relay:         relay,
		allowedOrigin: opts.AllowedOrigin,
		logger:        logger,
	}
	s.httpServer = &http.Server{
		Addr:              opts.Addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: readHeaderTimeout,
	}
	return s
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.instrument)
	r.Use(s.cors)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", metrics.Handler())
	r.Post("/webhooks/stripe", s.handleStripeWebhook)

	r.Group(func(r chi.Router) {
		r.Use(s.deviceID)
		r.Use(s.session)

		r.Get("/products", s.handleListProducts)
		r.Get("/products/{id}", s.handleGetProduct)
		r.Get("/categories", s.handleCategoryTree)

		r.Route("/cart", func(r chi.Router) {
			r.Get("/", s.handleViewCart)
			r.Delete("/", s.handleClearCart)
			r.Get("/checkout-url", s.handleCheckoutURL)
			r.Post("/items", s.handleAddItem)
			r.Delete("/items/{id}", s.handleRemoveItem)
			r.Post("/items/{id}/increment", s.handleIncrementItem)
			r.Post("/items/{id}/decrement", s.handleDecrementItem)
		})

		r.Route("/auth", func(r chi.Router) {
			r.Get("/me", s.handleMe)
			r.Post("/signin", s.handleSignIn)
			r.Post("/signup", s.handleSignUp)
			r.Post("/signout", s.handleSignOut)
			r.Post("/reset", s.handleResetPassword)
		})

		r.Post("/checkout", s.handleCheckout)
		r.Get("/orders", s.handleListOrders)
		r.Get("/orders/{id}", s.handleGetOrder)
		r.Post("/contact", s.handleContact)
	})

	return r
}

// Run serves until ctx is cancelled, then shuts down within timeout.
func (s *Server) Run(ctx context.Context, timeout time.Duration) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening", zap.String("addr", s.httpServer.Addr))
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.logger.Info("HTTP server stopped")
	return nil
}
