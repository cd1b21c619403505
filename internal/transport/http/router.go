package http

import (
	"context"
	"net/http"

	"github.com/comnecter/verifymail/internal/config"
	"github.com/comnecter/verifymail/internal/metrics"
	"github.com/comnecter/verifymail/internal/transport/http/handler"
	appmiddleware "github.com/comnecter/verifymail/internal/transport/http/middleware"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Deps holds the services exposed over HTTP.
type Deps struct {
	Manual handler.ManualSender
	Logger *zap.Logger
}

// NewRouter builds and returns the application router. Background work started for
// the router (rate limiter cleanup) stops when ctx is done.
func NewRouter(ctx context.Context, cfg *config.Config, deps *Deps) http.Handler {
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(appmiddleware.Logging(log))
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	sendRL := appmiddleware.NewRateLimiter(ctx, rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst, cfg.TrustForwardedHeaders)

	healthH := handler.NewHealthHandler()
	verifyH := handler.NewVerificationHandler(deps.Manual)

	r.Handle("/metrics", metrics.Handler())
	r.Route("/v1", func(r chi.Router) {
		r.Get("/health-check/{action}", healthH.Ping)
		r.Post("/health-check/{action}", healthH.Ping)
		r.With(sendRL.Limit).Post("/sendVerificationEmailManual", verifyH.SendManual)
	})

	return r
}
