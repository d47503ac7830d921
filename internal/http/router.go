package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type RouterConfig struct {
	Carts              CartService
	Accounts           AccountService
	Identity           IdentityResolver
	RequestTimeout     time.Duration
	MaxRequestBodySize int64
	SecureCookies      bool
	// AccessLog enables chi's request logger.
	AccessLog bool
}

func NewRouter(cfg RouterConfig) http.Handler {
	cartHandler := NewCartHandler(cfg.Carts, cfg.RequestTimeout)
	userHandler := NewUserHandler(cfg.Accounts, cfg.RequestTimeout, cfg.SecureCookies)

	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(requestIDHeader)
	if cfg.AccessLog {
		r.Use(middleware.Logger)
	}
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(cfg.RequestTimeout))
	r.Use(MaxBodySize(cfg.MaxRequestBodySize))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Post("/signup", userHandler.Signup)
	r.Post("/login", userHandler.Login)

	r.Group(func(r chi.Router) {
		r.Use(RequireSession(cfg.Identity))

		r.Post("/logout", userHandler.Logout)
		r.Get("/profile", userHandler.Profile)

		r.Route("/cart", func(r chi.Router) {
			r.Get("/", cartHandler.GetCart)
			r.Post("/add", cartHandler.AddItem)
			r.Post("/update", cartHandler.UpdateItem)
			r.Post("/remove", cartHandler.RemoveItem)
		})
	})

	return otelhttp.NewHandler(r, "storefront-http")
}

func requestIDHeader(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := middleware.GetReqID(r.Context()); id != "" {
			w.Header().Set(middleware.RequestIDHeader, id)
		}
		next.ServeHTTP(w, r)
	})
}
