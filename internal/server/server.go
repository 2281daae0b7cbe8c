package server

import (
	"context"
	"crypto/subtle"
	"encoding/csv"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"reddot-watch/feedcache/internal/feed"
	"reddot-watch/feedcache/internal/server/api"
)

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// StaleUsers lists users a stale sweep would target.
type StaleUsers interface {
	FindUsersNeedingRegeneration(ctx context.Context, minValidRows, batchLimit int) ([]string, error)
}

// Deps are the components the HTTP surface serves.
type Deps struct {
	DB       Pinger
	Pager    feed.Pager
	Commands api.Commands
	Stale    StaleUsers

	// APIKey guards the admin routes; empty disables the check.
	APIKey string
	// AdminRateLimit is the number of admin requests allowed per minute per IP; 0 disables it.
	AdminRateLimit int
}

// apiKeyMiddleware checks for the X-API-Key header and validates it against the provided key.
// If key is empty, it allows all requests.
func apiKeyMiddleware(apiKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if apiKey == "" {
				next.ServeHTTP(w, r)
				return
			}

			reqApiKey := r.Header.Get("X-API-Key")
			if reqApiKey == "" {
				http.Error(w, "API key required", http.StatusUnauthorized)
				return
			}

			if subtle.ConstantTimeCompare([]byte(reqApiKey), []byte(apiKey)) != 1 {
				http.Error(w, "Invalid API key", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// NewHandler builds the router with logging middleware, feed routes and admin routes.
func NewHandler(deps Deps, logger zerolog.Logger) http.Handler {
	r := chi.NewRouter()

	// Set up middleware chain for logging and request tracking
	r.Use(hlog.NewHandler(logger))
	r.Use(hlog.MethodHandler("method"))
	r.Use(hlog.URLHandler("url"))
	r.Use(hlog.RemoteAddrHandler("remote_addr"))
	r.Use(hlog.UserAgentHandler("user_agent"))
	r.Use(hlog.RequestIDHandler("req_id", "Request-Id"))
	r.Use(hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		idReq, _ := hlog.IDFromRequest(r)

		hlog.FromRequest(r).Info().
			Str("method", r.Method).
			Stringer("url", r.URL).
			Int("status", status).
			Int("size", size).
			Dur("duration", duration).
			Str("req_id", idReq.String()).
			Msg("HTTP Request")
	}))

	r.Get("/health", healthCheckHandler(deps.DB))
	r.Handle("/metrics", promhttp.Handler())

	feedHandler := api.NewFeedHandler(deps.Pager)
	r.Get("/v1/users/{userID}/feed", feedHandler.GetFeed)

	adminHandler := api.NewAdminHandler(deps.Commands)
	r.Route("/v1/admin", func(r chi.Router) {
		if deps.AdminRateLimit > 0 {
			r.Use(httprate.LimitByIP(deps.AdminRateLimit, time.Minute))
		}
		r.Use(apiKeyMiddleware(deps.APIKey))

		r.Post("/refresh/users/{userID}", adminHandler.RefreshUser)
		r.Post("/refresh/stale", adminHandler.RefreshStale)
		r.Post("/refresh/all", adminHandler.RefreshAll)
		r.Get("/stale-users", exportStaleUsersHandler(deps.Stale))
	})

	if deps.APIKey != "" {
		logger.Info().Msg("Admin API key authentication enabled")
	} else {
		logger.Warn().Msg("Admin API key authentication disabled")
	}

	return r
}

// newHTTPServer leaves WriteTimeout unset: admin refreshes hold the response open
// until the whole sweep finishes, and sweeps grow with the user population.
func newHTTPServer(deps Deps, listenAddr string, logger zerolog.Logger) *http.Server {
	return &http.Server{
		Addr:              listenAddr,
		Handler:           NewHandler(deps, logger),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}

// RunServer starts the HTTP server with graceful shutdown support.
// It sets up routes, middleware, and handles OS signals for clean termination.
func RunServer(deps Deps, listenAddr string, logger zerolog.Logger) error {
	// Add service identifier to the logger
	logger = logger.With().Str("service", "feedcache-api").Logger()

	httpServer := newHTTPServer(deps, listenAddr, logger)

	serverErr := make(chan error, 1)
	go func() {
		logger.Info().Str("address", listenAddr).Msg("API Server starting")
		err := httpServer.ListenAndServe()
		if !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(shutdown)

	select {
	case err := <-serverErr:
		logger.Error().Err(err).Msg("Server failed to start")
		return err

	case sig := <-shutdown:
		logger.Info().Str("signal", sig.String()).Msg("Shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("HTTP server shutdown error")
			if err := httpServer.Close(); err != nil {
				logger.Error().Err(err).Msg("HTTP server force close error")
			}
		} else {
			logger.Info().Msg("HTTP server shutdown complete.")
		}
		if err := <-serverErr; err != nil {
			logger.Error().Err(err).Msg("ListenAndServe error during shutdown")
		}
	}

	logger.Info().Msg("Server exiting.")
	return nil
}

// healthCheckHandler responds 200 OK while the database answers pings, 503 otherwise.
func healthCheckHandler(db Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := hlog.FromRequest(r)
		log.Debug().Msg("Health check request received")

		if db != nil {
			if err := db.PingContext(r.Context()); err != nil {
				log.Error().Err(err).Msg("Health check database ping failed")
				http.Error(w, "database unavailable", http.StatusServiceUnavailable)
				return
			}
		}

		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		n, err := w.Write([]byte("OK"))
		if err != nil {
			log.Error().Err(err).Msg("Error writing health check response")
		} else {
			log.Debug().Int("bytes_written", n).Msg("Health check response sent")
		}
	}
}

// exportStaleUsersHandler returns the users a stale sweep would target as CSV.
func exportStaleUsersHandler(stale StaleUsers) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := hlog.FromRequest(r)
		log.Debug().Msg("Export stale users request received")

		if stale == nil {
			http.Error(w, http.StatusText(http.StatusNotImplemented), http.StatusNotImplemented)
			return
		}

		var minValidRows, batchLimit int
		for name, dst := range map[string]*int{"min_valid_rows": &minValidRows, "batch_limit": &batchLimit} {
			v := r.URL.Query().Get(name)
			if v == "" {
				continue
			}
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				http.Error(w, "Invalid '"+name+"' parameter: must be a positive integer", http.StatusBadRequest)
				return
			}
			*dst = n
		}

		users, err := stale.FindUsersNeedingRegeneration(r.Context(), minValidRows, batchLimit)
		if err != nil {
			log.Error().Err(err).Msg("Failed to query stale users")
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", "attachment; filename=stale-users.csv")

		csvWriter := csv.NewWriter(w)
		if err := csvWriter.Write([]string{"user_id"}); err != nil {
			log.Error().Err(err).Msg("Failed to write CSV header")
			http.Error(w, "Error generating CSV", http.StatusInternalServerError)
			return
		}
		for _, userID := range users {
			if err := csvWriter.Write([]string{userID}); err != nil {
				log.Error().Err(err).Msg("Failed to write CSV record")
				return
			}
		}

		csvWriter.Flush()
		if err := csvWriter.Error(); err != nil {
			log.Error().Err(err).Msg("Error flushing CSV data")
			return
		}

		log.Info().Int("user_count", len(users)).Msg("Exported stale users as CSV")
	}
}
