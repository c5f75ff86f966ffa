// Package control implements the optional authenticated HTTP control
// plane: a small chi router exposing out-of-band reload/rehash/status
// operations and the Prometheus scrape route. It exists for hosts
// where the signal-based admin path (SIGHUP/SIGUSR1) isn't available,
// and is off by default — the core agent runs identically without it.
package control

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/ulule/limiter/v3"
	lmw "github.com/ulule/limiter/v3/drivers/middleware/stdlib"
	"github.com/ulule/limiter/v3/drivers/store/memory"

	"github.com/relaycore/relaybot/internal/buildinfo"
	"github.com/relaycore/relaybot/internal/connwatch"
)

// Reloader is the subset of reload.Controller the control plane drives.
type Reloader interface {
	Reload() error
	Rehash() error
}

// StatusProvider supplies the data behind GET /status. cmd/relaybot
// wires a small adapter over session.Session, whose State() returns a
// session.State rather than a bare string.
type StatusProvider interface {
	State() string
	CurrentNick() string
	JoinedRooms() []string
}

// WatcherStatus is the subset of connwatch.Manager's health data
// surfaced over /status, keyed by ai_service name.
type WatcherStatus interface {
	Status() map[string]connwatch.ServiceStatus
}

// Config configures the control plane's listener and auth.
type Config struct {
	Address            string
	Port               int
	AuthKey            string
	RateLimitPerMinute int
}

// Server wraps the chi router and the underlying http.Server.
type Server struct {
	cfg    Config
	http   *http.Server
	logger *slog.Logger
}

// New builds a control plane server. It does not start listening until
// ListenAndServe is called.
func New(cfg Config, reload Reloader, status StatusProvider, watchers WatcherStatus, registry *prometheus.Registry, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(logger))

	auth := bearerAuth(cfg.AuthKey, logger)

	rate, _ := limiter.NewRateFromFormatted(strconv.Itoa(cfg.RateLimitPerMinute) + "-M")
	writeLimiter := lmw.NewMiddleware(limiter.New(memory.NewStore(), rate))

	r.Route("/", func(r chi.Router) {
		r.Use(auth)

		r.Get("/status", statusHandler(status, watchers))
		r.Get("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}).ServeHTTP)

		r.Group(func(r chi.Router) {
			r.Use(writeLimiter.Handler)
			r.Post("/reload", reloadHandler(reload.Reload, logger))
			r.Post("/rehash", reloadHandler(reload.Rehash, logger))
		})
	})

	addr := cfg.Address + ":" + strconv.Itoa(cfg.Port)
	return &Server{
		cfg:    cfg,
		logger: logger,
		http: &http.Server{
			Addr:              addr,
			Handler:           r,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// ListenAndServe starts the HTTP listener. It blocks until the server
// stops (normally via Shutdown), matching http.Server's contract.
func (s *Server) ListenAndServe() error {
	return s.http.ListenAndServe()
}

// Shutdown gracefully stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// requestLogger tags every request with a correlation ID, carried in the
// response so an operator can match a reload/rehash call back to its log
// line.
func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			reqID := uuid.New().String()
			w.Header().Set("X-Request-Id", reqID)

			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, req.ProtoMajor)
			next.ServeHTTP(ww, req)
			logger.Info("control request", "request_id", reqID, "method", req.Method, "path", req.URL.Path,
				"status", ww.Status(), "duration", time.Since(start))
		})
	}
}

// bearerAuth checks the Authorization header against an HS256 token
// signed with authKey. A missing or invalid token is rejected with 401
// before the handler runs, per SPEC_FULL.md's control-plane auth rule.
func bearerAuth(authKey string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			token, err := extractBearer(req.Header.Get("Authorization"))
			if err != nil {
				logger.Warn("control auth rejected", "path", req.URL.Path, "error", err)
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			parsed, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, jwt.ErrSignatureInvalid
				}
				return []byte(authKey), nil
			})
			if err != nil || !parsed.Valid {
				logger.Warn("control auth rejected", "path", req.URL.Path, "error", err)
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, req)
		})
	}
}

var errInvalidAuthHeader = errors.New("missing or malformed Authorization header")

func extractBearer(header string) (string, error) {
	const prefix = "Bearer "
	if len(header) <= len(prefix) || header[:len(prefix)] != prefix {
		return "", errInvalidAuthHeader
	}
	return header[len(prefix):], nil
}

func reloadHandler(fn func() error, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if err := fn(); err != nil {
			logger.Warn("control reload failed", "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	}
}

func statusHandler(status StatusProvider, watchers WatcherStatus) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		var watcherStatus map[string]connwatch.ServiceStatus
		if watchers != nil {
			watcherStatus = watchers.Status()
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"state":    status.State(),
			"nick":     status.CurrentNick(),
			"rooms":    status.JoinedRooms(),
			"watchers": watcherStatus,
			"build":    buildinfo.RuntimeInfo(),
		})
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// IssueToken mints the long-lived HS256 bearer token an operator
// configures into their admin client. Not served by any route; run via
// a one-off command when provisioning control.auth_key.
func IssueToken(authKey, subject string) (string, error) {
	claims := jwt.RegisteredClaims{Subject: subject, IssuedAt: jwt.NewNumericDate(time.Now())}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(authKey))
}
