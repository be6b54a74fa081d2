// Package chi serves the REST API on a go-chi router.
package chi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	gochi "github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/newsiq/newsengine/internal/domain"
	"github.com/newsiq/newsengine/internal/logger"
	"github.com/newsiq/newsengine/internal/metrics"
	healthuc "github.com/newsiq/newsengine/internal/usecase/health"
)

const maxBodyBytes = 1 << 20

// errorHandler tries to handle a domain error. Returns true if handled.
type errorHandler func(w http.ResponseWriter, err error) bool

// Deps are the use cases served over HTTP.
type Deps struct {
	Feed      FeedService
	Articles  ArticleService
	Research  ResearchService
	Stories   StoryService
	Ingestion IngestionService
	Health    HealthService
}

// AuthConfig configures route protection.
type AuthConfig struct {
	JWTSecret string
	AdminKeys []string
}

// Server holds the HTTP handlers.
type Server struct {
	deps          Deps
	auth          AuthConfig
	validate      *validator.Validate
	logger        *zap.Logger
	errorHandlers []errorHandler
}

// NewServer creates an HTTP API server.
func NewServer(deps Deps, auth AuthConfig, logger *zap.Logger) *Server {
	s := &Server{
		deps:     deps,
		auth:     auth,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger,
	}
	// Order matters: the first matching sentinel wins.
	s.errorHandlers = []errorHandler{
		sentinelHandler(domain.ErrNotFound, http.StatusNotFound, codeNotFound),
		sentinelHandler(domain.ErrArticleNotFound, http.StatusNotFound, codeNotFound),
		sentinelHandler(domain.ErrClusterNotFound, http.StatusNotFound, codeNotFound),
		sentinelHandler(domain.ErrUserNotFound, http.StatusNotFound, codeNotFound),
		sentinelHandler(domain.ErrSourceNotFound, http.StatusNotFound, codeNotFound),
		invalidInputHandler,
		sentinelHandler(domain.ErrUnauthorized, http.StatusUnauthorized, codeUnauthorized),
		sentinelHandler(domain.ErrUpstreamUnavailable, http.StatusBadGateway, codeUpstreamUnavailable),
		sentinelHandler(domain.ErrProviderRejected, http.StatusBadGateway, codeUpstreamUnavailable),
		sentinelHandler(domain.ErrGenerationTimeout, http.StatusGatewayTimeout, codeGenerationTimeout),
		sentinelHandler(domain.ErrSourceExhausted, http.StatusConflict, codeSourceExhausted),
		sentinelHandler(context.DeadlineExceeded, http.StatusGatewayTimeout, codeGenerationTimeout),
	}
	return s
}

// Handler builds the router with middleware and all routes.
func (s *Server) Handler() http.Handler {
	r := gochi.NewRouter()
	r.Use(Recoverer(s.logger))
	r.Use(chimw.RequestID)
	r.Use(RequestLogger(s.logger))
	r.Use(metrics.Middleware())

	r.Get("/health", s.HealthCheck)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/feed/{id}", s.GetArticle)
	r.Get("/stories", s.ListStories)
	r.Get("/stories/{id}", s.GetStory)

	r.Group(func(r gochi.Router) {
		r.Use(JWTAuthMiddleware([]byte(s.auth.JWTSecret)))
		r.Get("/feed", s.GetFeed)
		r.Get("/feed/bookmarks", s.GetBookmarks)
		r.Post("/user/interactions", s.RecordInteraction)
		r.Get("/user/preferences", s.GetPreferences)
		r.Post("/user/preferences", s.UpdatePreferences)
		r.Post("/research/analyze", s.Analyze)
	})

	r.Route("/admin", func(r gochi.Router) {
		r.Use(AdminKeyMiddleware(s.auth.AdminKeys))
		r.Get("/sources", s.ListSources)
		r.Post("/sources/{id}/reactivate", s.ReactivateSource)
		r.Post("/fetch-feeds", s.FetchFeeds)
		r.Post("/cluster-sweep", s.ClusterSweep)
		r.Post("/cleanup-cache", s.CleanupCache)
		r.Post("/research/invalidate", s.Invalidate)
		r.Get("/status", s.Status)
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, codeNotFound, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, codeBadRequest, "method not allowed")
	})
	return r
}

// HealthCheck handles GET /health.
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	report := s.deps.Health.Check(r.Context())

	checks := make(map[string]string, len(report.Checks))
	for k, v := range report.Checks {
		checks[k] = string(v)
	}

	httpStatus := http.StatusOK
	if report.Status == healthuc.Unhealthy {
		httpStatus = http.StatusServiceUnavailable
	}
	writeJSON(w, httpStatus, healthResponse{Status: string(report.Status), Checks: checks})
}

// decode reads a JSON body into v and validates it.
func (s *Server) decode(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", domain.ErrInvalidInput)
	}
	if err := s.validate.Struct(v); err != nil {
		return fmt.Errorf("%s: %w", validationMessage(err), domain.ErrInvalidInput)
	}
	return nil
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := strings.ToLower(fe.Field())
		if fe.Param() != "" {
			parts = append(parts, fmt.Sprintf("%s failed %s=%s", field, fe.Tag(), fe.Param()))
		} else {
			parts = append(parts, fmt.Sprintf("%s failed %s", field, fe.Tag()))
		}
	}
	return strings.Join(parts, "; ")
}

// intParam parses an optional positive integer query parameter.
func intParam(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer: %w", name, domain.ErrInvalidInput)
	}
	return v, nil
}

func boolParam(r *http.Request, name string, def bool) (bool, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("%s must be a boolean: %w", name, domain.ErrInvalidInput)
	}
	return v, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code ErrorCode, message string) {
	writeJSON(w, status, ErrorResponse{Code: code, Message: message})
}

// safeDomainMessage returns a sentinel error message for the client without exposing internals.
func safeDomainMessage(err error) string {
	sentinels := []error{
		domain.ErrArticleNotFound,
		domain.ErrClusterNotFound,
		domain.ErrUserNotFound,
		domain.ErrSourceNotFound,
		domain.ErrNotFound,
		domain.ErrUnauthorized,
		domain.ErrUpstreamUnavailable,
		domain.ErrGenerationTimeout,
		domain.ErrSourceExhausted,
	}
	for _, s := range sentinels {
		if errors.Is(err, s) {
			return s.Error()
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "request timed out"
	}
	return "internal error"
}

// sentinelHandler returns an errorHandler that matches a single sentinel error.
func sentinelHandler(sentinel error, status int, code ErrorCode) errorHandler {
	return func(w http.ResponseWriter, err error) bool {
		if !errors.Is(err, sentinel) {
			return false
		}
		writeError(w, status, code, safeDomainMessage(err))
		return true
	}
}

// invalidInputHandler echoes the validation message, which never carries internal detail.
func invalidInputHandler(w http.ResponseWriter, err error) bool {
	if !errors.Is(err, domain.ErrInvalidInput) {
		return false
	}
	writeError(w, http.StatusBadRequest, codeValidationFailed, err.Error())
	return true
}

func (s *Server) handleDomainError(w http.ResponseWriter, r *http.Request, err error) {
	log := logger.FromContext(r.Context())
	for _, h := range s.errorHandlers {
		if h(w, err) {
			log.Warn("domain error", zap.Error(err))
			return
		}
	}
	log.Error("internal error", zap.Error(err))
	writeError(w, http.StatusInternalServerError, codeInternalError, "internal error")
}
