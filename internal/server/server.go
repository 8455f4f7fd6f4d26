package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"freshchain/internal/domain"
	"freshchain/internal/engine"
	"freshchain/internal/engine/auth"
	"freshchain/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine engine.Engine
	Auth   AuthConfig
	Logger *zap.Logger
}

// apiError is the error body every endpoint replies with.
type apiError struct {
	status int
	Detail string `json:"detail" example:"Requested quantity exceeds available quantity"`
	Code   string `json:"code" example:"bad_request"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Detail }

// New returns an HTTP handler exposing the development marketplace backend.
func New(cfg Config) (http.Handler, error) {
	if cfg.Engine.DB == nil {
		return nil, errors.New("engine database required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Auth.Logger == nil {
		cfg.Auth.Logger = logger
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", validationDetail(msg, errs))
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", validationDetail(msg, errs))
	}

	router := chi.NewRouter()
	router.Use(middleware.Recoverer)
	router.Use(requestLogger(logger))
	router.Use(newAuthMiddleware(cfg.Auth))
	router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		respondStatusError(w, newAPIError(http.StatusNotFound, "not_found", "Not Found"))
	})
	hcfg := huma.DefaultConfig("FreshChain Marketplace API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	// Bodies stay free of $schema links.
	hcfg.CreateHooks = nil
	api := humachi.New(router, hcfg)

	h := handlers{engine: cfg.Engine, auth: cfg.Auth, logger: logger}
	registerHealth(api)
	registerAuth(api, h)
	registerOffers(api, h)
	registerRequests(api, h)

	return router, nil
}

type handlers struct {
	engine engine.Engine
	auth   AuthConfig
	logger *zap.Logger
}

func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Debug("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("took", time.Since(start)))
		})
	}
}

func newAPIError(status int, code, detail string) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{status: status, Detail: detail, Code: code}
}

func validationDetail(msg string, errs []error) string {
	if len(errs) == 0 {
		return msg
	}
	parts := make([]string, 0, len(errs))
	for _, err := range errs {
		parts = append(parts, err.Error())
	}
	return fmt.Sprintf("%s: %s", msg, strings.Join(parts, "; "))
}

func (h handlers) handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var fe auth.ForbiddenError
	if errors.As(err, &fe) {
		return newAPIError(http.StatusForbidden, "forbidden", err.Error())
	}
	var oe auth.NotOwnerError
	if errors.As(err, &oe) {
		return newAPIError(http.StatusForbidden, "not_owner", err.Error())
	}
	if errors.Is(err, auth.ErrInvalidCredentials) {
		return newAPIError(http.StatusUnauthorized, "invalid_credentials", "Invalid username or password")
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", "Not found")
	}
	var ie engine.InvalidInputError
	if errors.As(err, &ie) {
		return newAPIError(http.StatusBadRequest, "bad_request", ie.Msg)
	}
	var se engine.StateError
	if errors.As(err, &se) {
		return newAPIError(http.StatusConflict, "conflict", se.Msg)
	}
	h.logger.Error("unhandled error", zap.Error(err))
	return newAPIError(http.StatusInternalServerError, "internal_error", "Internal server error")
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body HealthResponse `json:"body"`
	}, error) {
		return &struct {
			Body HealthResponse `json:"body"`
		}{Body: HealthResponse{Status: "healthy", Network: "freshchain-dev"}}, nil
	})
}

func registerAuth(api huma.API, h handlers) {
	huma.Register(api, huma.Operation{
		OperationID: "login",
		Method:      http.MethodPost,
		Path:        "/auth/login",
		Summary:     "Exchange credentials for a bearer token",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Body LoginRequest `json:"body"`
	}) (*struct {
		Body LoginResponse `json:"body"`
	}, error) {
		u, err := h.engine.Authenticate(ctx, input.Body.Username, input.Body.Password, strings.TrimSpace(input.Body.WalletAddress))
		if err != nil {
			return nil, h.handleError(err)
		}
		token, err := signToken(h.auth, u, time.Now())
		if err != nil {
			return nil, h.handleError(err)
		}
		h.logger.Info("login", zap.String("user", u.Username), zap.String("role", string(u.Role)))
		return &struct {
			Body LoginResponse `json:"body"`
		}{Body: LoginResponse{Success: true, Token: token, User: u, Message: "Login successful"}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/auth/me",
		Summary:     "Current user and role profile",
		Errors:      []int{http.StatusUnauthorized, http.StatusNotFound},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body MeResponse `json:"body"`
	}, error) {
		p, authErr := principalFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		u, err := h.engine.Repo.GetUser(ctx, p.UserID)
		if err != nil {
			return nil, h.handleError(err)
		}
		return &struct {
			Body MeResponse `json:"body"`
		}{Body: MeResponse{User: u, Profile: domain.RoleProfile(u.Role)}}, nil
	})
}
