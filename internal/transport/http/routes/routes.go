// Package routes assembles the gin engine: global middleware, the probe and
// document endpoints, and the model-driven catch-all under the API prefix.
package routes

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/Afshari9978/avishan/internal/core/domain"
	"github.com/Afshari9978/avishan/internal/core/port"
	"github.com/Afshari9978/avishan/internal/dispatch"
	"github.com/Afshari9978/avishan/internal/infra/config"
	"github.com/Afshari9978/avishan/internal/transport/http/handlers"
	"github.com/Afshari9978/avishan/internal/transport/http/middleware"
	"github.com/Afshari9978/avishan/internal/usecase"
)

// Options bundles everything the router needs.
type Options struct {
	Config     *config.AppConfig
	Logger     *zap.Logger
	Dispatcher *dispatch.Dispatcher
	Sessions   *usecase.SessionService
	Tracks     port.TrackRepository
	RateLimits port.RateLimitStore
	Metrics    *middleware.HTTPMetrics
	Health     *handlers.HealthHandler

	// OpenAPIDoc is the document synthesized once at startup.
	OpenAPIDoc map[string]any
}

// New builds the fully wired engine.
func New(opts Options) *gin.Engine {
	cfg := opts.Config
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	defaultLanguage := domain.ParseLanguage(cfg.API.Language, domain.LanguageEN)

	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(log))
	r.Use(middleware.CORS([]string{"*"}))
	if opts.Metrics != nil {
		r.Use(opts.Metrics.Handler())
	}

	if opts.Health != nil {
		r.GET("/healthz", opts.Health.Live)
		r.GET("/readyz", opts.Health.Ready)
	}
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	if opts.OpenAPIDoc != nil {
		doc := opts.OpenAPIDoc
		r.GET("/openapi.json", func(c *gin.Context) {
			c.JSON(http.StatusOK, doc)
		})
	}

	prefix := "/" + strings.Trim(cfg.API.Prefix, "/")
	api := r.Group(prefix)
	api.Use(middleware.Envelope(middleware.EnvelopeOptions{
		DefaultLanguage: defaultLanguage,
		Tracks:          opts.Tracks,
		NotMonitored:    cfg.API.NotMonitored,
		Logger:          log,
	}))
	api.Use(middleware.Auth(opts.Sessions, defaultLanguage))

	if opts.RateLimits != nil {
		api.Use(middleware.RateLimiter(opts.RateLimits, middleware.RateLimitRule{
			Scope:       "login",
			MaxAttempts: cfg.RateLimit.LoginMaxAttempts,
			Window:      cfg.RateLimit.WindowDuration,
			Match:       pathSuffixMatcher("/login", "/visit"),
		}, log))
		api.Use(middleware.RateLimiter(opts.RateLimits, middleware.RateLimitRule{
			Scope:       "challenge",
			MaxAttempts: cfg.RateLimit.ChallengeMaxAttempts,
			Window:      cfg.RateLimit.WindowDuration,
			Match:       pathSuffixMatcher("/challenge", "/verify"),
		}, log))
	}

	dispatcher := opts.Dispatcher
	api.Any("/*path", func(c *gin.Context) {
		env := middleware.EnvelopeFromContext(c)
		if env == nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error_message": domain.MsgInternalError.EN,
			})
			return
		}
		if err := dispatcher.Dispatch(c.Request.Context(), env, c.Param("path")); err != nil {
			env.Exception = err
		}
	})

	return r
}

func pathSuffixMatcher(suffixes ...string) func(c *gin.Context) bool {
	return func(c *gin.Context) bool {
		path := strings.TrimRight(c.Request.URL.Path, "/")
		for _, suffix := range suffixes {
			if strings.HasSuffix(path, suffix) {
				return true
			}
		}
		return false
	}
}
