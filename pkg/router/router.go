package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/jwtauth/v5"
	"github.com/go-chi/render"
	"github.com/tendant/simple-device/pkg/audit"
	"github.com/tendant/simple-device/pkg/client"
	deviceapi "github.com/tendant/simple-device/pkg/device/api"
	"github.com/tendant/simple-device/pkg/metrics"
	"github.com/tendant/simple-device/pkg/ratelimit"
)

// PrefixConfig holds the mount points of the device API
type PrefixConfig struct {
	API     string `env:"DEVICE_API_PREFIX" env-default:"/api/v1"`
	Devices string `env:"DEVICE_PREFIX_DEVICES" env-default:"/devices"`
	Admin   string `env:"DEVICE_PREFIX_ADMIN" env-default:"/admin"`
	Metrics string `env:"DEVICE_METRICS_PATH" env-default:"/metrics"`
}

// Config holds all the dependencies needed to setup routes
type Config struct {
	PrefixConfig PrefixConfig

	DeviceHandle *deviceapi.DeviceHandler

	// JWT authentication
	TokenAuth *jwtauth.JWTAuth

	// Optional
	Metrics *metrics.Metrics
	Limiter *ratelimit.Middleware
	Audit   *audit.Middleware
}

// SetupRoutes mounts the device routes on the provided router
func SetupRoutes(router chi.Router, cfg Config) {
	if cfg.Metrics != nil && cfg.PrefixConfig.Metrics != "" {
		router.Handle(cfg.PrefixConfig.Metrics, cfg.Metrics.Handler())
	}

	router.Route(cfg.PrefixConfig.API, func(r chi.Router) {
		if cfg.Metrics != nil {
			r.Use(cfg.Metrics.Middleware)
		}
		r.Use(client.Verifier(cfg.TokenAuth))
		r.Use(jwtauth.Authenticator(cfg.TokenAuth))
		r.Use(client.AuthUserMiddleware)
		if cfg.Limiter != nil {
			r.Use(cfg.Limiter.Handler)
		}

		// Private endpoint for testing authentication
		r.Get("/private", func(w http.ResponseWriter, r *http.Request) {
			render.PlainText(w, r, http.StatusText(http.StatusOK))
		})

		r.Mount(cfg.PrefixConfig.Devices, deviceapi.Handler(cfg.DeviceHandle))

		r.Route(cfg.PrefixConfig.Admin, func(r chi.Router) {
			if cfg.Audit != nil {
				r.Use(cfg.Audit.Handler)
			}
			r.Mount("/", deviceapi.AdminHandler(cfg.DeviceHandle))
		})
	})
}
