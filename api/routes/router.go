package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/assetledger-backend/api/controllers"
	"github.com/angelmondragon/assetledger-backend/api/middleware"
	"github.com/angelmondragon/assetledger-backend/internal/entitlements"
	"github.com/angelmondragon/assetledger-backend/internal/views"
	"github.com/angelmondragon/assetledger-backend/pkg/config"
	"github.com/angelmondragon/assetledger-backend/pkg/db"
	"github.com/angelmondragon/assetledger-backend/pkg/enums"
	"github.com/angelmondragon/assetledger-backend/pkg/logger"
	"github.com/angelmondragon/assetledger-backend/pkg/redis"
)

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP db.Pinger,
	redisClient *redis.Client,
	entitlementService entitlements.Service,
	override controllers.EntitlementOverride,
	downloadGate controllers.DownloadAuthorizer,
	viewService *views.Service,
	metricsHandler http.Handler,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.App.CORSOrigins),
	)

	// a typed nil client must not reach the interface-typed middleware
	var (
		idempotencyStore redis.IdempotencyStore
		limiter          redis.RateLimiter
		readiness        = map[string]controllers.Pinger{"db": dbP}
	)
	if redisClient != nil {
		idempotencyStore = redisClient
		limiter = redisClient
		readiness["redis"] = redisClient
	}

	viewPolicy := middleware.NewRateLimitPolicy("views", cfg.RateLimit.ViewWindow, cfg.RateLimit.ViewIPLimit)
	adminRoles := []string{string(enums.RoleAdmin), string(enums.RoleSystem)}

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, readiness, logg))
	})
	if metricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", metricsHandler)
	}

	r.Route("/api/public", func(r chi.Router) {
		r.Use(middleware.OptionalAuth(cfg.JWT, logg))
		r.Use(middleware.Identity(logg))
		r.With(middleware.RateLimit(viewPolicy, limiter, logg)).
			Post("/assets/{assetId}/views", controllers.RecordAssetView(viewService, logg))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.Identity(logg))

		r.Get("/entitlements", controllers.ListMyEntitlements(entitlementService, logg))
		r.Get("/assets/{assetId}/ownership", controllers.AssetOwnership(entitlementService, logg))
		r.Get("/assets/{assetId}/download", controllers.AssetDownload(downloadGate, logg))
	})

	r.Route("/api/admin/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.RequireRole(logg, adminRoles...))
		r.Use(middleware.Idempotency(idempotencyStore, logg))

		r.Route("/entitlements", func(r chi.Router) {
			r.Post("/", controllers.AdminGrantEntitlement(entitlementService, logg))
			r.Post("/bulk", controllers.AdminBulkGrantEntitlements(entitlementService, logg))
			r.Delete("/bulk", controllers.AdminBulkRevokeEntitlements(override, logg))
			r.Get("/{id}", controllers.AdminGetEntitlement(entitlementService, logg))
			r.Patch("/{id}", controllers.AdminUpdateEntitlement(entitlementService, override, logg))
			r.Delete("/{id}", controllers.AdminDeleteEntitlement(entitlementService, override, logg))
		})
		r.Get("/assets/{assetId}/views", controllers.AdminAssetViewCount(viewService, logg))
	})

	return r
}
