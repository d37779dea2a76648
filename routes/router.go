package routes

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/cppla/storefront/access"
	"github.com/cppla/storefront/config"
	"github.com/cppla/storefront/controllers"
	"github.com/cppla/storefront/middleware"
	"github.com/cppla/storefront/storage"
	"github.com/cppla/storefront/utils"
)

// mountedResources answer 501 for paths they do not define.
var mountedResources = []string{"/api/users", "/api/catalog", "/api/orders", "/api/assets"}

// Deps carries everything the handlers need.
type Deps struct {
	Config config.AppConfig
	DB     *gorm.DB
	Store  storage.Store
	Redis  *redis.Client // optional
	Logger *zap.Logger
}

// SetupRouter wires routes, middlewares, and controllers.
func SetupRouter(deps Deps) *gin.Engine {
	cfg := deps.Config
	switch strings.ToLower(cfg.GinMode) {
	case "debug":
		gin.SetMode(gin.DebugMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.ReleaseMode)
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := gin.New()
	// Request log goes to its own rolling file when configured
	accessLog := logger
	if cfg.GinPath != "" {
		if gl, err := utils.NewRollingFileLogger(cfg.GinPath, cfg.LogLevel, cfg.LogMaxSizeMB, cfg.LogMaxBackups, cfg.LogMaxAgeDays, cfg.LogCompress); err == nil {
			accessLog = gl
		} else {
			logger.Warn("gin access log unavailable, using application logger", zap.Error(err))
		}
	}
	r.Use(utils.Ginzap(accessLog, time.RFC3339, true))
	r.Use(utils.RecoveryWithZap(accessLog, false))

	corsCfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type"},
		ExposeHeaders:    []string{"Content-Length", "Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(cfg.AllowedOrigins) == 0 || (len(cfg.AllowedOrigins) == 1 && cfg.AllowedOrigins[0] == "*") {
		corsCfg.AllowAllOrigins = true
		corsCfg.AllowCredentials = false
	} else {
		corsCfg.AllowOrigins = cfg.AllowedOrigins
	}
	r.Use(cors.New(corsCfg))
	r.MaxMultipartMemory = int64(cfg.MaxUploadMB) << 20

	r.GET("/health", func(ctx *gin.Context) {
		utils.Success(ctx, gin.H{"status": "ok"})
	})

	tokens := utils.NewTokenService(cfg.JWTSecret, cfg.TokenTTL())
	blacklist := utils.NewTokenBlacklist(deps.Redis)
	gate := middleware.NewGate(tokens, blacklist)
	cache := utils.NewCache(deps.Redis, logger)
	images := access.NewImageResolver(deps.Store)
	policy := access.NewPolicy(cfg.LegacyAdminPrecedence)
	if cfg.LegacyAdminPrecedence {
		logger.Warn("legacy asset access rule enabled: admins are denied every asset download")
	}

	userController := controllers.NewUserController(deps.DB, cfg, tokens, blacklist, deps.Store, images, logger)
	catalogController := controllers.NewCatalogController(deps.DB, cfg, deps.Store, images, cache, logger)
	orderController := controllers.NewOrderController(deps.DB, images, logger)
	assetController := controllers.NewAssetController(deps.DB, cfg, deps.Store, policy, cache, logger)

	authRequired := gate.AuthRequired()
	adminOnly := middleware.RequireAdmin()
	authLimit := middleware.RateLimit(cfg.RateLimitPerMinute)

	r.GET("/uploads/*key", assetController.ServePublicFile)

	api := r.Group("/api")

	users := api.Group("/users")
	users.GET("", userController.List)
	users.POST("", authLimit, userController.Register)
	users.POST("/login", authLimit, userController.Login)
	users.POST("/logout", authRequired, userController.Logout)
	users.GET("/me", authRequired, userController.Me)
	users.GET("/:id", userController.Get)
	users.PATCH("/:id", authRequired, userController.Update)
	users.DELETE("/:id", authRequired, adminOnly, userController.Delete)

	catalog := api.Group("/catalog")
	catalog.GET("", gate.OptionalAuth(), catalogController.List)
	catalog.POST("", authRequired, adminOnly, catalogController.Create)
	catalog.GET("/:id", catalogController.Get)
	catalog.PATCH("/:id", authRequired, adminOnly, catalogController.Update)
	catalog.DELETE("/:id", authRequired, adminOnly, catalogController.Delete)

	orders := api.Group("/orders")
	orders.GET("", authRequired, orderController.List)
	orders.POST("", gate.OptionalAuth(), orderController.Create)
	orders.GET("/:id", authRequired, orderController.Get)
	orders.GET("/:id/:customerPhone", orderController.GetByPhone)
	orders.PATCH("/:id", authRequired, adminOnly, orderController.UpdateStatus)

	assets := api.Group("/assets")
	assets.POST("/upload", authRequired, assetController.Upload)
	assets.GET("/public", assetController.ListPublic)
	assets.GET("/private", authRequired, assetController.ListPrivate)
	assets.GET("/uploads/public/:id", assetController.DownloadPublic)
	assets.GET("/uploads/:id", authRequired, assetController.Download)
	assets.GET("/:id/download", authRequired, assetController.Download)
	assets.DELETE("/:id", authRequired, assetController.Delete)

	r.NoRoute(func(ctx *gin.Context) {
		path := strings.TrimSuffix(ctx.Request.URL.Path, "/")
		for _, prefix := range mountedResources {
			if path == prefix || strings.HasPrefix(path, prefix+"/") {
				utils.Error(ctx, http.StatusNotImplemented, 50100, "not implemented")
				return
			}
		}
		utils.Error(ctx, http.StatusNotFound, 40400, "route not found")
	})

	return r
}
