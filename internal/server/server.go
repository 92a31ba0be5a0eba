// Package server contains HTTP and WebSocket handlers for the application's API endpoints.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "sokoni/docs" // swagger docs
	"sokoni/internal/bootstrap"
	"sokoni/internal/config"
	"sokoni/internal/featureflags"
	"sokoni/internal/middleware"
	"sokoni/internal/models"
	"sokoni/internal/notifications"
	"sokoni/internal/repository"
	"sokoni/internal/scheduler"
	"sokoni/internal/service"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/gofiber/swagger"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Server holds all dependencies and provides handlers
type Server struct {
	config         *config.Config
	db             *gorm.DB
	redis          *redis.Client
	app            *fiber.App
	promMiddleware *fiberprometheus.FiberPrometheus
	shutdownCtx    context.Context
	shutdownFn     context.CancelFunc
	featureFlags   *featureflags.Manager

	userRepo repository.UserRepository

	notifier   *notifications.Notifier
	hub        *notifications.Hub
	sweeper    *scheduler.Scheduler
	authSvc    *service.AuthService
	userSvc    *service.UserService
	storySvc   *service.StoryService
	feedSvc    *service.FeedService
	followSvc  *service.FollowService
	notifySvc  *service.NotificationService
	product    *service.ProductService
	orderSvc   *service.OrderService
	messageSvc *service.MessageService
	media      *service.MediaService
}

// NewServer connects to the database and Redis and builds a Server.
func NewServer(cfg *config.Config) (*Server, error) {
	db, rdb, err := bootstrap.InitRuntime(cfg)
	if err != nil {
		return nil, err
	}
	return NewServerWithDeps(cfg, db, rdb)
}

// NewServerWithDeps creates a Server using already-initialized dependencies.
// A nil Redis client disables caching, revocation and live delivery.
func NewServerWithDeps(cfg *config.Config, db *gorm.DB, redisClient *redis.Client) (*Server, error) {
	flags, err := featureflags.Load(cfg.FeatureFlagsFile, cfg.FeatureFlags)
	if err != nil {
		return nil, fmt.Errorf("feature flags: %w", err)
	}

	userRepo := repository.NewUserRepository(db)
	storyRepo := repository.NewStoryRepository(db)
	followRepo := repository.NewFollowRepository(db)
	productRepo := repository.NewProductRepository(db)
	notificationRepo := repository.NewNotificationRepository(db)
	orderRepo := repository.NewOrderRepository(db)
	messageRepo := repository.NewMessageRepository(db)

	s := &Server{
		config:         cfg,
		db:             db,
		redis:          redisClient,
		promMiddleware: middleware.InitMetrics("sokoni-api"),
		featureFlags:   flags,
		userRepo:       userRepo,
		hub:            notifications.NewHub(),
	}

	var publisher service.Publisher
	if redisClient != nil {
		s.notifier = notifications.NewNotifier(redisClient)
		publisher = s.notifier
	}
	s.notifySvc = service.NewNotificationService(notificationRepo, publisher, cfg.NotifyFanoutWorkers)
	s.hub.OnRead(s.notifySvc.MarkRead)

	tokens := service.NewTokenIssuer(cfg.JWTSecret, cfg.RefreshSecret(), cfg.JWTAccessTTL, cfg.JWTRefreshTTL)
	s.authSvc = service.NewAuthService(userRepo, tokens, service.NewRedisRevoker(redisClient),
		service.LogOTPSender{Production: cfg.IsProduction()}, cfg.OTPTTL)
	s.userSvc = service.NewUserService(userRepo)
	s.storySvc = service.NewStoryService(storyRepo, productRepo, followRepo, s.notifySvc, flags, service.StoryDefaultsFrom(cfg))
	s.feedSvc = service.NewFeedService(storyRepo, followRepo, s.storySvc, cfg.SweepInline())
	s.followSvc = service.NewFollowService(followRepo, userRepo, s.notifySvc, flags)
	s.product = service.NewProductService(productRepo, userRepo)
	s.orderSvc = service.NewOrderService(orderRepo, s.notifySvc)
	s.messageSvc = service.NewMessageService(messageRepo, userRepo, s.notifySvc, publisher)
	s.media = service.NewMediaService(cfg)

	return s, nil
}

// SetupMiddleware configures middleware for the Fiber app
func (s *Server) SetupMiddleware(app *fiber.App) {
	app.Use(recover.New())
	app.Use(requestid.New())

	// Propagates request and user IDs into the request context for logging.
	app.Use(middleware.ContextMiddleware())
	app.Use(middleware.TracingMiddleware())

	if s.promMiddleware != nil {
		app.Use(middleware.MetricsMiddleware(s.promMiddleware))
	}

	app.Use(helmet.New(helmet.Config{CrossOriginResourcePolicy: "cross-origin"}))
	app.Use(middleware.StructuredLogger())

	// CORS runs before the limiter so rejected requests still carry CORS headers.
	origins := s.config.AllowedOrigins
	if origins == "" {
		origins = "http://localhost:5173,http://localhost:3000"
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, Upgrade, Connection, Sec-WebSocket-Key, Sec-WebSocket-Version",
		AllowCredentials: origins != "*",
		MaxAge:           86400,
	}))

	app.Use(limiter.New(limiter.Config{
		Max:        200,
		Expiration: time.Minute,
		Next: func(c *fiber.Ctx) bool {
			return c.Method() == fiber.MethodOptions || !s.config.IsProduction()
		},
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"success": false,
				"error":   "Too many requests, please try again later.",
			})
		},
	}))
}

// SetupRoutes configures all routes for the application
func (s *Server) SetupRoutes(app *fiber.App) {
	app.Get("/health/live", s.LivenessCheck)
	app.Get("/health/ready", s.ReadinessCheck)
	app.Get("/health", s.ReadinessCheck)

	if s.promMiddleware != nil {
		s.promMiddleware.RegisterAt(app, "/metrics")
	}

	mediaPrefix := s.config.MediaPublicPrefix
	if mediaPrefix == "" {
		mediaPrefix = service.DefaultMediaPrefix
	}
	uploadDir := s.config.UploadDir
	if uploadDir == "" {
		uploadDir = service.DefaultUploadDir
	}
	app.Static(mediaPrefix, uploadDir, fiber.Static{ByteRange: true, MaxAge: 3600})

	api := app.Group("/api")
	api.Get("/", s.ReadinessCheck)
	api.Get("/swagger/*", swagger.HandlerDefault)
	api.Get("/metrics/dashboard", monitor.New(monitor.Config{Title: "Sokoni Backend Metrics"}))

	auth := api.Group("/auth")
	auth.Post("/register", middleware.RateLimit(s.redis, 5, 10*time.Minute, "register"), s.Register)
	auth.Post("/verify-otp", middleware.RateLimit(s.redis, 10, 10*time.Minute, "verify_otp"), s.VerifyOTP)
	auth.Post("/resend-otp", middleware.RateLimit(s.redis, 3, 10*time.Minute, "resend_otp"), s.ResendOTP)
	auth.Post("/login", middleware.RateLimit(s.redis, 10, 5*time.Minute, "login"), s.Login)
	auth.Post("/refresh", s.RefreshToken)
	auth.Post("/refresh-token", s.RefreshToken)
	auth.Post("/logout", s.AuthRequired(), s.Logout)

	// Public story and catalog reads.
	publicStories := api.Group("/stories")
	publicStories.Get("/user/:userId", s.GetUserStories)
	publicStories.Get("/:id", s.GetStory)

	publicProducts := api.Group("/products")
	publicProducts.Get("/", s.ListProducts)
	publicProducts.Get("/:id", s.GetProduct)

	api.Get("/ws", s.AuthRequired(), s.WebsocketHandler())

	protected := api.Group("", s.AuthRequired())

	// Specific /stories routes before the generic /:id route.
	stories := protected.Group("/stories")
	stories.Get("/", s.GetStoryFeed)
	stories.Get("/my/stories", s.GetMyStories)
	stories.Post("/", middleware.RateLimit(s.redis, 20, time.Hour, "create_story"), s.CreateStory)
	stories.Post("/:id/view", s.ViewStory)
	stories.Post("/:id/like", middleware.RateLimit(s.redis, 60, time.Minute, "like_story"), s.LikeStory)
	stories.Get("/:id/views", s.GetStoryViews)
	stories.Delete("/:id", s.DeleteStory)

	users := protected.Group("/users")
	users.Get("/me", s.GetMyProfile)
	users.Put("/me", s.UpdateMyProfile)
	users.Get("/", s.RoleRequired(models.RoleAdmin), s.ListUsers)
	users.Post("/follow/:userId", middleware.RateLimit(s.redis, 30, time.Minute, "follow"), s.FollowUser)
	users.Delete("/follow/:userId", s.UnfollowUser)
	users.Get("/followers", s.GetFollowers)
	users.Get("/followers/:userId", s.GetFollowers)
	users.Get("/following", s.GetFollowing)
	users.Get("/following/:userId", s.GetFollowing)
	users.Get("/check-following/:userId", s.CheckFollowing)
	users.Put("/:id/role", s.RoleRequired(models.RoleAdmin), s.SetUserRole)
	users.Get("/:id", s.GetUserProfile)

	products := protected.Group("/products")
	products.Post("/", s.RoleRequired(models.RoleRetailer, models.RoleWholesaler, models.RoleAdmin), s.CreateProduct)
	products.Put("/:id", s.UpdateProduct)
	products.Delete("/:id", s.DeleteProduct)

	sellers := s.RoleRequired(models.RoleRetailer, models.RoleWholesaler, models.RoleAdmin)

	orders := protected.Group("/orders")
	orders.Get("/", s.GetOrders)
	orders.Get("/history", s.GetOrderHistory)
	orders.Get("/sales", sellers, s.GetSales)
	orders.Post("/", middleware.RateLimit(s.redis, 20, time.Minute, "create_order"), s.CreateOrder)
	orders.Get("/:id", s.GetOrder)
	orders.Put("/:id", sellers, s.UpdateOrder)
	orders.Post("/:id/cancel", s.CancelOrder)

	messages := protected.Group("/messages")
	messages.Get("/conversations", s.GetConversations)
	messages.Get("/conversations/:id", s.GetConversation)
	messages.Patch("/conversations/:id/read", s.MarkConversationRead)
	messages.Post("/send", middleware.RateLimit(s.redis, 60, time.Minute, "send_message"), s.SendMessage)
	messages.Patch("/:id/read", s.MarkMessageRead)

	notes := protected.Group("/notifications")
	notes.Get("/", s.GetNotifications)
	notes.Get("/unread-count", s.GetUnreadCount)
	notes.Put("/read-all", s.MarkAllNotificationsRead)
	notes.Put("/:id/read", s.MarkNotificationRead)

	admin := protected.Group("/admin", s.RoleRequired(models.RoleAdmin))
	admin.Get("/feature-flags", s.GetFeatureFlags)
}

// LivenessCheck handles liveness probe requests
func (s *Server) LivenessCheck(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"status": "up",
		"time":   time.Now().UTC(),
	})
}

// ReadinessCheck handles readiness probe requests. Redis is optional: when it
// is not configured the service still serves, without live delivery.
func (s *Server) ReadinessCheck(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 5*time.Second)
	defer cancel()

	dbStatus := "healthy"
	sqlDB, err := s.db.DB()
	if err != nil {
		dbStatus = "unhealthy"
	} else if err := sqlDB.PingContext(ctx); err != nil {
		dbStatus = "unhealthy"
	}

	redisStatus := "unavailable"
	if s.redis != nil {
		redisStatus = "healthy"
		if err := s.redis.Ping(ctx).Err(); err != nil {
			redisStatus = "unhealthy"
		}
	}

	status := fiber.StatusOK
	overall := "healthy"
	if dbStatus != "healthy" || redisStatus == "unhealthy" {
		status = fiber.StatusServiceUnavailable
		overall = "unhealthy"
	}

	return c.Status(status).JSON(fiber.Map{
		"service": "sokoni",
		"status":  overall,
		"checks": fiber.Map{
			"database": dbStatus,
			"redis":    redisStatus,
		},
		"time": time.Now().UTC(),
	})
}

// AuthRequired verifies the bearer access token and stores the caller in
// locals as userID, role, jti and exp.
func (s *Server) AuthRequired() fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := bearerToken(c.Get(fiber.HeaderAuthorization))
		// Browsers cannot set headers on websocket upgrades.
		if token == "" && strings.HasPrefix(c.Path(), "/api/ws") {
			token = c.Query("token")
		}
		if token == "" {
			return models.RespondWithError(c, fiber.StatusUnauthorized,
				models.NewUnauthorizedError("Authorization required"))
		}

		claims, err := s.authSvc.Authenticate(c.UserContext(), token)
		if err != nil {
			return models.RespondWithAppError(c, err)
		}
		userID, _ := claims.UserID()

		c.Locals("userID", userID)
		c.Locals("role", claims.Role)
		c.Locals("jti", claims.ID)
		if claims.ExpiresAt != nil {
			c.Locals("exp", claims.ExpiresAt.Time)
		}
		ctx := context.WithValue(c.UserContext(), middleware.UserIDKey, userID)
		c.SetUserContext(ctx)
		return c.Next()
	}
}

// RoleRequired rejects callers whose token role is not one of roles. It must
// run after AuthRequired.
func (s *Server) RoleRequired(roles ...models.Role) fiber.Handler {
	return func(c *fiber.Ctx) error {
		role, _ := c.Locals("role").(models.Role)
		for _, r := range roles {
			if role == r {
				return c.Next()
			}
		}
		return models.RespondWithError(c, fiber.StatusForbidden,
			models.NewForbiddenError("You do not have permission to perform this action"))
	}
}

func bearerToken(header string) string {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// NewApp builds the Fiber app with middleware and routes.
func (s *Server) NewApp() *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:   "Sokoni API",
		BodyLimit: int(s.media.MaxUploadBytes()) + 1024*1024,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			if fe, ok := err.(*fiber.Error); ok {
				return models.RespondWithError(c, fe.Code, fe)
			}
			middleware.Logger.ErrorContext(c.UserContext(), "unhandled error", slog.String("error", err.Error()))
			return models.RespondWithError(c, fiber.StatusInternalServerError, models.NewInternalError(err))
		},
	})
	s.SetupMiddleware(app)
	s.SetupRoutes(app)
	return app
}

// Start starts background workers and serves HTTP until Shutdown.
func (s *Server) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	s.shutdownCtx = ctx
	s.shutdownFn = cancel

	s.app = s.NewApp()

	if s.notifier != nil {
		go func() {
			if err := s.hub.StartWiring(s.shutdownCtx, s.notifier); err != nil {
				middleware.Logger.Error("failed to start hub wiring",
					slog.String("hub", s.hub.Name()), slog.String("error", err.Error()))
			}
		}()
	}

	if s.config.SweepScheduled() {
		s.sweeper = scheduler.New(s.shutdownCtx, s.config.StorySweepSchedule, s.storySvc)
		if err := s.sweeper.Start(); err != nil {
			return fmt.Errorf("start story sweeper: %w", err)
		}
	}

	middleware.Logger.Info("server starting", slog.String("port", s.config.Port))
	return s.app.Listen(":" + s.config.Port)
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.shutdownFn != nil {
		s.shutdownFn()
	}
	if s.sweeper != nil {
		s.sweeper.Stop()
	}

	if s.app != nil {
		if err := s.app.ShutdownWithContext(ctx); err != nil {
			middleware.Logger.Error("error shutting down HTTP server", slog.String("error", err.Error()))
		}
	}

	if err := s.hub.Shutdown(ctx); err != nil {
		middleware.Logger.Error("error shutting down hub", slog.String("error", err.Error()))
	}

	if sqlDB, err := s.db.DB(); err == nil {
		if cerr := sqlDB.Close(); cerr != nil {
			middleware.Logger.Error("error closing sql DB", slog.String("error", cerr.Error()))
		}
	}
	if s.redis != nil {
		if rerr := s.redis.Close(); rerr != nil {
			middleware.Logger.Error("error closing redis", slog.String("error", rerr.Error()))
		}
	}

	middleware.Logger.Info("server shutdown complete")
	return nil
}
