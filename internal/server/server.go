// Package server contains the HTTP handlers for the school publishing API.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"schooldesk/internal/ai"
	"schooldesk/internal/cache"
	"schooldesk/internal/config"
	"schooldesk/internal/database"
	"schooldesk/internal/featureflags"
	"schooldesk/internal/ledger"
	"schooldesk/internal/middleware"
	"schooldesk/internal/models"
	"schooldesk/internal/notifications"
	"schooldesk/internal/payment"
	"schooldesk/internal/repository"
	"schooldesk/internal/service"
	"schooldesk/internal/social"
	"schooldesk/internal/wordpress"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

var (
	promOnce sync.Once
	prom     *fiberprometheus.FiberPrometheus
)

// httpMetrics registers the HTTP collectors once per process.
func httpMetrics() *fiberprometheus.FiberPrometheus {
	promOnce.Do(func() {
		prom = middleware.InitMetrics("schooldesk-api")
	})
	return prom
}

// Server holds all dependencies and provides handlers
type Server struct {
	config         *config.Config
	db             *gorm.DB
	redis          *redis.Client
	app            *fiber.App
	promMiddleware *fiberprometheus.FiberPrometheus
	shutdownCtx    context.Context
	shutdownFn     context.CancelFunc
	notifier       *notifications.Notifier
	featureFlags   *featureflags.Manager
	scheduler      *social.RefreshScheduler

	authService       *service.AuthService
	submissionService *service.SubmissionService
	blogService       *service.BlogService
	schoolService     *service.SchoolService
	paymentService    *service.PaymentService
	socialService     *service.SocialService
}

// NewServer creates a new server instance with all dependencies
func NewServer(cfg *config.Config) (*Server, error) {
	db, err := database.Connect(cfg)
	if err != nil {
		return nil, fmt.Errorf("database connection failed: %w", err)
	}

	cache.InitRedis(cfg.RedisURL)
	return NewServerWithDeps(cfg, db, cache.GetClient())
}

// NewServerWithDeps creates a Server using already-initialized dependencies.
// Use this in tests or when a bootstrap layer establishes DB/Redis.
func NewServerWithDeps(cfg *config.Config, db *gorm.DB, redisClient *redis.Client) (*Server, error) {
	defaults, err := parsePlatforms(cfg.DefaultPlatforms())
	if err != nil {
		return nil, fmt.Errorf("SOCIAL_DEFAULT_PLATFORMS: %w", err)
	}
	hour, minute := 3, 0
	if cfg.TokenRefreshAt != "" {
		if hour, minute, err = cfg.RefreshClock(); err != nil {
			return nil, err
		}
	}

	users := repository.NewUserRepository(db)
	schools := repository.NewSchoolRepository(db)
	submissions := repository.NewSubmissionRepository(db)
	blogs := repository.NewBlogRepository(db)
	tokens := repository.NewSocialTokenRepository(db)
	posts := repository.NewSocialPostRepository(db)

	flags := featureflags.NewManager(cfg.FeatureFlags)
	notifier := notifications.NewNotifier(redisClient)
	book := ledger.New(db, cfg.LedgerMaxRetries)

	platformHTTP := &http.Client{Timeout: cfg.SocialHTTPTimeout()}
	drafter := ai.NewOpenAIDrafter(ai.Config{
		APIKey:  cfg.OpenAIAPIKey,
		Model:   cfg.OpenAIModel,
		BaseURL: cfg.OpenAIBaseURL,
	})
	wp := wordpress.New(wordpress.Config{
		BaseURL:     cfg.WordPressURL,
		Username:    cfg.WordPressUsername,
		AppPassword: cfg.WordPressAppPassword,
		PostStatus:  cfg.WordPressPostStatus,
	})

	facebook := social.NewFacebookClient(cfg.FacebookGraphURL, platformHTTP)
	instagram := social.NewInstagramClient(cfg.FacebookGraphURL, platformHTTP)
	linkedin := social.NewLinkedInClient(social.LinkedInConfig{
		ClientID:     cfg.LinkedInClientID,
		ClientSecret: cfg.LinkedInClientSecret,
		RedirectURL:  cfg.LinkedInRedirectURL,
		AuthURL:      cfg.LinkedInAuthURL,
		APIURL:       cfg.LinkedInAPIURL,
		HTTPClient:   platformHTTP,
	})
	store := social.NewCredentialStore(tokens, facebook, linkedin, social.StoreConfig{
		InstagramAccessToken:  cfg.InstagramAccessToken,
		InstagramAccountID:    cfg.InstagramAccountID,
		LinkedInRefreshWindow: cfg.LinkedInRefreshWindow(),
	})
	dispatcher := social.NewDispatcher(store, posts,
		[]social.Poster{facebook, linkedin, instagram, social.TwitterClient{}},
		social.DispatcherOptions{
			Timeout:     cfg.SocialHTTPTimeout(),
			Concurrency: cfg.SocialDispatchConcurrency,
		})
	scheduler := social.NewRefreshScheduler(store, redisClient, notifier, social.SchedulerConfig{
		Hour:   hour,
		Minute: minute,
	})

	server := &Server{
		config:         cfg,
		db:             db,
		redis:          redisClient,
		promMiddleware: httpMetrics(),
		notifier:       notifier,
		featureFlags:   flags,
		scheduler:      scheduler,
	}

	server.authService = service.NewAuthService(users, schools, cfg.JWTSecret)
	server.submissionService = service.NewSubmissionService(submissions, schools, users, notifier)
	server.schoolService = service.NewSchoolService(schools, book, notifier)
	server.paymentService = service.NewPaymentService(payment.NewVerifier(cfg.PaymentKeySecret), book, schools, notifier, cfg.CoinPackageSize)
	server.socialService = service.NewSocialService(service.SocialServiceDeps{
		Blogs:       blogs,
		Posts:       posts,
		Dispatcher:  dispatcher,
		Drafter:     drafter,
		Flags:       flags,
		Notifier:    notifier,
		Credentials: store,
		Refresher:   scheduler,
	})
	server.blogService = service.NewBlogService(service.BlogServiceDeps{
		DB:          db,
		Blogs:       blogs,
		Submissions: submissions,
		Schools:     schools,
		Ledger:      book,
		Drafter:     drafter,
		WordPress:   wp,
		Sharer:      server.socialService,
		Flags:       flags,
		Notifier:    notifier,
		Policy: service.PublishPolicy{
			Cost:                cfg.PublishCost,
			Reward:              cfg.PublishReward,
			CompensateOnFailure: cfg.CompensateOnPublishFailure(),
			DefaultPlatforms:    defaults,
		},
	})

	return server, nil
}

func parsePlatforms(names []string) ([]models.Platform, error) {
	out := make([]models.Platform, 0, len(names))
	for _, name := range names {
		p, err := social.ParsePlatform(name)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// SetupMiddleware configures middleware for the Fiber app
func (s *Server) SetupMiddleware(app *fiber.App) {
	// Panic recovery
	app.Use(recover.New())

	// Request ID for tracing
	app.Use(requestid.New())

	// Context Middleware to propagate Request ID and User ID
	app.Use(middleware.ContextMiddleware())

	if s.config.TracingEnabled {
		app.Use(middleware.TracingMiddleware())
	}

	// Prometheus Metrics
	if s.promMiddleware != nil {
		app.Use(middleware.MetricsMiddleware(s.promMiddleware))
	}

	// Security headers
	app.Use(helmet.New())

	// Structured Logging middleware (after requestid and context middleware)
	app.Use(middleware.StructuredLogger())

	// CORS runs before the limiter so rejected requests still carry CORS headers.
	origins := s.config.AllowedOrigins
	if origins == "" {
		origins = "http://localhost:5173,http://localhost:3000,http://127.0.0.1:5173"
	}

	app.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization",
		AllowCredentials: true,
		MaxAge:           86400, // 24 hours
	}))

	// Global rate limiting (100 requests per minute per IP)
	app.Use(limiter.New(limiter.Config{
		Max:        100,
		Expiration: 1 * time.Minute,
		Next: func(c *fiber.Ctx) bool {
			return c.Method() == fiber.MethodOptions
		},
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "Too many requests, please try again later.",
			})
		},
	}))
}

// SetupRoutes configures all routes for the application
func (s *Server) SetupRoutes(app *fiber.App) {
	api := app.Group("/api")

	// Health checks
	app.Get("/health/live", s.LivenessCheck)
	app.Get("/health/ready", s.ReadinessCheck)
	app.Get("/health", s.ReadinessCheck)

	if s.promMiddleware != nil {
		s.promMiddleware.RegisterAt(app, "/metrics")
	}

	// Auth routes
	auth := api.Group("/auth")
	auth.Post("/login", middleware.RateLimit(
		s.redis, 10, 5*time.Minute, "login"), s.Login)

	// The OAuth redirect arrives from the admin's browser without a bearer token;
	// the single-use state parameter authenticates it.
	api.Get("/admin/social/linkedin/callback", s.LinkedInCallback)

	protected := api.Group("", s.AuthRequired())
	protected.Get("/auth/me", s.Me)

	submissions := protected.Group("/submissions")
	submissions.Post("/", middleware.RateLimitWithPolicy(
		s.redis, 30, time.Hour, middleware.FailOpen, middleware.BySchool, "create_submission"), s.CreateSubmission)
	submissions.Get("/", s.ListSubmissions)
	submissions.Post("/:id/assign", s.AdminRequired(), s.AssignSubmission)
	submissions.Post("/:id/status", s.AdminRequired(), s.CorrectSubmissionStatus)
	submissions.Post("/:id/draft", middleware.RateLimit(
		s.redis, 20, time.Hour, "generate_draft"), s.GenerateDraft)
	submissions.Get("/:id", s.GetSubmission)

	blogs := protected.Group("/blogs")
	blogs.Post("/", s.CreateManualDraft)
	blogs.Get("/", s.ListBlogs)
	blogs.Post("/:id/ready", s.MarkDraftReady)
	blogs.Post("/:id/review", s.AdvanceToReview)
	blogs.Post("/:id/approve", s.ApproveBlog)
	blogs.Post("/:id/reject", s.RejectBlog)
	blogs.Post("/:id/publish", middleware.RateLimit(
		s.redis, 10, time.Minute, "publish"), s.PublishBlog)
	blogs.Post("/:id/share", s.ShareBlog)
	blogs.Post("/:id/featured-image", s.UploadFeaturedImage)
	blogs.Get("/:id/social-posts", s.GetBlogSocialPosts)
	blogs.Put("/:id", s.UpdateBlog)
	blogs.Get("/:id", s.GetBlog)

	schools := protected.Group("/schools")
	schools.Get("/", s.ListSchools)
	schools.Post("/", s.AdminRequired(), s.CreateSchool)
	schools.Get("/:id/balance", s.GetSchoolBalance)
	schools.Get("/:id/transactions", s.GetSchoolTransactions)
	schools.Get("/:id/reconcile", s.AdminRequired(), s.ReconcileSchool)
	schools.Post("/:id/grant", s.AdminRequired(), s.GrantCoins)
	schools.Put("/:id", s.AdminRequired(), s.UpdateSchool)

	protected.Post("/payments/verify", middleware.RateLimit(
		s.redis, 20, time.Minute, "payment_verify"), s.VerifyPayment)

	// Admin routes
	admin := protected.Group("/admin", s.AdminRequired())
	admin.Get("/feature-flags", s.GetFeatureFlags)
	admin.Get("/users", s.ListUsers)
	admin.Post("/users", s.CreateUser)
	admin.Get("/metrics/dashboard", monitor.New(monitor.Config{
		Title: "Schooldesk Backend Metrics Dashboard",
	}))

	adminSocial := admin.Group("/social")
	adminSocial.Get("/status", s.GetSocialStatus)
	adminSocial.Get("/linkedin/auth-url", s.GetLinkedInAuthURL)
	adminSocial.Post("/refresh", s.RefreshSocialTokens)
	adminSocial.Put("/:platform", s.SaveSocialCredentials)
	adminSocial.Delete("/:platform", s.DisconnectSocialPlatform)
}

// LivenessCheck handles liveness probe requests
func (s *Server) LivenessCheck(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"status": "up",
		"time":   time.Now(),
	})
}

// ReadinessCheck handles readiness probe requests
func (s *Server) ReadinessCheck(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.Context(), 5*time.Second)
	defer cancel()

	dbStatus := "healthy"
	if s.db == nil {
		dbStatus = "unhealthy"
	} else if err := database.Ping(ctx, s.db); err != nil {
		dbStatus = "unhealthy"
	}

	redisStatus := "healthy"
	if s.redis != nil {
		if err := s.redis.Ping(ctx).Err(); err != nil {
			redisStatus = "unhealthy"
		}
	} else {
		redisStatus = "unavailable"
	}

	// Redis only backs caching, locks and events, so its absence degrades
	// rather than fails readiness.
	status := fiber.StatusOK
	overallStatus := "healthy"
	switch {
	case dbStatus == "unhealthy":
		status = fiber.StatusServiceUnavailable
		overallStatus = "unhealthy"
	case redisStatus != "healthy":
		overallStatus = "degraded"
	}

	return c.Status(status).JSON(fiber.Map{
		"version": "1.0.0",
		"status":  overallStatus,
		"checks": fiber.Map{
			"database": dbStatus,
			"redis":    redisStatus,
		},
		"time": time.Now(),
	})
}

// AdminRequired returns middleware that rejects non-admin users with 403.
// Must be placed after AuthRequired so that the user is available in locals.
func (s *Server) AdminRequired() fiber.Handler {
	return func(c *fiber.Ctx) error {
		user, ok := c.Locals("user").(*models.User)
		if !ok || user == nil {
			return models.RespondWithError(c, fiber.StatusUnauthorized,
				models.NewUnauthorizedError("Authorization required"))
		}
		if !user.IsAdmin() {
			return models.RespondWithError(c, fiber.StatusForbidden,
				models.NewForbiddenError("Admin access required"))
		}
		return c.Next()
	}
}

// AuthRequired validates the bearer token and loads the current user. The
// user row is re-read on every request so role and school changes apply at once.
func (s *Server) AuthRequired() fiber.Handler {
	return func(c *fiber.Ctx) error {
		tokenString := ""
		if authHeader := c.Get("Authorization"); authHeader != "" {
			parts := strings.Split(authHeader, " ")
			if len(parts) == 2 && parts[0] == "Bearer" {
				tokenString = parts[1]
			}
		}
		if tokenString == "" {
			return models.RespondWithError(c, fiber.StatusUnauthorized,
				models.NewUnauthorizedError("Authorization required"))
		}

		claims, err := middleware.ParseToken(s.config.JWTSecret, tokenString)
		if err != nil {
			return models.RespondWithError(c, fiber.StatusUnauthorized,
				models.NewUnauthorizedError("Invalid or expired token"))
		}
		userID, err := claims.UserID()
		if err != nil {
			return models.RespondWithError(c, fiber.StatusUnauthorized,
				models.NewUnauthorizedError(err.Error()))
		}

		user, err := s.authService.CurrentUser(c.UserContext(), userID)
		if err != nil {
			return models.RespondWithAppError(c, err)
		}

		c.Locals("userID", user.ID)
		c.Locals("user", user)
		ctx := context.WithValue(c.UserContext(), middleware.UserIDKey, user.ID)
		if user.SchoolID != nil {
			c.Locals("schoolID", *user.SchoolID)
			ctx = context.WithValue(ctx, middleware.SchoolIDKey, *user.SchoolID)
		}
		c.SetUserContext(ctx)

		return c.Next()
	}
}

// Start starts the server and, when enabled, the daily credential refresh.
func (s *Server) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	s.shutdownCtx = ctx
	s.shutdownFn = cancel

	app := fiber.New(fiber.Config{
		AppName:   "Schooldesk API",
		BodyLimit: 10 * 1024 * 1024,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			if fe, ok := err.(*fiber.Error); ok {
				return models.RespondWithError(c, fe.Code, err)
			}
			middleware.Logger.ErrorContext(c.UserContext(), "unhandled error", slog.String("error", err.Error()))
			return models.RespondWithError(c, fiber.StatusInternalServerError,
				models.NewInternalError(err))
		},
	})
	s.app = app

	s.SetupMiddleware(app)
	s.SetupRoutes(app)

	if s.config.TokenRefreshEnabled && s.scheduler != nil {
		go s.scheduler.Start(ctx)
	}
	if err := s.notifier.StartSubscriber(ctx, s.logEvent); err != nil {
		middleware.Logger.Warn("pipeline event subscriber not started", slog.String("error", err.Error()))
	}

	middleware.Logger.Info("Server starting", slog.String("port", s.config.Port))
	return app.Listen(":" + s.config.Port)
}

// RunTokenRefresh performs one credential refresh pass outside the daily schedule.
func (s *Server) RunTokenRefresh(ctx context.Context) (*social.RefreshReport, error) {
	return s.scheduler.RunAll(ctx)
}

// logEvent writes every pipeline event to the structured log.
func (s *Server) logEvent(channel string, event notifications.Event) {
	if channel != notifications.StaffChannel() {
		return
	}
	middleware.Logger.Info("pipeline event",
		slog.String("type", event.Type),
		slog.Any("school_id", event.SchoolID),
		slog.Any("blog_id", event.BlogID),
		slog.Any("submission_id", event.SubmissionID),
		slog.String("status", event.Status),
	)
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	// Stops the scheduler and the event subscriber.
	if s.shutdownFn != nil {
		s.shutdownFn()
	}

	if s.app != nil {
		if err := s.app.ShutdownWithContext(ctx); err != nil {
			middleware.Logger.Error("error shutting down HTTP server", slog.String("error", err.Error()))
		}
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

	middleware.Logger.Info("Server shutdown complete")
	return nil
}
