// Package server exposes the marketplace HTTP API.
//
// Every request passes through the same pipeline: request ID, access log,
// identity resolution, then per route the authentication guard, profile
// sync and policy check. Errors are rendered in exactly one place.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/fixmart-dev/fixmart/internal/apperr"
	"github.com/fixmart-dev/fixmart/internal/auth"
	"github.com/fixmart-dev/fixmart/internal/authz"
	"github.com/fixmart-dev/fixmart/internal/config"
	"github.com/fixmart-dev/fixmart/internal/database"
	"github.com/fixmart-dev/fixmart/internal/identity"
	"github.com/fixmart-dev/fixmart/internal/messaging"
	"github.com/fixmart-dev/fixmart/internal/products"
	"github.com/fixmart-dev/fixmart/internal/profiles"
	"github.com/fixmart-dev/fixmart/internal/shops"
	"github.com/fixmart-dev/fixmart/internal/storage"
	"github.com/fixmart-dev/fixmart/internal/tasks"
	"github.com/fixmart-dev/fixmart/internal/transactions"
)

// Server represents the HTTP server
type Server struct {
	router    *gin.Engine
	db        *gorm.DB
	config    *config.Config
	logger    zerolog.Logger
	validator *validator.Validate
	identity  identity.Provider
	accounts  identity.Authenticator
	claims    identity.ClaimsManager
	policy    *authz.Policy
	limiter   *ipRateLimiter
	closers   []func() error
	version   string

	profiles     *profiles.Service
	products     *products.Service
	shops        *shops.Service
	transactions *transactions.Service
	messaging    *messaging.Service
}

// Dependencies are the collaborators of a server. Tests supply fakes.
type Dependencies struct {
	DB       *gorm.DB
	Identity identity.Provider
	Accounts identity.Authenticator
	Claims   identity.ClaimsManager // nil when the database owns roles
	Storage  storage.Client // optional
	Enqueuer tasks.Enqueuer // optional
	Policy   *authz.Policy  // nil loads the configured policy
}

// New creates a server wired to real infrastructure
func New(cfg *config.Config, zlog zerolog.Logger, version string) (*Server, error) {
	db, err := database.Open(cfg, zlog)
	if err != nil {
		return nil, err
	}

	deps := Dependencies{DB: db}

	switch cfg.Identity.Mode {
	case config.IdentityModeLocal:
		issuer, err := auth.NewTokenIssuer(cfg.Identity.JWTSecret, cfg.Identity.TokenTTL)
		if err != nil {
			return nil, err
		}
		local := auth.NewLocalProvider(db, issuer, zlog)
		deps.Identity, deps.Accounts = local, local
		zlog.Warn().Msg("Using local identity provider; the first account to sign up becomes an admin")
	default:
		supabase := identity.NewSupabaseClient(cfg.Identity.SupabaseURL, cfg.Identity.AnonKey, cfg.Identity.Timeout, zlog).
			WithServiceRoleKey(cfg.Storage.ServiceRoleKey)
		deps.Identity, deps.Accounts, deps.Claims = supabase, supabase, supabase
	}

	if cfg.Storage.ServiceRoleKey != "" && cfg.Identity.SupabaseURL != "" {
		deps.Storage = storage.NewSupabaseClient(cfg.Identity.SupabaseURL, cfg.Storage.Bucket, cfg.Storage.ServiceRoleKey)
	} else {
		zlog.Warn().Msg("SUPABASE_SERVICE_ROLE_KEY not set - product image uploads are disabled")
	}

	// Initialize Asynq client for enqueueing tasks
	asynqClient := asynq.NewClient(asynq.RedisClientOpt{Addr: cfg.Redis.Address})
	deps.Enqueuer = asynqClient

	srv, err := NewWithDependencies(cfg, zlog, version, deps)
	if err != nil {
		asynqClient.Close()
		return nil, err
	}

	srv.closers = append(srv.closers, asynqClient.Close, func() error { return database.Close(db) })
	return srv, nil
}

// NewWithDependencies creates a server around the given collaborators
func NewWithDependencies(cfg *config.Config, zlog zerolog.Logger, version string, deps Dependencies) (*Server, error) {
	if deps.DB == nil || deps.Identity == nil {
		return nil, errors.New("server requires a database and an identity provider")
	}

	policy := deps.Policy
	if policy == nil {
		var err error
		if policy, err = authz.LoadPolicy(cfg.Server.PolicyFile); err != nil {
			return nil, fmt.Errorf("failed to load authorization policy: %w", err)
		}
	}

	s := &Server{
		db:        deps.DB,
		config:    cfg,
		logger:    zlog,
		validator: apperr.NewValidator(),
		identity:  deps.Identity,
		accounts:  deps.Accounts,
		claims:    deps.Claims,
		policy:    policy,
		limiter:   newIPRateLimiter(cfg.Server.AuthRateLimitRPS, cfg.Server.AuthRateLimitBurst),
		version:   version,

		profiles:     profiles.NewService(deps.DB, zlog),
		products:     products.NewService(deps.DB, deps.Storage, cfg.Storage.MaxUploadBytes, zlog),
		shops:        shops.NewService(deps.DB, deps.Enqueuer, cfg.Marketplace.BookingReminderLead, zlog),
		transactions: transactions.NewService(deps.DB, cfg.Marketplace.OfferTTL, zlog),
		messaging:    messaging.NewService(deps.DB, deps.Enqueuer, zlog),
	}

	s.setupRouter()
	return s, nil
}

// Handler returns the HTTP handler of the server
func (s *Server) Handler() http.Handler {
	return s.router
}

// route declares one endpoint and the checks it runs before its handler
type route struct {
	method  string
	path    string
	auth    bool         // require an identity
	action  authz.Action // policy check, empty for none
	load    resourceLoader
	handler gin.HandlerFunc
}

// setupRouter configures the Gin router with routes and middleware
func (s *Server) setupRouter() {
	gin.SetMode(gin.ReleaseMode)

	s.router = gin.New()
	s.router.MaxMultipartMemory = s.config.Storage.MaxUploadBytes + 1<<20

	s.router.Use(s.requestIDMiddleware())
	s.router.Use(s.loggingMiddleware())
	s.router.Use(gin.CustomRecoveryWithWriter(nil, s.recoveryHandler))
	s.router.Use(s.errorMiddleware())

	s.router.Use(cors.New(cors.Config{
		AllowOrigins:     s.config.Server.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "HEAD", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Length", "Content-Type", "Authorization", requestIDHeader},
		ExposeHeaders:    []string{"Content-Length", requestIDHeader},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	s.router.Use(s.identityMiddleware())

	s.router.NoRoute(func(c *gin.Context) {
		s.abort(c, apperr.NotFound("Route not found"))
	})

	// Health check endpoint (no auth required)
	s.router.GET("/health", s.healthCheck)

	authGroup := s.router.Group("/api/auth")
	authGroup.Use(s.rateLimitMiddleware())

	api := s.router.Group("/api")

	public := []route{
		{method: http.MethodPost, path: "/signup", handler: s.signup},
		{method: http.MethodPost, path: "/login", handler: s.login},
		{method: http.MethodPost, path: "/logout", auth: true, handler: s.logout},
		{method: http.MethodGet, path: "/me", auth: true, handler: s.getCurrentUser},
	}
	for _, r := range public {
		s.register(authGroup, r)
	}

	routes := []route{
		// Profiles
		{method: http.MethodGet, path: "/users/:id", handler: s.getUser},
		{method: http.MethodPatch, path: "/users/me", auth: true, action: "profile:update", load: selfResource, handler: s.updateCurrentUser},
		{method: http.MethodGet, path: "/admin/users", auth: true, action: "admin:list_users", handler: s.listUsers},
		{method: http.MethodPatch, path: "/admin/users/:id", auth: true, action: "admin:update_user", handler: s.adminUpdateUser},
		{method: http.MethodGet, path: "/admin/stats", auth: true, action: "admin:stats", handler: s.getSystemStats},

		// Products
		{method: http.MethodGet, path: "/products", handler: s.listProducts},
		{method: http.MethodGet, path: "/products/:id", handler: s.getProduct},
		{method: http.MethodPost, path: "/products", auth: true, action: "product:create", handler: s.createProduct},
		{method: http.MethodPatch, path: "/products/:id", auth: true, action: "product:update", load: s.loadProduct, handler: s.updateProduct},
		{method: http.MethodDelete, path: "/products/:id", auth: true, action: "product:delete", load: s.loadProduct, handler: s.deleteProduct},
		{method: http.MethodPost, path: "/products/:id/images", auth: true, action: "product:update", load: s.loadProduct, handler: s.uploadProductImage},
		{method: http.MethodDelete, path: "/products/:id/images/:imageId", auth: true, action: "product:update", load: s.loadProduct, handler: s.deleteProductImage},

		// Offers
		{method: http.MethodPost, path: "/products/:id/offers", auth: true, action: "offer:create", handler: s.createOffer},
		{method: http.MethodGet, path: "/offers", auth: true, handler: s.listOffers},
		{method: http.MethodPost, path: "/offers/:id/accept", auth: true, action: "offer:respond", load: s.loadOfferAsSeller, handler: s.acceptOffer},
		{method: http.MethodPost, path: "/offers/:id/reject", auth: true, action: "offer:respond", load: s.loadOfferAsSeller, handler: s.rejectOffer},
		{method: http.MethodPost, path: "/offers/:id/withdraw", auth: true, action: "offer:withdraw", load: s.loadOfferAsBuyer, handler: s.withdrawOffer},

		// Repair shops
		{method: http.MethodGet, path: "/shops", handler: s.listShops},
		{method: http.MethodGet, path: "/shops/:id", handler: s.getShop},
		{method: http.MethodPost, path: "/shops", auth: true, action: "shop:create", handler: s.createShop},
		{method: http.MethodPatch, path: "/shops/:id", auth: true, action: "shop:update", load: s.loadShop, handler: s.updateShop},
		{method: http.MethodDelete, path: "/shops/:id", auth: true, action: "shop:delete", load: s.loadShop, handler: s.deleteShop},

		// Bookings
		{method: http.MethodPost, path: "/shops/:id/bookings", auth: true, action: "booking:create", handler: s.createBooking},
		{method: http.MethodGet, path: "/shops/:id/bookings", auth: true, action: "shop:list_bookings", load: s.loadShop, handler: s.listShopBookings},
		{method: http.MethodGet, path: "/bookings", auth: true, handler: s.listMyBookings},
		{method: http.MethodPatch, path: "/bookings/:id/status", auth: true, action: "booking:update_status", load: s.loadBooking, handler: s.updateBookingStatus},

		// Reviews
		{method: http.MethodGet, path: "/shops/:id/reviews", handler: s.listReviews},
		{method: http.MethodPost, path: "/shops/:id/reviews", auth: true, action: "review:create", handler: s.createReview},
		{method: http.MethodDelete, path: "/reviews/:id", auth: true, action: "review:delete", load: s.loadReview, handler: s.deleteReview},

		// Transactions
		{method: http.MethodPost, path: "/transactions", auth: true, action: "transaction:create", handler: s.purchase},
		{method: http.MethodGet, path: "/transactions", auth: true, handler: s.listTransactions},
		{method: http.MethodGet, path: "/transactions/:id", auth: true, action: "transaction:view", load: s.loadTransaction, handler: s.getTransaction},
		{method: http.MethodPost, path: "/transactions/:id/complete", auth: true, action: "transaction:complete", load: s.loadTransactionAsBuyer, handler: s.completeTransaction},
		{method: http.MethodPost, path: "/transactions/:id/cancel", auth: true, action: "transaction:cancel", load: s.loadTransaction, handler: s.cancelTransaction},

		// Refunds
		{method: http.MethodPost, path: "/transactions/:id/refunds", auth: true, action: "refund:request", load: s.loadTransactionAsBuyer, handler: s.requestRefund},
		{method: http.MethodPost, path: "/refunds/:id/approve", auth: true, action: "refund:resolve", load: s.loadRefund, handler: s.approveRefund},
		{method: http.MethodPost, path: "/refunds/:id/reject", auth: true, action: "refund:resolve", load: s.loadRefund, handler: s.rejectRefund},

		// Messaging
		{method: http.MethodGet, path: "/conversations", auth: true, handler: s.listConversations},
		{method: http.MethodPost, path: "/conversations", auth: true, action: "conversation:create", handler: s.startConversation},
		{method: http.MethodGet, path: "/conversations/:id/messages", auth: true, action: "conversation:view", load: s.loadConversation, handler: s.listMessages},
		{method: http.MethodPost, path: "/conversations/:id/messages", auth: true, action: "conversation:post", load: s.loadConversation, handler: s.sendMessage},
		{method: http.MethodPost, path: "/conversations/:id/read", auth: true, action: "conversation:post", load: s.loadConversation, handler: s.markConversationRead},

		// Notifications
		{method: http.MethodGet, path: "/notifications", auth: true, handler: s.listNotifications},
		{method: http.MethodPost, path: "/notifications/:id/read", auth: true, action: "notification:update", load: s.loadNotification, handler: s.markNotificationRead},
	}
	for _, r := range routes {
		s.register(api, r)
	}
}

// register mounts r with its guard chain: authenticate, sync the profile,
// then evaluate the policy, in that order
func (s *Server) register(group *gin.RouterGroup, r route) {
	var chain []gin.HandlerFunc
	if r.auth || r.action != "" {
		chain = append(chain, s.requireIdentity(), s.syncProfile())
	}
	if r.action != "" {
		chain = append(chain, s.authorize(r.action, r.load))
	}
	chain = append(chain, r.handler)

	group.Handle(r.method, r.path, chain...)
}

func (s *Server) healthCheck(c *gin.Context) {
	status := http.StatusOK
	database := "ok"

	if sqlDB, err := s.db.DB(); err != nil || sqlDB.PingContext(c.Request.Context()) != nil {
		status = http.StatusServiceUnavailable
		database = "unavailable"
	}

	c.JSON(status, gin.H{
		"status":    http.StatusText(status),
		"database":  database,
		"timestamp": time.Now().UTC(),
		"service":   "fixmart-api",
		"version":   s.version,
	})
}

// Start starts the HTTP server and blocks until SIGINT or SIGTERM
func (s *Server) Start() error {
	addr := ":" + s.config.Server.Port

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", addr).Msg("Starting HTTP server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case err := <-errChan:
		return fmt.Errorf("http server: %w", err)
	case <-sigChan:
	}
	s.logger.Info().Msg("Received shutdown signal, shutting down gracefully...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Error().Err(err).Msg("Error shutting down HTTP server")
		return err
	}

	for _, closeFn := range s.closers {
		if err := closeFn(); err != nil {
			s.logger.Warn().Err(err).Msg("Error releasing resource")
		}
	}

	s.logger.Info().Msg("Server shutdown complete")
	return nil
}
