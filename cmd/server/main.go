package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"github.com/weetoocode1/weetoo-trading-engine/internal/auth"
	"github.com/weetoocode1/weetoo-trading-engine/internal/database"
	"github.com/weetoocode1/weetoo-trading-engine/internal/engine"
	"github.com/weetoocode1/weetoo-trading-engine/internal/market"
	"github.com/weetoocode1/weetoo-trading-engine/internal/orders"
	"github.com/weetoocode1/weetoo-trading-engine/internal/poller"
	"github.com/weetoocode1/weetoo-trading-engine/pkg/middleware"

	"github.com/gin-gonic/gin"
)

// init configures the application logging based on environment settings
// In development mode, it enables pretty printing with timestamps
// Debug logging can be enabled via DEBUG environment variable
func init() {
	// Load .env if present; real env vars win
	_ = godotenv.Load()

	// Configure pretty logging for development
	if os.Getenv("ENV") != "production" {
		output := zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}
		zlog.Logger = zerolog.New(output).With().Timestamp().Logger()
	}

	// Set global log level
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if os.Getenv("DEBUG") == "true" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
}

// main initializes and runs the trading-room order API server with graceful
// shutdown support
func main() {
	// Initialize database
	db, err := database.NewDatabase()
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to initialize database")
	}

	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		jwtSecret = "weetoo-secret-key"
	}

	// Initialize router
	router := gin.Default()

	// Initialize services and handlers
	authService := auth.NewService(jwtSecret)
	authHandlers := auth.NewGinHandlers(authService)
	// Register test credentials
	authService.RegisterAPICredentials(auth.TestAPIKey, auth.TestAPISecret)

	marketClient := market.NewClient(os.Getenv("MARKET_DATA_URL"))

	engineService := engine.NewService(db, marketClient)
	engineHandlers := engine.NewGinHandlers(engineService)

	ordersService := orders.NewService(db)
	ordersHandlers := orders.NewGinHandlers(ordersService)

	// Background workers share one cancellable context
	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	// Create and start the execution poller
	orderPoller := poller.New(engineService, 5*time.Second)
	go orderPoller.Start(workerCtx)

	// Setup middleware
	rateLimiter := middleware.NewRateLimiter()
	go rateLimiter.Start(workerCtx)
	router.Use(rateLimiter.Middleware())

	// Setup API routes
	setupRoutes(router, jwtSecret, authHandlers, engineHandlers, ordersHandlers)

	// Get port from env otherwise it's 8080
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	// Create server
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: router,
	}

	// Graceful shutdown setup
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Fatal().Err(err).Msg("listen")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zlog.Info().Msg("Shutting down server...")

	// Give outstanding operations 5 seconds to complete
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	zlog.Info().Msg("Server exiting")
}

// setupRoutes configures all API endpoints and their handlers
// It groups routes by functionality and applies appropriate middleware:
// - Auth routes: Public endpoints for authentication
// - Trading-room routes: Protected by JWT authentication, owner-scoped
// - Internal routes: The trusted execution entry point for the scheduler
func setupRoutes(
	router *gin.Engine,
	jwtSecret string,
	authHandlers *auth.GinHandlers,
	engineHandlers *engine.GinHandlers,
	ordersHandlers *orders.GinHandlers,
) {
	v1 := router.Group("/api/v1")
	{
		// Auth routes
		authGroup := v1.Group("/auth")
		{
			authGroup.POST("/token", authHandlers.GenerateTokenHandler())
		}

		// Trading-room routes
		rooms := v1.Group("/trading-rooms/:room_id")
		rooms.Use(middleware.JWTAuth(jwtSecret))
		{
			rooms.POST("/scheduled-orders", engineHandlers.CreateOrderHandler())
			rooms.GET("/scheduled-orders", engineHandlers.ListOrdersHandler())
			rooms.PATCH("/scheduled-orders/:order_id", engineHandlers.UpdateOrderHandler())
			rooms.DELETE("/scheduled-orders/:order_id", engineHandlers.DeleteOrderHandler())

			rooms.GET("/open-orders", ordersHandlers.ListOrdersHandler())
			rooms.POST("/open-orders", ordersHandlers.CreateOrderHandler())
			rooms.PATCH("/open-orders", ordersHandlers.UpdateOrderHandler())
		}

		// Internal routes (should be protected by internal network)
		internal := v1.Group("/internal")
		internal.Use(middleware.InternalAuth(jwtSecret))
		{
			internal.POST("/trading-rooms/:room_id/scheduled-orders/:order_id/execute",
				engineHandlers.ExecuteOrderHandler())
		}
	}
}
