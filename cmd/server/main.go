package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/spf13/viper"
	"github.com/wanderplan/backend/internal/config"
	"github.com/wanderplan/backend/internal/database"
	"github.com/wanderplan/backend/internal/handlers"
	"github.com/wanderplan/backend/internal/metrics"
	mW "github.com/wanderplan/backend/internal/middleware"
	"github.com/wanderplan/backend/internal/services"
)

// @title WanderPlan Backend API
// @version 1.0
// @description AI travel itinerary generation with a credits ledger
// @host localhost:8080
// @BasePath /api/v1
// @schemes http https

func main() {
	// Initialize config
	viper.SetConfigFile(".env") // explicitly point to .env file
	viper.AutomaticEnv()        // allow environment variables to override .env

	viper.BindEnv("app.env", "APP_ENV")

	viper.BindEnv("database.host", "DATABASE_HOST")
	viper.BindEnv("database.port", "DATABASE_PORT")
	viper.BindEnv("database.user", "DATABASE_USER")
	viper.BindEnv("database.password", "DATABASE_PASSWORD")
	viper.BindEnv("database.name", "DATABASE_NAME")
	viper.BindEnv("database.ssl_mode", "DATABASE_SSL_MODE")

	viper.BindEnv("redis.host", "REDIS_HOST")
	viper.BindEnv("redis.port", "REDIS_PORT")
	viper.BindEnv("redis.password", "REDIS_PASSWORD")
	viper.BindEnv("redis.db", "REDIS_DB")

	viper.BindEnv("jwt.secret_key", "JWT_SECRET_KEY")
	viper.BindEnv("gemini.api_key", "GOOGLE_API_KEY")
	viper.BindEnv("gemini.model", "GEMINI_MODEL")
	viper.BindEnv("gemini.timeout_seconds", "GEMINI_TIMEOUT_SECONDS")
	viper.BindEnv("webhook.secret", "PAYMENT_WEBHOOK_SECRET")
	viper.BindEnv("cors.allowed_origins", "CORS_ALLOWED_ORIGINS")

	if err := viper.ReadInConfig(); err != nil {
		log.Printf("Config file not found, using defaults: %v", err)
	}

	// Initialize infrastructure
	db := database.InitDatabase()
	defer db.Close()

	redisClient := database.InitRedis()
	if redisClient != nil {
		defer redisClient.Close()
	}

	if os.Getenv("APP_MIGRATE") == "true" {
		if err := database.RunMigrations(db); err != nil {
			log.Fatalf("Failed to run migrations: %v", err)
		}
		log.Println("Database migrations applied")
	}

	// Initialize services
	creditsCfg := config.LoadCreditsConfig()
	ledgerService := services.NewCreditLedgerService(db, redisClient, creditsCfg)
	packageService := services.NewPackageService(db)
	webhookService := services.NewWebhookService(db, ledgerService, packageService)
	geminiService := services.NewGeminiService()
	cityService := services.NewCityService(redisClient)

	creditsHandler := handlers.NewCreditsHandler(ledgerService, packageService)
	generateHandler := handlers.NewGenerateHandler(ledgerService, geminiService, creditsCfg)
	webhookHandler := handlers.NewWebhookHandler(webhookService)
	cityHandler := handlers.NewCityHandler(cityService)

	metrics.Init()

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(mW.SecurityHeaders)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)
	r.Use(chimw.Timeout(60 * time.Second))

	// CORS: only the configured origins get a non-wildcard allow header;
	// preflight OPTIONS requests short-circuit inside the handler.
	viper.SetDefault("cors.allowed_origins", []string{
		"https://wanderplan.app",
		"http://localhost:3000",
		"http://localhost:3001",
		"http://127.0.0.1:3000",
		"http://127.0.0.1:3001",
	})
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   viper.GetStringSlice("cors.allowed_origins"),
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		handlers.WriteError(w, http.StatusNotFound, handlers.CodeNotFound, "Not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		handlers.WriteError(w, http.StatusMethodNotAllowed, handlers.CodeMethodNotAllowed, "Method not allowed", nil)
	})

	// Health check & metrics
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"healthy"}`))
	})
	r.Handle("/metrics", metrics.Handler())

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		// Public endpoints (credits handles mixed auth itself: the
		// packages action is public, balance/transactions are not)
		r.Get("/credits", creditsHandler.Query)
		r.Get("/cities/search", cityHandler.Search)
		r.Post("/webhooks/payment", webhookHandler.HandlePayment)

		// Protected endpoints
		r.Group(func(r chi.Router) {
			r.Use(mW.AuthMiddleware)
			r.Post("/itineraries/generate", generateHandler.Generate)
		})
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	// Start server
	server := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 90 * time.Second, // generation calls can run long
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		log.Printf("Server starting on :%s", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Server shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	log.Println("Server stopped")
}
