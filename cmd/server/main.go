package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/spf13/viper"
	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/vestpay/backend/docs"
	"github.com/vestpay/backend/internal/database"
	"github.com/vestpay/backend/internal/gateway"
	mW "github.com/vestpay/backend/internal/middleware"
	"github.com/vestpay/backend/internal/services"
)

// @title VestPay Backend API
// @version 1.0
// @description Wallet, deposit, withdrawal and investment maturity backend
// @host localhost:8080
// @BasePath /api/v1
// @schemes http https

func main() {
	// Initialize config
	viper.SetConfigFile(".env") // explicitly point to .env file
	viper.AutomaticEnv()        // allow environment variables to override .env

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

	viper.BindEnv("paystack.secret_key", "PAYSTACK_SECRET_KEY")
	viper.BindEnv("paystack.base_url", "PAYSTACK_BASE_URL")
	viper.BindEnv("settlement.bic", "SETTLEMENT_BIC")
	viper.BindEnv("settlement.currency", "SETTLEMENT_CURRENCY")
	viper.BindEnv("sweep.interval", "SWEEP_INTERVAL")

	viper.BindEnv("jwt.secret_key", "JWT_SECRET_KEY")
	viper.BindEnv("jwt.expiry_hours", "JWT_EXPIRY_HOURS")
	viper.BindEnv("argon2.time", "ARGON2_TIME")
	viper.BindEnv("argon2.memory", "ARGON2_MEMORY")
	viper.BindEnv("argon2.threads", "ARGON2_THREADS")
	viper.BindEnv("argon2.key_length", "ARGON2_KEY_LENGTH")
	viper.BindEnv("argon2.salt_length", "ARGON2_SALT_LENGTH")

	viper.SetDefault("jwt.expiry_hours", 24)
	viper.SetDefault("argon2.time", 1)
	viper.SetDefault("argon2.memory", 64*1024)
	viper.SetDefault("argon2.threads", 4)
	viper.SetDefault("argon2.key_length", 32)
	viper.SetDefault("argon2.salt_length", 16)
	viper.SetDefault("sweep.interval", time.Hour)

	if err := viper.ReadInConfig(); err != nil {
		log.Printf("Config file not found, using defaults: %v", err)
	}

	// Initialize Swagger docs
	docs.SwaggerInfo.Title = "VestPay Backend API"
	docs.SwaggerInfo.Description = "Wallet, deposit, withdrawal and investment maturity backend"
	docs.SwaggerInfo.Version = "1.0"
	docs.SwaggerInfo.Host = "localhost:8080"
	docs.SwaggerInfo.BasePath = "/api/v1"
	docs.SwaggerInfo.Schemes = []string{"http", "https"}

	// Initialize collaborators
	db := database.InitDatabase()
	defer db.Close()

	redisClient := database.InitRedis()
	if redisClient != nil {
		defer redisClient.Close()
	}

	paystack := gateway.NewPaystackClient()
	settlement := services.NewSettlementService()

	// Initialize services
	authService := services.NewAuthService(db, redisClient)
	walletService := services.NewWalletService(db, redisClient, paystack)
	withdrawalService := services.NewWithdrawalService(db, settlement)
	manualDepositService := services.NewManualDepositService(db)
	investmentService := services.NewInvestmentService(db)
	adminService := services.NewAdminService(db)

	// Background maturity sweep
	sweepCtx, stopSweep := context.WithCancel(context.Background())
	defer stopSweep()
	investmentService.StartSweepScheduler(sweepCtx, viper.GetDuration("sweep.interval"))

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(mW.SecurityHeaders)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(60 * time.Second))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Access-Control-Allow-Origin"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	})

	// Swagger documentation
	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("http://localhost:8080/swagger/doc.json"),
	))

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		// Public endpoints (no auth required)
		r.Post("/auth/register", authService.Register)
		r.Post("/auth/login", authService.Login)
		r.Post("/webhooks/paystack", walletService.HandleWebhook)

		// Protected endpoints (auth required)
		r.Group(func(r chi.Router) {
			r.Use(mW.AuthMiddleware)

			r.Post("/auth/logout", authService.Logout)
			r.Get("/auth/account", authService.GetAccount)

			r.Post("/deposits/initiate", walletService.InitiateDeposit)
			r.Get("/deposits/{reference}/qr", walletService.GetDepositQR)
			r.Post("/deposits/manual", manualDepositService.ReportDeposit)

			r.Get("/transactions", walletService.ListTransactions)
			r.Get("/transactions/{txId}", walletService.GetTransaction)

			r.Post("/withdrawals", withdrawalService.RequestWithdrawal)

			r.Get("/projects", investmentService.ListProjects)
			r.Post("/investments", investmentService.Invest)

			// Admin endpoints
			r.Group(func(r chi.Router) {
				r.Use(mW.AdminOnly)

				r.Get("/admin/users", adminService.ListUsers)
				r.Delete("/admin/users/{userId}", adminService.DeleteUser)
				r.Put("/admin/users/{userId}/role", adminService.SetUserRole)

				r.Get("/admin/withdrawals", adminService.ListWithdrawalRequests)
				r.Post("/admin/withdrawals/{requestId}/approve", withdrawalService.ApproveWithdrawal)
				r.Post("/admin/withdrawals/{requestId}/reject", withdrawalService.RejectWithdrawal)

				r.Get("/admin/deposits/manual", adminService.ListManualDepositRequests)
				r.Post("/admin/deposits/manual/{requestId}/approve", manualDepositService.ApproveManualDeposit)
				r.Post("/admin/deposits/manual/{requestId}/reject", manualDepositService.RejectManualDeposit)

				r.Post("/admin/projects", investmentService.CreateProject)
				r.Post("/admin/investments/sweep", investmentService.TriggerMaturitySweep)
			})
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
		WriteTimeout: 15 * time.Second,
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
	stopSweep()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	log.Println("Server stopped")
}
