package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"reading-rewards-system/handlers"
	"reading-rewards-system/middleware"
	"reading-rewards-system/models"
	"reading-rewards-system/services"
	"reading-rewards-system/utils"
	"reading-rewards-system/workers"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️  No .env file found, reading environment variables directly")
	}

	app := fiber.New(fiber.Config{})

	// 🔐❗ GLOBAL: Only Gateway requests allowed — no exceptions
	app.Use(middleware.GatewayAuthMiddleware())

	// Load allowed origins from environment variable
	allowedOriginsEnv := os.Getenv("ALLOWED_ORIGINS")
	if allowedOriginsEnv == "" {
		log.Println("⚠️  ALLOWED_ORIGINS environment variable not set, using default: http://localhost:3000")
		allowedOriginsEnv = "http://localhost:3000"
	}
	allowedOriginsList := strings.Split(allowedOriginsEnv, ",")
	for i, origin := range allowedOriginsList {
		allowedOriginsList[i] = strings.TrimSpace(origin)
	}
	allowedOriginsString := strings.Join(allowedOriginsList, ",")

	app.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOriginsString,
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS,PATCH,HEAD",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-Requested-With, X-Request-ID, User-Agent, Cache-Control, X-Session-Token, X-Service-Token, X-Device-ID",
		ExposeHeaders:    "Content-Length, Content-Type, Authorization, X-Request-ID",
		AllowCredentials: true,
		MaxAge:           86400, // 24 hours
	}))

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		log.Fatal("DATABASE_URL environment variable not set")
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Fatal("failed to connect to database:", err)
	}

	if err := models.Migrate(db); err != nil {
		log.Fatal("failed to migrate database:", err)
	}

	var metadata services.MetadataStore
	r2Store, err := utils.NewR2StoreFromEnv()
	if err != nil {
		log.Printf("⚠️  R2 metadata store unavailable, tokens will mint without metadata: %v", err)
	} else {
		metadata = r2Store
	}

	gateway := services.NewNFTGatewayFromEnv()
	if err := gateway.Initialize(); err != nil {
		log.Fatal("failed to initialize NFT gateway:", err)
	}

	// --- CONFIGURE external service details ---
	profileServiceURL := os.Getenv("PROFILE_SERVICE_URL")
	if profileServiceURL == "" {
		log.Fatal("PROFILE_SERVICE_URL environment variable not set")
	}
	serviceToken := os.Getenv("REWARDS_SERVICE_TOKEN")
	if serviceToken == "" {
		log.Fatal("REWARDS_SERVICE_TOKEN environment variable not set")
	}
	activityServiceURL := os.Getenv("ACTIVITY_SERVICE_URL")
	if activityServiceURL == "" {
		log.Fatal("ACTIVITY_SERVICE_URL environment variable not set")
	}
	// --- END CONFIG ---

	userService := services.NewUserService(db)
	activityClient := services.NewActivityClient(activityServiceURL, serviceToken)
	eligibilityService := services.NewEligibilityService(activityClient)
	claimService := services.NewClaimService(db, eligibilityService, userService, gateway, metadata)
	progressService := services.NewRewardProgressService(db, userService, gateway, metadata)
	campaignService := services.NewCampaignService(db, gateway, metadata)

	var authClient *services.AuthServiceClient
	if authURL := os.Getenv("AUTH_SERVICE_URL"); authURL != "" {
		authClient = services.NewAuthServiceClient(authURL, serviceToken)
	} else {
		log.Println("⚠️  AUTH_SERVICE_URL not set — SSE token stream disabled")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	syncWorker := workers.NewUserSyncWorker(db, profileServiceURL, "/api/v1/public/profiles", serviceToken)
	syncWorker.Start(ctx)

	reconcileWorker := workers.NewReconcileWorker(db, gateway, userService)
	reconcileWorker.Start(ctx)

	campaignService.StartLifecycleScheduler()

	// ✅ Setup routes — enforced Gateway auth + consistent /s/ prefix
	handlers.SetupCampaignRoutes(app, campaignService)
	handlers.SetupClaimRoutes(app, claimService, userService)
	handlers.SetupRewardRoutes(app, progressService, authClient)

	go func() {
		if err := app.Listen(":5300"); err != nil {
			log.Printf("Server error: %v", err)
		}
	}()

	log.Println("✅ Server running on http://localhost:5300")
	log.Println("✅ User Sync Worker running")
	log.Println("✅ Reconcile Worker running")
	log.Println("✅ GatewayAuthMiddleware enforced globally — all requests must come from Gateway")
	log.Printf("✅ CORS configured for origins: %s", allowedOriginsString)

	<-ctx.Done()
	log.Println("Shutting down server...")
}
