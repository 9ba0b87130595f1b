package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"competition-escrow-system/engine"
	"competition-escrow-system/handlers"
	"competition-escrow-system/middleware"
	"competition-escrow-system/models"
	"competition-escrow-system/services"
	"competition-escrow-system/utils"
	"competition-escrow-system/workers"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, reading environment variables directly")
	}

	app := fiber.New(fiber.Config{})

	// Only Gateway requests allowed — no exceptions
	app.Use(middleware.GatewayAuthMiddleware())

	allowedOriginsEnv := os.Getenv("ALLOWED_ORIGINS")
	if allowedOriginsEnv == "" {
		log.Println("ALLOWED_ORIGINS environment variable not set, using default: http://localhost:3000")
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
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-Requested-With, X-Request-ID, X-Wallet-Address, X-User-Roles",
		ExposeHeaders:    "Content-Length, Content-Type, Authorization, X-Request-ID",
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		log.Fatal("DATABASE_URL environment variable not set")
	}

	if err := utils.InitR2(); err != nil {
		log.Printf("R2 disabled: %v — token URIs will be rendered inline", err)
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Fatal("failed to connect to database:", err)
	}

	if err := db.AutoMigrate(
		&models.Competition{},
		&models.CompetitionMetadata{},
		&models.Ticket{},
		&models.ClaimRecord{},
		&models.ProofRecord{},
		&models.ClaimableBalance{},
		&models.Withdrawal{},
		&models.BoosterAllocation{},
	); err != nil {
		log.Fatal("failed to migrate database:", err)
	}

	cfg := engine.ConfigFromEnv()
	if err := cfg.Validate(); err != nil {
		log.Fatal("invalid escrow configuration:", err)
	}

	clock := clockwork.NewRealClock()
	competitionService := services.NewCompetitionService(db, cfg, clock)
	claimService := services.NewClaimService(db, cfg, clock)
	metadataService := services.NewMetadataService(db)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	transferClient := workers.NewTransferClient(db)
	go workers.PollWithdrawals(ctx, transferClient, 10*time.Second)

	competitionService.StartDeadlineScheduler()

	handlers.SetupCompetitionRoutes(app, competitionService, claimService, metadataService)

	go func() {
		if err := app.Listen(":5300"); err != nil {
			log.Printf("Server error: %v", err)
		}
	}()

	log.Println("Server running on http://localhost:5300")
	log.Println("Withdrawal transfer polling running (every 10s)")
	log.Println("Deadline scheduler running (every 1m)")
	log.Println("GatewayAuthMiddleware enforced globally — all requests must come from Gateway")
	log.Printf("CORS configured for origins: %s", allowedOriginsString)

	<-ctx.Done()
	log.Println("Shutting down server...")
}
