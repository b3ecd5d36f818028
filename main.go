package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"stake-match-system/handlers"
	"stake-match-system/middleware"
	"stake-match-system/models"
	"stake-match-system/services"
	"stake-match-system/utils"
	"stake-match-system/workers"

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

	// 🔐 GLOBAL: only Gateway requests allowed — no exceptions
	app.Use(middleware.GatewayAuthMiddleware())

	allowedOriginsEnv := os.Getenv("ALLOWED_ORIGINS")
	if allowedOriginsEnv == "" {
		log.Println("⚠️  ALLOWED_ORIGINS environment variable not set, using default: http://localhost:3000")
		allowedOriginsEnv = "http://localhost:3000"
	}
	allowedOriginsList := strings.Split(allowedOriginsEnv, ",")
	for i, origin := range allowedOriginsList {
		allowedOriginsList[i] = strings.TrimSpace(origin)
	}

	app.Use(cors.New(cors.Config{
		AllowOrigins:     strings.Join(allowedOriginsList, ","),
		AllowMethods:     "GET,POST,OPTIONS",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-Request-ID, X-User-ID, X-User-Roles",
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		log.Fatal("DATABASE_URL environment variable not set")
	}

	if err := utils.InitR2(); err != nil {
		log.Fatal("failed to initialize R2 client:", err)
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Fatal("failed to connect to database:", err)
	}

	if err := db.AutoMigrate(
		&models.Game{},
		&models.GameMove{},
		&models.LedgerAccount{},
		&models.LedgerState{},
		&models.SettlementRecord{},
		&models.MoveProposal{},
		&models.ProposalVote{},
	); err != nil {
		log.Fatal("failed to migrate database:", err)
	}

	// External collaborators: the yield reserve and the treasury. A local
	// deployment can run against the in-process reserve simulation.
	var reserve services.ReserveVault
	if os.Getenv("RESERVE_SERVICE_URL") != "" {
		reserve = services.NewLendingPoolClient()
	} else {
		log.Println("⚠️  RESERVE_SERVICE_URL not set — using in-process simulated lending pool")
		reserve = services.NewSimulatedLendingPool()
	}
	payments := services.NewTreasuryClient()

	ledgerService := services.NewLedgerService(db, reserve, payments)
	gameService := services.NewGameService(db, ledgerService, services.GameConfigFromEnv())
	consensusService := services.NewConsensusService(db, ledgerService, gameService)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go workers.PollReserve(ctx, ledgerService, 30*time.Second)

	if gameService.Config.Mode == services.MoveModeConsensus && os.Getenv("AUTO_RESOLVE_BALLOTS") != "false" {
		consensusService.StartBallotScheduler()
	}

	handlers.SetupGameRoutes(app, gameService)
	handlers.SetupStakingRoutes(app, ledgerService)
	handlers.SetupConsensusRoutes(app, consensusService)

	go func() {
		if err := app.Listen(":5300"); err != nil {
			log.Printf("Server error: %v", err)
		}
	}()

	log.Println("✅ Server running on http://localhost:5300")
	log.Printf("✅ Move mode: %s", gameService.Config.Mode)
	log.Println("✅ Reserve polling running (every 30s)")
	log.Println("✅ GatewayAuthMiddleware enforced globally — all requests must come from Gateway")

	<-ctx.Done()
	log.Println("Shutting down server...")
}
