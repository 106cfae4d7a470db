package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/robfig/cron"

	config "github.com/cuongccna/autopost-vn-sub000/configs"
	"github.com/cuongccna/autopost-vn-sub000/internal/api/handlers"
	"github.com/cuongccna/autopost-vn-sub000/internal/api/middleware"
	job "github.com/cuongccna/autopost-vn-sub000/internal/jobs"
	"github.com/cuongccna/autopost-vn-sub000/internal/media"
	"github.com/cuongccna/autopost-vn-sub000/internal/orchestrator"
	"github.com/cuongccna/autopost-vn-sub000/internal/publisher"
	"github.com/cuongccna/autopost-vn-sub000/internal/queue"
	"github.com/cuongccna/autopost-vn-sub000/internal/ratelimit"
	"github.com/cuongccna/autopost-vn-sub000/internal/repository"
	"github.com/cuongccna/autopost-vn-sub000/pkg/crypto"
)

const dueSweepBatch = 50

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: Failed to load environment variables", err)
	}

	cfg := config.LoadConfig()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	cipher, err := crypto.New(cfg.EncryptionKey)
	if err != nil {
		log.Fatalf("Failed to initialize token cipher: %v", err)
	}

	db, err := sql.Open("postgres", cfg.PostgresURI)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer closeDB(db)

	if err := db.Ping(); err != nil {
		log.Fatalf("Database is unreachable: %v", err)
	}

	redisConn := asynq.RedisClientOpt{Addr: cfg.RedisURI}
	client := asynq.NewClient(redisConn)
	defer client.Close()

	app := fiber.New(fiber.Config{
		ReadTimeout:  2 * time.Minute,
		WriteTimeout: 2 * time.Minute,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			log.Printf("Error: %v", err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
		},
	})

	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		MaxAge:       3600,
	}))

	postRepo := repository.NewPostRepository(db)
	scheduleRepo := repository.NewPostScheduleRepository(db)
	socialAccountRepo := repository.NewSocialAccountRepository(db)
	activityLogRepo := repository.NewActivityLogRepository(db)

	uploader := media.NewUploader(cfg.MediaConcurrency)
	assets := media.NewAssetStore(*cfg)
	registry := publisher.NewRegistry(*cfg, uploader, assets)
	limiter := ratelimit.NewLimiter(cfg.RateLimits, cfg.BaseRetryDelay)

	orch := orchestrator.New(*cfg, cipher, limiter, registry,
		scheduleRepo, socialAccountRepo, postRepo, activityLogRepo)

	refreshTokenJob := job.NewTokenRefreshJob(socialAccountRepo, activityLogRepo, cipher, *cfg)

	authMiddleware := middleware.NewAuthMiddleware(*cfg)

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})

	api := app.Group("/api")
	api.Use(authMiddleware.AuthMiddleware())

	schedule := handlers.NewScheduleHandler(orch, scheduleRepo, postRepo, client)
	api.Get("/posts/:id/schedules", schedule.ListPostSchedules)
	api.Post("/schedules/:id/cancel", schedule.CancelSchedule)
	api.Post("/schedules/:id/enqueue", schedule.EnqueueSchedule)

	token := handlers.NewTokenHandler(refreshTokenJob)
	api.Post("/tokens/refresh", token.TriggerRefresh)

	queueW := queue.NewQueue(orch, client)

	c := cron.New()
	c.AddFunc("@every 06h00m00s", refreshTokenJob.RefreshTokens)
	c.AddFunc("@every 00h01m00s", func() {
		if err := orch.ProcessDue(context.Background(), dueSweepBatch); err != nil {
			log.Printf("Due sweep failed: %v", err)
		}
	})
	c.Start()

	go func() {
		server := asynq.NewServer(redisConn, asynq.Config{
			Concurrency: 10,
		})

		mux := asynq.NewServeMux()
		mux.HandleFunc(queue.TaskTypePublishSchedule, queueW.HandlePublishScheduleTask)

		log.Println("Starting the Asynq server...")
		if err := server.Run(mux); err != nil {
			log.Fatalf("Could not start Asynq server: %v", err)
		}
	}()

	go func() {
		if err := app.Listen(cfg.ListenAddr); err != nil {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()
	log.Printf("Server is running on %s", cfg.ListenAddr)

	gracefulShutdown(app, db)
}

func closeDB(db *sql.DB) {
	fmt.Fprint(os.Stdout, "Closing database connection... ")
	if err := db.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to close database: %v", err)
		return
	}
	fmt.Fprintln(os.Stdout, "Done")
}

func gracefulShutdown(app *fiber.App, db *sql.DB) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	<-quit
	log.Println("Shutting down server...")

	if err := app.Shutdown(); err != nil {
		log.Fatalf("Failed to shut down server: %v", err)
	}

	closeDB(db)
	log.Println("Server shutdown complete.")
}
