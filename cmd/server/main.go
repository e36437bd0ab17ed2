package main

import (
	"amayadori/internal/config"
	"amayadori/internal/database"
	"amayadori/internal/handlers"
	"amayadori/internal/jobs"
	"amayadori/internal/logging"
	"amayadori/internal/middleware"
	"amayadori/internal/services"
	"amayadori/internal/store"
	"amayadori/pkg/auth"
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/joho/godotenv"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	// Initialize structured logging (JSON in production, text in dev)
	logging.Init()

	log.Println("🚀 Starting Amayadori Server...")

	// Load .env file (ignore error if file doesn't exist)
	if err := godotenv.Load(); err != nil {
		log.Printf("⚠️  No .env file found or error loading it: %v", err)
	} else {
		log.Println("✅ .env file loaded successfully")
	}

	cfg := config.Load()
	log.Printf("📋 Configuration loaded (Port: %s, Env: %s)", cfg.Port, cfg.Environment)

	metrics := services.InitMetrics()

	// Storage. Mongo is the production store; without MONGODB_URI the server
	// runs on the in-memory store, which loses everything on restart.
	var st store.Store
	if cfg.MongoDBURI != "" {
		log.Println("🔗 Connecting to MongoDB...")
		mongoDB, err := database.NewMongoDB(cfg.MongoDBURI, cfg.MongoDBName)
		if err != nil {
			log.Fatalf("❌ Failed to connect to MongoDB: %v", err)
		}
		if err := mongoDB.Initialize(context.Background()); err != nil {
			log.Fatalf("❌ Failed to initialize MongoDB indexes: %v", err)
		}
		st = store.NewMongoStore(mongoDB)
	} else {
		if cfg.Environment == "production" {
			log.Fatal("❌ MONGODB_URI is required in production")
		}
		log.Println("⚠️ MONGODB_URI not set - using in-memory store (development only)")
		st = store.NewMemoryStore()
	}
	defer st.Close(context.Background())

	// Redis is optional: cooldowns and dedup fall back to Mongo state, the
	// sweeper runs unlocked on a single node.
	var redisService *services.RedisService
	if cfg.RedisURL != "" {
		log.Println("🔗 Connecting to Redis...")
		var err error
		redisService, err = services.NewRedisService(cfg.RedisURL)
		if err != nil {
			log.Printf("⚠️ Failed to connect to Redis: %v (running without it)", err)
			redisService = nil
		} else {
			log.Println("✅ Redis connected successfully")
			defer redisService.Close()
		}
	} else {
		log.Println("⚠️ REDIS_URL not set - cooldowns use Mongo fallback only")
	}

	bus := services.NewEventBus()

	statsService, err := services.NewStatsService(st, metrics, cfg.MetricsTimezone)
	if err != nil {
		log.Fatalf("❌ Failed to initialize stats service: %v", err)
	}

	weatherService := services.NewWeatherService(st, statsService, cfg.WeatherPolicyPath)
	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()
	if err := weatherService.Start(rootCtx); err != nil {
		log.Printf("⚠️ Weather policy watcher failed to start: %v", err)
	}

	starterService, err := services.NewStarterService(cfg.StartersPath)
	if err != nil {
		log.Fatalf("❌ Failed to load conversation starters: %v", err)
	}

	entryService := services.NewEntryService(st, redisService, weatherService, statsService, bus, metrics,
		cfg.QueueEntryTTL, cfg.LeaveCooldown, cfg.BulkCancelPage)

	matchService := services.NewMatchService(st, statsService, bus, metrics,
		cfg.CandidateScan, cfg.QueueEntryTTL, cfg.StalenessWindow, cfg.RoomTTL, cfg.PairHistoryTTL)
	matchService.Start()

	roomService := services.NewRoomService(st, redisService, statsService, bus, metrics, entryService,
		cfg.RoomTTL, cfg.ClosedRoomGrace)

	responderWorker := services.NewResponderWorker(st, roomService, bus, redisService, services.CannedResponder{})
	responderWorker.Start()

	// Background sweep replaces TTL-driven cleanup: expired queue entries,
	// rooms past their deadline, old messages and audit rows.
	scheduler, err := jobs.NewJobScheduler()
	if err != nil {
		log.Fatalf("❌ Failed to create job scheduler: %v", err)
	}
	sweeper := jobs.NewSweeperJob(st, redisService, statsService, metrics, jobs.SweeperConfig{
		Batch:         cfg.SweepBatch,
		MaxPerRun:     cfg.SweepMaxPerRun,
		RoomPage:      cfg.SweepRoomPage,
		MsgLoopCap:    cfg.SweepMsgLoopCap,
		MessageMaxAge: cfg.MessageMaxAge,
		AuditMaxAge:   cfg.WeatherAuditMaxAge,
	})
	if err := scheduler.Register(cfg.SweepCron, sweeper); err != nil {
		log.Fatalf("❌ Failed to register sweeper: %v", err)
	}
	scheduler.Start()

	// Auth. An empty secret disables verification in development only; the
	// middleware fatals on that in production.
	var anonAuth *auth.AnonymousAuth
	if cfg.JWTSecret != "" {
		anonAuth, err = auth.NewAnonymousAuth(cfg.JWTSecret, cfg.AccessTokenTTL)
		if err != nil {
			log.Fatalf("❌ Failed to initialize auth: %v", err)
		}
	}

	app := fiber.New(fiber.Config{
		AppName:      "amayadori",
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{"error": err.Error()})
		},
	})

	app.Use(recover.New())
	app.Use(logger.New(logger.Config{
		Format: "${time} ${status} ${latency} ${method} ${path}\n",
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: cfg.CORSOrigins,
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
	}))

	prometheus := fiberprometheus.New("amayadori")
	prometheus.RegisterAt(app, "/metrics")
	app.Use(prometheus.Middleware)

	rateLimits := middleware.LoadRateLimitConfig()
	app.Use(middleware.GlobalAPIRateLimiter(rateLimits))

	authHandler := handlers.NewAuthHandler(anonAuth)
	queueHandler := handlers.NewQueueHandler(entryService)
	roomHandler := handlers.NewRoomHandler(roomService, starterService)
	visitHandler := handlers.NewVisitHandler(st, redisService, statsService)
	adminHandler := handlers.NewAdminHandler(statsService, weatherService)
	healthHandler := handlers.NewHealthHandler(st, redisService)
	wsHandler := handlers.NewWSHandler(bus, metrics)

	app.Get("/health", healthHandler.Health)
	app.Post("/api/auth/anon", authHandler.Anon)

	authed := middleware.AuthMiddleware(anonAuth)

	queue := app.Group("/api/queue", authed, middleware.QueueRateLimiter(rateLimits))
	queue.Post("/enter", queueHandler.Enter)
	queue.Get("/entries/:id", queueHandler.Get)
	queue.Post("/entries/:id/touch", queueHandler.Touch)
	queue.Post("/entries/:id/cancel", queueHandler.Cancel)
	queue.Post("/cancel-all", queueHandler.CancelAll)

	rooms := app.Group("/api/rooms", authed)
	rooms.Post("/owner", roomHandler.StartOwner)
	rooms.Get("/:id", roomHandler.Get)
	rooms.Post("/:id/leave", roomHandler.Leave)
	rooms.Post("/:id/messages", middleware.MessageRateLimiter(rateLimits), roomHandler.PostMessage)
	rooms.Get("/:id/messages", roomHandler.ListMessages)
	rooms.Get("/:id/starters", roomHandler.Starters)

	app.Post("/api/track/visit", authed, visitHandler.Track)
	app.Post("/beacon/cancel", authed, queueHandler.Beacon)

	admin := app.Group("/api/admin", authed, middleware.AdminMiddleware(cfg))
	admin.Get("/metrics/:day", adminHandler.DailyMetrics)
	admin.Get("/config", adminHandler.GetConfig)
	admin.Put("/config", adminHandler.PutConfig)

	app.Use("/ws", middleware.WebSocketRateLimiter(rateLimits), authed, wsHandler.Upgrade)
	app.Get("/ws", wsHandler.Stream())

	// Graceful shutdown on SIGINT/SIGTERM.
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit

		log.Println("🛑 Shutting down server...")
		scheduler.Stop()
		rootCancel()
		bus.Shutdown()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := app.ShutdownWithContext(shutdownCtx); err != nil {
			log.Printf("⚠️ Server shutdown error: %v", err)
		}
	}()

	log.Printf("🌧️ Amayadori listening on :%s", cfg.Port)
	if err := app.Listen(":" + cfg.Port); err != nil {
		log.Fatalf("❌ Server error: %v", err)
	}

	log.Println("✅ Server stopped")
}
