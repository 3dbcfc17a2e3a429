package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/ridelink/ridelink-backend/internal/config"
	"github.com/ridelink/ridelink-backend/internal/database"
	"github.com/ridelink/ridelink-backend/internal/dispatch"
	"github.com/ridelink/ridelink-backend/internal/events"
	"github.com/ridelink/ridelink-backend/internal/geo"
	"github.com/ridelink/ridelink-backend/internal/handlers"
	"github.com/ridelink/ridelink-backend/internal/ingest"
	"github.com/ridelink/ridelink-backend/internal/logging"
	"github.com/ridelink/ridelink-backend/internal/match"
	"github.com/ridelink/ridelink-backend/internal/middleware"
	"github.com/ridelink/ridelink-backend/internal/models"
	"github.com/ridelink/ridelink-backend/internal/notify"
	"github.com/ridelink/ridelink-backend/internal/otp"
	"github.com/ridelink/ridelink-backend/internal/ride"
	"github.com/ridelink/ridelink-backend/internal/store"
)

func main() {
	// .env is optional outside local runs.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()

	db, err := database.InitDB(cfg.DatabaseDSN())
	if err != nil {
		logger.Fatalw("database init failed", "err", err)
	}
	st := store.NewGormStore(db)

	hub := events.NewHub(logger)
	go hub.Run()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Redis upgrades three concerns at once: cross-node event fan-out, the
	// geo index, and OTP challenge storage. Without it everything runs on
	// single-node in-memory backends.
	var bus events.Bus = hub
	var index geo.Index
	var otpStore otp.Store
	if cfg.RedisEnabled() {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Fatalw("redis unreachable", "addr", cfg.RedisAddr, "err", err)
		}
		redisBus := events.NewRedisBus(rdb, hub, logger)
		go redisBus.Run(ctx)
		bus = redisBus
		index = geo.NewRedisIndex(rdb, cfg.RedisGeoKey)
		otpStore = otp.NewRedisStore(rdb)
		logger.Infow("redis backends enabled", "addr", cfg.RedisAddr)
	} else {
		memIndex := geo.NewMemoryIndex()
		memOtp := otp.NewMemoryStore()
		defer memOtp.Close()
		index = memIndex
		otpStore = memOtp
		logger.Infow("running on in-memory backends")
	}

	var notifier notify.Notifier
	if cfg.SMSAPIKey != "" {
		notifier = notify.NewSMSGateway("", cfg.SMSUsername, cfg.SMSAPIKey, logger)
	} else {
		notifier = &notify.LogNotifier{Logger: logger}
	}

	var producer *ingest.Producer
	if cfg.KafkaEnabled() {
		producer = ingest.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer producer.Close()
	}

	otpSvc := otp.NewService(otpStore, cfg.OtpTTL, 3, logger)
	matcher := match.NewMatcher(index, st, logger)
	svc := ride.NewService(st, st, st, bus, otpSvc, notifier, logger)
	svc.SetSurge(cfg.SurgeMultiplier)
	coord := dispatch.NewCoordinator(matcher, st, bus, logger)
	coord.SetOfferWindow(cfg.OfferWindow)
	svc.SetResolver(coord)

	r := gin.Default()

	corsCfg := cors.DefaultConfig()
	corsCfg.AllowOrigins = []string{"*"}
	corsCfg.AllowHeaders = []string{"Origin", "Content-Type", "Accept", "Authorization"}
	r.Use(cors.New(corsCfg))

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/healthz", func(c *gin.Context) { c.JSON(200, gin.H{"status": "ok"}) })

	api := r.Group("/api")
	{
		auth := api.Group("/auth")
		{
			auth.POST("/register", handlers.Register(db))
			auth.POST("/login", handlers.Login(db))
		}

		protected := api.Group("")
		protected.Use(middleware.AuthMiddleware())
		{
			protected.GET("/ws", handlers.WebSocket(hub))

			rides := protected.Group("/rides")
			{
				rides.POST("", middleware.RequireUserType(string(models.UserTypeRider)), handlers.RequestRide(svc, coord, logger))
				rides.GET("/history", handlers.RideHistory(svc))
				rides.GET("/:id", handlers.GetRide(svc))
				rides.POST("/:id/cancel", handlers.CancelRide(svc))
				rides.POST("/:id/verify-otp", handlers.VerifyOtp(svc))
				rides.POST("/:id/rate", handlers.RateRide(svc))
			}

			protected.GET("/drivers/nearby", handlers.NearbyDrivers(matcher))

			driver := protected.Group("/driver")
			driver.Use(middleware.RequireUserType(string(models.UserTypeDriver)))
			{
				driver.POST("/location", handlers.UpdateLocation(st, index, bus, producer, logger))
				driver.POST("/availability", handlers.SetAvailability(st, index, logger))
				driver.GET("/stats", handlers.DriverStats(st))
				driver.POST("/rides/:id/accept", handlers.AcceptRide(svc))
				driver.POST("/rides/:id/arrived", handlers.MarkArrived(svc))
				driver.POST("/rides/:id/start-otp", handlers.IssueStartOtp(svc))
				driver.POST("/rides/:id/complete", handlers.CompleteRide(svc))
			}
		}
	}

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: r}
	go func() {
		logger.Infow("api listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalw("server stopped", "err", err)
		}
	}()

	<-ctx.Done()
	logger.Infow("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorw("graceful shutdown failed", "err", err)
	}
}
