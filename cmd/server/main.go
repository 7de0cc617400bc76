package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"escrow-service/config"
	"escrow-service/internal/api"
	"escrow-service/internal/broker"
	"escrow-service/internal/cache"
	"escrow-service/internal/disburser"
	"escrow-service/internal/escrow"
	"escrow-service/internal/gateway"
	"escrow-service/internal/redisclient"
	"escrow-service/internal/store"
	"escrow-service/internal/util"
	"escrow-service/internal/webhook"
	"escrow-service/internal/worker"

	"github.com/gin-gonic/gin"
)

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting escrow service")

	tp, err := util.InitTracer("escrow-service", cfg.Observ.JaegerEndpoint)
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			log.Printf("Error shutting down tracer: %v", err)
		}
	}()

	db, err := store.NewStore(cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	log.Println("Database connected")

	if err := db.RunMigrations(cfg.Database.MigrationsDir); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}
	log.Println("Migrations applied")

	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redisClient.Close()
	log.Println("Redis connected")

	producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicNotification)
	defer producer.Close()
	log.Println("Kafka producer initialized")

	notifier := broker.NewNotificationPublisher(producer)

	paystack := gateway.NewPaystackClient(cfg.Gateway.BaseURL, cfg.Gateway.SecretKey)

	payouts := disburser.New(db, paystack, redisClient, notifier, cfg.Escrow)
	escrowService := escrow.NewService(db, paystack, notifier, payouts, cfg.Escrow, cfg.Gateway.CallbackURL)

	verifier := webhook.NewVerifier(cfg.Gateway.WebhookSecret)
	processor := webhook.NewProcessor(verifier, escrowService, db).WithSeenCache(redisClient)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	bookingConsumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicBooking, cfg.Kafka.ConsumerGroup)
	bookingWorker := worker.NewBookingEventWorker(bookingConsumer, db, escrowService)
	go func() {
		if err := bookingWorker.Start(workerCtx); err != nil {
			log.Printf("Booking event worker error: %v", err)
		}
	}()

	reconciler := worker.NewReconciler(db, paystack, escrowService, cfg.Escrow)
	go reconciler.Start(workerCtx)

	autoConfirmer := worker.NewAutoConfirmer(db, escrowService, cfg.Escrow)
	go autoConfirmer.Start(workerCtx)

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.Default()
	handler := api.NewHandler(escrowService, processor, db, cache.New())
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		log.Printf("Starting HTTP server on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	workerCancel()
	bookingWorker.Stop()

	log.Println("Server exited")
}
