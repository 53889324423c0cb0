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

	"github.com/jafreck/TheresAlwaysADeal/config"
	"github.com/jafreck/TheresAlwaysADeal/internal/api"
	"github.com/jafreck/TheresAlwaysADeal/internal/broker"
	"github.com/jafreck/TheresAlwaysADeal/internal/redisclient"
	"github.com/jafreck/TheresAlwaysADeal/internal/scraper"
	"github.com/jafreck/TheresAlwaysADeal/internal/service"
	"github.com/jafreck/TheresAlwaysADeal/internal/store"
	"github.com/jafreck/TheresAlwaysADeal/internal/util"
	"github.com/jafreck/TheresAlwaysADeal/internal/worker"

	"github.com/gin-gonic/gin"
)

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting deal pipeline")

	tp, err := util.InitTracer("deal-pipeline", cfg.Observ.JaegerEndpoint)
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

	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redisClient.Close()
	log.Println("Redis connected")

	queues := broker.NewQueues(cfg.Kafka.Brokers, redisClient)
	defer queues.Close()
	log.Println("Kafka producers initialized")

	eventPublisher := broker.NewEventPublisher(queues)

	referral := scraper.NewReferral(cfg.Referral.Tags)
	registry := scraper.NewRegistry(scraper.Deps{Referral: referral})

	statsEngine := service.NewStatsEngine(db, redisClient, cfg.Scrape.DealScoreTTL)
	ingestEngine := service.NewIngestEngine(db, eventPublisher, statsEngine)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	scrapeWorker := worker.NewScrapeWorker(cfg.Kafka.Brokers, cfg.Kafka.ConsumerGroup,
		broker.QueueScrape, queues, registry, cfg.Scrape.Concurrency)
	scrapeWorker.Start(workerCtx)

	featuredWorker := worker.NewScrapeWorker(cfg.Kafka.Brokers, cfg.Kafka.ConsumerGroup+"-featured",
		broker.QueueFeaturedScrape, queues, registry, 1)
	featuredWorker.Start(workerCtx)

	ingestWorker := worker.NewIngestWorker(cfg.Kafka.Brokers, cfg.Kafka.ConsumerGroup+"-ingest",
		queues, ingestEngine)
	ingestWorker.Start(workerCtx)

	scheduler := worker.NewScheduler(queues, db, cfg.Scrape)
	scheduler.Start(workerCtx)

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(scheduler, registry, redisClient)
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

	log.Println("Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	workerCancel()
	scrapeWorker.Stop()
	featuredWorker.Stop()
	ingestWorker.Stop()

	log.Println("Pipeline exited")
}
