package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jafreck/TheresAlwaysADeal/internal/broker"
	"github.com/jafreck/TheresAlwaysADeal/internal/redisclient"
	"github.com/jafreck/TheresAlwaysADeal/internal/scraper"
	"github.com/jafreck/TheresAlwaysADeal/internal/util"
	"github.com/jafreck/TheresAlwaysADeal/internal/worker"
)

// Handler contains HTTP handlers
type Handler struct {
	scheduler *worker.Scheduler
	registry  *scraper.Registry
	counters  *redisclient.Client
}

// NewHandler creates a new HTTP handler
func NewHandler(scheduler *worker.Scheduler, registry *scraper.Registry, counters *redisclient.Client) *Handler {
	return &Handler{
		scheduler: scheduler,
		registry:  registry,
		counters:  counters,
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", h.queueMetrics)
	router.GET("/metrics/prometheus", gin.WrapH(promhttp.Handler()))

	router.POST("/jobs/scrape/:sourceId", h.triggerScrape)
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck handles readiness check requests
func (h *Handler) readinessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// queueMetrics reports per-queue job counts for the pipeline queues
func (h *Handler) queueMetrics(c *gin.Context) {
	queues := []string{broker.QueueScrape, broker.QueueIngest, broker.QueuePriceDrop}

	counts := make(map[string]redisclient.QueueCounts, len(queues))
	for _, queue := range queues {
		queueCounts, err := h.counters.QueueCountsFor(c.Request.Context(), queue)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "Failed to read queue counts",
				"details": err.Error(),
			})
			return
		}
		counts[queue] = queueCounts
	}

	c.JSON(http.StatusOK, counts)
}

// triggerScrape enqueues an ad-hoc scrape job for one source
func (h *Handler) triggerScrape(c *gin.Context) {
	source := c.Param("sourceId")

	if !h.registry.Known(source) {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "Unknown source: " + source,
		})
		return
	}

	jobID, err := h.scheduler.TriggerScrape(c.Request.Context(), source)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to enqueue scrape job",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"job_id": jobID,
		"source": source,
	})
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
