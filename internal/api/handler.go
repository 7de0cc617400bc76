package api

import (
	"net/http"
	"strconv"
	"time"

	"escrow-service/internal/cache"
	"escrow-service/internal/escrow"
	"escrow-service/internal/gateway"
	"escrow-service/internal/models"
	"escrow-service/internal/store"
	"escrow-service/internal/util"
	"escrow-service/internal/webhook"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const statsCacheKey = "admin:escrow-stats"

// Handler contains HTTP handlers
type Handler struct {
	escrowService *escrow.Service
	processor     *webhook.Processor
	store         *store.Store
	statsCache    *cache.TTLCache
}

// NewHandler creates a new HTTP handler
func NewHandler(escrowService *escrow.Service, processor *webhook.Processor, st *store.Store, statsCache *cache.TTLCache) *Handler {
	return &Handler{
		escrowService: escrowService,
		processor:     processor,
		store:         st,
		statsCache:    statsCache,
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		v1.POST("/payments/initialize", h.initializePayment)
		v1.POST("/webhooks/paystack", h.handleWebhook)
		v1.POST("/bookings/:id/confirm-completion", h.confirmCompletion)
		v1.POST("/bookings/:id/refund", h.refundBooking)
		v1.POST("/payouts/:id/requeue", h.requeuePayout)
		v1.PUT("/providers/:id/payout-account", h.setPayoutAccount)
		v1.GET("/escrow/:bookingID", h.getEscrowEntry)
		v1.GET("/admin/stats", h.getStats)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck verifies the database is reachable
func (h *Handler) readinessCheck(c *gin.Context) {
	if err := h.store.Ping(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "not ready",
			"error":  err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// initializePayment starts the escrow lifecycle for a booking
func (h *Handler) initializePayment(c *gin.Context) {
	var req escrow.InitializePaymentRequest

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	resp, err := h.escrowService.InitializePayment(c.Request.Context(), &req)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to initialize payment",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusCreated, resp)
}

// handleWebhook ingests gateway callbacks. The status code tells the gateway
// whether to redeliver: 200 means settled (applied, duplicate, orphan or
// discarded), 400 means never retry, 503 means retry later.
func (h *Handler) handleWebhook(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read body"})
		return
	}

	signature := c.GetHeader("x-paystack-signature")

	switch h.processor.Process(c.Request.Context(), body, signature) {
	case webhook.Accepted:
		h.statsCache.Invalidate(statsCacheKey)
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	case webhook.Rejected:
		c.JSON(http.StatusBadRequest, gin.H{"error": "Rejected"})
	case webhook.RetryLater:
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Temporarily unavailable"})
	}
}

// confirmCompletion records the client's sign-off and releases the payout
func (h *Handler) confirmCompletion(c *gin.Context) {
	bookingID, ok := h.pathID(c, "id")
	if !ok {
		return
	}

	entry, err := h.escrowService.RequestRelease(c.Request.Context(), bookingID)
	if err != nil {
		c.JSON(http.StatusConflict, gin.H{
			"error":   "Failed to request release",
			"details": err.Error(),
		})
		return
	}

	h.statsCache.Invalidate(statsCacheKey)
	c.JSON(http.StatusOK, gin.H{"entry": entry})
}

// refundBooking reverses held funds back to the client
func (h *Handler) refundBooking(c *gin.Context) {
	bookingID, ok := h.pathID(c, "id")
	if !ok {
		return
	}

	if err := h.escrowService.RequestRefund(c.Request.Context(), bookingID); err != nil {
		c.JSON(http.StatusConflict, gin.H{
			"error":   "Failed to refund",
			"details": err.Error(),
		})
		return
	}

	h.statsCache.Invalidate(statsCacheKey)
	c.JSON(http.StatusOK, gin.H{"status": "refunded"})
}

// requeuePayout re-queues a FAILED payout with a fresh idempotency key
func (h *Handler) requeuePayout(c *gin.Context) {
	entryID, ok := h.pathID(c, "id")
	if !ok {
		return
	}

	entry, err := h.escrowService.RequeueFailed(c.Request.Context(), entryID)
	if err != nil {
		c.JSON(http.StatusConflict, gin.H{
			"error":   "Failed to requeue payout",
			"details": err.Error(),
		})
		return
	}

	h.statsCache.Invalidate(statsCacheKey)
	c.JSON(http.StatusOK, gin.H{"entry": entry})
}

type payoutAccountRequest struct {
	BankName      string `json:"bank_name" binding:"required"`
	AccountNumber string `json:"account_number" binding:"required"`
}

// setPayoutAccount registers or replaces a provider's payout destination.
// The gateway recipient is (re)created lazily on the next disbursement.
func (h *Handler) setPayoutAccount(c *gin.Context) {
	providerID, ok := h.pathID(c, "id")
	if !ok {
		return
	}

	var req payoutAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	bankCode, err := gateway.ResolveBankCode(req.BankName)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Unknown bank",
			"details": err.Error(),
		})
		return
	}

	recipient := &models.PayoutRecipient{
		ProviderID:    providerID,
		BankCode:      bankCode,
		AccountNumber: req.AccountNumber,
	}
	if err := h.store.UpsertRecipient(c.Request.Context(), recipient); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to save payout account",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "saved", "bank_code": bankCode})
}

// getEscrowEntry returns the ledger entry for a booking
func (h *Handler) getEscrowEntry(c *gin.Context) {
	bookingID, ok := h.pathID(c, "bookingID")
	if !ok {
		return
	}

	entry, err := h.escrowService.GetEntryForBooking(c.Request.Context(), bookingID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to load entry",
			"details": err.Error(),
		})
		return
	}
	if entry == nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "No escrow entry for booking",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"entry": entry})
}

// getStats serves aggregate ledger figures, cached briefly
func (h *Handler) getStats(c *gin.Context) {
	if cached, ok := h.statsCache.Get(statsCacheKey); ok {
		c.JSON(http.StatusOK, cached)
		return
	}

	stats, err := h.store.GetEscrowStats(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to compute stats",
			"details": err.Error(),
		})
		return
	}

	h.statsCache.Set(statsCacheKey, stats)
	c.JSON(http.StatusOK, stats)
}

func (h *Handler) pathID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid ID",
		})
		return 0, false
	}
	return id, true
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
