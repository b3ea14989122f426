package server

import (
	"io"
	"net/http"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	webhookRatePerSecond = 10
	webhookBurst         = 50
)

// rateLimitWebhook shields the webhook route from gateway retry storms. A
// nil limiter (no Redis configured) allows everything through.
func (s *Server) rateLimitWebhook() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.webhookLimiter == nil {
			c.Next()
			return
		}
		result, err := s.webhookLimiter.Allow(c.Request.Context(), "webhook:razorpay", webhookRatePerSecond, webhookBurst)
		if err != nil {
			// Redis trouble must not drop gateway deliveries.
			s.log.Warn("webhook rate limiter unavailable", zap.Error(err))
			c.Next()
			return
		}
		if !result.Allowed {
			c.Header("Retry-After", result.RetryAfter.String())
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"status":  "error",
				"message": "rate limited",
			})
			return
		}
		c.Next()
	}
}

// HandleRazorpayWebhook always answers 200 so the gateway does not retry
// deliveries we have already classified. Verification or parse problems
// are reported in the body only.
func (s *Server) HandleRazorpayWebhook(c *gin.Context) {
	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"status": "error", "message": "unreadable payload"})
		return
	}

	if err := s.paymentSvc.Ingest(c.Request.Context(), payload, c.Request.Header); err != nil {
		c.JSON(http.StatusOK, gin.H{"status": "error", "message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type verifyPaymentRequest struct {
	SubscriptionID string `json:"subscription_id" binding:"required"`
	PaymentID      string `json:"razorpay_payment_id" binding:"required"`
	OrderID        string `json:"razorpay_order_id" binding:"required"`
	Signature      string `json:"razorpay_signature" binding:"required"`
}

func (s *Server) HandleVerifyPayment(c *gin.Context) {
	var req verifyPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	subscriptionID, err := snowflake.ParseString(req.SubscriptionID)
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	if err := s.paymentSvc.VerifyManualPayment(c.Request.Context(), subscriptionID, req.PaymentID, req.OrderID, req.Signature); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"subscriptionId": subscriptionID.String(),
		"paymentId":      req.PaymentID,
		"status":         "verified",
	})
}
