package server

import (
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	plandomain "github.com/smallbiznis/tably/internal/plan/domain"
	subscriptiondomain "github.com/smallbiznis/tably/internal/subscription/domain"
)

type subscriptionResponse struct {
	ID                 string     `json:"id"`
	AdminID            string     `json:"admin_id"`
	PlanID             string     `json:"plan_id"`
	Status             string     `json:"status"`
	BillingCycle       string     `json:"billing_cycle"`
	StartDate          time.Time  `json:"start_date"`
	EndDate            time.Time  `json:"end_date"`
	AutoRenew          bool       `json:"auto_renew"`
	CancellationReason *string    `json:"cancellation_reason,omitempty"`
	CancelledAt        *time.Time `json:"cancelled_at,omitempty"`
	LastUpdated        time.Time  `json:"last_updated"`
}

func toSubscriptionResponse(sub subscriptiondomain.Subscription) subscriptionResponse {
	return subscriptionResponse{
		ID:                 sub.ID.String(),
		AdminID:            sub.AdminID.String(),
		PlanID:             sub.PlanID.String(),
		Status:             string(sub.Status),
		BillingCycle:       string(sub.BillingCycle),
		StartDate:          sub.StartDate,
		EndDate:            sub.EndDate,
		AutoRenew:          sub.AutoRenew,
		CancellationReason: sub.CancellationReason,
		CancelledAt:        sub.CancelledAt,
		LastUpdated:        sub.LastUpdated,
	}
}

type createSubscriptionRequest struct {
	AdminID      string `json:"admin_id" binding:"required"`
	PlanID       string `json:"plan_id" binding:"required"`
	BillingCycle string `json:"billing_cycle" binding:"required"`
}

func (s *Server) HandleCreateSubscription(c *gin.Context) {
	var req createSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	adminID, err := snowflake.ParseString(req.AdminID)
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	planID, err := snowflake.ParseString(req.PlanID)
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	sub, err := s.subscriptionSvc.CreatePending(c.Request.Context(), subscriptiondomain.CreatePendingRequest{
		AdminID:      adminID,
		PlanID:       planID,
		BillingCycle: subscriptiondomain.BillingCycle(req.BillingCycle),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toSubscriptionResponse(sub))
}

func (s *Server) HandleGetSubscription(c *gin.Context) {
	id, ok := s.subscriptionID(c)
	if !ok {
		return
	}
	sub, err := s.subscriptionSvc.GetByID(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, toSubscriptionResponse(sub))
}

func (s *Server) HandleGetPaymentHistory(c *gin.Context) {
	id, ok := s.subscriptionID(c)
	if !ok {
		return
	}
	records, err := s.ledgerSvc.History(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if records == nil {
		records = []subscriptiondomain.PaymentRecord{}
	}
	c.JSON(http.StatusOK, gin.H{"payments": records})
}

func (s *Server) HandleGetUsage(c *gin.Context) {
	id, ok := s.subscriptionID(c)
	if !ok {
		return
	}
	snapshot, err := s.usageSvc.Snapshot(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, snapshot)
}

type cancelSubscriptionRequest struct {
	Reason string `json:"reason" binding:"required"`
}

func (s *Server) HandleCancelSubscription(c *gin.Context) {
	id, ok := s.subscriptionID(c)
	if !ok {
		return
	}
	var req cancelSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, subscriptiondomain.ErrInvalidReason)
		return
	}
	if err := s.subscriptionSvc.Cancel(c.Request.Context(), id, req.Reason); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "cancelled"})
}

func (s *Server) HandleRenewSubscription(c *gin.Context) {
	id, ok := s.subscriptionID(c)
	if !ok {
		return
	}
	if err := s.subscriptionSvc.Renew(c.Request.Context(), id); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "renewed"})
}

type upgradeSubscriptionRequest struct {
	NewPlanID    string `json:"new_plan_id" binding:"required"`
	BillingCycle string `json:"billing_cycle" binding:"required"`
}

func (s *Server) HandleUpgradeSubscription(c *gin.Context) {
	id, ok := s.subscriptionID(c)
	if !ok {
		return
	}
	var req upgradeSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	newPlanID, err := snowflake.ParseString(req.NewPlanID)
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	err = s.subscriptionSvc.Upgrade(c.Request.Context(), subscriptiondomain.UpgradeRequest{
		SubscriptionID: id,
		NewPlanID:      newPlanID,
		BillingCycle:   subscriptiondomain.BillingCycle(req.BillingCycle),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "upgraded"})
}

type autoRenewRequest struct {
	AutoRenew *bool `json:"auto_renew" binding:"required"`
}

func (s *Server) HandleSetAutoRenew(c *gin.Context) {
	id, ok := s.subscriptionID(c)
	if !ok {
		return
	}
	var req autoRenewRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.AutoRenew == nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	if err := s.subscriptionSvc.SetAutoRenew(c.Request.Context(), id, *req.AutoRenew); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"auto_renew": *req.AutoRenew})
}

type planResponse struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	Description  string         `json:"description"`
	MonthlyPrice int64          `json:"monthly_price"`
	YearlyPrice  int64          `json:"yearly_price"`
	Currency     string         `json:"currency"`
	Features     map[string]any `json:"features"`
	Limits       map[string]int `json:"limits"`
}

func (s *Server) HandleListPlans(c *gin.Context) {
	plans, err := s.planSvc.ListActive(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	out := make([]planResponse, 0, len(plans))
	for _, plan := range plans {
		limits := make(map[string]int, len(plandomain.AllResourceTypes))
		for _, resource := range plandomain.AllResourceTypes {
			limit, err := plan.LimitFor(resource)
			if err != nil {
				continue
			}
			limits[string(resource)] = limit
		}
		out = append(out, planResponse{
			ID:           plan.ID.String(),
			Name:         plan.Name,
			Description:  plan.Description,
			MonthlyPrice: plan.MonthlyPrice,
			YearlyPrice:  plan.YearlyPrice,
			Currency:     plan.Currency,
			Features:     plan.Features,
			Limits:       limits,
		})
	}
	c.JSON(http.StatusOK, gin.H{"plans": out})
}

func (s *Server) subscriptionID(c *gin.Context) (snowflake.ID, bool) {
	id, err := snowflake.ParseString(c.Param("id"))
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return 0, false
	}
	return id, true
}
