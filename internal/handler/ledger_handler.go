package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/valleteclab/portaldcp/internal/planning/service"
)

type LedgerHandler struct {
	svc *service.LedgerService
}

func NewLedgerHandler(svc *service.LedgerService) *LedgerHandler {
	return &LedgerHandler{svc: svc}
}

type linkRequest struct {
	PlanLineID string `json:"plan_line_id" binding:"required"`
}

// Validate GET /plan-lines/:lineId/linkable?amount=
func (h *LedgerHandler) Validate(c *gin.Context) {
	amount := decimal.Zero
	if v := c.Query("amount"); v != "" {
		d, err := decimal.NewFromString(v)
		if err != nil {
			BadRequest(c, "invalid amount: "+v)
			return
		}
		amount = d
	}
	if err := h.svc.ValidateLinkable(c.Request.Context(), c.Param("lineId"), amount); err != nil {
		Fail(c, err)
		return
	}
	Success(c, gin.H{"linkable": true})
}

// Consumptions GET /plan-lines/:lineId/consumptions
func (h *LedgerHandler) Consumptions(c *gin.Context) {
	items, err := h.svc.Consumptions(c.Request.Context(), c.Param("lineId"))
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, gin.H{"items": items})
}

// LinkProcess POST /processes/:id/plan-link
func (h *LedgerHandler) LinkProcess(c *gin.Context) {
	var req linkRequest
	if !bind(c, &req) {
		return
	}
	p, err := h.svc.LinkPlanToProcess(c.Request.Context(), c.Param("id"), req.PlanLineID, GetUserID(c))
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, p)
}

// LinkLot POST /lots/:lotId/plan-link
func (h *LedgerHandler) LinkLot(c *gin.Context) {
	var req linkRequest
	if !bind(c, &req) {
		return
	}
	lot, err := h.svc.LinkPlanToLot(c.Request.Context(), c.Param("lotId"), req.PlanLineID, GetUserID(c))
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, lot)
}

// LinkItem POST /items/:itemId/plan-link
func (h *LedgerHandler) LinkItem(c *gin.Context) {
	var req linkRequest
	if !bind(c, &req) {
		return
	}
	item, err := h.svc.LinkPlanToItem(c.Request.Context(), c.Param("itemId"), req.PlanLineID, GetUserID(c))
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, item)
}

// Unlink POST /plan-links/unlink
func (h *LedgerHandler) Unlink(c *gin.Context) {
	var req service.UnlinkRequest
	if !bind(c, &req) {
		return
	}
	if err := h.svc.UnlinkWithJustification(c.Request.Context(), req, GetUserID(c)); err != nil {
		Fail(c, err)
		return
	}
	Success(c, gin.H{"target_type": req.TargetType, "target_id": req.TargetID, "no_plan": true})
}
