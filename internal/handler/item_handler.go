package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/valleteclab/portaldcp/internal/procurement/entity"
	"github.com/valleteclab/portaldcp/internal/procurement/service"
)

// ============================================================
// Lot Handler
// ============================================================

type LotHandler struct {
	svc *service.LotService
}

func NewLotHandler(svc *service.LotService) *LotHandler {
	return &LotHandler{svc: svc}
}

// List GET /processes/:id/lots
func (h *LotHandler) List(c *gin.Context) {
	lots, err := h.svc.List(c.Request.Context(), c.Param("id"))
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, gin.H{"items": lots})
}

// Get GET /lots/:lotId
func (h *LotHandler) Get(c *gin.Context) {
	lot, err := h.svc.Get(c.Request.Context(), c.Param("lotId"))
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, lot)
}

// Create POST /processes/:id/lots
func (h *LotHandler) Create(c *gin.Context) {
	var req service.CreateLotRequest
	if !bind(c, &req) {
		return
	}
	lot, err := h.svc.Create(c.Request.Context(), c.Param("id"), &req)
	if err != nil {
		Fail(c, err)
		return
	}
	Created(c, lot)
}

// CreateBatch POST /processes/:id/lots/batch
func (h *LotHandler) CreateBatch(c *gin.Context) {
	var req struct {
		Lots []service.CreateLotRequest `json:"lots" binding:"required,min=1,dive"`
	}
	if !bind(c, &req) {
		return
	}
	lots, err := h.svc.CreateBatch(c.Request.Context(), c.Param("id"), req.Lots)
	if err != nil {
		Fail(c, err)
		return
	}
	Created(c, gin.H{"items": lots})
}

// Update PUT /lots/:lotId
func (h *LotHandler) Update(c *gin.Context) {
	var req service.UpdateLotRequest
	if !bind(c, &req) {
		return
	}
	lot, err := h.svc.Update(c.Request.Context(), c.Param("lotId"), &req)
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, lot)
}

// Delete DELETE /lots/:lotId
func (h *LotHandler) Delete(c *gin.Context) {
	if err := h.svc.Delete(c.Request.Context(), c.Param("lotId")); err != nil {
		Fail(c, err)
		return
	}
	Success(c, gin.H{"deleted": true})
}

// AddItem POST /lots/:lotId/items/:itemId
func (h *LotHandler) AddItem(c *gin.Context) {
	respondItem(c)(h.svc.AddItem(c.Request.Context(), c.Param("lotId"), c.Param("itemId"), GetUserID(c)))
}

// RemoveItem DELETE /lots/:lotId/items/:itemId
func (h *LotHandler) RemoveItem(c *gin.Context) {
	respondItem(c)(h.svc.RemoveItem(c.Request.Context(), c.Param("lotId"), c.Param("itemId"), GetUserID(c)))
}

// MoveItem POST /items/:itemId/move
func (h *LotHandler) MoveItem(c *gin.Context) {
	var req struct {
		LotID string `json:"lot_id" binding:"required"`
	}
	if !bind(c, &req) {
		return
	}
	respondItem(c)(h.svc.MoveItem(c.Request.Context(), c.Param("itemId"), req.LotID, GetUserID(c)))
}

// Renumber POST /processes/:id/lots/renumber
func (h *LotHandler) Renumber(c *gin.Context) {
	lots, err := h.svc.Renumber(c.Request.Context(), c.Param("id"))
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, gin.H{"items": lots})
}

// RecalculateTotals POST /processes/:id/lots/recalculate
func (h *LotHandler) RecalculateTotals(c *gin.Context) {
	lots, err := h.svc.RecalculateTotals(c.Request.Context(), c.Param("id"))
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, gin.H{"items": lots})
}

// ============================================================
// Item Handler
// ============================================================

type ItemHandler struct {
	svc *service.ItemService
}

func NewItemHandler(svc *service.ItemService) *ItemHandler {
	return &ItemHandler{svc: svc}
}

// List GET /processes/:id/items
func (h *ItemHandler) List(c *gin.Context) {
	items, err := h.svc.ListByProcess(c.Request.Context(), c.Param("id"))
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, gin.H{"items": items})
}

// Summary GET /processes/:id/items/summary
func (h *ItemHandler) Summary(c *gin.Context) {
	sum, err := h.svc.Summary(c.Request.Context(), c.Param("id"))
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, sum)
}

// Get GET /items/:itemId
func (h *ItemHandler) Get(c *gin.Context) {
	respondItem(c)(h.svc.Get(c.Request.Context(), c.Param("itemId")))
}

// Create POST /processes/:id/items
func (h *ItemHandler) Create(c *gin.Context) {
	var req service.CreateItemRequest
	if !bind(c, &req) {
		return
	}
	item, err := h.svc.Create(c.Request.Context(), c.Param("id"), GetUserID(c), &req)
	if err != nil {
		Fail(c, err)
		return
	}
	Created(c, item)
}

// CreateBatch POST /processes/:id/items/batch
func (h *ItemHandler) CreateBatch(c *gin.Context) {
	var req struct {
		Items []service.CreateItemRequest `json:"items" binding:"required,min=1,dive"`
	}
	if !bind(c, &req) {
		return
	}
	items, err := h.svc.CreateBatch(c.Request.Context(), c.Param("id"), GetUserID(c), req.Items)
	if err != nil {
		Fail(c, err)
		return
	}
	Created(c, gin.H{"items": items})
}

// Update PUT /items/:itemId
func (h *ItemHandler) Update(c *gin.Context) {
	var req service.UpdateItemRequest
	if !bind(c, &req) {
		return
	}
	respondItem(c)(h.svc.Update(c.Request.Context(), c.Param("itemId"), GetUserID(c), &req))
}

// Delete DELETE /items/:itemId
func (h *ItemHandler) Delete(c *gin.Context) {
	if err := h.svc.Delete(c.Request.Context(), c.Param("itemId"), GetUserID(c)); err != nil {
		Fail(c, err)
		return
	}
	Success(c, gin.H{"deleted": true})
}

// Cancel POST /items/:itemId/cancel
func (h *ItemHandler) Cancel(c *gin.Context) {
	var req reasonRequest
	if !bind(c, &req) {
		return
	}
	respondItem(c)(h.svc.Cancel(c.Request.Context(), c.Param("itemId"), GetUserID(c), req.Reason))
}

// MarkNoBid POST /items/:itemId/no-bid
func (h *ItemHandler) MarkNoBid(c *gin.Context) {
	respondItem(c)(h.svc.MarkNoBid(c.Request.Context(), c.Param("itemId"), GetUserID(c)))
}

// MarkFailed POST /items/:itemId/failed
func (h *ItemHandler) MarkFailed(c *gin.Context) {
	var req reasonRequest
	if !bind(c, &req) {
		return
	}
	respondItem(c)(h.svc.MarkFailed(c.Request.Context(), c.Param("itemId"), GetUserID(c), req.Reason))
}

// Award POST /items/:itemId/award
func (h *ItemHandler) Award(c *gin.Context) {
	var req service.AwardItemRequest
	if !bind(c, &req) {
		return
	}
	respondItem(c)(h.svc.Award(c.Request.Context(), c.Param("itemId"), GetUserID(c), &req))
}

// Ratify POST /items/:itemId/ratify
func (h *ItemHandler) Ratify(c *gin.Context) {
	respondItem(c)(h.svc.Ratify(c.Request.Context(), c.Param("itemId"), GetUserID(c)))
}

func respondItem(c *gin.Context) func(*entity.LineItem, error) {
	return func(item *entity.LineItem, err error) {
		if err != nil {
			Fail(c, err)
			return
		}
		Success(c, item)
	}
}
