package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/valleteclab/portaldcp/internal/procurement/entity"
	"github.com/valleteclab/portaldcp/internal/procurement/phase"
	"github.com/valleteclab/portaldcp/internal/procurement/service"
)

type ProcessHandler struct {
	svc     *service.ProcessService
	sweeper *service.Sweeper
}

func NewProcessHandler(svc *service.ProcessService, sweeper *service.Sweeper) *ProcessHandler {
	return &ProcessHandler{svc: svc, sweeper: sweeper}
}

type noteRequest struct {
	Note string `json:"note"`
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

type resumeRequest struct {
	To   phase.Phase `json:"to"`
	Note string      `json:"note"`
}

type ratifyRequest struct {
	Value decimal.Decimal `json:"value"`
}

// List GET /processes
func (h *ProcessHandler) List(c *gin.Context) {
	page, pageSize := GetPagination(c)
	filters := queryFilters(c, "phase", "year", "modality", "search")
	filters["org_id"] = GetOrgID(c)

	result, err := h.svc.List(c.Request.Context(), page, pageSize, filters)
	if err != nil {
		Fail(c, err)
		return
	}
	Paged(c, result.Items, result.Page, result.PageSize, result.Total)
}

// Get GET /processes/:id
func (h *ProcessHandler) Get(c *gin.Context) {
	p, err := h.svc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, p)
}

// Create POST /processes
func (h *ProcessHandler) Create(c *gin.Context) {
	var req service.CreateProcessRequest
	if !bind(c, &req) {
		return
	}
	if req.OrgID == "" {
		req.OrgID = GetOrgID(c)
	}
	p, err := h.svc.CreateProcess(c.Request.Context(), GetUserID(c), &req)
	if err != nil {
		Fail(c, err)
		return
	}
	Created(c, p)
}

// Update PUT /processes/:id
func (h *ProcessHandler) Update(c *gin.Context) {
	var req service.UpdateProcessRequest
	if !bind(c, &req) {
		return
	}
	p, err := h.svc.UpdateProcess(c.Request.Context(), c.Param("id"), GetUserID(c), &req)
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, p)
}

// Delete DELETE /processes/:id
func (h *ProcessHandler) Delete(c *gin.Context) {
	if err := h.svc.Delete(c.Request.Context(), c.Param("id"), GetUserID(c)); err != nil {
		Fail(c, err)
		return
	}
	Success(c, gin.H{"deleted": true})
}

// Advance POST /processes/:id/advance
func (h *ProcessHandler) Advance(c *gin.Context) {
	var req noteRequest
	if !bindOptional(c, &req) {
		return
	}
	h.respond(c)(h.svc.Advance(c.Request.Context(), c.Param("id"), GetUserID(c), req.Note))
}

// Retreat POST /processes/:id/retreat
func (h *ProcessHandler) Retreat(c *gin.Context) {
	var req reasonRequest
	if !bind(c, &req) {
		return
	}
	h.respond(c)(h.svc.Retreat(c.Request.Context(), c.Param("id"), GetUserID(c), req.Reason))
}

// Publish POST /processes/:id/publish
func (h *ProcessHandler) Publish(c *gin.Context) {
	var req entity.Schedule
	if !bind(c, &req) {
		return
	}
	h.respond(c)(h.svc.Publish(c.Request.Context(), c.Param("id"), GetUserID(c), req))
}

// UpdateSchedule PUT /processes/:id/schedule
func (h *ProcessHandler) UpdateSchedule(c *gin.Context) {
	var req entity.Schedule
	if !bind(c, &req) {
		return
	}
	h.respond(c)(h.svc.UpdateSchedule(c.Request.Context(), c.Param("id"), GetUserID(c), req))
}

// Suspend POST /processes/:id/suspend
func (h *ProcessHandler) Suspend(c *gin.Context) {
	var req reasonRequest
	if !bind(c, &req) {
		return
	}
	h.respond(c)(h.svc.Suspend(c.Request.Context(), c.Param("id"), GetUserID(c), req.Reason))
}

// Resume POST /processes/:id/resume
func (h *ProcessHandler) Resume(c *gin.Context) {
	var req resumeRequest
	if !bindOptional(c, &req) {
		return
	}
	h.respond(c)(h.svc.Resume(c.Request.Context(), c.Param("id"), GetUserID(c), req.To, req.Note))
}

// Revoke POST /processes/:id/revoke
func (h *ProcessHandler) Revoke(c *gin.Context) {
	var req reasonRequest
	if !bind(c, &req) {
		return
	}
	h.respond(c)(h.svc.Revoke(c.Request.Context(), c.Param("id"), GetUserID(c), req.Reason))
}

// Annul POST /processes/:id/annul
func (h *ProcessHandler) Annul(c *gin.Context) {
	var req reasonRequest
	if !bind(c, &req) {
		return
	}
	h.respond(c)(h.svc.Annul(c.Request.Context(), c.Param("id"), GetUserID(c), req.Reason))
}

// MarkNoBid POST /processes/:id/no-bid
func (h *ProcessHandler) MarkNoBid(c *gin.Context) {
	var req noteRequest
	if !bindOptional(c, &req) {
		return
	}
	h.respond(c)(h.svc.MarkNoBid(c.Request.Context(), c.Param("id"), GetUserID(c), req.Note))
}

// MarkFailed POST /processes/:id/failed
func (h *ProcessHandler) MarkFailed(c *gin.Context) {
	var req reasonRequest
	if !bind(c, &req) {
		return
	}
	h.respond(c)(h.svc.MarkFailed(c.Request.Context(), c.Param("id"), GetUserID(c), req.Reason))
}

// StartDispute POST /processes/:id/dispute/start
func (h *ProcessHandler) StartDispute(c *gin.Context) {
	h.respond(c)(h.svc.StartDispute(c.Request.Context(), c.Param("id"), GetUserID(c)))
}

// CloseDispute POST /processes/:id/dispute/close
func (h *ProcessHandler) CloseDispute(c *gin.Context) {
	h.respond(c)(h.svc.CloseDispute(c.Request.Context(), c.Param("id"), GetUserID(c)))
}

// Ratify POST /processes/:id/ratify
func (h *ProcessHandler) Ratify(c *gin.Context) {
	var req ratifyRequest
	if !bind(c, &req) {
		return
	}
	h.respond(c)(h.svc.Ratify(c.Request.Context(), c.Param("id"), GetUserID(c), req.Value))
}

// Reconcile POST /processes/:id/reconcile 按当前时间补做到期的定时转换
func (h *ProcessHandler) Reconcile(c *gin.Context) {
	p, changed, err := h.sweeper.Reconcile(c.Request.Context(), c.Param("id"))
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, gin.H{"process": p, "changed": changed})
}

// History GET /processes/:id/history
func (h *ProcessHandler) History(c *gin.Context) {
	page, pageSize := GetPagination(c)
	logs, total, err := h.svc.History(c.Request.Context(), c.Param("id"), page, pageSize)
	if err != nil {
		Fail(c, err)
		return
	}
	Paged(c, logs, page, pageSize, total)
}

// RecalculateTotal POST /processes/:id/recalculate
func (h *ProcessHandler) RecalculateTotal(c *gin.Context) {
	h.respond(c)(h.svc.RecalculateTotal(c.Request.Context(), c.Param("id")))
}

func (h *ProcessHandler) respond(c *gin.Context) func(*entity.Process, error) {
	return func(p *entity.Process, err error) {
		if err != nil {
			Fail(c, err)
			return
		}
		Success(c, p)
	}
}
