package handler

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/valleteclab/portaldcp/internal/planning/entity"
	"github.com/valleteclab/portaldcp/internal/planning/service"
)

// 导入文件上限
const maxImportSize = 10 << 20

type PlanHandler struct {
	svc *service.PlanService
}

func NewPlanHandler(svc *service.PlanService) *PlanHandler {
	return &PlanHandler{svc: svc}
}

// List GET /plans
func (h *PlanHandler) List(c *gin.Context) {
	page, pageSize := GetPagination(c)
	filters := queryFilters(c, "year", "status")
	filters["org_id"] = GetOrgID(c)

	result, err := h.svc.List(c.Request.Context(), page, pageSize, filters)
	if err != nil {
		Fail(c, err)
		return
	}
	Paged(c, result.Items, result.Page, result.PageSize, result.Total)
}

// Get GET /plans/:id
func (h *PlanHandler) Get(c *gin.Context) {
	respondPlan(c)(h.svc.Get(c.Request.Context(), c.Param("id")))
}

// Create POST /plans
func (h *PlanHandler) Create(c *gin.Context) {
	var req service.CreatePlanRequest
	req.OrgID = GetOrgID(c)
	if !bind(c, &req) {
		return
	}
	plan, err := h.svc.CreatePlan(c.Request.Context(), GetUserID(c), &req)
	if err != nil {
		Fail(c, err)
		return
	}
	Created(c, plan)
}

// Update PUT /plans/:id
func (h *PlanHandler) Update(c *gin.Context) {
	var req service.UpdatePlanRequest
	if !bind(c, &req) {
		return
	}
	respondPlan(c)(h.svc.UpdatePlan(c.Request.Context(), c.Param("id"), &req))
}

// Delete DELETE /plans/:id
func (h *PlanHandler) Delete(c *gin.Context) {
	if err := h.svc.DeletePlan(c.Request.Context(), c.Param("id")); err != nil {
		Fail(c, err)
		return
	}
	Success(c, gin.H{"deleted": true})
}

// StartElaboration POST /plans/:id/elaborate
func (h *PlanHandler) StartElaboration(c *gin.Context) {
	respondPlan(c)(h.svc.StartElaboration(c.Request.Context(), c.Param("id")))
}

// Approve POST /plans/:id/approve
func (h *PlanHandler) Approve(c *gin.Context) {
	respondPlan(c)(h.svc.Approve(c.Request.Context(), c.Param("id"), GetUserID(c)))
}

// Publish POST /plans/:id/publish
func (h *PlanHandler) Publish(c *gin.Context) {
	respondPlan(c)(h.svc.Publish(c.Request.Context(), c.Param("id")))
}

// Cancel POST /plans/:id/cancel
func (h *PlanHandler) Cancel(c *gin.Context) {
	respondPlan(c)(h.svc.Cancel(c.Request.Context(), c.Param("id")))
}

// Rollover POST /plans/:id/rollover
func (h *PlanHandler) Rollover(c *gin.Context) {
	plan, err := h.svc.RolloverToNextYear(c.Request.Context(), c.Param("id"), GetUserID(c))
	if err != nil {
		Fail(c, err)
		return
	}
	Created(c, plan)
}

// Statistics GET /plans/:id/statistics
func (h *PlanHandler) Statistics(c *gin.Context) {
	stats, err := h.svc.Statistics(c.Request.Context(), c.Param("id"))
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, stats)
}

// ListLines GET /plans/:id/lines
func (h *PlanHandler) ListLines(c *gin.Context) {
	lines, err := h.svc.ListLines(c.Request.Context(), c.Param("id"), queryFilters(c, "category", "status"))
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, gin.H{"items": lines})
}

// AddLine POST /plans/:id/lines
func (h *PlanHandler) AddLine(c *gin.Context) {
	var req service.PlanLineInput
	if !bind(c, &req) {
		return
	}
	line, err := h.svc.AddLine(c.Request.Context(), c.Param("id"), &req)
	if err != nil {
		Fail(c, err)
		return
	}
	Created(c, line)
}

// UpdateLine PUT /plan-lines/:lineId
func (h *PlanHandler) UpdateLine(c *gin.Context) {
	var req service.UpdatePlanLineRequest
	if !bind(c, &req) {
		return
	}
	line, err := h.svc.UpdateLine(c.Request.Context(), c.Param("lineId"), &req)
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, line)
}

// RemoveLine DELETE /plan-lines/:lineId
func (h *PlanHandler) RemoveLine(c *gin.Context) {
	if err := h.svc.RemoveLine(c.Request.Context(), c.Param("lineId")); err != nil {
		Fail(c, err)
		return
	}
	Success(c, gin.H{"deleted": true})
}

// ImportLines POST /plans/:id/lines/import 行数组导入，描述重复的行跳过
func (h *PlanHandler) ImportLines(c *gin.Context) {
	var req struct {
		Lines []service.PlanLineInput `json:"lines" binding:"required,min=1"`
	}
	if !bind(c, &req) {
		return
	}
	report, err := h.svc.ImportLinesWithDuplicateDetection(c.Request.Context(), c.Param("id"), req.Lines)
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, report)
}

// ImportSpreadsheet POST /plans/:id/lines/import-xlsx multipart字段file
func (h *PlanHandler) ImportSpreadsheet(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxImportSize)
	fh, err := c.FormFile("file")
	if err != nil {
		BadRequest(c, "file is required: "+err.Error())
		return
	}
	f, err := fh.Open()
	if err != nil {
		InternalError(c, "open upload: "+err.Error())
		return
	}
	defer f.Close()

	report, err := h.svc.ImportSpreadsheet(c.Request.Context(), c.Param("id"), f)
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, report)
}

// Export GET /plans/:id/export
func (h *PlanHandler) Export(c *gin.Context) {
	f, name, err := h.svc.ExportPlan(c.Request.Context(), c.Param("id"))
	if err != nil {
		Fail(c, err)
		return
	}
	defer f.Close()

	c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	c.Status(http.StatusOK)
	if err := f.Write(c.Writer); err != nil {
		_ = c.Error(err)
	}
}

// Consolidate POST /plans/:id/consolidate
func (h *PlanHandler) Consolidate(c *gin.Context) {
	var req struct {
		DemandIDs []string `json:"demand_ids" binding:"required,min=1"`
	}
	if !bind(c, &req) {
		return
	}
	report, err := h.svc.ConsolidateApprovedDemands(c.Request.Context(), c.Param("id"), req.DemandIDs)
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, report)
}

func respondPlan(c *gin.Context) func(*entity.AnnualPlan, error) {
	return func(p *entity.AnnualPlan, err error) {
		if err != nil {
			Fail(c, err)
			return
		}
		Success(c, p)
	}
}

// ============================================================
// Demand Handler
// ============================================================

type DemandHandler struct {
	svc *service.DemandService
}

func NewDemandHandler(svc *service.DemandService) *DemandHandler {
	return &DemandHandler{svc: svc}
}

// List GET /demands
func (h *DemandHandler) List(c *gin.Context) {
	page, pageSize := GetPagination(c)
	filters := queryFilters(c, "year", "status")
	filters["org_id"] = GetOrgID(c)

	items, total, err := h.svc.List(c.Request.Context(), page, pageSize, filters)
	if err != nil {
		Fail(c, err)
		return
	}
	Paged(c, items, page, pageSize, total)
}

// Get GET /demands/:id
func (h *DemandHandler) Get(c *gin.Context) {
	respondDemand(c)(h.svc.Get(c.Request.Context(), c.Param("id")))
}

// Create POST /demands
func (h *DemandHandler) Create(c *gin.Context) {
	var req service.CreateDemandRequest
	req.OrgID = GetOrgID(c)
	if !bind(c, &req) {
		return
	}
	d, err := h.svc.Create(c.Request.Context(), GetUserID(c), &req)
	if err != nil {
		Fail(c, err)
		return
	}
	Created(c, d)
}

// Delete DELETE /demands/:id
func (h *DemandHandler) Delete(c *gin.Context) {
	if err := h.svc.Delete(c.Request.Context(), c.Param("id")); err != nil {
		Fail(c, err)
		return
	}
	Success(c, gin.H{"deleted": true})
}

// Submit POST /demands/:id/submit
func (h *DemandHandler) Submit(c *gin.Context) {
	respondDemand(c)(h.svc.Submit(c.Request.Context(), c.Param("id")))
}

// StartReview POST /demands/:id/review
func (h *DemandHandler) StartReview(c *gin.Context) {
	respondDemand(c)(h.svc.StartReview(c.Request.Context(), c.Param("id"), GetUserID(c)))
}

// Approve POST /demands/:id/approve
func (h *DemandHandler) Approve(c *gin.Context) {
	respondDemand(c)(h.svc.Approve(c.Request.Context(), c.Param("id"), GetUserID(c)))
}

// Reject POST /demands/:id/reject
func (h *DemandHandler) Reject(c *gin.Context) {
	var req reasonRequest
	if !bind(c, &req) {
		return
	}
	respondDemand(c)(h.svc.Reject(c.Request.Context(), c.Param("id"), GetUserID(c), req.Reason))
}

func respondDemand(c *gin.Context) func(*entity.Demand, error) {
	return func(d *entity.Demand, err error) {
		if err != nil {
			Fail(c, err)
			return
		}
		Success(c, d)
	}
}
