package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/valleteclab/portaldcp/internal/middleware"
	planservice "github.com/valleteclab/portaldcp/internal/planning/service"
	procservice "github.com/valleteclab/portaldcp/internal/procurement/service"
	pubservice "github.com/valleteclab/portaldcp/internal/publication/service"
)

// NewHandlers 创建处理器集合
func NewHandlers(
	proc *procservice.Services,
	plans *planservice.PlanService,
	demands *planservice.DemandService,
	ledger *planservice.LedgerService,
	sync *pubservice.SyncService,
	documents DocumentWriter,
) *Handlers {
	return &Handlers{
		Process:     NewProcessHandler(proc.Process, proc.Sweeper),
		Lot:         NewLotHandler(proc.Lot),
		Item:        NewItemHandler(proc.Item),
		Plan:        NewPlanHandler(plans),
		Demand:      NewDemandHandler(demands),
		Ledger:      NewLedgerHandler(ledger),
		Publication: NewPublicationHandler(sync, proc.Process, documents),
	}
}

// Register 在已认证的分组下注册全部业务路由
func Register(authorized *gin.RouterGroup, h *Handlers) {
	processWrite := middleware.RequirePermission(middleware.PermProcessWrite)
	planWrite := middleware.RequirePermission(middleware.PermPlanWrite)
	registrySubmit := middleware.RequirePermission(middleware.PermRegistrySubmit)
	registryAdmin := middleware.RequirePermission(middleware.PermRegistryAdmin)

	// 采购流程
	processes := authorized.Group("/processes")
	{
		processes.GET("", h.Process.List)
		processes.GET("/:id", h.Process.Get)
		processes.GET("/:id/history", h.Process.History)
		processes.GET("/:id/lots", h.Lot.List)
		processes.GET("/:id/items", h.Item.List)
		processes.GET("/:id/items/summary", h.Item.Summary)

		w := processes.Group("", processWrite)
		w.POST("", h.Process.Create)
		w.PUT("/:id", h.Process.Update)
		w.DELETE("/:id", h.Process.Delete)
		w.POST("/:id/advance", h.Process.Advance)
		w.POST("/:id/retreat", h.Process.Retreat)
		w.POST("/:id/publish", h.Process.Publish)
		w.PUT("/:id/schedule", h.Process.UpdateSchedule)
		w.POST("/:id/suspend", h.Process.Suspend)
		w.POST("/:id/resume", h.Process.Resume)
		w.POST("/:id/revoke", h.Process.Revoke)
		w.POST("/:id/annul", h.Process.Annul)
		w.POST("/:id/no-bid", h.Process.MarkNoBid)
		w.POST("/:id/failed", h.Process.MarkFailed)
		w.POST("/:id/dispute/start", h.Process.StartDispute)
		w.POST("/:id/dispute/close", h.Process.CloseDispute)
		w.POST("/:id/ratify", h.Process.Ratify)
		w.POST("/:id/reconcile", h.Process.Reconcile)
		w.POST("/:id/recalculate", h.Process.RecalculateTotal)
		w.POST("/:id/lots", h.Lot.Create)
		w.POST("/:id/lots/batch", h.Lot.CreateBatch)
		w.POST("/:id/lots/renumber", h.Lot.Renumber)
		w.POST("/:id/lots/recalculate", h.Lot.RecalculateTotals)
		w.POST("/:id/items", h.Item.Create)
		w.POST("/:id/items/batch", h.Item.CreateBatch)
		w.POST("/:id/plan-link", h.Ledger.LinkProcess)
		w.POST("/:id/documents", h.Publication.StoreDocument)

		processes.GET("/:id/registry/checklist", h.Publication.ValidateProcess)
		processes.GET("/:id/registry/records", h.Publication.ListByProcess)
		r := processes.Group("", registrySubmit)
		r.POST("/:id/registry", h.Publication.SubmitProcess)
		r.PUT("/:id/registry", h.Publication.UpdateProcess)
		r.POST("/:id/registry/contracts", h.Publication.SubmitContract)
		r.POST("/:id/registry/documents", h.Publication.UploadDocument)
	}

	lots := authorized.Group("/lots")
	{
		lots.GET("/:lotId", h.Lot.Get)
		w := lots.Group("", processWrite)
		w.PUT("/:lotId", h.Lot.Update)
		w.DELETE("/:lotId", h.Lot.Delete)
		w.POST("/:lotId/items/:itemId", h.Lot.AddItem)
		w.DELETE("/:lotId/items/:itemId", h.Lot.RemoveItem)
		w.POST("/:lotId/plan-link", h.Ledger.LinkLot)
	}

	items := authorized.Group("/items")
	{
		items.GET("/:itemId", h.Item.Get)
		w := items.Group("", processWrite)
		w.PUT("/:itemId", h.Item.Update)
		w.DELETE("/:itemId", h.Item.Delete)
		w.POST("/:itemId/move", h.Lot.MoveItem)
		w.POST("/:itemId/cancel", h.Item.Cancel)
		w.POST("/:itemId/no-bid", h.Item.MarkNoBid)
		w.POST("/:itemId/failed", h.Item.MarkFailed)
		w.POST("/:itemId/award", h.Item.Award)
		w.POST("/:itemId/ratify", h.Item.Ratify)
		w.POST("/:itemId/plan-link", h.Ledger.LinkItem)
		items.POST("/:itemId/registry/result", registrySubmit, h.Publication.SubmitResult)
	}

	authorized.POST("/plan-links/unlink", processWrite, h.Ledger.Unlink)

	// 年度采购计划
	plans := authorized.Group("/plans")
	{
		plans.GET("", h.Plan.List)
		plans.GET("/:id", h.Plan.Get)
		plans.GET("/:id/statistics", h.Plan.Statistics)
		plans.GET("/:id/lines", h.Plan.ListLines)
		plans.GET("/:id/export", h.Plan.Export)

		w := plans.Group("", planWrite)
		w.POST("", h.Plan.Create)
		w.PUT("/:id", h.Plan.Update)
		w.DELETE("/:id", h.Plan.Delete)
		w.POST("/:id/elaborate", h.Plan.StartElaboration)
		w.POST("/:id/approve", h.Plan.Approve)
		w.POST("/:id/publish", h.Plan.Publish)
		w.POST("/:id/cancel", h.Plan.Cancel)
		w.POST("/:id/rollover", h.Plan.Rollover)
		w.POST("/:id/lines", h.Plan.AddLine)
		w.POST("/:id/lines/import", h.Plan.ImportLines)
		w.POST("/:id/lines/import-xlsx", h.Plan.ImportSpreadsheet)
		w.POST("/:id/consolidate", h.Plan.Consolidate)

		plans.POST("/:id/registry", registrySubmit, h.Publication.SubmitPlan)
		plans.DELETE("/:id/registry", registryAdmin, h.Publication.DeletePlan)
	}

	planLines := authorized.Group("/plan-lines")
	{
		planLines.GET("/:lineId/linkable", h.Ledger.Validate)
		planLines.GET("/:lineId/consumptions", h.Ledger.Consumptions)
		planLines.PUT("/:lineId", planWrite, h.Plan.UpdateLine)
		planLines.DELETE("/:lineId", planWrite, h.Plan.RemoveLine)
		planLines.POST("/:lineId/registry", registrySubmit, h.Publication.SubmitPlanLine)
	}

	demands := authorized.Group("/demands")
	{
		demands.GET("", h.Demand.List)
		demands.GET("/:id", h.Demand.Get)
		demands.POST("", h.Demand.Create)
		demands.DELETE("/:id", h.Demand.Delete)
		demands.POST("/:id/submit", h.Demand.Submit)
		review := demands.Group("", middleware.RequirePermission(middleware.PermDemandReview))
		review.POST("/:id/review", h.Demand.StartReview)
		review.POST("/:id/approve", h.Demand.Approve)
		review.POST("/:id/reject", h.Demand.Reject)
	}

	// 平台报送管理
	registry := authorized.Group("/registry")
	{
		registry.GET("/records", h.Publication.ListByTarget)
		registry.GET("/records/pending", h.Publication.ListPending)
		registry.GET("/records/errors", h.Publication.ListErrors)
		registry.GET("/stats", h.Publication.Stats)
		registry.GET("/config", registryAdmin, h.Publication.Configuration)
		registry.POST("/test-connection", registryAdmin, h.Publication.TestConnection)
		registry.POST("/records/:recordId/retry", registrySubmit, h.Publication.Retry)
	}
}
