package handler

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	procservice "github.com/valleteclab/portaldcp/internal/procurement/service"
	"github.com/valleteclab/portaldcp/internal/publication/service"
	"github.com/valleteclab/portaldcp/internal/shared/queue"
	"github.com/valleteclab/portaldcp/internal/shared/storage"
)

// 单个附件上限
const maxDocumentSize = 50 << 20

// DocumentWriter 附件写入（*storage.MinioStore实现）
type DocumentWriter interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
}

// RetryEnqueuer 把重试交给后台队列
type RetryEnqueuer func(ctx context.Context, p queue.RetryPayload) (string, error)

type PublicationHandler struct {
	svc       *service.SyncService
	processes *procservice.ProcessService
	documents DocumentWriter
	enqueue   RetryEnqueuer
}

func NewPublicationHandler(svc *service.SyncService, processes *procservice.ProcessService, documents DocumentWriter) *PublicationHandler {
	return &PublicationHandler{svc: svc, processes: processes, documents: documents}
}

// SetEnqueuer 队列启用时注入
func (h *PublicationHandler) SetEnqueuer(e RetryEnqueuer) {
	h.enqueue = e
}

// ValidateProcess GET /processes/:id/registry/checklist
func (h *PublicationHandler) ValidateProcess(c *gin.Context) {
	report, err := h.svc.ValidateProcess(c.Request.Context(), c.Param("id"))
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, report)
}

// SubmitProcess POST /processes/:id/registry
func (h *PublicationHandler) SubmitProcess(c *gin.Context) {
	h.respond(c)(h.svc.SubmitProcess(c.Request.Context(), c.Param("id"), GetUserID(c)))
}

// UpdateProcess PUT /processes/:id/registry
func (h *PublicationHandler) UpdateProcess(c *gin.Context) {
	h.respond(c)(h.svc.UpdateProcess(c.Request.Context(), c.Param("id"), GetUserID(c)))
}

// SubmitResult POST /items/:itemId/registry/result
func (h *PublicationHandler) SubmitResult(c *gin.Context) {
	var req service.ResultRequest
	if !bind(c, &req) {
		return
	}
	h.respond(c)(h.svc.SubmitResult(c.Request.Context(), c.Param("itemId"), GetUserID(c), &req))
}

// SubmitContract POST /processes/:id/registry/contracts
func (h *PublicationHandler) SubmitContract(c *gin.Context) {
	var req service.ContractRequest
	if !bind(c, &req) {
		return
	}
	h.respond(c)(h.svc.SubmitContract(c.Request.Context(), c.Param("id"), GetUserID(c), &req))
}

// SubmitPlan POST /plans/:id/registry
func (h *PublicationHandler) SubmitPlan(c *gin.Context) {
	h.respond(c)(h.svc.SubmitAnnualPlan(c.Request.Context(), c.Param("id"), GetUserID(c)))
}

// DeletePlan DELETE /plans/:id/registry
func (h *PublicationHandler) DeletePlan(c *gin.Context) {
	var req struct {
		Justification string `json:"justification" binding:"required"`
	}
	if !bind(c, &req) {
		return
	}
	h.respond(c)(h.svc.DeleteAnnualPlan(c.Request.Context(), c.Param("id"), GetUserID(c), req.Justification))
}

// SubmitPlanLine POST /plan-lines/:lineId/registry
func (h *PublicationHandler) SubmitPlanLine(c *gin.Context) {
	h.respond(c)(h.svc.SubmitPlanLine(c.Request.Context(), c.Param("lineId"), GetUserID(c)))
}

// StoreDocument POST /processes/:id/documents 保存附件到对象存储；edict=true时设为公告文件
func (h *PublicationHandler) StoreDocument(c *gin.Context) {
	if h.documents == nil {
		Error(c, 50300, "document storage is not configured")
		return
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxDocumentSize)
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
	data, err := io.ReadAll(f)
	if err != nil {
		BadRequest(c, "read upload: "+err.Error())
		return
	}

	processID := c.Param("id")
	ctx := c.Request.Context()
	if _, err := h.processes.Get(ctx, processID); err != nil {
		Fail(c, err)
		return
	}

	key := storage.ObjectKey(processID, fh.Filename, time.Now())
	if err := h.documents.Put(ctx, key, data, storage.ContentType(fh.Filename)); err != nil {
		InternalError(c, "store document: "+err.Error())
		return
	}

	if c.PostForm("edict") == "true" {
		if _, err := h.processes.UpdateProcess(ctx, processID, GetUserID(c), &procservice.UpdateProcessRequest{EdictDocumentKey: &key}); err != nil {
			Fail(c, err)
			return
		}
	}
	Created(c, gin.H{"object_key": key, "size": len(data)})
}

// UploadDocument POST /processes/:id/registry/documents 已存储的附件上传到平台
func (h *PublicationHandler) UploadDocument(c *gin.Context) {
	var req service.UploadRequest
	if !bind(c, &req) {
		return
	}
	h.respond(c)(h.svc.UploadDocument(c.Request.Context(), c.Param("id"), GetUserID(c), &req))
}

// Retry POST /registry/records/:recordId/retry，?async=true时入队
func (h *PublicationHandler) Retry(c *gin.Context) {
	recordID := c.Param("recordId")
	if c.Query("async") == "true" && h.enqueue != nil {
		taskID, err := h.enqueue(c.Request.Context(), queue.RetryPayload{RecordID: recordID, OperatorID: GetUserID(c)})
		if err != nil {
			InternalError(c, "enqueue retry: "+err.Error())
			return
		}
		c.JSON(http.StatusAccepted, Response{Code: 0, Message: "queued", Data: gin.H{"task_id": taskID}})
		return
	}
	h.respond(c)(h.svc.Retry(c.Request.Context(), recordID, GetUserID(c)))
}

// ListPending GET /registry/records/pending
func (h *PublicationHandler) ListPending(c *gin.Context) {
	records, err := h.svc.ListPending(c.Request.Context(), limitParam(c))
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, gin.H{"items": records})
}

// ListErrors GET /registry/records/errors
func (h *PublicationHandler) ListErrors(c *gin.Context) {
	records, err := h.svc.ListErrors(c.Request.Context(), limitParam(c))
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, gin.H{"items": records})
}

// ListByProcess GET /processes/:id/registry/records
func (h *PublicationHandler) ListByProcess(c *gin.Context) {
	records, err := h.svc.ListByProcess(c.Request.Context(), c.Param("id"))
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, gin.H{"items": records})
}

// ListByTarget GET /registry/records?target_id=
func (h *PublicationHandler) ListByTarget(c *gin.Context) {
	target := c.Query("target_id")
	if target == "" {
		BadRequest(c, "target_id is required")
		return
	}
	records, err := h.svc.ListByTarget(c.Request.Context(), target)
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, gin.H{"items": records})
}

// Stats GET /registry/stats
func (h *PublicationHandler) Stats(c *gin.Context) {
	stats, err := h.svc.Stats(c.Request.Context())
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, stats)
}

// Configuration GET /registry/config
func (h *PublicationHandler) Configuration(c *gin.Context) {
	Success(c, h.svc.CheckConfiguration())
}

// TestConnection POST /registry/test-connection
func (h *PublicationHandler) TestConnection(c *gin.Context) {
	Success(c, h.svc.TestConnection(c.Request.Context()))
}

func (h *PublicationHandler) respond(c *gin.Context) func(*service.Outcome, error) {
	return func(o *service.Outcome, err error) {
		if err != nil {
			if o != nil && o.Report != nil {
				FailWith(c, err, o.Report)
				return
			}
			Fail(c, err)
			return
		}
		Success(c, o)
	}
}

func limitParam(c *gin.Context) int {
	limit := 50
	if v, err := strconv.Atoi(c.Query("limit")); err == nil && v > 0 && v <= 500 {
		limit = v
	}
	return limit
}
