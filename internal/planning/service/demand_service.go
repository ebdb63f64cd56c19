package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/valleteclab/portaldcp/internal/planning/entity"
	"github.com/valleteclab/portaldcp/internal/planning/repository"
	"github.com/valleteclab/portaldcp/internal/shared/apperr"
)

// DemandService 部门需求服务
type DemandService struct {
	demandRepo *repository.DemandRepository
	now        func() time.Time
}

// NewDemandService 创建需求服务
func NewDemandService(repos *repository.Repositories) *DemandService {
	return &DemandService{demandRepo: repos.Demand, now: time.Now}
}

// CreateDemandRequest 创建需求请求
type CreateDemandRequest struct {
	OrgID          string              `json:"org_id" binding:"required"`
	Year           int                 `json:"year" binding:"required"`
	Title          string              `json:"title" binding:"required"`
	RequestingUnit string              `json:"requesting_unit"`
	Requester      string              `json:"requester"`
	Justification  string              `json:"justification"`
	Lines          []DemandLineRequest `json:"lines"`
}

// DemandLineRequest 需求行
type DemandLineRequest struct {
	Category       string          `json:"category"`
	Description    string          `json:"description" binding:"required"`
	Rationale      string          `json:"rationale"`
	CatalogCode    string          `json:"catalog_code"`
	Unit           string          `json:"unit"`
	Quantity       decimal.Decimal `json:"quantity"`
	UnitEstimated  decimal.Decimal `json:"unit_estimated"`
	EstimatedValue decimal.Decimal `json:"estimated_value"`
	DesiredDate    *time.Time      `json:"desired_date"`
	Priority       int             `json:"priority"`
	Renewable      bool            `json:"renewable"`
}

// List 需求列表
func (s *DemandService) List(ctx context.Context, page, pageSize int, filters map[string]string) ([]entity.Demand, int64, error) {
	return s.demandRepo.FindAll(ctx, page, pageSize, filters)
}

// Get 需求详情
func (s *DemandService) Get(ctx context.Context, id string) (*entity.Demand, error) {
	d, err := s.demandRepo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.NotFound("demand", id)
		}
		return nil, fmt.Errorf("find demand: %w", err)
	}
	return d, nil
}

// Create 创建需求单（草稿）
func (s *DemandService) Create(ctx context.Context, userID string, req *CreateDemandRequest) (*entity.Demand, error) {
	if strings.TrimSpace(req.Title) == "" {
		return nil, apperr.Validation(apperr.CodeInvalidInput, "title is required")
	}
	if len(req.Lines) == 0 {
		return nil, apperr.Validation(apperr.CodeInvalidInput, "a demand needs at least one line")
	}

	count, err := s.demandRepo.CountByYear(ctx, req.OrgID, req.Year)
	if err != nil {
		return nil, fmt.Errorf("count demands: %w", err)
	}

	d := &entity.Demand{
		ID:             uuid.New().String()[:32],
		OrgID:          req.OrgID,
		Year:           req.Year,
		Code:           fmt.Sprintf("DEM-%d-%04d-%s", req.Year, count+1, strings.ToUpper(uuid.New().String()[:4])),
		Title:          strings.TrimSpace(req.Title),
		RequestingUnit: req.RequestingUnit,
		Requester:      req.Requester,
		Justification:  req.Justification,
		Status:         entity.DemandStatusDraft,
		CreatedBy:      userID,
	}

	total := decimal.Zero
	for i, l := range req.Lines {
		if strings.TrimSpace(l.Description) == "" {
			return nil, apperr.Validation(apperr.CodeInvalidInput, "line %d has no description", i+1)
		}
		category := l.Category
		if category == "" {
			category = entity.CategoryMaterial
		}
		if !entity.ValidCategory(category) {
			return nil, apperr.Validation(apperr.CodeInvalidInput, "line %d: unknown category %s", i+1, category)
		}
		priority := l.Priority
		if priority <= 0 {
			priority = 3
		}
		line := entity.DemandLine{
			ID:             uuid.New().String()[:32],
			DemandID:       d.ID,
			Number:         i + 1,
			Category:       category,
			Description:    strings.TrimSpace(l.Description),
			Rationale:      l.Rationale,
			CatalogCode:    l.CatalogCode,
			Unit:           l.Unit,
			Quantity:       l.Quantity,
			UnitEstimated:  l.UnitEstimated,
			EstimatedValue: l.EstimatedValue,
			DesiredDate:    l.DesiredDate,
			Priority:       priority,
			Renewable:      l.Renewable,
		}
		line.Recalculate()
		total = total.Add(line.EstimatedValue)
		d.Lines = append(d.Lines, line)
	}
	d.TotalEstimated = total

	if err := s.demandRepo.Create(ctx, d); err != nil {
		return nil, fmt.Errorf("create demand: %w", err)
	}
	return d, nil
}

// Delete 删除草稿需求
func (s *DemandService) Delete(ctx context.Context, id string) error {
	d, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if d.Status != entity.DemandStatusDraft {
		return apperr.Validation(apperr.CodeInvalidTransition, "only draft demands can be deleted")
	}
	return s.demandRepo.Delete(ctx, id)
}

// Submit 提交
func (s *DemandService) Submit(ctx context.Context, id string) (*entity.Demand, error) {
	return s.move(ctx, id, []string{entity.DemandStatusDraft, entity.DemandStatusRejected}, entity.DemandStatusSubmitted,
		func(d *entity.Demand, now time.Time) {
			d.SubmittedAt = &now
			d.RejectReason = ""
		})
}

// StartReview 开始审核
func (s *DemandService) StartReview(ctx context.Context, id, userID string) (*entity.Demand, error) {
	return s.move(ctx, id, []string{entity.DemandStatusSubmitted}, entity.DemandStatusUnderReview,
		func(d *entity.Demand, now time.Time) {
			d.ReviewedBy = userID
		})
}

// Approve 审批通过
func (s *DemandService) Approve(ctx context.Context, id, userID string) (*entity.Demand, error) {
	return s.move(ctx, id, []string{entity.DemandStatusSubmitted, entity.DemandStatusUnderReview}, entity.DemandStatusApproved,
		func(d *entity.Demand, now time.Time) {
			d.ReviewedBy = userID
			d.ApprovedAt = &now
		})
}

// Reject 驳回
func (s *DemandService) Reject(ctx context.Context, id, userID, reason string) (*entity.Demand, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, apperr.Validation(apperr.CodeInvalidInput, "reject reason is required")
	}
	return s.move(ctx, id, []string{entity.DemandStatusSubmitted, entity.DemandStatusUnderReview}, entity.DemandStatusRejected,
		func(d *entity.Demand, now time.Time) {
			d.ReviewedBy = userID
			d.RejectReason = reason
		})
}

func (s *DemandService) move(ctx context.Context, id string, from []string, to string, apply func(*entity.Demand, time.Time)) (*entity.Demand, error) {
	d, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	ok := false
	for _, f := range from {
		if d.Status == f {
			ok = true
			break
		}
	}
	if !ok {
		return nil, apperr.Validation(apperr.CodeInvalidTransition, "demand %s is %s, cannot become %s", d.Code, d.Status, to)
	}
	d.Status = to
	apply(d, s.now())
	if err := s.demandRepo.Update(ctx, d); err != nil {
		return nil, fmt.Errorf("update demand: %w", err)
	}
	return d, nil
}
