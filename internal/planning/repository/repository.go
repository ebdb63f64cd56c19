package repository

import (
	"errors"

	"gorm.io/gorm"
)

var (
	ErrNotFound = errors.New("record not found")
)

// Repositories 年度计划仓库集合
type Repositories struct {
	Plan        *PlanRepository
	Line        *PlanLineRepository
	Consumption *ConsumptionRepository
	Demand      *DemandRepository
}

// NewRepositories 创建年度计划仓库集合
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		Plan:        NewPlanRepository(db),
		Line:        NewPlanLineRepository(db),
		Consumption: NewConsumptionRepository(db),
		Demand:      NewDemandRepository(db),
	}
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}
