package repository

import (
	"errors"

	"gorm.io/gorm"
)

var (
	ErrNotFound = errors.New("record not found")
)

// Repositories 采购流程仓库集合
type Repositories struct {
	Process     *ProcessRepository
	Lot         *LotRepository
	Item        *ItemRepository
	ActivityLog *ActivityLogRepository
}

// NewRepositories 创建采购流程仓库集合
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		Process:     NewProcessRepository(db),
		Lot:         NewLotRepository(db),
		Item:        NewItemRepository(db),
		ActivityLog: NewActivityLogRepository(db),
	}
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}
