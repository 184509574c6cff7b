package repository

import (
	"errors"

	"speakedu_backend/internal/model"
	"speakedu_backend/internal/util"

	"gorm.io/gorm"
)

type ContentUnitRepository struct {
	DB *gorm.DB
}

func NewContentUnitRepository(db *gorm.DB) *ContentUnitRepository {
	return &ContentUnitRepository{DB: db}
}

func (r *ContentUnitRepository) Create(tx *gorm.DB, unit *model.ContentUnit) error {
	if tx == nil {
		tx = r.DB
	}
	return tx.Create(unit).Error
}

func (r *ContentUnitRepository) FindByIDWithItems(id string) (*model.ContentUnit, error) {
	var unit model.ContentUnit
	err := r.DB.Preload("Items", func(db *gorm.DB) *gorm.DB {
		return db.Order("item_order asc")
	}).Where("id = ?", id).First(&unit).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, util.ErrUnitNotFound
	}
	return &unit, err
}

// FindByAssignmentAndSource 物化幂等性检查：同一实例同一来源只存在一个工作副本
func (r *ContentUnitRepository) FindByAssignmentAndSource(tx *gorm.DB, assignmentID uint, sourceDefinitionID uint) (*model.ContentUnit, error) {
	if tx == nil {
		tx = r.DB
	}
	var unit model.ContentUnit
	err := tx.Where("assignment_id = ? AND source_definition_id = ?", assignmentID, sourceDefinitionID).
		First(&unit).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &unit, nil
}

func (r *ContentUnitRepository) ListByAssignment(assignmentID uint) ([]model.ContentUnit, error) {
	var units []model.ContentUnit
	err := r.DB.Preload("Items", func(db *gorm.DB) *gorm.DB {
		return db.Order("item_order asc")
	}).Where("assignment_id = ?", assignmentID).Order("created_at asc").Find(&units).Error
	return units, err
}

func (r *ContentUnitRepository) FindItem(unitItemID uint) (*model.ContentUnitItem, error) {
	var item model.ContentUnitItem
	err := r.DB.First(&item, unitItemID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, util.ErrItemNotFound
	}
	return &item, err
}

// PurgeByAssignment 随实例硬删除一起清除工作副本
func (r *ContentUnitRepository) PurgeByAssignment(tx *gorm.DB, assignmentID uint) error {
	if tx == nil {
		tx = r.DB
	}
	var unitIDs []string
	if err := tx.Model(&model.ContentUnit{}).Where("assignment_id = ?", assignmentID).Pluck("id", &unitIDs).Error; err != nil {
		return err
	}
	if len(unitIDs) > 0 {
		if err := tx.Unscoped().Where("unit_id IN ?", unitIDs).Delete(&model.ContentUnitItem{}).Error; err != nil {
			return err
		}
	}
	return tx.Unscoped().Where("assignment_id = ?", assignmentID).Delete(&model.ContentUnit{}).Error
}
