package repository

import (
	"errors"

	"speakedu_backend/internal/model"
	"speakedu_backend/internal/util"

	"gorm.io/gorm"
)

type ContentDefinitionRepository struct {
	DB *gorm.DB
}

func NewContentDefinitionRepository(db *gorm.DB) *ContentDefinitionRepository {
	return &ContentDefinitionRepository{DB: db}
}

func (r *ContentDefinitionRepository) Create(def *model.ContentDefinition) error {
	return r.DB.Create(def).Error
}

func (r *ContentDefinitionRepository) FindByIDWithItems(id uint) (*model.ContentDefinition, error) {
	var def model.ContentDefinition
	err := r.DB.Preload("Items", func(db *gorm.DB) *gorm.DB {
		return db.Order("item_order asc")
	}).First(&def, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, util.ErrSourceNotFound
	}
	return &def, err
}

func (r *ContentDefinitionRepository) List(page, limit int, publishedOnly bool) ([]model.ContentDefinition, int64, error) {
	var defs []model.ContentDefinition
	var total int64
	query := r.DB.Model(&model.ContentDefinition{})
	if publishedOnly {
		query = query.Where("published = ?", true)
	}
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	offset := (page - 1) * limit
	err := query.Order("created_at desc").Offset(offset).Limit(limit).Find(&defs).Error
	return defs, total, err
}

func (r *ContentDefinitionRepository) Update(def *model.ContentDefinition) error {
	return r.DB.Save(def).Error
}

// ReplaceItems 整体替换条目列表。只改素材库原件，已派发的工作副本不受影响。
func (r *ContentDefinitionRepository) ReplaceItems(definitionID uint, items []model.ContentDefinitionItem) error {
	return r.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("definition_id = ?", definitionID).Delete(&model.ContentDefinitionItem{}).Error; err != nil {
			return err
		}
		for i := range items {
			items[i].ID = 0
			items[i].DefinitionID = definitionID
			if err := tx.Create(&items[i]).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *ContentDefinitionRepository) Delete(id uint) error {
	return r.DB.Delete(&model.ContentDefinition{}, id).Error
}
