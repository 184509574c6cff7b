package service

import (
	"errors"

	"speakedu_backend/internal/model"
	"speakedu_backend/internal/util"
	"speakedu_backend/pkg/logger"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// DefinitionSource 物化时读取素材快照的最小出口。
type DefinitionSource interface {
	FindByIDWithItems(id uint) (*model.ContentDefinition, error)
}

// UnitStore 工作副本的持久化出口。
type UnitStore interface {
	FindByAssignmentAndSource(tx *gorm.DB, assignmentID uint, sourceDefinitionID uint) (*model.ContentUnit, error)
	Create(tx *gorm.DB, unit *model.ContentUnit) error
}

// VersioningService 写时复制边界：派发作业时把共享素材深拷贝为
// 实例私有的不可变工作副本，此后素材怎么改都不影响已派发/已批阅的作业。
type VersioningService struct {
	DefRepo  DefinitionSource
	UnitRepo UnitStore
}

func NewVersioningService(defRepo DefinitionSource, unitRepo UnitStore) *VersioningService {
	return &VersioningService{DefRepo: defRepo, UnitRepo: unitRepo}
}

// Materialize 为指定作业实例物化一份工作副本。
// 幂等：同一实例重复调用返回已有副本，不产生重复拷贝。
// 素材已被删除时返回 ErrSourceNotFound，调用方必须让整个派发事务失败。
func (s *VersioningService) Materialize(tx *gorm.DB, assignmentID uint, definitionID uint) (*model.ContentUnit, error) {
	existing, err := s.UnitRepo.FindByAssignmentAndSource(tx, assignmentID, definitionID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	def, err := s.DefRepo.FindByIDWithItems(definitionID)
	if err != nil {
		if errors.Is(err, util.ErrSourceNotFound) {
			return nil, util.ErrSourceNotFound
		}
		return nil, err
	}

	unit := &model.ContentUnit{
		AssignmentID:       assignmentID,
		Title:              def.Title,
		Language:           def.Language,
		SourceDefinitionID: def.ID,
		SourceVersionLabel: def.VersionLabel,
	}
	unit.Items = make([]model.ContentUnitItem, 0, len(def.Items))
	for _, it := range def.Items {
		unit.Items = append(unit.Items, model.ContentUnitItem{
			Order:       it.Order,
			Text:        it.Text,
			Translation: it.Translation,
			RefAudioURL: it.RefAudioURL,
		})
	}

	if err := s.UnitRepo.Create(tx, unit); err != nil {
		return nil, err
	}

	logger.Log.Info("content materialized",
		zap.Uint("assignmentId", assignmentID),
		zap.Uint("definitionId", definitionID),
		zap.String("unitId", unit.ID),
		zap.Int("items", len(unit.Items)))

	return unit, nil
}
