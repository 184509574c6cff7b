package service

import (
	"speakedu_backend/internal/model"
	"speakedu_backend/internal/repository"
	"speakedu_backend/internal/util"
	"speakedu_backend/pkg/logger"

	"go.uber.org/zap"
)

// ContentService 素材库维护。素材是共享原件，随时可编辑；
// 已派发作业持有的是派发时刻的快照，编辑对其不可见。
type ContentService struct {
	DefRepo *repository.ContentDefinitionRepository
}

func NewContentService(defRepo *repository.ContentDefinitionRepository) *ContentService {
	return &ContentService{DefRepo: defRepo}
}

type DefinitionItemInput struct {
	Order       int    `json:"order"`
	Text        string `json:"text" binding:"required"`
	Translation string `json:"translation"`
	RefAudioURL string `json:"refAudioUrl"`
}

type DefinitionInput struct {
	Title        string                `json:"title" binding:"required"`
	Description  string                `json:"description"`
	Language     string                `json:"language"`
	VersionLabel string                `json:"versionLabel"`
	Published    bool                  `json:"published"`
	Items        []DefinitionItemInput `json:"items"`
}

func (s *ContentService) CreateDefinition(creatorID uint, in DefinitionInput) (*model.ContentDefinition, error) {
	def := &model.ContentDefinition{
		Title:        in.Title,
		Description:  in.Description,
		Language:     in.Language,
		VersionLabel: in.VersionLabel,
		CreatorID:    creatorID,
		Published:    in.Published,
	}
	if def.Language == "" {
		def.Language = "en"
	}
	if def.VersionLabel == "" {
		def.VersionLabel = "v1"
	}
	for i, it := range in.Items {
		order := it.Order
		if order == 0 {
			order = i + 1
		}
		def.Items = append(def.Items, model.ContentDefinitionItem{
			Order:       order,
			Text:        it.Text,
			Translation: it.Translation,
			RefAudioURL: it.RefAudioURL,
		})
	}
	if err := s.DefRepo.Create(def); err != nil {
		return nil, err
	}
	logger.Log.Info("content definition created",
		zap.Uint("definitionId", def.ID),
		zap.Int("items", len(def.Items)))
	return def, nil
}

func (s *ContentService) GetDefinition(id uint) (*model.ContentDefinition, error) {
	return s.DefRepo.FindByIDWithItems(id)
}

func (s *ContentService) ListDefinitions(page, limit int, publishedOnly bool) ([]model.ContentDefinition, int64, error) {
	return s.DefRepo.List(page, limit, publishedOnly)
}

// UpdateDefinition 编辑原件：元信息原地更新，条目整体替换，版本号由调用方递进
func (s *ContentService) UpdateDefinition(userID, id uint, in DefinitionInput) (*model.ContentDefinition, error) {
	def, err := s.DefRepo.FindByIDWithItems(id)
	if err != nil {
		return nil, err
	}
	if def.CreatorID != userID {
		return nil, util.ErrPermissionDenied
	}

	def.Title = in.Title
	def.Description = in.Description
	if in.Language != "" {
		def.Language = in.Language
	}
	if in.VersionLabel != "" {
		def.VersionLabel = in.VersionLabel
	}
	def.Published = in.Published
	def.Items = nil
	if err := s.DefRepo.Update(def); err != nil {
		return nil, err
	}

	if len(in.Items) > 0 {
		items := make([]model.ContentDefinitionItem, 0, len(in.Items))
		for i, it := range in.Items {
			order := it.Order
			if order == 0 {
				order = i + 1
			}
			items = append(items, model.ContentDefinitionItem{
				Order:       order,
				Text:        it.Text,
				Translation: it.Translation,
				RefAudioURL: it.RefAudioURL,
			})
		}
		if err := s.DefRepo.ReplaceItems(id, items); err != nil {
			return nil, err
		}
	}
	return s.DefRepo.FindByIDWithItems(id)
}

// DeleteDefinition 删除原件。已派发的快照独立存在，不受影响；
// 后续派发引用该素材会以 ErrSourceNotFound 整体失败。
func (s *ContentService) DeleteDefinition(userID, id uint) error {
	def, err := s.DefRepo.FindByIDWithItems(id)
	if err != nil {
		return err
	}
	if def.CreatorID != userID {
		return util.ErrPermissionDenied
	}
	return s.DefRepo.Delete(id)
}
