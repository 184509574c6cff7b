package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"speakedu_backend/internal/model"
	"speakedu_backend/internal/util"
	"speakedu_backend/pkg/logger"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ProgressRepository struct {
	DB  *gorm.DB
	RDB *redis.Client
}

func NewProgressRepository(db *gorm.DB, rdb *redis.Client) *ProgressRepository {
	return &ProgressRepository{DB: db, RDB: rdb}
}

// ---- ContentProgress ----

func (r *ProgressRepository) CreateContentProgress(tx *gorm.DB, cp *model.ContentProgress) error {
	if tx == nil {
		tx = r.DB
	}
	return tx.Create(cp).Error
}

func (r *ProgressRepository) FindContentProgressByID(id uint) (*model.ContentProgress, error) {
	var cp model.ContentProgress
	err := r.DB.First(&cp, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, util.ErrUnitNotFound
	}
	return &cp, err
}

func (r *ProgressRepository) ListContentProgress(assignmentID uint) ([]model.ContentProgress, error) {
	var list []model.ContentProgress
	err := r.DB.Where("assignment_id = ?", assignmentID).Order("created_at asc").Find(&list).Error
	return list, err
}

func (r *ProgressRepository) SaveContentProgress(cp *model.ContentProgress) error {
	return r.DB.Save(cp).Error
}

// ---- ItemProgress ----

func (r *ProgressRepository) FindItemByUnitItem(assignmentID, unitItemID uint) (*model.ItemProgress, error) {
	var item model.ItemProgress
	err := r.DB.Where("assignment_id = ? AND unit_item_id = ?", assignmentID, unitItemID).First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (r *ProgressRepository) SaveItem(item *model.ItemProgress) error {
	return r.DB.Save(item).Error
}

func (r *ProgressRepository) CreateItem(item *model.ItemProgress) error {
	return r.DB.Create(item).Error
}

func (r *ProgressRepository) ListItems(assignmentID uint) ([]model.ItemProgress, error) {
	var items []model.ItemProgress
	err := r.DB.Where("assignment_id = ?", assignmentID).Find(&items).Error
	return items, err
}

func (r *ProgressRepository) ListItemsByUnit(assignmentID uint, unitID string) ([]model.ItemProgress, error) {
	var items []model.ItemProgress
	err := r.DB.Where("assignment_id = ? AND unit_id = ?", assignmentID, unitID).Find(&items).Error
	return items, err
}

// ---- 分析编排器的持久化出口 ----

// ItemForAnalysis 取条目及其参照文本（来自不可变工作副本）
func (r *ProgressRepository) ItemForAnalysis(itemID uint) (*model.ItemProgress, string, error) {
	var item model.ItemProgress
	err := r.DB.First(&item, itemID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, "", util.ErrItemNotFound
	}
	if err != nil {
		return nil, "", err
	}

	var unitItem model.ContentUnitItem
	if err := r.DB.First(&unitItem, item.UnitItemID).Error; err != nil {
		return nil, "", err
	}
	return &item, unitItem.Text, nil
}

func (r *ProgressRepository) MarkAnalyzing(itemID uint) error {
	return r.DB.Model(&model.ItemProgress{}).Where("id = ?", itemID).
		Update("analysis_status", model.AnalysisAnalyzing).Error
}

// SaveAnalyzed 写入评分结果。条目已有评分时，旧载荷进入 ItemScoreRevision，
// 最新成功结果为准，被取代的结果记日志而非静默丢弃。
func (r *ProgressRepository) SaveAnalyzed(item *model.ItemProgress, res *model.ScoreResult, raw json.RawMessage, source string) error {
	now := time.Now()

	superseded := item.AnalysisStatus == model.AnalysisAnalyzed && len(item.RawScore) > 0
	oldOverall := item.OverallScore
	err := r.DB.Transaction(func(tx *gorm.DB) error {
		if superseded {
			rev := &model.ItemScoreRevision{
				ItemProgressID: item.ID,
				AudioHash:      item.AudioHash,
				RawScore:       item.RawScore,
				OverallScore:   item.OverallScore,
				Source:         source,
				SupersededAt:   now,
			}
			if err := tx.Create(rev).Error; err != nil {
				return err
			}
			logger.Log.Info("score superseded",
				zap.Uint("itemProgressId", item.ID),
				zap.Float64("oldOverall", item.OverallScore),
				zap.Float64("newOverall", res.Overall),
				zap.String("source", source))
		}

		item.RawScore = raw
		item.OverallScore = res.Overall
		item.Completeness = res.Completeness
		item.AnalysisStatus = model.AnalysisAnalyzed
		item.Completed = true
		item.LastError = ""
		item.AnalyzedAt = &now
		return tx.Save(item).Error
	})
	if err != nil {
		return err
	}

	if superseded {
		r.publishSupersede(item, oldOverall, source, now)
	}
	return nil
}

const supersedeAuditKey = "audit:score_supersede"

// publishSupersede 把取代事件追加到 Redis 审计列表，供运维排查评分回放。
// Redis 不可用时不影响主流程，仅记警告。
func (r *ProgressRepository) publishSupersede(item *model.ItemProgress, oldOverall float64, source string, at time.Time) {
	if r.RDB == nil {
		return
	}
	entry, err := json.Marshal(map[string]interface{}{
		"itemProgressId": item.ID,
		"assignmentId":   item.AssignmentID,
		"audioHash":      item.AudioHash,
		"oldOverall":     oldOverall,
		"newOverall":     item.OverallScore,
		"source":         source,
		"supersededAt":   at.Format(time.RFC3339),
	})
	if err != nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	pipe := r.RDB.Pipeline()
	pipe.LPush(ctx, supersedeAuditKey, entry)
	pipe.LTrim(ctx, supersedeAuditKey, 0, 9999)
	if _, err := pipe.Exec(ctx); err != nil {
		logger.Log.Warn("failed to publish supersede audit entry", zap.Error(err))
	}
}

func (r *ProgressRepository) MarkFailed(itemID uint, attempts int, reason string) error {
	return r.DB.Model(&model.ItemProgress{}).Where("id = ?", itemID).
		Updates(map[string]interface{}{
			"analysis_status": model.AnalysisFailed,
			"attempt_count":   attempts,
			"last_error":      reason,
		}).Error
}

// AwaitingAnalysis 提交闸门兜底：有录音但尚未 analyzed 的条目。
// only 非空时仅限定这些条目（重交场景只结算被退回的单元）。
func (r *ProgressRepository) AwaitingAnalysis(assignmentID uint, only []uint) ([]model.ItemProgress, error) {
	var items []model.ItemProgress
	query := r.DB.Where("assignment_id = ? AND audio_ref <> '' AND analysis_status <> ?",
		assignmentID, model.AnalysisAnalyzed)
	if len(only) > 0 {
		query = query.Where("id IN ?", only)
	}
	err := query.Find(&items).Error
	return items, err
}

func (r *ProgressRepository) ListRevisions(itemProgressID uint) ([]model.ItemScoreRevision, error) {
	var revs []model.ItemScoreRevision
	err := r.DB.Where("item_progress_id = ?", itemProgressID).Order("superseded_at desc").Find(&revs).Error
	return revs, err
}
