package repository

import (
	"errors"
	"time"

	"speakedu_backend/internal/model"
	"speakedu_backend/internal/util"

	"gorm.io/gorm"
)

type AssignmentRepository struct {
	DB *gorm.DB
}

func NewAssignmentRepository(db *gorm.DB) *AssignmentRepository {
	return &AssignmentRepository{DB: db}
}

func (r *AssignmentRepository) Create(tx *gorm.DB, inst *model.AssignmentInstance) error {
	if tx == nil {
		tx = r.DB
	}
	return tx.Create(inst).Error
}

func (r *AssignmentRepository) FindByID(id uint) (*model.AssignmentInstance, error) {
	var inst model.AssignmentInstance
	err := r.DB.First(&inst, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, util.ErrAssignmentNotFound
	}
	return &inst, err
}

func (r *AssignmentRepository) FindByIDWithUnits(id uint) (*model.AssignmentInstance, error) {
	var inst model.AssignmentInstance
	err := r.DB.Preload("Units.Items", func(db *gorm.DB) *gorm.DB {
		return db.Order("item_order asc")
	}).Preload("Units").First(&inst, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, util.ErrAssignmentNotFound
	}
	return &inst, err
}

func (r *AssignmentRepository) ListByStudent(studentID uint, page, limit int) ([]model.AssignmentInstance, int64, error) {
	var list []model.AssignmentInstance
	var total int64
	query := r.DB.Model(&model.AssignmentInstance{}).Where("student_id = ?", studentID)
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	offset := (page - 1) * limit
	err := query.Order("assigned_at desc").Offset(offset).Limit(limit).Find(&list).Error
	return list, total, err
}

func (r *AssignmentRepository) ListByTeacher(teacherID uint, status model.AssignmentStatus, page, limit int) ([]model.AssignmentInstance, int64, error) {
	var list []model.AssignmentInstance
	var total int64
	query := r.DB.Model(&model.AssignmentInstance{}).Where("teacher_id = ?", teacherID)
	if status != "" {
		query = query.Where("status = ?", status)
	}
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	offset := (page - 1) * limit
	err := query.Preload("Student").Order("submitted_at desc, assigned_at desc").
		Offset(offset).Limit(limit).Find(&list).Error
	return list, total, err
}

// ListPendingReview 待批阅队列：已提交/已重交，先交先批
func (r *AssignmentRepository) ListPendingReview(teacherID uint, page, limit int) ([]model.AssignmentInstance, int64, error) {
	var list []model.AssignmentInstance
	var total int64
	query := r.DB.Model(&model.AssignmentInstance{}).
		Where("teacher_id = ? AND status IN ?", teacherID,
			[]model.AssignmentStatus{model.StatusSubmitted, model.StatusResubmitted})
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	offset := (page - 1) * limit
	err := query.Preload("Student").Order("submitted_at asc").
		Offset(offset).Limit(limit).Find(&list).Error
	return list, total, err
}

// TransitionStatus 以 WHERE status = from 的条件更新做乐观并发控制，
// 两个并发请求只会有一个赢得迁移，输家收到状态冲突。
func (r *AssignmentRepository) TransitionStatus(tx *gorm.DB, id uint, from, to model.AssignmentStatus, extra map[string]interface{}) error {
	if tx == nil {
		tx = r.DB
	}
	if !from.CanTransition(to) {
		return util.NewStateConflict(from, to)
	}

	updates := map[string]interface{}{"status": to}
	for k, v := range extra {
		updates[k] = v
	}

	res := tx.Model(&model.AssignmentInstance{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return util.NewStateConflict(from, to)
	}
	return nil
}

func (r *AssignmentRepository) Save(inst *model.AssignmentInstance) error {
	return r.DB.Save(inst).Error
}

// HardDelete 仅用于 not_started 的撤销派发，连同工作副本与进度一并物理清除
func (r *AssignmentRepository) HardDelete(tx *gorm.DB, id uint) error {
	if tx == nil {
		tx = r.DB
	}
	if err := tx.Unscoped().Where("assignment_id = ?", id).Delete(&model.ContentProgress{}).Error; err != nil {
		return err
	}
	if err := tx.Unscoped().Where("assignment_id = ?", id).Delete(&model.ItemProgress{}).Error; err != nil {
		return err
	}
	return tx.Unscoped().Delete(&model.AssignmentInstance{}, id).Error
}

// SoftDelete in_progress 的撤销派发走软删除，保留审计记录
func (r *AssignmentRepository) SoftDelete(id uint) error {
	return r.DB.Delete(&model.AssignmentInstance{}, id).Error
}

// ListStaleInProgress 回填扫描：进行中且最近无更新的实例
func (r *AssignmentRepository) ListStaleInProgress(olderThan time.Time, limit int) ([]model.AssignmentInstance, error) {
	var list []model.AssignmentInstance
	err := r.DB.Where("status = ? AND updated_at < ?", model.StatusInProgress, olderThan).
		Order("updated_at asc").Limit(limit).Find(&list).Error
	return list, err
}
