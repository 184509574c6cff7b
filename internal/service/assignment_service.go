package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"speakedu_backend/internal/model"
	"speakedu_backend/internal/repository"
	"speakedu_backend/internal/util"
	"speakedu_backend/pkg/logger"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type AssignmentService struct {
	Repo         *repository.AssignmentRepository
	UnitRepo     *repository.ContentUnitRepository
	ProgressRepo *repository.ProgressRepository
	UserRepo     *repository.UserRepository
	Versioning   *VersioningService
	Analysis     *AnalysisService
	DB           *gorm.DB
	rdb          *redis.Client
}

func NewAssignmentService(repo *repository.AssignmentRepository, unitRepo *repository.ContentUnitRepository,
	progressRepo *repository.ProgressRepository, userRepo *repository.UserRepository,
	versioning *VersioningService, analysis *AnalysisService, db *gorm.DB, rdb *redis.Client) *AssignmentService {
	return &AssignmentService{
		Repo:         repo,
		UnitRepo:     unitRepo,
		ProgressRepo: progressRepo,
		UserRepo:     userRepo,
		Versioning:   versioning,
		Analysis:     analysis,
		DB:           db,
		rdb:          rdb,
	}
}

type DispatchRequest struct {
	StudentIDs    []uint     `json:"studentIds" binding:"required"`
	DefinitionIDs []uint     `json:"definitionIds" binding:"required"`
	ClassroomID   uint       `json:"classroomId"`
	StartDate     *time.Time `json:"startDate"`
	DueDate       *time.Time `json:"dueDate"`
}

// Dispatch 向学生派发作业：每人一个实例，素材在同一事务内物化为
// 不可变工作副本并建好单元进度。素材缺失时整体失败，不产生半成品。
func (s *AssignmentService) Dispatch(teacherID uint, req DispatchRequest) ([]model.AssignmentInstance, error) {
	students, err := s.UserRepo.ListStudentsByIDs(req.StudentIDs)
	if err != nil {
		return nil, err
	}
	if len(students) == 0 {
		return nil, util.ErrUserNotFound
	}

	var created []model.AssignmentInstance
	err = s.DB.Transaction(func(tx *gorm.DB) error {
		for _, student := range students {
			inst := &model.AssignmentInstance{
				StudentID:   student.ID,
				TeacherID:   teacherID,
				ClassroomID: req.ClassroomID,
				Status:      model.StatusNotStarted,
				StartDate:   req.StartDate,
				DueDate:     req.DueDate,
				AssignedAt:  time.Now(),
			}
			if err := s.Repo.Create(tx, inst); err != nil {
				return err
			}

			for _, defID := range req.DefinitionIDs {
				unit, err := s.Versioning.Materialize(tx, inst.ID, defID)
				if err != nil {
					return err
				}
				cp := &model.ContentProgress{
					AssignmentID: inst.ID,
					UnitID:       unit.ID,
					PassFlag:     model.PassUnset,
				}
				if err := s.ProgressRepo.CreateContentProgress(tx, cp); err != nil {
					return err
				}
			}
			created = append(created, *inst)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Log.Info("assignments dispatched",
		zap.Uint("teacherId", teacherID),
		zap.Int("students", len(created)),
		zap.Int("definitions", len(req.DefinitionIDs)))
	return created, nil
}

func (s *AssignmentService) ListForStudent(studentID uint, page, limit int) ([]model.AssignmentInstance, int64, error) {
	return s.Repo.ListByStudent(studentID, page, limit)
}

func (s *AssignmentService) ListForTeacher(teacherID uint, status model.AssignmentStatus, page, limit int) ([]model.AssignmentInstance, int64, error) {
	return s.Repo.ListByTeacher(teacherID, status, page, limit)
}

// AssignmentDetail 学生端作业详情：工作副本、单元/条目进度、提交阻塞信号
type AssignmentDetail struct {
	Instance     *model.AssignmentInstance `json:"instance"`
	Progress     []model.ContentProgress   `json:"progress"`
	Items        []model.ItemProgress      `json:"items"`
	Blocked      bool                      `json:"blocked"`
	BlockedItems []uint                    `json:"blockedItems,omitempty"`
}

func (s *AssignmentService) Detail(userID uint, assignmentID uint, asTeacher bool) (*AssignmentDetail, error) {
	inst, err := s.Repo.FindByIDWithUnits(assignmentID)
	if err != nil {
		return nil, err
	}
	if asTeacher {
		if inst.TeacherID != userID {
			return nil, util.ErrPermissionDenied
		}
	} else if inst.StudentID != userID {
		return nil, util.ErrPermissionDenied
	}

	progress, err := s.ProgressRepo.ListContentProgress(assignmentID)
	if err != nil {
		return nil, err
	}
	items, err := s.ProgressRepo.ListItems(assignmentID)
	if err != nil {
		return nil, err
	}

	blocked, blockedIDs := s.Analysis.ForAssignment(assignmentID).SubmissionBlocked(nil)

	return &AssignmentDetail{
		Instance:     inst,
		Progress:     progress,
		Items:        items,
		Blocked:      blocked,
		BlockedItems: blockedIDs,
	}, nil
}

// Submit 学生提交：先结算全部分析任务，全部就绪才原子推进状态。
// 结算失败时状态完全不变，错误中携带阻塞条目。
func (s *AssignmentService) Submit(ctx context.Context, studentID, assignmentID uint) (*model.AssignmentInstance, error) {
	inst, err := s.Repo.FindByID(assignmentID)
	if err != nil {
		return nil, err
	}
	if inst.StudentID != studentID {
		return nil, util.ErrPermissionDenied
	}
	if inst.Status != model.StatusInProgress {
		return nil, util.NewStateConflict(inst.Status, model.StatusSubmitted)
	}

	o := s.Analysis.ForAssignment(assignmentID)
	if err := o.SettleBeforeSubmit(ctx, nil); err != nil {
		return nil, err
	}

	now := time.Now()
	if err := s.Repo.TransitionStatus(nil, assignmentID, model.StatusInProgress, model.StatusSubmitted,
		map[string]interface{}{"submitted_at": &now}); err != nil {
		return nil, err
	}

	s.invalidateProjection(ctx, assignmentID)
	logger.Log.Info("assignment submitted", zap.Uint("assignmentId", assignmentID))
	return s.Repo.FindByID(assignmentID)
}

// Resubmit 被退回作业的重交：只结算失败单元的条目，通过的单元不动。
func (s *AssignmentService) Resubmit(ctx context.Context, studentID, assignmentID uint) (*model.AssignmentInstance, error) {
	inst, err := s.Repo.FindByID(assignmentID)
	if err != nil {
		return nil, err
	}
	if inst.StudentID != studentID {
		return nil, util.ErrPermissionDenied
	}
	if inst.Status != model.StatusReturned {
		return nil, util.NewStateConflict(inst.Status, model.StatusResubmitted)
	}

	scope, err := s.failedUnitItemIDs(assignmentID)
	if err != nil {
		return nil, err
	}

	o := s.Analysis.ForAssignment(assignmentID)
	if err := o.SettleBeforeSubmit(ctx, scope); err != nil {
		return nil, err
	}

	now := time.Now()
	if err := s.Repo.TransitionStatus(nil, assignmentID, model.StatusReturned, model.StatusResubmitted,
		map[string]interface{}{"submitted_at": &now}); err != nil {
		return nil, err
	}

	s.invalidateProjection(ctx, assignmentID)
	logger.Log.Info("assignment resubmitted", zap.Uint("assignmentId", assignmentID))
	return s.Repo.FindByID(assignmentID)
}

// failedUnitItemIDs 重交结算范围：失败单元下全部条目进度
func (s *AssignmentService) failedUnitItemIDs(assignmentID uint) ([]uint, error) {
	progresses, err := s.ProgressRepo.ListContentProgress(assignmentID)
	if err != nil {
		return nil, err
	}
	failedUnits := make(map[string]bool)
	for _, cp := range progresses {
		if cp.PassFlag == model.PassFail {
			failedUnits[cp.UnitID] = true
		}
	}

	items, err := s.ProgressRepo.ListItems(assignmentID)
	if err != nil {
		return nil, err
	}
	var ids []uint
	for _, it := range items {
		if failedUnits[it.UnitID] {
			ids = append(ids, it.ID)
		}
	}
	return ids, nil
}

// UnassignAction 撤销派发的处置方式
type UnassignAction int

const (
	UnassignRefuse UnassignAction = iota
	UnassignHardDelete
	UnassignSoftDelete
)

// UnassignDecision 撤销派发的处置规则：有过提交记录的作业受保护，
// 绝不允许撤销；not_started 物理删除；in_progress 需显式确认后软删除留审计。
func UnassignDecision(status model.AssignmentStatus, confirm bool) (UnassignAction, error) {
	switch {
	case status.ProtectsWork():
		return UnassignRefuse, util.ErrWorkProtected
	case status == model.StatusNotStarted:
		return UnassignHardDelete, nil
	case status == model.StatusInProgress:
		if !confirm {
			return UnassignRefuse, util.ErrConfirmRequired
		}
		return UnassignSoftDelete, nil
	}
	return UnassignRefuse, util.NewStateConflict(status, model.StatusNotStarted)
}

// Unassign 撤销派发
func (s *AssignmentService) Unassign(teacherID, assignmentID uint, confirm bool) error {
	inst, err := s.Repo.FindByID(assignmentID)
	if err != nil {
		return err
	}
	if inst.TeacherID != teacherID {
		return util.ErrPermissionDenied
	}

	action, err := UnassignDecision(inst.Status, confirm)
	if err != nil {
		return err
	}
	switch action {
	case UnassignHardDelete:
		return s.DB.Transaction(func(tx *gorm.DB) error {
			if err := s.UnitRepo.PurgeByAssignment(tx, assignmentID); err != nil {
				return err
			}
			return s.Repo.HardDelete(tx, assignmentID)
		})
	case UnassignSoftDelete:
		s.Analysis.Discard(assignmentID)
		return s.Repo.SoftDelete(assignmentID)
	}
	return nil
}

// DiscardSession 学生放弃当前练习会话：在途分析被放弃而非等待
func (s *AssignmentService) DiscardSession(studentID, assignmentID uint) error {
	inst, err := s.Repo.FindByID(assignmentID)
	if err != nil {
		return err
	}
	if inst.StudentID != studentID {
		return util.ErrPermissionDenied
	}
	s.Analysis.Discard(assignmentID)
	return nil
}

// StatusProjection 供外围系统（看板/提醒）消费的只读状态投影
type StatusProjection struct {
	AssignmentID uint                    `json:"assignmentId"`
	Status       model.AssignmentStatus  `json:"status"`
	TotalScore   float64                 `json:"totalScore"`
	DueDate      *time.Time              `json:"dueDate,omitempty"`
	UnitFlags    map[string]model.PassFlag `json:"unitFlags"`
}

const projectionTTL = 30 * time.Second

func projectionKey(assignmentID uint) string {
	return fmt.Sprintf("assignment:projection:%d", assignmentID)
}

// Projection 读侧走 Redis 缓存，状态迁移时失效
func (s *AssignmentService) Projection(ctx context.Context, assignmentID uint) (*StatusProjection, error) {
	if s.rdb != nil {
		if cached, err := s.rdb.Get(ctx, projectionKey(assignmentID)).Result(); err == nil {
			var p StatusProjection
			if json.Unmarshal([]byte(cached), &p) == nil {
				return &p, nil
			}
		}
	}

	inst, err := s.Repo.FindByID(assignmentID)
	if err != nil {
		return nil, err
	}
	progresses, err := s.ProgressRepo.ListContentProgress(assignmentID)
	if err != nil {
		return nil, err
	}

	p := &StatusProjection{
		AssignmentID: assignmentID,
		Status:       inst.Status,
		TotalScore:   inst.TotalScore,
		DueDate:      inst.DueDate,
		UnitFlags:    make(map[string]model.PassFlag, len(progresses)),
	}
	for _, cp := range progresses {
		p.UnitFlags[cp.UnitID] = cp.PassFlag
	}

	if s.rdb != nil {
		if data, err := json.Marshal(p); err == nil {
			s.rdb.Set(ctx, projectionKey(assignmentID), data, projectionTTL)
		}
	}
	return p, nil
}

func (s *AssignmentService) invalidateProjection(ctx context.Context, assignmentID uint) {
	if s.rdb != nil {
		s.rdb.Del(ctx, projectionKey(assignmentID))
	}
}
