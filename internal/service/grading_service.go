package service

import (
	"context"
	"time"

	"speakedu_backend/internal/model"
	"speakedu_backend/internal/repository"
	"speakedu_backend/internal/util"
	"speakedu_backend/pkg/logger"

	"go.uber.org/zap"
)

// GradingService 教师批阅流程：逐单元给结论，最后定稿或退回。
type GradingService struct {
	AssignmentRepo *repository.AssignmentRepository
	ProgressRepo   *repository.ProgressRepository
	Assignments    *AssignmentService
}

func NewGradingService(assignmentRepo *repository.AssignmentRepository, progressRepo *repository.ProgressRepository, assignments *AssignmentService) *GradingService {
	return &GradingService{
		AssignmentRepo: assignmentRepo,
		ProgressRepo:   progressRepo,
		Assignments:    assignments,
	}
}

type ReviewRequest struct {
	Passed   bool   `json:"passed"`
	Feedback string `json:"feedback"`
}

type FinalizeRequest struct {
	ScoreOverride *float64 `json:"scoreOverride"`
	Feedback      string   `json:"feedback"`
}

// ListPending 待批阅队列：已提交/已重交的作业
func (s *GradingService) ListPending(teacherID uint, page, limit int) ([]model.AssignmentInstance, int64, error) {
	return s.AssignmentRepo.ListPendingReview(teacherID, page, limit)
}

// Review 批阅一个单元：写入通过/不通过结论与评语，
// 单元得分取各条目最新成功评分的均值。
func (s *GradingService) Review(teacherID uint, contentProgressID uint, req ReviewRequest) (*model.ContentProgress, error) {
	cp, err := s.ProgressRepo.FindContentProgressByID(contentProgressID)
	if err != nil {
		return nil, err
	}

	inst, err := s.AssignmentRepo.FindByID(cp.AssignmentID)
	if err != nil {
		return nil, err
	}
	if inst.TeacherID != teacherID {
		return nil, util.ErrPermissionDenied
	}
	if !inst.Status.Reviewable() {
		return nil, util.NewStateConflict(inst.Status, model.StatusGraded)
	}

	items, err := s.ProgressRepo.ListItemsByUnit(cp.AssignmentID, cp.UnitID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	if req.Passed {
		cp.PassFlag = model.PassOK
	} else {
		cp.PassFlag = model.PassFail
	}
	cp.Score = UnitScore(items)
	cp.Feedback = req.Feedback
	cp.ReviewedAt = &now
	cp.ReviewerID = teacherID

	if err := s.ProgressRepo.SaveContentProgress(cp); err != nil {
		return nil, err
	}

	logger.Log.Info("unit reviewed",
		zap.Uint("assignmentId", cp.AssignmentID),
		zap.String("unitId", cp.UnitID),
		zap.String("passFlag", string(cp.PassFlag)))
	return cp, nil
}

// Finalize 定稿：全部单元都有结论后，有任一不通过则退回，
// 否则评为 graded。通过单元的结论在退回后保留，重交只针对失败单元。
func (s *GradingService) Finalize(ctx context.Context, teacherID, assignmentID uint, req FinalizeRequest) (*model.AssignmentInstance, error) {
	inst, err := s.AssignmentRepo.FindByID(assignmentID)
	if err != nil {
		return nil, err
	}
	if inst.TeacherID != teacherID {
		return nil, util.ErrPermissionDenied
	}
	if !inst.Status.Reviewable() {
		return nil, util.NewStateConflict(inst.Status, model.StatusGraded)
	}

	progresses, err := s.ProgressRepo.ListContentProgress(assignmentID)
	if err != nil {
		return nil, err
	}

	allReviewed, anyFail := ReviewOutcome(progresses)
	if !allReviewed {
		return nil, util.ErrReviewIncomplete
	}

	total := AggregateScore(progresses, req.ScoreOverride)
	now := time.Now()

	if anyFail {
		if err := s.AssignmentRepo.TransitionStatus(nil, assignmentID, inst.Status, model.StatusReturned,
			map[string]interface{}{
				"feedback": req.Feedback,
			}); err != nil {
			return nil, err
		}
		logger.Log.Info("assignment returned",
			zap.Uint("assignmentId", assignmentID),
			zap.Uint("teacherId", teacherID))
	} else {
		extra := map[string]interface{}{
			"total_score": total,
			"feedback":    req.Feedback,
			"graded_at":   &now,
		}
		if req.ScoreOverride != nil {
			extra["score_override"] = req.ScoreOverride
		}
		if err := s.AssignmentRepo.TransitionStatus(nil, assignmentID, inst.Status, model.StatusGraded, extra); err != nil {
			return nil, err
		}
		logger.Log.Info("assignment graded",
			zap.Uint("assignmentId", assignmentID),
			zap.Float64("totalScore", total))
	}

	if s.Assignments != nil {
		s.Assignments.invalidateProjection(ctx, assignmentID)
	}
	return s.AssignmentRepo.FindByID(assignmentID)
}

// UnitScore 单元得分：条目最新成功评分的均值，没有已评分条目时为 0
func UnitScore(items []model.ItemProgress) float64 {
	var sum float64
	var n int
	for _, it := range items {
		if it.AnalysisStatus == model.AnalysisAnalyzed {
			sum += it.OverallScore
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// ReviewOutcome 定稿前置判断：是否全部单元都有结论、是否存在不通过
func ReviewOutcome(progresses []model.ContentProgress) (allReviewed, anyFail bool) {
	allReviewed = true
	for _, cp := range progresses {
		switch cp.PassFlag {
		case model.PassUnset:
			allReviewed = false
		case model.PassFail:
			anyFail = true
		}
	}
	return allReviewed, anyFail
}

// AggregateScore 总分：单元得分均值，教师覆盖分优先
func AggregateScore(progresses []model.ContentProgress, override *float64) float64 {
	if override != nil {
		return *override
	}
	if len(progresses) == 0 {
		return 0
	}
	var sum float64
	for _, cp := range progresses {
		sum += cp.Score
	}
	return sum / float64(len(progresses))
}
