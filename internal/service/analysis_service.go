package service

import (
	"sync"
	"time"

	"speakedu_backend/internal/config"
	"speakedu_backend/internal/repository"
	"speakedu_backend/pkg/logger"
	"speakedu_backend/pkg/monitoring"

	"go.uber.org/zap"
)

// AnalysisService 编排器注册表：每个作业实例一个编排器，按实例持有与回收。
// 同时承担服务端回填扫描，兜住客户端重试丢失的迟到评分。
type AnalysisService struct {
	scorer         Scorer
	progressRepo   *repository.ProgressRepository
	assignmentRepo *repository.AssignmentRepository
	cfg            config.AnalysisConfig

	mu            sync.Mutex
	orchestrators map[uint]*Orchestrator
}

func NewAnalysisService(scorer Scorer, progressRepo *repository.ProgressRepository, assignmentRepo *repository.AssignmentRepository, cfg config.AnalysisConfig) *AnalysisService {
	return &AnalysisService{
		scorer:         scorer,
		progressRepo:   progressRepo,
		assignmentRepo: assignmentRepo,
		cfg:            cfg,
		orchestrators:  make(map[uint]*Orchestrator),
	}
}

// ForAssignment 取某实例的编排器，没有则创建
func (s *AnalysisService) ForAssignment(assignmentID uint) *Orchestrator {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orchestrators[assignmentID]
	if !ok {
		o = NewOrchestrator(assignmentID, s.scorer, s.progressRepo, s.cfg)
		s.orchestrators[assignmentID] = o
	}
	return o
}

// Discard 用户放弃作业会话：编排器出表，在途任务任其完成但不再被等待
func (s *AnalysisService) Discard(assignmentID uint) {
	s.mu.Lock()
	o, ok := s.orchestrators[assignmentID]
	if ok {
		delete(s.orchestrators, assignmentID)
	}
	s.mu.Unlock()
	if ok {
		o.Discard()
	}
}

// DropIdle 回收没有任何在途/待重试工作的编排器
func (s *AnalysisService) DropIdle() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, o := range s.orchestrators {
		if o.Idle() {
			delete(s.orchestrators, id)
		}
	}
}

// Shutdown 优雅停机：全部编排器出表，不等待在途任务
func (s *AnalysisService) Shutdown() {
	s.mu.Lock()
	all := s.orchestrators
	s.orchestrators = make(map[uint]*Orchestrator)
	s.mu.Unlock()
	for _, o := range all {
		o.Discard()
	}
}

// BackfillSweep 回填扫描：对进行中且久未更新的实例，重新驱动未评分条目。
// 最新成功结果为准，被取代的旧结果由 SaveAnalyzed 记录审计。
func (s *AnalysisService) BackfillSweep() error {
	stale, err := s.assignmentRepo.ListStaleInProgress(time.Now().Add(-5*time.Minute), 50)
	if err != nil {
		return err
	}

	for _, inst := range stale {
		items, err := s.progressRepo.AwaitingAnalysis(inst.ID, nil)
		if err != nil {
			logger.Log.Error("backfill scan failed", zap.Uint("assignmentId", inst.ID), zap.Error(err))
			continue
		}
		if len(items) == 0 {
			continue
		}

		o := s.ForAssignment(inst.ID)
		for _, item := range items {
			monitoring.AnalysisOutcomes.WithLabelValues("backfill", "scheduled").Inc()
			o.BackfillItem(item.ID)
		}
		logger.Log.Info("backfill scheduled",
			zap.Uint("assignmentId", inst.ID),
			zap.Int("items", len(items)))
	}
	return nil
}
