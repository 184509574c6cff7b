package service

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"time"

	"speakedu_backend/internal/config"
	"speakedu_backend/internal/model"
	"speakedu_backend/internal/repository"
	"speakedu_backend/internal/util"
	"speakedu_backend/pkg/logger"

	"go.uber.org/zap"
)

// RecordingService 录音接收：可用性校验、按内容寻址入库、触发分析。
type RecordingService struct {
	Storage        *StorageService
	ProgressRepo   *repository.ProgressRepository
	UnitRepo       *repository.ContentUnitRepository
	AssignmentRepo *repository.AssignmentRepository
	Analysis       *AnalysisService
	cfg            config.RecordingConfig
}

func NewRecordingService(storage *StorageService, progressRepo *repository.ProgressRepository,
	unitRepo *repository.ContentUnitRepository, assignmentRepo *repository.AssignmentRepository,
	analysis *AnalysisService, cfg config.RecordingConfig) *RecordingService {
	return &RecordingService{
		Storage:        storage,
		ProgressRepo:   progressRepo,
		UnitRepo:       unitRepo,
		AssignmentRepo: assignmentRepo,
		Analysis:       analysis,
		cfg:            cfg,
	}
}

type RecordingUpload struct {
	AssignmentID uint
	UnitItemID   uint
	// 客户端声明的原始分片累计字节数，用于可用性校验的双口径取大
	DeclaredRawBytes int64
	Payload          []byte
	ContentType      string
	AnalyzeNow       bool
}

var audioExtByType = map[string]string{
	"audio/webm": ".webm",
	"audio/wav":  ".wav",
	"audio/wave": ".wav",
	"audio/mpeg": ".mp3",
	"audio/mp4":  ".m4a",
	"audio/ogg":  ".ogg",
}

// SubmitRecording 接收一条录音并按捕获路径触发分析。
// 哈希未变且已评分的重复上传是 no-op，不触碰已存分数。
func (s *RecordingService) SubmitRecording(ctx context.Context, studentID uint, up RecordingUpload) (*model.ItemProgress, error) {
	inst, err := s.AssignmentRepo.FindByID(up.AssignmentID)
	if err != nil {
		return nil, err
	}
	if inst.StudentID != studentID {
		return nil, util.ErrPermissionDenied
	}

	switch inst.Status {
	case model.StatusNotStarted, model.StatusInProgress, model.StatusReturned:
	default:
		return nil, util.NewStateConflict(inst.Status, model.StatusInProgress)
	}

	if err := util.CheckRecordingViability(up.DeclaredRawBytes, int64(len(up.Payload)), s.cfg.MinBytes, s.cfg.MaxBytes); err != nil {
		return nil, err
	}

	unitItem, err := s.UnitRepo.FindItem(up.UnitItemID)
	if err != nil {
		return nil, err
	}
	unit, err := s.UnitRepo.FindByIDWithItems(unitItem.UnitID)
	if err != nil {
		return nil, err
	}
	if unit.AssignmentID != up.AssignmentID {
		return nil, util.ErrItemNotFound
	}

	// 被退回的作业只允许重录失败单元
	if inst.Status == model.StatusReturned {
		if err := s.ensureUnitReturned(up.AssignmentID, unit.ID); err != nil {
			return nil, err
		}
	}

	duration := s.probeDuration(up.Payload, up.ContentType)

	sum := sha256.Sum256(up.Payload)
	hash := hex.EncodeToString(sum[:])

	item, err := s.ProgressRepo.FindItemByUnitItem(up.AssignmentID, up.UnitItemID)
	if err != nil {
		return nil, err
	}
	if item != nil && item.AudioHash == hash && item.AnalysisStatus == model.AnalysisAnalyzed {
		return item, nil
	}

	ext := audioExtByType[up.ContentType]
	if ext == "" {
		ext = ".webm"
	}
	ref, err := s.Storage.UploadRecording(ctx, hash, ext, bytes.NewReader(up.Payload), int64(len(up.Payload)), up.ContentType)
	if err != nil {
		return nil, err
	}

	if item == nil {
		item = &model.ItemProgress{
			AssignmentID: up.AssignmentID,
			UnitID:       unit.ID,
			UnitItemID:   up.UnitItemID,
		}
	}
	// 提交前重录原地覆盖；提交后的旧评分由 SaveAnalyzed 转入修订记录
	item.AudioRef = ref
	item.AudioHash = hash
	item.AudioBytes = int64(len(up.Payload))
	item.Duration = duration
	item.AnalysisStatus = model.AnalysisRecorded
	item.Completed = false
	item.LastError = ""

	if item.ID == 0 {
		err = s.ProgressRepo.CreateItem(item)
	} else {
		err = s.ProgressRepo.SaveItem(item)
	}
	if err != nil {
		return nil, err
	}

	// 第一条录音把实例推进到 in_progress
	if inst.Status == model.StatusNotStarted {
		now := time.Now()
		if err := s.AssignmentRepo.TransitionStatus(nil, inst.ID, model.StatusNotStarted, model.StatusInProgress,
			map[string]interface{}{"started_at": &now}); err != nil && !util.IsStateConflict(err) {
			return nil, err
		}
	}

	o := s.Analysis.ForAssignment(up.AssignmentID)
	if err := o.OnRecordingCaptured(ctx, item.ID, up.AnalyzeNow); err != nil {
		// 阻塞分析的失败直接交给调用方呈现；录音本身已安全落库
		return item, err
	}

	return item, nil
}

func (s *RecordingService) ensureUnitReturned(assignmentID uint, unitID string) error {
	progresses, err := s.ProgressRepo.ListContentProgress(assignmentID)
	if err != nil {
		return err
	}
	for _, cp := range progresses {
		if cp.UnitID == unitID {
			if cp.PassFlag == model.PassFail {
				return nil
			}
			return util.ErrUnitNotReturned
		}
	}
	return util.ErrUnitNotFound
}

// probeDuration 尽力探测音频时长，探测失败不阻断上传
func (s *RecordingService) probeDuration(payload []byte, contentType string) float64 {
	if !s.cfg.ProbeAudio {
		return 0
	}
	ext := audioExtByType[contentType]
	if ext == "" {
		ext = ".webm"
	}
	tmp, err := os.CreateTemp("", "rec-*"+ext)
	if err != nil {
		return 0
	}
	path := tmp.Name()
	defer os.Remove(path)

	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		return 0
	}
	tmp.Close()

	info, err := util.ProbeAudio(filepath.Clean(path))
	if err != nil {
		logger.Log.Debug("audio probe failed", zap.Error(err))
		return 0
	}
	return info.Duration
}
