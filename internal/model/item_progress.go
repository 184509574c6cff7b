package model

import (
	"encoding/json"
	"time"
)

type AnalysisStatus string

const (
	AnalysisNotRecorded AnalysisStatus = "not_recorded"
	AnalysisRecorded    AnalysisStatus = "recorded"
	AnalysisAnalyzing   AnalysisStatus = "analyzing"
	AnalysisAnalyzed    AnalysisStatus = "analyzed"
	AnalysisFailed      AnalysisStatus = "failed"
)

// ScoreResult 远程语音评分服务返回的各维度得分
// swagger:model ScoreResult
type ScoreResult struct {
	Accuracy      float64 `json:"accuracy"`
	Fluency       float64 `json:"fluency"`
	Completeness  float64 `json:"completeness"`
	Pronunciation float64 `json:"pronunciation"`
	Overall       float64 `json:"overall"`
}

// ItemProgress 条目粒度的录音与评分记录。
// 提交前重录原地覆盖；提交后旧分数转入 ItemScoreRevision 仅追加保留。
// swagger:model ItemProgress
type ItemProgress struct {
	BaseModel
	AssignmentID uint   `gorm:"index;type:bigint unsigned" json:"assignmentId"`
	UnitID       string `gorm:"index;type:varchar(36)" json:"unitId"`
	UnitItemID   uint   `gorm:"index;type:bigint unsigned" json:"unitItemId"`

	AudioRef   string  `gorm:"size:500" json:"audioRef"`
	AudioHash  string  `gorm:"size:64" json:"audioHash"`
	AudioBytes int64   `json:"audioBytes"`
	Duration   float64 `json:"duration"`

	RawScore     json.RawMessage `gorm:"type:json" json:"rawScore,omitempty"`
	OverallScore float64         `json:"overallScore"`
	Completeness float64         `json:"completeness"`

	AnalysisStatus AnalysisStatus `gorm:"size:20;default:'not_recorded'" json:"analysisStatus"`
	AttemptCount   int            `json:"attemptCount"`
	LastError      string         `gorm:"size:500" json:"lastError,omitempty"`

	Completed  bool       `gorm:"default:false" json:"completed"`
	AnalyzedAt *time.Time `json:"analyzedAt,omitempty"`
}

func (ItemProgress) TableName() string {
	return "item_progresses"
}

// HasRecording 是否已有有效录音引用
func (p *ItemProgress) HasRecording() bool {
	return p.AudioRef != ""
}

// NeedsAnalysis 提交闸门视角：有录音但尚未拿到最终评分
func (p *ItemProgress) NeedsAnalysis() bool {
	return p.HasRecording() && p.AnalysisStatus != AnalysisAnalyzed
}

// ItemScoreRevision 提交后被覆盖的历史评分，仅追加，用于审计与回填仲裁
// swagger:model ItemScoreRevision
type ItemScoreRevision struct {
	BaseModel
	ItemProgressID uint            `gorm:"index;type:bigint unsigned" json:"itemProgressId"`
	AudioHash      string          `gorm:"size:64" json:"audioHash"`
	RawScore       json.RawMessage `gorm:"type:json" json:"rawScore"`
	OverallScore   float64         `json:"overallScore"`
	Source         string          `gorm:"size:20" json:"source"` // client_retry, backfill
	SupersededAt   time.Time       `json:"supersededAt"`
}

func (ItemScoreRevision) TableName() string {
	return "item_score_revisions"
}
