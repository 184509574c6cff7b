package model

import "time"

// PassFlag 教师批阅结论，三态建模避免 bool+null 的歧义
type PassFlag string

const (
	PassUnset PassFlag = "unset"
	PassOK    PassFlag = "pass"
	PassFail  PassFlag = "fail"
)

func (f PassFlag) Valid() bool {
	return f == PassUnset || f == PassOK || f == PassFail
}

// ContentProgress 单元粒度的作业进度，由分析编排器和批阅流程共同推进
// swagger:model ContentProgress
type ContentProgress struct {
	BaseModel
	AssignmentID uint   `gorm:"index;type:bigint unsigned" json:"assignmentId"`
	UnitID       string `gorm:"index;type:varchar(36)" json:"unitId"`

	Completed bool     `gorm:"default:false" json:"completed"`
	PassFlag  PassFlag `gorm:"size:10;default:'unset'" json:"passFlag"`
	Score     float64  `json:"score"`
	Feedback  string   `gorm:"type:text" json:"feedback"`

	// 预留：按顺序解锁单元
	Locked bool `gorm:"default:false" json:"locked"`

	ReviewedAt *time.Time `json:"reviewedAt,omitempty"`
	ReviewerID uint       `gorm:"type:bigint unsigned" json:"reviewerId"`
}

func (ContentProgress) TableName() string {
	return "content_progresses"
}
