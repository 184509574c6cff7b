package model

import "time"

type AssignmentStatus string

const (
	StatusNotStarted  AssignmentStatus = "not_started"
	StatusInProgress  AssignmentStatus = "in_progress"
	StatusSubmitted   AssignmentStatus = "submitted"
	StatusGraded      AssignmentStatus = "graded"
	StatusReturned    AssignmentStatus = "returned"
	StatusResubmitted AssignmentStatus = "resubmitted"
)

// assignmentTransitions 作业状态机的全部合法边。
// 主链单向推进，订正环 (graded|submitted)→returned→resubmitted→graded 可重复。
var assignmentTransitions = map[AssignmentStatus][]AssignmentStatus{
	StatusNotStarted:  {StatusInProgress},
	StatusInProgress:  {StatusSubmitted},
	StatusSubmitted:   {StatusGraded, StatusReturned},
	StatusGraded:      {StatusReturned},
	StatusReturned:    {StatusResubmitted},
	StatusResubmitted: {StatusGraded, StatusReturned},
}

func (s AssignmentStatus) CanTransition(to AssignmentStatus) bool {
	for _, t := range assignmentTransitions[s] {
		if t == to {
			return true
		}
	}
	return false
}

func (s AssignmentStatus) Valid() bool {
	switch s {
	case StatusNotStarted, StatusInProgress, StatusSubmitted, StatusGraded, StatusReturned, StatusResubmitted:
		return true
	}
	return false
}

// Submittable 学生端允许发起提交/重交的状态
func (s AssignmentStatus) Submittable() bool {
	return s == StatusInProgress || s == StatusReturned
}

// Reviewable 教师端允许批阅的状态
func (s AssignmentStatus) Reviewable() bool {
	return s == StatusSubmitted || s == StatusResubmitted
}

// ProtectsWork 一旦进入这些状态，学生的录音成果受保护，不允许撤销派发
func (s AssignmentStatus) ProtectsWork() bool {
	switch s {
	case StatusSubmitted, StatusGraded, StatusReturned, StatusResubmitted:
		return true
	}
	return false
}

// AssignmentInstance 学生名下的一份作业实例，状态由状态机独占推进。
// 不做物理删除，撤销派发走软删除以保留审计记录。
// swagger:model AssignmentInstance
type AssignmentInstance struct {
	BaseModel
	StudentID   uint `gorm:"index;type:bigint unsigned" json:"studentId"`
	TeacherID   uint `gorm:"index;type:bigint unsigned" json:"teacherId"`
	ClassroomID uint `gorm:"index;type:bigint unsigned" json:"classroomId"`

	Student *User `gorm:"foreignKey:StudentID" json:"student,omitempty"`

	Status        AssignmentStatus `gorm:"size:20;default:'not_started';index" json:"status"`
	TotalScore    float64          `json:"totalScore"`
	ScoreOverride *float64         `json:"scoreOverride,omitempty"`
	Feedback      string           `gorm:"type:text" json:"feedback"`

	StartDate *time.Time `json:"startDate,omitempty"`
	DueDate   *time.Time `json:"dueDate,omitempty"`

	AssignedAt  time.Time  `json:"assignedAt"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	SubmittedAt *time.Time `json:"submittedAt,omitempty"`
	GradedAt    *time.Time `json:"gradedAt,omitempty"`

	Units []ContentUnit `gorm:"foreignKey:AssignmentID" json:"units,omitempty"`
}

func (AssignmentInstance) TableName() string {
	return "assignment_instances"
}
