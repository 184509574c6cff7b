package util

import (
	"errors"
	"fmt"

	"speakedu_backend/internal/model"
)

var (
	ErrUserNotFound       = errors.New("用户不存在")
	ErrPermissionDenied   = errors.New("permission denied")
	ErrAssignmentNotFound = errors.New("assignment not found")
	ErrUnitNotFound       = errors.New("content unit not found")
	ErrItemNotFound       = errors.New("item not found")
	ErrSourceNotFound     = errors.New("source content definition not found")
	ErrRecordingTooSmall  = errors.New("recording below minimum size")
	ErrRecordingTooLarge  = errors.New("recording exceeds maximum size")
	ErrConfirmRequired    = errors.New("unassign requires confirmation for started work")
	ErrWorkProtected      = errors.New("assignment has submitted work and cannot be unassigned")
	ErrUnitNotReturned    = errors.New("unit was not returned for correction")
	ErrReviewIncomplete   = errors.New("all units must be reviewed before finalizing")
	ErrSessionDiscarded   = errors.New("analysis session discarded")
)

// StateConflictError 非法状态迁移，始终整体拒绝、不产生部分变更
type StateConflictError struct {
	From model.AssignmentStatus
	To   model.AssignmentStatus
}

func (e *StateConflictError) Error() string {
	return fmt.Sprintf("illegal assignment transition %s -> %s", e.From, e.To)
}

func NewStateConflict(from, to model.AssignmentStatus) error {
	return &StateConflictError{From: from, To: to}
}

func IsStateConflict(err error) bool {
	var sc *StateConflictError
	return errors.As(err, &sc)
}

// SubmissionBlockedError 提交闸门失败，携带全部未解决条目，供前端逐条提示
type SubmissionBlockedError struct {
	ItemIDs []uint
}

func (e *SubmissionBlockedError) Error() string {
	return fmt.Sprintf("submission blocked by %d unresolved items", len(e.ItemIDs))
}

func BlockedItems(err error) ([]uint, bool) {
	var sb *SubmissionBlockedError
	if errors.As(err, &sb) {
		return sb.ItemIDs, true
	}
	return nil, false
}

// 评分服务错误码，对应远端返回
const (
	ScoringCodeInvalidInput = "invalid_input"
	ScoringCodeUnavailable  = "service_unavailable"
	ScoringCodeTimeout      = "timeout"
)

// ScoringError 远程评分调用失败。Retryable 决定编排器是否计入退避重试。
type ScoringError struct {
	Code      string
	Retryable bool
	Err       error
}

func (e *ScoringError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("scoring %s: %v", e.Code, e.Err)
	}
	return "scoring " + e.Code
}

func (e *ScoringError) Unwrap() error {
	return e.Err
}

func NewScoringError(code string, err error) error {
	return &ScoringError{
		Code:      code,
		Retryable: code != ScoringCodeInvalidInput,
		Err:       err,
	}
}

// IsRetryable 瞬态错误在编排器内部重试，其余立即浮出
func IsRetryable(err error) bool {
	var se *ScoringError
	if errors.As(err, &se) {
		return se.Retryable
	}
	return false
}
