package grading

import (
	"fmt"
	"time"
)

type Status string

const (
	StatusIdle           Status = "idle"
	StatusCopiesUploaded Status = "copies_uploaded"
	StatusRunning        Status = "running"
	StatusCompleted      Status = "completed"
	StatusFailed         Status = "failed"
)

// State 一个试卷的分析流程状态，是判断操作是否合法的唯一依据
type State struct {
	Status         Status     `json:"status"`
	Threshold      float64    `json:"threshold"`
	LastError      *string    `json:"error,omitempty"`
	PageCount      int        `json:"pageCount"`
	StudentCount   int        `json:"studentCount"`
	UpdatedAt      *time.Time `json:"updatedAt"`
	RecalculatedAt *time.Time `json:"recalculatedAt,omitempty"`
}

func NewState() State {
	return State{Status: StatusIdle, Threshold: DefaultThreshold}
}

func refuse(s State, op string) error {
	return fmt.Errorf("%w: cannot %s while %s", ErrInvalidTransition, op, s.Status)
}

// CopiesUploaded 扫描件导入成功。运行中不允许重新导入；
// 失败或已完成后重新导入会回到 copies_uploaded，这是失败后重新分析的唯一入口。
func CopiesUploaded(s State, pages int, now time.Time) (State, error) {
	if s.Status == StatusRunning {
		return s, refuse(s, "upload copies")
	}
	s.Status = StatusCopiesUploaded
	s.PageCount = pages
	s.LastError = nil
	s.UpdatedAt = &now
	return s, nil
}

// StartAnalysis 请求分析：必须已有编译好的源文件和至少一张扫描图片
func StartAnalysis(s State, threshold float64, hasSource, hasScans bool, now time.Time) (State, error) {
	if s.Status != StatusIdle && s.Status != StatusCopiesUploaded {
		return s, refuse(s, "start analysis")
	}
	if err := ValidateThreshold(threshold); err != nil {
		return s, err
	}
	if !hasSource {
		return s, ErrDocumentMissing
	}
	if !hasScans {
		return s, ErrNoScans
	}
	s.Status = StatusRunning
	s.Threshold = threshold
	s.LastError = nil
	s.UpdatedAt = &now
	return s, nil
}

func Complete(s State, students int, now time.Time) (State, error) {
	if s.Status != StatusRunning {
		return s, refuse(s, "complete analysis")
	}
	s.Status = StatusCompleted
	s.StudentCount = students
	s.UpdatedAt = &now
	return s, nil
}

// Fail 记录失败原因，保留本次尝试的阈值
func Fail(s State, cause string, now time.Time) (State, error) {
	if s.Status != StatusRunning {
		return s, refuse(s, "fail analysis")
	}
	s.Status = StatusFailed
	s.LastError = &cause
	s.UpdatedAt = &now
	return s, nil
}

// Recalculate 只能在完整分析完成之后执行，状态保持 completed
func Recalculate(s State, now time.Time) (State, error) {
	if s.Status != StatusCompleted {
		return s, refuse(s, "recalculate")
	}
	s.UpdatedAt = &now
	recalculated := now
	s.RecalculatedAt = &recalculated
	return s, nil
}

// RosterUpdated 更新名单不改变状态
func RosterUpdated(s State, students int, now time.Time) State {
	s.StudentCount = students
	s.UpdatedAt = &now
	return s
}

// UpdateThreshold 人工调整阈值，只在分析完成后有意义
func UpdateThreshold(s State, threshold float64, now time.Time) (State, error) {
	if err := CanQueryDetections(s); err != nil {
		return s, err
	}
	if err := ValidateThreshold(threshold); err != nil {
		return s, err
	}
	s.Threshold = threshold
	s.UpdatedAt = &now
	return s, nil
}

func CanQueryDetections(s State) error {
	if s.Status != StatusCompleted {
		return fmt.Errorf("%w (status %s)", ErrAnalysisNotCompleted, s.Status)
	}
	return nil
}
