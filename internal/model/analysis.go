package model

import (
	"time"

	"quizmark_backend/internal/grading"
)

// AnalysisStatus 每个试卷一条，Version 用于状态迁移的比较交换
type AnalysisStatus struct {
	BaseModel
	QuizID          string     `gorm:"type:varchar(36);uniqueIndex;not null"`
	Status          string     `gorm:"size:20;not null"`
	Threshold       float64    `gorm:"not null"`
	LastError       *string    `gorm:"type:text"`
	PageCount       int        `gorm:"not null;default:0"`
	StudentCount    int        `gorm:"not null;default:0"`
	StatusUpdatedAt *time.Time
	RecalculatedAt  *time.Time
	Version         int `gorm:"not null;default:0"`
}

func (AnalysisStatus) TableName() string {
	return "analysis_statuses"
}

func (a *AnalysisStatus) State() grading.State {
	return grading.State{
		Status:         grading.Status(a.Status),
		Threshold:      a.Threshold,
		LastError:      a.LastError,
		PageCount:      a.PageCount,
		StudentCount:   a.StudentCount,
		UpdatedAt:      a.StatusUpdatedAt,
		RecalculatedAt: a.RecalculatedAt,
	}
}

func (a *AnalysisStatus) SetState(s grading.State) {
	a.Status = string(s.Status)
	a.Threshold = s.Threshold
	a.LastError = s.LastError
	a.PageCount = s.PageCount
	a.StudentCount = s.StudentCount
	a.StatusUpdatedAt = s.UpdatedAt
	a.RecalculatedAt = s.RecalculatedAt
}

// CheckboxOverride 人工修正，同一试卷内 (student, page, checkbox) 唯一
type CheckboxOverride struct {
	BaseModel
	QuizID   string `gorm:"type:varchar(36);not null;uniqueIndex:idx_override_key,priority:1"`
	Student  string `gorm:"size:32;not null;uniqueIndex:idx_override_key,priority:2"`
	Page     string `gorm:"size:32;not null;uniqueIndex:idx_override_key,priority:3"`
	Checkbox string `gorm:"size:32;not null;uniqueIndex:idx_override_key,priority:4"`
	Checked  bool   `gorm:"not null"`
	Position int    `gorm:"not null"`
}

func (CheckboxOverride) TableName() string {
	return "checkbox_overrides"
}

func (o CheckboxOverride) Override() grading.Override {
	return grading.Override{Student: o.Student, Page: o.Page, Checkbox: o.Checkbox, Checked: o.Checked}
}

// AssociationAudit 身份修正记录
type AssociationAudit struct {
	BaseModel
	QuizID    string  `gorm:"type:varchar(36);index;not null" json:"-"`
	Student   int     `gorm:"not null" json:"student"`
	Manual    *string `gorm:"size:64" json:"manual"`
	AppliedBy uint    `json:"appliedBy"`
}

func (AssociationAudit) TableName() string {
	return "association_corrections"
}
