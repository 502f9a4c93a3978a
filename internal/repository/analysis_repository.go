package repository

import (
	"errors"
	"quizmark_backend/internal/grading"
	"quizmark_backend/internal/model"
	"quizmark_backend/internal/util"

	"gorm.io/gorm"
)

// TransitionFunc 根据当前状态计算下一个状态，返回错误时不写入
type TransitionFunc func(grading.State) (grading.State, error)

type AnalysisRepository struct {
	DB *gorm.DB
}

func NewAnalysisRepository(db *gorm.DB) *AnalysisRepository {
	return &AnalysisRepository{DB: db}
}

// Get 读取试卷的分析状态；尚无记录时返回 initial，不写库
func (r *AnalysisRepository) Get(quizID string, initial grading.State) (grading.State, error) {
	rec, err := r.load(r.DB, quizID, initial)
	if err != nil {
		return grading.State{}, err
	}
	return rec.State(), nil
}

func (r *AnalysisRepository) load(tx *gorm.DB, quizID string, initial grading.State) (*model.AnalysisStatus, error) {
	var rec model.AnalysisStatus
	err := tx.Where("quiz_id = ?", quizID).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		rec = model.AnalysisStatus{QuizID: quizID}
		rec.SetState(initial)
		return &rec, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// Transition 以比较交换方式执行一次状态迁移：两个并发请求从同一版本出发时只有一个能成功，
// 另一个得到 ErrConcurrentTransition 且状态不变。
func (r *AnalysisRepository) Transition(quizID string, initial grading.State, fn TransitionFunc) (grading.State, error) {
	var next grading.State
	err := r.DB.Transaction(func(tx *gorm.DB) error {
		var err error
		next, err = r.transition(tx, quizID, initial, fn)
		return err
	})
	return next, err
}

// UpdateReview 在同一事务中保存阈值和人工修正列表；overrides 为 nil 时保留原列表
func (r *AnalysisRepository) UpdateReview(quizID string, initial grading.State, fn TransitionFunc, overrides []grading.Override) (grading.State, error) {
	var next grading.State
	err := r.DB.Transaction(func(tx *gorm.DB) error {
		var err error
		next, err = r.transition(tx, quizID, initial, fn)
		if err != nil {
			return err
		}
		if overrides == nil {
			return nil
		}
		return replaceOverrides(tx, quizID, overrides)
	})
	return next, err
}

func (r *AnalysisRepository) transition(tx *gorm.DB, quizID string, initial grading.State, fn TransitionFunc) (grading.State, error) {
	rec, err := r.load(tx, quizID, initial)
	if err != nil {
		return grading.State{}, err
	}
	next, err := fn(rec.State())
	if err != nil {
		return grading.State{}, err
	}

	if rec.ID == 0 {
		rec.SetState(next)
		if err := tx.Create(rec).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return grading.State{}, util.ErrConcurrentTransition
			}
			return grading.State{}, err
		}
		return next, nil
	}

	if err := casUpdate(tx, rec, next); err != nil {
		return grading.State{}, err
	}
	return next, nil
}

// casUpdate 只有版本号未变时才写入
func casUpdate(tx *gorm.DB, rec *model.AnalysisStatus, next grading.State) error {
	res := tx.Model(&model.AnalysisStatus{}).
		Where("id = ? AND version = ?", rec.ID, rec.Version).
		Updates(map[string]interface{}{
			"status":            string(next.Status),
			"threshold":         next.Threshold,
			"last_error":        next.LastError,
			"page_count":        next.PageCount,
			"student_count":     next.StudentCount,
			"status_updated_at": next.UpdatedAt,
			"recalculated_at":   next.RecalculatedAt,
			"version":           gorm.Expr("version + 1"),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return util.ErrConcurrentTransition
	}
	return nil
}

func (r *AnalysisRepository) ListOverrides(quizID string) ([]grading.Override, error) {
	var rows []model.CheckboxOverride
	if err := r.DB.Where("quiz_id = ?", quizID).Order("position ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]grading.Override, len(rows))
	for i, row := range rows {
		out[i] = row.Override()
	}
	return out, nil
}

// ReplaceOverrides 整体替换修正列表，同一选框保留最后一次修正
func (r *AnalysisRepository) ReplaceOverrides(quizID string, overrides []grading.Override) error {
	return r.DB.Transaction(func(tx *gorm.DB) error {
		return replaceOverrides(tx, quizID, overrides)
	})
}

func replaceOverrides(tx *gorm.DB, quizID string, overrides []grading.Override) error {
	if err := tx.Where("quiz_id = ?", quizID).Delete(&model.CheckboxOverride{}).Error; err != nil {
		return err
	}
	deduped := grading.Dedupe(overrides)
	if len(deduped) == 0 {
		return nil
	}
	rows := make([]model.CheckboxOverride, len(deduped))
	for i, o := range deduped {
		rows[i] = model.CheckboxOverride{
			QuizID:   quizID,
			Student:  o.Student,
			Page:     o.Page,
			Checkbox: o.Checkbox,
			Checked:  o.Checked,
			Position: i + 1,
		}
	}
	return tx.Create(&rows).Error
}

// RecordAssociationAudit 记录一次身份修正
func (r *AnalysisRepository) RecordAssociationAudit(quizID string, userID uint, corrections []grading.AssociationCorrection) error {
	if len(corrections) == 0 {
		return nil
	}
	rows := make([]model.AssociationAudit, 0, len(corrections))
	for _, c := range corrections {
		rows = append(rows, model.AssociationAudit{
			QuizID:    quizID,
			Student:   *c.Student,
			Manual:    c.Manual,
			AppliedBy: userID,
		})
	}
	return r.DB.Create(&rows).Error
}

func (r *AnalysisRepository) ListAssociationAudit(quizID string) ([]model.AssociationAudit, error) {
	var rows []model.AssociationAudit
	err := r.DB.Where("quiz_id = ?", quizID).Order("id ASC").Find(&rows).Error
	return rows, err
}
