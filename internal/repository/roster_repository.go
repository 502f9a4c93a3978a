package repository

import (
	"quizmark_backend/internal/model"

	"gorm.io/gorm"
)

type RosterRepository struct {
	DB *gorm.DB
}

func NewRosterRepository(db *gorm.DB) *RosterRepository {
	return &RosterRepository{DB: db}
}

// Replace 用新的名单整体替换旧名单，保持传入顺序
func (r *RosterRepository) Replace(quizID string, entries []model.RosterEntry) error {
	return r.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("quiz_id = ?", quizID).Delete(&model.RosterEntry{}).Error; err != nil {
			return err
		}
		if len(entries) == 0 {
			return nil
		}
		for i := range entries {
			entries[i].ID = 0
			entries[i].QuizID = quizID
			entries[i].Position = i + 1
		}
		return tx.Create(&entries).Error
	})
}

func (r *RosterRepository) List(quizID string) ([]model.RosterEntry, error) {
	var entries []model.RosterEntry
	err := r.DB.Where("quiz_id = ?", quizID).Order("position ASC").Find(&entries).Error
	return entries, err
}

func (r *RosterRepository) Count(quizID string) (int64, error) {
	var n int64
	err := r.DB.Model(&model.RosterEntry{}).Where("quiz_id = ?", quizID).Count(&n).Error
	return n, err
}
