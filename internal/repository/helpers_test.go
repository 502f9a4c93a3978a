package repository

import (
	"testing"

	"quizmark_backend/internal/model"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	// 内存库每个连接各自独立，只保留一个连接
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(
		&model.Quiz{},
		&model.Subject{},
		&model.Question{},
		&model.Answer{},
		&model.RosterEntry{},
		&model.AnalysisStatus{},
		&model.CheckboxOverride{},
		&model.AssociationAudit{},
	))
	return db
}

func seedQuiz(t *testing.T, repo *QuizRepository) *model.Quiz {
	t.Helper()
	quiz := &model.Quiz{Title: "Examen", State: model.QuizUnlocked, IDDigits: 8}
	require.NoError(t, repo.Create(quiz))
	return quiz
}

func points(v float64) *float64 { return &v }
