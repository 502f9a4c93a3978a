package service

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"quizmark_backend/internal/config"
	"quizmark_backend/internal/model"
	"quizmark_backend/internal/repository"
	"quizmark_backend/internal/util"
	"quizmark_backend/pkg/database"

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
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(database.Models()...))
	return db
}

// writeSQLite 模拟工具链写出的数据文件
func writeSQLite(path string, table interface{}, rows interface{}) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()
	if err := db.AutoMigrate(table); err != nil {
		return err
	}
	return db.Create(rows).Error
}

// fakeToolchain 在会话目录中写出与真实工具链相同位置的产物
type fakeToolchain struct {
	mu    sync.Mutex
	calls []string

	pages          int
	boxes          []model.BoxRow
	associations   []model.AssociationRow
	capture        []model.CapturePage
	renderErr      error
	detectionErr   error
	reconcileErr   error
	lastThreshold  float64
	notes          string
	correctionPDFs map[string]string
	afterDetection func()
}

func (f *fakeToolchain) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeToolchain) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeToolchain) RenderDocument(ctx context.Context, sessionDir string, log io.Writer) error {
	f.record("render")
	fmt.Fprintln(log, "rendering")
	if f.renderErr != nil {
		return f.renderErr
	}
	for _, name := range []string{util.SubjectPDF, util.CorrectionPDF} {
		if err := writeFile(filepath.Join(sessionDir, name), []byte("%PDF-1.4 "+name)); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeToolchain) RasterizeCopies(ctx context.Context, sessionDir, pdfPath string, log io.Writer) (int, error) {
	f.record("rasterize")
	for i := 1; i <= f.pages; i++ {
		p := filepath.Join(sessionDir, "scans", fmt.Sprintf("page-%d.png", i))
		if err := writeFile(p, []byte("png")); err != nil {
			return 0, err
		}
	}
	return f.pages, nil
}

func (f *fakeToolchain) RunDetection(ctx context.Context, sessionDir string, threshold float64, log io.Writer) error {
	f.record("detect")
	f.lastThreshold = threshold
	if f.detectionErr != nil {
		return f.detectionErr
	}
	data := filepath.Join(sessionDir, "data")
	if len(f.boxes) > 0 {
		if err := writeSQLite(filepath.Join(data, util.AnalysisDataFile), &model.BoxRow{}, f.boxes); err != nil {
			return err
		}
	}
	if len(f.associations) > 0 {
		if err := writeSQLite(filepath.Join(data, util.AssociationFile), &model.AssociationRow{}, f.associations); err != nil {
			return err
		}
	}
	if len(f.capture) > 0 {
		if err := writeSQLite(filepath.Join(data, util.CaptureFile), &model.CapturePage{}, f.capture); err != nil {
			return err
		}
	}
	if f.notes != "" {
		if err := writeFile(filepath.Join(sessionDir, util.NotesCSV), []byte(f.notes)); err != nil {
			return err
		}
	}
	if f.afterDetection != nil {
		f.afterDetection()
	}
	return nil
}

func (f *fakeToolchain) RunReconciliation(ctx context.Context, sessionDir string, threshold float64, log io.Writer) error {
	f.record("reconcile")
	f.lastThreshold = threshold
	if f.reconcileErr != nil {
		return f.reconcileErr
	}
	for name, content := range f.correctionPDFs {
		p := filepath.Join(sessionDir, "cr", "corrections", "pdf", name)
		if err := writeFile(p, []byte(content)); err != nil {
			return err
		}
	}
	return nil
}

type testEnv struct {
	db          *gorm.DB
	ws          *Workspace
	toolchain   *fakeToolchain
	locker      *LocalLocker
	quizRepo    *repository.QuizRepository
	rosterRepo  *repository.RosterRepository
	analysisRep *repository.AnalysisRepository
	quizzes     *QuizService
	compile     *CompileService
	analysis    *AnalysisService
	association *AssociationService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db := newTestDB(t)
	ws := NewWorkspace(t.TempDir())
	tc := &fakeToolchain{pages: 2}
	locker := NewLocalLocker()
	storage := &StorageService{Provider: &LocalStorageProvider{Config: &config.StorageConfig{LocalPath: t.TempDir()}}}
	analysisCfg := config.AnalysisConfig{DefaultThreshold: 0.5, LockTTLSeconds: 60}

	env := &testEnv{
		db:          db,
		ws:          ws,
		toolchain:   tc,
		locker:      locker,
		quizRepo:    repository.NewQuizRepository(db),
		rosterRepo:  repository.NewRosterRepository(db),
		analysisRep: repository.NewAnalysisRepository(db),
	}
	env.quizzes = NewQuizService(env.quizRepo, ws, storage)
	env.compile = NewCompileService(env.quizRepo, env.rosterRepo, ws, tc, storage, locker, time.Minute)
	env.analysis = NewAnalysisService(env.quizRepo, env.rosterRepo, env.analysisRep, ws, tc, storage, locker, analysisCfg)
	env.association = NewAssociationService(env.quizRepo, env.analysisRep, ws, locker, analysisCfg)
	return env
}

func strPtr(v string) *string    { return &v }
func floatPtr(v float64) *float64 { return &v }
func intPtr(v int) *int           { return &v }

// newQuizWithQuestion 创建试卷和一道单选题
func (e *testEnv) newQuizWithQuestion(t *testing.T) *model.Quiz {
	t.Helper()
	quiz, err := e.quizzes.CreateQuiz(1, QuizRequest{Title: strPtr("Examen")})
	require.NoError(t, err)
	_, err = e.quizzes.CreateQuestion(quiz.ID, QuestionRequest{
		Text: "Capitale de la France ?",
		Answers: []AnswerRequest{
			{Text: "Paris", Correct: true},
			{Text: "Lyon"},
		},
	})
	require.NoError(t, err)
	return quiz
}
