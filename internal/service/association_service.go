package service

import (
	"context"
	"quizmark_backend/internal/config"
	"quizmark_backend/internal/grading"
	"quizmark_backend/internal/model"
	"quizmark_backend/internal/repository"
	"quizmark_backend/pkg/logger"
	"quizmark_backend/pkg/monitoring"

	"go.uber.org/zap"
)

// AssociationService 扫描副本与学生身份的对应关系
type AssociationService struct {
	QuizRepo     *repository.QuizRepository
	AnalysisRepo *repository.AnalysisRepository
	Workspace    *Workspace
	Locker       QuizLocker
	Analysis     config.AnalysisConfig
}

func NewAssociationService(quizRepo *repository.QuizRepository, analysisRepo *repository.AnalysisRepository,
	ws *Workspace, locker QuizLocker, cfg config.AnalysisConfig) *AssociationService {
	return &AssociationService{
		QuizRepo:     quizRepo,
		AnalysisRepo: analysisRepo,
		Workspace:    ws,
		Locker:       locker,
		Analysis:     cfg,
	}
}

type AssociationView struct {
	grading.Association
	Identity *string `json:"identity"`
}

func (s *AssociationService) List(ctx context.Context, quizID string) ([]AssociationView, error) {
	if _, err := s.QuizRepo.FindByID(quizID); err != nil {
		return nil, err
	}
	rows, err := repository.NewAMCDataRepository(s.Workspace.DataDir(quizID)).ListAssociations(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]AssociationView, len(rows))
	for i, a := range rows {
		out[i] = AssociationView{Association: a, Identity: a.Identity()}
	}
	return out, nil
}

// ApplyCorrections 写入人工身份并使相关学生的批注副本失效，返回刷新后的列表
func (s *AssociationService) ApplyCorrections(ctx context.Context, quizID string, userID uint, corrections []grading.AssociationCorrection) ([]AssociationView, error) {
	if err := grading.ValidateCorrections(corrections); err != nil {
		return nil, err
	}
	if _, err := s.QuizRepo.FindByID(quizID); err != nil {
		return nil, err
	}

	unlock, err := s.Locker.TryLock(ctx, quizID, s.Analysis.LockTTL())
	if err != nil {
		return nil, err
	}
	data := repository.NewAMCDataRepository(s.Workspace.DataDir(quizID))
	reconciler := &grading.AssociationReconciler{Associations: data, Capture: data}
	invalidated, err := reconciler.Apply(ctx, corrections)
	unlock()
	if err != nil {
		return nil, err
	}

	monitoring.AssociationInvalidations.Add(float64(len(invalidated)))
	log := logger.ForQuiz(quizID)
	if err := s.AnalysisRepo.RecordAssociationAudit(quizID, userID, corrections); err != nil {
		log.Warn("Failed to record association audit", zap.Error(err))
	}
	log.Info("Association corrections applied",
		zap.Int("corrections", len(corrections)),
		zap.Ints("invalidated", invalidated),
		zap.Uint("user_id", userID))
	return s.List(ctx, quizID)
}

func (s *AssociationService) History(quizID string) ([]model.AssociationAudit, error) {
	if _, err := s.QuizRepo.FindByID(quizID); err != nil {
		return nil, err
	}
	return s.AnalysisRepo.ListAssociationAudit(quizID)
}
