package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"quizmark_backend/internal/latex"
	"quizmark_backend/internal/model"
	"quizmark_backend/internal/repository"
	"quizmark_backend/internal/util"
	"quizmark_backend/pkg/logger"
	"time"

	"go.uber.org/zap"
)

// CompileService 生成 LaTeX 源文件并调用工具链排版
type CompileService struct {
	QuizRepo   *repository.QuizRepository
	RosterRepo *repository.RosterRepository
	Workspace  *Workspace
	Toolchain  Toolchain
	Storage    *StorageService
	Locker     QuizLocker
	LockTTL    time.Duration
}

func NewCompileService(quizRepo *repository.QuizRepository, rosterRepo *repository.RosterRepository, ws *Workspace,
	toolchain Toolchain, storage *StorageService, locker QuizLocker, lockTTL time.Duration) *CompileService {
	return &CompileService{
		QuizRepo:   quizRepo,
		RosterRepo: rosterRepo,
		Workspace:  ws,
		Toolchain:  toolchain,
		Storage:    storage,
		Locker:     locker,
		LockTTL:    lockTTL,
	}
}

// BuildMeta 试卷元数据转为编译参数
func BuildMeta(q *model.Quiz) latex.Meta {
	title := q.Title
	if title == "" {
		title = "Quiz"
	}
	return latex.Meta{
		Title:               title,
		Institution:         q.Institution,
		Instructions:        q.Instructions,
		Language:            q.Language,
		IDDigits:            q.IDDigits,
		RandomQuestionOrder: q.RandomQuestionOrder,
		RandomAnswerOrder:   q.RandomAnswerOrder,
	}
}

func toLatexSubjects(subjects []model.Subject) []latex.Subject {
	out := make([]latex.Subject, 0, len(subjects))
	for _, s := range subjects {
		ls := latex.Subject{ID: s.ID, Title: s.Title, SortOrder: s.SortOrder}
		for _, q := range s.Questions {
			lq := latex.Question{
				Number:               q.Number,
				Text:                 q.Text,
				Type:                 q.Type,
				Points:               q.Points,
				IllustrationFilename: q.IllustrationFilename,
				IllustrationWidth:    q.IllustrationWidth,
				NumberOfLines:        q.NumberOfLines,
			}
			for _, a := range q.Answers {
				lq.Answers = append(lq.Answers, latex.Answer{Text: a.Text, Correct: a.Correct})
			}
			ls.Questions = append(ls.Questions, lq)
		}
		out = append(out, ls)
	}
	return out
}

// GenerateSource 生成 sujet.tex，写入试卷目录和会话目录
func (s *CompileService) GenerateSource(ctx context.Context, quizID string) (string, error) {
	quiz, err := s.QuizRepo.FindByID(quizID)
	if err != nil {
		return "", err
	}
	subjects, err := s.QuizRepo.ListSubjects(quizID)
	if err != nil {
		return "", err
	}
	total := 0
	for _, sub := range subjects {
		total += len(sub.Questions)
	}
	if total == 0 {
		return "", util.ErrNoQuestions
	}

	source, err := latex.Compile(BuildMeta(quiz), toLatexSubjects(subjects))
	if err != nil {
		return "", err
	}
	if err := s.Workspace.EnsureSession(quizID); err != nil {
		return "", err
	}
	for _, dst := range []string{
		filepath.Join(s.Workspace.QuizDir(quizID), util.SourceFile),
		s.Workspace.SessionFile(quizID, util.SourceFile),
	} {
		if err := writeFile(dst, []byte(source)); err != nil {
			return "", fmt.Errorf("write source: %w", err)
		}
	}
	s.Storage.Archive(ctx, quizID, s.Workspace.SessionFile(quizID, util.SourceFile), util.MimeTeX)

	logger.ForQuiz(quizID).Info("LaTeX source generated",
		zap.Int("subjects", len(subjects)),
		zap.Int("questions", total))
	return source, nil
}

// Source 读取已生成的源文件
func (s *CompileService) Source(quizID string) (string, error) {
	data, err := os.ReadFile(s.Workspace.SessionFile(quizID, util.SourceFile))
	if errors.Is(err, os.ErrNotExist) {
		return "", util.ErrDataUnavailable
	}
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Compile 排版生成题目和答案 PDF
func (s *CompileService) Compile(ctx context.Context, quizID string) error {
	if _, err := s.QuizRepo.FindByID(quizID); err != nil {
		return err
	}
	unlock, err := s.Locker.TryLock(ctx, quizID, s.LockTTL)
	if err != nil {
		return err
	}
	defer unlock()

	if !s.Workspace.HasSource(quizID) {
		return util.ErrDocumentMissing
	}
	if err := s.prepareSession(quizID); err != nil {
		return err
	}

	logFile, err := os.OpenFile(s.Workspace.SessionFile(quizID, util.CompileLogFile), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	defer logFile.Close()
	fmt.Fprintf(logFile, "=== compile %s ===\n", time.Now().Format(time.RFC3339))

	log := logger.ForQuiz(quizID)
	if err := s.Toolchain.RenderDocument(ctx, s.Workspace.SessionDir(quizID), logFile); err != nil {
		log.Warn("Document rendering failed", zap.Error(err))
		return err
	}
	for _, name := range []string{util.SubjectPDF, util.CorrectionPDF} {
		s.Storage.Archive(ctx, quizID, s.Workspace.SessionFile(quizID, name), util.MimePDF)
	}
	log.Info("Document compiled")
	return nil
}

// prepareSession 名单和插图复制到会话目录，排版时需要
func (s *CompileService) prepareSession(quizID string) error {
	entries, err := s.RosterRepo.List(quizID)
	if err != nil {
		return err
	}
	roster, err := encodeRoster(entries)
	if err != nil {
		return err
	}
	if err := writeFile(s.Workspace.SessionFile(quizID, util.RosterFile), roster); err != nil {
		return err
	}

	src := s.Workspace.IllustrationsDir(quizID)
	files, err := os.ReadDir(src)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	dst := filepath.Join(s.Workspace.SessionDir(quizID), latex.IllustrationDir)
	for _, f := range files {
		if f.IsDir() {
			continue
		}
		if err := copyFile(filepath.Join(src, f.Name()), filepath.Join(dst, f.Name())); err != nil {
			return err
		}
	}
	return nil
}

// Logs 排版日志，不存在时为空
func (s *CompileService) Logs(quizID string) (string, error) {
	data, err := os.ReadFile(s.Workspace.SessionFile(quizID, util.CompileLogFile))
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// ExportPath 可下载产物在会话目录中的路径
func (s *CompileService) ExportPath(quizID, name string) (string, error) {
	file, ok := util.ExportableFiles[name]
	if !ok {
		return "", fmt.Errorf("%w: %q is not exportable", util.ErrInvalidFile, name)
	}
	p := s.Workspace.SessionFile(quizID, file)
	if !fileExists(p) {
		return "", util.ErrDataUnavailable
	}
	return p, nil
}
