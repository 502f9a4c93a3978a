package service

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"quizmark_backend/internal/config"
	"quizmark_backend/internal/grading"
	"quizmark_backend/internal/model"
	"quizmark_backend/internal/repository"
	"quizmark_backend/internal/util"
	"quizmark_backend/pkg/logger"
	"quizmark_backend/pkg/monitoring"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// AnalysisService 扫描件导入、识别分析、人工复核和重新评分
type AnalysisService struct {
	QuizRepo     *repository.QuizRepository
	RosterRepo   *repository.RosterRepository
	AnalysisRepo *repository.AnalysisRepository
	Workspace    *Workspace
	Toolchain    Toolchain
	Storage      *StorageService
	Locker       QuizLocker
	Hub          *StatusHub // 可为空
	Now          func() time.Time

	mu       sync.RWMutex
	settings config.AnalysisConfig
}

func NewAnalysisService(quizRepo *repository.QuizRepository, rosterRepo *repository.RosterRepository,
	analysisRepo *repository.AnalysisRepository, ws *Workspace, toolchain Toolchain, storage *StorageService,
	locker QuizLocker, cfg config.AnalysisConfig) *AnalysisService {
	return &AnalysisService{
		QuizRepo:     quizRepo,
		RosterRepo:   rosterRepo,
		AnalysisRepo: analysisRepo,
		Workspace:    ws,
		Toolchain:    toolchain,
		Storage:      storage,
		Locker:       locker,
		Now:          time.Now,
		settings:     cfg,
	}
}

// Reload 配置热更新，只影响之后的请求
func (s *AnalysisService) Reload(cfg config.AnalysisConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings = cfg
}

func (s *AnalysisService) config() config.AnalysisConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings
}

// initial 尚无记录的试卷视为 idle，阈值取配置默认值
func (s *AnalysisService) initial() grading.State {
	st := grading.NewState()
	if th := s.config().DefaultThreshold; grading.ValidateThreshold(th) == nil && th > 0 {
		st.Threshold = th
	}
	return st
}

func (s *AnalysisService) lock(ctx context.Context, quizID string) (func(), error) {
	return s.Locker.TryLock(ctx, quizID, s.config().LockTTL())
}

func (s *AnalysisService) transition(quizID string, fn repository.TransitionFunc) (grading.State, error) {
	next, err := s.AnalysisRepo.Transition(quizID, s.initial(), fn)
	if err != nil {
		return next, err
	}
	monitoring.AnalysisTransitions.WithLabelValues(string(next.Status)).Inc()
	s.publish(quizID, next)
	return next, nil
}

func (s *AnalysisService) publish(quizID string, st grading.State) {
	if s.Hub != nil {
		s.Hub.Publish(quizID, st)
	}
}

func (s *AnalysisService) Status(quizID string) (grading.State, error) {
	if _, err := s.QuizRepo.FindByID(quizID); err != nil {
		return grading.State{}, err
	}
	return s.AnalysisRepo.Get(quizID, s.initial())
}

// UploadCopies 保存学生答卷 PDF 并栅格化为扫描页
func (s *AnalysisService) UploadCopies(ctx context.Context, quizID, filename string, r io.Reader) (grading.State, error) {
	if !strings.EqualFold(filepath.Ext(filename), ".pdf") {
		return grading.State{}, fmt.Errorf("%w: copies must be a PDF", util.ErrInvalidFile)
	}
	if _, err := s.QuizRepo.FindByID(quizID); err != nil {
		return grading.State{}, err
	}
	// 先检查状态，避免运行中覆盖扫描页
	current, err := s.AnalysisRepo.Get(quizID, s.initial())
	if err != nil {
		return grading.State{}, err
	}
	if _, err := grading.CopiesUploaded(current, 0, s.Now()); err != nil {
		return current, err
	}

	unlock, err := s.lock(ctx, quizID)
	if err != nil {
		return current, err
	}
	defer unlock()

	if err := s.Workspace.EnsureSession(quizID); err != nil {
		return current, err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return current, err
	}
	dst := s.Workspace.SessionFile(quizID, util.UploadedCopies)
	if err := writeFile(dst, data); err != nil {
		return current, err
	}

	log := logger.ForQuiz(quizID)
	pages, err := s.Toolchain.RasterizeCopies(ctx, s.Workspace.SessionDir(quizID), dst, io.Discard)
	if err != nil {
		log.Warn("Rasterizing copies failed", zap.Error(err))
		return current, err
	}
	next, err := s.transition(quizID, func(st grading.State) (grading.State, error) {
		return grading.CopiesUploaded(st, pages, s.Now())
	})
	if err != nil {
		return current, err
	}
	s.Storage.Archive(ctx, quizID, dst, util.MimePDF)
	log.Info("Student copies uploaded", zap.Int("pages", pages), zap.Int("bytes", len(data)))
	return next, nil
}

// RosterRequest 名单中的一行，id 可以是数字
type RosterRequest struct {
	ID        util.FlexString `json:"id"`
	LastName  string          `json:"nom"`
	FirstName string          `json:"prenom"`
	Email     string          `json:"email"`
}

// UpdateRoster 整体替换名单并写出 list.csv
func (s *AnalysisService) UpdateRoster(ctx context.Context, quizID string, rows []RosterRequest) ([]model.RosterEntry, error) {
	entries := make([]model.RosterEntry, 0, len(rows))
	seen := make(map[string]bool, len(rows))
	for i, row := range rows {
		id := strings.TrimSpace(row.ID.String())
		if id == "" {
			return nil, fmt.Errorf("%w: entry %d has no id", util.ErrInvalidRoster, i)
		}
		if seen[id] {
			return nil, fmt.Errorf("%w: duplicate id %s", util.ErrInvalidRoster, id)
		}
		seen[id] = true
		entries = append(entries, model.RosterEntry{
			QuizID:    quizID,
			StudentID: id,
			LastName:  strings.TrimSpace(row.LastName),
			FirstName: strings.TrimSpace(row.FirstName),
			Email:     strings.TrimSpace(row.Email),
		})
	}
	if _, err := s.QuizRepo.FindByID(quizID); err != nil {
		return nil, err
	}
	if err := s.RosterRepo.Replace(quizID, entries); err != nil {
		return nil, err
	}

	csvData, err := encodeRoster(entries)
	if err != nil {
		return nil, err
	}
	for _, dst := range []string{
		filepath.Join(s.Workspace.QuizDir(quizID), util.RosterFile),
		s.Workspace.SessionFile(quizID, util.RosterFile),
	} {
		if err := writeFile(dst, csvData); err != nil {
			return nil, err
		}
	}
	if _, err := s.transition(quizID, func(st grading.State) (grading.State, error) {
		return grading.RosterUpdated(st, len(entries), s.Now()), nil
	}); err != nil {
		return nil, err
	}
	logger.ForQuiz(quizID).Info("Roster updated", zap.Int("students", len(entries)))
	return s.RosterRepo.List(quizID)
}

func (s *AnalysisService) Roster(quizID string) ([]model.RosterEntry, error) {
	if _, err := s.QuizRepo.FindByID(quizID); err != nil {
		return nil, err
	}
	return s.RosterRepo.List(quizID)
}

// RunAnalysis 同步执行完整识别流程；threshold 为 nil 时使用配置默认值
func (s *AnalysisService) RunAnalysis(ctx context.Context, quizID string, threshold *float64) (grading.State, error) {
	if _, err := s.QuizRepo.FindByID(quizID); err != nil {
		return grading.State{}, err
	}
	th := s.initial().Threshold
	if threshold != nil {
		th = *threshold
	}

	unlock, err := s.lock(ctx, quizID)
	if err != nil {
		return grading.State{}, err
	}
	defer unlock()

	pages, err := s.Workspace.ScanPages(quizID)
	if err != nil {
		return grading.State{}, err
	}
	hasSource := s.Workspace.HasSource(quizID)
	running, err := s.transition(quizID, func(st grading.State) (grading.State, error) {
		return grading.StartAnalysis(st, th, hasSource, len(pages) > 0, s.Now())
	})
	if err != nil {
		return grading.State{}, err
	}

	log := logger.ForQuiz(quizID)
	log.Info("Analysis started", zap.Float64("threshold", th), zap.Int("pages", len(pages)))

	// 请求断开后仍需把状态推进到终态
	bg := context.WithoutCancel(ctx)
	start := s.Now()
	if err := s.Toolchain.RunDetection(bg, s.Workspace.SessionDir(quizID), running.Threshold, io.Discard); err != nil {
		return s.fail(quizID, running, err)
	}

	students, err := s.RosterRepo.Count(quizID)
	if err != nil {
		return s.fail(quizID, running, err)
	}
	done, err := s.transition(quizID, func(st grading.State) (grading.State, error) {
		return grading.Complete(st, int(students), s.Now())
	})
	if err != nil {
		return s.fail(quizID, running, err)
	}
	log.Info("Analysis completed", zap.Duration("elapsed", s.Now().Sub(start)))
	return done, nil
}

// fail 将 running 推进到 failed；记录失败本身出错时返回 running
func (s *AnalysisService) fail(quizID string, running grading.State, cause error) (grading.State, error) {
	log := logger.ForQuiz(quizID)
	log.Warn("Analysis failed", zap.Error(cause))
	failed, err := s.transition(quizID, func(st grading.State) (grading.State, error) {
		return grading.Fail(st, cause.Error(), s.Now())
	})
	if err != nil {
		log.Error("Failed to record analysis failure", zap.Error(err))
		return running, cause
	}
	return failed, cause
}

// CheckboxReport 复核视图：按当前阈值分类并合并人工修正
type CheckboxReport struct {
	Checked   []grading.BoxEntry `json:"checked"`
	Unchecked []grading.BoxEntry `json:"unchecked"`
	Threshold float64            `json:"threshold"`
	Overrides []grading.Override `json:"overrides"`
}

func (s *AnalysisService) dataRepo(quizID string) *repository.AMCDataRepository {
	return repository.NewAMCDataRepository(s.Workspace.DataDir(quizID))
}

func (s *AnalysisService) GetCheckboxes(ctx context.Context, quizID string) (*CheckboxReport, error) {
	st, err := s.Status(quizID)
	if err != nil {
		return nil, err
	}
	if err := grading.CanQueryDetections(st); err != nil {
		return nil, err
	}
	rows, err := s.dataRepo(quizID).LoadDetections(ctx)
	if err != nil {
		return nil, err
	}
	overrides, err := s.AnalysisRepo.ListOverrides(quizID)
	if err != nil {
		return nil, err
	}
	merged := grading.Reconcile(grading.ClassifyDetections(rows, st.Threshold), overrides)
	return &CheckboxReport{
		Checked:   merged.Checked,
		Unchecked: merged.Unchecked,
		Threshold: st.Threshold,
		Overrides: overrides,
	}, nil
}

type OverrideRequest struct {
	Student  util.FlexString `json:"student"`
	Page     util.FlexString `json:"page"`
	Checkbox util.FlexString `json:"checkbox"`
	Checked  bool            `json:"checked"`
}

// CheckboxUpdate Overrides 为 nil 表示不修改，空列表表示清空
type CheckboxUpdate struct {
	Threshold *float64          `json:"threshold"`
	Overrides []OverrideRequest `json:"overrides"`
}

// UpdateCheckboxes 保存阈值和人工修正，两者在同一事务中生效
func (s *AnalysisService) UpdateCheckboxes(ctx context.Context, quizID string, req CheckboxUpdate) (*CheckboxReport, error) {
	var overrides []grading.Override
	if req.Overrides != nil {
		raw := make([]grading.Override, len(req.Overrides))
		for i, o := range req.Overrides {
			raw[i] = grading.Override{
				Student:  o.Student.String(),
				Page:     o.Page.String(),
				Checkbox: o.Checkbox.String(),
				Checked:  o.Checked,
			}
		}
		normalized, err := grading.NormalizeOverrides(raw)
		if err != nil {
			return nil, err
		}
		overrides = normalized
	}
	if req.Threshold != nil {
		if err := grading.ValidateThreshold(*req.Threshold); err != nil {
			return nil, err
		}
	}
	current, err := s.Status(quizID)
	if err != nil {
		return nil, err
	}
	// 先看状态再看数据文件，未完成时统一返回冲突
	if err := grading.CanQueryDetections(current); err != nil {
		return nil, err
	}
	if !s.dataRepo(quizID).HasDetections() {
		return nil, util.ErrDataUnavailable
	}

	next, err := s.AnalysisRepo.UpdateReview(quizID, s.initial(), func(st grading.State) (grading.State, error) {
		if req.Threshold == nil {
			return st, grading.CanQueryDetections(st)
		}
		return grading.UpdateThreshold(st, *req.Threshold, s.Now())
	}, overrides)
	if err != nil {
		return nil, err
	}
	if req.Threshold != nil {
		s.publish(quizID, next)
	}
	if overrides != nil {
		monitoring.OverridesApplied.Add(float64(len(grading.Dedupe(overrides))))
	}
	logger.ForQuiz(quizID).Info("Checkbox review updated",
		zap.Bool("threshold_changed", req.Threshold != nil),
		zap.Int("overrides", len(overrides)))
	return s.GetCheckboxes(ctx, quizID)
}

// Recalculate 用当前阈值重新评分并生成批注副本；工具链失败时状态不变
func (s *AnalysisService) Recalculate(ctx context.Context, quizID string) (grading.State, error) {
	current, err := s.Status(quizID)
	if err != nil {
		return grading.State{}, err
	}
	if _, err := grading.Recalculate(current, s.Now()); err != nil {
		return current, err
	}

	unlock, err := s.lock(ctx, quizID)
	if err != nil {
		return current, err
	}
	defer unlock()

	log := logger.ForQuiz(quizID)
	if err := s.Toolchain.RunReconciliation(context.WithoutCancel(ctx), s.Workspace.SessionDir(quizID), current.Threshold, io.Discard); err != nil {
		log.Warn("Recalculation failed", zap.Error(err))
		return current, err
	}
	next, err := s.transition(quizID, func(st grading.State) (grading.State, error) {
		return grading.Recalculate(st, s.Now())
	})
	if err != nil {
		return current, err
	}
	for _, name := range []string{util.NotesCSV, util.NotesODS} {
		s.Storage.Archive(ctx, quizID, s.Workspace.SessionFile(quizID, name), util.MimeOctetStream)
	}
	log.Info("Grades recalculated", zap.Float64("threshold", next.Threshold))
	return next, nil
}

// Notes 读取导出的成绩表
func (s *AnalysisService) Notes(quizID string) ([]map[string]string, error) {
	if _, err := s.QuizRepo.FindByID(quizID); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.Workspace.SessionFile(quizID, util.NotesCSV))
	if errors.Is(err, os.ErrNotExist) {
		return nil, util.ErrDataUnavailable
	}
	if err != nil {
		return nil, err
	}
	return decodeCSV(data)
}

// NotesFile 成绩表文件路径，format 为 csv 或 ods
func (s *AnalysisService) NotesFile(quizID, format string) (string, error) {
	name := util.NotesCSV
	switch strings.ToLower(format) {
	case "", "csv":
	case "ods":
		name = util.NotesODS
	default:
		return "", fmt.Errorf("%w: unknown format %q", util.ErrInvalidFile, format)
	}
	p := s.Workspace.SessionFile(quizID, name)
	if !fileExists(p) {
		return "", util.ErrDataUnavailable
	}
	return p, nil
}

type PageImage struct {
	Student string `json:"student"`
	Page    string `json:"page"`
	Image   string `json:"image"`
}

// PageImage 返回批注后的页面图片，base64 编码
func (s *AnalysisService) PageImage(quizID, student, page string) (*PageImage, error) {
	p, err := s.Workspace.PageImagePath(quizID, student, page)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, os.ErrNotExist) {
		return nil, util.ErrDataUnavailable
	}
	if err != nil {
		return nil, err
	}
	return &PageImage{Student: student, Page: page, Image: base64.StdEncoding.EncodeToString(data)}, nil
}

// CorrectionsArchive 所有批注副本打包为 zip，文件按名称排序
func (s *AnalysisService) CorrectionsArchive(quizID string) ([]byte, error) {
	files, err := filepath.Glob(filepath.Join(s.Workspace.CorrectionsDir(quizID), "*.pdf"))
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, util.ErrDataUnavailable
	}
	sort.Strings(files)

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			return nil, err
		}
		w, err := zw.Create(filepath.Base(f))
		if err != nil {
			return nil, err
		}
		if _, err := w.Write(data); err != nil {
			return nil, err
		}
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
