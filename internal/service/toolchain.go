package service

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"quizmark_backend/internal/config"
	"quizmark_backend/internal/util"
	"quizmark_backend/pkg/logger"
	"quizmark_backend/pkg/monitoring"
	"quizmark_backend/pkg/tracing"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// Toolchain 外部排版与识别工具链。所有方法在会话目录内运行，输出追加到 log。
type Toolchain interface {
	// RenderDocument 由 sujet.tex 生成题目 PDF 和答案 PDF
	RenderDocument(ctx context.Context, sessionDir string, log io.Writer) error
	// RasterizeCopies 将扫描件 PDF 转为 scans/page-*.png，返回页数
	RasterizeCopies(ctx context.Context, sessionDir, pdfPath string, log io.Writer) (int, error)
	// RunDetection 完整分析：布局、识别、评分、身份关联和成绩导出
	RunDetection(ctx context.Context, sessionDir string, threshold float64, log io.Writer) error
	// RunReconciliation 用当前阈值和人工修正重新评分、导出并生成批注副本
	RunReconciliation(ctx context.Context, sessionDir string, threshold float64, log io.Writer) error
}

// ToolchainError 某个步骤以非零状态退出
type ToolchainError struct {
	Step   string
	Err    error
	Output string
}

func (e *ToolchainError) Error() string {
	return fmt.Sprintf("toolchain step %s failed: %v", e.Step, e.Err)
}

func (e *ToolchainError) Unwrap() error {
	return e.Err
}

// CommandRunner 在 dir 中执行命令，标准输出和标准错误写入 out
type CommandRunner func(ctx context.Context, dir string, out io.Writer, name string, args ...string) error

func execRunner(ctx context.Context, dir string, out io.Writer, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	cmd.Stdout = out
	cmd.Stderr = out
	return cmd.Run()
}

// AMCToolchain 基于 auto-multiple-choice 命令行的实现
type AMCToolchain struct {
	mu     sync.RWMutex
	cfg    config.ToolchainConfig
	grade  config.AnalysisConfig
	Runner CommandRunner
}

func NewAMCToolchain(cfg config.ToolchainConfig, grade config.AnalysisConfig) *AMCToolchain {
	return &AMCToolchain{cfg: cfg, grade: grade, Runner: execRunner}
}

// Reload 配置热更新
func (t *AMCToolchain) Reload(cfg config.ToolchainConfig, grade config.AnalysisConfig) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cfg = cfg
	t.grade = grade
}

func (t *AMCToolchain) settings() (config.ToolchainConfig, config.AnalysisConfig) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.cfg, t.grade
}

const maxErrorOutput = 4096

func (t *AMCToolchain) run(ctx context.Context, step, dir string, log io.Writer, name string, args ...string) error {
	cfg, _ := t.settings()
	if cfg.TimeoutSeconds > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout())
		defer cancel()
	}

	ctx, span := tracing.StartSpan(ctx, "toolchain."+step, attribute.String("toolchain.step", step))
	var output bytes.Buffer
	w := io.Writer(&output)
	if log != nil {
		fmt.Fprintf(log, "$ %s %s\n", name, strings.Join(args, " "))
		w = io.MultiWriter(log, &output)
	}

	start := time.Now()
	err := t.Runner(ctx, dir, w, name, args...)
	elapsed := time.Since(start)

	outcome := "ok"
	if err != nil {
		outcome = "error"
		if ctx.Err() == context.DeadlineExceeded {
			err = fmt.Errorf("timed out after %s: %w", elapsed.Round(time.Second), err)
		}
		out := output.String()
		if len(out) > maxErrorOutput {
			out = out[len(out)-maxErrorOutput:]
		}
		err = &ToolchainError{Step: step, Err: err, Output: out}
		logger.Log.Error("Toolchain step failed",
			zap.String("step", step),
			zap.String("dir", dir),
			zap.Duration("elapsed", elapsed),
			zap.Error(err))
	} else {
		logger.Log.Debug("Toolchain step finished", zap.String("step", step), zap.Duration("elapsed", elapsed))
	}
	monitoring.ToolchainDuration.WithLabelValues(step, outcome).Observe(elapsed.Seconds())
	tracing.EndSpan(span, err)
	return err
}

func (t *AMCToolchain) amc(ctx context.Context, step, dir string, log io.Writer, args ...string) error {
	cfg, _ := t.settings()
	return t.run(ctx, step, dir, log, cfg.AMCBinary, append([]string{step}, args...)...)
}

func (t *AMCToolchain) prepare(ctx context.Context, dir, mode string, log io.Writer) error {
	cfg, _ := t.settings()
	return t.amc(ctx, "prepare", dir, log,
		"--mode", mode,
		util.SourceFile,
		"--out-sujet", util.SubjectPDF,
		"--out-corrige", util.CorrectionPDF,
		"--data", "./data/",
		"--out-calage", util.CalibrationFile,
		"--with", cfg.LatexEngine,
	)
}

func (t *AMCToolchain) RenderDocument(ctx context.Context, sessionDir string, log io.Writer) error {
	return t.prepare(ctx, sessionDir, "s", log)
}

func (t *AMCToolchain) RasterizeCopies(ctx context.Context, sessionDir, pdfPath string, log io.Writer) (int, error) {
	cfg, _ := t.settings()
	scans := filepath.Join(sessionDir, "scans")
	if err := os.MkdirAll(scans, 0755); err != nil {
		return 0, err
	}
	// 清除上一次上传留下的页面
	old, _ := filepath.Glob(filepath.Join(scans, util.ScanPagePattern))
	for _, p := range old {
		os.Remove(p)
	}

	abs, err := filepath.Abs(pdfPath)
	if err != nil {
		return 0, err
	}
	err = t.run(ctx, "rasterize", scans, log, cfg.PdftoppmBinary,
		"-png", "-r", strconv.Itoa(cfg.ScanResolution), abs, "page")
	if err != nil {
		return 0, err
	}
	pages, err := filepath.Glob(filepath.Join(scans, util.ScanPagePattern))
	if err != nil {
		return 0, err
	}
	return len(pages), nil
}

func (t *AMCToolchain) RunDetection(ctx context.Context, sessionDir string, threshold float64, log io.Writer) error {
	cfg, _ := t.settings()
	if err := t.prepare(ctx, sessionDir, "b", log); err != nil {
		return err
	}
	if err := t.amc(ctx, "meptex", sessionDir, log, "--src", util.CalibrationFile, "--data", "./data/"); err != nil {
		return err
	}

	pages, err := filepath.Glob(filepath.Join(sessionDir, "scans", util.ScanPagePattern))
	if err != nil {
		return err
	}
	args := []string{"--projet", "./", "--tol-marque", formatFloat(cfg.MarkTolerance)}
	for _, p := range pages {
		rel, err := filepath.Rel(sessionDir, p)
		if err != nil {
			rel = p
		}
		args = append(args, rel)
	}
	if err := t.amc(ctx, "analyse", sessionDir, log, args...); err != nil {
		return err
	}
	if err := t.note(ctx, sessionDir, threshold, log); err != nil {
		return err
	}
	if err := t.amc(ctx, "association-auto", sessionDir, log,
		"--data", "./data/",
		"--notes-id", "etu",
		"--liste", util.RosterFile,
		"--liste-key", "id",
	); err != nil {
		return err
	}
	return t.exportNotes(ctx, sessionDir, log)
}

func (t *AMCToolchain) RunReconciliation(ctx context.Context, sessionDir string, threshold float64, log io.Writer) error {
	if err := t.note(ctx, sessionDir, threshold, log); err != nil {
		return err
	}
	if err := t.exportNotes(ctx, sessionDir, log); err != nil {
		return err
	}
	return t.amc(ctx, "annotate", sessionDir, log,
		"--data", "./data/",
		"--subject", util.SubjectPDF,
		"--corrected", util.CorrectionPDF,
		"--names-file", util.RosterFile,
		"--position", "marges",
	)
}

func (t *AMCToolchain) note(ctx context.Context, dir string, threshold float64, log io.Writer) error {
	_, grade := t.settings()
	return t.amc(ctx, "note", dir, log,
		"--data", "./data/",
		"--seuil", formatFloat(threshold),
		"--grain", formatFloat(grade.Grain),
		"--arrondi", "s",
		"--notemin", formatFloat(grade.NoteMin),
		"--notemax", formatFloat(grade.NoteMax),
	)
}

func (t *AMCToolchain) exportNotes(ctx context.Context, dir string, log io.Writer) error {
	for _, target := range []struct{ module, file string }{
		{"ods", util.NotesODS},
		{"CSV", util.NotesCSV},
	} {
		if err := t.amc(ctx, "export", dir, log,
			"--data", "./data/",
			"--module", target.module,
			"--fich-noms", util.RosterFile,
			"--o", target.file,
			"--option-out", "stats",
			"--sort", "n",
			"--useall", "1",
		); err != nil {
			return err
		}
	}
	return nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
