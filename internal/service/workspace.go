package service

import (
	"fmt"
	"os"
	"path/filepath"
	"quizmark_backend/internal/latex"
	"quizmark_backend/internal/util"
	"sort"
	"strings"
)

// Workspace 试卷工作目录布局：
//
//	<root>/<quiz>/                 sujet.tex, list.csv, illustrations/
//	<root>/<quiz>/amc_session/     工具链会话目录（data/, scans/, cr/, 导出文件）
type Workspace struct {
	Root string
}

func NewWorkspace(root string) *Workspace {
	return &Workspace{Root: root}
}

func (w *Workspace) QuizDir(quizID string) string {
	return filepath.Join(w.Root, filepath.Base(quizID))
}

func (w *Workspace) SessionDir(quizID string) string {
	return filepath.Join(w.QuizDir(quizID), "amc_session")
}

func (w *Workspace) DataDir(quizID string) string {
	return filepath.Join(w.SessionDir(quizID), "data")
}

func (w *Workspace) ScansDir(quizID string) string {
	return filepath.Join(w.SessionDir(quizID), "scans")
}

func (w *Workspace) ReportsDir(quizID string) string {
	return filepath.Join(w.SessionDir(quizID), "cr")
}

func (w *Workspace) IllustrationsDir(quizID string) string {
	return filepath.Join(w.QuizDir(quizID), latex.IllustrationDir)
}

// EnsureSession 创建会话目录及其子目录
func (w *Workspace) EnsureSession(quizID string) error {
	for _, dir := range []string{
		w.IllustrationsDir(quizID),
		w.DataDir(quizID),
		w.ScansDir(quizID),
		w.ReportsDir(quizID),
	} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}

func (w *Workspace) SessionFile(quizID, name string) string {
	return filepath.Join(w.SessionDir(quizID), name)
}

func (w *Workspace) HasSource(quizID string) bool {
	return fileExists(w.SessionFile(quizID, util.SourceFile))
}

// ScanPages 已栅格化的扫描页，按文件名排序
func (w *Workspace) ScanPages(quizID string) ([]string, error) {
	pages, err := filepath.Glob(filepath.Join(w.ScansDir(quizID), util.ScanPagePattern))
	if err != nil {
		return nil, err
	}
	sort.Strings(pages)
	return pages, nil
}

// PageImagePath 学生某页批注图片的位置；参数只允许简单名称
func (w *Workspace) PageImagePath(quizID, student, page string) (string, error) {
	if !safeName(student) || !safeName(page) {
		return "", fmt.Errorf("%w: invalid page reference", util.ErrInvalidFile)
	}
	return filepath.Join(w.ReportsDir(quizID), "page-images", student, page+".jpg"), nil
}

func (w *Workspace) CorrectionsDir(quizID string) string {
	return filepath.Join(w.ReportsDir(quizID), "corrections", "pdf")
}

func safeName(s string) bool {
	return s != "" && s != "." && s != ".." && !strings.ContainsAny(s, `/\`)
}

func fileExists(p string) bool {
	info, err := os.Stat(p)
	return err == nil && !info.IsDir()
}

func writeFile(p string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		return err
	}
	return os.WriteFile(p, data, 0644)
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return writeFile(dst, data)
}
