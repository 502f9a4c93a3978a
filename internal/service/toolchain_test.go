package service

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"quizmark_backend/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingRunner 记录命令行，可按步骤注入失败
type recordingRunner struct {
	commands []string
	failStep string
	onRun    func(dir string, args []string)
}

func (r *recordingRunner) run(ctx context.Context, dir string, out io.Writer, name string, args ...string) error {
	r.commands = append(r.commands, name+" "+strings.Join(args, " "))
	if r.onRun != nil {
		r.onRun(dir, args)
	}
	if len(args) > 0 && args[0] == r.failStep {
		io.WriteString(out, "! LaTeX Error: File `missing.sty' not found.\n")
		return errors.New("exit status 1")
	}
	return nil
}

func newRecordingToolchain(r *recordingRunner) *AMCToolchain {
	tc := NewAMCToolchain(config.ToolchainConfig{
		AMCBinary:      "amc",
		PdftoppmBinary: "pdftoppm",
		LatexEngine:    "pdflatex",
		ScanResolution: 150,
		MarkTolerance:  0.25,
	}, config.AnalysisConfig{Grain: 0.5, NoteMin: 0, NoteMax: 20})
	tc.Runner = r.run
	return tc
}

func TestRenderDocumentCommand(t *testing.T) {
	r := &recordingRunner{}
	var log bytes.Buffer
	require.NoError(t, newRecordingToolchain(r).RenderDocument(context.Background(), t.TempDir(), &log))

	require.Len(t, r.commands, 1)
	assert.Equal(t, "amc prepare --mode s sujet.tex --out-sujet sujet.pdf --out-corrige correction.pdf "+
		"--data ./data/ --out-calage DOC-calage.xy --with pdflatex", r.commands[0])
	assert.True(t, strings.HasPrefix(log.String(), "$ amc prepare"))
}

func TestRunDetectionSteps(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, writeFile(filepath.Join(dir, "scans", "page-1.png"), []byte("png")))

	r := &recordingRunner{}
	require.NoError(t, newRecordingToolchain(r).RunDetection(context.Background(), dir, 0.4, nil))

	var steps []string
	for _, c := range r.commands {
		steps = append(steps, strings.Fields(c)[1])
	}
	assert.Equal(t, []string{"prepare", "meptex", "analyse", "note", "association-auto", "export", "export"}, steps)
	assert.Contains(t, r.commands[2], "--tol-marque 0.25 "+filepath.Join("scans", "page-1.png"))
	assert.Contains(t, r.commands[3], "--seuil 0.4 --grain 0.5")
	assert.Contains(t, r.commands[5], "--module ods")
	assert.Contains(t, r.commands[6], "--module CSV")
}

func TestRunReconciliationStopsAtFailedStep(t *testing.T) {
	r := &recordingRunner{failStep: "export"}
	var log bytes.Buffer
	err := newRecordingToolchain(r).RunReconciliation(context.Background(), t.TempDir(), 0.6, &log)

	var tcErr *ToolchainError
	require.ErrorAs(t, err, &tcErr)
	assert.Equal(t, "export", tcErr.Step)
	assert.Contains(t, tcErr.Output, "missing.sty")
	assert.Contains(t, log.String(), "missing.sty")
	// annotate 不再执行
	assert.Len(t, r.commands, 2)
}

func TestRasterizeCopiesReplacesOldPages(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, writeFile(filepath.Join(dir, "scans", "page-9.png"), []byte("old")))

	r := &recordingRunner{onRun: func(dir string, args []string) {
		for _, name := range []string{"page-1.png", "page-2.png"} {
			os.WriteFile(filepath.Join(dir, name), []byte("png"), 0644)
		}
	}}
	n, err := newRecordingToolchain(r).RasterizeCopies(context.Background(), dir, filepath.Join(dir, "copies.pdf"), nil)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.NoFileExists(t, filepath.Join(dir, "scans", "page-9.png"))
	assert.True(t, strings.HasPrefix(r.commands[0], "pdftoppm -png -r 150 "))
}

func TestToolchainReload(t *testing.T) {
	r := &recordingRunner{}
	tc := newRecordingToolchain(r)
	tc.Reload(config.ToolchainConfig{AMCBinary: "/opt/amc", LatexEngine: "xelatex"}, config.AnalysisConfig{})

	require.NoError(t, tc.RenderDocument(context.Background(), t.TempDir(), nil))
	assert.True(t, strings.HasPrefix(r.commands[0], "/opt/amc prepare"))
	assert.True(t, strings.HasSuffix(r.commands[0], "--with xelatex"))
}
