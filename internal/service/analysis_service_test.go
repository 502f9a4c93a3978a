package service

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"io"
	"os"
	"strings"
	"testing"
	"time"

	"quizmark_backend/internal/grading"
	"quizmark_backend/internal/model"
	"quizmark_backend/internal/util"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pdf() io.Reader { return strings.NewReader("%PDF-1.4 copies") }

// readyForAnalysis 试卷已生成源文件、上传扫描件并导入名单
func (e *testEnv) readyForAnalysis(t *testing.T) *model.Quiz {
	t.Helper()
	ctx := context.Background()
	quiz := e.newQuizWithQuestion(t)
	_, err := e.compile.GenerateSource(ctx, quiz.ID)
	require.NoError(t, err)
	_, err = e.analysis.UpdateRoster(ctx, quiz.ID, []RosterRequest{
		{ID: "1", LastName: "Curie", FirstName: "Marie"},
		{ID: "2", LastName: "Noether", FirstName: "Emmy"},
	})
	require.NoError(t, err)
	_, err = e.analysis.UploadCopies(ctx, quiz.ID, "copies.pdf", pdf())
	require.NoError(t, err)
	return quiz
}

func boxKeys(entries []grading.BoxEntry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Student + "/" + e.Page + "/" + e.Checkbox
	}
	return out
}

func TestStatusDefaultsToIdleWithoutWriting(t *testing.T) {
	env := newTestEnv(t)
	quiz, err := env.quizzes.CreateQuiz(1, QuizRequest{})
	require.NoError(t, err)

	st, err := env.analysis.Status(quiz.ID)
	require.NoError(t, err)
	assert.Equal(t, grading.StatusIdle, st.Status)
	assert.Equal(t, 0.5, st.Threshold)

	var n int64
	require.NoError(t, env.db.Model(&model.AnalysisStatus{}).Count(&n).Error)
	assert.Zero(t, n)

	_, err = env.analysis.Status("missing")
	assert.ErrorIs(t, err, util.ErrQuizNotFound)
}

func TestUploadCopies(t *testing.T) {
	env := newTestEnv(t)
	quiz := env.newQuizWithQuestion(t)
	ctx := context.Background()

	_, err := env.analysis.UploadCopies(ctx, quiz.ID, "copies.png", pdf())
	assert.ErrorIs(t, err, util.ErrInvalidFile)

	env.toolchain.pages = 3
	st, err := env.analysis.UploadCopies(ctx, quiz.ID, "Copies.PDF", pdf())
	require.NoError(t, err)
	assert.Equal(t, grading.StatusCopiesUploaded, st.Status)
	assert.Equal(t, 3, st.PageCount)

	pages, err := env.ws.ScanPages(quiz.ID)
	require.NoError(t, err)
	assert.Len(t, pages, 3)

	// 重复上传允许
	env.toolchain.pages = 1
	st, err = env.analysis.UploadCopies(ctx, quiz.ID, "copies.pdf", pdf())
	require.NoError(t, err)
	assert.Equal(t, 1, st.PageCount)
}

func TestUploadRefusedWhileRunning(t *testing.T) {
	env := newTestEnv(t)
	quiz := env.readyForAnalysis(t)
	_, err := env.analysisRep.Transition(quiz.ID, grading.NewState(), func(s grading.State) (grading.State, error) {
		return grading.StartAnalysis(s, 0.5, true, true, time.Now())
	})
	require.NoError(t, err)

	_, err = env.analysis.UploadCopies(context.Background(), quiz.ID, "copies.pdf", pdf())
	assert.ErrorIs(t, err, util.ErrInvalidTransition)
	assert.Equal(t, []string{"rasterize"}, env.toolchain.Calls())
}

func TestUpdateRoster(t *testing.T) {
	env := newTestEnv(t)
	quiz, err := env.quizzes.CreateQuiz(1, QuizRequest{})
	require.NoError(t, err)
	ctx := context.Background()

	_, err = env.analysis.UpdateRoster(ctx, quiz.ID, []RosterRequest{{ID: "1"}, {ID: " "}})
	assert.ErrorIs(t, err, util.ErrInvalidRoster)
	_, err = env.analysis.UpdateRoster(ctx, quiz.ID, []RosterRequest{{ID: "1"}, {ID: "1"}})
	assert.ErrorIs(t, err, util.ErrInvalidRoster)

	roster, err := env.analysis.UpdateRoster(ctx, quiz.ID, []RosterRequest{
		{ID: "7", LastName: " Lovelace ", FirstName: "Ada"},
	})
	require.NoError(t, err)
	require.Len(t, roster, 1)
	assert.Equal(t, "Lovelace", roster[0].LastName)

	data, err := os.ReadFile(env.ws.SessionFile(quiz.ID, util.RosterFile))
	require.NoError(t, err)
	assert.Equal(t, "id,nom,prenom,email\n7,Lovelace,Ada,\n", string(data))

	st, err := env.analysis.Status(quiz.ID)
	require.NoError(t, err)
	assert.Equal(t, grading.StatusIdle, st.Status)
	assert.Equal(t, 1, st.StudentCount)
}

func TestRunAnalysisPreconditions(t *testing.T) {
	env := newTestEnv(t)
	quiz := env.newQuizWithQuestion(t)
	ctx := context.Background()

	_, err := env.analysis.RunAnalysis(ctx, quiz.ID, nil)
	assert.ErrorIs(t, err, util.ErrDocumentMissing)

	_, err = env.compile.GenerateSource(ctx, quiz.ID)
	require.NoError(t, err)
	_, err = env.analysis.RunAnalysis(ctx, quiz.ID, nil)
	assert.ErrorIs(t, err, util.ErrNoScans)

	_, err = env.analysis.UploadCopies(ctx, quiz.ID, "copies.pdf", pdf())
	require.NoError(t, err)
	_, err = env.analysis.RunAnalysis(ctx, quiz.ID, floatPtr(1.5))
	assert.ErrorIs(t, err, util.ErrInvalidThreshold)

	st, err := env.analysis.Status(quiz.ID)
	require.NoError(t, err)
	assert.Equal(t, grading.StatusCopiesUploaded, st.Status)
	assert.NotContains(t, env.toolchain.Calls(), "detect")
}

func TestRunAnalysisCompletes(t *testing.T) {
	env := newTestEnv(t)
	quiz := env.readyForAnalysis(t)

	st, err := env.analysis.RunAnalysis(context.Background(), quiz.ID, floatPtr(0.3))
	require.NoError(t, err)
	assert.Equal(t, grading.StatusCompleted, st.Status)
	assert.Equal(t, 0.3, st.Threshold)
	assert.Equal(t, 2, st.StudentCount)
	assert.Equal(t, 0.3, env.toolchain.lastThreshold)

	_, err = env.analysis.RunAnalysis(context.Background(), quiz.ID, nil)
	assert.ErrorIs(t, err, util.ErrInvalidTransition)
}

func TestRunAnalysisFailureRecordsError(t *testing.T) {
	env := newTestEnv(t)
	quiz := env.readyForAnalysis(t)
	ctx := context.Background()
	env.toolchain.detectionErr = &ToolchainError{Step: "analyse", Err: errors.New("exit status 2")}

	st, err := env.analysis.RunAnalysis(ctx, quiz.ID, floatPtr(0.4))
	var toolErr *ToolchainError
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, grading.StatusFailed, st.Status)
	require.NotNil(t, st.LastError)
	assert.Contains(t, *st.LastError, "analyse")
	assert.Equal(t, 0.4, st.Threshold)

	// 失败后只能重新上传
	_, err = env.analysis.RunAnalysis(ctx, quiz.ID, nil)
	assert.ErrorIs(t, err, util.ErrInvalidTransition)

	env.toolchain.detectionErr = nil
	st, err = env.analysis.UploadCopies(ctx, quiz.ID, "copies.pdf", pdf())
	require.NoError(t, err)
	assert.Nil(t, st.LastError)
	st, err = env.analysis.RunAnalysis(ctx, quiz.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, grading.StatusCompleted, st.Status)
}

func TestRunAnalysisFailsWhenCompletionCannotBeRecorded(t *testing.T) {
	env := newTestEnv(t)
	quiz := env.readyForAnalysis(t)
	ctx := context.Background()
	// 识别成功后名单表不可用
	env.toolchain.afterDetection = func() {
		require.NoError(t, env.db.Migrator().DropTable(&model.RosterEntry{}))
	}

	st, err := env.analysis.RunAnalysis(ctx, quiz.ID, nil)
	require.Error(t, err)
	assert.Equal(t, grading.StatusFailed, st.Status)
	require.NotNil(t, st.LastError)

	stored, err := env.analysis.Status(quiz.ID)
	require.NoError(t, err)
	assert.Equal(t, grading.StatusFailed, stored.Status)

	// 不会停留在 running，可以重新上传
	env.toolchain.afterDetection = nil
	st, err = env.analysis.UploadCopies(ctx, quiz.ID, "copies.pdf", pdf())
	require.NoError(t, err)
	assert.Equal(t, grading.StatusCopiesUploaded, st.Status)
}

func completedWithBoxes(t *testing.T, env *testEnv) *model.Quiz {
	t.Helper()
	env.toolchain.boxes = []model.BoxRow{
		{Student: 1, Page: 1, Checkbox: 1, Ratio: 0.9},
		{Student: 1, Page: 1, Checkbox: 2, Ratio: 0.2},
		{Student: 2, Page: 1, Checkbox: 1, Ratio: 0.5},
	}
	quiz := env.readyForAnalysis(t)
	_, err := env.analysis.RunAnalysis(context.Background(), quiz.ID, nil)
	require.NoError(t, err)
	return quiz
}

func TestGetCheckboxes(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	quiz := env.readyForAnalysis(t)
	_, err := env.analysis.GetCheckboxes(ctx, quiz.ID)
	assert.ErrorIs(t, err, util.ErrAnalysisNotCompleted)

	quiz = completedWithBoxes(t, env)
	report, err := env.analysis.GetCheckboxes(ctx, quiz.ID)
	require.NoError(t, err)
	assert.Equal(t, 0.5, report.Threshold)
	assert.Equal(t, []string{"1/1/1", "2/1/1"}, boxKeys(report.Checked))
	assert.Equal(t, []string{"1/1/2"}, boxKeys(report.Unchecked))
	assert.Empty(t, report.Overrides)
}

func TestGetCheckboxesWithoutDataFile(t *testing.T) {
	env := newTestEnv(t)
	quiz := env.readyForAnalysis(t)
	_, err := env.analysis.RunAnalysis(context.Background(), quiz.ID, nil)
	require.NoError(t, err)

	_, err = env.analysis.GetCheckboxes(context.Background(), quiz.ID)
	assert.ErrorIs(t, err, util.ErrDataUnavailable)
}

func TestUpdateCheckboxes(t *testing.T) {
	env := newTestEnv(t)
	quiz := completedWithBoxes(t, env)
	ctx := context.Background()

	report, err := env.analysis.UpdateCheckboxes(ctx, quiz.ID, CheckboxUpdate{
		Threshold: floatPtr(0.6),
		Overrides: []OverrideRequest{
			{Student: " 1 ", Page: "1", Checkbox: "2", Checked: true},
			{Student: "3", Page: "2", Checkbox: "1", Checked: true},
			{Student: "3", Page: "2", Checkbox: "1", Checked: false},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 0.6, report.Threshold)
	assert.Equal(t, []string{"1/1/1", "1/1/2"}, boxKeys(report.Checked))
	assert.Equal(t, []string{"2/1/1", "3/2/1"}, boxKeys(report.Unchecked))
	assert.Len(t, report.Overrides, 2)

	synthetic := report.Unchecked[1]
	assert.Nil(t, synthetic.Ratio)
	assert.True(t, synthetic.Overridden)

	// 省略 overrides 时保留已有修正
	report, err = env.analysis.UpdateCheckboxes(ctx, quiz.ID, CheckboxUpdate{Threshold: floatPtr(0.1)})
	require.NoError(t, err)
	assert.Len(t, report.Overrides, 2)
	assert.Equal(t, []string{"1/1/1", "1/1/2", "2/1/1"}, boxKeys(report.Checked))

	// 空列表清空修正
	report, err = env.analysis.UpdateCheckboxes(ctx, quiz.ID, CheckboxUpdate{Overrides: []OverrideRequest{}})
	require.NoError(t, err)
	assert.Empty(t, report.Overrides)
}

func TestUpdateCheckboxesRejectsWholeBatch(t *testing.T) {
	env := newTestEnv(t)
	quiz := completedWithBoxes(t, env)
	ctx := context.Background()

	_, err := env.analysis.UpdateCheckboxes(ctx, quiz.ID, CheckboxUpdate{
		Threshold: floatPtr(0.7),
		Overrides: []OverrideRequest{
			{Student: "1", Page: "1", Checkbox: "2", Checked: true},
			{Student: "1", Page: "", Checkbox: "3", Checked: true},
		},
	})
	assert.ErrorIs(t, err, util.ErrInvalidOverride)

	_, err = env.analysis.UpdateCheckboxes(ctx, quiz.ID, CheckboxUpdate{Threshold: floatPtr(-0.1)})
	assert.ErrorIs(t, err, util.ErrInvalidThreshold)

	report, err := env.analysis.GetCheckboxes(ctx, quiz.ID)
	require.NoError(t, err)
	assert.Equal(t, 0.5, report.Threshold)
	assert.Empty(t, report.Overrides)
}

func TestUpdateCheckboxesBeforeCompletion(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	idle := env.newQuizWithQuestion(t)
	_, err := env.analysis.UpdateCheckboxes(ctx, idle.ID, CheckboxUpdate{Threshold: floatPtr(0.6)})
	assert.ErrorIs(t, err, util.ErrAnalysisNotCompleted)

	uploaded := env.readyForAnalysis(t)
	_, err = env.analysis.UpdateCheckboxes(ctx, uploaded.ID, CheckboxUpdate{Overrides: []OverrideRequest{}})
	assert.ErrorIs(t, err, util.ErrAnalysisNotCompleted)
}

func TestRecalculate(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	quiz := env.readyForAnalysis(t)
	_, err := env.analysis.Recalculate(ctx, quiz.ID)
	assert.ErrorIs(t, err, util.ErrInvalidTransition)

	quiz = completedWithBoxes(t, env)
	_, err = env.analysis.UpdateCheckboxes(ctx, quiz.ID, CheckboxUpdate{Threshold: floatPtr(0.8)})
	require.NoError(t, err)

	env.toolchain.reconcileErr = &ToolchainError{Step: "annotate", Err: errors.New("exit status 1")}
	before, err := env.analysis.Status(quiz.ID)
	require.NoError(t, err)
	_, err = env.analysis.Recalculate(ctx, quiz.ID)
	var toolErr *ToolchainError
	require.ErrorAs(t, err, &toolErr)
	after, err := env.analysis.Status(quiz.ID)
	require.NoError(t, err)
	assert.Equal(t, before.Status, after.Status)
	assert.Equal(t, before.Threshold, after.Threshold)
	assert.Nil(t, after.RecalculatedAt)

	env.toolchain.reconcileErr = nil
	st, err := env.analysis.Recalculate(ctx, quiz.ID)
	require.NoError(t, err)
	assert.Equal(t, grading.StatusCompleted, st.Status)
	assert.NotNil(t, st.RecalculatedAt)
	assert.Equal(t, 0.8, env.toolchain.lastThreshold)
}

func TestNotes(t *testing.T) {
	env := newTestEnv(t)
	quiz := env.readyForAnalysis(t)
	_, err := env.analysis.Notes(quiz.ID)
	assert.ErrorIs(t, err, util.ErrDataUnavailable)

	require.NoError(t, writeFile(env.ws.SessionFile(quiz.ID, util.NotesCSV),
		[]byte("\ufeffA:id,Nom,Note\n1,Curie,18\n2,Noether,\n")))
	rows, err := env.analysis.Notes(quiz.ID)
	require.NoError(t, err)
	assert.Equal(t, []map[string]string{
		{"A:id": "1", "Nom": "Curie", "Note": "18"},
		{"A:id": "2", "Nom": "Noether", "Note": ""},
	}, rows)

	p, err := env.analysis.NotesFile(quiz.ID, "CSV")
	require.NoError(t, err)
	assert.Equal(t, env.ws.SessionFile(quiz.ID, util.NotesCSV), p)
	_, err = env.analysis.NotesFile(quiz.ID, "ods")
	assert.ErrorIs(t, err, util.ErrDataUnavailable)
	_, err = env.analysis.NotesFile(quiz.ID, "xlsx")
	assert.ErrorIs(t, err, util.ErrInvalidFile)
}

func TestPageImage(t *testing.T) {
	env := newTestEnv(t)
	quiz := env.readyForAnalysis(t)

	p, err := env.ws.PageImagePath(quiz.ID, "1", "2")
	require.NoError(t, err)
	require.NoError(t, writeFile(p, []byte("jpeg-bytes")))

	img, err := env.analysis.PageImage(quiz.ID, "1", "2")
	require.NoError(t, err)
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("jpeg-bytes")), img.Image)

	_, err = env.analysis.PageImage(quiz.ID, "1", "3")
	assert.ErrorIs(t, err, util.ErrDataUnavailable)
	_, err = env.analysis.PageImage(quiz.ID, "..", "2")
	assert.ErrorIs(t, err, util.ErrInvalidFile)
}

func TestCorrectionsArchive(t *testing.T) {
	env := newTestEnv(t)
	quiz := completedWithBoxes(t, env)
	ctx := context.Background()

	_, err := env.analysis.CorrectionsArchive(quiz.ID)
	assert.ErrorIs(t, err, util.ErrDataUnavailable)

	env.toolchain.correctionPDFs = map[string]string{"b.pdf": "B", "a.pdf": "A"}
	_, err = env.analysis.Recalculate(ctx, quiz.ID)
	require.NoError(t, err)

	data, err := env.analysis.CorrectionsArchive(quiz.ID)
	require.NoError(t, err)
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	require.Len(t, zr.File, 2)
	assert.Equal(t, "a.pdf", zr.File[0].Name)
	assert.Equal(t, "b.pdf", zr.File[1].Name)

	rc, err := zr.File[1].Open()
	require.NoError(t, err)
	content, err := io.ReadAll(rc)
	rc.Close()
	require.NoError(t, err)
	assert.Equal(t, "B", string(content))
}
