package service

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"quizmark_backend/internal/latex"
	"quizmark_backend/internal/model"
	"quizmark_backend/internal/util"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateSourceRequiresQuestions(t *testing.T) {
	env := newTestEnv(t)
	quiz, err := env.quizzes.CreateQuiz(1, QuizRequest{})
	require.NoError(t, err)

	_, err = env.compile.GenerateSource(context.Background(), quiz.ID)
	assert.ErrorIs(t, err, util.ErrNoQuestions)
	assert.False(t, env.ws.HasSource(quiz.ID))
}

func TestGenerateSourceWritesBothCopies(t *testing.T) {
	env := newTestEnv(t)
	quiz := env.newQuizWithQuestion(t)
	ctx := context.Background()

	source, err := env.compile.GenerateSource(ctx, quiz.ID)
	require.NoError(t, err)
	assert.Contains(t, source, `\AMCcodeGridInt{etu}{8}`)
	assert.Contains(t, source, `\bonne{Paris}`)

	for _, p := range []string{
		filepath.Join(env.ws.QuizDir(quiz.ID), util.SourceFile),
		env.ws.SessionFile(quiz.ID, util.SourceFile),
	} {
		data, err := os.ReadFile(p)
		require.NoError(t, err)
		assert.Equal(t, source, string(data))
	}

	again, err := env.compile.GenerateSource(ctx, quiz.ID)
	require.NoError(t, err)
	assert.Equal(t, source, again)

	stored, err := env.compile.Source(quiz.ID)
	require.NoError(t, err)
	assert.Equal(t, source, stored)
}

func TestBuildMetaDefaultsTitle(t *testing.T) {
	meta := BuildMeta(&model.Quiz{IDDigits: 6, RandomAnswerOrder: true})
	assert.Equal(t, latex.Meta{Title: "Quiz", IDDigits: 6, RandomAnswerOrder: true}, meta)
}

func TestSourceMissing(t *testing.T) {
	env := newTestEnv(t)
	quiz, err := env.quizzes.CreateQuiz(1, QuizRequest{})
	require.NoError(t, err)
	_, err = env.compile.Source(quiz.ID)
	assert.ErrorIs(t, err, util.ErrDataUnavailable)
}

func TestCompileRequiresSource(t *testing.T) {
	env := newTestEnv(t)
	quiz := env.newQuizWithQuestion(t)

	err := env.compile.Compile(context.Background(), quiz.ID)
	assert.ErrorIs(t, err, util.ErrDocumentMissing)
	assert.Empty(t, env.toolchain.Calls())
}

func TestCompilePreparesSession(t *testing.T) {
	env := newTestEnv(t)
	quiz := env.newQuizWithQuestion(t)
	ctx := context.Background()

	require.NoError(t, env.rosterRepo.Replace(quiz.ID, []model.RosterEntry{
		{StudentID: "42", LastName: "Curie", FirstName: "Marie", Email: "m@example.org"},
	}))
	_, err := env.quizzes.SaveIllustration(ctx, quiz.ID, "map.png", strings.NewReader("img"), 3)
	require.NoError(t, err)
	_, err = env.compile.GenerateSource(ctx, quiz.ID)
	require.NoError(t, err)

	require.NoError(t, env.compile.Compile(ctx, quiz.ID))
	assert.Equal(t, []string{"render"}, env.toolchain.Calls())

	roster, err := os.ReadFile(env.ws.SessionFile(quiz.ID, util.RosterFile))
	require.NoError(t, err)
	assert.Equal(t, "id,nom,prenom,email\n42,Curie,Marie,m@example.org\n", string(roster))

	_, err = os.Stat(filepath.Join(env.ws.SessionDir(quiz.ID), latex.IllustrationDir, "map.png"))
	assert.NoError(t, err)

	logs, err := env.compile.Logs(quiz.ID)
	require.NoError(t, err)
	assert.Contains(t, logs, "rendering")

	p, err := env.compile.ExportPath(quiz.ID, util.AnswersPDF)
	require.NoError(t, err)
	assert.Equal(t, util.CorrectionPDF, filepath.Base(p))
	_, err = env.compile.ExportPath(quiz.ID, "../sujet.tex")
	assert.ErrorIs(t, err, util.ErrInvalidFile)
}

func TestCompileRefusedWhileLocked(t *testing.T) {
	env := newTestEnv(t)
	quiz := env.newQuizWithQuestion(t)
	ctx := context.Background()
	_, err := env.compile.GenerateSource(ctx, quiz.ID)
	require.NoError(t, err)

	unlock, err := env.locker.TryLock(ctx, quiz.ID, 0)
	require.NoError(t, err)
	assert.ErrorIs(t, env.compile.Compile(ctx, quiz.ID), util.ErrConcurrentTransition)
	unlock()
	assert.NoError(t, env.compile.Compile(ctx, quiz.ID))
}

func TestExportMissingBeforeCompile(t *testing.T) {
	env := newTestEnv(t)
	quiz := env.newQuizWithQuestion(t)
	_, err := env.compile.ExportPath(quiz.ID, util.SubjectPDF)
	assert.ErrorIs(t, err, util.ErrDataUnavailable)
}
