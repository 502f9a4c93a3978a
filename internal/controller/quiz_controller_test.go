package controller

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"quizmark_backend/internal/config"
	"quizmark_backend/internal/repository"
	"quizmark_backend/internal/service"
	"quizmark_backend/internal/util"
	"quizmark_backend/pkg/database"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// newTestRouter 注册试卷和 AMC 路由，请求以教师 1 的身份执行
func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(database.Models()...))

	quizRepo := repository.NewQuizRepository(db)
	ws := service.NewWorkspace(t.TempDir())
	storage := &service.StorageService{Provider: &service.LocalStorageProvider{Config: &config.StorageConfig{LocalPath: t.TempDir()}}}
	quizzes := service.NewQuizService(quizRepo, ws, storage)
	compile := service.NewCompileService(quizRepo, repository.NewRosterRepository(db), ws, nil, storage, service.NewLocalLocker(), 0)

	qc := NewQuizController(quizzes)
	ac := NewAMCController(compile)

	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set("user", &util.Claims{UserID: 1, Role: util.RoleTeacher})
		c.Next()
	})
	r.POST("/quizzes", qc.CreateQuiz)
	r.GET("/quizzes/:quizId", qc.GetQuiz)
	r.POST("/quizzes/:quizId/questions", qc.CreateQuestion)
	r.POST("/quizzes/:quizId/amc/latex", ac.GenerateLatex)
	r.GET("/quizzes/:quizId/amc/latex", ac.GetLatex)
	return r
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func do(t *testing.T, r *gin.Engine, method, path string, body interface{}) (int, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var resp envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return w.Code, resp
}

func TestQuizToLatexFlow(t *testing.T) {
	r := newTestRouter(t)

	code, resp := do(t, r, http.MethodPost, "/quizzes", gin.H{"title": "Examen & co"})
	require.Equal(t, http.StatusCreated, code)
	var quiz struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &quiz))
	require.NotEmpty(t, quiz.ID)
	base := "/quizzes/" + quiz.ID

	code, resp = do(t, r, http.MethodGet, base+"/amc/latex", nil)
	assert.Equal(t, http.StatusNotFound, code)

	code, resp = do(t, r, http.MethodPost, base+"/amc/latex", nil)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, util.ErrNoQuestions.Error(), resp.Message)

	code, _ = do(t, r, http.MethodPost, base+"/questions", gin.H{
		"text": "Combien font 2+2 ?",
		"answers": []gin.H{
			{"text": "4", "correct": true},
			{"text": "5"},
		},
	})
	require.Equal(t, http.StatusCreated, code)

	code, resp = do(t, r, http.MethodPost, base+"/amc/latex", nil)
	require.Equal(t, http.StatusOK, code)
	var out struct {
		Latex string `json:"latex"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &out))
	assert.Contains(t, out.Latex, `Examen \& co`)
	assert.Contains(t, out.Latex, `\bonne{4}`)

	code, _ = do(t, r, http.MethodGet, "/quizzes/unknown", nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestCreateQuestionValidation(t *testing.T) {
	r := newTestRouter(t)
	code, resp := do(t, r, http.MethodPost, "/quizzes", gin.H{})
	require.Equal(t, http.StatusCreated, code)
	var quiz struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &quiz))

	code, _ = do(t, r, http.MethodPost, "/quizzes/"+quiz.ID+"/questions", gin.H{"type": "simple"})
	assert.Equal(t, http.StatusBadRequest, code)

	code, resp = do(t, r, http.MethodPost, "/quizzes/"+quiz.ID+"/questions", gin.H{"text": "?", "type": "essay"})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, resp.Message, "unsupported question type")
}
