package controller

import (
	"io"
	"quizmark_backend/internal/repository"
	"quizmark_backend/internal/service"
	"quizmark_backend/internal/util"

	"github.com/gin-gonic/gin"
)

const maxImportBytes = 1 << 20

// QuizController 试卷及其题目、分组、选项的管理
type QuizController struct {
	QuizService *service.QuizService
}

func NewQuizController(quizService *service.QuizService) *QuizController {
	return &QuizController{QuizService: quizService}
}

// ReorderQuestionsRequest 题目新顺序，必须覆盖全部题目
// swagger:model ReorderQuestionsRequest
type ReorderQuestionsRequest struct {
	Positions []repository.QuestionPosition `json:"positions" binding:"required,dive"`
}

// ReorderRequest 分组或选项的新顺序
// swagger:model ReorderRequest
type ReorderRequest struct {
	IDs []string `json:"ids" binding:"required"`
}

// CreateQuiz godoc
// @Summary 创建试卷
// @Tags 试卷管理
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body service.QuizRequest true "试卷信息"
// @Success 201 {object} util.Response{data=model.Quiz}
// @Failure 400 {object} util.Response "请求参数错误"
// @Router /quizzes [post]
func (c *QuizController) CreateQuiz(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}
	var req service.QuizRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}
	quiz, err := c.QuizService.CreateQuiz(user.UserID, req)
	if err != nil {
		handleError(ctx, err)
		return
	}
	util.Created(ctx, quiz)
}

// ImportQuiz godoc
// @Summary 从 YAML 导入试卷
// @Description 请求体为 YAML 描述的试卷、分组、题目和选项，整体校验通过后才会创建
// @Tags 试卷管理
// @Accept application/x-yaml
// @Produce json
// @Security BearerAuth
// @Success 201 {object} util.Response{data=model.Quiz}
// @Failure 400 {object} util.Response "YAML 格式或题目不合法"
// @Router /quizzes/import [post]
func (c *QuizController) ImportQuiz(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}
	data, err := io.ReadAll(io.LimitReader(ctx.Request.Body, maxImportBytes+1))
	if err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}
	if len(data) > maxImportBytes {
		util.BadRequest(ctx, "definition too large")
		return
	}
	def, err := service.ParseQuizDefinition(data)
	if err != nil {
		handleError(ctx, err)
		return
	}
	quiz, err := c.QuizService.ImportQuiz(user.UserID, def)
	if err != nil {
		handleError(ctx, err)
		return
	}
	util.Created(ctx, quiz)
}

// GetQuiz godoc
// @Summary 获取试卷信息
// @Tags 试卷管理
// @Produce json
// @Security BearerAuth
// @Param quizId path string true "试卷ID"
// @Success 200 {object} util.Response{data=model.Quiz}
// @Failure 404 {object} util.Response "试卷不存在"
// @Router /quizzes/{quizId} [get]
func (c *QuizController) GetQuiz(ctx *gin.Context) {
	quiz, err := c.QuizService.GetQuiz(ctx.Param("quizId"))
	if err != nil {
		handleError(ctx, err)
		return
	}
	util.Success(ctx, quiz)
}

// UpdateQuiz godoc
// @Summary 修改试卷信息
// @Tags 试卷管理
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param quizId path string true "试卷ID"
// @Param request body service.QuizRequest true "需要修改的字段"
// @Success 200 {object} util.Response{data=model.Quiz}
// @Failure 409 {object} util.Response "试卷已锁定"
// @Router /quizzes/{quizId} [put]
func (c *QuizController) UpdateQuiz(ctx *gin.Context) {
	var req service.QuizRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}
	quiz, err := c.QuizService.UpdateQuiz(ctx.Param("quizId"), req)
	if err != nil {
		handleError(ctx, err)
		return
	}
	util.Success(ctx, quiz)
}

// LockQuiz godoc
// @Summary 锁定试卷，锁定后题目不可修改
// @Tags 试卷管理
// @Produce json
// @Security BearerAuth
// @Param quizId path string true "试卷ID"
// @Success 200 {object} util.Response{data=model.Quiz}
// @Router /quizzes/{quizId}/lock [post]
func (c *QuizController) LockQuiz(ctx *gin.Context) {
	c.setLocked(ctx, true)
}

// UnlockQuiz godoc
// @Summary 解锁试卷
// @Tags 试卷管理
// @Produce json
// @Security BearerAuth
// @Param quizId path string true "试卷ID"
// @Success 200 {object} util.Response{data=model.Quiz}
// @Router /quizzes/{quizId}/unlock [post]
func (c *QuizController) UnlockQuiz(ctx *gin.Context) {
	c.setLocked(ctx, false)
}

func (c *QuizController) setLocked(ctx *gin.Context, locked bool) {
	quiz, err := c.QuizService.SetLocked(ctx.Param("quizId"), locked)
	if err != nil {
		handleError(ctx, err)
		return
	}
	util.Success(ctx, quiz)
}

// ListQuestions godoc
// @Summary 获取试卷的分组、题目和选项
// @Tags 题目管理
// @Produce json
// @Security BearerAuth
// @Param quizId path string true "试卷ID"
// @Success 200 {object} util.Response{data=[]model.Subject}
// @Router /quizzes/{quizId}/questions [get]
func (c *QuizController) ListQuestions(ctx *gin.Context) {
	subjects, err := c.QuizService.ListContent(ctx.Param("quizId"))
	if err != nil {
		handleError(ctx, err)
		return
	}
	util.Success(ctx, gin.H{"subjects": subjects})
}

// CreateQuestion godoc
// @Summary 新增题目
// @Description 未指定分组时放入第一个分组；未指定分值时为 1 分
// @Tags 题目管理
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param quizId path string true "试卷ID"
// @Param request body service.QuestionRequest true "题目"
// @Success 201 {object} util.Response{data=model.Question}
// @Failure 400 {object} util.Response "请求参数错误"
// @Failure 409 {object} util.Response "试卷已锁定"
// @Router /quizzes/{quizId}/questions [post]
func (c *QuizController) CreateQuestion(ctx *gin.Context) {
	var req service.QuestionRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}
	q, err := c.QuizService.CreateQuestion(ctx.Param("quizId"), req)
	if err != nil {
		handleError(ctx, err)
		return
	}
	util.Created(ctx, q)
}

// UpdateQuestion godoc
// @Summary 修改题目
// @Tags 题目管理
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param quizId path string true "试卷ID"
// @Param questionId path string true "题目ID"
// @Param request body service.QuestionUpdate true "需要修改的字段"
// @Success 200 {object} util.Response{data=model.Question}
// @Router /quizzes/{quizId}/questions/{questionId} [put]
func (c *QuizController) UpdateQuestion(ctx *gin.Context) {
	var req service.QuestionUpdate
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}
	q, err := c.QuizService.UpdateQuestion(ctx.Param("quizId"), ctx.Param("questionId"), req)
	if err != nil {
		handleError(ctx, err)
		return
	}
	util.Success(ctx, q)
}

// DeleteQuestion godoc
// @Summary 删除题目，其余题目重新编号
// @Tags 题目管理
// @Produce json
// @Security BearerAuth
// @Param quizId path string true "试卷ID"
// @Param questionId path string true "题目ID"
// @Success 200 {object} util.Response
// @Router /quizzes/{quizId}/questions/{questionId} [delete]
func (c *QuizController) DeleteQuestion(ctx *gin.Context) {
	if err := c.QuizService.DeleteQuestion(ctx.Param("quizId"), ctx.Param("questionId")); err != nil {
		handleError(ctx, err)
		return
	}
	util.Success(ctx, nil)
}

// ReorderQuestions godoc
// @Summary 调整题目顺序
// @Tags 题目管理
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param quizId path string true "试卷ID"
// @Param request body ReorderQuestionsRequest true "新的顺序"
// @Success 200 {object} util.Response
// @Router /quizzes/{quizId}/questions/order [patch]
func (c *QuizController) ReorderQuestions(ctx *gin.Context) {
	var req ReorderQuestionsRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}
	if err := c.QuizService.ReorderQuestions(ctx.Param("quizId"), req.Positions); err != nil {
		handleError(ctx, err)
		return
	}
	util.Success(ctx, nil)
}

// CreateSubject godoc
// @Summary 新增分组
// @Tags 题目管理
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param quizId path string true "试卷ID"
// @Param request body service.SubjectRequest true "分组"
// @Success 201 {object} util.Response{data=model.Subject}
// @Router /quizzes/{quizId}/subjects [post]
func (c *QuizController) CreateSubject(ctx *gin.Context) {
	var req service.SubjectRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}
	subject, err := c.QuizService.CreateSubject(ctx.Param("quizId"), req)
	if err != nil {
		handleError(ctx, err)
		return
	}
	util.Created(ctx, subject)
}

// ReorderSubjects godoc
// @Summary 调整分组顺序
// @Tags 题目管理
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param quizId path string true "试卷ID"
// @Param request body ReorderRequest true "分组ID列表"
// @Success 200 {object} util.Response
// @Router /quizzes/{quizId}/subjects/order [patch]
func (c *QuizController) ReorderSubjects(ctx *gin.Context) {
	var req ReorderRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}
	if err := c.QuizService.ReorderSubjects(ctx.Param("quizId"), req.IDs); err != nil {
		handleError(ctx, err)
		return
	}
	util.Success(ctx, nil)
}

// CreateAnswer godoc
// @Summary 新增选项
// @Tags 题目管理
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param quizId path string true "试卷ID"
// @Param questionId path string true "题目ID"
// @Param request body service.AnswerRequest true "选项"
// @Success 201 {object} util.Response{data=model.Answer}
// @Router /quizzes/{quizId}/questions/{questionId}/answers [post]
func (c *QuizController) CreateAnswer(ctx *gin.Context) {
	var req service.AnswerRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}
	a, err := c.QuizService.CreateAnswer(ctx.Param("quizId"), ctx.Param("questionId"), req)
	if err != nil {
		handleError(ctx, err)
		return
	}
	util.Created(ctx, a)
}

// UpdateAnswer godoc
// @Summary 修改选项
// @Tags 题目管理
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param quizId path string true "试卷ID"
// @Param questionId path string true "题目ID"
// @Param answerId path string true "选项ID"
// @Param request body service.AnswerUpdate true "需要修改的字段"
// @Success 200 {object} util.Response{data=model.Answer}
// @Router /quizzes/{quizId}/questions/{questionId}/answers/{answerId} [put]
func (c *QuizController) UpdateAnswer(ctx *gin.Context) {
	var req service.AnswerUpdate
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}
	a, err := c.QuizService.UpdateAnswer(ctx.Param("quizId"), ctx.Param("questionId"), ctx.Param("answerId"), req)
	if err != nil {
		handleError(ctx, err)
		return
	}
	util.Success(ctx, a)
}

// DeleteAnswer godoc
// @Summary 删除选项
// @Tags 题目管理
// @Produce json
// @Security BearerAuth
// @Param quizId path string true "试卷ID"
// @Param questionId path string true "题目ID"
// @Param answerId path string true "选项ID"
// @Success 200 {object} util.Response
// @Router /quizzes/{quizId}/questions/{questionId}/answers/{answerId} [delete]
func (c *QuizController) DeleteAnswer(ctx *gin.Context) {
	if err := c.QuizService.DeleteAnswer(ctx.Param("quizId"), ctx.Param("questionId"), ctx.Param("answerId")); err != nil {
		handleError(ctx, err)
		return
	}
	util.Success(ctx, nil)
}

// ReorderAnswers godoc
// @Summary 调整选项顺序
// @Tags 题目管理
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param quizId path string true "试卷ID"
// @Param questionId path string true "题目ID"
// @Param request body ReorderRequest true "选项ID列表"
// @Success 200 {object} util.Response
// @Router /quizzes/{quizId}/questions/{questionId}/answers/order [patch]
func (c *QuizController) ReorderAnswers(ctx *gin.Context) {
	var req ReorderRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}
	if err := c.QuizService.ReorderAnswers(ctx.Param("quizId"), ctx.Param("questionId"), req.IDs); err != nil {
		handleError(ctx, err)
		return
	}
	util.Success(ctx, nil)
}

// UploadIllustration godoc
// @Summary 上传题目插图
// @Tags 题目管理
// @Accept multipart/form-data
// @Produce json
// @Security BearerAuth
// @Param quizId path string true "试卷ID"
// @Param file formData file true "图片文件"
// @Success 201 {object} util.Response
// @Router /quizzes/{quizId}/illustrations [post]
func (c *QuizController) UploadIllustration(ctx *gin.Context) {
	file, err := ctx.FormFile("file")
	if err != nil {
		util.BadRequest(ctx, "file is required")
		return
	}
	src, err := file.Open()
	if err != nil {
		util.LogInternalError(ctx, err)
		return
	}
	defer src.Close()

	name, err := c.QuizService.SaveIllustration(ctx.Request.Context(), ctx.Param("quizId"), file.Filename, src, file.Size)
	if err != nil {
		handleError(ctx, err)
		return
	}
	util.Created(ctx, gin.H{"filename": name})
}
