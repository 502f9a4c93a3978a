package controller

import (
	"net/http"
	"path/filepath"
	"quizmark_backend/internal/grading"
	"quizmark_backend/internal/service"
	"quizmark_backend/internal/util"

	"github.com/gin-gonic/gin"
)

// AnalysisController 扫描件、识别分析和人工复核
type AnalysisController struct {
	AnalysisService *service.AnalysisService
	Hub             *service.StatusHub
}

func NewAnalysisController(analysisService *service.AnalysisService, hub *service.StatusHub) *AnalysisController {
	return &AnalysisController{AnalysisService: analysisService, Hub: hub}
}

// RunAnalysisRequest 阈值为空时使用默认值
// swagger:model RunAnalysisRequest
type RunAnalysisRequest struct {
	Threshold *float64 `json:"threshold"`
}

// UploadCopies godoc
// @Summary 上传学生答卷扫描件
// @Tags 阅卷
// @Accept multipart/form-data
// @Produce json
// @Security BearerAuth
// @Param quizId path string true "试卷ID"
// @Param file formData file true "扫描件 PDF"
// @Success 200 {object} util.Response{data=grading.State}
// @Failure 409 {object} util.Response "分析正在运行"
// @Router /quizzes/{quizId}/uploads/copies [post]
func (c *AnalysisController) UploadCopies(ctx *gin.Context) {
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

	state, err := c.AnalysisService.UploadCopies(ctx.Request.Context(), ctx.Param("quizId"), file.Filename, src)
	if err != nil {
		handleError(ctx, err)
		return
	}
	util.Success(ctx, state)
}

// UpdateRoster godoc
// @Summary 替换学生名单
// @Tags 阅卷
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param quizId path string true "试卷ID"
// @Param request body []service.RosterRequest true "学生名单"
// @Success 200 {object} util.Response{data=[]model.RosterEntry}
// @Router /quizzes/{quizId}/roster [put]
func (c *AnalysisController) UpdateRoster(ctx *gin.Context) {
	var rows []service.RosterRequest
	if err := ctx.ShouldBindJSON(&rows); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}
	roster, err := c.AnalysisService.UpdateRoster(ctx.Request.Context(), ctx.Param("quizId"), rows)
	if err != nil {
		handleError(ctx, err)
		return
	}
	util.Success(ctx, roster)
}

// GetRoster godoc
// @Summary 获取学生名单
// @Tags 阅卷
// @Produce json
// @Security BearerAuth
// @Param quizId path string true "试卷ID"
// @Success 200 {object} util.Response{data=[]model.RosterEntry}
// @Router /quizzes/{quizId}/roster [get]
func (c *AnalysisController) GetRoster(ctx *gin.Context) {
	roster, err := c.AnalysisService.Roster(ctx.Param("quizId"))
	if err != nil {
		handleError(ctx, err)
		return
	}
	util.Success(ctx, roster)
}

// RunAnalysis godoc
// @Summary 执行识别分析
// @Description 同步执行，完成后返回最终状态；工具链失败时状态为 failed
// @Tags 阅卷
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param quizId path string true "试卷ID"
// @Param request body RunAnalysisRequest false "阈值"
// @Success 200 {object} util.Response{data=grading.State}
// @Failure 409 {object} util.Response "当前状态不允许分析"
// @Failure 502 {object} util.Response "工具链执行失败"
// @Router /quizzes/{quizId}/analysis [post]
func (c *AnalysisController) RunAnalysis(ctx *gin.Context) {
	var req RunAnalysisRequest
	if ctx.Request.ContentLength > 0 {
		if err := ctx.ShouldBindJSON(&req); err != nil {
			util.BadRequest(ctx, err.Error())
			return
		}
	}
	state, err := c.AnalysisService.RunAnalysis(ctx.Request.Context(), ctx.Param("quizId"), req.Threshold)
	if err != nil {
		handleError(ctx, err)
		return
	}
	util.Success(ctx, state)
}

// GetStatus godoc
// @Summary 获取分析状态
// @Tags 阅卷
// @Produce json
// @Security BearerAuth
// @Param quizId path string true "试卷ID"
// @Success 200 {object} util.Response{data=grading.State}
// @Router /quizzes/{quizId}/analysis/status [get]
func (c *AnalysisController) GetStatus(ctx *gin.Context) {
	state, err := c.AnalysisService.Status(ctx.Param("quizId"))
	if err != nil {
		handleError(ctx, err)
		return
	}
	util.Success(ctx, state)
}

// StreamStatus godoc
// @Summary 订阅分析状态变化
// @Description 升级为 WebSocket，连接后先推送当前状态，之后每次状态变化推送一次。浏览器无法设置请求头，可用 token 查询参数鉴权
// @Tags 阅卷
// @Security BearerAuth
// @Param quizId path string true "试卷ID"
// @Param token query string false "JWT"
// @Success 101 {object} service.StatusEvent
// @Router /quizzes/{quizId}/analysis/status/stream [get]
func (c *AnalysisController) StreamStatus(ctx *gin.Context) {
	quizID := ctx.Param("quizId")
	c.Hub.ServeStatus(ctx.Writer, ctx.Request, quizID, func() (grading.State, error) {
		return c.AnalysisService.Status(quizID)
	})
}

// GetCheckboxes godoc
// @Summary 获取勾选框识别结果
// @Description 按当前阈值分类并合并人工修正
// @Tags 阅卷
// @Produce json
// @Security BearerAuth
// @Param quizId path string true "试卷ID"
// @Success 200 {object} util.Response{data=service.CheckboxReport}
// @Failure 404 {object} util.Response "识别数据不存在"
// @Failure 409 {object} util.Response "分析尚未完成"
// @Router /quizzes/{quizId}/analysis/checkboxes [get]
func (c *AnalysisController) GetCheckboxes(ctx *gin.Context) {
	report, err := c.AnalysisService.GetCheckboxes(ctx.Request.Context(), ctx.Param("quizId"))
	if err != nil {
		handleError(ctx, err)
		return
	}
	util.Success(ctx, report)
}

// UpdateCheckboxes godoc
// @Summary 修改阈值和人工修正
// @Description overrides 会整体替换已保存的修正列表，省略时保持不变
// @Tags 阅卷
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param quizId path string true "试卷ID"
// @Param request body service.CheckboxUpdate true "阈值和修正"
// @Success 200 {object} util.Response{data=service.CheckboxReport}
// @Failure 400 {object} util.Response "参数不合法"
// @Router /quizzes/{quizId}/analysis/checkboxes [patch]
func (c *AnalysisController) UpdateCheckboxes(ctx *gin.Context) {
	var req service.CheckboxUpdate
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}
	report, err := c.AnalysisService.UpdateCheckboxes(ctx.Request.Context(), ctx.Param("quizId"), req)
	if err != nil {
		handleError(ctx, err)
		return
	}
	util.Success(ctx, report)
}

// Recalculate godoc
// @Summary 重新评分并生成批注副本
// @Tags 阅卷
// @Produce json
// @Security BearerAuth
// @Param quizId path string true "试卷ID"
// @Success 200 {object} util.Response{data=grading.State}
// @Failure 409 {object} util.Response "分析尚未完成"
// @Failure 502 {object} util.Response "工具链执行失败"
// @Router /quizzes/{quizId}/analysis/recalculate [post]
func (c *AnalysisController) Recalculate(ctx *gin.Context) {
	state, err := c.AnalysisService.Recalculate(ctx.Request.Context(), ctx.Param("quizId"))
	if err != nil {
		handleError(ctx, err)
		return
	}
	util.Success(ctx, state)
}

// GetNotes godoc
// @Summary 获取成绩表
// @Tags 阅卷
// @Produce json
// @Security BearerAuth
// @Param quizId path string true "试卷ID"
// @Success 200 {object} util.Response
// @Router /quizzes/{quizId}/analysis/notes [get]
func (c *AnalysisController) GetNotes(ctx *gin.Context) {
	rows, err := c.AnalysisService.Notes(ctx.Param("quizId"))
	if err != nil {
		handleError(ctx, err)
		return
	}
	util.Success(ctx, gin.H{"notes": rows})
}

// DownloadNotes godoc
// @Summary 下载成绩表文件
// @Tags 阅卷
// @Produce octet-stream
// @Security BearerAuth
// @Param quizId path string true "试卷ID"
// @Param format query string false "csv 或 ods"
// @Success 200 {file} file
// @Router /quizzes/{quizId}/analysis/notes/file [get]
func (c *AnalysisController) DownloadNotes(ctx *gin.Context) {
	p, err := c.AnalysisService.NotesFile(ctx.Param("quizId"), ctx.Query("format"))
	if err != nil {
		handleError(ctx, err)
		return
	}
	ctx.FileAttachment(p, filepath.Base(p))
}

// GetPageImage godoc
// @Summary 获取批注后的页面图片
// @Tags 阅卷
// @Produce json
// @Security BearerAuth
// @Param quizId path string true "试卷ID"
// @Param student path string true "学生编号"
// @Param page path string true "页码"
// @Success 200 {object} util.Response{data=service.PageImage}
// @Router /quizzes/{quizId}/analysis/page-images/{student}/{page} [get]
func (c *AnalysisController) GetPageImage(ctx *gin.Context) {
	img, err := c.AnalysisService.PageImage(ctx.Param("quizId"), ctx.Param("student"), ctx.Param("page"))
	if err != nil {
		handleError(ctx, err)
		return
	}
	util.Success(ctx, img)
}

// DownloadCorrections godoc
// @Summary 下载全部批注副本
// @Tags 阅卷
// @Produce application/zip
// @Security BearerAuth
// @Param quizId path string true "试卷ID"
// @Success 200 {file} file
// @Router /quizzes/{quizId}/analysis/corrections.zip [get]
func (c *AnalysisController) DownloadCorrections(ctx *gin.Context) {
	data, err := c.AnalysisService.CorrectionsArchive(ctx.Param("quizId"))
	if err != nil {
		handleError(ctx, err)
		return
	}
	ctx.Header("Content-Disposition", `attachment; filename="corrections.zip"`)
	ctx.Data(http.StatusOK, util.MimeZip, data)
}
