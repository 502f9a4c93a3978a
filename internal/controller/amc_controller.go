package controller

import (
	"path/filepath"
	"quizmark_backend/internal/service"
	"quizmark_backend/internal/util"

	"github.com/gin-gonic/gin"
)

// AMCController LaTeX 源文件生成和排版
type AMCController struct {
	CompileService *service.CompileService
}

func NewAMCController(compileService *service.CompileService) *AMCController {
	return &AMCController{CompileService: compileService}
}

// GenerateLatex godoc
// @Summary 生成 LaTeX 源文件
// @Description 根据当前题目生成 sujet.tex，相同内容总是得到相同输出
// @Tags AMC
// @Produce json
// @Security BearerAuth
// @Param quizId path string true "试卷ID"
// @Success 200 {object} util.Response
// @Failure 400 {object} util.Response "试卷没有题目"
// @Router /quizzes/{quizId}/amc/latex [post]
func (c *AMCController) GenerateLatex(ctx *gin.Context) {
	source, err := c.CompileService.GenerateSource(ctx.Request.Context(), ctx.Param("quizId"))
	if err != nil {
		handleError(ctx, err)
		return
	}
	util.Success(ctx, gin.H{"latex": source})
}

// GetLatex godoc
// @Summary 获取已生成的 LaTeX 源文件
// @Tags AMC
// @Produce json
// @Security BearerAuth
// @Param quizId path string true "试卷ID"
// @Success 200 {object} util.Response
// @Failure 404 {object} util.Response "尚未生成"
// @Router /quizzes/{quizId}/amc/latex [get]
func (c *AMCController) GetLatex(ctx *gin.Context) {
	source, err := c.CompileService.Source(ctx.Param("quizId"))
	if err != nil {
		handleError(ctx, err)
		return
	}
	util.Success(ctx, gin.H{"latex": source})
}

// Compile godoc
// @Summary 排版生成题目和答案 PDF
// @Tags AMC
// @Produce json
// @Security BearerAuth
// @Param quizId path string true "试卷ID"
// @Success 200 {object} util.Response
// @Failure 400 {object} util.Response "尚未生成源文件"
// @Failure 409 {object} util.Response "同一试卷有其他操作正在执行"
// @Failure 502 {object} util.Response "排版失败"
// @Router /quizzes/{quizId}/amc/compile [post]
func (c *AMCController) Compile(ctx *gin.Context) {
	if err := c.CompileService.Compile(ctx.Request.Context(), ctx.Param("quizId")); err != nil {
		handleError(ctx, err)
		return
	}
	util.Success(ctx, gin.H{"files": []string{util.SubjectPDF, util.AnswersPDF}})
}

// GetLogs godoc
// @Summary 获取排版日志
// @Tags AMC
// @Produce json
// @Security BearerAuth
// @Param quizId path string true "试卷ID"
// @Success 200 {object} util.Response
// @Router /quizzes/{quizId}/amc/logs [get]
func (c *AMCController) GetLogs(ctx *gin.Context) {
	logs, err := c.CompileService.Logs(ctx.Param("quizId"))
	if err != nil {
		handleError(ctx, err)
		return
	}
	util.Success(ctx, gin.H{"logs": logs})
}

// DownloadExport godoc
// @Summary 下载编译产物
// @Tags AMC
// @Produce application/pdf
// @Security BearerAuth
// @Param quizId path string true "试卷ID"
// @Param filename path string true "sujet.pdf 或 reponses.pdf"
// @Success 200 {file} file
// @Failure 404 {object} util.Response "文件不存在"
// @Router /quizzes/{quizId}/amc/exports/{filename} [get]
func (c *AMCController) DownloadExport(ctx *gin.Context) {
	name := filepath.Base(ctx.Param("filename"))
	p, err := c.CompileService.ExportPath(ctx.Param("quizId"), name)
	if err != nil {
		handleError(ctx, err)
		return
	}
	ctx.Header("Content-Type", util.MimePDF)
	ctx.FileAttachment(p, name)
}
