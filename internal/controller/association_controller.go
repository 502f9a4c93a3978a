package controller

import (
	"quizmark_backend/internal/grading"
	"quizmark_backend/internal/service"
	"quizmark_backend/internal/util"

	"github.com/gin-gonic/gin"
)

type AssociationController struct {
	AssociationService *service.AssociationService
}

func NewAssociationController(associationService *service.AssociationService) *AssociationController {
	return &AssociationController{AssociationService: associationService}
}

// ListAssociations godoc
// @Summary 获取副本与学生的对应关系
// @Tags 阅卷
// @Produce json
// @Security BearerAuth
// @Param quizId path string true "试卷ID"
// @Success 200 {object} util.Response{data=[]service.AssociationView}
// @Failure 404 {object} util.Response "关联数据不存在"
// @Router /quizzes/{quizId}/analysis/associations [get]
func (c *AssociationController) ListAssociations(ctx *gin.Context) {
	rows, err := c.AssociationService.List(ctx.Request.Context(), ctx.Param("quizId"))
	if err != nil {
		handleError(ctx, err)
		return
	}
	util.Success(ctx, rows)
}

// UpdateAssociations godoc
// @Summary 人工修正学生身份
// @Description 整批校验后写入，被修正学生的批注副本会重新生成
// @Tags 阅卷
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param quizId path string true "试卷ID"
// @Param request body []grading.AssociationCorrection true "修正列表"
// @Success 200 {object} util.Response{data=[]service.AssociationView}
// @Failure 400 {object} util.Response "缺少 student"
// @Router /quizzes/{quizId}/analysis/associations [patch]
func (c *AssociationController) UpdateAssociations(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}
	var corrections []grading.AssociationCorrection
	if err := ctx.ShouldBindJSON(&corrections); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}
	rows, err := c.AssociationService.ApplyCorrections(ctx.Request.Context(), ctx.Param("quizId"), user.UserID, corrections)
	if err != nil {
		handleError(ctx, err)
		return
	}
	util.Success(ctx, rows)
}

// GetAssociationHistory godoc
// @Summary 身份修正记录
// @Tags 阅卷
// @Produce json
// @Security BearerAuth
// @Param quizId path string true "试卷ID"
// @Success 200 {object} util.Response{data=[]model.AssociationAudit}
// @Router /quizzes/{quizId}/analysis/associations/history [get]
func (c *AssociationController) GetAssociationHistory(ctx *gin.Context) {
	rows, err := c.AssociationService.History(ctx.Param("quizId"))
	if err != nil {
		handleError(ctx, err)
		return
	}
	util.Success(ctx, rows)
}
