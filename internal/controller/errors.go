package controller

import (
	"errors"
	"net/http"
	"quizmark_backend/internal/service"
	"quizmark_backend/internal/util"

	"github.com/gin-gonic/gin"
)

var (
	notFoundErrors = []error{
		util.ErrQuizNotFound,
		util.ErrSubjectNotFound,
		util.ErrQuestionNotFound,
		util.ErrAnswerNotFound,
		util.ErrDataUnavailable,
	}
	conflictErrors = []error{
		util.ErrInvalidTransition,
		util.ErrAnalysisNotCompleted,
		util.ErrConcurrentTransition,
		util.ErrQuizLocked,
	}
	badRequestErrors = []error{
		util.ErrNoQuestions,
		util.ErrInvalidOrdering,
		util.ErrInvalidQuestion,
		util.ErrInvalidRoster,
		util.ErrInvalidThreshold,
		util.ErrInvalidOverride,
		util.ErrInvalidAssociation,
		util.ErrUnsupportedQuestionType,
		util.ErrInvalidIllustration,
		util.ErrInvalidFile,
		util.ErrDocumentMissing,
		util.ErrNoScans,
	}
)

func isAny(err error, targets []error) bool {
	for _, t := range targets {
		if errors.Is(err, t) {
			return true
		}
	}
	return false
}

// statusFor 业务错误对应的 HTTP 状态码
func statusFor(err error) int {
	var toolErr *service.ToolchainError
	switch {
	case errors.As(err, &toolErr):
		return http.StatusBadGateway
	case errors.Is(err, util.ErrPermissionDenied):
		return http.StatusForbidden
	case isAny(err, notFoundErrors):
		return http.StatusNotFound
	case isAny(err, conflictErrors):
		return http.StatusConflict
	case isAny(err, badRequestErrors):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func handleError(ctx *gin.Context, err error) {
	switch code := statusFor(err); code {
	case http.StatusBadGateway:
		util.BadGateway(ctx, err.Error())
	case http.StatusForbidden:
		util.Forbidden(ctx)
	case http.StatusInternalServerError:
		util.LogInternalError(ctx, err)
	default:
		util.Error(ctx, code, err.Error())
	}
}
