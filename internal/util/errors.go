package util

import (
	"errors"

	"quizmark_backend/internal/grading"
	"quizmark_backend/internal/latex"
)

var (
	ErrQuizNotFound         = errors.New("quiz not found")
	ErrQuizLocked           = errors.New("quiz is locked")
	ErrSubjectNotFound      = errors.New("subject not found")
	ErrQuestionNotFound     = errors.New("question not found")
	ErrAnswerNotFound       = errors.New("answer not found")
	ErrNoQuestions          = errors.New("quiz has no questions")
	ErrInvalidOrdering      = errors.New("ordering must list every item exactly once")
	ErrInvalidQuestion      = errors.New("invalid question")
	ErrInvalidRoster        = errors.New("invalid roster")
	ErrDataUnavailable      = errors.New("requested data is not available yet")
	ErrConcurrentTransition = errors.New("analysis status changed concurrently")
	ErrPermissionDenied     = errors.New("permission denied")
	ErrInvalidFile          = errors.New("invalid file")

	// 以下来自核心包，统一在此导出供控制器映射
	ErrInvalidTransition       = grading.ErrInvalidTransition
	ErrAnalysisNotCompleted    = grading.ErrAnalysisNotCompleted
	ErrDocumentMissing         = grading.ErrDocumentMissing
	ErrNoScans                 = grading.ErrNoScans
	ErrInvalidThreshold        = grading.ErrInvalidThreshold
	ErrInvalidOverride         = grading.ErrInvalidOverride
	ErrInvalidAssociation      = grading.ErrInvalidAssociation
	ErrUnsupportedQuestionType = latex.ErrUnsupportedQuestionType
	ErrInvalidIllustration     = latex.ErrInvalidIllustration
)
