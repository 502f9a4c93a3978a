package grading

import "errors"

var (
	ErrInvalidTransition    = errors.New("analysis status does not allow this operation")
	ErrAnalysisNotCompleted = errors.New("analysis has not completed")
	ErrDocumentMissing      = errors.New("compiled document source missing, generate it before analysis")
	ErrNoScans              = errors.New("no scan images found, upload copies first")
	ErrInvalidThreshold     = errors.New("threshold must be between 0 and 1")
	ErrInvalidOverride      = errors.New("invalid checkbox override")
	ErrInvalidAssociation   = errors.New("invalid association correction")
)
