package grading

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

func completedState(t *testing.T) State {
	t.Helper()
	s, err := CopiesUploaded(NewState(), 4, now)
	require.NoError(t, err)
	s, err = StartAnalysis(s, 0.4, true, true, now)
	require.NoError(t, err)
	s, err = Complete(s, 2, now)
	require.NoError(t, err)
	return s
}

func TestHappyPath(t *testing.T) {
	s := completedState(t)
	assert.Equal(t, StatusCompleted, s.Status)
	assert.Equal(t, 0.4, s.Threshold)
	assert.Equal(t, 4, s.PageCount)
	assert.Equal(t, 2, s.StudentCount)
	assert.Nil(t, s.RecalculatedAt)
}

func TestStartAnalysisPreconditions(t *testing.T) {
	idle := NewState()

	_, err := StartAnalysis(idle, 0.5, false, true, now)
	assert.ErrorIs(t, err, ErrDocumentMissing)

	_, err = StartAnalysis(idle, 0.5, true, false, now)
	assert.ErrorIs(t, err, ErrNoScans)

	_, err = StartAnalysis(idle, 2, true, true, now)
	assert.ErrorIs(t, err, ErrInvalidThreshold)

	running, err := StartAnalysis(idle, 0.5, true, true, now)
	require.NoError(t, err)
	_, err = StartAnalysis(running, 0.5, true, true, now)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = StartAnalysis(completedState(t), 0.5, true, true, now)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestFailurePreservesThreshold(t *testing.T) {
	s, err := StartAnalysis(NewState(), 0.35, true, true, now)
	require.NoError(t, err)
	s, err = Fail(s, "analyse exited with status 2", now)
	require.NoError(t, err)

	assert.Equal(t, StatusFailed, s.Status)
	assert.Equal(t, 0.35, s.Threshold)
	require.NotNil(t, s.LastError)
	assert.Equal(t, "analyse exited with status 2", *s.LastError)

	_, err = StartAnalysis(s, 0.35, true, true, now)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	// 重新导入扫描件后可以再次分析
	s, err = CopiesUploaded(s, 3, now)
	require.NoError(t, err)
	assert.Nil(t, s.LastError)
	_, err = StartAnalysis(s, 0.35, true, true, now)
	assert.NoError(t, err)
}

func TestCompleteAndFailRequireRunning(t *testing.T) {
	_, err := Complete(NewState(), 1, now)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	_, err = Fail(NewState(), "boom", now)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestUploadRefusedWhileRunning(t *testing.T) {
	s, err := StartAnalysis(NewState(), 0.5, true, true, now)
	require.NoError(t, err)
	_, err = CopiesUploaded(s, 2, now)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestRecalculate(t *testing.T) {
	_, err := Recalculate(NewState(), now)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	running, err := StartAnalysis(NewState(), 0.5, true, true, now)
	require.NoError(t, err)
	_, err = Recalculate(running, now)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	later := now.Add(time.Hour)
	s, err := Recalculate(completedState(t), later)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, s.Status)
	require.NotNil(t, s.RecalculatedAt)
	assert.Equal(t, later, *s.RecalculatedAt)
	assert.Equal(t, later, *s.UpdatedAt)
}

func TestRosterUpdateKeepsStatus(t *testing.T) {
	for _, s := range []State{NewState(), completedState(t)} {
		updated := RosterUpdated(s, 30, now)
		assert.Equal(t, s.Status, updated.Status)
		assert.Equal(t, 30, updated.StudentCount)
	}
}

func TestCanQueryDetections(t *testing.T) {
	assert.ErrorIs(t, CanQueryDetections(NewState()), ErrAnalysisNotCompleted)
	assert.NoError(t, CanQueryDetections(completedState(t)))

	_, err := UpdateThreshold(NewState(), 0.3, now)
	assert.ErrorIs(t, err, ErrAnalysisNotCompleted)
	s, err := UpdateThreshold(completedState(t), 0.3, now)
	require.NoError(t, err)
	assert.Equal(t, 0.3, s.Threshold)
}
