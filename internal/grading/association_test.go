package grading

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAssociations struct {
	manual map[int]*string
	calls  int
	err    error
}

func (f *fakeAssociations) SetManualIdentities(_ context.Context, corrections []AssociationCorrection) error {
	f.calls++
	if f.err != nil {
		return f.err
	}
	for _, c := range corrections {
		f.manual[*c.Student] = c.Manual
	}
	return nil
}

func (f *fakeAssociations) ManualIdentities(_ context.Context, students []int) (map[int]*string, error) {
	out := make(map[int]*string)
	for _, s := range students {
		if v, ok := f.manual[s]; ok {
			out[s] = v
		}
	}
	return out, nil
}

type fakeCapture struct {
	invalidated   []int
	checkErr      error
	invalidateErr error
}

func (f *fakeCapture) CheckWritable(context.Context) error {
	return f.checkErr
}

func (f *fakeCapture) InvalidateStudents(_ context.Context, students []int) error {
	if f.invalidateErr != nil {
		return f.invalidateErr
	}
	f.invalidated = append(f.invalidated, students...)
	return nil
}

func intPtr(v int) *int       { return &v }
func strPtr(v string) *string { return &v }

func TestApplyInvalidatesEveryCorrectedStudent(t *testing.T) {
	assoc := &fakeAssociations{manual: map[int]*string{2: strPtr("0042")}}
	capture := &fakeCapture{}
	r := &AssociationReconciler{Associations: assoc, Capture: capture}

	// 新值与旧值相同也必须失效
	students, err := r.Apply(context.Background(), []AssociationCorrection{
		{Student: intPtr(2), Manual: strPtr("0042")},
		{Student: intPtr(5), Manual: strPtr("0007")},
		{Student: intPtr(2), Manual: strPtr("0042")},
	})
	require.NoError(t, err)
	assert.Equal(t, []int{2, 5}, students)
	assert.Equal(t, []int{2, 5}, capture.invalidated)
	assert.Equal(t, "0007", *assoc.manual[5])
}

func TestApplyRejectsWholeBatch(t *testing.T) {
	assoc := &fakeAssociations{manual: map[int]*string{}}
	capture := &fakeCapture{}
	r := &AssociationReconciler{Associations: assoc, Capture: capture}

	_, err := r.Apply(context.Background(), []AssociationCorrection{
		{Student: intPtr(1), Manual: strPtr("0001")},
		{Manual: strPtr("0002")},
	})
	assert.ErrorIs(t, err, ErrInvalidAssociation)
	assert.Zero(t, assoc.calls)
	assert.Empty(t, capture.invalidated)
}

func TestApplyStopsWhenStoreFails(t *testing.T) {
	assoc := &fakeAssociations{manual: map[int]*string{}, err: errors.New("disk full")}
	capture := &fakeCapture{}
	r := &AssociationReconciler{Associations: assoc, Capture: capture}

	_, err := r.Apply(context.Background(), []AssociationCorrection{{Student: intPtr(1)}})
	assert.Error(t, err)
	assert.Empty(t, capture.invalidated)
}

func TestApplyRejectsBatchWhenCaptureUnusable(t *testing.T) {
	assoc := &fakeAssociations{manual: map[int]*string{2: strPtr("0002")}}
	capture := &fakeCapture{checkErr: errors.New("file is not a database")}
	r := &AssociationReconciler{Associations: assoc, Capture: capture}

	_, err := r.Apply(context.Background(), []AssociationCorrection{{Student: intPtr(2), Manual: strPtr("0042")}})
	assert.Error(t, err)
	assert.Zero(t, assoc.calls)
	assert.Equal(t, "0002", *assoc.manual[2])
}

func TestApplyRestoresIdentitiesWhenInvalidationFails(t *testing.T) {
	assoc := &fakeAssociations{manual: map[int]*string{2: strPtr("0002"), 3: nil}}
	capture := &fakeCapture{invalidateErr: errors.New("disk I/O error")}
	r := &AssociationReconciler{Associations: assoc, Capture: capture}

	_, err := r.Apply(context.Background(), []AssociationCorrection{
		{Student: intPtr(2), Manual: strPtr("0042")},
		{Student: intPtr(3), Manual: strPtr("0043")},
	})
	assert.EqualError(t, err, "disk I/O error")
	assert.Equal(t, 2, assoc.calls)
	assert.Equal(t, "0002", *assoc.manual[2])
	assert.Nil(t, assoc.manual[3])
}

func TestIdentityPrefersManual(t *testing.T) {
	a := Association{Student: 1, Auto: strPtr("0001")}
	assert.Equal(t, "0001", *a.Identity())
	a.Manual = strPtr("0009")
	assert.Equal(t, "0009", *a.Identity())
}
