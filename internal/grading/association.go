package grading

import (
	"context"
	"errors"
	"fmt"
)

// Association 扫描副本与学生身份的对应关系，人工值优先于自动识别值
type Association struct {
	Student int     `json:"student"`
	Copy    int     `json:"copy"`
	Manual  *string `json:"manual"`
	Auto    *string `json:"auto"`
}

// Identity 下游使用的最终身份
func (a Association) Identity() *string {
	if a.Manual != nil {
		return a.Manual
	}
	return a.Auto
}

// AssociationCorrection 将 Manual 设为 nil 表示清除人工值
type AssociationCorrection struct {
	Student *int    `json:"student"`
	Manual  *string `json:"manual"`
}

type AssociationStore interface {
	SetManualIdentities(ctx context.Context, corrections []AssociationCorrection) error
	// ManualIdentities 返回已存在学生当前的人工值，不存在的学生不出现在结果中
	ManualIdentities(ctx context.Context, students []int) (map[int]*string, error)
}

// CaptureStore 保存每个学生每页的批注/人工时间戳，重置后下游会重新生成批注副本
type CaptureStore interface {
	// CheckWritable 确认批注缓存可以被失效；尚无缓存时返回 nil
	CheckWritable(ctx context.Context) error
	InvalidateStudents(ctx context.Context, students []int) error
}

func ValidateCorrections(corrections []AssociationCorrection) error {
	for i, c := range corrections {
		if c.Student == nil {
			return fmt.Errorf("%w: entry %d requires student", ErrInvalidAssociation, i)
		}
	}
	return nil
}

// AssociationReconciler 应用人工身份修正并使对应学生的批注缓存失效
type AssociationReconciler struct {
	Associations AssociationStore
	Capture      CaptureStore
}

// Apply 先校验整批数据再写入；每个被修正的学生都会被失效，与新旧值是否相同无关。
// 失效失败时恢复原有人工值，整批不生效。
// 返回被失效的学生编号（去重，保持首次出现顺序）。
func (r *AssociationReconciler) Apply(ctx context.Context, corrections []AssociationCorrection) ([]int, error) {
	if err := ValidateCorrections(corrections); err != nil {
		return nil, err
	}
	if len(corrections) == 0 {
		return []int{}, nil
	}

	seen := make(map[int]bool, len(corrections))
	students := make([]int, 0, len(corrections))
	for _, c := range corrections {
		if !seen[*c.Student] {
			seen[*c.Student] = true
			students = append(students, *c.Student)
		}
	}

	if r.Capture != nil {
		if err := r.Capture.CheckWritable(ctx); err != nil {
			return nil, err
		}
	}
	previous, err := r.Associations.ManualIdentities(ctx, students)
	if err != nil {
		return nil, err
	}
	if err := r.Associations.SetManualIdentities(ctx, corrections); err != nil {
		return nil, err
	}
	if r.Capture == nil {
		return students, nil
	}
	if err := r.Capture.InvalidateStudents(ctx, students); err != nil {
		restore := make([]AssociationCorrection, 0, len(students))
		for _, student := range students {
			if manual, ok := previous[student]; ok {
				restore = append(restore, AssociationCorrection{Student: &student, Manual: manual})
			}
		}
		if rbErr := r.Associations.SetManualIdentities(ctx, restore); rbErr != nil {
			return nil, errors.Join(err, fmt.Errorf("restore manual identities: %w", rbErr))
		}
		return nil, err
	}
	return students, nil
}
