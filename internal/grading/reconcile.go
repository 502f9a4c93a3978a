package grading

import (
	"fmt"
	"strings"
)

// Override 人工修正的勾选状态
type Override struct {
	Student  string `json:"student"`
	Page     string `json:"page"`
	Checkbox string `json:"checkbox"`
	Checked  bool   `json:"checked"`
}

func (o Override) Key() BoxKey {
	return BoxKey{Student: o.Student, Page: o.Page, Checkbox: o.Checkbox}
}

// NormalizeOverrides 去除首尾空白并校验整批数据，任何一条不合法则整批拒绝
func NormalizeOverrides(overrides []Override) ([]Override, error) {
	out := make([]Override, 0, len(overrides))
	for i, o := range overrides {
		o.Student = strings.TrimSpace(o.Student)
		o.Page = strings.TrimSpace(o.Page)
		o.Checkbox = strings.TrimSpace(o.Checkbox)
		if o.Student == "" || o.Page == "" || o.Checkbox == "" {
			return nil, fmt.Errorf("%w: entry %d requires student, page and checkbox", ErrInvalidOverride, i)
		}
		out = append(out, o)
	}
	return out, nil
}

// Dedupe 同一个键只保留最后一次写入，位置移到最后一次出现处
func Dedupe(overrides []Override) []Override {
	last := make(map[BoxKey]int, len(overrides))
	for i, o := range overrides {
		last[o.Key()] = i
	}
	out := make([]Override, 0, len(last))
	for i, o := range overrides {
		if last[o.Key()] == i {
			out = append(out, o)
		}
	}
	return out
}

type reconciled struct {
	entry   BoxEntry
	checked bool
}

// Reconcile 将人工修正合并到检测结果上。
// 修正按列表顺序应用，同一键后写覆盖先写；检测结果中不存在的键会生成 ratio 为空的条目。
// 每个键只出现在两个输出列表之一，顺序为首次出现的顺序。
func Reconcile(base Classification, overrides []Override) Classification {
	combined := make(map[BoxKey]*reconciled, len(base.Checked)+len(base.Unchecked)+len(overrides))
	order := make([]BoxKey, 0, len(base.Checked)+len(base.Unchecked))

	add := func(e BoxEntry, checked bool) {
		key := e.Key()
		if _, ok := combined[key]; !ok {
			order = append(order, key)
		}
		combined[key] = &reconciled{entry: e, checked: checked}
	}
	for _, e := range base.Checked {
		add(e, true)
	}
	for _, e := range base.Unchecked {
		add(e, false)
	}

	for _, o := range overrides {
		key := o.Key()
		r, ok := combined[key]
		if !ok {
			r = &reconciled{entry: BoxEntry{
				Student:  o.Student,
				Page:     o.Page,
				Checkbox: o.Checkbox,
			}}
			combined[key] = r
			order = append(order, key)
		}
		r.checked = o.Checked
		r.entry.Overridden = true
	}

	out := Classification{
		Checked:   make([]BoxEntry, 0),
		Unchecked: make([]BoxEntry, 0),
	}
	for _, key := range order {
		r := combined[key]
		if r.checked {
			out.Checked = append(out.Checked, r.entry)
		} else {
			out.Unchecked = append(out.Unchecked, r.entry)
		}
	}
	return out
}
