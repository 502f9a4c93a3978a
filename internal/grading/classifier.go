package grading

import "strconv"

// DefaultThreshold 未指定阈值时使用
const DefaultThreshold = 0.5

// Classify 填涂比例不低于阈值即视为已勾选
func Classify(ratio, threshold float64) bool {
	return ratio >= threshold
}

func ValidateThreshold(threshold float64) error {
	if threshold < 0 || threshold > 1 {
		return ErrInvalidThreshold
	}
	return nil
}

// BoxKey 唯一标识一次勾选框检测：学生、页码、勾选框
type BoxKey struct {
	Student  string
	Page     string
	Checkbox string
}

// Detection 外部工具链产出的一条检测记录
type Detection struct {
	Student  int
	Page     int
	Checkbox int
	Ratio    float64
}

func (d Detection) Key() BoxKey {
	return BoxKey{
		Student:  strconv.Itoa(d.Student),
		Page:     strconv.Itoa(d.Page),
		Checkbox: strconv.Itoa(d.Checkbox),
	}
}

// BoxEntry 返回给调用方的单个勾选框；人工生成的条目没有 ratio
type BoxEntry struct {
	Student    string   `json:"student"`
	Page       string   `json:"page"`
	Checkbox   string   `json:"checkbox"`
	Ratio      *float64 `json:"ratio"`
	Overridden bool     `json:"overridden,omitempty"`
}

func (e BoxEntry) Key() BoxKey {
	return BoxKey{Student: e.Student, Page: e.Page, Checkbox: e.Checkbox}
}

type Classification struct {
	Checked   []BoxEntry `json:"checked"`
	Unchecked []BoxEntry `json:"unchecked"`
}

// ClassifyDetections 按阈值把检测记录分为已勾选和未勾选两组，保持输入顺序
func ClassifyDetections(rows []Detection, threshold float64) Classification {
	out := Classification{
		Checked:   make([]BoxEntry, 0),
		Unchecked: make([]BoxEntry, 0),
	}
	for _, row := range rows {
		key := row.Key()
		ratio := row.Ratio
		entry := BoxEntry{
			Student:  key.Student,
			Page:     key.Page,
			Checkbox: key.Checkbox,
			Ratio:    &ratio,
		}
		if Classify(row.Ratio, threshold) {
			out.Checked = append(out.Checked, entry)
		} else {
			out.Unchecked = append(out.Unchecked, entry)
		}
	}
	return out
}
