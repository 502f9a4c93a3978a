package model

// 以下类型映射识别工具链在会话 data/ 目录下写入的 SQLite 文件，由工具链负责建表

// BoxRow analysis.sqlite 中每个选框的填涂比例
type BoxRow struct {
	Student  int     `gorm:"column:student"`
	Page     int     `gorm:"column:page"`
	Checkbox int     `gorm:"column:checkbox"`
	Ratio    float64 `gorm:"column:ratio"`
}

func (BoxRow) TableName() string {
	return "boxes"
}

// AssociationRow association.sqlite 中副本与学生身份的对应
type AssociationRow struct {
	Student int     `gorm:"column:student;primaryKey"`
	Copy    int     `gorm:"column:copy;primaryKey"`
	Manual  *string `gorm:"column:manual"`
	Auto    *string `gorm:"column:auto"`
}

func (AssociationRow) TableName() string {
	return "association_association"
}

// StaleTimestamp 时间戳为 0 时工具链会重新生成该页的批注
const StaleTimestamp int64 = 0

// CapturePage capture.sqlite 中每页的批注与人工录入时间戳
type CapturePage struct {
	Student           int   `gorm:"column:student;primaryKey"`
	Page              int   `gorm:"column:page;primaryKey"`
	Copy              int   `gorm:"column:copy;primaryKey"`
	TimestampAnnotate int64 `gorm:"column:timestamp_annotate"`
	TimestampManual   int64 `gorm:"column:timestamp_manual"`
}

func (CapturePage) TableName() string {
	return "capture_page"
}
