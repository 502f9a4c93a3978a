package model

// RosterEntry 试卷名单中的一名学生，导出为 list.csv 的一行
// swagger:model RosterEntry
type RosterEntry struct {
	BaseModel
	QuizID    string `gorm:"type:varchar(36);index;not null" json:"-"`
	StudentID string `gorm:"size:64" json:"id"`
	LastName  string `gorm:"size:100" json:"nom"`
	FirstName string `gorm:"size:100" json:"prenom"`
	Email     string `gorm:"size:255" json:"email"`
	Position  int    `json:"-"`
}

func (RosterEntry) TableName() string {
	return "students"
}
