package model

type QuizState string

const (
	QuizUnlocked QuizState = "unlocked"
	QuizLocked   QuizState = "locked"
)

// DefaultSubjectTitle 试卷没有任何分组时自动创建的分组标题
const DefaultSubjectTitle = "Nouvelle section"

// swagger:model Quiz
type Quiz struct {
	UUIDBase
	OwnerID             uint      `gorm:"index" json:"ownerId"`
	Title               string    `gorm:"size:255;not null" json:"title"`
	Institution         string    `gorm:"size:255" json:"institution"`
	Instructions        string    `gorm:"type:text" json:"instructions"`
	CodingExplanation   string    `gorm:"type:text" json:"codingExplanation"`
	Language            string    `gorm:"size:10" json:"language"`
	IDDigits            int       `json:"idDigits"`
	RandomQuestionOrder bool      `json:"randomQuestionOrder"`
	RandomAnswerOrder   bool      `json:"randomAnswerOrder"`
	State               QuizState `gorm:"size:20;not null" json:"state"`
	QuestionCount       int       `json:"questionCount"`
}

func (Quiz) TableName() string {
	return "quizzes"
}

func (q *Quiz) Locked() bool {
	return q.State == QuizLocked
}

// swagger:model Subject
type Subject struct {
	UUIDBase
	QuizID    string     `gorm:"type:varchar(36);index;not null" json:"quizId"`
	Title     string     `gorm:"size:255" json:"title"`
	SortOrder int        `json:"sortOrder"`
	Questions []Question `gorm:"foreignKey:SubjectID" json:"questions,omitempty"`
}

func (Subject) TableName() string {
	return "subjects"
}

// swagger:model Question
type Question struct {
	UUIDBase
	QuizID               string   `gorm:"type:varchar(36);index;not null" json:"quizId"`
	SubjectID            string   `gorm:"type:varchar(36);index;not null" json:"subjectId"`
	Text                 string   `gorm:"type:text" json:"text"`
	Type                 string   `gorm:"size:30;not null" json:"type"` // simple, multiple-choice, open
	Points               *float64 `json:"points"`
	Number               int      `gorm:"index" json:"number"`
	IllustrationFilename string   `gorm:"size:255" json:"illustrationFilename,omitempty"`
	IllustrationWidth    *float64 `json:"illustrationWidth,omitempty"`
	NumberOfLines        int      `json:"numberOfLines,omitempty"`
	Answers              []Answer `gorm:"foreignKey:QuestionID" json:"answers"`
}

func (Question) TableName() string {
	return "questions"
}

// swagger:model Answer
type Answer struct {
	UUIDBase
	QuestionID  string `gorm:"type:varchar(36);index;not null" json:"questionId"`
	Text        string `gorm:"type:text" json:"text"`
	Correct     bool   `json:"correct"`
	AnswerOrder int    `json:"answerOrder"`
}

func (Answer) TableName() string {
	return "answers"
}
