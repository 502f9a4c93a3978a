package service

import (
	"bytes"
	"fmt"
	"quizmark_backend/internal/model"
	"quizmark_backend/internal/util"
	"quizmark_backend/pkg/logger"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// QuizDefinition 试卷的 YAML 描述，用于批量导入题库
//
//	title: Examen
//	id_digits: 8
//	subjects:
//	  - title: Géographie
//	    questions:
//	      - text: Capitale de la France ?
//	        answers:
//	          - {text: Paris, correct: true}
//	          - {text: Lyon}
//
// 顶层 questions 放入第一个分组。
type QuizDefinition struct {
	Title               string               `yaml:"title"`
	Institution         string               `yaml:"institution"`
	Instructions        string               `yaml:"instructions"`
	CodingExplanation   string               `yaml:"coding_explanation"`
	Language            string               `yaml:"language"`
	IDDigits            *int                 `yaml:"id_digits"`
	RandomQuestionOrder bool                 `yaml:"random_question_order"`
	RandomAnswerOrder   bool                 `yaml:"random_answer_order"`
	Subjects            []SubjectDefinition  `yaml:"subjects"`
	Questions           []QuestionDefinition `yaml:"questions"`
}

type SubjectDefinition struct {
	Title     string               `yaml:"title"`
	Questions []QuestionDefinition `yaml:"questions"`
}

type QuestionDefinition struct {
	Text                 string             `yaml:"text"`
	Type                 string             `yaml:"type"`
	Points               *float64           `yaml:"points"`
	Lines                int                `yaml:"lines"`
	IllustrationFilename string             `yaml:"illustration"`
	IllustrationWidth    *float64           `yaml:"illustration_width"`
	Answers              []AnswerDefinition `yaml:"answers"`
}

type AnswerDefinition struct {
	Text    string `yaml:"text"`
	Correct bool   `yaml:"correct"`
}

// ParseQuizDefinition 解析并校验 YAML，未知字段视为错误
func ParseQuizDefinition(data []byte) (*QuizDefinition, error) {
	var def QuizDefinition
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&def); err != nil {
		return nil, fmt.Errorf("%w: %v", util.ErrInvalidFile, err)
	}
	if err := def.validate(); err != nil {
		return nil, err
	}
	return &def, nil
}

func (d *QuizDefinition) request() QuizRequest {
	req := QuizRequest{
		RandomQuestionOrder: &d.RandomQuestionOrder,
		RandomAnswerOrder:   &d.RandomAnswerOrder,
		IDDigits:            d.IDDigits,
	}
	for _, f := range []struct {
		src string
		dst **string
	}{
		{d.Title, &req.Title},
		{d.Institution, &req.Institution},
		{d.Instructions, &req.Instructions},
		{d.CodingExplanation, &req.CodingExplanation},
		{d.Language, &req.Language},
	} {
		if f.src != "" {
			v := f.src
			*f.dst = &v
		}
	}
	return req
}

// subjects 顶层题目并入第一个分组；没有任何分组时使用默认分组
func (d *QuizDefinition) subjects() []SubjectDefinition {
	out := append([]SubjectDefinition(nil), d.Subjects...)
	if len(d.Questions) == 0 {
		return out
	}
	if len(out) == 0 {
		return []SubjectDefinition{{Questions: d.Questions}}
	}
	first := out[0]
	first.Questions = append(append([]QuestionDefinition(nil), d.Questions...), first.Questions...)
	out[0] = first
	return out
}

func (d *QuizDefinition) validate() error {
	if err := d.request().validate(); err != nil {
		return err
	}
	count := 0
	for si, s := range d.subjects() {
		for qi, q := range s.Questions {
			if err := q.request("").validate(); err != nil {
				return fmt.Errorf("subject %d question %d: %w", si+1, qi+1, err)
			}
			count++
		}
	}
	if count == 0 {
		return util.ErrNoQuestions
	}
	return nil
}

func (q QuestionDefinition) request(subjectID string) QuestionRequest {
	answers := make([]AnswerRequest, len(q.Answers))
	for i, a := range q.Answers {
		answers[i] = AnswerRequest{Text: a.Text, Correct: a.Correct}
	}
	return QuestionRequest{
		Text:                 q.Text,
		Type:                 q.Type,
		SubjectID:            subjectID,
		Points:               q.Points,
		IllustrationFilename: q.IllustrationFilename,
		IllustrationWidth:    q.IllustrationWidth,
		NumberOfLines:        q.Lines,
		Answers:              answers,
	}
}

// ImportQuiz 按描述创建试卷；第一个分组复用创建试卷时生成的默认分组
func (s *QuizService) ImportQuiz(ownerID uint, def *QuizDefinition) (*model.Quiz, error) {
	if err := def.validate(); err != nil {
		return nil, err
	}
	quiz, err := s.CreateQuiz(ownerID, def.request())
	if err != nil {
		return nil, err
	}
	defaultID, err := s.defaultSubject(quiz.ID)
	if err != nil {
		return nil, err
	}

	questions := 0
	for i, sd := range def.subjects() {
		subjectID := defaultID
		title := strings.TrimSpace(sd.Title)
		switch {
		case i == 0 && title != "":
			if err := s.QuizRepo.RenameSubject(quiz.ID, defaultID, title); err != nil {
				return nil, err
			}
		case i > 0:
			if title == "" {
				title = model.DefaultSubjectTitle
			}
			subject, err := s.CreateSubject(quiz.ID, SubjectRequest{Title: title})
			if err != nil {
				return nil, err
			}
			subjectID = subject.ID
		}
		for _, qd := range sd.Questions {
			if _, err := s.CreateQuestion(quiz.ID, qd.request(subjectID)); err != nil {
				return nil, err
			}
			questions++
		}
	}
	logger.ForQuiz(quiz.ID).Info("Quiz imported", zap.Int("questions", questions), zap.Uint("owner_id", ownerID))
	return s.QuizRepo.FindByID(quiz.ID)
}
