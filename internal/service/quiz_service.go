package service

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"quizmark_backend/internal/latex"
	"quizmark_backend/internal/model"
	"quizmark_backend/internal/repository"
	"quizmark_backend/internal/util"
	"quizmark_backend/pkg/logger"
	"strings"

	"go.uber.org/zap"
)

const (
	defaultIDDigits   = 8
	defaultPoints     = 1.0
	defaultOpenLines  = 5
	defaultLanguage   = "fr"
	maxIllustrationMB = 10
)

type QuizService struct {
	QuizRepo  *repository.QuizRepository
	Workspace *Workspace
	Storage   *StorageService
}

func NewQuizService(quizRepo *repository.QuizRepository, ws *Workspace, storage *StorageService) *QuizService {
	return &QuizService{QuizRepo: quizRepo, Workspace: ws, Storage: storage}
}

type QuizRequest struct {
	Title               *string `json:"title"`
	Institution         *string `json:"institution"`
	Instructions        *string `json:"instructions"`
	CodingExplanation   *string `json:"codingExplanation"`
	Language            *string `json:"language"`
	IDDigits            *int    `json:"idDigits"`
	RandomQuestionOrder *bool   `json:"randomQuestionOrder"`
	RandomAnswerOrder   *bool   `json:"randomAnswerOrder"`
}

func (r QuizRequest) validate() error {
	if r.Title != nil && strings.TrimSpace(*r.Title) == "" {
		return fmt.Errorf("%w: title must not be empty", util.ErrInvalidQuestion)
	}
	if r.IDDigits != nil && (*r.IDDigits < 0 || *r.IDDigits > 20) {
		return fmt.Errorf("%w: idDigits must be between 0 and 20", util.ErrInvalidQuestion)
	}
	return nil
}

func (r QuizRequest) apply(q *model.Quiz) {
	if r.Title != nil {
		q.Title = strings.TrimSpace(*r.Title)
	}
	if r.Institution != nil {
		q.Institution = *r.Institution
	}
	if r.Instructions != nil {
		q.Instructions = *r.Instructions
	}
	if r.CodingExplanation != nil {
		q.CodingExplanation = *r.CodingExplanation
	}
	if r.Language != nil {
		q.Language = *r.Language
	}
	if r.IDDigits != nil {
		q.IDDigits = *r.IDDigits
	}
	if r.RandomQuestionOrder != nil {
		q.RandomQuestionOrder = *r.RandomQuestionOrder
	}
	if r.RandomAnswerOrder != nil {
		q.RandomAnswerOrder = *r.RandomAnswerOrder
	}
}

// CreateQuiz 创建试卷并完成工作区初始化（默认分组、会话目录）
func (s *QuizService) CreateQuiz(ownerID uint, req QuizRequest) (*model.Quiz, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	quiz := &model.Quiz{
		OwnerID:  ownerID,
		Title:    "Quiz",
		Language: defaultLanguage,
		IDDigits: defaultIDDigits,
		State:    model.QuizUnlocked,
	}
	req.apply(quiz)
	if err := s.QuizRepo.Create(quiz); err != nil {
		return nil, err
	}
	if _, err := s.QuizRepo.ProvisionDefaultSubject(quiz.ID); err != nil {
		return nil, err
	}
	if err := s.Workspace.EnsureSession(quiz.ID); err != nil {
		return nil, err
	}
	logger.ForQuiz(quiz.ID).Info("Quiz provisioned", zap.Uint("owner_id", ownerID))
	return quiz, nil
}

func (s *QuizService) GetQuiz(quizID string) (*model.Quiz, error) {
	return s.QuizRepo.FindByID(quizID)
}

// CheckAccess 只有试卷所有者和管理员可以操作
func (s *QuizService) CheckAccess(quizID string, userID uint, role string) error {
	quiz, err := s.QuizRepo.FindByID(quizID)
	if err != nil {
		return err
	}
	if role == util.RoleAdmin || quiz.OwnerID == userID {
		return nil
	}
	return util.ErrPermissionDenied
}

func (s *QuizService) UpdateQuiz(quizID string, req QuizRequest) (*model.Quiz, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	quiz, err := s.editableQuiz(quizID)
	if err != nil {
		return nil, err
	}
	req.apply(quiz)
	if err := s.QuizRepo.Update(quiz); err != nil {
		return nil, err
	}
	return quiz, nil
}

func (s *QuizService) SetLocked(quizID string, locked bool) (*model.Quiz, error) {
	state := model.QuizUnlocked
	if locked {
		state = model.QuizLocked
	}
	if err := s.QuizRepo.SetState(quizID, state); err != nil {
		return nil, err
	}
	return s.QuizRepo.FindByID(quizID)
}

func (s *QuizService) editableQuiz(quizID string) (*model.Quiz, error) {
	quiz, err := s.QuizRepo.FindByID(quizID)
	if err != nil {
		return nil, err
	}
	if quiz.Locked() {
		return nil, util.ErrQuizLocked
	}
	return quiz, nil
}

// ListContent 分组及其题目和选项，只读
func (s *QuizService) ListContent(quizID string) ([]model.Subject, error) {
	if _, err := s.QuizRepo.FindByID(quizID); err != nil {
		return nil, err
	}
	return s.QuizRepo.ListSubjects(quizID)
}

type SubjectRequest struct {
	Title string `json:"title" binding:"required"`
}

func (s *QuizService) CreateSubject(quizID string, req SubjectRequest) (*model.Subject, error) {
	if _, err := s.editableQuiz(quizID); err != nil {
		return nil, err
	}
	subject := &model.Subject{QuizID: quizID, Title: strings.TrimSpace(req.Title)}
	if err := s.QuizRepo.CreateSubject(subject); err != nil {
		return nil, err
	}
	return subject, nil
}

func (s *QuizService) ReorderSubjects(quizID string, subjectIDs []string) error {
	if _, err := s.editableQuiz(quizID); err != nil {
		return err
	}
	return s.QuizRepo.ReorderSubjects(quizID, subjectIDs)
}

type AnswerRequest struct {
	Text    string `json:"text"`
	Correct bool   `json:"correct"`
}

type QuestionRequest struct {
	Text                 string          `json:"text" binding:"required"`
	Type                 string          `json:"type"`
	SubjectID            string          `json:"subjectId"`
	Points               *float64        `json:"points"`
	IllustrationFilename string          `json:"illustrationFilename"`
	IllustrationWidth    *float64        `json:"illustrationWidth"`
	NumberOfLines        int             `json:"numberOfLines"`
	Answers              []AnswerRequest `json:"answers"`
}

// QuestionUpdate 题目可修改的字段，nil 表示不修改；ClearPoints 将分值置空
type QuestionUpdate struct {
	Text                 *string  `json:"text"`
	Type                 *string  `json:"type"`
	SubjectID            *string  `json:"subjectId"`
	Points               *float64 `json:"points"`
	ClearPoints          bool     `json:"clearPoints"`
	IllustrationFilename *string  `json:"illustrationFilename"`
	IllustrationWidth    *float64 `json:"illustrationWidth"`
	NumberOfLines        *int     `json:"numberOfLines"`
}

func validQuestionType(t string) bool {
	switch t {
	case latex.TypeSingle, latex.TypeMultiple, latex.TypeOpen:
		return true
	}
	return false
}

func invalidQuestion(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", util.ErrInvalidQuestion, fmt.Sprintf(format, args...))
}

func validateIllustration(name string, width *float64) error {
	if name != "" && !latex.ValidIllustrationName(name) {
		return invalidQuestion("illustration filename %q is not a plain file name", name)
	}
	if width != nil && (*width <= 0 || *width > 100) {
		return invalidQuestion("illustrationWidth must be within (0, 100]")
	}
	return nil
}

// Validate 在修改任何数据之前校验整个更新
func (u QuestionUpdate) Validate() error {
	if u.Text != nil && strings.TrimSpace(*u.Text) == "" {
		return invalidQuestion("text must not be empty")
	}
	if u.Type != nil && !validQuestionType(*u.Type) {
		return fmt.Errorf("%w: %q", util.ErrUnsupportedQuestionType, *u.Type)
	}
	if u.Points != nil && *u.Points < 0 {
		return invalidQuestion("points must not be negative")
	}
	if u.ClearPoints && u.Points != nil {
		return invalidQuestion("points and clearPoints are mutually exclusive")
	}
	if u.NumberOfLines != nil && *u.NumberOfLines < 1 {
		return invalidQuestion("numberOfLines must be at least 1")
	}
	name := ""
	if u.IllustrationFilename != nil {
		name = *u.IllustrationFilename
	}
	return validateIllustration(name, u.IllustrationWidth)
}

func (u QuestionUpdate) Apply(q *model.Question) {
	if u.Text != nil {
		q.Text = *u.Text
	}
	if u.Type != nil {
		q.Type = *u.Type
		if q.Type == latex.TypeOpen && q.NumberOfLines == 0 {
			q.NumberOfLines = defaultOpenLines
		}
	}
	if u.SubjectID != nil {
		q.SubjectID = *u.SubjectID
	}
	if u.Points != nil {
		p := *u.Points
		q.Points = &p
	}
	if u.ClearPoints {
		q.Points = nil
	}
	if u.IllustrationFilename != nil {
		q.IllustrationFilename = *u.IllustrationFilename
	}
	if u.IllustrationWidth != nil {
		w := *u.IllustrationWidth
		q.IllustrationWidth = &w
	}
	if u.NumberOfLines != nil {
		q.NumberOfLines = *u.NumberOfLines
	}
}

func (s *QuizService) defaultSubject(quizID string) (string, error) {
	subjects, err := s.QuizRepo.ListSubjects(quizID)
	if err != nil {
		return "", err
	}
	if len(subjects) > 0 {
		return subjects[0].ID, nil
	}
	subject, err := s.QuizRepo.ProvisionDefaultSubject(quizID)
	if err != nil {
		return "", err
	}
	return subject.ID, nil
}

// validate 空题型按单选处理
func (req QuestionRequest) validate() error {
	if req.Type != "" && !validQuestionType(req.Type) {
		return fmt.Errorf("%w: %q", util.ErrUnsupportedQuestionType, req.Type)
	}
	if strings.TrimSpace(req.Text) == "" {
		return invalidQuestion("text must not be empty")
	}
	if req.Points != nil && *req.Points < 0 {
		return invalidQuestion("points must not be negative")
	}
	return validateIllustration(req.IllustrationFilename, req.IllustrationWidth)
}

func (s *QuizService) CreateQuestion(quizID string, req QuestionRequest) (*model.Question, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	if req.Type == "" {
		req.Type = latex.TypeSingle
	}
	if _, err := s.editableQuiz(quizID); err != nil {
		return nil, err
	}

	subjectID := req.SubjectID
	if subjectID == "" {
		id, err := s.defaultSubject(quizID)
		if err != nil {
			return nil, err
		}
		subjectID = id
	} else if _, err := s.QuizRepo.FindSubject(quizID, subjectID); err != nil {
		return nil, err
	}

	points := req.Points
	if points == nil {
		p := defaultPoints
		points = &p
	}
	q := &model.Question{
		QuizID:               quizID,
		SubjectID:            subjectID,
		Text:                 req.Text,
		Type:                 req.Type,
		Points:               points,
		IllustrationFilename: req.IllustrationFilename,
		IllustrationWidth:    req.IllustrationWidth,
		NumberOfLines:        req.NumberOfLines,
	}
	if q.Type == latex.TypeOpen && q.NumberOfLines <= 0 {
		q.NumberOfLines = defaultOpenLines
	}
	for _, a := range req.Answers {
		q.Answers = append(q.Answers, model.Answer{Text: a.Text, Correct: a.Correct})
	}
	if err := s.QuizRepo.CreateQuestion(q); err != nil {
		return nil, err
	}
	return q, nil
}

func (s *QuizService) UpdateQuestion(quizID, questionID string, u QuestionUpdate) (*model.Question, error) {
	if err := u.Validate(); err != nil {
		return nil, err
	}
	if _, err := s.editableQuiz(quizID); err != nil {
		return nil, err
	}
	q, err := s.QuizRepo.FindQuestion(quizID, questionID)
	if err != nil {
		return nil, err
	}
	if u.SubjectID != nil {
		if _, err := s.QuizRepo.FindSubject(quizID, *u.SubjectID); err != nil {
			return nil, err
		}
	}
	u.Apply(q)
	if err := s.QuizRepo.UpdateQuestion(q); err != nil {
		return nil, err
	}
	return q, nil
}

func (s *QuizService) DeleteQuestion(quizID, questionID string) error {
	if _, err := s.editableQuiz(quizID); err != nil {
		return err
	}
	return s.QuizRepo.DeleteQuestion(quizID, questionID)
}

func (s *QuizService) ReorderQuestions(quizID string, positions []repository.QuestionPosition) error {
	if _, err := s.editableQuiz(quizID); err != nil {
		return err
	}
	return s.QuizRepo.ReorderQuestions(quizID, positions)
}

func (s *QuizService) editableQuestion(quizID, questionID string) (*model.Question, error) {
	if _, err := s.editableQuiz(quizID); err != nil {
		return nil, err
	}
	return s.QuizRepo.FindQuestion(quizID, questionID)
}

func (s *QuizService) CreateAnswer(quizID, questionID string, req AnswerRequest) (*model.Answer, error) {
	q, err := s.editableQuestion(quizID, questionID)
	if err != nil {
		return nil, err
	}
	a := &model.Answer{QuestionID: q.ID, Text: req.Text, Correct: req.Correct}
	if err := s.QuizRepo.CreateAnswer(a); err != nil {
		return nil, err
	}
	return a, nil
}

type AnswerUpdate struct {
	Text    *string `json:"text"`
	Correct *bool   `json:"correct"`
}

func (s *QuizService) UpdateAnswer(quizID, questionID, answerID string, u AnswerUpdate) (*model.Answer, error) {
	q, err := s.editableQuestion(quizID, questionID)
	if err != nil {
		return nil, err
	}
	a, err := s.QuizRepo.FindAnswer(q.ID, answerID)
	if err != nil {
		return nil, err
	}
	if u.Text != nil {
		a.Text = *u.Text
	}
	if u.Correct != nil {
		a.Correct = *u.Correct
	}
	if err := s.QuizRepo.UpdateAnswer(a); err != nil {
		return nil, err
	}
	return a, nil
}

func (s *QuizService) DeleteAnswer(quizID, questionID, answerID string) error {
	q, err := s.editableQuestion(quizID, questionID)
	if err != nil {
		return err
	}
	return s.QuizRepo.DeleteAnswer(q.ID, answerID)
}

func (s *QuizService) ReorderAnswers(quizID, questionID string, answerIDs []string) error {
	q, err := s.editableQuestion(quizID, questionID)
	if err != nil {
		return err
	}
	return s.QuizRepo.ReorderAnswers(q.ID, answerIDs)
}

// SaveIllustration 保存题目插图到试卷目录，编译时复制进会话目录
func (s *QuizService) SaveIllustration(ctx context.Context, quizID, filename string, r io.Reader, size int64) (string, error) {
	name := filepath.Base(filename)
	if !latex.ValidIllustrationName(name) {
		return "", fmt.Errorf("%w: %q", util.ErrInvalidFile, filename)
	}
	ext := strings.ToLower(filepath.Ext(name))
	allowed := false
	for _, e := range util.AllowedIllustrationExtensions {
		if e == ext {
			allowed = true
			break
		}
	}
	if !allowed {
		return "", fmt.Errorf("%w: unsupported illustration type %s", util.ErrInvalidFile, ext)
	}
	if size > maxIllustrationMB<<20 {
		return "", fmt.Errorf("%w: illustration exceeds %dMB", util.ErrInvalidFile, maxIllustrationMB)
	}
	if _, err := s.editableQuiz(quizID); err != nil {
		return "", err
	}

	data, err := io.ReadAll(io.LimitReader(r, maxIllustrationMB<<20+1))
	if err != nil {
		return "", err
	}
	if len(data) > maxIllustrationMB<<20 {
		return "", fmt.Errorf("%w: illustration exceeds %dMB", util.ErrInvalidFile, maxIllustrationMB)
	}
	dst := filepath.Join(s.Workspace.IllustrationsDir(quizID), name)
	if err := writeFile(dst, data); err != nil {
		return "", err
	}
	s.Storage.Archive(ctx, quizID, dst, util.MimeOctetStream)
	return name, nil
}
