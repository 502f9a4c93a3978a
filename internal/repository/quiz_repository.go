package repository

import (
	"errors"
	"fmt"
	"quizmark_backend/internal/model"
	"quizmark_backend/internal/util"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type QuizRepository struct {
	DB *gorm.DB
}

func NewQuizRepository(db *gorm.DB) *QuizRepository {
	return &QuizRepository{DB: db}
}

// QuestionPosition 题目重排时的一项：题目 ID 以及它所属的分组
type QuestionPosition struct {
	QuestionID string `json:"questionId" binding:"required"`
	SubjectID  string `json:"subjectId" binding:"required"`
}

func notFound(err error, sentinel error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return sentinel
	}
	return err
}

func (r *QuizRepository) Create(quiz *model.Quiz) error {
	return r.DB.Create(quiz).Error
}

func (r *QuizRepository) Update(quiz *model.Quiz) error {
	return r.DB.Save(quiz).Error
}

func (r *QuizRepository) FindByID(id string) (*model.Quiz, error) {
	var quiz model.Quiz
	if err := r.DB.Where("id = ?", id).First(&quiz).Error; err != nil {
		return nil, notFound(err, util.ErrQuizNotFound)
	}
	return &quiz, nil
}

func (r *QuizRepository) SetState(id string, state model.QuizState) error {
	res := r.DB.Model(&model.Quiz{}).Where("id = ?", id).Update("state", state)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return util.ErrQuizNotFound
	}
	return nil
}

// ProvisionDefaultSubject 保证试卷至少有一个分组，并把没有分组的题目归入排序最靠前的分组。
// 只在创建试卷或导入内容时调用，读取路径不做任何修复。
func (r *QuizRepository) ProvisionDefaultSubject(quizID string) (*model.Subject, error) {
	var subject model.Subject
	err := r.DB.Transaction(func(tx *gorm.DB) error {
		err := tx.Where("quiz_id = ?", quizID).Order("sort_order ASC").First(&subject).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			subject = model.Subject{QuizID: quizID, Title: model.DefaultSubjectTitle, SortOrder: 1}
			err = tx.Create(&subject).Error
		}
		if err != nil {
			return err
		}

		orphans := tx.Model(&model.Question{}).
			Where("quiz_id = ?", quizID).
			Where("(subject_id = '' OR subject_id NOT IN (?))",
				tx.Model(&model.Subject{}).Select("id").Where("quiz_id = ?", quizID))
		return orphans.Update("subject_id", subject.ID).Error
	})
	if err != nil {
		return nil, err
	}
	return &subject, nil
}

// ListSubjects 按 (sort_order, 标题) 排序，题目按编号，选项按顺序
func (r *QuizRepository) ListSubjects(quizID string) ([]model.Subject, error) {
	var subjects []model.Subject
	err := r.DB.Where("quiz_id = ?", quizID).
		Order("sort_order ASC").Order("LOWER(title) ASC").
		Preload("Questions", func(db *gorm.DB) *gorm.DB { return db.Order("number ASC") }).
		Preload("Questions.Answers", func(db *gorm.DB) *gorm.DB { return db.Order("answer_order ASC") }).
		Find(&subjects).Error
	return subjects, err
}

func (r *QuizRepository) ListQuestions(quizID string) ([]model.Question, error) {
	var questions []model.Question
	err := r.DB.Where("quiz_id = ?", quizID).
		Order("number ASC").
		Preload("Answers", func(db *gorm.DB) *gorm.DB { return db.Order("answer_order ASC") }).
		Find(&questions).Error
	return questions, err
}

func (r *QuizRepository) CountQuestions(quizID string) (int64, error) {
	var n int64
	err := r.DB.Model(&model.Question{}).Where("quiz_id = ?", quizID).Count(&n).Error
	return n, err
}

func (r *QuizRepository) FindSubject(quizID, subjectID string) (*model.Subject, error) {
	var subject model.Subject
	if err := r.DB.Where("quiz_id = ? AND id = ?", quizID, subjectID).First(&subject).Error; err != nil {
		return nil, notFound(err, util.ErrSubjectNotFound)
	}
	return &subject, nil
}

func (r *QuizRepository) FindQuestion(quizID, questionID string) (*model.Question, error) {
	var q model.Question
	err := r.DB.Where("quiz_id = ? AND id = ?", quizID, questionID).
		Preload("Answers", func(db *gorm.DB) *gorm.DB { return db.Order("answer_order ASC") }).
		First(&q).Error
	if err != nil {
		return nil, notFound(err, util.ErrQuestionNotFound)
	}
	return &q, nil
}

func (r *QuizRepository) FindAnswer(questionID, answerID string) (*model.Answer, error) {
	var a model.Answer
	if err := r.DB.Where("question_id = ? AND id = ?", questionID, answerID).First(&a).Error; err != nil {
		return nil, notFound(err, util.ErrAnswerNotFound)
	}
	return &a, nil
}

func (r *QuizRepository) CreateSubject(subject *model.Subject) error {
	return r.DB.Transaction(func(tx *gorm.DB) error {
		if subject.SortOrder <= 0 {
			var max int
			if err := tx.Model(&model.Subject{}).Where("quiz_id = ?", subject.QuizID).
				Select("COALESCE(MAX(sort_order), 0)").Scan(&max).Error; err != nil {
				return err
			}
			subject.SortOrder = max + 1
		}
		return tx.Create(subject).Error
	})
}

func (r *QuizRepository) RenameSubject(quizID, subjectID, title string) error {
	res := r.DB.Model(&model.Subject{}).
		Where("id = ? AND quiz_id = ?", subjectID, quizID).
		Update("title", title)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return util.ErrSubjectNotFound
	}
	return nil
}

// CreateQuestion 编号取当前最大编号加一，选项随题目一起写入
func (r *QuizRepository) CreateQuestion(q *model.Question) error {
	return r.DB.Transaction(func(tx *gorm.DB) error {
		var max int
		if err := tx.Model(&model.Question{}).Where("quiz_id = ?", q.QuizID).
			Select("COALESCE(MAX(number), 0)").Scan(&max).Error; err != nil {
			return err
		}
		q.Number = max + 1
		for i := range q.Answers {
			q.Answers[i].AnswerOrder = i + 1
		}
		if err := tx.Create(q).Error; err != nil {
			return err
		}
		return refreshQuestionCount(tx, q.QuizID)
	})
}

// UpdateQuestion 保存题目本身的字段，不触碰选项
func (r *QuizRepository) UpdateQuestion(q *model.Question) error {
	return r.DB.Omit(clause.Associations).Save(q).Error
}

// DeleteQuestion 删除题目及其选项，后续题目编号依次前移保持连续
func (r *QuizRepository) DeleteQuestion(quizID, questionID string) error {
	return r.DB.Transaction(func(tx *gorm.DB) error {
		var q model.Question
		if err := tx.Where("quiz_id = ? AND id = ?", quizID, questionID).First(&q).Error; err != nil {
			return notFound(err, util.ErrQuestionNotFound)
		}
		if err := tx.Where("question_id = ?", q.ID).Delete(&model.Answer{}).Error; err != nil {
			return err
		}
		if err := tx.Delete(&q).Error; err != nil {
			return err
		}
		if err := tx.Model(&model.Question{}).
			Where("quiz_id = ? AND number > ?", quizID, q.Number).
			Update("number", gorm.Expr("number - 1")).Error; err != nil {
			return err
		}
		return refreshQuestionCount(tx, quizID)
	})
}

// ReorderQuestions 必须覆盖试卷的全部题目且每题只出现一次，编号按给定顺序重新设为 1..n
func (r *QuizRepository) ReorderQuestions(quizID string, positions []QuestionPosition) error {
	return r.DB.Transaction(func(tx *gorm.DB) error {
		var existing []string
		if err := tx.Model(&model.Question{}).Where("quiz_id = ?", quizID).Pluck("id", &existing).Error; err != nil {
			return err
		}
		requested := make([]string, len(positions))
		for i, p := range positions {
			requested[i] = p.QuestionID
		}
		if !sameSet(existing, requested) {
			return util.ErrInvalidOrdering
		}

		var subjects []string
		if err := tx.Model(&model.Subject{}).Where("quiz_id = ?", quizID).Pluck("id", &subjects).Error; err != nil {
			return err
		}
		known := make(map[string]bool, len(subjects))
		for _, id := range subjects {
			known[id] = true
		}

		for i, p := range positions {
			if !known[p.SubjectID] {
				return fmt.Errorf("%w: %s", util.ErrSubjectNotFound, p.SubjectID)
			}
			if err := tx.Model(&model.Question{}).Where("id = ?", p.QuestionID).
				Updates(map[string]interface{}{"number": i + 1, "subject_id": p.SubjectID}).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *QuizRepository) ReorderSubjects(quizID string, subjectIDs []string) error {
	return r.DB.Transaction(func(tx *gorm.DB) error {
		var existing []string
		if err := tx.Model(&model.Subject{}).Where("quiz_id = ?", quizID).Pluck("id", &existing).Error; err != nil {
			return err
		}
		if !sameSet(existing, subjectIDs) {
			return util.ErrInvalidOrdering
		}
		for i, id := range subjectIDs {
			if err := tx.Model(&model.Subject{}).Where("id = ?", id).Update("sort_order", i+1).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *QuizRepository) CreateAnswer(a *model.Answer) error {
	return r.DB.Transaction(func(tx *gorm.DB) error {
		var max int
		if err := tx.Model(&model.Answer{}).Where("question_id = ?", a.QuestionID).
			Select("COALESCE(MAX(answer_order), 0)").Scan(&max).Error; err != nil {
			return err
		}
		a.AnswerOrder = max + 1
		return tx.Create(a).Error
	})
}

func (r *QuizRepository) UpdateAnswer(a *model.Answer) error {
	return r.DB.Save(a).Error
}

func (r *QuizRepository) DeleteAnswer(questionID, answerID string) error {
	return r.DB.Transaction(func(tx *gorm.DB) error {
		var a model.Answer
		if err := tx.Where("question_id = ? AND id = ?", questionID, answerID).First(&a).Error; err != nil {
			return notFound(err, util.ErrAnswerNotFound)
		}
		if err := tx.Delete(&a).Error; err != nil {
			return err
		}
		return tx.Model(&model.Answer{}).
			Where("question_id = ? AND answer_order > ?", questionID, a.AnswerOrder).
			Update("answer_order", gorm.Expr("answer_order - 1")).Error
	})
}

func (r *QuizRepository) ReorderAnswers(questionID string, answerIDs []string) error {
	return r.DB.Transaction(func(tx *gorm.DB) error {
		var existing []string
		if err := tx.Model(&model.Answer{}).Where("question_id = ?", questionID).Pluck("id", &existing).Error; err != nil {
			return err
		}
		if !sameSet(existing, answerIDs) {
			return util.ErrInvalidOrdering
		}
		for i, id := range answerIDs {
			if err := tx.Model(&model.Answer{}).Where("id = ?", id).Update("answer_order", i+1).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func refreshQuestionCount(tx *gorm.DB, quizID string) error {
	var n int64
	if err := tx.Model(&model.Question{}).Where("quiz_id = ?", quizID).Count(&n).Error; err != nil {
		return err
	}
	return tx.Model(&model.Quiz{}).Where("id = ?", quizID).Update("question_count", n).Error
}

// sameSet 判断 requested 是否恰好是 existing 的一个排列
func sameSet(existing, requested []string) bool {
	if len(existing) != len(requested) {
		return false
	}
	seen := make(map[string]bool, len(existing))
	for _, id := range existing {
		seen[id] = true
	}
	for _, id := range requested {
		if !seen[id] {
			return false
		}
		delete(seen, id)
	}
	return true
}
