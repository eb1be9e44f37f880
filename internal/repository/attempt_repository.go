package repository

import (
	"assessment_backend/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type AttemptRepository struct {
	DB *gorm.DB
}

func NewAttemptRepository(db *gorm.DB) *AttemptRepository {
	return &AttemptRepository{DB: db}
}

func (r *AttemptRepository) WithTx(tx *gorm.DB) *AttemptRepository {
	return &AttemptRepository{DB: tx}
}

func (r *AttemptRepository) Create(attempt *model.Attempt) error {
	return r.DB.Create(attempt).Error
}

func (r *AttemptRepository) Update(attempt *model.Attempt) error {
	return r.DB.Save(attempt).Error
}

func (r *AttemptRepository) FindByID(id uint) (*model.Attempt, error) {
	var a model.Attempt
	if err := r.DB.First(&a, id).Error; err != nil {
		return nil, err
	}
	return &a, nil
}

// LockByID 事务内行锁（SELECT ... FOR UPDATE），sqlite 会忽略
func (r *AttemptRepository) LockByID(id uint) (*model.Attempt, error) {
	var a model.Attempt
	if err := r.DB.Clauses(clause.Locking{Strength: "UPDATE"}).First(&a, id).Error; err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *AttemptRepository) FindInProgress(studentID, assessmentID uint) (*model.Attempt, error) {
	var a model.Attempt
	err := r.DB.Where("student_id = ? AND assessment_id = ? AND status = ?", studentID, assessmentID, model.AttemptInProgress).
		First(&a).Error
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// UpsertAnswers 按 (attempt_id, question_id) 插入或更新
func (r *AttemptRepository) UpsertAnswers(answers []model.Answer) error {
	if len(answers) == 0 {
		return nil
	}
	return r.DB.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "attempt_id"}, {Name: "question_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"raw_answer", "score", "is_correct", "grading_method", "feedback",
			"grading_notes", "graded_at", "updated_at",
		}),
	}).Create(&answers).Error
}

func (r *AttemptRepository) ListAnswers(attemptID uint) ([]model.Answer, error) {
	var answers []model.Answer
	err := r.DB.Where("attempt_id = ?", attemptID).Order("question_id ASC").Find(&answers).Error
	return answers, err
}

func (r *AttemptRepository) FindAnswerByID(id uint) (*model.Answer, error) {
	var a model.Answer
	if err := r.DB.Preload("Question").First(&a, id).Error; err != nil {
		return nil, err
	}
	return &a, nil
}

// UpdateAnswerGrade 只更新评分相关字段，不触碰作答内容
func (r *AttemptRepository) UpdateAnswerGrade(a *model.Answer) error {
	return r.DB.Model(&model.Answer{}).Where("id = ?", a.ID).Updates(map[string]interface{}{
		"score":          a.Score,
		"is_correct":     a.IsCorrect,
		"grading_method": a.GradingMethod,
		"feedback":       a.Feedback,
		"grading_notes":  a.GradingNotes,
		"graded_at":      a.GradedAt,
		"reviewed_by":    a.ReviewedBy,
		"reviewed_at":    a.ReviewedAt,
		"overridden_by":  a.OverriddenBy,
		"overridden_at":  a.OverriddenAt,
	}).Error
}

// ListPendingManual 试卷下等待人工评分的答案
func (r *AttemptRepository) ListPendingManual(assessmentID uint) ([]model.Answer, error) {
	var answers []model.Answer
	err := r.DB.Model(&model.Answer{}).
		Joins("JOIN attempts ON attempts.id = attempt_answers.attempt_id AND attempts.deleted_at IS NULL").
		Where("attempts.assessment_id = ? AND attempt_answers.grading_method = ? AND attempt_answers.reviewed_at IS NULL", assessmentID, "manual").
		Preload("Question").
		Order("attempt_answers.attempt_id ASC, attempt_answers.question_id ASC").
		Find(&answers).Error
	return answers, err
}

func (r *AttemptRepository) ListByAssessment(assessmentID uint) ([]model.Attempt, error) {
	var attempts []model.Attempt
	err := r.DB.Where("assessment_id = ?", assessmentID).Order("id ASC").Find(&attempts).Error
	return attempts, err
}
