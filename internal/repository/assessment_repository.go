package repository

import (
	"assessment_backend/internal/model"

	"gorm.io/gorm"
)

type AssessmentRepository struct {
	DB *gorm.DB
}

func NewAssessmentRepository(db *gorm.DB) *AssessmentRepository {
	return &AssessmentRepository{DB: db}
}

func (r *AssessmentRepository) WithTx(tx *gorm.DB) *AssessmentRepository {
	return &AssessmentRepository{DB: tx}
}

func (r *AssessmentRepository) Create(a *model.Assessment) error {
	return r.DB.Create(a).Error
}

func (r *AssessmentRepository) Update(a *model.Assessment) error {
	return r.DB.Save(a).Error
}

func (r *AssessmentRepository) FindByID(id uint) (*model.Assessment, error) {
	var a model.Assessment
	if err := r.DB.First(&a, id).Error; err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *AssessmentRepository) ListByOwner(ownerID uint, page, limit int) ([]model.Assessment, int64, error) {
	var (
		list  []model.Assessment
		total int64
	)
	query := r.DB.Model(&model.Assessment{}).Where("owner_id = ?", ownerID)
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	err := query.Order("id DESC").Offset((page - 1) * limit).Limit(limit).Find(&list).Error
	return list, total, err
}

func (r *AssessmentRepository) ListPublished(page, limit int) ([]model.Assessment, int64, error) {
	var (
		list  []model.Assessment
		total int64
	)
	query := r.DB.Model(&model.Assessment{}).Where("status = ?", model.AssessmentPublished)
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	err := query.Order("published_at DESC").Offset((page - 1) * limit).Limit(limit).Find(&list).Error
	return list, total, err
}

// CreateQuestions 批量追加题目，顺序号接在已有题目之后
func (r *AssessmentRepository) CreateQuestions(assessmentID uint, questions []model.Question) error {
	if len(questions) == 0 {
		return nil
	}
	return r.DB.Transaction(func(tx *gorm.DB) error {
		var maxOrder int
		if err := tx.Model(&model.Question{}).
			Where("assessment_id = ?", assessmentID).
			Select("COALESCE(MAX(sort_order), 0)").
			Scan(&maxOrder).Error; err != nil {
			return err
		}
		for i := range questions {
			questions[i].AssessmentID = assessmentID
			questions[i].Order = maxOrder + i + 1
		}
		return tx.Create(&questions).Error
	})
}

func (r *AssessmentRepository) ListQuestions(assessmentID uint) ([]model.Question, error) {
	var questions []model.Question
	err := r.DB.Where("assessment_id = ?", assessmentID).Order("sort_order ASC, id ASC").Find(&questions).Error
	return questions, err
}

func (r *AssessmentRepository) FindQuestionByID(id uint) (*model.Question, error) {
	var q model.Question
	if err := r.DB.First(&q, id).Error; err != nil {
		return nil, err
	}
	return &q, nil
}

func (r *AssessmentRepository) CountAttempts(assessmentID uint) (int64, error) {
	var count int64
	err := r.DB.Model(&model.Attempt{}).Where("assessment_id = ?", assessmentID).Count(&count).Error
	return count, err
}
