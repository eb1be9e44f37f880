package model

import (
	"time"

	"assessment_backend/internal/grading"

	"gorm.io/datatypes"
)

// swagger:model Answer
// 每个作答每题一条，(attempt_id, question_id) 唯一
type Answer struct {
	BaseModel
	AttemptID     uint           `gorm:"uniqueIndex:idx_attempt_question;not null" json:"attemptId"`
	QuestionID    uint           `gorm:"uniqueIndex:idx_attempt_question;not null" json:"questionId"`
	RawAnswer     datatypes.JSON `json:"rawAnswer" swaggertype:"object"`
	Score         float64        `gorm:"type:decimal(8,2);default:0" json:"score"`
	IsCorrect     bool           `gorm:"default:false" json:"isCorrect"`
	GradingMethod string         `gorm:"size:20;index" json:"gradingMethod"`
	Feedback      string         `gorm:"type:text" json:"feedback,omitempty"`
	GradingNotes  string         `gorm:"type:text" json:"gradingNotes,omitempty"`
	GradedAt      *time.Time     `json:"gradedAt,omitempty"`
	ReviewedBy    *uint          `json:"reviewedBy,omitempty"`
	ReviewedAt    *time.Time     `json:"reviewedAt,omitempty"`
	OverriddenBy  *uint          `json:"overriddenBy,omitempty"`
	OverriddenAt  *time.Time     `json:"overriddenAt,omitempty"`

	Question *Question `gorm:"foreignKey:QuestionID" json:"question,omitempty"`
}

func (Answer) TableName() string {
	return "attempt_answers"
}

// PendingReview 人工评分且尚未复核
func (a *Answer) PendingReview() bool {
	return a.GradingMethod == string(grading.MethodManual) && a.ReviewedAt == nil
}

// Graded 转为聚合输入
func (a *Answer) Graded(positiveMarks float64) grading.Graded {
	return grading.Graded{
		PositiveMarks: positiveMarks,
		Score:         a.Score,
		Method:        grading.Method(a.GradingMethod),
		Pending:       a.PendingReview(),
	}
}
