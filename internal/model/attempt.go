package model

import (
	"time"

	"assessment_backend/internal/grading"
)

const (
	AttemptInProgress = "in_progress"
	AttemptCompleted  = "completed"
)

// swagger:model Attempt
type Attempt struct {
	BaseModel
	AssessmentID        uint       `gorm:"index;not null" json:"assessmentId"`
	StudentID           uint       `gorm:"index;not null" json:"studentId"`
	Status              string     `gorm:"size:20;default:'in_progress'" json:"status"`
	StartedAt           time.Time  `json:"startedAt"`
	CompletedAt         *time.Time `json:"completedAt,omitempty"`
	Score               float64    `gorm:"type:decimal(10,2);default:0" json:"score"`
	RawScore            float64    `gorm:"type:decimal(10,2);default:0" json:"rawScore"`
	MaxScore            float64    `gorm:"type:decimal(10,2);default:0" json:"maxScore"`
	Percentage          float64    `gorm:"type:decimal(6,2);default:0" json:"percentage"`
	GradingStatus       string     `gorm:"size:30" json:"gradingStatus,omitempty"`
	AutoGradedCount     int        `gorm:"default:0" json:"autoGradedCount"`
	ManualRequiredCount int        `gorm:"default:0" json:"manualRequiredCount"`
}

func (Attempt) TableName() string {
	return "attempts"
}

// ApplySummary 写入聚合结果
func (a *Attempt) ApplySummary(s grading.Summary) {
	a.Score = s.TotalScore
	a.RawScore = s.RawScore
	a.MaxScore = s.MaxScore
	a.Percentage = s.Percentage
	a.GradingStatus = s.Status
	a.AutoGradedCount = s.AutoGradedCount
	a.ManualRequiredCount = s.ManualRequiredCount
}
