package model

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

const (
	AssessmentDraft     = "draft"
	AssessmentPublished = "published"
)

// Block 出题块：题型、数量、分值与时长，用于参数化 AI 出题
type Block struct {
	Type            string  `json:"type" binding:"required,question_type"`
	Count           int     `json:"count" binding:"required,min=1,max=50"`
	PositiveMarks   float64 `json:"positiveMarks" binding:"gte=0"`
	NegativeMarks   float64 `json:"negativeMarks" binding:"gte=0"`
	DurationMinutes int     `json:"durationMinutes" binding:"gte=0"`
	Topic           string  `json:"topic"`
}

// swagger:model Assessment
type Assessment struct {
	BaseModel
	OwnerID         uint           `gorm:"index;not null" json:"ownerId"`
	Title           string         `gorm:"size:255;not null" json:"title"`
	Description     string         `gorm:"type:text" json:"description"`
	Language        string         `gorm:"size:10;default:'en'" json:"language"`
	DurationMinutes int            `gorm:"default:0" json:"durationMinutes"`
	Status          string         `gorm:"size:20;default:'draft'" json:"status"`
	Blocks          datatypes.JSON `json:"blocks" swaggertype:"array,object"`
	PublishedAt     *time.Time     `json:"publishedAt,omitempty"`
}

func (Assessment) TableName() string {
	return "assessments"
}

// BlockList 解析出题块
func (a *Assessment) BlockList() ([]Block, error) {
	if len(a.Blocks) == 0 {
		return nil, nil
	}
	var blocks []Block
	if err := json.Unmarshal(a.Blocks, &blocks); err != nil {
		return nil, err
	}
	return blocks, nil
}

// OwnedBy 管理员视为拥有所有试卷
func (a *Assessment) OwnedBy(userID uint, role UserRole) bool {
	return role == Admin || a.OwnerID == userID
}
