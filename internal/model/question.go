package model

import (
	"encoding/json"

	"assessment_backend/internal/grading"

	"gorm.io/datatypes"
)

const (
	QuestionSourceManual    = "manual"
	QuestionSourceGenerated = "generated"
)

// swagger:model Question
// 一旦有作答记录，题目（含分值）不再修改
type Question struct {
	BaseModel
	AssessmentID  uint           `gorm:"index;not null" json:"assessmentId"`
	Order         int            `gorm:"column:sort_order;not null" json:"order"`
	Type          string         `gorm:"size:30;not null" json:"type"`
	Text          string         `gorm:"type:text;not null" json:"text"`
	Options       datatypes.JSON `json:"options,omitempty" swaggertype:"array,string"`
	CorrectAnswer datatypes.JSON `json:"correctAnswer,omitempty" swaggertype:"object"`
	PositiveMarks float64        `gorm:"type:decimal(8,2);default:1" json:"positiveMarks"`
	NegativeMarks float64        `gorm:"type:decimal(8,2);default:0" json:"negativeMarks"`
	Explanation   string         `gorm:"type:text" json:"explanation,omitempty"`
	Source        string         `gorm:"size:20;default:'manual'" json:"source"`
}

func (Question) TableName() string {
	return "questions"
}

func (q *Question) OptionList() []string {
	if len(q.Options) == 0 {
		return nil
	}
	var opts []string
	if err := json.Unmarshal(q.Options, &opts); err != nil {
		return nil
	}
	return opts
}

// GradingView 转换为评分引擎的题目视图，correct_answer 在此解析一次
func (q *Question) GradingView(language string) grading.Question {
	return grading.LoadQuestion(
		q.ID,
		grading.QuestionType(q.Type),
		q.OptionList(),
		q.CorrectAnswer,
		q.PositiveMarks,
		q.NegativeMarks,
		language,
	)
}

// StudentView 去掉标准答案
func (q Question) StudentView() Question {
	q.CorrectAnswer = nil
	q.Explanation = ""
	return q
}
