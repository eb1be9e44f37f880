package grading

import (
	"math"
	"strconv"
)

const (
	StatusFullyGraded     = "fully_graded"
	StatusPartiallyGraded = "partially_graded"
)

// RoundMarks 分值统一保留两位小数，只在评分结果边界处舍入一次
func RoundMarks(v float64) float64 {
	return math.Round(v*100) / 100
}

func formatMarks(v float64) string {
	return strconv.FormatFloat(RoundMarks(v), 'f', -1, 64)
}

// Score 根据判定折算单题得分：答对得正分，答错扣 |negative|，未作答 0 分
func Score(q Question, v Verdict) Outcome {
	out := Outcome{Status: v.Status, Method: MethodAuto, Feedback: v.Feedback}
	switch v.Status {
	case StatusCorrect:
		out.IsCorrect = true
		out.ScoredMarks = q.PositiveMarks
	case StatusIncorrect:
		out.ScoredMarks = -math.Abs(q.NegativeMarks)
	case StatusPartial:
		awarded := math.Max(0, math.Min(v.Awarded, q.PositiveMarks))
		out.ScoredMarks = RoundMarks(awarded)
		out.IsCorrect = q.PositiveMarks > 0 && out.ScoredMarks >= q.PositiveMarks
	case StatusManual:
		out.Method = MethodManual
	}
	// -0 统一为 0
	out.ScoredMarks = RoundMarks(out.ScoredMarks) + 0
	return out
}

// Graded 聚合所需的单题信息，既可来自本次评分也可来自已持久化的答案
type Graded struct {
	PositiveMarks float64
	Score         float64
	Method        Method
	Pending       bool // 等待人工评分
}

// FromOutcome 本次评分结果，人工题尚未复核
func FromOutcome(q Question, out Outcome) Graded {
	return Graded{
		PositiveMarks: q.PositiveMarks,
		Score:         out.ScoredMarks,
		Method:        out.Method,
		Pending:       out.Method == MethodManual,
	}
}

type Summary struct {
	TotalScore          float64 `json:"totalScore"`
	RawScore            float64 `json:"rawScore"`
	MaxScore            float64 `json:"maxScore"`
	Percentage          float64 `json:"percentage"`
	AutoGradedCount     int     `json:"autoGradedCount"`
	ManualRequiredCount int     `json:"manualRequiredCount"`
	Status              string  `json:"status"`
}

// Aggregate 汇总试卷得分，负总分在试卷层面截断为 0，单题分数保持原值
func Aggregate(items []Graded) Summary {
	var s Summary
	for _, it := range items {
		s.RawScore += it.Score
		s.MaxScore += it.PositiveMarks
		if it.Method == MethodAuto {
			s.AutoGradedCount++
		}
		if it.Pending {
			s.ManualRequiredCount++
		}
	}
	s.RawScore = RoundMarks(s.RawScore)
	s.MaxScore = RoundMarks(s.MaxScore)
	s.TotalScore = math.Max(0, s.RawScore)
	if s.MaxScore > 0 {
		s.Percentage = RoundMarks(s.TotalScore / s.MaxScore * 100)
	}
	s.Status = StatusFullyGraded
	if s.ManualRequiredCount > 0 {
		s.Status = StatusPartiallyGraded
	}
	return s
}
