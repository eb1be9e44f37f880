package grading

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// CorrectAnswer 标准答案的标签联合类型，具体类型由题型决定：
// MCQAnswer | TrueFalseAnswer | KeywordRubric | TextAnswer | EssayRubric | MatchingPairs
type CorrectAnswer interface {
	answerType() QuestionType
}

type MCQAnswer struct {
	Option string
}

type TrueFalseAnswer struct {
	Value bool
}

// KeywordRubric 简答题关键词评分细则
type KeywordRubric struct {
	GradingType      string   `json:"grading_type"`
	RequiredKeywords []string `json:"required_keywords"`
	OptionalKeywords []string `json:"optional_keywords"`
	MinRequiredMatch int      `json:"min_required_match"`
	ReferenceAnswer  string   `json:"reference_answer,omitempty"`
}

// TextAnswer 无细则的简答题，整句比较
type TextAnswer struct {
	Text string
}

type Criterion struct {
	Name        string   `json:"name"`
	MaxMarks    float64  `json:"max_marks"`
	Keywords    []string `json:"keywords,omitempty"`
	Description string   `json:"description,omitempty"`
}

type EssayRubric struct {
	Criteria []Criterion `json:"criteria"`
}

// Total 细则满分
func (r EssayRubric) Total() float64 {
	var sum float64
	for _, c := range r.Criteria {
		sum += c.MaxMarks
	}
	return sum
}

type MatchPair struct {
	Left  string `json:"left"`
	Right string `json:"right"`
}

type MatchingPairs []MatchPair

func (MCQAnswer) answerType() QuestionType       { return MultipleChoice }
func (TrueFalseAnswer) answerType() QuestionType { return TrueFalse }
func (KeywordRubric) answerType() QuestionType   { return ShortAnswer }
func (TextAnswer) answerType() QuestionType      { return ShortAnswer }
func (EssayRubric) answerType() QuestionType     { return Essay }
func (MatchingPairs) answerType() QuestionType   { return Matching }

// 关键词模式下的 grading_type
const (
	GradingKeyword  = "keyword"
	GradingSemantic = "semantic"
)

var errMissingAnswer = errors.New("correct answer is empty")

// ParseCorrectAnswer 按题型解析存储的 correct_answer。
// 论述题没有细则时返回 (nil, nil)，由评分引擎转人工。
func ParseCorrectAnswer(questionID uint, t QuestionType, raw []byte) (CorrectAnswer, error) {
	raw = bytes.TrimSpace(raw)
	empty := len(raw) == 0 || bytes.Equal(raw, []byte("null"))

	if t == Essay {
		if empty {
			return nil, nil
		}
		var rubric EssayRubric
		if err := json.Unmarshal(raw, &rubric); err != nil {
			return nil, &RubricParseError{QuestionID: questionID, Err: err}
		}
		for i, c := range rubric.Criteria {
			if c.MaxMarks < 0 {
				return nil, &RubricParseError{QuestionID: questionID, Err: fmt.Errorf("criterion %d has negative max_marks", i)}
			}
		}
		if len(rubric.Criteria) == 0 {
			return nil, nil
		}
		return rubric, nil
	}

	if empty {
		return nil, &RubricParseError{QuestionID: questionID, Err: errMissingAnswer}
	}

	var (
		ans CorrectAnswer
		err error
	)
	switch t {
	case MultipleChoice:
		ans, err = parseMCQ(raw)
	case TrueFalse:
		ans, err = parseTrueFalse(raw)
	case ShortAnswer:
		ans, err = parseShortAnswer(raw)
	case Matching:
		ans, err = parseMatching(raw)
	default:
		err = fmt.Errorf("unsupported question type %q", t)
	}
	if err != nil {
		return nil, &RubricParseError{QuestionID: questionID, Err: err}
	}
	return ans, nil
}

func parseMCQ(raw []byte) (CorrectAnswer, error) {
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	switch x := v.(type) {
	case string:
		if strings.TrimSpace(x) == "" {
			return nil, errMissingAnswer
		}
		return MCQAnswer{Option: x}, nil
	case float64:
		return MCQAnswer{Option: strconv.FormatFloat(x, 'f', -1, 64)}, nil
	}
	return nil, fmt.Errorf("multiple choice answer must be a string, got %T", v)
}

func parseTrueFalse(raw []byte) (CorrectAnswer, error) {
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	switch x := v.(type) {
	case bool:
		return TrueFalseAnswer{Value: x}, nil
	case string, float64:
		c := Normalize(TrueFalse, x)
		switch c.Text {
		case "true":
			return TrueFalseAnswer{Value: true}, nil
		case "false":
			return TrueFalseAnswer{Value: false}, nil
		}
	}
	return nil, fmt.Errorf("true/false answer must be boolean-like, got %s", string(raw))
}

func parseShortAnswer(raw []byte) (CorrectAnswer, error) {
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, err
		}
		if strings.TrimSpace(s) == "" {
			return nil, errMissingAnswer
		}
		return TextAnswer{Text: s}, nil
	}
	if raw[0] != '{' {
		return nil, fmt.Errorf("short answer must be a string or rubric object")
	}

	var rubric KeywordRubric
	if err := json.Unmarshal(raw, &rubric); err != nil {
		return nil, err
	}
	if len(rubric.RequiredKeywords) == 0 {
		// 只有参考答案的对象退化为整句比较
		if rubric.ReferenceAnswer != "" {
			return TextAnswer{Text: rubric.ReferenceAnswer}, nil
		}
		return nil, errors.New("rubric has no required_keywords")
	}
	if rubric.MinRequiredMatch < 0 || rubric.MinRequiredMatch > len(rubric.RequiredKeywords) {
		return nil, fmt.Errorf("min_required_match %d out of range [0,%d]", rubric.MinRequiredMatch, len(rubric.RequiredKeywords))
	}
	if rubric.MinRequiredMatch == 0 {
		rubric.MinRequiredMatch = len(rubric.RequiredKeywords)
	}
	if rubric.GradingType == "" {
		rubric.GradingType = GradingKeyword
	}
	return rubric, nil
}

func parseMatching(raw []byte) (CorrectAnswer, error) {
	var pairs MatchingPairs
	if err := json.Unmarshal(raw, &pairs); err != nil {
		return nil, err
	}
	if len(pairs) == 0 {
		return nil, errMissingAnswer
	}
	return pairs, nil
}

// LoadQuestion 解析 correct_answer 并组装评分视图，解析失败记录在 AnswerErr 中
func LoadQuestion(id uint, t QuestionType, options []string, correct []byte, positive, negative float64, language string) Question {
	q := Question{
		ID:            id,
		Type:          t,
		Options:       options,
		PositiveMarks: positive,
		NegativeMarks: negative,
		Language:      language,
	}
	q.Answer, q.AnswerErr = ParseCorrectAnswer(id, t, correct)
	return q
}
