package grading

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

type choiceStrategy struct{}

func (choiceStrategy) Evaluate(_ context.Context, q Question, ans Comparable) (Verdict, error) {
	correct, ok := q.Answer.(MCQAnswer)
	if !ok {
		return Verdict{}, &RubricParseError{QuestionID: q.ID, Err: fmt.Errorf("expected option answer, got %T", q.Answer)}
	}

	accepted := acceptedChoices(correct.Option, q.Options)
	if ans.Set != nil {
		for _, s := range ans.Set {
			if accepted[s] {
				return Verdict{Status: StatusCorrect}, nil
			}
		}
		return Verdict{Status: StatusIncorrect, Feedback: "correct option not selected"}, nil
	}
	if accepted[ans.Text] {
		return Verdict{Status: StatusCorrect}, nil
	}
	return Verdict{Status: StatusIncorrect}, nil
}

// acceptedChoices 选项字母与选项内容互为别名，例如 "b" 与第二个选项的文本
func acceptedChoices(correct string, options []string) map[string]bool {
	key := NormalizeText(correct)
	accepted := map[string]bool{key: true}
	if len(options) == 0 {
		return accepted
	}
	if len(key) == 1 && key[0] >= 'a' && key[0] <= 'z' {
		if idx := int(key[0] - 'a'); idx < len(options) {
			accepted[NormalizeText(options[idx])] = true
		}
	}
	for i, opt := range options {
		if i < 26 && NormalizeText(opt) == key {
			accepted[string(rune('a'+i))] = true
		}
	}
	return accepted
}

type trueFalseStrategy struct{}

func (trueFalseStrategy) Evaluate(_ context.Context, q Question, ans Comparable) (Verdict, error) {
	correct, ok := q.Answer.(TrueFalseAnswer)
	if !ok {
		return Verdict{}, &RubricParseError{QuestionID: q.ID, Err: fmt.Errorf("expected boolean answer, got %T", q.Answer)}
	}
	switch ans.Text {
	case "true", "false":
		if (ans.Text == "true") == correct.Value {
			return Verdict{Status: StatusCorrect}, nil
		}
		return Verdict{Status: StatusIncorrect}, nil
	}
	return Verdict{Status: StatusIncorrect, Feedback: "answer is not true or false"}, nil
}

type shortAnswerStrategy struct {
	checker EquivalenceChecker
	timeout time.Duration
}

func (s shortAnswerStrategy) Evaluate(ctx context.Context, q Question, ans Comparable) (Verdict, error) {
	student := ans.Text
	if ans.Set != nil {
		student = strings.Join(ans.Set, " ")
	}

	switch correct := q.Answer.(type) {
	case KeywordRubric:
		matched := countKeywords(student, correct.RequiredKeywords)
		feedback := fmt.Sprintf("matched %d/%d required keywords", matched, len(correct.RequiredKeywords))
		if n := len(correct.OptionalKeywords); n > 0 {
			feedback += fmt.Sprintf(", %d/%d optional", countKeywords(student, correct.OptionalKeywords), n)
		}
		if matched >= correct.MinRequiredMatch {
			return Verdict{Status: StatusCorrect, Feedback: feedback}, nil
		}
		if correct.GradingType == GradingSemantic && correct.ReferenceAnswer != "" {
			return s.checkEquivalent(ctx, q, student, correct.ReferenceAnswer, feedback)
		}
		return Verdict{Status: StatusIncorrect, Feedback: feedback}, nil

	case TextAnswer:
		if student == NormalizeText(correct.Text) {
			return Verdict{Status: StatusCorrect}, nil
		}
		return s.checkEquivalent(ctx, q, student, correct.Text, "")
	}

	return Verdict{}, &RubricParseError{QuestionID: q.ID, Err: fmt.Errorf("expected keyword rubric or text, got %T", q.Answer)}
}

// checkEquivalent 确定性判定为错误时才调用 AI，单次调用有超时，失败重试一次后转人工
func (s shortAnswerStrategy) checkEquivalent(ctx context.Context, q Question, student, correct, feedback string) (Verdict, error) {
	if s.checker == nil || student == "" {
		return Verdict{Status: StatusIncorrect, Feedback: feedback}, nil
	}

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, s.timeout)
		ok, err := s.checker.IsEquivalent(callCtx, student, correct, q.Language)
		cancel()
		if err == nil {
			if ok {
				return Verdict{Status: StatusCorrect, Feedback: joinFeedback(feedback, "accepted as equivalent")}, nil
			}
			return Verdict{Status: StatusIncorrect, Feedback: feedback}, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}
	return Verdict{}, &EvaluationTimeout{QuestionID: q.ID, Err: lastErr}
}

func countKeywords(text string, keywords []string) int {
	n := 0
	for _, k := range keywords {
		nk := NormalizeText(k)
		if nk != "" && strings.Contains(text, nk) {
			n++
		}
	}
	return n
}

type matchingStrategy struct{}

func (matchingStrategy) Evaluate(_ context.Context, q Question, ans Comparable) (Verdict, error) {
	correct, ok := q.Answer.(MatchingPairs)
	if !ok {
		return Verdict{}, &RubricParseError{QuestionID: q.ID, Err: fmt.Errorf("expected matching pairs, got %T", q.Answer)}
	}
	if len(ans.Pairs) != len(correct) {
		return Verdict{Status: StatusIncorrect, Feedback: fmt.Sprintf("expected %d pairs, got %d", len(correct), len(ans.Pairs))}, nil
	}
	byLeft := pairsByLeft(correct, ans.Pairs)
	for i, c := range correct {
		got := ans.Pairs[i].Right
		if byLeft != nil {
			got = byLeft[c.Left]
		}
		if got != c.Right {
			return Verdict{Status: StatusIncorrect, Feedback: fmt.Sprintf("pair %d does not match", i+1)}, nil
		}
	}
	return Verdict{Status: StatusCorrect}, nil
}

// pairsByLeft 双方每一对都带左值时按左值对齐，否则返回 nil 按位置比较
func pairsByLeft(correct, given []MatchPair) map[string]string {
	for _, c := range correct {
		if c.Left == "" {
			return nil
		}
	}
	byLeft := make(map[string]string, len(given))
	for _, p := range given {
		if p.Left == "" {
			return nil
		}
		byLeft[p.Left] = p.Right
	}
	return byLeft
}

type essayStrategy struct {
	minLength int
}

func (s essayStrategy) Evaluate(_ context.Context, q Question, ans Comparable) (Verdict, error) {
	if q.Answer == nil {
		return Verdict{Status: StatusManual, Feedback: "no rubric, needs manual grading"}, nil
	}
	rubric, ok := q.Answer.(EssayRubric)
	if !ok {
		return Verdict{}, &RubricParseError{QuestionID: q.ID, Err: fmt.Errorf("expected essay rubric, got %T", q.Answer)}
	}

	var (
		total float64
		notes []string
	)
	length := utf8.RuneCountInString(ans.Text)
	for _, c := range rubric.Criteria {
		var score float64
		if len(c.Keywords) > 0 {
			matched := countKeywords(ans.Text, c.Keywords)
			score = float64(matched) / float64(len(c.Keywords)) * c.MaxMarks
		} else {
			score = float64(length) / float64(s.minLength) * c.MaxMarks
			if score > c.MaxMarks {
				score = c.MaxMarks
			}
		}
		total += score
		notes = append(notes, fmt.Sprintf("%s: %s/%s", c.Name, formatMarks(score), formatMarks(c.MaxMarks)))
	}
	return Verdict{Status: StatusPartial, Awarded: total, Feedback: strings.Join(notes, "; ")}, nil
}

func joinFeedback(a, b string) string {
	if a == "" {
		return b
	}
	return a + "; " + b
}
