package grading

import (
	"context"
	"fmt"
	"time"
)

// EquivalenceChecker 可选的 AI 语义等价判断，仅作为确定性判分之外的补充信号
type EquivalenceChecker interface {
	IsEquivalent(ctx context.Context, student, correct, language string) (bool, error)
}

// Strategy 单一题型的评分策略
type Strategy interface {
	Evaluate(ctx context.Context, q Question, ans Comparable) (Verdict, error)
}

// Verdict 策略给出的判定，分值由 Score 统一折算
type Verdict struct {
	Status   Status
	Awarded  float64 // 仅 StatusPartial 使用
	Feedback string
}

type Option func(*options)

type options struct {
	equivalence        EquivalenceChecker
	equivalenceTimeout time.Duration
	essayMinLength     int
}

func WithEquivalence(c EquivalenceChecker) Option {
	return func(o *options) { o.equivalence = c }
}

func WithEquivalenceTimeout(d time.Duration) Option {
	return func(o *options) { o.equivalenceTimeout = d }
}

func WithEssayMinLength(n int) Option {
	return func(o *options) { o.essayMinLength = n }
}

// Engine 按题型路由到对应策略
type Engine struct {
	strategies map[QuestionType]Strategy
}

const (
	DefaultEquivalenceTimeout = 5 * time.Second
	DefaultEssayMinLength     = 50
)

func NewEngine(opts ...Option) *Engine {
	o := &options{
		equivalenceTimeout: DefaultEquivalenceTimeout,
		essayMinLength:     DefaultEssayMinLength,
	}
	for _, fn := range opts {
		fn(o)
	}
	if o.essayMinLength <= 0 {
		o.essayMinLength = DefaultEssayMinLength
	}

	return &Engine{
		strategies: map[QuestionType]Strategy{
			MultipleChoice: choiceStrategy{},
			TrueFalse:      trueFalseStrategy{},
			ShortAnswer:    shortAnswerStrategy{checker: o.equivalence, timeout: o.equivalenceTimeout},
			Matching:       matchingStrategy{},
			Essay:          essayStrategy{minLength: o.essayMinLength},
		},
	}
}

// Evaluate 对单题评分，预期内的失败都转为人工评分结果，不会返回错误或 panic
func (e *Engine) Evaluate(ctx context.Context, q Question, raw interface{}) (out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			out = manualOutcome(fmt.Errorf("evaluator panic: %v", r), "evaluation failed, needs manual grading")
		}
	}()

	ans := Normalize(q.Type, raw)
	if !ans.Answered {
		return Score(q, Verdict{Status: StatusUnanswered, Feedback: "unanswered"})
	}

	if q.AnswerErr != nil {
		return manualOutcome(q.AnswerErr, "correct answer could not be parsed, needs manual grading")
	}

	s, ok := e.strategies[q.Type]
	if !ok {
		return manualOutcome(fmt.Errorf("no strategy for question type %q", q.Type), "unsupported question type, needs manual grading")
	}

	v, err := s.Evaluate(ctx, q, ans)
	if err != nil {
		return manualOutcome(err, "needs manual grading: "+err.Error())
	}
	return Score(q, v)
}

func manualOutcome(err error, note string) Outcome {
	return Outcome{
		Status:   StatusManual,
		Method:   MethodManual,
		Feedback: note,
		Err:      err,
	}
}
