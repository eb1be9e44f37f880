package grading

// QuestionType 题型
type QuestionType string

const (
	MultipleChoice QuestionType = "multiple_choice"
	TrueFalse      QuestionType = "true_false"
	ShortAnswer    QuestionType = "short_answer"
	Matching       QuestionType = "matching"
	Essay          QuestionType = "essay"
)

// Valid 判断是否为支持的题型
func (t QuestionType) Valid() bool {
	switch t {
	case MultipleChoice, TrueFalse, ShortAnswer, Matching, Essay:
		return true
	}
	return false
}

// Method 评分方式
type Method string

const (
	MethodAuto           Method = "auto"
	MethodManual         Method = "manual"
	MethodManualOverride Method = "manual_override"
)

// Status 单题判定结果
type Status string

const (
	StatusCorrect    Status = "correct"
	StatusIncorrect  Status = "incorrect"
	StatusPartial    Status = "partial"
	StatusUnanswered Status = "unanswered"
	StatusManual     Status = "manual"
)

// Question 评分所需的题目视图，CorrectAnswer 在加载时解析一次
type Question struct {
	ID            uint
	Type          QuestionType
	Options       []string
	Answer        CorrectAnswer
	AnswerErr     error // 解析 correct_answer 失败时的原因
	PositiveMarks float64
	NegativeMarks float64
	Language      string
}

// Outcome 单题评分结果
type Outcome struct {
	Status      Status
	IsCorrect   bool
	ScoredMarks float64
	Method      Method
	Feedback    string
	Err         error // 可恢复的失败原因（解析失败、AI 超时等）
}
