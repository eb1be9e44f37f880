package grading

import (
	"errors"
	"reflect"
	"testing"
)

func TestParseCorrectAnswer(t *testing.T) {
	tests := []struct {
		name    string
		qt      QuestionType
		raw     string
		want    CorrectAnswer
		wantErr bool
	}{
		{name: "mcq string", qt: MultipleChoice, raw: `"B"`, want: MCQAnswer{Option: "B"}},
		{name: "mcq number", qt: MultipleChoice, raw: `3`, want: MCQAnswer{Option: "3"}},
		{name: "mcq object", qt: MultipleChoice, raw: `{"a":1}`, wantErr: true},
		{name: "true false bool", qt: TrueFalse, raw: `false`, want: TrueFalseAnswer{Value: false}},
		{name: "true false string", qt: TrueFalse, raw: `"True"`, want: TrueFalseAnswer{Value: true}},
		{name: "true false garbage", qt: TrueFalse, raw: `"perhaps"`, wantErr: true},
		{name: "short text", qt: ShortAnswer, raw: `"Paris"`, want: TextAnswer{Text: "Paris"}},
		{
			name: "short rubric default min",
			qt:   ShortAnswer,
			raw:  `{"required_keywords":["a","b"]}`,
			want: KeywordRubric{GradingType: GradingKeyword, RequiredKeywords: []string{"a", "b"}, MinRequiredMatch: 2},
		},
		{name: "short rubric min too large", qt: ShortAnswer, raw: `{"required_keywords":["a"],"min_required_match":3}`, wantErr: true},
		{name: "short rubric malformed", qt: ShortAnswer, raw: `{"required_keywords":`, wantErr: true},
		{name: "short reference only", qt: ShortAnswer, raw: `{"reference_answer":"Paris"}`, want: TextAnswer{Text: "Paris"}},
		{name: "matching", qt: Matching, raw: `[{"left":"a","right":"1"}]`, want: MatchingPairs{{Left: "a", Right: "1"}}},
		{name: "matching empty", qt: Matching, raw: `[]`, wantErr: true},
		{name: "essay no rubric", qt: Essay, raw: `null`, want: nil},
		{name: "essay empty criteria", qt: Essay, raw: `{"criteria":[]}`, want: nil},
		{
			name: "essay rubric",
			qt:   Essay,
			raw:  `{"criteria":[{"name":"content","max_marks":4,"keywords":["cell"]}]}`,
			want: EssayRubric{Criteria: []Criterion{{Name: "content", MaxMarks: 4, Keywords: []string{"cell"}}}},
		},
		{name: "essay bad json", qt: Essay, raw: `{"criteria":"x"}`, wantErr: true},
		{name: "missing answer", qt: MultipleChoice, raw: ``, wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseCorrectAnswer(7, tc.qt, []byte(tc.raw))
			if tc.wantErr {
				var rpe *RubricParseError
				if !errors.As(err, &rpe) {
					t.Fatalf("expected RubricParseError, got %v", err)
				}
				if rpe.QuestionID != 7 {
					t.Fatalf("question id = %d, want 7", rpe.QuestionID)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("got %#v, want %#v", got, tc.want)
			}
		})
	}
}
