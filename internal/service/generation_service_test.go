package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"assessment_backend/internal/grading"
	"assessment_backend/internal/model"
	"assessment_backend/internal/util"
)

func TestParseGeneratedQuestions(t *testing.T) {
	tests := []struct {
		name    string
		reply   string
		count   int
		text    string
		wantErr bool
	}{
		{name: "plain array", reply: `[{"text":"Q1","correctAnswer":true}]`, count: 1, text: "Q1"},
		{name: "markdown fenced", reply: "Here you go:\n```json\n[{\"question\":\"Q2\",\"correct_answer\":false}]\n```", count: 1, text: "Q2"},
		{name: "no array", reply: "I cannot help with that.", wantErr: true},
		{name: "broken json", reply: `[{"text": }]`, wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := parseGeneratedQuestions(tc.reply)
			if tc.wantErr {
				if !errors.Is(err, ErrMalformedReply) {
					t.Fatalf("err = %v, want ErrMalformedReply", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(got) != tc.count || got[0].Text != tc.text || len(got[0].CorrectAnswer) == 0 {
				t.Fatalf("got %+v", got)
			}
		})
	}
}

type staticRetriever struct {
	chunks []string
	query  string
}

func (r *staticRetriever) RetrieveContext(_ context.Context, _ uint, query string, _ int) ([]string, error) {
	r.query = query
	return r.chunks, nil
}

const generatedMCQ = "```json\n[" +
	`{"text":"Capital of France?","options":["Paris","Rome"],"correctAnswer":"a","explanation":"Paris"},` +
	`{"question":"Broken","options":["only one"],"correct_answer":"a"},` +
	`{"text":"Largest planet?","options":["Mars","Jupiter"],"correctAnswer":"b"}` +
	"]\n```"

func newGenerationFixture(t *testing.T, providers ...Provider) (*GenerationService, *fixture, *model.Assessment) {
	t.Helper()
	f := newFixture(t)
	assessments := NewAssessmentService(f.assessments)
	a, err := assessments.Create(context.Background(), f.teacher, CreateAssessmentRequest{
		Title: "Geography",
		Blocks: []model.Block{
			{Type: "multiple_choice", Count: 2, PositiveMarks: 2, NegativeMarks: 0.5, Topic: "capitals"},
		},
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return NewGenerationService(assessments, NewProviderPool(RotationFallback, providers...), nil), f, a
}

func TestGenerateQuestions(t *testing.T) {
	p := &fakeProvider{name: "p", replies: []string{generatedMCQ}}
	svc, f, a := newGenerationFixture(t, p)
	retriever := &staticRetriever{chunks: []string{"Paris is the capital of France."}}
	svc.Retriever = retriever

	questions, err := svc.GenerateQuestions(context.Background(), f.teacher, a.ID)
	if err != nil {
		t.Fatalf("GenerateQuestions: %v", err)
	}
	if len(questions) != 2 {
		t.Fatalf("questions = %d, want 2 (invalid candidate dropped)", len(questions))
	}
	for _, q := range questions {
		if q.Source != model.QuestionSourceGenerated || q.PositiveMarks != 2 || q.NegativeMarks != 0.5 {
			t.Fatalf("question = %+v", q)
		}
	}

	stored, _ := f.assessments.ListQuestions(a.ID)
	if len(stored) != 2 || stored[0].Order != 1 || stored[1].Order != 2 {
		t.Fatalf("stored questions = %+v", stored)
	}

	if retriever.query != "capitals" {
		t.Fatalf("retrieval query = %q, want block topic", retriever.query)
	}
	if joined := strings.Join(p.prompts, "\n"); !strings.Contains(joined, "Paris is the capital of France.") {
		t.Fatalf("prompt should include retrieved material: %s", joined)
	}
}

func TestGenerateQuestionsFallsBackOnMalformedReply(t *testing.T) {
	bad := &fakeProvider{name: "bad", replies: []string{"Sorry, I can't do JSON today."}}
	good := &fakeProvider{name: "good", replies: []string{generatedMCQ}}
	svc, f, a := newGenerationFixture(t, bad, good)

	questions, err := svc.GenerateQuestions(context.Background(), f.teacher, a.ID)
	if err != nil {
		t.Fatalf("GenerateQuestions: %v", err)
	}
	if len(questions) != 2 || bad.calls != 1 || good.calls != 1 {
		t.Fatalf("questions=%d bad=%d good=%d", len(questions), bad.calls, good.calls)
	}
}

func TestGenerateQuestionsRejections(t *testing.T) {
	t.Run("no providers", func(t *testing.T) {
		svc, f, a := newGenerationFixture(t)
		if _, err := svc.GenerateQuestions(context.Background(), f.teacher, a.ID); !errors.Is(err, util.ErrNoProviders) {
			t.Fatalf("err = %v, want ErrNoProviders", err)
		}
	})

	t.Run("not the owner", func(t *testing.T) {
		svc, _, a := newGenerationFixture(t, &fakeProvider{name: "p", replies: []string{generatedMCQ}})
		if _, err := svc.GenerateQuestions(context.Background(), Actor{ID: 8, Role: model.Teacher}, a.ID); !grading.IsAuthorization(err) {
			t.Fatalf("err = %v", err)
		}
	})

	t.Run("every candidate invalid", func(t *testing.T) {
		svc, f, a := newGenerationFixture(t, &fakeProvider{name: "p", replies: []string{`[{"text":"Q","options":["x"],"correctAnswer":"a"}]`}})
		if _, err := svc.GenerateQuestions(context.Background(), f.teacher, a.ID); !errors.Is(err, ErrMalformedReply) {
			t.Fatalf("err = %v, want ErrMalformedReply", err)
		}
		if stored, _ := f.assessments.ListQuestions(a.ID); len(stored) != 0 {
			t.Fatalf("nothing should be stored, got %d", len(stored))
		}
	})

	t.Run("assessment already attempted", func(t *testing.T) {
		svc, f, a := newGenerationFixture(t, &fakeProvider{name: "p", replies: []string{generatedMCQ}})
		if err := f.attempts.Create(&model.Attempt{AssessmentID: a.ID, StudentID: f.student.ID, Status: model.AttemptInProgress}); err != nil {
			t.Fatalf("create attempt: %v", err)
		}
		if _, err := svc.GenerateQuestions(context.Background(), f.teacher, a.ID); !errors.Is(err, util.ErrAssessmentLocked) {
			t.Fatalf("err = %v, want ErrAssessmentLocked", err)
		}
	})
}
