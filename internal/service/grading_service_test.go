package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"assessment_backend/internal/grading"
	"assessment_backend/internal/model"
	"assessment_backend/internal/util"
)

const keywordRubric = `{"required_keywords":["mitochondria","energy"],"min_required_match":2}`

// mcq(2/-1), tf(1/0), short(5/0), essay 无细则(10), matching(3/1)
func standardFixture(t *testing.T) *fixture {
	return newFixture(t,
		questionSpec{qtype: "multiple_choice", correct: `"B"`, positive: 2, negative: 1, options: []string{"A", "B", "C"}},
		questionSpec{qtype: "true_false", correct: `true`, positive: 1},
		questionSpec{qtype: "short_answer", correct: keywordRubric, positive: 5},
		questionSpec{qtype: "essay", positive: 10},
		questionSpec{qtype: "matching", correct: `[{"left":"H2O","right":"water"}]`, positive: 3, negative: 1},
	)
}

func submitStandard(t *testing.T, f *fixture) (*model.Attempt, *AttemptResult) {
	t.Helper()
	attempt := f.startAttempt(t)
	q := f.questions
	res, err := f.grading.SubmitAttempt(context.Background(), f.student.ID, attempt.ID, []SubmittedAnswer{
		answer(q[0].ID, `"B"`),
		answer(q[1].ID, `false`),
		answer(q[2].ID, `"Mitochondria turn food into energy"`),
		answer(q[3].ID, `"Cells are the basic unit of life."`),
	})
	if err != nil {
		t.Fatalf("SubmitAttempt: %v", err)
	}
	return attempt, res
}

func storedAnswer(t *testing.T, f *fixture, attemptID, questionID uint) model.Answer {
	t.Helper()
	answers, err := f.attempts.ListAnswers(attemptID)
	if err != nil {
		t.Fatalf("ListAnswers: %v", err)
	}
	for _, a := range answers {
		if a.QuestionID == questionID {
			return a
		}
	}
	t.Fatalf("no stored answer for question %d", questionID)
	return model.Answer{}
}

func TestSubmitAttemptGradesEveryQuestion(t *testing.T) {
	f := standardFixture(t)
	attempt, res := submitStandard(t, f)
	q := f.questions

	if len(res.Answers) != len(q) {
		t.Fatalf("graded %d answers, want %d", len(res.Answers), len(q))
	}

	tests := []struct {
		name    string
		qid     uint
		score   float64
		correct bool
		method  grading.Method
	}{
		{name: "mcq correct", qid: q[0].ID, score: 2, correct: true, method: grading.MethodAuto},
		{name: "true false wrong without penalty", qid: q[1].ID, score: 0, method: grading.MethodAuto},
		{name: "short answer keywords", qid: q[2].ID, score: 5, correct: true, method: grading.MethodAuto},
		{name: "essay without rubric", qid: q[3].ID, score: 0, method: grading.MethodManual},
		{name: "matching unanswered", qid: q[4].ID, score: 0, method: grading.MethodAuto},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := findResult(t, res, tc.qid)
			if got.Score != tc.score || got.Correct != tc.correct || got.GradingMethod != string(tc.method) {
				t.Fatalf("got %+v, want score=%v correct=%v method=%s", got, tc.score, tc.correct, tc.method)
			}
		})
	}

	if res.RawScore != 7 || res.Score != 7 || res.MaxScore != 21 {
		t.Fatalf("totals = %v/%v (raw %v), want 7/21", res.Score, res.MaxScore, res.RawScore)
	}
	if res.Percentage != 33.33 {
		t.Fatalf("percentage = %v, want 33.33", res.Percentage)
	}
	if res.Status != grading.StatusPartiallyGraded || res.ManualRequiredCount != 1 || res.AutoGradedCount != 4 {
		t.Fatalf("status = %s manual=%d auto=%d", res.Status, res.ManualRequiredCount, res.AutoGradedCount)
	}

	stored, err := f.attempts.FindByID(attempt.ID)
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if stored.Status != model.AttemptCompleted || stored.CompletedAt == nil || stored.Score != 7 {
		t.Fatalf("stored attempt = %+v", stored)
	}

	unanswered := storedAnswer(t, f, attempt.ID, q[4].ID)
	if len(unanswered.RawAnswer) != 0 {
		t.Fatalf("unanswered question should store no raw answer, got %s", unanswered.RawAnswer)
	}
}

func TestSubmitAttemptNegativeTotalClampedAtZero(t *testing.T) {
	f := newFixture(t,
		questionSpec{qtype: "multiple_choice", correct: `"A"`, positive: 1, negative: 2},
		questionSpec{qtype: "true_false", correct: `false`, positive: 1, negative: 0.5},
	)
	attempt := f.startAttempt(t)

	res, err := f.grading.SubmitAttempt(context.Background(), f.student.ID, attempt.ID, []SubmittedAnswer{
		answer(f.questions[0].ID, `"C"`),
		answer(f.questions[1].ID, `true`),
	})
	if err != nil {
		t.Fatalf("SubmitAttempt: %v", err)
	}
	if res.RawScore != -2.5 || res.Score != 0 || res.Percentage != 0 {
		t.Fatalf("raw=%v total=%v pct=%v, want -2.5/0/0", res.RawScore, res.Score, res.Percentage)
	}
	if got := findResult(t, res, f.questions[0].ID).Score; got != -2 {
		t.Fatalf("question score = %v, want -2", got)
	}
	if res.Status != grading.StatusFullyGraded {
		t.Fatalf("status = %s", res.Status)
	}
}

func TestSubmitAttemptMalformedRubricRoutedToManual(t *testing.T) {
	f := newFixture(t,
		questionSpec{qtype: "essay", correct: `{"criteria":"oops"}`, positive: 4},
		questionSpec{qtype: "true_false", correct: `true`, positive: 1},
	)
	attempt := f.startAttempt(t)

	res, err := f.grading.SubmitAttempt(context.Background(), f.student.ID, attempt.ID, []SubmittedAnswer{
		answer(f.questions[0].ID, `"An essay"`),
		answer(f.questions[1].ID, `"yes"`),
	})
	if err != nil {
		t.Fatalf("malformed rubric must not fail the attempt: %v", err)
	}

	essay := findResult(t, res, f.questions[0].ID)
	if essay.GradingMethod != string(grading.MethodManual) || essay.Score != 0 {
		t.Fatalf("essay result = %+v", essay)
	}
	if tf := findResult(t, res, f.questions[1].ID); tf.Score != 1 {
		t.Fatalf("sibling question should still be graded, got %+v", tf)
	}

	stored := storedAnswer(t, f, attempt.ID, f.questions[0].ID)
	if stored.GradingNotes == "" || stored.GradedAt != nil {
		t.Fatalf("manual answer should carry notes and no graded time: %+v", stored)
	}
}

func TestSubmitAttemptRejections(t *testing.T) {
	f := standardFixture(t)
	attempt := f.startAttempt(t)
	q := f.questions

	tests := []struct {
		name      string
		studentID uint
		attemptID uint
		answers   []SubmittedAnswer
		check     func(error) bool
	}{
		{
			name:      "missing attempt id",
			studentID: f.student.ID,
			check:     grading.IsValidation,
		},
		{
			name:      "duplicate question",
			studentID: f.student.ID,
			attemptID: attempt.ID,
			answers:   []SubmittedAnswer{answer(q[0].ID, `"A"`), answer(q[0].ID, `"B"`)},
			check:     grading.IsValidation,
		},
		{
			name:      "question from another assessment",
			studentID: f.student.ID,
			attemptID: attempt.ID,
			answers:   []SubmittedAnswer{answer(9999, `"A"`)},
			check:     grading.IsValidation,
		},
		{
			name:      "someone else's attempt",
			studentID: 77,
			attemptID: attempt.ID,
			check:     grading.IsAuthorization,
		},
		{
			name:      "unknown attempt",
			studentID: f.student.ID,
			attemptID: 9999,
			check:     func(err error) bool { return errors.Is(err, util.ErrAttemptNotFound) },
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.grading.SubmitAttempt(context.Background(), tc.studentID, tc.attemptID, tc.answers)
			if err == nil || !tc.check(err) {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}

	stored, _ := f.attempts.FindByID(attempt.ID)
	if stored.Status != model.AttemptInProgress {
		t.Fatalf("rejected submissions must leave the attempt in progress, got %s", stored.Status)
	}
}

func TestSubmitAttemptTwice(t *testing.T) {
	f := standardFixture(t)
	attempt, first := submitStandard(t, f)

	_, err := f.grading.SubmitAttempt(context.Background(), f.student.ID, attempt.ID, []SubmittedAnswer{
		answer(f.questions[0].ID, `"A"`),
	})
	if !errors.Is(err, util.ErrAttemptAlreadySubmitted) {
		t.Fatalf("err = %v, want ErrAttemptAlreadySubmitted", err)
	}

	stored, _ := f.attempts.FindByID(attempt.ID)
	if stored.Score != first.Score {
		t.Fatalf("second submission changed the score: %v -> %v", first.Score, stored.Score)
	}
}

func TestSubmitAttemptWhileLocked(t *testing.T) {
	f := standardFixture(t)
	attempt := f.startAttempt(t)

	release, err := f.grading.Locker.Acquire(context.Background(), fmt.Sprintf("attempt:%d", attempt.ID), time.Minute)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer release()

	_, err = f.grading.SubmitAttempt(context.Background(), f.student.ID, attempt.ID, nil)
	if !errors.Is(err, util.ErrAttemptBusy) {
		t.Fatalf("err = %v, want ErrAttemptBusy", err)
	}
}

func TestOverride(t *testing.T) {
	f := standardFixture(t)
	attempt, _ := submitStandard(t, f)
	q := f.questions
	mcq := storedAnswer(t, f, attempt.ID, q[0].ID)
	short := storedAnswer(t, f, attempt.ID, q[2].ID)

	rejects := []struct {
		name  string
		actor Actor
		req   OverrideRequest
		check func(error) bool
	}{
		{
			name:  "missing reason",
			actor: f.teacher,
			req:   OverrideRequest{AnswerID: mcq.ID, NewScore: floatPtr(1), Reason: "  "},
			check: grading.IsValidation,
		},
		{
			name:  "missing score",
			actor: f.teacher,
			req:   OverrideRequest{AnswerID: mcq.ID, Reason: "typo"},
			check: grading.IsValidation,
		},
		{
			name:  "above positive marks",
			actor: f.teacher,
			req:   OverrideRequest{AnswerID: mcq.ID, NewScore: floatPtr(2.5), Reason: "bonus"},
			check: grading.IsValidation,
		},
		{
			name:  "below negative marks",
			actor: f.teacher,
			req:   OverrideRequest{AnswerID: mcq.ID, NewScore: floatPtr(-1.5), Reason: "penalty"},
			check: grading.IsValidation,
		},
		{
			name:  "not the owner",
			actor: Actor{ID: 42, Role: model.Teacher},
			req:   OverrideRequest{AnswerID: mcq.ID, NewScore: floatPtr(1), Reason: "typo"},
			check: grading.IsAuthorization,
		},
		{
			name:  "unknown answer",
			actor: f.teacher,
			req:   OverrideRequest{AnswerID: 9999, NewScore: floatPtr(1), Reason: "typo"},
			check: func(err error) bool { return errors.Is(err, util.ErrAnswerNotFound) },
		},
	}
	for _, tc := range rejects {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.grading.Override(context.Background(), tc.actor, tc.req)
			if err == nil || !tc.check(err) {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}

	change, err := f.grading.Override(context.Background(), f.teacher, OverrideRequest{
		AnswerID: mcq.ID,
		NewScore: floatPtr(-1),
		Feedback: "copied answer",
		Reason:   "academic integrity",
	})
	if err != nil {
		t.Fatalf("Override: %v", err)
	}
	if change.Answer.Score != -1 || change.Answer.GradingMethod != string(grading.MethodManualOverride) {
		t.Fatalf("answer = %+v", change.Answer)
	}
	if change.Answer.GradingNotes != "academic integrity" || change.Answer.OverriddenBy == nil || *change.Answer.OverriddenBy != f.teacher.ID {
		t.Fatalf("override audit fields missing: %+v", change.Answer)
	}
	// 7 - 2 - 1
	if change.Attempt.RawScore != 4 || change.Attempt.Score != 4 {
		t.Fatalf("attempt totals = %v/%v, want 4", change.Attempt.RawScore, change.Attempt.Score)
	}

	after := storedAnswer(t, f, attempt.ID, q[2].ID)
	if after.Score != short.Score || after.GradingMethod != short.GradingMethod {
		t.Fatalf("sibling answer changed: %+v -> %+v", short, after)
	}

	admin := Actor{ID: 99, Role: model.Admin}
	if _, err := f.grading.Override(context.Background(), admin, OverrideRequest{AnswerID: mcq.ID, NewScore: floatPtr(2), Reason: "appeal"}); err != nil {
		t.Fatalf("admin override: %v", err)
	}
}

func TestReviewAnswer(t *testing.T) {
	f := standardFixture(t)
	attempt, _ := submitStandard(t, f)
	q := f.questions

	pending, err := f.grading.ListManualGrading(context.Background(), f.teacher, f.assessment.ID)
	if err != nil {
		t.Fatalf("ListManualGrading: %v", err)
	}
	if len(pending) != 1 || pending[0].QuestionID != q[3].ID || pending[0].Question == nil {
		t.Fatalf("pending = %+v", pending)
	}
	if _, err := f.grading.ListManualGrading(context.Background(), f.student, f.assessment.ID); !grading.IsAuthorization(err) {
		t.Fatalf("student should not see the queue: %v", err)
	}

	essay := pending[0]
	if _, err := f.grading.ReviewAnswer(context.Background(), f.teacher, ReviewRequest{AnswerID: essay.ID, Score: floatPtr(11)}); !grading.IsValidation(err) {
		t.Fatalf("score above positive marks: %v", err)
	}
	if _, err := f.grading.ReviewAnswer(context.Background(), f.teacher, ReviewRequest{AnswerID: essay.ID, Score: floatPtr(-1)}); !grading.IsValidation(err) {
		t.Fatalf("negative review score: %v", err)
	}
	mcq := storedAnswer(t, f, attempt.ID, q[0].ID)
	if _, err := f.grading.ReviewAnswer(context.Background(), f.teacher, ReviewRequest{AnswerID: mcq.ID, Score: floatPtr(1)}); !errors.Is(err, util.ErrNotPendingReview) {
		t.Fatalf("auto graded answer is not reviewable: %v", err)
	}

	change, err := f.grading.ReviewAnswer(context.Background(), f.teacher, ReviewRequest{AnswerID: essay.ID, Score: floatPtr(8), Feedback: "well argued"})
	if err != nil {
		t.Fatalf("ReviewAnswer: %v", err)
	}
	if change.Answer.GradingMethod != string(grading.MethodManual) || change.Answer.ReviewedAt == nil || change.Answer.Feedback != "well argued" {
		t.Fatalf("answer = %+v", change.Answer)
	}
	if change.Attempt.Score != 15 || change.Attempt.ManualRequiredCount != 0 || change.Attempt.GradingStatus != grading.StatusFullyGraded {
		t.Fatalf("attempt = %+v", change.Attempt)
	}

	if _, err := f.grading.ReviewAnswer(context.Background(), f.teacher, ReviewRequest{AnswerID: essay.ID, Score: floatPtr(9)}); !errors.Is(err, util.ErrNotPendingReview) {
		t.Fatalf("second review: %v", err)
	}
	pending, _ = f.grading.ListManualGrading(context.Background(), f.teacher, f.assessment.ID)
	if len(pending) != 0 {
		t.Fatalf("queue should be empty, got %d", len(pending))
	}
}

// 复核在加锁前读到的快照已过期时，不能覆盖期间提交的改分
func TestReviewAfterConcurrentOverride(t *testing.T) {
	f := standardFixture(t)
	attempt, _ := submitStandard(t, f)
	essay := storedAnswer(t, f, attempt.ID, f.questions[3].ID)

	stale, _, err := f.grading.loadForGrade(f.teacher, essay.ID, "grade this answer")
	if err != nil {
		t.Fatalf("loadForGrade: %v", err)
	}
	if !stale.PendingReview() {
		t.Fatalf("essay should be pending, got %+v", stale)
	}

	if _, err := f.grading.Override(context.Background(), f.teacher, OverrideRequest{AnswerID: essay.ID, NewScore: floatPtr(3), Reason: "appeal"}); err != nil {
		t.Fatalf("Override: %v", err)
	}

	_, err = f.grading.applyGrade(context.Background(), attempt.ID, stale.ID, "review answer", reviewGrade(f.teacher, 8, ""))
	if !errors.Is(err, util.ErrNotPendingReview) {
		t.Fatalf("review on stale snapshot: %v", err)
	}

	got := storedAnswer(t, f, attempt.ID, f.questions[3].ID)
	if got.GradingMethod != string(grading.MethodManualOverride) || got.OverriddenBy == nil || got.OverriddenAt == nil ||
		got.GradingNotes != "appeal" || got.Score != 3 || got.ReviewedAt != nil {
		t.Fatalf("override audit lost: %+v", got)
	}
}

func TestOverrideKeepsReviewAudit(t *testing.T) {
	f := standardFixture(t)
	attempt, _ := submitStandard(t, f)
	essay := storedAnswer(t, f, attempt.ID, f.questions[3].ID)

	if _, err := f.grading.ReviewAnswer(context.Background(), f.teacher, ReviewRequest{AnswerID: essay.ID, Score: floatPtr(8), Feedback: "good"}); err != nil {
		t.Fatalf("ReviewAnswer: %v", err)
	}
	change, err := f.grading.applyGrade(context.Background(), attempt.ID, essay.ID, "override grade", overrideGrade(f.teacher, 6, "", "recount"))
	if err != nil {
		t.Fatalf("applyGrade: %v", err)
	}
	if change.Answer.ReviewedBy == nil || change.Answer.ReviewedAt == nil || change.Answer.Feedback != "good" || change.Answer.Score != 6 {
		t.Fatalf("answer = %+v", change.Answer)
	}
	if change.Attempt.Score != 13 {
		t.Fatalf("attempt score = %v, want 13", change.Attempt.Score)
	}

	if _, err := f.grading.applyGrade(context.Background(), attempt.ID, 9999, "override grade", overrideGrade(f.teacher, 0, "", "x")); !errors.Is(err, util.ErrAnswerNotFound) {
		t.Fatalf("unknown answer: %v", err)
	}
}

func TestRegradeKeepsManualGrades(t *testing.T) {
	f := standardFixture(t)
	attempt, _ := submitStandard(t, f)
	q := f.questions

	mcq := storedAnswer(t, f, attempt.ID, q[0].ID)
	if _, err := f.grading.Override(context.Background(), f.teacher, OverrideRequest{AnswerID: mcq.ID, NewScore: floatPtr(0), Reason: "ambiguous wording"}); err != nil {
		t.Fatalf("Override: %v", err)
	}
	essay := storedAnswer(t, f, attempt.ID, q[3].ID)
	if _, err := f.grading.ReviewAnswer(context.Background(), f.teacher, ReviewRequest{AnswerID: essay.ID, Score: floatPtr(6)}); err != nil {
		t.Fatalf("ReviewAnswer: %v", err)
	}

	if _, err := f.grading.RegradeAttempt(context.Background(), f.student, attempt.ID); !grading.IsAuthorization(err) {
		t.Fatalf("student regrade: %v", err)
	}

	res, err := f.grading.RegradeAttempt(context.Background(), f.teacher, attempt.ID)
	if err != nil {
		t.Fatalf("RegradeAttempt: %v", err)
	}
	if got := findResult(t, res, q[0].ID); got.Score != 0 || got.GradingMethod != string(grading.MethodManualOverride) {
		t.Fatalf("override lost on regrade: %+v", got)
	}
	if got := findResult(t, res, q[3].ID); got.Score != 6 {
		t.Fatalf("review lost on regrade: %+v", got)
	}
	if got := findResult(t, res, q[2].ID); got.Score != 5 {
		t.Fatalf("auto answer regraded to %+v", got)
	}
	// 0 + 0 + 5 + 6 + 0
	if res.Score != 11 || res.Status != grading.StatusFullyGraded {
		t.Fatalf("totals = %v (%s), want 11", res.Score, res.Status)
	}
}

func TestRegradeRequiresCompletedAttempt(t *testing.T) {
	f := standardFixture(t)
	attempt := f.startAttempt(t)

	if _, err := f.grading.RegradeAttempt(context.Background(), f.teacher, attempt.ID); !errors.Is(err, util.ErrAttemptNotCompleted) {
		t.Fatalf("err = %v, want ErrAttemptNotCompleted", err)
	}
}

func TestStartAttemptReusesInProgress(t *testing.T) {
	f := standardFixture(t)
	first := f.startAttempt(t)
	second := f.startAttempt(t)
	if first.ID != second.ID {
		t.Fatalf("expected the in-progress attempt to be reused, got %d and %d", first.ID, second.ID)
	}

	f.assessment.Status = model.AssessmentDraft
	if err := f.assessments.Update(f.assessment); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if _, err := f.attemptSvc.StartAttempt(context.Background(), 55, f.assessment.ID); !errors.Is(err, util.ErrAssessmentNotPublished) {
		t.Fatalf("err = %v, want ErrAssessmentNotPublished", err)
	}
}

func TestGetAttemptResultVisibility(t *testing.T) {
	f := standardFixture(t)
	attempt, _ := submitStandard(t, f)

	if _, err := f.attemptSvc.GetAttemptResult(context.Background(), f.student, attempt.ID); err != nil {
		t.Fatalf("student view: %v", err)
	}
	if _, err := f.attemptSvc.GetAttemptResult(context.Background(), f.teacher, attempt.ID); err != nil {
		t.Fatalf("owner view: %v", err)
	}
	other := Actor{ID: 300, Role: model.Student}
	if _, err := f.attemptSvc.GetAttemptResult(context.Background(), other, attempt.ID); !grading.IsAuthorization(err) {
		t.Fatalf("other student: %v", err)
	}
}
