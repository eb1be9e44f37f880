package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"assessment_backend/internal/config"
	"assessment_backend/internal/model"
	"assessment_backend/internal/repository"
	"assessment_backend/pkg/database"
	"assessment_backend/pkg/locker"

	"github.com/glebarez/sqlite"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name)), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	if err := database.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

type fixture struct {
	db          *gorm.DB
	assessments *repository.AssessmentRepository
	attempts    *repository.AttemptRepository
	grading     *GradingService
	attemptSvc  *AttemptService

	teacher    Actor
	student    Actor
	assessment *model.Assessment
	questions  []model.Question
}

type questionSpec struct {
	qtype    string
	correct  string
	positive float64
	negative float64
	options  []string
}

func newFixture(t *testing.T, specs ...questionSpec) *fixture {
	t.Helper()
	db := newTestDB(t)
	f := &fixture{
		db:          db,
		assessments: repository.NewAssessmentRepository(db),
		attempts:    repository.NewAttemptRepository(db),
		teacher:     Actor{ID: 1, Role: model.Teacher},
		student:     Actor{ID: 2, Role: model.Student},
	}
	f.grading = NewGradingService(db, f.assessments, f.attempts, locker.NewLocalLocker(), nil, config.GradingConfig{})
	f.attemptSvc = NewAttemptService(f.assessments, f.attempts)

	now := time.Now()
	f.assessment = &model.Assessment{
		OwnerID:     f.teacher.ID,
		Title:       "Cell biology",
		Language:    "en",
		Status:      model.AssessmentPublished,
		PublishedAt: &now,
	}
	if err := f.assessments.Create(f.assessment); err != nil {
		t.Fatalf("create assessment: %v", err)
	}

	questions := make([]model.Question, len(specs))
	for i, s := range specs {
		questions[i] = model.Question{
			Type:          s.qtype,
			Text:          fmt.Sprintf("question %d", i+1),
			PositiveMarks: s.positive,
			NegativeMarks: s.negative,
		}
		if s.correct != "" {
			questions[i].CorrectAnswer = datatypes.JSON(s.correct)
		}
		if len(s.options) > 0 {
			b, _ := json.Marshal(s.options)
			questions[i].Options = datatypes.JSON(b)
		}
	}
	if err := f.assessments.CreateQuestions(f.assessment.ID, questions); err != nil {
		t.Fatalf("create questions: %v", err)
	}
	f.questions = questions
	return f
}

func (f *fixture) startAttempt(t *testing.T) *model.Attempt {
	t.Helper()
	a, err := f.attemptSvc.StartAttempt(context.Background(), f.student.ID, f.assessment.ID)
	if err != nil {
		t.Fatalf("start attempt: %v", err)
	}
	return a
}

func answer(questionID uint, raw string) SubmittedAnswer {
	return SubmittedAnswer{QuestionID: questionID, Answer: json.RawMessage(raw)}
}

func findResult(t *testing.T, res *AttemptResult, questionID uint) AnswerResult {
	t.Helper()
	for _, a := range res.Answers {
		if a.QuestionID == questionID {
			return a
		}
	}
	t.Fatalf("no result for question %d", questionID)
	return AnswerResult{}
}

func floatPtr(v float64) *float64 { return &v }
