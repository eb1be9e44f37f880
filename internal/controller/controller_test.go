package controller

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"assessment_backend/internal/config"
	"assessment_backend/internal/grading"
	"assessment_backend/internal/middleware"
	"assessment_backend/internal/model"
	"assessment_backend/internal/repository"
	"assessment_backend/internal/service"
	"assessment_backend/internal/util"
	"assessment_backend/pkg/database"
	"assessment_backend/pkg/locker"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func init() {
	gin.SetMode(gin.TestMode)
	util.RegisterValidators()
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

var testUsers = map[string]*util.Claims{
	"teacher": {UserID: 1, Role: model.Teacher},
	"student": {UserID: 2, Role: model.Student},
	"other":   {UserID: 3, Role: model.Teacher},
}

// asUser 测试中跳过 JWT，直接按请求头注入 claims
func asUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		if claims, ok := testUsers[c.GetHeader("X-Test-User")]; ok {
			c.Set(util.ContextUserKey, claims)
		}
		c.Next()
	}
}

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, _ := db.DB()
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	if err := database.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	assessmentRepo := repository.NewAssessmentRepository(db)
	attemptRepo := repository.NewAttemptRepository(db)
	assessments := service.NewAssessmentService(assessmentRepo)

	ac := NewAssessmentController(assessments, service.NewGenerationService(assessments, service.NewProviderPool(service.RotationFallback), nil))
	tc := NewAttemptController(service.NewAttemptService(assessmentRepo, attemptRepo))
	gc := NewGradingController(service.NewGradingService(db, assessmentRepo, attemptRepo, locker.NewLocalLocker(), nil, config.GradingConfig{}))

	r := gin.New()
	api := r.Group("/api", asUser())
	api.GET("/assessments/:id", ac.Get)
	api.GET("/assessments/:id/questions", ac.ListQuestions)
	api.POST("/assessments/:id/attempts", tc.Start)
	api.GET("/attempts/:id", tc.Get)
	api.POST("/attempts/:id/submit", gc.SubmitAttempt)

	teacher := api.Group("", middleware.RoleMiddleware(model.Teacher))
	teacher.POST("/assessments", ac.Create)
	teacher.POST("/assessments/:id/questions", ac.AddQuestions)
	teacher.POST("/assessments/:id/publish", ac.Publish)
	teacher.POST("/assessments/:id/generate", ac.Generate)
	teacher.POST("/grading/override", gc.Override)
	return r
}

func doJSON(t *testing.T, r *gin.Engine, method, path, user string, body interface{}) (int, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set("X-Test-User", user)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var env envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("%s %s: decode response %q: %v", method, path, w.Body.String(), err)
	}
	return w.Code, env
}

func TestAssessmentGradingFlow(t *testing.T) {
	r := newTestRouter(t)

	code, _ := doJSON(t, r, http.MethodPost, "/api/assessments", "teacher", `{"title":"Quiz","blocks":[{"type":"fill_blank","count":1}]}`)
	if code != http.StatusBadRequest {
		t.Fatalf("unknown block type: status %d", code)
	}
	code, _ = doJSON(t, r, http.MethodPost, "/api/assessments", "student", `{"title":"Quiz"}`)
	if code != http.StatusForbidden {
		t.Fatalf("student create: status %d", code)
	}

	code, env := doJSON(t, r, http.MethodPost, "/api/assessments", "teacher", `{"title":"Quiz"}`)
	if code != http.StatusCreated {
		t.Fatalf("create: status %d %s", code, env.Message)
	}
	var a model.Assessment
	json.Unmarshal(env.Data, &a)
	base := fmt.Sprintf("/api/assessments/%d", a.ID)

	code, _ = doJSON(t, r, http.MethodPost, base+"/questions", "teacher", `{"questions":[{"type":"riddle","text":"?"}]}`)
	if code != http.StatusBadRequest {
		t.Fatalf("unknown question type: status %d", code)
	}
	code, env = doJSON(t, r, http.MethodPost, base+"/questions", "teacher", `{"questions":[{"type":"multiple_choice","text":"Pick","options":["A"],"correctAnswer":"A"}]}`)
	if code != http.StatusBadRequest || !strings.Contains(env.Message, "questions[0].options") {
		t.Fatalf("single option: status %d %q", code, env.Message)
	}
	code, _ = doJSON(t, r, http.MethodPost, base+"/questions", "teacher", `{"questions":[
		{"type":"multiple_choice","text":"Pick B","options":["A","B","C"],"correctAnswer":"B","positiveMarks":2,"negativeMarks":1},
		{"type":"true_false","text":"Sky is blue","correctAnswer":true}
	]}`)
	if code != http.StatusCreated {
		t.Fatalf("add questions: status %d", code)
	}

	code, _ = doJSON(t, r, http.MethodGet, base, "student", nil)
	if code != http.StatusNotFound {
		t.Fatalf("draft visible to student: status %d", code)
	}
	code, _ = doJSON(t, r, http.MethodPost, base+"/publish", "other", nil)
	if code != http.StatusForbidden {
		t.Fatalf("publish by other teacher: status %d", code)
	}
	code, _ = doJSON(t, r, http.MethodPost, base+"/publish", "teacher", nil)
	if code != http.StatusOK {
		t.Fatalf("publish: status %d", code)
	}

	code, env = doJSON(t, r, http.MethodGet, base+"/questions", "student", nil)
	if code != http.StatusOK || strings.Contains(string(env.Data), "correctAnswer") {
		t.Fatalf("student questions leak answers: %d %s", code, env.Data)
	}
	var questions []model.Question
	json.Unmarshal(env.Data, &questions)

	code, env = doJSON(t, r, http.MethodPost, base+"/attempts", "student", nil)
	if code != http.StatusCreated {
		t.Fatalf("start attempt: status %d", code)
	}
	var attempt model.Attempt
	json.Unmarshal(env.Data, &attempt)
	submit := fmt.Sprintf("/api/attempts/%d/submit", attempt.ID)

	body := SubmitAttemptRequest{Answers: []service.SubmittedAnswer{
		{QuestionID: questions[0].ID, Answer: json.RawMessage(`"b"`)},
		{QuestionID: questions[1].ID, Answer: json.RawMessage(`"true"`)},
	}}
	code, _ = doJSON(t, r, http.MethodPost, submit, "other", body)
	if code != http.StatusForbidden {
		t.Fatalf("submit by other user: status %d", code)
	}
	code, env = doJSON(t, r, http.MethodPost, submit, "student", body)
	if code != http.StatusOK {
		t.Fatalf("submit: status %d %s", code, env.Message)
	}
	var res service.AttemptResult
	json.Unmarshal(env.Data, &res)
	if res.Score != 3 || res.MaxScore != 3 || res.Status != grading.StatusFullyGraded {
		t.Fatalf("result = %+v", res)
	}

	code, _ = doJSON(t, r, http.MethodPost, submit, "student", body)
	if code != http.StatusConflict {
		t.Fatalf("resubmit: status %d", code)
	}

	answerID := res.Answers[0].AnswerID
	code, _ = doJSON(t, r, http.MethodPost, "/api/grading/override", "teacher", map[string]interface{}{"answerId": answerID, "newScore": 1})
	if code != http.StatusBadRequest {
		t.Fatalf("override without reason: status %d", code)
	}
	code, _ = doJSON(t, r, http.MethodPost, "/api/grading/override", "student", map[string]interface{}{"answerId": answerID, "newScore": 2, "reason": "me"})
	if code != http.StatusForbidden {
		t.Fatalf("student override: status %d", code)
	}
	code, env = doJSON(t, r, http.MethodPost, "/api/grading/override", "teacher", map[string]interface{}{"answerId": answerID, "newScore": 1, "reason": "partially right"})
	if code != http.StatusOK {
		t.Fatalf("override: status %d %s", code, env.Message)
	}
	var change service.GradeChange
	json.Unmarshal(env.Data, &change)
	if change.Attempt.Score != 2 {
		t.Fatalf("attempt score after override = %v, want 2", change.Attempt.Score)
	}

	code, _ = doJSON(t, r, http.MethodPost, "/api/attempts/abc/submit", "student", body)
	if code != http.StatusBadRequest {
		t.Fatalf("bad id: status %d", code)
	}
	code, _ = doJSON(t, r, http.MethodGet, fmt.Sprintf("/api/attempts/%d", attempt.ID), "", nil)
	if code != http.StatusUnauthorized {
		t.Fatalf("anonymous: status %d", code)
	}
}

func TestGenerateWithoutProviders(t *testing.T) {
	r := newTestRouter(t)
	_, env := doJSON(t, r, http.MethodPost, "/api/assessments", "teacher", `{"title":"Quiz","blocks":[{"type":"true_false","count":2}]}`)
	var a model.Assessment
	json.Unmarshal(env.Data, &a)

	code, _ := doJSON(t, r, http.MethodPost, fmt.Sprintf("/api/assessments/%d/generate", a.ID), "teacher", nil)
	if code != http.StatusServiceUnavailable {
		t.Fatalf("status %d, want 503", code)
	}
}

func TestRespondError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "validation", err: &grading.ValidationError{Field: "reason", Reason: "is required"}, want: http.StatusBadRequest},
		{name: "authorization", err: &grading.AuthorizationError{UserID: 1, Action: "override"}, want: http.StatusForbidden},
		{name: "persistence", err: &grading.PersistenceError{Op: "submit attempt", Err: errors.New("deadlock")}, want: http.StatusInternalServerError},
		{name: "wrapped not found", err: fmt.Errorf("load: %w", util.ErrAttemptNotFound), want: http.StatusNotFound},
		{name: "already submitted", err: util.ErrAttemptAlreadySubmitted, want: http.StatusConflict},
		{name: "busy", err: util.ErrAttemptBusy, want: http.StatusConflict},
		{name: "no providers", err: util.ErrNoProviders, want: http.StatusServiceUnavailable},
		{name: "malformed reply", err: fmt.Errorf("block 1: %w", service.ErrMalformedReply), want: http.StatusBadGateway},
		{name: "unsupported document", err: util.ErrUnsupportedDocument, want: http.StatusUnsupportedMediaType},
		{name: "credentials", err: util.ErrInvalidCredentials, want: http.StatusUnauthorized},
		{name: "unknown", err: errors.New("boom"), want: http.StatusInternalServerError},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			ctx, _ := gin.CreateTestContext(w)
			ctx.Request = httptest.NewRequest(http.MethodGet, "/", nil)

			respondError(ctx, tc.err)
			if w.Code != tc.want {
				t.Fatalf("status = %d, want %d", w.Code, tc.want)
			}
		})
	}
}
