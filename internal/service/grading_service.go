package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync/atomic"
	"time"

	"assessment_backend/internal/config"
	"assessment_backend/internal/grading"
	"assessment_backend/internal/model"
	"assessment_backend/internal/repository"
	"assessment_backend/internal/util"
	"assessment_backend/pkg/locker"
	"assessment_backend/pkg/logger"
	"assessment_backend/pkg/monitoring"
	"assessment_backend/pkg/tracing"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Actor 发起操作的用户
type Actor struct {
	ID   uint
	Role model.UserRole
}

type SubmittedAnswer struct {
	QuestionID uint            `json:"questionId"`
	Answer     json.RawMessage `json:"answer" swaggertype:"object"`
}

type AnswerResult struct {
	AnswerID      uint    `json:"answerId"`
	QuestionID    uint    `json:"questionId"`
	Correct       bool    `json:"correct"`
	Score         float64 `json:"score"`
	GradingMethod string  `json:"gradingMethod"`
	Feedback      string  `json:"feedback,omitempty"`
}

type AttemptResult struct {
	AttemptID           uint           `json:"attemptId"`
	AttemptStatus       string         `json:"attemptStatus"`
	Score               float64        `json:"score"`
	RawScore            float64        `json:"rawScore"`
	MaxScore            float64        `json:"maxScore"`
	Percentage          float64        `json:"percentage"`
	Status              string         `json:"status"`
	AutoGradedCount     int            `json:"autoGradedCount"`
	ManualRequiredCount int            `json:"manualRequiredCount"`
	Answers             []AnswerResult `json:"answers"`
}

func newAttemptResult(a *model.Attempt, answers []model.Answer) *AttemptResult {
	res := &AttemptResult{
		AttemptID:           a.ID,
		AttemptStatus:       a.Status,
		Score:               a.Score,
		RawScore:            a.RawScore,
		MaxScore:            a.MaxScore,
		Percentage:          a.Percentage,
		Status:              a.GradingStatus,
		AutoGradedCount:     a.AutoGradedCount,
		ManualRequiredCount: a.ManualRequiredCount,
		Answers:             make([]AnswerResult, 0, len(answers)),
	}
	for _, ans := range answers {
		res.Answers = append(res.Answers, AnswerResult{
			AnswerID:      ans.ID,
			QuestionID:    ans.QuestionID,
			Correct:       ans.IsCorrect,
			Score:         ans.Score,
			GradingMethod: ans.GradingMethod,
			Feedback:      ans.Feedback,
		})
	}
	return res
}

type ReviewRequest struct {
	AnswerID uint     `json:"answerId"`
	Score    *float64 `json:"score"`
	Feedback string   `json:"feedback"`
}

type OverrideRequest struct {
	AnswerID uint     `json:"answerId"`
	NewScore *float64 `json:"newScore"`
	Feedback string   `json:"feedback"`
	Reason   string   `json:"reason"`
}

// GradeChange 单题改分后的答案与重新聚合的试卷成绩
type GradeChange struct {
	Answer  *model.Answer  `json:"answer"`
	Attempt *model.Attempt `json:"attempt"`
}

type GradingService struct {
	DB             *gorm.DB
	AssessmentRepo *repository.AssessmentRepository
	AttemptRepo    *repository.AttemptRepository
	Locker         locker.Locker

	checker grading.EquivalenceChecker
	engine  atomic.Pointer[grading.Engine]
	lockTTL atomic.Int64
}

func NewGradingService(
	db *gorm.DB,
	assessmentRepo *repository.AssessmentRepository,
	attemptRepo *repository.AttemptRepository,
	lk locker.Locker,
	checker grading.EquivalenceChecker,
	cfg config.GradingConfig,
) *GradingService {
	if lk == nil {
		lk = locker.NewLocalLocker()
	}
	s := &GradingService{
		DB:             db,
		AssessmentRepo: assessmentRepo,
		AttemptRepo:    attemptRepo,
		Locker:         lk,
		checker:        checker,
	}
	s.ApplyConfig(cfg)
	return s
}

// ApplyConfig 重建评分引擎，配置热更新时调用，进行中的评分继续使用旧引擎
func (s *GradingService) ApplyConfig(cfg config.GradingConfig) {
	opts := []grading.Option{
		grading.WithEquivalenceTimeout(cfg.EquivalenceTimeout()),
		grading.WithEssayMinLength(cfg.EssayMinLength),
	}
	if cfg.EquivalenceEnabled && s.checker != nil {
		opts = append(opts, grading.WithEquivalence(s.checker))
	}
	s.engine.Store(grading.NewEngine(opts...))
	s.lockTTL.Store(int64(cfg.LockTTL()))
}

func (s *GradingService) lockAttempt(ctx context.Context, attemptID uint) (func(), error) {
	release, err := s.Locker.Acquire(ctx, fmt.Sprintf("attempt:%d", attemptID), time.Duration(s.lockTTL.Load()))
	if errors.Is(err, locker.ErrLocked) {
		return nil, util.ErrAttemptBusy
	}
	if err != nil {
		return nil, fmt.Errorf("acquire attempt lock: %w", err)
	}
	return release, nil
}

func (s *GradingService) findAttempt(id uint) (*model.Attempt, error) {
	a, err := s.AttemptRepo.FindByID(id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, util.ErrAttemptNotFound
	}
	return a, err
}

func (s *GradingService) findAssessment(id uint) (*model.Assessment, error) {
	a, err := s.AssessmentRepo.FindByID(id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, util.ErrAssessmentNotFound
	}
	return a, err
}

func authorize(actor Actor, a *model.Assessment, action string) error {
	if !a.OwnedBy(actor.ID, actor.Role) {
		return &grading.AuthorizationError{UserID: actor.ID, Action: action}
	}
	return nil
}

func validateSubmission(attemptID uint, answers []SubmittedAnswer) error {
	if attemptID == 0 {
		return &grading.ValidationError{Field: "attemptId", Reason: "is required"}
	}
	seen := make(map[uint]bool, len(answers))
	for _, a := range answers {
		if a.QuestionID == 0 {
			return &grading.ValidationError{Field: "questionId", Reason: "is required"}
		}
		if seen[a.QuestionID] {
			return &grading.ValidationError{Field: "answers", Reason: fmt.Sprintf("question %d answered twice", a.QuestionID)}
		}
		seen[a.QuestionID] = true
	}
	return nil
}

// SubmitAttempt 评分并保存整次作答：每道题恰好评分一次，结果在一个事务里写入
func (s *GradingService) SubmitAttempt(ctx context.Context, studentID, attemptID uint, answers []SubmittedAnswer) (res *AttemptResult, err error) {
	ctx, span := tracing.Start(ctx, "grading.SubmitAttempt", attribute.Int64("attempt.id", int64(attemptID)))
	defer func() { tracing.End(span, err) }()
	start := time.Now()
	defer func() {
		monitoring.GradingDuration.WithLabelValues("submit").Observe(time.Since(start).Seconds())
	}()

	if err := validateSubmission(attemptID, answers); err != nil {
		return nil, err
	}

	release, err := s.lockAttempt(ctx, attemptID)
	if err != nil {
		return nil, err
	}
	defer release()

	attempt, err := s.findAttempt(attemptID)
	if err != nil {
		return nil, err
	}
	if attempt.StudentID != studentID {
		return nil, &grading.AuthorizationError{UserID: studentID, Action: "submit this attempt"}
	}
	if attempt.Status != model.AttemptInProgress {
		return nil, util.ErrAttemptAlreadySubmitted
	}

	assessment, err := s.findAssessment(attempt.AssessmentID)
	if err != nil {
		return nil, err
	}
	questions, err := s.AssessmentRepo.ListQuestions(attempt.AssessmentID)
	if err != nil {
		return nil, err
	}

	raw := make(map[uint]json.RawMessage, len(answers))
	for _, a := range answers {
		raw[a.QuestionID] = a.Answer
	}
	for id := range raw {
		if !containsQuestion(questions, id) {
			return nil, &grading.ValidationError{Field: "answers", Reason: fmt.Sprintf("question %d does not belong to this assessment", id)}
		}
	}

	engine := s.engine.Load()
	rows := make([]model.Answer, 0, len(questions))
	items := make([]grading.Graded, 0, len(questions))
	for i := range questions {
		q := &questions[i]
		gq := q.GradingView(assessment.Language)
		out := s.evaluate(ctx, engine, attemptID, gq, raw[q.ID])

		row := model.Answer{AttemptID: attemptID, QuestionID: q.ID}
		if r, ok := raw[q.ID]; ok && len(r) > 0 {
			row.RawAnswer = datatypes.JSON(r)
		}
		applyOutcome(&row, out)
		rows = append(rows, row)
		items = append(items, grading.FromOutcome(gq, out))
	}
	summary := grading.Aggregate(items)

	var saved []model.Answer
	err = s.persist(ctx, "submit attempt", func(tx *gorm.DB) error {
		repo := s.AttemptRepo.WithTx(tx)
		locked, err := repo.LockByID(attemptID)
		if err != nil {
			return err
		}
		if locked.Status != model.AttemptInProgress {
			return util.ErrAttemptAlreadySubmitted
		}

		// 每次重试都从未写入的副本开始，避免沿用失败事务回填的主键
		batch := append([]model.Answer(nil), rows...)
		if err := repo.UpsertAnswers(batch); err != nil {
			return err
		}

		now := time.Now()
		locked.Status = model.AttemptCompleted
		locked.CompletedAt = &now
		locked.ApplySummary(summary)
		if err := repo.Update(locked); err != nil {
			return err
		}
		attempt = locked
		saved = batch
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Log.Info("Attempt graded",
		zap.Uint("attemptId", attemptID),
		zap.Uint("studentId", studentID),
		zap.Float64("score", summary.TotalScore),
		zap.Float64("maxScore", summary.MaxScore),
		zap.String("status", summary.Status))

	return newAttemptResult(attempt, saved), nil
}

func containsQuestion(questions []model.Question, id uint) bool {
	for i := range questions {
		if questions[i].ID == id {
			return true
		}
	}
	return false
}

func (s *GradingService) evaluate(ctx context.Context, engine *grading.Engine, attemptID uint, q grading.Question, raw json.RawMessage) grading.Outcome {
	var value interface{}
	if raw != nil {
		value = raw
	}
	out := engine.Evaluate(ctx, q, value)
	if out.Err != nil {
		logger.Log.Warn("Question routed to manual grading",
			zap.Uint("attemptId", attemptID),
			zap.Uint("questionId", q.ID),
			zap.String("type", string(q.Type)),
			zap.Error(out.Err))
	}
	monitoring.QuestionsGraded.WithLabelValues(string(q.Type), string(out.Method)).Inc()
	return out
}

func applyOutcome(row *model.Answer, out grading.Outcome) {
	row.Score = out.ScoredMarks
	row.IsCorrect = out.IsCorrect
	row.GradingMethod = string(out.Method)
	row.Feedback = out.Feedback
	row.GradingNotes = ""
	row.GradedAt = nil
	if out.Err != nil {
		row.GradingNotes = out.Err.Error()
	}
	if out.Method == grading.MethodAuto {
		now := time.Now()
		row.GradedAt = &now
	}
}

// persist 在事务中写入，失败重试一次；业务错误直接返回不重试
func (s *GradingService) persist(ctx context.Context, op string, fn func(tx *gorm.DB) error) error {
	var err error
	for try := 1; try <= 2; try++ {
		err = s.DB.WithContext(ctx).Transaction(fn)
		if err == nil {
			return nil
		}
		if isDomainError(err) {
			return err
		}
		logger.Log.Warn("Grading transaction failed",
			zap.String("op", op),
			zap.Int("try", try),
			zap.Error(err))
		if ctx.Err() != nil {
			break
		}
	}
	monitoring.GradingFailures.WithLabelValues(op, "persistence").Inc()
	return &grading.PersistenceError{Op: op, Err: err}
}

func isDomainError(err error) bool {
	return errors.Is(err, util.ErrAttemptAlreadySubmitted) ||
		errors.Is(err, util.ErrAttemptNotCompleted) ||
		errors.Is(err, util.ErrNotPendingReview) ||
		errors.Is(err, util.ErrAnswerNotFound)
}

// reaggregate 根据已保存的答案重新计算试卷成绩
func (s *GradingService) reaggregate(tx *gorm.DB, attempt *model.Attempt) error {
	questions, err := s.AssessmentRepo.WithTx(tx).ListQuestions(attempt.AssessmentID)
	if err != nil {
		return err
	}
	repo := s.AttemptRepo.WithTx(tx)
	answers, err := repo.ListAnswers(attempt.ID)
	if err != nil {
		return err
	}

	byQuestion := make(map[uint]*model.Answer, len(answers))
	for i := range answers {
		byQuestion[answers[i].QuestionID] = &answers[i]
	}
	items := make([]grading.Graded, 0, len(questions))
	for _, q := range questions {
		if ans, ok := byQuestion[q.ID]; ok {
			items = append(items, ans.Graded(q.PositiveMarks))
		} else {
			items = append(items, grading.Graded{PositiveMarks: q.PositiveMarks})
		}
	}

	attempt.ApplySummary(grading.Aggregate(items))
	return repo.Update(attempt)
}

// RegradeAttempt 用已保存的作答重新评分，人工复核和人工改分的题目保持不变
func (s *GradingService) RegradeAttempt(ctx context.Context, actor Actor, attemptID uint) (res *AttemptResult, err error) {
	ctx, span := tracing.Start(ctx, "grading.RegradeAttempt", attribute.Int64("attempt.id", int64(attemptID)))
	defer func() { tracing.End(span, err) }()
	start := time.Now()
	defer func() {
		monitoring.GradingDuration.WithLabelValues("regrade").Observe(time.Since(start).Seconds())
	}()

	release, err := s.lockAttempt(ctx, attemptID)
	if err != nil {
		return nil, err
	}
	defer release()

	attempt, err := s.findAttempt(attemptID)
	if err != nil {
		return nil, err
	}
	assessment, err := s.findAssessment(attempt.AssessmentID)
	if err != nil {
		return nil, err
	}
	if err := authorize(actor, assessment, "regrade this attempt"); err != nil {
		return nil, err
	}
	if attempt.Status != model.AttemptCompleted {
		return nil, util.ErrAttemptNotCompleted
	}

	questions, err := s.AssessmentRepo.ListQuestions(attempt.AssessmentID)
	if err != nil {
		return nil, err
	}
	stored, err := s.AttemptRepo.ListAnswers(attemptID)
	if err != nil {
		return nil, err
	}
	byQuestion := make(map[uint]model.Answer, len(stored))
	for _, a := range stored {
		byQuestion[a.QuestionID] = a
	}

	engine := s.engine.Load()
	var changed []model.Answer
	for i := range questions {
		q := &questions[i]
		row, ok := byQuestion[q.ID]
		if ok && (row.GradingMethod == string(grading.MethodManualOverride) || row.ReviewedAt != nil) {
			continue
		}
		if !ok {
			row = model.Answer{AttemptID: attemptID, QuestionID: q.ID}
		}
		var raw json.RawMessage
		if len(row.RawAnswer) > 0 {
			raw = json.RawMessage(row.RawAnswer)
		}
		applyOutcome(&row, s.evaluate(ctx, engine, attemptID, q.GradingView(assessment.Language), raw))
		changed = append(changed, row)
	}

	err = s.persist(ctx, "regrade attempt", func(tx *gorm.DB) error {
		repo := s.AttemptRepo.WithTx(tx)
		locked, err := repo.LockByID(attemptID)
		if err != nil {
			return err
		}
		if locked.Status != model.AttemptCompleted {
			return util.ErrAttemptNotCompleted
		}
		var missing []model.Answer
		for i := range changed {
			if changed[i].ID == 0 {
				missing = append(missing, changed[i])
				continue
			}
			if err := repo.UpdateAnswerGrade(&changed[i]); err != nil {
				return err
			}
		}
		if err := repo.UpsertAnswers(missing); err != nil {
			return err
		}
		if err := s.reaggregate(tx, locked); err != nil {
			return err
		}
		attempt = locked
		return nil
	})
	if err != nil {
		return nil, err
	}

	answers, err := s.AttemptRepo.ListAnswers(attemptID)
	if err != nil {
		return nil, err
	}
	logger.Log.Info("Attempt regraded",
		zap.Uint("attemptId", attemptID),
		zap.Uint("by", actor.ID),
		zap.Int("regraded", len(changed)))
	return newAttemptResult(attempt, answers), nil
}

// ListManualGrading 试卷下等待人工评分的答案
func (s *GradingService) ListManualGrading(ctx context.Context, actor Actor, assessmentID uint) ([]model.Answer, error) {
	assessment, err := s.findAssessment(assessmentID)
	if err != nil {
		return nil, err
	}
	if err := authorize(actor, assessment, "view manual grading queue"); err != nil {
		return nil, err
	}
	return s.AttemptRepo.ListPendingManual(assessmentID)
}

// loadForGrade 加载答案及其所属试卷并校验权限
func (s *GradingService) loadForGrade(actor Actor, answerID uint, action string) (*model.Answer, *model.Attempt, error) {
	answer, err := s.AttemptRepo.FindAnswerByID(answerID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil, util.ErrAnswerNotFound
	}
	if err != nil {
		return nil, nil, err
	}
	if answer.Question == nil {
		return nil, nil, util.ErrQuestionNotFound
	}
	attempt, err := s.findAttempt(answer.AttemptID)
	if err != nil {
		return nil, nil, err
	}
	assessment, err := s.findAssessment(attempt.AssessmentID)
	if err != nil {
		return nil, nil, err
	}
	if err := authorize(actor, assessment, action); err != nil {
		return nil, nil, err
	}
	return answer, attempt, nil
}

// ReviewAnswer 人工评分：分值在 [0, positive_marks]，评分方式保持 manual
func (s *GradingService) ReviewAnswer(ctx context.Context, actor Actor, req ReviewRequest) (*GradeChange, error) {
	if req.AnswerID == 0 {
		return nil, &grading.ValidationError{Field: "answerId", Reason: "is required"}
	}
	if req.Score == nil {
		return nil, &grading.ValidationError{Field: "score", Reason: "is required"}
	}

	answer, attempt, err := s.loadForGrade(actor, req.AnswerID, "grade this answer")
	if err != nil {
		return nil, err
	}
	if !answer.PendingReview() {
		return nil, util.ErrNotPendingReview
	}

	positive := answer.Question.PositiveMarks
	score := *req.Score
	if math.IsNaN(score) || score < 0 || score > positive {
		return nil, &grading.ValidationError{Field: "score", Reason: fmt.Sprintf("must be between 0 and %v", positive)}
	}

	return s.applyGrade(ctx, attempt.ID, answer.ID, "review answer", reviewGrade(actor, score, req.Feedback))
}

// reviewGrade 在行锁内重新确认答案仍待复核
func reviewGrade(actor Actor, score float64, feedback string) gradeMutation {
	return func(a *model.Answer, now time.Time) error {
		if !a.PendingReview() {
			return util.ErrNotPendingReview
		}
		a.Score = grading.RoundMarks(score)
		a.IsCorrect = a.Question != nil && a.Question.PositiveMarks > 0 && a.Score >= a.Question.PositiveMarks
		if feedback != "" {
			a.Feedback = feedback
		}
		a.GradedAt = &now
		a.ReviewedBy = &actor.ID
		a.ReviewedAt = &now
		return nil
	}
}

// Override 人工改分：必须填写原因，分值在 [-|negative_marks|, positive_marks]，只影响这一道题
func (s *GradingService) Override(ctx context.Context, actor Actor, req OverrideRequest) (*GradeChange, error) {
	if req.AnswerID == 0 {
		return nil, &grading.ValidationError{Field: "answerId", Reason: "is required"}
	}
	if req.NewScore == nil {
		return nil, &grading.ValidationError{Field: "newScore", Reason: "is required"}
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		return nil, &grading.ValidationError{Field: "reason", Reason: "is required"}
	}

	answer, attempt, err := s.loadForGrade(actor, req.AnswerID, "override this grade")
	if err != nil {
		return nil, err
	}

	positive := answer.Question.PositiveMarks
	lowest := -math.Abs(answer.Question.NegativeMarks)
	score := *req.NewScore
	if math.IsNaN(score) || score < lowest || score > positive {
		return nil, &grading.ValidationError{Field: "newScore", Reason: fmt.Sprintf("must be between %v and %v", lowest, positive)}
	}

	change, err := s.applyGrade(ctx, attempt.ID, answer.ID, "override grade", overrideGrade(actor, score, req.Feedback, reason))
	if err != nil {
		return nil, err
	}
	logger.Log.Info("Grade overridden",
		zap.Uint("answerId", answer.ID),
		zap.Uint("attemptId", attempt.ID),
		zap.Uint("by", actor.ID),
		zap.Float64("score", change.Answer.Score),
		zap.String("reason", reason))
	return change, nil
}

// gradeMutation 作用于事务内重新读取的答案行
type gradeMutation func(a *model.Answer, now time.Time) error

func overrideGrade(actor Actor, score float64, feedback, reason string) gradeMutation {
	return func(a *model.Answer, now time.Time) error {
		a.Score = grading.RoundMarks(score) + 0 // 消除 -0
		a.IsCorrect = a.Question != nil && a.Question.PositiveMarks > 0 && a.Score >= a.Question.PositiveMarks
		a.GradingMethod = string(grading.MethodManualOverride)
		if feedback != "" {
			a.Feedback = feedback
		}
		a.GradingNotes = reason
		a.GradedAt = &now
		a.OverriddenBy = &actor.ID
		a.OverriddenAt = &now
		return nil
	}
}

func (s *GradingService) applyGrade(ctx context.Context, attemptID, answerID uint, op string, mutate gradeMutation) (*GradeChange, error) {
	release, err := s.lockAttempt(ctx, attemptID)
	if err != nil {
		return nil, err
	}
	defer release()

	var change GradeChange
	err = s.persist(ctx, op, func(tx *gorm.DB) error {
		repo := s.AttemptRepo.WithTx(tx)
		locked, err := repo.LockByID(attemptID)
		if err != nil {
			return err
		}

		// 锁定后重新读取，避免用旧快照覆盖并发提交的改分记录
		fresh, err := repo.FindAnswerByID(answerID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return util.ErrAnswerNotFound
		}
		if err != nil {
			return err
		}
		if err := mutate(fresh, time.Now()); err != nil {
			return err
		}
		if err := repo.UpdateAnswerGrade(fresh); err != nil {
			return err
		}
		if err := s.reaggregate(tx, locked); err != nil {
			return err
		}
		change = GradeChange{Answer: fresh, Attempt: locked}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &change, nil
}
