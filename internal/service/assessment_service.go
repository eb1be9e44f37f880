package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"assessment_backend/internal/grading"
	"assessment_backend/internal/model"
	"assessment_backend/internal/repository"
	"assessment_backend/internal/util"
	"assessment_backend/pkg/logger"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type AssessmentService struct {
	Repo *repository.AssessmentRepository
}

func NewAssessmentService(repo *repository.AssessmentRepository) *AssessmentService {
	return &AssessmentService{Repo: repo}
}

type CreateAssessmentRequest struct {
	Title           string        `json:"title" binding:"required,max=255"`
	Description     string        `json:"description"`
	Language        string        `json:"language" binding:"omitempty,max=10"`
	DurationMinutes int           `json:"durationMinutes" binding:"gte=0"`
	Blocks          []model.Block `json:"blocks" binding:"dive"`
}

type QuestionInput struct {
	Type          string          `json:"type" binding:"required,question_type"`
	Text          string          `json:"text" binding:"required"`
	Options       []string        `json:"options"`
	CorrectAnswer json.RawMessage `json:"correctAnswer" swaggertype:"object"`
	PositiveMarks *float64        `json:"positiveMarks"`
	NegativeMarks float64         `json:"negativeMarks"`
	Explanation   string          `json:"explanation"`
}

func (s *AssessmentService) Create(ctx context.Context, actor Actor, req CreateAssessmentRequest) (*model.Assessment, error) {
	if strings.TrimSpace(req.Title) == "" {
		return nil, &grading.ValidationError{Field: "title", Reason: "is required"}
	}
	for i, b := range req.Blocks {
		if !grading.QuestionType(b.Type).Valid() {
			return nil, &grading.ValidationError{Field: fmt.Sprintf("blocks[%d].type", i), Reason: "is not a supported question type"}
		}
	}

	blocks, err := json.Marshal(req.Blocks)
	if err != nil {
		return nil, err
	}

	duration := req.DurationMinutes
	if duration == 0 {
		for _, b := range req.Blocks {
			duration += b.DurationMinutes
		}
	}
	language := req.Language
	if language == "" {
		language = "en"
	}

	a := &model.Assessment{
		OwnerID:         actor.ID,
		Title:           req.Title,
		Description:     req.Description,
		Language:        language,
		DurationMinutes: duration,
		Status:          model.AssessmentDraft,
		Blocks:          datatypes.JSON(blocks),
	}
	if err := s.Repo.Create(a); err != nil {
		return nil, err
	}
	logger.Log.Info("Assessment created", zap.Uint("assessmentId", a.ID), zap.Uint("ownerId", actor.ID))
	return a, nil
}

// List 学生看到已发布的试卷，教师看到自己创建的试卷
func (s *AssessmentService) List(actor Actor, page, limit int) ([]model.Assessment, int64, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}
	if actor.Role == model.Student {
		return s.Repo.ListPublished(page, limit)
	}
	return s.Repo.ListByOwner(actor.ID, page, limit)
}

func (s *AssessmentService) find(id uint) (*model.Assessment, error) {
	a, err := s.Repo.FindByID(id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, util.ErrAssessmentNotFound
	}
	return a, err
}

// Get 学生只能查看已发布的试卷
func (s *AssessmentService) Get(actor Actor, id uint) (*model.Assessment, error) {
	a, err := s.find(id)
	if err != nil {
		return nil, err
	}
	if actor.Role == model.Student {
		if a.Status != model.AssessmentPublished {
			return nil, util.ErrAssessmentNotFound
		}
		return a, nil
	}
	if err := authorize(actor, a, "view this assessment"); err != nil {
		return nil, err
	}
	return a, nil
}

// buildQuestion 校验题目并解析标准答案，细则无法解析的题目不允许入库
func buildQuestion(in QuestionInput, defaultPositive, defaultNegative float64, source string) (model.Question, error) {
	t := grading.QuestionType(in.Type)
	if !t.Valid() {
		return model.Question{}, &grading.ValidationError{Field: "type", Reason: fmt.Sprintf("%q is not a supported question type", in.Type)}
	}
	if strings.TrimSpace(in.Text) == "" {
		return model.Question{}, &grading.ValidationError{Field: "text", Reason: "is required"}
	}
	if t == grading.MultipleChoice && len(in.Options) < 2 {
		return model.Question{}, &grading.ValidationError{Field: "options", Reason: "multiple choice needs at least two options"}
	}
	if _, err := grading.ParseCorrectAnswer(0, t, in.CorrectAnswer); err != nil {
		return model.Question{}, &grading.ValidationError{Field: "correctAnswer", Reason: err.Error()}
	}

	positive := defaultPositive
	if in.PositiveMarks != nil {
		positive = *in.PositiveMarks
	}
	negative := defaultNegative
	if in.NegativeMarks != 0 {
		negative = in.NegativeMarks
	}
	if positive < 0 || math.IsNaN(positive) {
		return model.Question{}, &grading.ValidationError{Field: "positiveMarks", Reason: "must not be negative"}
	}

	q := model.Question{
		Type:          in.Type,
		Text:          strings.TrimSpace(in.Text),
		PositiveMarks: grading.RoundMarks(positive),
		NegativeMarks: grading.RoundMarks(math.Abs(negative)),
		Explanation:   in.Explanation,
		Source:        source,
	}
	if len(in.Options) > 0 {
		opts, err := json.Marshal(in.Options)
		if err != nil {
			return model.Question{}, err
		}
		q.Options = datatypes.JSON(opts)
	}
	if len(in.CorrectAnswer) > 0 {
		q.CorrectAnswer = datatypes.JSON(in.CorrectAnswer)
	}
	return q, nil
}

// ensureEditable 已有作答的试卷题目不可再修改
func (s *AssessmentService) ensureEditable(assessmentID uint) error {
	n, err := s.Repo.CountAttempts(assessmentID)
	if err != nil {
		return err
	}
	if n > 0 {
		return util.ErrAssessmentLocked
	}
	return nil
}

func (s *AssessmentService) AddQuestions(ctx context.Context, actor Actor, assessmentID uint, inputs []QuestionInput) ([]model.Question, error) {
	if len(inputs) == 0 {
		return nil, &grading.ValidationError{Field: "questions", Reason: "must not be empty"}
	}
	a, err := s.find(assessmentID)
	if err != nil {
		return nil, err
	}
	if err := authorize(actor, a, "edit this assessment"); err != nil {
		return nil, err
	}
	if err := s.ensureEditable(assessmentID); err != nil {
		return nil, err
	}

	questions := make([]model.Question, 0, len(inputs))
	for i, in := range inputs {
		q, err := buildQuestion(in, 1, 0, model.QuestionSourceManual)
		if err != nil {
			var ve *grading.ValidationError
			if errors.As(err, &ve) {
				ve.Field = fmt.Sprintf("questions[%d].%s", i, ve.Field)
			}
			return nil, err
		}
		questions = append(questions, q)
	}
	if err := s.Repo.CreateQuestions(assessmentID, questions); err != nil {
		return nil, err
	}
	return questions, nil
}

// ListQuestions 学生视图不包含标准答案
func (s *AssessmentService) ListQuestions(actor Actor, assessmentID uint) ([]model.Question, error) {
	if _, err := s.Get(actor, assessmentID); err != nil {
		return nil, err
	}
	questions, err := s.Repo.ListQuestions(assessmentID)
	if err != nil {
		return nil, err
	}
	if actor.Role == model.Student {
		for i := range questions {
			questions[i] = questions[i].StudentView()
		}
	}
	return questions, nil
}

func (s *AssessmentService) Publish(ctx context.Context, actor Actor, assessmentID uint) (*model.Assessment, error) {
	a, err := s.find(assessmentID)
	if err != nil {
		return nil, err
	}
	if err := authorize(actor, a, "publish this assessment"); err != nil {
		return nil, err
	}
	if a.Status == model.AssessmentPublished {
		return a, nil
	}

	questions, err := s.Repo.ListQuestions(assessmentID)
	if err != nil {
		return nil, err
	}
	if len(questions) == 0 {
		return nil, &grading.ValidationError{Field: "questions", Reason: "assessment has no questions"}
	}

	now := time.Now()
	a.Status = model.AssessmentPublished
	a.PublishedAt = &now
	if err := s.Repo.Update(a); err != nil {
		return nil, err
	}
	logger.Log.Info("Assessment published", zap.Uint("assessmentId", a.ID), zap.Int("questions", len(questions)))
	return a, nil
}
