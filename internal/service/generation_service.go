package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"assessment_backend/internal/grading"
	"assessment_backend/internal/model"
	"assessment_backend/pkg/logger"

	"go.uber.org/zap"
)

// ContextRetriever 为出题提供参考文档片段
type ContextRetriever interface {
	RetrieveContext(ctx context.Context, assessmentID uint, query string, k int) ([]string, error)
}

type GenerationService struct {
	Assessments *AssessmentService
	Pool        *ProviderPool
	Retriever   ContextRetriever
}

func NewGenerationService(assessments *AssessmentService, pool *ProviderPool, retriever ContextRetriever) *GenerationService {
	return &GenerationService{Assessments: assessments, Pool: pool, Retriever: retriever}
}

var answerFormats = map[grading.QuestionType]string{
	grading.MultipleChoice: `"options": ["...", "..."], "correctAnswer": the letter of the correct option, e.g. "b"`,
	grading.TrueFalse:      `"correctAnswer": true or false`,
	grading.ShortAnswer:    `"correctAnswer": {"grading_type": "keyword", "required_keywords": ["..."], "optional_keywords": ["..."], "reference_answer": "..."}`,
	grading.Matching:       `"correctAnswer": [{"left": "...", "right": "..."}]`,
	grading.Essay:          `"correctAnswer": {"criteria": [{"name": "...", "max_marks": 2, "keywords": ["..."]}]}`,
}

func buildGenerationPrompt(a *model.Assessment, b model.Block, context []string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Write %d %s questions for the assessment %q.\n", b.Count, strings.ReplaceAll(b.Type, "_", " "), a.Title)
	if b.Topic != "" {
		fmt.Fprintf(&sb, "Topic: %s\n", b.Topic)
	}
	if a.Description != "" {
		fmt.Fprintf(&sb, "Assessment description: %s\n", a.Description)
	}
	fmt.Fprintf(&sb, "Write the questions in language %q.\n", a.Language)
	if len(context) > 0 {
		sb.WriteString("Base the questions on the following material:\n")
		for i, c := range context {
			fmt.Fprintf(&sb, "[%d] %s\n", i+1, c)
		}
	}
	sb.WriteString("Reply with a JSON array only. Each element is an object with \"text\", \"explanation\" and ")
	sb.WriteString(answerFormats[grading.QuestionType(b.Type)])
	sb.WriteString(".\n")
	return sb.String()
}

type generatedQuestion struct {
	Text          string          `json:"text"`
	Question      string          `json:"question"`
	Options       []string        `json:"options"`
	CorrectAnswer json.RawMessage `json:"correctAnswer"`
	Answer        json.RawMessage `json:"correct_answer"`
	Explanation   string          `json:"explanation"`
}

// parseGeneratedQuestions 从模型回复中截取 JSON 数组，容忍 markdown 代码块包裹
func parseGeneratedQuestions(reply string) ([]generatedQuestion, error) {
	start := strings.Index(reply, "[")
	end := strings.LastIndex(reply, "]")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("%w: no JSON array in reply", ErrMalformedReply)
	}
	var items []generatedQuestion
	if err := json.Unmarshal([]byte(reply[start:end+1]), &items); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedReply, err)
	}
	for i := range items {
		if items[i].Text == "" {
			items[i].Text = items[i].Question
		}
		if len(items[i].CorrectAnswer) == 0 {
			items[i].CorrectAnswer = items[i].Answer
		}
	}
	return items, nil
}

// GenerateQuestions 按出题块逐块调用 AI 生成题目，标准答案无法解析的候选题直接丢弃
func (s *GenerationService) GenerateQuestions(ctx context.Context, actor Actor, assessmentID uint) ([]model.Question, error) {
	a, err := s.Assessments.find(assessmentID)
	if err != nil {
		return nil, err
	}
	if err := authorize(actor, a, "generate questions for this assessment"); err != nil {
		return nil, err
	}
	if err := s.Assessments.ensureEditable(assessmentID); err != nil {
		return nil, err
	}
	blocks, err := a.BlockList()
	if err != nil {
		return nil, &grading.ValidationError{Field: "blocks", Reason: err.Error()}
	}
	if len(blocks) == 0 {
		return nil, &grading.ValidationError{Field: "blocks", Reason: "assessment has no blocks"}
	}

	var all []model.Question
	for i, b := range blocks {
		questions, err := s.generateBlock(ctx, a, b)
		if err != nil {
			return nil, fmt.Errorf("block %d (%s): %w", i+1, b.Type, err)
		}
		all = append(all, questions...)
	}
	if len(all) == 0 {
		return nil, fmt.Errorf("%w: no valid questions generated", ErrMalformedReply)
	}
	if err := s.Assessments.Repo.CreateQuestions(assessmentID, all); err != nil {
		return nil, err
	}
	logger.Log.Info("Questions generated",
		zap.Uint("assessmentId", assessmentID),
		zap.Int("blocks", len(blocks)),
		zap.Int("questions", len(all)))
	return all, nil
}

func (s *GenerationService) generateBlock(ctx context.Context, a *model.Assessment, b model.Block) ([]model.Question, error) {
	var material []string
	if s.Retriever != nil {
		query := b.Topic
		if query == "" {
			query = a.Title
		}
		chunks, err := s.Retriever.RetrieveContext(ctx, a.ID, query, 0)
		if err != nil {
			logger.Log.Warn("Context retrieval failed", zap.Uint("assessmentId", a.ID), zap.Error(err))
		}
		material = chunks
	}

	messages := []AIChatMessage{
		{Role: "system", Content: "You are an experienced examiner who writes clear, unambiguous assessment questions."},
		{Role: "user", Content: buildGenerationPrompt(a, b, material)},
	}

	var questions []model.Question
	err := s.Pool.Do(ctx, "generation", 0, func(ctx context.Context, pr Provider) error {
		reply, err := pr.Chat(ctx, messages)
		if err != nil {
			return err
		}
		candidates, err := parseGeneratedQuestions(reply)
		if err != nil {
			return err
		}

		valid := make([]model.Question, 0, b.Count)
		for _, c := range candidates {
			if len(valid) == b.Count {
				break
			}
			positive := b.PositiveMarks
			if positive == 0 {
				positive = 1
			}
			q, err := buildQuestion(QuestionInput{
				Type:          b.Type,
				Text:          c.Text,
				Options:       c.Options,
				CorrectAnswer: c.CorrectAnswer,
				PositiveMarks: &positive,
				Explanation:   c.Explanation,
			}, b.PositiveMarks, b.NegativeMarks, model.QuestionSourceGenerated)
			if err != nil {
				logger.Log.Debug("Discarding generated question", zap.String("provider", pr.Name()), zap.Error(err))
				continue
			}
			valid = append(valid, q)
		}
		if len(valid) == 0 {
			return fmt.Errorf("%w: provider returned no usable questions", ErrMalformedReply)
		}
		questions = valid
		return nil
	})
	return questions, err
}
