package service

import (
	"context"
	"fmt"
	"strings"
)

// EquivalenceService 用 AI 判断简答题答案是否与标准答案等价
type EquivalenceService struct {
	pool *ProviderPool
}

func NewEquivalenceService(pool *ProviderPool) *EquivalenceService {
	return &EquivalenceService{pool: pool}
}

const equivalencePrompt = `You are grading a short answer question.
Reference answer: %q
Student answer: %q
The answers are written in language %q.
Does the student answer express the same meaning as the reference answer?
Reply with exactly one word: YES or NO.`

// IsEquivalent 每次只调用一个 provider，重试与超时由评分引擎控制
func (s *EquivalenceService) IsEquivalent(ctx context.Context, student, correct, language string) (bool, error) {
	if language == "" {
		language = "en"
	}
	messages := []AIChatMessage{
		{Role: "system", Content: "You are a strict but fair examiner."},
		{Role: "user", Content: fmt.Sprintf(equivalencePrompt, correct, student, language)},
	}

	var verdict bool
	err := s.pool.Do(ctx, "equivalence", 1, func(ctx context.Context, pr Provider) error {
		reply, err := pr.Chat(ctx, messages)
		if err != nil {
			return err
		}
		v, ok := parseYesNo(reply)
		if !ok {
			return fmt.Errorf("%w: %q", ErrMalformedReply, reply)
		}
		verdict = v
		return nil
	})
	return verdict, err
}

func parseYesNo(reply string) (bool, bool) {
	r := strings.ToUpper(strings.TrimSpace(reply))
	r = strings.Trim(r, ".!\"'` ")
	switch {
	case strings.HasPrefix(r, "YES"):
		return true, true
	case strings.HasPrefix(r, "NO"):
		return false, true
	}
	return false, false
}
