package service

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"time"

	"assessment_backend/internal/config"
	"assessment_backend/internal/util"
	"assessment_backend/pkg/logger"
	"assessment_backend/pkg/monitoring"

	"go.uber.org/zap"
)

const (
	RotationRoundRobin = "round_robin"
	RotationFallback   = "fallback"
)

// Provider 一个可调用的 AI 后端
type Provider interface {
	Name() string
	Chat(ctx context.Context, messages []AIChatMessage) (string, error)
	Embed(ctx context.Context, inputs []string) ([][]float64, error)
}

// ProviderPool 多个 provider 的轮换与故障切换，由调用方显式持有
type ProviderPool struct {
	providers []Provider
	policy    string
	next      uint64
}

func NewProviderPool(policy string, providers ...Provider) *ProviderPool {
	if policy != RotationFallback {
		policy = RotationRoundRobin
	}
	return &ProviderPool{providers: providers, policy: policy}
}

func NewProviderPoolFromConfig(cfg config.AIConfig) *ProviderPool {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	providers := make([]Provider, 0, len(cfg.Providers))
	for _, p := range cfg.Providers {
		if p.BaseURL == "" || p.APIKey == "" {
			continue
		}
		providers = append(providers, NewAIClient(p, cfg.EmbeddingModel, timeout))
	}
	return NewProviderPool(cfg.Rotation, providers...)
}

func (p *ProviderPool) Len() int {
	if p == nil {
		return 0
	}
	return len(p.providers)
}

// order 返回本次调用的 provider 顺序：fallback 总是从第一个开始，round_robin 每次后移一位
func (p *ProviderPool) order() []Provider {
	n := len(p.providers)
	start := 0
	if p.policy == RotationRoundRobin {
		start = int((atomic.AddUint64(&p.next, 1) - 1) % uint64(n))
	}
	out := make([]Provider, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, p.providers[(start+i)%n])
	}
	return out
}

// Do 依次尝试 provider，maxAttempts <= 0 表示尝试全部。
// 只有可重试错误才会切换到下一个 provider。
func (p *ProviderPool) Do(ctx context.Context, operation string, maxAttempts int, fn func(ctx context.Context, pr Provider) error) error {
	if p.Len() == 0 {
		return util.ErrNoProviders
	}

	candidates := p.order()
	if maxAttempts > 0 && maxAttempts < len(candidates) {
		candidates = candidates[:maxAttempts]
	}

	var lastErr error
	for _, pr := range candidates {
		err := fn(ctx, pr)
		if err == nil {
			monitoring.AIRequests.WithLabelValues(pr.Name(), operation, "success").Inc()
			return nil
		}
		lastErr = err

		retry := isRetryable(err)
		outcome := "error"
		if retry {
			outcome = "retryable"
		}
		monitoring.AIRequests.WithLabelValues(pr.Name(), operation, outcome).Inc()
		logger.Log.Warn("AI provider call failed",
			zap.String("provider", pr.Name()),
			zap.String("operation", operation),
			zap.Bool("retryable", retry),
			zap.Error(err))

		if !retry || ctx.Err() != nil {
			break
		}
	}
	return lastErr
}

func isRetryable(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Retryable()
	}
	if errors.Is(err, ErrMalformedReply) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return false
}
