package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"assessment_backend/internal/config"
)

// ErrMalformedReply 模型返回内容无法解析，换下一个 provider 重试
var ErrMalformedReply = errors.New("malformed AI reply")

type AIChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ChatCompletionRequest struct {
	Model       string          `json:"model"`
	Messages    []AIChatMessage `json:"messages"`
	Temperature float64         `json:"temperature"`
}

type ChatCompletionResponse struct {
	Choices []struct {
		Message AIChatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

type EmbeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type EmbeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
}

// ProviderError 上游返回的非 200 响应
type ProviderError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("AI provider %s error (status %d): %s", e.Provider, e.StatusCode, e.Body)
}

// Retryable 配额耗尽、限流和服务端错误可切换 provider
func (e *ProviderError) Retryable() bool {
	if e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500 {
		return true
	}
	body := strings.ToLower(e.Body)
	return strings.Contains(body, "quota") || strings.Contains(body, "resource_exhausted")
}

// AIClient OpenAI 兼容接口的客户端，一个实例对应一个 provider
type AIClient struct {
	name           string
	baseURL        string
	apiKey         string
	model          string
	embeddingModel string
	http           *http.Client
}

func NewAIClient(p config.AIProviderConfig, embeddingModel string, timeout time.Duration) *AIClient {
	name := p.Name
	if name == "" {
		name = p.BaseURL
	}
	return &AIClient{
		name:           name,
		baseURL:        strings.TrimRight(p.BaseURL, "/"),
		apiKey:         p.APIKey,
		model:          p.Model,
		embeddingModel: embeddingModel,
		http:           &http.Client{Timeout: timeout},
	}
}

func (c *AIClient) Name() string {
	return c.name
}

func (c *AIClient) Chat(ctx context.Context, messages []AIChatMessage) (string, error) {
	var result ChatCompletionResponse
	err := c.post(ctx, "/chat/completions", ChatCompletionRequest{
		Model:    c.model,
		Messages: messages,
	}, &result)
	if err != nil {
		return "", err
	}

	if result.Error != nil {
		return "", &ProviderError{Provider: c.name, StatusCode: http.StatusOK, Body: result.Error.Message}
	}
	if len(result.Choices) == 0 {
		return "", fmt.Errorf("%w: no choices", ErrMalformedReply)
	}
	return result.Choices[0].Message.Content, nil
}

func (c *AIClient) Embed(ctx context.Context, inputs []string) ([][]float64, error) {
	var result EmbeddingResponse
	err := c.post(ctx, "/embeddings", EmbeddingRequest{Model: c.embeddingModel, Input: inputs}, &result)
	if err != nil {
		return nil, err
	}
	if len(result.Data) != len(inputs) {
		return nil, fmt.Errorf("%w: %d embeddings for %d inputs", ErrMalformedReply, len(result.Data), len(inputs))
	}

	out := make([][]float64, len(inputs))
	for _, d := range result.Data {
		if d.Index < 0 || d.Index >= len(out) {
			return nil, fmt.Errorf("%w: embedding index %d out of range", ErrMalformedReply, d.Index)
		}
		out[d.Index] = d.Embedding
	}
	return out, nil
}

func (c *AIClient) post(ctx context.Context, path string, payload, dst interface{}) error {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewBuffer(jsonData))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return &ProviderError{Provider: c.name, StatusCode: resp.StatusCode, Body: string(body)}
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedReply, err)
	}
	return nil
}
