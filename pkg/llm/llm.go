// Package llm wraps the completion endpoint used by autonomous tasks.
package llm

import (
	"context"
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/pario-ai/dixie/pkg/logger"
)

// Request is a single-turn completion request. One request is one prompt
// against the service quota.
type Request struct {
	System    string
	Prompt    string
	MaxTokens int
}

// Completion is the model's answer.
type Completion struct {
	Text   string
	Tokens int
}

// Completer produces completions.
type Completer interface {
	Complete(ctx context.Context, req Request) (Completion, error)
}

// OpenAI implements Completer against any OpenAI-compatible endpoint.
type OpenAI struct {
	client *openai.Client
	model  string
}

// NewOpenAI creates a completer. An empty baseURL uses the public API.
func NewOpenAI(baseURL, apiKey, model string) *OpenAI {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAI{client: openai.NewClientWithConfig(cfg), model: model}
}

// Complete sends one chat completion.
func (o *OpenAI) Complete(ctx context.Context, req Request) (Completion, error) {
	var msgs []openai.ChatCompletionMessage
	if req.System != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.System})
	}
	msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: req.Prompt})

	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     o.model,
		Messages:  msgs,
		MaxTokens: req.MaxTokens,
	})
	if err != nil {
		return Completion{}, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Completion{}, errors.New("chat completion: empty response")
	}
	logger.FromContext(ctx).Debug("completion",
		zap.String("model", o.model),
		zap.Int("tokens", resp.Usage.TotalTokens),
	)
	return Completion{
		Text:   resp.Choices[0].Message.Content,
		Tokens: resp.Usage.TotalTokens,
	}, nil
}
