package agent

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
)

// OpenAIInvoker backs agent roles with OpenAI models.
type OpenAIInvoker struct {
	client openai.Client
}

// NewOpenAIInvoker creates a new OpenAI invoker.
func NewOpenAIInvoker(apiKey string) (*OpenAIInvoker, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai API key is required")
	}

	client := openai.NewClient()
	return &OpenAIInvoker{client: client}, nil
}

// Name returns the invoker identifier.
func (a *OpenAIInvoker) Name() string {
	return "openai"
}

// Models returns the list of supported OpenAI models.
func (a *OpenAIInvoker) Models() []string {
	return []string{
		"gpt-5.2-instant",
		"gpt-5.2-thinking",
		"gpt-5.2-codex",
		"gpt-5.2-pro",
	}
}

// Invoke sends the framed task to OpenAI and normalizes the response.
func (a *OpenAIInvoker) Invoke(ctx context.Context, req Request) (*Result, error) {
	resp, err := a.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(req.Model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(buildPrompt(req)),
		},
		MaxCompletionTokens: openai.Int(4096),
	})
	if err != nil {
		return nil, fmt.Errorf("openai API error: %w", err)
	}

	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai returned no choices")
	}

	content := resp.Choices[0].Message.Content
	return &Result{
		Output:     content,
		Confidence: parseConfidence(content),
		Usage: &Usage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:      int(resp.Usage.TotalTokens),
		},
	}, nil
}
