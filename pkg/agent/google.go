package agent

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

// GoogleInvoker backs agent roles with Gemini models.
type GoogleInvoker struct {
	client *genai.Client
}

// NewGoogleInvoker creates a new Google Gemini invoker.
func NewGoogleInvoker(apiKey string) (*GoogleInvoker, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("google API key is required")
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create google client: %w", err)
	}

	return &GoogleInvoker{client: client}, nil
}

// Name returns the invoker identifier.
func (a *GoogleInvoker) Name() string {
	return "google"
}

// Models returns the list of supported Gemini models.
func (a *GoogleInvoker) Models() []string {
	return []string{
		"gemini-2.0-pro",
	}
}

// Invoke sends the framed task to Gemini and normalizes the response.
func (a *GoogleInvoker) Invoke(ctx context.Context, req Request) (*Result, error) {
	resp, err := a.client.Models.GenerateContent(ctx, req.Model, genai.Text(buildPrompt(req)), nil)
	if err != nil {
		return nil, fmt.Errorf("google API error: %w", err)
	}

	if resp == nil || len(resp.Candidates) == 0 {
		return nil, fmt.Errorf("google returned no candidates")
	}

	var content string
	if resp.Candidates[0].Content != nil {
		for _, part := range resp.Candidates[0].Content.Parts {
			if part.Text != "" {
				content += part.Text
			}
		}
	}

	return &Result{
		Output:     content,
		Confidence: parseConfidence(content),
	}, nil
}
