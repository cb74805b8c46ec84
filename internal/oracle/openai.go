package oracle

import (
	"context"
	"errors"
	"fmt"

	"github.com/sashabaranov/go-openai"

	"github.com/harrison/mender/internal/models"
)

// Defaults for OpenAI-compatible backends
const (
	DefaultGroqBaseURL = "https://api.groq.com/openai/v1"
	DefaultGroqModel   = "llama-3.3-70b-versatile"
	DefaultOpenAIModel = "gpt-4o-mini"
)

// OpenAIOracle diagnoses crashes through any OpenAI-compatible chat
// completion API.
type OpenAIOracle struct {
	client      *openai.Client
	model       string
	temperature float32
}

// NewOpenAIOracle creates an oracle for the endpoint at baseURL. An empty
// baseURL uses the OpenAI API.
func NewOpenAIOracle(apiKey, baseURL, model string, temperature float32) *OpenAIOracle {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIOracle{
		client:      openai.NewClientWithConfig(cfg),
		model:       model,
		temperature: temperature,
	}
}

// Model returns the model requests are sent to.
func (o *OpenAIOracle) Model() string {
	return o.model
}

// Diagnose sends the rendered request as a JSON-mode chat completion and
// parses the reply.
func (o *OpenAIOracle) Diagnose(ctx context.Context, req models.DiagnosisRequest) (*models.ProposedPatch, error) {
	chat := openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: SystemPrompt + "\nSchema: " + ProposalSchema()},
			{Role: openai.ChatMessageRoleUser, Content: Render(req)},
		},
		Temperature: o.temperature,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	}

	resp, err := o.client.CreateChatCompletion(ctx, chat)
	if err != nil {
		return nil, fmt.Errorf("chat completion failed (model %s): %w", o.model, err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("chat completion returned no choices")
	}

	return ParseProposal([]byte(resp.Choices[0].Message.Content))
}
