package classifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// OpenAIWorkflow produces the two risk outputs with a chat completion
// instead of a hosted workflow.
type OpenAIWorkflow struct {
	client      *openai.Client
	model       string
	maxTokens   int
	temperature float64
	logger      *zap.Logger
}

type OpenAIConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int
	Temperature float64
}

const riskPrompt = `You review conversations between a child and an AI companion chatbot for safety risks.

Earlier conversation (may be empty):
%s

Most recent messages:
%s

Return ONLY a JSON object with exactly these two keys:
{
    "Risk Assessment": {
        "risk_level": "low | medium | high",
        "risk_type": "short category of the risk, or none",
        "risky_reason": "one or two sentences explaining the level"
    },
    "Risk Notification": {
        "conversation_topic": "a short topic for the conversation",
        "conversation_summary": "two or three sentences a parent can read"
    }
}`

func NewOpenAIWorkflow(cfg OpenAIConfig, logger *zap.Logger) (*OpenAIWorkflow, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = openai.GPT4oMini
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 400
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	return &OpenAIWorkflow{
		client:      openai.NewClientWithConfig(clientCfg),
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		logger:      logger,
	}, nil
}

func (w *OpenAIWorkflow) Run(ctx context.Context, in Inputs) (Outputs, error) {
	resp, err := w.client.CreateChatCompletion(
		ctx,
		openai.ChatCompletionRequest{
			Model: w.model,
			Messages: []openai.ChatCompletionMessage{
				{
					Role:    openai.ChatMessageRoleUser,
					Content: fmt.Sprintf(riskPrompt, in.ContextChat, in.RecentChat),
				},
			},
			MaxTokens:   w.maxTokens,
			Temperature: float32(w.temperature),
			User:        in.User,
			ResponseFormat: &openai.ChatCompletionResponseFormat{
				Type: openai.ChatCompletionResponseFormatTypeJSONObject,
			},
		},
	)
	if err != nil {
		upstream := &UpstreamError{Service: serviceClassification, Err: err}
		var (
			apiErr *openai.APIError
			reqErr *openai.RequestError
		)
		switch {
		case errors.As(err, &apiErr):
			upstream.StatusCode = apiErr.HTTPStatusCode
		case errors.As(err, &reqErr):
			upstream.StatusCode = reqErr.HTTPStatusCode
		}
		return Outputs{}, upstream
	}

	if len(resp.Choices) == 0 {
		w.logger.Warn("Empty completion from OpenAI", zap.String("request_id", in.RequestID))
		return Outputs{}, nil
	}

	content := stripCodeFence(resp.Choices[0].Message.Content)
	var outputs map[string]json.RawMessage
	if err := json.Unmarshal([]byte(content), &outputs); err != nil {
		w.logger.Warn("Failed to parse OpenAI completion",
			zap.Error(err),
			zap.String("response", content),
			zap.String("request_id", in.RequestID))
		return Outputs{}, nil
	}

	return Outputs{
		RiskAssessment:   rawOutput(outputs[OutputRiskAssessment]),
		RiskNotification: rawOutput(outputs[OutputRiskNotification]),
	}, nil
}
