package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const serviceClassification = "classification"

// DifyWorkflow runs a blocking workflow on a Dify-compatible endpoint.
type DifyWorkflow struct {
	endpoint         string
	apiKey           string
	characterProfile string
	httpClient       *http.Client
}

type DifyConfig struct {
	Endpoint         string
	APIKey           string
	CharacterProfile string
	Timeout          time.Duration
}

type difyRequest struct {
	Inputs       difyInputs `json:"inputs"`
	ResponseMode string     `json:"response_mode"`
	User         string     `json:"user"`
}

type difyInputs struct {
	ContextChat      string `json:"contextChat"`
	RecentChat       string `json:"recentChat"`
	CharacterProfile string `json:"character_profile"`
}

type difyResponse struct {
	Data struct {
		Outputs map[string]json.RawMessage `json:"outputs"`
	} `json:"data"`
}

func NewDifyWorkflow(cfg DifyConfig) (*DifyWorkflow, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("classification endpoint is required")
	}
	if cfg.CharacterProfile == "" {
		cfg.CharacterProfile = "default"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}

	return &DifyWorkflow{
		endpoint:         cfg.Endpoint,
		apiKey:           cfg.APIKey,
		characterProfile: cfg.CharacterProfile,
		httpClient:       &http.Client{Timeout: cfg.Timeout},
	}, nil
}

func (w *DifyWorkflow) Run(ctx context.Context, in Inputs) (Outputs, error) {
	headers := map[string]string{"X-Request-ID": in.RequestID}
	if w.apiKey != "" {
		headers["Authorization"] = "Bearer " + w.apiKey
	}

	status, body, err := postJSON(ctx, w.httpClient, w.endpoint, headers, difyRequest{
		Inputs: difyInputs{
			ContextChat:      in.ContextChat,
			RecentChat:       in.RecentChat,
			CharacterProfile: w.characterProfile,
		},
		ResponseMode: "blocking",
		User:         in.User,
	})
	if err != nil {
		return Outputs{}, &UpstreamError{Service: serviceClassification, StatusCode: status, Err: err}
	}
	if !isSuccess(status) {
		return Outputs{}, &UpstreamError{Service: serviceClassification, StatusCode: status, Body: string(body)}
	}

	var resp difyResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return Outputs{}, &UpstreamError{Service: serviceClassification, StatusCode: status, Body: string(body),
			Err: fmt.Errorf("failed to parse response: %w", err)}
	}

	return Outputs{
		RiskAssessment:   rawOutput(resp.Data.Outputs[OutputRiskAssessment]),
		RiskNotification: rawOutput(resp.Data.Outputs[OutputRiskNotification]),
	}, nil
}
