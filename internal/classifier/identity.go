package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/xaenox/riskwatch/internal/models"
)

const serviceIdentity = "identity"

// IdentityClient requests correlation ids for one classification cycle.
type IdentityClient struct {
	baseURL    string
	platform   string
	httpClient *http.Client
}

type idsRequest struct {
	UserID      string `json:"userId"`
	ChildUserID int64  `json:"childUserId"`
	Platform    string `json:"platform"`
}

func NewIdentityClient(baseURL, platform string, timeout time.Duration) *IdentityClient {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &IdentityClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		platform:   platform,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Generate calls POST /ids/generate. Any failure is an *UpstreamError.
func (c *IdentityClient) Generate(ctx context.Context, identity models.UserIdentity, requestID string) (models.CorrelationIDs, error) {
	var ids models.CorrelationIDs

	status, body, err := postJSON(ctx, c.httpClient, c.baseURL+"/ids/generate",
		map[string]string{"X-Request-ID": requestID},
		idsRequest{UserID: identity.UserID, ChildUserID: identity.ChildUserID, Platform: c.platform})
	if err != nil {
		return ids, &UpstreamError{Service: serviceIdentity, StatusCode: status, Err: err}
	}
	if !isSuccess(status) {
		return ids, &UpstreamError{Service: serviceIdentity, StatusCode: status, Body: string(body)}
	}

	if err := json.Unmarshal(body, &ids); err != nil {
		return ids, &UpstreamError{Service: serviceIdentity, StatusCode: status, Body: string(body),
			Err: fmt.Errorf("failed to decode response: %w", err)}
	}
	return ids, nil
}
