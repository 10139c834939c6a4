// ABOUTME: Gateway API client for the clinic-matrix bridge
// ABOUTME: Posts patient messages to /api/messages and returns the assistant reply

package main

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
)

// ErrDuplicate is returned when the gateway has already answered a message id.
var ErrDuplicate = errors.New("message already handled")

// MessageRequest is the request body for POST /api/messages.
type MessageRequest struct {
	UserID    string `json:"user_id"`
	Text      string `json:"text"`
	Frontend  string `json:"frontend"`
	MessageID string `json:"message_id,omitempty"`
}

type messageResponse struct {
	Reply     string `json:"reply"`
	Duplicate bool   `json:"duplicate,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// GatewayClient communicates with the clinic-gateway HTTP API.
type GatewayClient struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewGatewayClient creates a new gateway client. token may be empty when the
// gateway runs without API authentication.
func NewGatewayClient(baseURL, token string, timeout time.Duration) *GatewayClient {
	return &GatewayClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: timeout},
	}
}

// SendMessage relays one patient message and returns the assistant's reply.
func (g *GatewayClient) SendMessage(ctx context.Context, req MessageRequest) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		g.baseURL+"/api/messages", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	if g.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+g.token)
	}

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", g.handleErrorResponse(resp)
	}

	var out messageResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil {
		return "", fmt.Errorf("decoding response: %w", err)
	}
	if out.Duplicate {
		return "", ErrDuplicate
	}
	return out.Reply, nil
}

// handleErrorResponse extracts error message from non-200 responses.
func (g *GatewayClient) handleErrorResponse(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		var errResp errorResponse
		if json.Unmarshal(body, &errResp) == nil && errResp.Error != "" {
			return fmt.Errorf("gateway error (%d): %s", resp.StatusCode, errResp.Error)
		}
	}

	return fmt.Errorf("gateway returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
}
