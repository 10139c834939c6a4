// ABOUTME: WhatsApp Cloud API client for sending text replies through the Graph API
// ABOUTME: Rate limited with golang.org/x/time/rate; long replies are split into several messages

package whatsapp

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

	"golang.org/x/time/rate"
)

// Graph API defaults.
const (
	DefaultBaseURL    = "https://graph.facebook.com"
	DefaultAPIVersion = "v18.0"
	// MaxTextLength is the longest text body WhatsApp accepts.
	MaxTextLength = 4096
)

// SendError is a non-2xx Graph API response.
type SendError struct {
	StatusCode int
	Body       string
}

func (e *SendError) Error() string {
	return fmt.Sprintf("graph api returned %d: %s", e.StatusCode, e.Body)
}

// ClientConfig configures a Client.
type ClientConfig struct {
	AccessToken   string
	PhoneNumberID string
	BaseURL       string
	APIVersion    string
	// SendRate is the sustained messages per second; zero disables limiting.
	SendRate  float64
	SendBurst int
	HTTP      *http.Client
}

// Client sends messages from one business phone number.
type Client struct {
	token         string
	phoneNumberID string
	endpoint      string
	http          *http.Client
	limiter       *rate.Limiter
}

// NewClient creates a Client.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.AccessToken == "" {
		return nil, errors.New("missing whatsapp access token")
	}
	if cfg.PhoneNumberID == "" {
		return nil, errors.New("missing whatsapp phone number id")
	}

	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	version := cfg.APIVersion
	if version == "" {
		version = DefaultAPIVersion
	}
	httpClient := cfg.HTTP
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.SendRate > 0 {
		burst := cfg.SendBurst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.SendRate), burst)
	}

	return &Client{
		token:         cfg.AccessToken,
		phoneNumberID: cfg.PhoneNumberID,
		endpoint:      fmt.Sprintf("%s/%s/%s/messages", baseURL, version, cfg.PhoneNumberID),
		http:          httpClient,
		limiter:       limiter,
	}, nil
}

type textMessage struct {
	MessagingProduct string       `json:"messaging_product"`
	RecipientType    string       `json:"recipient_type"`
	To               string       `json:"to"`
	Type             string       `json:"type"`
	Context          *replyTarget `json:"context,omitempty"`
	Text             textBody     `json:"text"`
}

type replyTarget struct {
	MessageID string `json:"message_id"`
}

type textBody struct {
	PreviewURL bool   `json:"preview_url"`
	Body       string `json:"body"`
}

type sendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

// SendText sends body to the recipient, quoting replyTo when set. Bodies
// longer than MaxTextLength are sent as consecutive messages; only the
// first quotes replyTo. It returns the ids of the sent messages.
func (c *Client) SendText(ctx context.Context, to, body, replyTo string) ([]string, error) {
	var ids []string
	for i, chunk := range splitText(body, MaxTextLength) {
		msg := textMessage{
			MessagingProduct: "whatsapp",
			RecipientType:    "individual",
			To:               to,
			Type:             "text",
			Text:             textBody{Body: chunk},
		}
		if i == 0 && replyTo != "" {
			msg.Context = &replyTarget{MessageID: replyTo}
		}

		id, err := c.send(ctx, msg)
		if err != nil {
			return ids, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (c *Client) send(ctx context.Context, msg textMessage) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("waiting for send slot: %w", err)
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("encoding message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	res, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("sending message: %w", err)
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(res.Body, 64<<10))
	if err != nil {
		return "", fmt.Errorf("reading response: %w", err)
	}
	if res.StatusCode < 200 || res.StatusCode > 299 {
		return "", &SendError{StatusCode: res.StatusCode, Body: string(raw)}
	}

	var out sendResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("decoding response: %w", err)
	}
	if len(out.Messages) == 0 {
		return "", errors.New("graph api response carried no message id")
	}
	return out.Messages[0].ID, nil
}

// splitText cuts s into chunks of at most limit runes, preferring to break
// at a newline or space in the second half of a chunk. Whitespace at
// chunk boundaries is dropped.
func splitText(s string, limit int) []string {
	runes := []rune(s)
	if len(runes) <= limit {
		return []string{s}
	}

	var chunks []string
	for len(runes) > limit {
		cut := limit
		for i := limit - 1; i >= limit/2; i-- {
			if runes[i] == '\n' || runes[i] == ' ' {
				cut = i + 1
				break
			}
		}
		chunks = append(chunks, strings.TrimRight(string(runes[:cut]), " \n"))
		runes = []rune(strings.TrimLeft(string(runes[cut:]), " \n"))
	}
	if len(runes) > 0 {
		chunks = append(chunks, string(runes))
	}
	return chunks
}
