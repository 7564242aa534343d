package biddy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"time"
)

// DefaultHTTPTimeout defines the timeout used by clients created without a
// custom http.Client. Chat turns can run several contract calls, so it is
// longer than a typical REST timeout.
const DefaultHTTPTimeout = 120 * time.Second

// Client wraps the HTTP interactions with the BidToEarn agent REST API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
}

// ChatRequest represents one user turn sent to the agent.
type ChatRequest struct {
	SessionKey string `json:"sessionKey,omitempty"`
	Message    string `json:"message"`
}

// Step describes a single tool invocation performed during a chat turn.
type Step struct {
	Action      string          `json:"action"`
	Arguments   json.RawMessage `json:"arguments,omitempty"`
	Observation string          `json:"observation"`
}

// Reply is the agent's answer, including the contract calls it performed.
type Reply struct {
	Content   string `json:"content"`
	Steps     []Step `json:"steps,omitempty"`
	CreatedAt int64  `json:"created_at"`
}

// ChatResponse is the full response of a chat turn.
type ChatResponse struct {
	SessionKey string `json:"sessionKey"`
	Reply      *Reply `json:"reply"`
}

// SessionHealth mirrors the health report for a single session.
type SessionHealth struct {
	Status    string    `json:"status"`
	LastCheck time.Time `json:"lastCheck"`
	Error     string    `json:"error,omitempty"`
}

// PinResult describes content pinned to IPFS through the agent.
type PinResult struct {
	Success    bool   `json:"success"`
	Hash       string `json:"hash"`
	IPFSURL    string `json:"ipfsUrl"`
	GatewayURL string `json:"gatewayUrl"`
}

// APIError represents server side validation or internal errors.
type APIError struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"error"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("biddy api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("biddy api error (%d): %s", e.StatusCode, e.Message)
}

// NewClient instantiates a client for the BidToEarn agent API. When httpClient
// is nil, a default client with a sensible timeout is used.
func NewClient(rawURL string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}, nil
}

// Chat sends one message to the agent. An empty sessionKey lets the server
// assign the default session.
func (c *Client) Chat(ctx context.Context, sessionKey, message string) (*ChatResponse, error) {
	var resp ChatResponse
	if err := c.post(ctx, "/api/chat", ChatRequest{SessionKey: sessionKey, Message: message}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SessionHealth reports the lifecycle state of a session. An unknown session
// reports status "unknown".
func (c *Client) SessionHealth(ctx context.Context, sessionKey string) (*SessionHealth, error) {
	endpoint := "/health?session=" + url.QueryEscape(sessionKey)
	var resp struct {
		Status  string         `json:"status"`
		Session *SessionHealth `json:"session"`
	}
	if err := c.get(ctx, endpoint, &resp); err != nil {
		return nil, err
	}
	if resp.Session == nil {
		return &SessionHealth{Status: "unknown"}, nil
	}
	return resp.Session, nil
}

// PinMetadata pins a JSON metadata document and returns its IPFS locations.
func (c *Client) PinMetadata(ctx context.Context, name string, metadata any) (*PinResult, error) {
	raw, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}
	payload := struct {
		Name     string          `json:"name"`
		Metadata json.RawMessage `json:"metadata"`
	}{Name: name, Metadata: raw}

	var result PinResult
	if err := c.post(ctx, "/api/upload/metadata", payload, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) post(ctx context.Context, endpoint string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, endpoint string, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, body io.Reader) (*http.Request, error) {
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint: %w", err)
	}
	rel := &url.URL{Path: path.Join(c.baseURL.Path, parsed.Path), RawQuery: parsed.RawQuery}
	u := c.baseURL.ResolveReference(rel)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := APIError{StatusCode: resp.StatusCode}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		if len(data) > 0 {
			_ = json.Unmarshal(data, &apiErr)
		}
		if apiErr.Message == "" {
			apiErr.Message = string(bytes.TrimSpace(data))
		}
		return &apiErr
	}

	if out == nil {
		return nil
	}
	decoder := json.NewDecoder(resp.Body)
	if err := decoder.Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
