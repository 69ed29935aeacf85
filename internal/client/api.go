// Package client is the consumer side of the conversation API: an HTTP
// client and the lifecycle controller that keeps optimistic local state in
// step with the server.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/devkade/hackathon-starter/internal/domain"
	"github.com/devkade/hackathon-starter/internal/domain/conversation"
	"github.com/devkade/hackathon-starter/internal/domain/volume"
	"github.com/devkade/hackathon-starter/internal/middleware"
)

const maxResponseSize = 32 << 20

// APIError is a non-2xx answer from the server. Its message is the
// server's error text so it can be shown to the user as is.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string { return e.Message }

// Unwrap lets callers test for domain.ErrNotFound.
func (e *APIError) Unwrap() error {
	if e.StatusCode == http.StatusNotFound {
		return domain.ErrNotFound
	}
	return nil
}

// API is an HTTP client for the conversation endpoints.
type API struct {
	baseURL    string
	httpClient *http.Client
}

// NewAPI creates a client for the server at baseURL.
func NewAPI(baseURL string) *API {
	return &API{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

// Submit sends a message. idempotencyKey lets a retried submit be answered
// from the server's replay cache instead of delivering the message twice.
func (a *API) Submit(ctx context.Context, req conversation.SubmitRequest, idempotencyKey string) (*conversation.SubmitResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	var resp conversation.SubmitResponse
	headers := map[string]string{"Content-Type": "application/json"}
	if idempotencyKey != "" {
		headers[middleware.HeaderIdempotencyKey] = idempotencyKey
	}
	if err := a.doJSON(ctx, http.MethodPost, "/conversations", body, headers, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Get fetches the polled view of a conversation.
func (a *API) Get(ctx context.Context, conversationID string) (*conversation.View, error) {
	var v conversation.View
	if err := a.doJSON(ctx, http.MethodGet, "/conversations/"+url.PathEscape(conversationID), nil, nil, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

// Files fetches the file tree of a conversation's volume.
func (a *API) Files(ctx context.Context, conversationID string) ([]*volume.FileNode, error) {
	var nodes []*volume.FileNode
	if err := a.doJSON(ctx, http.MethodGet, "/conversations/"+url.PathEscape(conversationID)+"/files", nil, nil, &nodes); err != nil {
		return nil, err
	}
	return nodes, nil
}

// ReadFile fetches one file from a conversation's volume.
func (a *API) ReadFile(ctx context.Context, conversationID, filePath string) ([]byte, error) {
	segments := strings.Split(strings.TrimLeft(filePath, "/"), "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	p := "/conversations/" + url.PathEscape(conversationID) + "/files/" + strings.Join(segments, "/")
	return a.do(ctx, http.MethodGet, p, nil, nil)
}

func (a *API) doJSON(ctx context.Context, method, path string, body []byte, headers map[string]string, out any) error {
	data, err := a.do(ctx, method, path, body, headers)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}

func (a *API) do(ctx context.Context, method, path string, body []byte, headers map[string]string) ([]byte, error) {
	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize+1))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, newAPIError(resp.StatusCode, data)
	}
	if len(data) > maxResponseSize {
		return nil, fmt.Errorf("%w: response exceeds %d bytes", domain.ErrTooLarge, maxResponseSize)
	}
	return data, nil
}

func newAPIError(status int, data []byte) *APIError {
	var body struct {
		Error string `json:"error"`
	}
	msg := ""
	if err := json.Unmarshal(data, &body); err == nil {
		msg = body.Error
	}
	if msg == "" {
		msg = strings.TrimSpace(string(data))
	}
	if msg == "" {
		msg = http.StatusText(status)
	}
	return &APIError{StatusCode: status, Message: msg}
}

// IsNotFound reports whether err is a 404 from the server.
func IsNotFound(err error) bool {
	return errors.Is(err, domain.ErrNotFound)
}
