// Package sandboxapi implements the sandbox provider port against the
// provider's REST API (sandboxes, stdin relay, volumes).
package sandboxapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/devkade/hackathon-starter/internal/domain"
	"github.com/devkade/hackathon-starter/internal/domain/volume"
	"github.com/devkade/hackathon-starter/internal/port/sandbox"
	"github.com/devkade/hackathon-starter/internal/resilience"
)

// maxFileSize caps a single file read from a volume.
const maxFileSize = 32 << 20

// APIError is a non-2xx response from the provider.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("sandbox API error %d: %s", e.StatusCode, e.Body)
}

// Client talks to the sandbox provider API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	breaker    *resilience.Breaker
}

var _ sandbox.Provider = (*Client)(nil)

// NewClient creates a new provider client.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// SetBreaker attaches a circuit breaker to all outgoing calls. Not-found
// and oversized answers do not count against it.
func (c *Client) SetBreaker(b *resilience.Breaker) {
	b.IgnoreErrors(func(err error) bool {
		return errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrTooLarge)
	})
	c.breaker = b
}

type createVolumeRequest struct {
	Name string `json:"name"`
}

type idResponse struct {
	ID string `json:"id"`
}

type volumeMount struct {
	VolumeID  string `json:"volume_id"`
	MountPath string `json:"mount_path"`
}

type createSandboxRequest struct {
	Template       string            `json:"template"`
	Volumes        []volumeMount     `json:"volumes,omitempty"`
	Env            map[string]string `json:"env,omitempty"`
	TimeoutSeconds int64             `json:"timeout_seconds,omitempty"`
	Labels         map[string]string `json:"labels,omitempty"`
	OpenStdin      bool              `json:"open_stdin"`
}

type listResponse struct {
	Entries []struct {
		Name    string    `json:"name"`
		Path    string    `json:"path"`
		Type    string    `json:"type"`
		Size    int64     `json:"size"`
		ModTime time.Time `json:"mtime"`
	} `json:"entries"`
}

// CreateVolume provisions a persistent volume.
func (c *Client) CreateVolume(ctx context.Context, name string) (string, error) {
	var out idResponse
	if err := c.doJSON(ctx, http.MethodPost, "/v1/volumes", createVolumeRequest{Name: name}, &out); err != nil {
		return "", fmt.Errorf("create volume: %w", err)
	}
	if out.ID == "" {
		return "", errors.New("create volume: provider returned no id")
	}
	return out.ID, nil
}

// DeleteVolume removes a volume and its contents.
func (c *Client) DeleteVolume(ctx context.Context, volumeID string) error {
	if _, err := c.do(ctx, http.MethodDelete, "/v1/volumes/"+url.PathEscape(volumeID), "", nil); err != nil {
		return fmt.Errorf("delete volume %s: %w", volumeID, err)
	}
	return nil
}

// CreateSandbox starts a sandbox with the volume mounted and stdin open.
func (c *Client) CreateSandbox(ctx context.Context, spec sandbox.Spec) (string, error) {
	req := createSandboxRequest{
		Template:       spec.Template,
		Env:            spec.Env,
		TimeoutSeconds: int64(spec.Timeout / time.Second),
		Labels:         spec.Labels,
		OpenStdin:      true,
	}
	if spec.VolumeID != "" {
		req.Volumes = []volumeMount{{VolumeID: spec.VolumeID, MountPath: spec.MountPath}}
	}

	var out idResponse
	if err := c.doJSON(ctx, http.MethodPost, "/v1/sandboxes", req, &out); err != nil {
		return "", fmt.Errorf("create sandbox: %w", err)
	}
	if out.ID == "" {
		return "", errors.New("create sandbox: provider returned no id")
	}
	return out.ID, nil
}

// WriteStdin appends data to the sandbox process's standard input.
func (c *Client) WriteStdin(ctx context.Context, sandboxID string, data []byte) error {
	path := "/v1/sandboxes/" + url.PathEscape(sandboxID) + "/stdin"
	if _, err := c.do(ctx, http.MethodPost, path, "application/octet-stream", data); err != nil {
		return fmt.Errorf("write stdin %s: %w", sandboxID, err)
	}
	return nil
}

// KillSandbox terminates a sandbox.
func (c *Client) KillSandbox(ctx context.Context, sandboxID string) error {
	if _, err := c.do(ctx, http.MethodDelete, "/v1/sandboxes/"+url.PathEscape(sandboxID), "", nil); err != nil {
		return fmt.Errorf("kill sandbox %s: %w", sandboxID, err)
	}
	return nil
}

// ListDir lists one directory of a volume.
func (c *Client) ListDir(ctx context.Context, volumeID, dir string) ([]volume.FileInfo, error) {
	path := "/v1/volumes/" + url.PathEscape(volumeID) + "/ls?path=" + url.QueryEscape(dir)

	var out listResponse
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, fmt.Errorf("list %s:%s: %w", volumeID, dir, err)
	}

	infos := make([]volume.FileInfo, 0, len(out.Entries))
	for _, e := range out.Entries {
		t := volume.TypeFile
		if e.Type == "directory" || e.Type == "dir" {
			t = volume.TypeDirectory
		}
		infos = append(infos, volume.FileInfo{
			Name:    e.Name,
			Path:    e.Path,
			Type:    t,
			Size:    e.Size,
			ModTime: e.ModTime,
		})
	}
	return infos, nil
}

// ReadFile returns the contents of a file on a volume.
func (c *Client) ReadFile(ctx context.Context, volumeID, path string) ([]byte, error) {
	p := "/v1/volumes/" + url.PathEscape(volumeID) + "/files?path=" + url.QueryEscape(path)
	data, err := c.do(ctx, http.MethodGet, p, "", nil)
	if err != nil {
		return nil, fmt.Errorf("read %s:%s: %w", volumeID, path, err)
	}
	return data, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	var body []byte
	contentType := ""
	if in != nil {
		var err error
		body, err = json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		contentType = "application/json"
	}

	data, err := c.do(ctx, method, path, contentType, body)
	if err != nil {
		return err
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path, contentType string, body []byte) ([]byte, error) {
	var result []byte
	call := func() error {
		var bodyReader io.Reader
		if body != nil {
			bodyReader = bytes.NewReader(body)
		}

		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}
		if c.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.apiKey)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("http request: %w", err)
		}
		defer func() { _ = resp.Body.Close() }()

		data, err := io.ReadAll(io.LimitReader(resp.Body, maxFileSize+1))
		if err != nil {
			return fmt.Errorf("read response: %w", err)
		}

		if resp.StatusCode == http.StatusNotFound {
			return fmt.Errorf("%w: %s", domain.ErrNotFound, bytes.TrimSpace(data))
		}
		if resp.StatusCode >= 400 {
			return &APIError{StatusCode: resp.StatusCode, Body: string(bytes.TrimSpace(data))}
		}

		if len(data) > maxFileSize {
			return fmt.Errorf("%w: response exceeds %d bytes", domain.ErrTooLarge, maxFileSize)
		}

		result = data
		return nil
	}

	if c.breaker != nil {
		if err := c.breaker.Execute(call); err != nil {
			return nil, err
		}
		return result, nil
	}

	if err := call(); err != nil {
		return nil, err
	}
	return result, nil
}
