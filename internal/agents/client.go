package agents

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"time"

	"github.com/mzielin/agent-bridge/internal/domain"
)

// API defines the remote operations this gateway consumes. The bearer
// token is an opaque input on every call; acquisition and refresh belong
// to the external identity provider.
type API interface {
	CreateThread(ctx context.Context, token string) (string, error)
	ListThreads(ctx context.Context, token string) ([]Thread, error)
	GetThread(ctx context.Context, token, threadID string) (*Thread, error)
	DeleteThread(ctx context.Context, token, threadID string) error

	AddMessage(ctx context.Context, token, threadID, role, content string) (*Message, error)
	ListMessages(ctx context.Context, token, threadID string) ([]Message, error)

	CreateRun(ctx context.Context, token, threadID, assistantID string) (*Run, error)
	GetRun(ctx context.Context, token, threadID, runID string) (*Run, error)

	UploadFile(ctx context.Context, token, filename string, body io.Reader) (*File, error)
	GetFile(ctx context.Context, token, fileID string) (*File, error)
	DeleteFile(ctx context.Context, token, fileID string) error
}

// Client is a plain HTTP consumer of the vendor conversation API
type Client struct {
	baseURL    string
	apiVersion string
	client     *http.Client
}

// NewClient creates a new remote API client
func NewClient(baseURL, apiVersion string) *Client {
	return &Client{
		baseURL:    baseURL,
		apiVersion: apiVersion,
		client:     &http.Client{Timeout: 120 * time.Second},
	}
}

// endpoint builds a versioned URL with optional query parameters
func (c *Client) endpoint(path string, query url.Values) string {
	if query == nil {
		query = url.Values{}
	}
	if c.apiVersion != "" {
		query.Set("api-version", c.apiVersion)
	}
	u := c.baseURL + path
	if enc := query.Encode(); enc != "" {
		u += "?" + enc
	}
	return u
}

// doJSON executes one JSON request/response cycle against the remote API
func (c *Client) doJSON(ctx context.Context, token, op, method, rawURL string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s: request failed: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &domain.TransportError{Op: op, Status: resp.StatusCode}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("%s: failed to decode response: %w", op, err)
		}
	}
	return nil
}

// CreateThread creates a new remote thread and returns its identifier
func (c *Client) CreateThread(ctx context.Context, token string) (string, error) {
	var thread Thread
	err := c.doJSON(ctx, token, "create thread", http.MethodPost,
		c.endpoint("/threads", nil), map[string]any{}, &thread)
	if err != nil {
		return "", err
	}
	return thread.ID, nil
}

// ListThreads fetches the full thread listing, accumulating pages until
// the remote reports no more.
func (c *Client) ListThreads(ctx context.Context, token string) ([]Thread, error) {
	var all []Thread
	after := ""
	for {
		q := url.Values{"limit": {"100"}, "order": {"desc"}}
		if after != "" {
			q.Set("after", after)
		}
		var page ThreadList
		err := c.doJSON(ctx, token, "list threads", http.MethodGet,
			c.endpoint("/threads", q), nil, &page)
		if err != nil {
			return nil, err
		}
		all = append(all, page.Data...)
		if !page.HasMore || page.LastID == "" {
			return all, nil
		}
		after = page.LastID
	}
}

// GetThread fetches one thread by id
func (c *Client) GetThread(ctx context.Context, token, threadID string) (*Thread, error) {
	var thread Thread
	err := c.doJSON(ctx, token, "get thread", http.MethodGet,
		c.endpoint("/threads/"+threadID, nil), nil, &thread)
	if err != nil {
		return nil, err
	}
	return &thread, nil
}

// DeleteThread deletes one thread by id
func (c *Client) DeleteThread(ctx context.Context, token, threadID string) error {
	return c.doJSON(ctx, token, "delete thread", http.MethodDelete,
		c.endpoint("/threads/"+threadID, nil), nil, nil)
}

// AddMessage appends a message to a thread
func (c *Client) AddMessage(ctx context.Context, token, threadID, role, content string) (*Message, error) {
	var msg Message
	err := c.doJSON(ctx, token, "add message", http.MethodPost,
		c.endpoint("/threads/"+threadID+"/messages", nil),
		map[string]string{"role": role, "content": content}, &msg)
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

// ListMessages fetches a thread's messages, newest first, accumulating
// pages until the remote reports no more.
func (c *Client) ListMessages(ctx context.Context, token, threadID string) ([]Message, error) {
	var all []Message
	after := ""
	for {
		q := url.Values{"limit": {"100"}, "order": {"desc"}}
		if after != "" {
			q.Set("after", after)
		}
		var page MessageList
		err := c.doJSON(ctx, token, "list messages", http.MethodGet,
			c.endpoint("/threads/"+threadID+"/messages", q), nil, &page)
		if err != nil {
			return nil, err
		}
		all = append(all, page.Data...)
		if !page.HasMore || page.LastID == "" {
			return all, nil
		}
		after = page.LastID
	}
}

// CreateRun starts a run of the named assistant against a thread
func (c *Client) CreateRun(ctx context.Context, token, threadID, assistantID string) (*Run, error) {
	var run Run
	err := c.doJSON(ctx, token, "create run", http.MethodPost,
		c.endpoint("/threads/"+threadID+"/runs", nil),
		map[string]any{"assistant_id": assistantID}, &run)
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// GetRun fetches the current status of a run
func (c *Client) GetRun(ctx context.Context, token, threadID, runID string) (*Run, error) {
	var run Run
	err := c.doJSON(ctx, token, "get run", http.MethodGet,
		c.endpoint("/threads/"+threadID+"/runs/"+runID, nil), nil, &run)
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// UploadFile uploads an attachment via multipart form. The caller may
// wrap body in a progress-counting reader.
func (c *Client) UploadFile(ctx context.Context, token, filename string, body io.Reader) (*File, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := io.Copy(part, body); err != nil {
		return nil, fmt.Errorf("failed to read upload body: %w", err)
	}
	if err := mw.WriteField("purpose", "assistants"); err != nil {
		return nil, fmt.Errorf("failed to write form field: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("/files", nil), &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upload file: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &domain.TransportError{Op: "upload file", Status: resp.StatusCode}
	}

	var file File
	if err := json.NewDecoder(resp.Body).Decode(&file); err != nil {
		return nil, fmt.Errorf("upload file: failed to decode response: %w", err)
	}
	return &file, nil
}

// GetFile fetches remote file metadata, including processing status
func (c *Client) GetFile(ctx context.Context, token, fileID string) (*File, error) {
	var file File
	err := c.doJSON(ctx, token, "get file", http.MethodGet,
		c.endpoint("/files/"+fileID, nil), nil, &file)
	if err != nil {
		return nil, err
	}
	return &file, nil
}

// DeleteFile deletes a remote file
func (c *Client) DeleteFile(ctx context.Context, token, fileID string) error {
	return c.doJSON(ctx, token, "delete file", http.MethodDelete,
		c.endpoint("/files/"+fileID, nil), nil, nil)
}
