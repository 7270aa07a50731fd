// Package backend is the HTTP client for the document pipeline service. The
// server is treated as opaque: upload a file, poll its status, retry or
// delete it. Authentication uses bearer tokens issued by /auth endpoints.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"doctrack/pkg/domain"
)

const defaultTimeout = 30 * time.Second

// Client calls the document service over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// APIError represents a document service error response.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return e.Message
}

// IsAuthError reports whether err is a 401 from the service.
func IsAuthError(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized
}

// IsNotFound reports whether err is a 404 from the service.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}

// NewClient constructs a document service client. A non-positive timeout
// falls back to 30 seconds; a request that exceeds it is a transient fault,
// not a job failure.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// StatusReport is the response of GET /documents/{id}/status.
type StatusReport struct {
	Status   string `json:"status"`
	Progress int    `json:"progress"`
	Message  string `json:"message,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Upload submits a document as multipart form data and returns the job
// record the server created for it.
func (c *Client) Upload(ctx context.Context, token, filename string, r io.Reader) (domain.Job, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return domain.Job{}, err
	}
	if _, err := io.Copy(part, r); err != nil {
		return domain.Job{}, err
	}
	if err := writer.Close(); err != nil {
		return domain.Job{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/documents/upload", body)
	if err != nil {
		return domain.Job{}, err
	}
	addAuthHeader(req, token)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	var job domain.Job
	if err := c.do(req, &job); err != nil {
		return domain.Job{}, err
	}
	return job, nil
}

// Status queries the processing status of one document.
func (c *Client) Status(ctx context.Context, token, id string) (StatusReport, error) {
	var report StatusReport
	err := c.doJSON(ctx, http.MethodGet, fmt.Sprintf("/documents/%s/status", id), token, nil, &report)
	return report, err
}

// Process triggers (re)processing of an uploaded document.
func (c *Client) Process(ctx context.Context, token, id string) error {
	return c.doJSON(ctx, http.MethodPost, fmt.Sprintf("/documents/%s/process", id), token, nil, nil)
}

// Retry resets a failed document to a pollable state and restarts the
// server-side pipeline.
func (c *Client) Retry(ctx context.Context, token, id string) error {
	return c.doJSON(ctx, http.MethodPost, fmt.Sprintf("/documents/%s/retry", id), token, nil, nil)
}

// Delete removes the document server-side.
func (c *Client) Delete(ctx context.Context, token, id string) error {
	return c.doJSON(ctx, http.MethodDelete, fmt.Sprintf("/documents/%s", id), token, nil, nil)
}

// Download fetches the document's binary content.
func (c *Client) Download(ctx context.Context, token, id string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/documents/%s/download", c.baseURL, id), nil)
	if err != nil {
		return nil, err
	}
	addAuthHeader(req, token)

	resp, err := c.send(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, decodeError(resp)
	}
	return io.ReadAll(resp.Body)
}

// List returns the caller's documents.
func (c *Client) List(ctx context.Context, token string) ([]domain.Job, error) {
	var jobs []domain.Job
	if err := c.doJSON(ctx, http.MethodGet, "/documents", token, nil, &jobs); err != nil {
		return nil, err
	}
	return jobs, nil
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// Login exchanges credentials for an access/refresh token pair.
func (c *Client) Login(ctx context.Context, email, password string) (string, string, error) {
	payload := map[string]string{"email": email, "password": password}
	var resp tokenResponse
	if err := c.doJSON(ctx, http.MethodPost, "/auth/login", "", payload, &resp); err != nil {
		return "", "", err
	}
	return resp.AccessToken, resp.RefreshToken, nil
}

// Refresh exchanges a refresh token for a new token pair.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (string, string, error) {
	payload := map[string]string{"refresh_token": refreshToken}
	var resp tokenResponse
	if err := c.doJSON(ctx, http.MethodPost, "/auth/refresh", "", payload, &resp); err != nil {
		return "", "", err
	}
	return resp.AccessToken, resp.RefreshToken, nil
}

// Logout invalidates the session server-side.
func (c *Client) Logout(ctx context.Context, token string) error {
	return c.doJSON(ctx, http.MethodPost, "/auth/logout", token, nil, nil)
}

func (c *Client) doJSON(ctx context.Context, method, path, token string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	addAuthHeader(req, token)
	return c.do(req, out)
}

// send executes a request with a correlation ID attached. Every request
// leaves the client through here.
func (c *Client) send(req *http.Request) (*http.Response, error) {
	req.Header.Set("X-Request-ID", uuid.NewString())
	return c.httpClient.Do(req)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.send(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return decodeError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	var errResp struct {
		Error  string `json:"error"`
		Detail string `json:"detail"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&errResp)
	msg := errResp.Error
	if msg == "" {
		msg = errResp.Detail
	}
	if msg == "" {
		msg = resp.Status
	}
	return &APIError{Status: resp.StatusCode, Message: msg}
}

func addAuthHeader(req *http.Request, token string) {
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
}
