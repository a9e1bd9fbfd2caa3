package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"rechub/internal/runner/verify"
)

// successCode is the envelope code the server uses for successful
// responses.
const successCode = 10000

// Client talks to the score service on behalf of a runner.
type Client struct {
	baseURL string
	http    *http.Client
	token   string
}

// New creates a client for the given server base URL, for example
// "https://scores.example.com". httpClient may be nil.
func New(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
	}
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// APIError is a non-success envelope from the server.
type APIError struct {
	HTTPStatus int
	Code       int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server error %d: %s (http %d)", e.Code, e.Message, e.HTTPStatus)
}

func (c *Client) do(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	var reqBody io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reqBody = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("bad response from %s (http %d): %w", path, resp.StatusCode, err)
	}
	if env.Code != successCode {
		return &APIError{HTTPStatus: resp.StatusCode, Code: env.Code, Message: env.Message}
	}
	if out != nil && env.Data != nil {
		return json.Unmarshal(env.Data, out)
	}
	return nil
}

// Login exchanges credentials for an access token, which is attached
// to every later request.
func (c *Client) Login(ctx context.Context, username, password string) error {
	var data struct {
		Token string `json:"token"`
	}
	err := c.do(ctx, http.MethodPost, "/api/v1/auth/token", map[string]string{
		"username": username,
		"password": password,
	}, &data)
	if err != nil {
		return err
	}
	if data.Token == "" {
		return fmt.Errorf("login succeeded but no token was issued")
	}
	c.token = data.Token
	return nil
}

// PendingItem is one queue entry the server wants verified.
type PendingItem struct {
	ID          int64  `json:"id"`
	FileName    string `json:"file_name"`
	DownloadURL string `json:"download_url"`
	RunsURL     string `json:"runs_url"`
}

// PendingPage is one page of the work queue.
type PendingPage struct {
	Items      []PendingItem `json:"items"`
	NextCursor string        `json:"next_cursor"`
}

// Pending fetches a page of submissions that still need a run on the
// given platform.
func (c *Client) Pending(ctx context.Context, os, cursor string, limit int) (*PendingPage, error) {
	path := "/api/v1/pending/" + os
	params := []string{}
	if cursor != "" {
		params = append(params, "cursor="+cursor)
	}
	if limit > 0 {
		params = append(params, "limit="+strconv.Itoa(limit))
	}
	if len(params) > 0 {
		path += "?" + strings.Join(params, "&")
	}

	page := &PendingPage{}
	if err := c.do(ctx, http.MethodGet, path, nil, page); err != nil {
		return nil, err
	}
	return page, nil
}

// Download fetches the recording of a pending item into destDir and
// returns the local file path.
func (c *Client) Download(ctx context.Context, item PendingItem, destDir string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+item.DownloadURL, nil)
	if err != nil {
		return "", err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return "", fmt.Errorf("download %s: http %d: %s", item.DownloadURL, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	// Local name keyed by id so concurrent queue entries never collide.
	localPath := filepath.Join(destDir, fmt.Sprintf("submission_%d.rec", item.ID))
	file, err := os.Create(localPath)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(file, resp.Body); err != nil {
		file.Close()
		os.Remove(localPath)
		return "", err
	}
	if err := file.Close(); err != nil {
		os.Remove(localPath)
		return "", err
	}
	return localPath, nil
}

type reportRunRequest struct {
	OS    string        `json:"os"`
	Score *verify.Score `json:"score,omitempty"`
	Error *string       `json:"error,omitempty"`
}

// ReportRun posts a verification outcome for a pending item.
func (c *Client) ReportRun(ctx context.Context, item PendingItem, os string, outcome *verify.Outcome) error {
	return c.do(ctx, http.MethodPost, item.RunsURL, reportRunRequest{
		OS:    os,
		Score: outcome.Score,
		Error: outcome.Error,
	}, nil)
}
