package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// maxBodyBytes bounds how much of a backend response is buffered.
const maxBodyBytes = 10 << 20

var ErrMalformedResponse = errors.New("backend returned a malformed response")

// Envelope is the response shape shared by every backend endpoint.
type Envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
	Message string          `json:"message,omitempty"`
	Details []string        `json:"details,omitempty"`
}

// Reason picks the most descriptive failure text the backend supplied.
func (e Envelope) Reason() string {
	switch {
	case e.Error != "":
		return e.Error
	case e.Message != "":
		return e.Message
	case len(e.Details) > 0:
		return strings.Join(e.Details, "; ")
	}
	return "backend reported failure"
}

type Request struct {
	Method      string
	Path        string
	Query       url.Values
	Token       string
	Body        io.Reader
	ContentType string
}

type Response struct {
	Status   int
	Envelope Envelope
	Body     []byte
}

// OK reports a 2xx status with success set in the envelope.
func (r *Response) OK() bool {
	return r.Status >= 200 && r.Status < 300 && r.Envelope.Success
}

// Client talks to the interventoría backend API.
type Client struct {
	baseURL *url.URL
	http    *http.Client
	logger  *slog.Logger
}

func NewClient(baseURL string, timeout time.Duration, logger *slog.Logger) (*Client, error) {
	return NewClientWithHTTP(baseURL, &http.Client{Timeout: timeout}, logger)
}

func NewClientWithHTTP(baseURL string, httpClient *http.Client, logger *slog.Logger) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid backend url %q: %w", baseURL, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid backend url %q: scheme and host are required", baseURL)
	}

	return &Client{baseURL: u, http: httpClient, logger: logger}, nil
}

// Do sends the request and decodes the envelope, leaving it zero for an
// empty body. A transport failure returns
// a nil response; an undecodable body returns the response together with
// ErrMalformedResponse so callers can still inspect the status.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	target := c.baseURL.JoinPath(req.Path)
	if len(req.Query) > 0 {
		target.RawQuery = req.Query.Encode()
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target.String(), req.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to build backend request: %w", err)
	}

	httpReq.Header.Set("Accept", "application/json")
	if req.Body != nil {
		contentType := req.ContentType
		if contentType == "" {
			contentType = "application/json"
		}
		httpReq.Header.Set("Content-Type", contentType)
	}
	if req.Token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+req.Token)
	}

	start := time.Now()
	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("backend request failed: %w", err)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(httpResp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read backend response: %w", err)
	}

	c.logger.Debug("Backend request handled",
		slog.String("method", req.Method),
		slog.String("path", target.Path),
		slog.Int("status", httpResp.StatusCode),
		slog.Int64("duration_ns", time.Since(start).Nanoseconds()),
	)

	resp := &Response{Status: httpResp.StatusCode, Body: body}
	if len(body) == 0 {
		return resp, nil
	}
	if err := json.Unmarshal(body, &resp.Envelope); err != nil {
		return resp, fmt.Errorf("%w: %w", ErrMalformedResponse, err)
	}
	return resp, nil
}
