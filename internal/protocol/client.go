package protocol

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Client sends a request to the background process and decodes its
// response into out.
type Client interface {
	Call(ctx context.Context, req Request, out any) error
}

// Dispatcher is what a Local client talks to.
type Dispatcher interface {
	Dispatch(ctx context.Context, req Request) (*Future, bool)
}

// Local calls a router in the same process. Responses are round-tripped
// through JSON so callers see exactly what a remote context would.
type Local struct {
	router Dispatcher
}

// NewLocal creates an in-process client.
func NewLocal(router Dispatcher) *Local {
	return &Local{router: router}
}

func (l *Local) Call(ctx context.Context, req Request, out any) error {
	f, ok := l.router.Dispatch(ctx, req)
	if !ok {
		return ErrNoResponse
	}
	resp, err := f.Await(ctx)
	if err != nil {
		return err
	}
	return roundTrip(resp, out)
}

func roundTrip(resp, out any) error {
	if out == nil {
		return nil
	}
	data, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("encode response: %w", err)
	}
	return json.Unmarshal(data, out)
}

// HTTPError is a non-2xx answer of the HTTP transport.
type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Message)
}

// HTTPClient calls the router over POST /api/v1/messages.
type HTTPClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewHTTPClient creates an HTTP transport client.
func NewHTTPClient(baseURL, token string, httpClient *http.Client) *HTTPClient {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = "http://127.0.0.1:8787"
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPClient{
		baseURL:    baseURL,
		token:      strings.TrimSpace(token),
		httpClient: httpClient,
	}
}

func (c *HTTPClient) Call(ctx context.Context, req Request, out any) error {
	body, err := json.Marshal(req)
	if err != nil {
		return err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/messages", bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	switch {
	case resp.StatusCode == http.StatusNoContent:
		return ErrNoResponse
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		var errPayload struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(payload, &errPayload)
		if errPayload.Error == "" {
			errPayload.Error = strings.TrimSpace(string(payload))
		}
		return &HTTPError{StatusCode: resp.StatusCode, Message: errPayload.Error}
	}

	if out == nil || len(payload) == 0 {
		return nil
	}
	return json.Unmarshal(payload, out)
}

var (
	_ Client = (*Local)(nil)
	_ Client = (*HTTPClient)(nil)
)
