package pushover

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
)

// Paths relative to Config.APIBaseURL.
const (
	loginPath       = "users/login.json"
	devicesPath     = "devices.json"
	messagesPath    = "messages.json"
	ackPathTemplate = "devices/%s/update_highest_message.json"
)

// maxResponseBytes caps how much of a response body is read.
const maxResponseBytes = 4 << 20

// apiClient performs request/response calls against the service's HTTP API.
// It never retries; retry policy belongs to callers.
type apiClient struct {
	baseURL string
	http    *http.Client
}

func newAPIClient(baseURL string, httpClient *http.Client) *apiClient {
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	return &apiClient{baseURL: baseURL, http: httpClient}
}

func (c *apiClient) endpoint(path string) string {
	return c.baseURL + path
}

// post sends fields form-encoded and returns the decoded JSON body.
func (c *apiClient) post(ctx context.Context, op, endpoint string, fields url.Values) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(fields.Encode()))
	if err != nil {
		return nil, newFailure(ErrNetwork, op, "build request", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.do(op, req)
}

// get sends fields query-encoded and returns the decoded JSON body.
func (c *apiClient) get(ctx context.Context, op, endpoint string, fields url.Values) (json.RawMessage, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, newFailure(ErrNetwork, op, "parse URL", err)
	}
	u.RawQuery = fields.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, newFailure(ErrNetwork, op, "build request", err)
	}
	return c.do(op, req)
}

func (c *apiClient) do(op string, req *http.Request) (json.RawMessage, error) {
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		// *url.Error repeats the full URL, query secret included.
		var uerr *url.Error
		if errors.As(err, &uerr) {
			err = uerr.Err
		}
		return nil, newFailure(ErrNetwork, op, fmt.Sprintf("%s %s", req.Method, redact(req.URL)), err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, newFailure(ErrNetwork, op, "read response", err)
	}
	body := json.RawMessage(bytes.TrimSpace(data))
	isJSON := json.Valid(body) && len(body) > 0

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		f := newFailure(ErrService, op, resp.Status, nil)
		if isJSON {
			f.Body = body
		}
		return nil, f
	}

	if !isJSON {
		return nil, newFailure(ErrDecode, op, "response is not JSON", nil)
	}

	// The service reports some rejections with a 2xx and status 0.
	var status struct {
		Status *int `json:"status"`
	}
	if err := json.Unmarshal(body, &status); err == nil && status.Status != nil && *status.Status != 1 {
		f := newFailure(ErrService, op, fmt.Sprintf("status %d", *status.Status), nil)
		f.Body = body
		return nil, f
	}

	return body, nil
}

// redact strips the query string, which carries the session secret on GETs.
func redact(u *url.URL) string {
	cp := *u
	cp.RawQuery = ""
	return cp.String()
}

// decodeResponse unmarshals a successful body into v, mapping errors to ErrDecode.
func decodeResponse(op string, body json.RawMessage, v any) error {
	if err := json.Unmarshal(body, v); err != nil {
		return newFailure(ErrDecode, op, "decode response", err)
	}
	return nil
}
