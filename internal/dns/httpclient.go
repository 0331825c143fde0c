package dns

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// maxErrorBody caps how much of a vendor error response is kept for the
// error message.
const maxErrorBody = 4 << 10

// HTTPClient is a VendorClient over the vendor's REST API. The vendor's own
// mechanics stay behind this client; the Manager only sees pools, records
// and observed answers.
type HTTPClient struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewHTTPClient creates a vendor client against the given API base URL.
func NewHTTPClient(baseURL, token string) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		token:   token,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *HTTPClient) GetPool(ctx context.Context, name string) (*Pool, error) {
	var pool Pool
	err := c.do(ctx, http.MethodGet, "/pools/"+url.PathEscape(name), nil, &pool)
	if isNotFound(err) {
		return nil, ErrPoolNotFound
	}
	if err != nil {
		return nil, err
	}
	return &pool, nil
}

func (c *HTTPClient) UpdatePoolOrigin(ctx context.Context, poolID string, origin Origin) error {
	path := fmt.Sprintf("/pools/%s/origins/%s", url.PathEscape(poolID), url.PathEscape(origin.Name))
	return c.do(ctx, http.MethodPut, path, origin, nil)
}

func (c *HTTPClient) GetRecord(ctx context.Context, hostname string) (*Record, error) {
	var rec Record
	err := c.do(ctx, http.MethodGet, "/records/"+url.PathEscape(hostname), nil, &rec)
	if isNotFound(err) {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (c *HTTPClient) UpdateRecord(ctx context.Context, rec Record) error {
	return c.do(ctx, http.MethodPut, "/records/"+url.PathEscape(rec.Name), rec, nil)
}

func (c *HTTPClient) ResolveAnswer(ctx context.Context, hostname string) (string, error) {
	var out struct {
		Answer string `json:"answer"`
	}
	if err := c.do(ctx, http.MethodGet, "/resolve/"+url.PathEscape(hostname), nil, &out); err != nil {
		return "", err
	}
	return out.Answer, nil
}

type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("vendor api: status %d: %s", e.code, e.body)
}

func isNotFound(err error) bool {
	se, ok := err.(*statusError)
	return ok && se.code == http.StatusNotFound
}

func (c *HTTPClient) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body *bytes.Buffer
	if in != nil {
		body = &bytes.Buffer{}
		if err := json.NewEncoder(body).Encode(in); err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
	} else {
		body = bytes.NewBuffer(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var buf bytes.Buffer
		_, _ = buf.ReadFrom(io.LimitReader(resp.Body, maxErrorBody))
		return &statusError{code: resp.StatusCode, body: buf.String()}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}
