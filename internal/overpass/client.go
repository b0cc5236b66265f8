// Package overpass fetches roadway elements for tiles from an Overpass API
// endpoint, with fallback queries, retries and request pacing.
package overpass

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/wegman-software/speedtiles-go/internal/logger"
)

// DefaultEndpoint is the public Overpass interpreter
const DefaultEndpoint = "https://overpass-api.de/api/interpreter"

const userAgent = "speedtiles-go/1.0"

// StatusError is returned for a non-2xx response
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("unexpected status code: %d", e.StatusCode)
	}
	return fmt.Sprintf("unexpected status code: %d: %s", e.StatusCode, e.Body)
}

// Response is the subset of an Overpass JSON response we read
type Response struct {
	Elements []json.RawMessage `json:"elements"`
	Remark   string            `json:"remark,omitempty"`
}

// Client issues single Overpass queries. It does not retry; retry and
// fallback policy belongs to Strategy.
type Client struct {
	endpoint string
	http     *http.Client
	cache    Cache
}

// NewClient creates a client for endpoint. cache may be nil.
func NewClient(endpoint string, timeout time.Duration, cache Cache) *Client {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		endpoint: endpoint,
		http:     &http.Client{Timeout: timeout},
		cache:    cache,
	}
}

// Endpoint returns the interpreter URL
func (c *Client) Endpoint() string {
	return c.endpoint
}

// Query posts one Overpass QL query and decodes the response.
// Cached responses are returned without contacting the endpoint.
func (c *Client) Query(ctx context.Context, query string) (*Response, error) {
	log := logger.Get()
	key := CacheKey(c.endpoint, query)

	if c.cache != nil {
		data, ok, err := c.cache.Get(ctx, key)
		if err != nil {
			log.Warn("Response cache read failed", zap.Error(err))
		} else if ok {
			if resp, err := decodeResponse(data); err == nil {
				log.Debug("Using cached response", zap.String("key", key))
				return resp, nil
			}
		}
	}

	data, err := c.post(ctx, query)
	if err != nil {
		return nil, err
	}

	resp, err := decodeResponse(data)
	if err != nil {
		return nil, err
	}

	if c.cache != nil {
		if err := c.cache.Set(ctx, key, data); err != nil {
			log.Warn("Response cache write failed", zap.Error(err))
		}
	}
	return resp, nil
}

func (c *Client) post(ctx context.Context, query string) ([]byte, error) {
	form := url.Values{"data": {query}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	return data, nil
}

// decodeResponse parses a response body. A server-side runtime error is
// reported by Overpass as a 200 with a remark and is treated as a failure.
func decodeResponse(data []byte) (*Response, error) {
	var resp Response
	if err := json.Unmarshal(bytes.TrimSpace(data), &resp); err != nil {
		return nil, fmt.Errorf("malformed response: %w", err)
	}
	if strings.Contains(resp.Remark, "runtime error") {
		return nil, fmt.Errorf("server remark: %s", resp.Remark)
	}
	return &resp, nil
}
