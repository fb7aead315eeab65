package evegateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"esi-knife/pkg/config"
	"esi-knife/pkg/version"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// errorMarkerPrefix prefixes every failed fetch stored in a result map.
// Callers discriminate success from failure by checking for it, which keeps
// the stored document wire-compatible with older knife files.
const errorMarkerPrefix = "Error fetching data: "

// connRetries is how many times a connection-level failure is retried
// after the initial attempt before surfacing as an error marker.
const connRetries = 3

// Request describes one ESI call.
type Request struct {
	URL    string
	Method string // GET when empty; POST only for /universe/names/
	Token  string // bearer access token, optional
	Body   any    // JSON body for POST requests
	Page   int    // when > 0, fetch that page and skip pagination discovery

	// IfNoneMatch carries an ETag for conditional requests (spec cache only).
	IfNoneMatch string
}

// Response is the outcome of one ESI call. Data holds either the decoded
// JSON body or an error marker string.
type Response struct {
	Pages []int  // page numbers 2..X-Pages, nil unless discovered
	Page  int    // echo of Request.Page
	URL   string // the request URL, without any page parameter
	Data  any
}

// IsErrorMarker reports whether a result map value is a failed-fetch marker.
func IsErrorMarker(v any) bool {
	s, ok := v.(string)
	return ok && strings.HasPrefix(s, errorMarkerPrefix)
}

// ErrorMarker builds the failure value stored in result maps.
func ErrorMarker(status int, body string) string {
	return fmt.Sprintf("%s%d %s", errorMarkerPrefix, status, body)
}

// Client is the single shared ESI HTTP client. It owns the connection pool,
// the error-limit backoff protocol and pagination discovery.
type Client struct {
	httpClient   *http.Client
	baseURL      string
	userAgent    string
	errorLimited atomic.Bool
}

// NewClient creates the shared ESI client.
func NewClient() *Client {
	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 100,
		MaxConnsPerHost:     100,
	}

	var rt http.RoundTripper = transport
	if config.GetBoolEnv("ENABLE_TELEMETRY", false) {
		rt = otelhttp.NewTransport(transport,
			otelhttp.WithSpanNameFormatter(func(operation string, r *http.Request) string {
				return fmt.Sprintf("HTTP %s %s", r.Method, r.URL.Host)
			}),
		)
	}

	return &Client{
		httpClient: &http.Client{Transport: rt},
		baseURL:    config.ESIBaseURL(),
		userAgent:  version.UserAgent(),
	}
}

// NewClientWithBase creates a client against a specific base URL, used by
// tests running against a stub server.
func NewClientWithBase(baseURL string) *Client {
	return &Client{
		httpClient: &http.Client{},
		baseURL:    strings.TrimRight(baseURL, "/"),
		userAgent:  version.UserAgent(),
	}
}

// BaseURL returns the ESI base URL this client talks to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// ErrorLimited reports whether some worker is currently sleeping out an
// ESI error-limit window. Read by the metrics shell; written only here.
func (c *Client) ErrorLimited() bool {
	return c.errorLimited.Load()
}

// Fetch performs one ESI request, waiting out error-limit windows and
// retrying connection failures. It never returns a Go error: failures come
// back as an error marker in Response.Data so harvests can continue.
func (c *Client) Fetch(ctx context.Context, req Request) Response {
	resp := Response{Page: req.Page, URL: req.URL}

	status, header, body, err := c.do(ctx, req)
	if err != nil {
		resp.Data = ErrorMarker(0, err.Error())
		return resp
	}

	if status < 200 || status > 299 {
		resp.Data = ErrorMarker(status, strings.TrimSpace(string(body)))
		return resp
	}

	var data any
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&data); err != nil {
		resp.Data = ErrorMarker(status, fmt.Sprintf("invalid JSON: %v", err))
		return resp
	}
	resp.Data = data

	if req.Page == 0 {
		if total, err := strconv.Atoi(header.Get("X-Pages")); err == nil && total >= 2 {
			pages := make([]int, 0, total-1)
			for p := 2; p <= total; p++ {
				pages = append(pages, p)
			}
			resp.Pages = pages
		}
	}

	return resp
}

// Do performs one ESI request and returns the raw status, headers and body.
// Error-limit backoff and connection retries still apply. Used by the spec
// cache, which needs the ETag headers.
func (c *Client) Do(ctx context.Context, req Request) (int, http.Header, []byte, error) {
	return c.do(ctx, req)
}

func (c *Client) do(ctx context.Context, req Request) (int, http.Header, []byte, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	url := req.URL
	if req.Page > 0 {
		sep := "?"
		if strings.Contains(url, "?") {
			sep = "&"
		}
		url = fmt.Sprintf("%s%spage=%d", url, sep, req.Page)
	}

	attempts := 0
	for {
		httpReq, err := c.newHTTPRequest(ctx, method, url, req)
		if err != nil {
			return 0, nil, nil, err
		}

		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			attempts++
			if attempts > connRetries {
				return 0, nil, nil, fmt.Errorf("request failed after %d attempts: %w", attempts, err)
			}
			continue
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return 0, nil, nil, fmt.Errorf("failed to read response: %w", err)
		}

		if resp.StatusCode == 420 {
			if err := c.waitErrorLimit(ctx, resp.Header); err != nil {
				return 0, nil, nil, err
			}
			continue
		}

		return resp.StatusCode, resp.Header, body, nil
	}
}

func (c *Client) newHTTPRequest(ctx context.Context, method, url string, req Request) (*http.Request, error) {
	var reader io.Reader
	if req.Body != nil {
		encoded, err := json.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("User-Agent", c.userAgent)
	httpReq.Header.Set("Accept", "application/json")
	if req.Body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if req.Token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+req.Token)
	}
	if req.IfNoneMatch != "" {
		httpReq.Header.Set("If-None-Match", req.IfNoneMatch)
	}
	return httpReq, nil
}

// waitErrorLimit sleeps out an ESI error-limit window. Only the calling
// worker sleeps; the rest of the pool keeps draining in-flight requests.
func (c *Client) waitErrorLimit(ctx context.Context, header http.Header) error {
	reset := 1
	if parsed, err := strconv.Atoi(header.Get("X-Esi-Error-Limit-Reset")); err == nil {
		reset = parsed
	}
	wait := time.Duration(reset+1) * time.Second

	slog.Warn("hit the ESI error limit", "wait", wait.String())

	c.errorLimited.Store(true)
	defer c.errorLimited.Store(false)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(wait):
		return nil
	}
}
