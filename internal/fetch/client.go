package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/edgecheck/edgecheck/internal/logging"
)

const (
	AcceptJSON = "application/json, text/plain, */*"
	AcceptText = "text/plain, */*"

	defaultUserAgent = "edgecheck/0.1.0"
)

// HTTPError is returned when the upstream answered with a non-2xx status.
type HTTPError struct {
	URL    string
	Status int
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("GET %s: unexpected status %d", e.URL, e.Status)
}

// NetworkError wraps transport level failures (DNS, TLS, refused, reset, cancelled).
type NetworkError struct {
	URL string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("GET %s: %v", e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// Dependencies allow test overrides for the HTTP client and logging.
type Dependencies struct {
	HTTPClient *http.Client
	Logger     logrus.FieldLogger
	UserAgent  string
	// Timeout bounds each request. Zero leaves the transport defaults in place.
	Timeout time.Duration
}

// Client issues unauthenticated, uncached GET requests.
type Client struct {
	httpClient *http.Client
	logger     logrus.FieldLogger
	userAgent  string
	timeout    time.Duration
}

// Response is a fully drained upstream response.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

func (r *Response) OK() bool {
	return r.Status >= 200 && r.Status < 300
}

func NewClient(deps Dependencies) *Client {
	httpClient := deps.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				ForceAttemptHTTP2:   true,
				MaxIdleConnsPerHost: 4,
			},
		}
	}
	logger := deps.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	userAgent := deps.UserAgent
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	return &Client{
		httpClient: httpClient,
		logger:     logger,
		userAgent:  userAgent,
		timeout:    deps.Timeout,
	}
}

// Get performs the request and drains the body. Non-2xx statuses are returned
// as a Response, not an error; callers decide how to classify them.
func (c *Client) Get(ctx context.Context, url, accept string) (*Response, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &NetworkError{URL: url, Err: fmt.Errorf("build request: %w", err)}
	}
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	req.Header.Set("Cache-Control", "no-cache, no-store")
	req.Header.Set("Pragma", "no-cache")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.WithError(err).WithField("url", url).Debug("request failed")
		return nil, &NetworkError{URL: url, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &NetworkError{URL: url, Err: fmt.Errorf("read body: %w", err)}
	}
	c.logger.WithFields(logrus.Fields{"url": url, "status": resp.StatusCode, "bytes": len(body)}).Debug("request complete")

	return &Response{
		Status: resp.StatusCode,
		Header: resp.Header.Clone(),
		Body:   body,
	}, nil
}

// GetOK is Get with non-2xx statuses converted into *HTTPError.
func (c *Client) GetOK(ctx context.Context, url, accept string) (*Response, error) {
	resp, err := c.Get(ctx, url, accept)
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		return resp, &HTTPError{URL: url, Status: resp.Status}
	}
	return resp, nil
}

// StatusOf returns the HTTP status carried by err, or 0.
func StatusOf(err error) int {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Status
	}
	return 0
}

// IsNetwork reports whether err is a transport failure.
func IsNetwork(err error) bool {
	var netErr *NetworkError
	return errors.As(err, &netErr)
}
