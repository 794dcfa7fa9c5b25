package client

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

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

const (
	DefaultBaseURL = "http://localhost:8000/api"
	DefaultTimeout = 30 * time.Second
)

// Client talks to the conversation service.
//
// Plain request/response calls go through an http.Client with a timeout.
// The streaming send uses a separate client without one: a reply may take
// as long as the model needs, and is bounded only by the caller's context.
type Client struct {
	baseURL      *url.URL
	urlOptions   BaseURLOptions
	httpClient   *http.Client
	streamClient *http.Client
	timeout      time.Duration
	limiter      *rate.Limiter
}

type Option func(*Client)

func WithBaseURLOptions(opts BaseURLOptions) Option {
	return func(c *Client) {
		c.urlOptions = opts
	}
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
	}
}

// WithRateLimit throttles outgoing requests to rps per second. A zero or
// negative rps leaves requests unthrottled.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithHTTPClient replaces the client used for non-streaming calls.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		c.httpClient = h
	}
}

// WithStreamingHTTPClient replaces the client used for SendMessage. It should
// not have an overall timeout.
func WithStreamingHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		c.streamClient = h
	}
}

func New(baseURL string, options ...Option) (*Client, error) {
	ret := &Client{
		urlOptions: BaseURLOptions{AllowHTTP: true, AllowLocalNetworks: true},
		timeout:    DefaultTimeout,
	}
	for _, option := range options {
		option(ret)
	}

	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	u, err := ParseBaseURL(baseURL, ret.urlOptions)
	if err != nil {
		return nil, err
	}
	ret.baseURL = u

	if ret.httpClient == nil {
		ret.httpClient = &http.Client{Timeout: ret.timeout}
	}
	if ret.streamClient == nil {
		ret.streamClient = &http.Client{}
	}
	return ret, nil
}

func (c *Client) BaseURL() string {
	return c.baseURL.String()
}

// HTTPError is returned for any non-2xx response.
type HTTPError struct {
	Method     string
	URL        string
	StatusCode int
	Body       []byte
	// Detail is the service's own error message, when it sent one.
	Detail string
}

func (e *HTTPError) Error() string {
	msg := e.Detail
	if msg == "" {
		msg = strings.TrimSpace(string(e.Body))
	}
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	return fmt.Sprintf("%s %s: %d: %s", e.Method, e.URL, e.StatusCode, msg)
}

// IsNotFound reports whether err is an HTTPError with status 404.
func IsNotFound(err error) bool {
	var httpErr *HTTPError
	return errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusNotFound
}

const maxErrorBody = 64 << 10

func newHTTPError(req *http.Request, resp *http.Response) *HTTPError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	ret := &HTTPError{
		Method:     req.Method,
		URL:        req.URL.String(),
		StatusCode: resp.StatusCode,
		Body:       body,
	}

	var detail struct {
		Detail json.RawMessage `json:"detail"`
	}
	if json.Unmarshal(body, &detail) == nil && len(detail.Detail) > 0 {
		var s string
		if json.Unmarshal(detail.Detail, &s) == nil {
			ret.Detail = s
		} else {
			ret.Detail = string(detail.Detail)
		}
	}
	return ret
}

func (c *Client) endpoint(query url.Values, segments ...string) string {
	u := *c.baseURL
	escaped := make([]string, len(segments))
	for i, s := range segments {
		escaped[i] = url.PathEscape(s)
	}
	u.Path = c.baseURL.Path + "/" + strings.Join(segments, "/")
	u.RawPath = c.baseURL.Path + "/" + strings.Join(escaped, "/")
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

// wait blocks until the limiter admits another request or ctx is done.
func (c *Client) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return errors.Wrap(err, "rate limit")
	}
	return nil
}

// do sends a JSON request and decodes a JSON response into out, if non-nil.
func (c *Client) do(ctx context.Context, method string, target string, in interface{}, out interface{}) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return errors.Wrap(err, "could not encode request body")
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return errors.Wrap(err, "could not create request")
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if err := c.wait(ctx); err != nil {
		return err
	}
	log.Debug().Str("method", method).Str("url", target).Msg("sending request")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrapf(err, "%s %s", method, target)
	}
	defer func(Body io.ReadCloser) {
		_ = Body.Close()
	}(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return newHTTPError(req, resp)
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrapf(err, "could not decode response of %s %s", method, target)
	}
	return nil
}
