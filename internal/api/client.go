// Package api is the HTTP transport for the remote reservation service.
// It attaches credentials via a per-origin cookie jar, normalizes non-2xx
// responses into a typed error and distinguishes empty bodies from parsed
// payloads.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// MarkerCookie is the name of the server-issued credential cookie. Its value
// is opaque to this client; only presence is ever checked.
const MarkerCookie = "access_token"

// Error is a normalized transport failure: network errors, non-2xx responses
// and malformed success bodies all surface as *Error.
type Error struct {
	Message string              `json:"message"`
	Status  int                 `json:"-"`
	Fields  map[string][]string `json:"errors,omitempty"`

	cause error
}

func (e *Error) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("api: %s (status %d)", e.Message, e.Status)
	}
	return fmt.Sprintf("api: %s", e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// Config holds client configuration.
type Config struct {
	BaseURL string
	Timeout time.Duration

	// CacheResponses enables an in-memory RFC 7234 cache beneath the client,
	// so GETs honor server Cache-Control headers.
	CacheResponses bool

	Logger zerolog.Logger
}

// Client issues requests against the remote API. The cookie jar carries the
// server-issued credential marker on every request to the same origin, so no
// explicit header construction is needed.
type Client struct {
	base *url.URL
	http *http.Client
	jar  http.CookieJar
	log  zerolog.Logger
}

// New creates a client for the given configuration.
func New(cfg Config) (*Client, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse base URL: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("base URL must be absolute: %q", cfg.BaseURL)
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	httpClient := &http.Client{
		Timeout: timeout,
		Jar:     jar,
	}
	if cfg.CacheResponses {
		httpClient.Transport = cachingRoundTripper()
	}

	return &Client{
		base: base,
		http: httpClient,
		jar:  jar,
		log:  cfg.Logger,
	}, nil
}

// Get issues a GET request for path with the given query parameters, decoding
// a JSON response body into out when one is present.
func (c *Client) Get(ctx context.Context, path string, query url.Values, out any) error {
	return c.do(ctx, http.MethodGet, path, query, nil, out)
}

// Post issues a POST request for path with a JSON-encoded body, decoding a
// JSON response body into out when one is present.
func (c *Client) Post(ctx context.Context, path string, body, out any) error {
	return c.do(ctx, http.MethodPost, path, nil, body, out)
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	u := *c.base
	u.Path = strings.TrimRight(u.Path, "/") + path
	if query != nil {
		u.RawQuery = query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Warn().Err(err).Str("method", method).Str("path", path).Msg("request failed")
		return &Error{Message: "Network error occurred while making the request", cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return c.decodeError(resp)
	}

	// Empty or non-JSON success bodies leave out untouched.
	if out == nil || resp.StatusCode == http.StatusNoContent || !isJSON(resp.Header.Get("Content-Type")) {
		io.Copy(io.Discard, resp.Body) //nolint:errcheck
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &Error{Message: "Malformed response body", Status: resp.StatusCode, cause: err}
	}

	c.log.Debug().Str("method", method).Str("path", path).Int("status", resp.StatusCode).Msg("api response")
	return nil
}

// decodeError normalizes a non-2xx response into *Error. Bodies that do not
// parse fall back to a generic message.
func (c *Client) decodeError(resp *http.Response) error {
	apiErr := &Error{Status: resp.StatusCode}

	if err := json.NewDecoder(resp.Body).Decode(apiErr); err != nil || apiErr.Message == "" {
		apiErr.Message = "An error occurred"
	}

	c.log.Warn().
		Int("status", resp.StatusCode).
		Str("message", apiErr.Message).
		Msg("api error")

	return apiErr
}

// Marker returns the credential marker cookie currently held in the jar for
// the API origin, or nil when the server has not issued one.
func (c *Client) Marker() *http.Cookie {
	for _, cookie := range c.jar.Cookies(c.base) {
		if cookie.Name == MarkerCookie && cookie.Value != "" {
			return cookie
		}
	}
	return nil
}

func isJSON(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mediaType == "application/json" || strings.HasSuffix(mediaType, "+json")
}
