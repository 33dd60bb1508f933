// Package api implements the catalog client against servers speaking the
// Subsonic REST protocol.
package api

import (
	"context"
	"crypto/md5"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/offtrack/offtrack-core/internal/catalog"
	apperrors "github.com/offtrack/offtrack-core/internal/errors"
	"github.com/offtrack/offtrack-core/internal/network"
)

const (
	protocolVersion   = "1.16.1"
	defaultClientName = "offtrack"

	errCodeWrongCredentials = 40
	errCodeTokenAuth        = 41
	errCodeNotAuthorized    = 50
	errCodeNotFound         = 70
)

// Options configures clients built by NewFactory
type Options struct {
	Timeout time.Duration
	// RequestsPerSecond caps catalog calls; 0 means 10
	RequestsPerSecond float64
	ClientName        string
	HTTPClient        *http.Client
}

// Client talks to one server. It is safe for concurrent use.
type Client struct {
	httpClient  *http.Client
	server      catalog.ServerContext
	baseURL     string
	clientName  string
	rateLimiter *rate.Limiter
}

var _ catalog.Client = (*Client)(nil)

// NewClient creates a client for server
func NewClient(server catalog.ServerContext, opts Options) (*Client, error) {
	base := strings.TrimRight(server.URL, "/")
	u, err := url.Parse(base)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, apperrors.NewValidationError("invalid server url: " + server.URL)
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		config := network.DefaultClientConfig()
		if opts.Timeout > 0 {
			config.Timeout = opts.Timeout
		}
		httpClient = network.NewClient(config)
	}

	rps := opts.RequestsPerSecond
	if rps <= 0 {
		rps = 10
	}
	name := opts.ClientName
	if name == "" {
		name = defaultClientName
	}

	return &Client{
		httpClient:  httpClient,
		server:      server,
		baseURL:     base,
		clientName:  name,
		rateLimiter: rate.NewLimiter(rate.Limit(rps), max(1, int(rps))),
	}, nil
}

// NewFactory returns a catalog.Factory building Clients with opts
func NewFactory(opts Options) catalog.Factory {
	return func(server catalog.ServerContext) (catalog.Client, error) {
		return NewClient(server, opts)
	}
}

// authParams returns the salted-token credentials for one request
func (c *Client) authParams() url.Values {
	params := url.Values{}
	params.Set("v", protocolVersion)
	params.Set("c", c.clientName)
	params.Set("f", "json")
	if c.server.Username != "" {
		salt := newSalt()
		sum := md5.Sum([]byte(c.server.Password + salt))
		params.Set("u", c.server.Username)
		params.Set("t", hex.EncodeToString(sum[:]))
		params.Set("s", salt)
	}
	return params
}

func newSalt() string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("%x", time.Now().UnixNano())
	}
	return hex.EncodeToString(b)
}

// SignURL adds credentials to a URL on this server, such as an expanded
// stream or cover art template
func (c *Client) SignURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", apperrors.NewValidationError("invalid url: " + raw)
	}
	q := u.Query()
	for k, v := range c.authParams() {
		if k == "f" {
			continue
		}
		q[k] = v
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// call performs method and decodes the named field of the response into out
func (c *Client) call(ctx context.Context, method string, params url.Values, field string, out interface{}) error {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter error: %w", err)
	}

	q := c.authParams()
	for k, v := range params {
		q[k] = v
	}
	endpoint := fmt.Sprintf("%s/rest/%s.view?%s", c.baseURL, method, q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return apperrors.NewCancelledError(method + " cancelled")
		}
		return apperrors.NewNetworkError(method+" request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return apperrors.NewRemoteError("authentication required", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return apperrors.NewRemoteError(fmt.Sprintf("%s failed with status: %d", method, resp.StatusCode), resp.StatusCode)
	}

	var envelope struct {
		Response map[string]json.RawMessage `json:"subsonic-response"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return apperrors.NewRemoteError(fmt.Sprintf("failed to decode %s response: %v", method, err), resp.StatusCode)
	}
	if envelope.Response == nil {
		return apperrors.NewRemoteError(method+" returned no response", resp.StatusCode)
	}

	var status string
	json.Unmarshal(envelope.Response["status"], &status)
	if status != "ok" {
		var e apiError
		if raw, ok := envelope.Response["error"]; ok {
			json.Unmarshal(raw, &e)
		}
		return toAppError(method, e)
	}

	if out == nil || field == "" {
		return nil
	}
	raw, ok := envelope.Response[field]
	if !ok {
		// empty listings omit the field entirely
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return apperrors.NewRemoteError(fmt.Sprintf("failed to decode %s: %v", field, err), resp.StatusCode)
	}
	return nil
}

func toAppError(method string, e apiError) error {
	msg := fmt.Sprintf("%s: %s (code %d)", method, e.Message, e.Code)
	switch e.Code {
	case errCodeNotFound:
		return apperrors.NewNotFoundError(msg)
	case errCodeWrongCredentials, errCodeTokenAuth, errCodeNotAuthorized:
		return apperrors.NewRemoteError(msg, http.StatusUnauthorized)
	default:
		return apperrors.NewRemoteError(msg, 0)
	}
}
