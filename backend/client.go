// Package backend is the HTTP client for the LearnBox auth API.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jrsteele09/learnbox-auth/internal/errors"
	"github.com/jrsteele09/learnbox-auth/tenants"
	"github.com/jrsteele09/learnbox-auth/token"
	"github.com/jrsteele09/learnbox-auth/users"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const maxBodyBytes = 1 << 20

// Client talks to the backend under a base URL such as
// http://localhost:8000/api/auth.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     zerolog.Logger
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.httpClient = c
	}
}

// WithTimeout sets the request timeout on a copy of the current HTTP client,
// leaving a client passed to WithHTTPClient untouched.
func WithTimeout(d time.Duration) Option {
	return func(cl *Client) {
		hc := *cl.httpClient
		hc.Timeout = d
		cl.httpClient = &hc
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(cl *Client) {
		cl.logger = logger
	}
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: 15 * time.Second},
		logger:     log.Logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Login exchanges an assertion for a token pair and profile.
func (c *Client) Login(ctx context.Context, req LoginRequest) (*AuthResponse, error) {
	var resp AuthResponse
	if err := c.do(ctx, http.MethodPost, "/login/", "", req, &resp); err != nil {
		return nil, errors.Wrapf(err, "[backend.Login]")
	}
	if err := validateAuth(&resp); err != nil {
		return nil, errors.Wrapf(err, "[backend.Login]")
	}
	return &resp, nil
}

func (c *Client) Register(ctx context.Context, req RegisterRequest) (*AuthResponse, error) {
	var resp AuthResponse
	if err := c.do(ctx, http.MethodPost, "/register/", "", req, &resp); err != nil {
		return nil, errors.Wrapf(err, "[backend.Register]")
	}
	if err := validateAuth(&resp); err != nil {
		return nil, errors.Wrapf(err, "[backend.Register]")
	}
	return &resp, nil
}

// Refresh mints a new access token. The returned pair keeps the old refresh
// token when the backend does not rotate it.
func (c *Client) Refresh(ctx context.Context, current token.Pair) (token.Pair, error) {
	var next token.Pair
	if err := c.do(ctx, http.MethodPost, "/token/refresh/", "", refreshRequest{Refresh: current.Refresh}, &next); err != nil {
		return token.Pair{}, errors.Wrapf(err, "[backend.Refresh]")
	}
	if next.Access == "" {
		return token.Pair{}, fmt.Errorf("[backend.Refresh] response has no access token")
	}
	return current.Rotate(next), nil
}

// Me fetches the profile the access token belongs to.
func (c *Client) Me(ctx context.Context, access string) (*users.Profile, error) {
	var profile users.Profile
	if err := c.do(ctx, http.MethodGet, "/me/", access, nil, &profile); err != nil {
		return nil, errors.Wrapf(err, "[backend.Me]")
	}
	return &profile, nil
}

// List returns the college directory.
func (c *Client) List(ctx context.Context) ([]*tenants.Tenant, error) {
	var list []*tenants.Tenant
	if err := c.do(ctx, http.MethodGet, "/colleges/", "", nil, &list); err != nil {
		return nil, errors.Wrapf(err, "[backend.List]")
	}
	return list, nil
}

func (c *Client) Get(ctx context.Context, id int64) (*tenants.Tenant, error) {
	var t tenants.Tenant
	err := c.do(ctx, http.MethodGet, "/colleges/"+strconv.FormatInt(id, 10)+"/", "", nil, &t)
	var apiErr *Error
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
		return nil, errors.ErrTenantNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "[backend.Get]")
	}
	return &t, nil
}

func (c *Client) do(ctx context.Context, method, path, bearer string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	c.logger.Debug().Str("method", method).Str("path", path).Int("status", resp.StatusCode).Dur("elapsed", time.Since(start)).Msg("backend request")

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &Error{Status: resp.StatusCode}
		if jerr := json.Unmarshal(data, apiErr); jerr != nil || (apiErr.Message == "" && apiErr.Detail == "") {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func validateAuth(resp *AuthResponse) error {
	if !resp.Tokens.Complete() {
		return fmt.Errorf("response has an incomplete token pair")
	}
	if err := resp.User.Validate(); err != nil {
		return fmt.Errorf("response has an invalid profile: %w", err)
	}
	return nil
}

// IsRejected reports whether err is a backend response rather than a
// transport failure.
func IsRejected(err error) bool {
	var apiErr *Error
	return errors.As(err, &apiErr)
}
