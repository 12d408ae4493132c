package session

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/pkg/errors"

	"github.com/sggenna/fluency/core"
	"github.com/sggenna/fluency/core/user"
)

type (
	// IdentityAPI is the remote collaborator the session Manager reconciles
	// the stored token against.
	IdentityAPI interface {
		Login(ctx context.Context, email, password, role string) (LoginResult, error)
		Me(ctx context.Context, token string) (user.User, error)
		UpdateMe(ctx context.Context, token string, up user.UpdateProfile) (user.User, error)
	}

	LoginResult struct {
		Token string    `json:"token"`
		User  user.User `json:"user"`
	}

	// Client talks JSON to the identity endpoint.
	Client struct {
		baseURL string
		http    *http.Client
	}

	// AuthError is a rejection the identity endpoint expressed itself
	// (bad credentials, invalid token, validation failure...) as opposed to
	// a transport failure.
	AuthError struct {
		Status  int
		Message string
	}

	userEnvelope struct {
		User user.User `json:"user"`
	}
)

var _ IdentityAPI = (*Client)(nil)

func (e *AuthError) Error() string { return e.Message }

// IsAuthError reports whether err is an identity-endpoint rejection and
// returns it if so.
func IsAuthError(err error) (*AuthError, bool) {
	var authErr *AuthError
	ok := errors.As(err, &authErr)
	return authErr, ok
}

func NewClient(conf core.ClientConfig) *Client {
	return &Client{
		baseURL: strings.TrimRight(conf.BaseURL, "/"),
		http:    &http.Client{Timeout: conf.Timeout},
	}
}

func (c *Client) Login(ctx context.Context, email, password, role string) (LoginResult, error) {
	payload := struct {
		Email    string `json:"email"`
		Password string `json:"password"`
		Role     string `json:"role,omitempty"`
	}{email, password, role}

	var res LoginResult
	if err := c.do(ctx, http.MethodPost, "/v1/auth/login", "", payload, &res); err != nil {
		return LoginResult{}, err
	}
	return res, nil
}

func (c *Client) Me(ctx context.Context, token string) (user.User, error) {
	var res userEnvelope
	if err := c.do(ctx, http.MethodGet, "/v1/auth/me", token, nil, &res); err != nil {
		return user.User{}, err
	}
	return res.User, nil
}

func (c *Client) UpdateMe(ctx context.Context, token string, up user.UpdateProfile) (user.User, error) {
	var res userEnvelope
	if err := c.do(ctx, http.MethodPatch, "/v1/auth/me", token, up, &res); err != nil {
		return user.User{}, err
	}
	return res.User, nil
}

func (c *Client) do(ctx context.Context, method, path, token string, payload, out interface{}) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return errors.Wrap(err, "marshalling request body")
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return errors.Wrap(err, "building request")
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrap(err, "calling identity endpoint")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return apiError(resp)
	}
	if out == nil {
		return nil
	}
	if err = json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrap(err, "decoding response body")
	}
	return nil
}

// apiError extracts a human-readable message from a non-2xx response.
// Bodies that fail to parse are treated as empty; the message is taken from
// "error", then "message", then "detail", else a generic "HTTP <status>".
func apiError(resp *http.Response) error {
	fields := make(map[string]interface{})
	if data, err := io.ReadAll(resp.Body); err == nil {
		_ = json.Unmarshal(data, &fields)
	}

	for _, key := range []string{"error", "message", "detail"} {
		if msg, ok := fields[key].(string); ok && msg != "" {
			return &AuthError{Status: resp.StatusCode, Message: msg}
		}
	}
	return &AuthError{Status: resp.StatusCode, Message: fmt.Sprintf("HTTP %d", resp.StatusCode)}
}
