// Package authapi is the typed client for the identity backend's HTTP
// surface. Exact payload ownership stays with the backend; this package
// pins the shapes the session core depends on.
package authapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/0Ankit0/identitykit/gateway"
	interrors "github.com/0Ankit0/identitykit/internal/errors"
	"github.com/0Ankit0/identitykit/notifications"
	"github.com/0Ankit0/identitykit/token"
)

// maxResponseSize bounds response bodies read into memory.
const maxResponseSize = 1 << 20

// Doer executes a prepared request. The gateway satisfies it for
// authenticated traffic.
type Doer interface {
	Execute(ctx context.Context, req *http.Request) (*http.Response, error)
}

// DoerFunc adapts a function to the Doer interface.
type DoerFunc func(ctx context.Context, req *http.Request) (*http.Response, error)

// Execute implements Doer.
func (f DoerFunc) Execute(ctx context.Context, req *http.Request) (*http.Response, error) {
	return f(ctx, req)
}

// RawDoer adapts a bare Transport to the Doer interface. The refresh
// exchange must go through this instead of the gateway: a 401 on the
// exchange has to surface, not recurse into another refresh.
func RawDoer(t gateway.Transport) Doer {
	return rawDoer{t: t}
}

type rawDoer struct {
	t gateway.Transport
}

func (d rawDoer) Execute(ctx context.Context, req *http.Request) (*http.Response, error) {
	resp, err := d.t.SendRaw(req.WithContext(ctx))
	if err != nil {
		return nil, errors.Wrapf(interrors.ErrNetwork, "[authapi] %s %s: %v", req.Method, req.URL.Path, err)
	}
	return resp, nil
}

// Client calls the identity backend.
type Client struct {
	baseURL string
	doer    Doer // gateway-wrapped; attaches credentials and retries once on 401
	raw     Doer // bare transport; used for the refresh exchange only
	nowTime func() time.Time
}

// ClientOption modifies a Client at construction time.
type ClientOption func(*Client)

// WithNowTime sets the now time function (primarily for testing)
func WithNowTime(nowFunc func() time.Time) ClientOption {
	return func(c *Client) { c.nowTime = nowFunc }
}

// NewClient creates a Client. doer carries normal traffic; raw carries the
// refresh exchange and may equal doer only in tests without a gateway.
func NewClient(baseURL string, doer, raw Doer, options ...ClientOption) (*Client, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, errors.New("[authapi.NewClient] baseURL is required")
	}
	if doer == nil {
		return nil, errors.New("[authapi.NewClient] doer is required")
	}
	if raw == nil {
		return nil, errors.New("[authapi.NewClient] raw doer is required")
	}
	c := &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		doer:    doer,
		raw:     raw,
		nowTime: time.Now,
	}
	for _, opt := range options {
		opt(c)
	}
	return c, nil
}

// Login submits credentials. The result is either a credential grant or a
// second-factor challenge.
func (c *Client) Login(ctx context.Context, username, password string) (*LoginResult, error) {
	var out authResponse
	status, detail, err := c.postJSON(ctx, c.doer, "/auth/login", loginRequest{Username: username, Password: password}, &out)
	if err != nil {
		return nil, errors.Wrap(err, "[Client.Login]")
	}
	switch status {
	case http.StatusOK:
		return c.loginResult(out)
	case http.StatusUnauthorized, http.StatusBadRequest:
		return nil, InvalidCredentialsErr
	default:
		return nil, statusError("[Client.Login]", status, detail)
	}
}

// Signup registers a new account. The response shape matches login: a 2FA
// policy on the tenant can land a fresh account in a challenge.
func (c *Client) Signup(ctx context.Context, req SignupRequest) (*LoginResult, error) {
	var out authResponse
	status, detail, err := c.postJSON(ctx, c.doer, "/auth/signup", req, &out)
	if err != nil {
		return nil, errors.Wrap(err, "[Client.Signup]")
	}
	switch status {
	case http.StatusOK, http.StatusCreated:
		return c.loginResult(out)
	case http.StatusConflict:
		return nil, UserExistsErr
	default:
		return nil, statusError("[Client.Signup]", status, detail)
	}
}

// ValidateOTP trades a challenge ticket plus the user's code for a full
// credential pair. A wrong code is recoverable (the ticket stays usable);
// an expired or consumed ticket is terminal for that ticket.
func (c *Client) ValidateOTP(ctx context.Context, otpCode, tempToken string) (*token.Pair, error) {
	var out authResponse
	status, detail, err := c.postJSON(ctx, c.doer, "/auth/otp/validate", otpRequest{OTPCode: otpCode, TempToken: tempToken}, &out)
	if err != nil {
		return nil, errors.Wrap(err, "[Client.ValidateOTP]")
	}
	switch status {
	case http.StatusOK:
		pair := c.pairFrom(out)
		if !pair.Valid() {
			return nil, errors.Wrap(UnexpectedStatusErr, "[Client.ValidateOTP] partial grant")
		}
		return pair, nil
	case http.StatusBadRequest:
		return nil, interrors.ErrChallengeRejected
	case http.StatusUnauthorized, http.StatusGone:
		return nil, interrors.ErrChallengeExpired
	default:
		return nil, statusError("[Client.ValidateOTP]", status, detail)
	}
}

// ExchangeRefreshToken trades the refresh credential for a fresh pair. Runs
// over the raw transport; the refresh coordinator owns all failure policy.
func (c *Client) ExchangeRefreshToken(ctx context.Context, refreshToken string) (*token.Pair, error) {
	var out authResponse
	status, detail, err := c.postJSON(ctx, c.raw, "/auth/refresh", refreshRequest{RefreshToken: refreshToken}, &out)
	if err != nil {
		return nil, errors.Wrap(err, "[Client.ExchangeRefreshToken]")
	}
	if status != http.StatusOK {
		return nil, statusError("[Client.ExchangeRefreshToken]", status, detail)
	}
	pair := c.pairFrom(out)
	if pair.AccessToken == "" {
		return nil, errors.Wrap(UnexpectedStatusErr, "[Client.ExchangeRefreshToken] no access credential in response")
	}
	return pair, nil
}

// Logout tells the server to drop the session. Best-effort: callers clear
// local state regardless of the outcome.
func (c *Client) Logout(ctx context.Context) error {
	status, detail, err := c.postJSON(ctx, c.doer, "/auth/logout", struct{}{}, nil)
	if err != nil {
		return errors.Wrap(err, "[Client.Logout]")
	}
	if status >= http.StatusBadRequest {
		return statusError("[Client.Logout]", status, detail)
	}
	return nil
}

// Me fetches the current profile. Used for silent restore and post-auth
// population.
func (c *Client) Me(ctx context.Context) (*Profile, error) {
	var out Profile
	status, detail, err := c.getJSON(ctx, "/users/me", &out)
	if err != nil {
		return nil, errors.Wrap(err, "[Client.Me]")
	}
	switch status {
	case http.StatusOK:
		return &out, nil
	case http.StatusUnauthorized:
		return nil, interrors.ErrAuthorizationExpired
	default:
		return nil, statusError("[Client.Me]", status, detail)
	}
}

// RequestPasswordReset asks the server to start a password reset for the
// given email. Always best-effort; the server reveals nothing about whether
// the account exists.
func (c *Client) RequestPasswordReset(ctx context.Context, email string) error {
	status, detail, err := c.postJSON(ctx, c.doer, "/auth/password-reset", passwordResetRequest{Email: email}, nil)
	if err != nil {
		return errors.Wrap(err, "[Client.RequestPasswordReset]")
	}
	if status >= http.StatusBadRequest {
		return statusError("[Client.RequestPasswordReset]", status, detail)
	}
	return nil
}

// ListNotifications fetches the server's notification list for cache
// seeding after connect.
func (c *Client) ListNotifications(ctx context.Context) ([]notifications.Notification, error) {
	var out []notifications.Notification
	status, detail, err := c.getJSON(ctx, "/notifications", &out)
	if err != nil {
		return nil, errors.Wrap(err, "[Client.ListNotifications]")
	}
	if status != http.StatusOK {
		return nil, statusError("[Client.ListNotifications]", status, detail)
	}
	return out, nil
}

// MarkNotificationsRead flags the given notifications as read server-side.
func (c *Client) MarkNotificationsRead(ctx context.Context, ids []string) error {
	body := struct {
		IDs []string `json:"ids"`
	}{IDs: ids}
	status, detail, err := c.postJSON(ctx, c.doer, "/notifications/read", body, nil)
	if err != nil {
		return errors.Wrap(err, "[Client.MarkNotificationsRead]")
	}
	if status >= http.StatusBadRequest {
		return statusError("[Client.MarkNotificationsRead]", status, detail)
	}
	return nil
}

// MarkAllNotificationsRead flags every notification as read server-side.
func (c *Client) MarkAllNotificationsRead(ctx context.Context) error {
	status, detail, err := c.postJSON(ctx, c.doer, "/notifications/read-all", struct{}{}, nil)
	if err != nil {
		return errors.Wrap(err, "[Client.MarkAllNotificationsRead]")
	}
	if status >= http.StatusBadRequest {
		return statusError("[Client.MarkAllNotificationsRead]", status, detail)
	}
	return nil
}

func (c *Client) loginResult(out authResponse) (*LoginResult, error) {
	if out.RequiresOTP {
		if out.TempToken == "" {
			return nil, errors.Wrap(UnexpectedStatusErr, "[Client] challenge without temp token")
		}
		return &LoginResult{Challenge: &Challenge{TempToken: out.TempToken, IssuedAt: c.nowTime()}}, nil
	}
	pair := c.pairFrom(out)
	if !pair.Valid() {
		return nil, errors.Wrap(UnexpectedStatusErr, "[Client] partial credential grant")
	}
	return &LoginResult{Grant: pair}, nil
}

func (c *Client) pairFrom(out authResponse) *token.Pair {
	pair := &token.Pair{
		AccessToken:  out.Access,
		RefreshToken: out.Refresh,
		TokenType:    out.TokenType,
	}
	if out.ExpiresIn > 0 {
		pair.AccessExpiry = c.nowTime().Add(time.Duration(out.ExpiresIn) * time.Second)
	}
	return pair
}

func (c *Client) postJSON(ctx context.Context, doer Doer, path string, body, out interface{}) (int, string, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return 0, "", errors.Wrap(err, "marshal request")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return 0, "", errors.Wrap(err, "create request")
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(ctx, doer, req, out)
}

func (c *Client) getJSON(ctx context.Context, path string, out interface{}) (int, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return 0, "", errors.Wrap(err, "create request")
	}
	return c.do(ctx, c.doer, req, out)
}

// do executes the request and decodes the body: into out on success, into
// the backend's error shape otherwise, returning its detail message.
func (c *Client) do(ctx context.Context, doer Doer, req *http.Request, out interface{}) (int, string, error) {
	resp, err := doer.Execute(ctx, req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return resp.StatusCode, "", errors.Wrap(err, "read response")
	}
	if resp.StatusCode >= http.StatusBadRequest {
		var e errorResponse
		if len(data) > 0 && json.Unmarshal(data, &e) == nil {
			return resp.StatusCode, e.Detail, nil
		}
		return resp.StatusCode, "", nil
	}
	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return resp.StatusCode, "", errors.Wrap(err, "parse response")
		}
	}
	return resp.StatusCode, "", nil
}

// statusError reports an unexpected backend status, carrying the backend's
// detail message when one was sent.
func statusError(op string, status int, detail string) error {
	if detail == "" {
		return errors.Wrapf(UnexpectedStatusErr, "%s status %d", op, status)
	}
	return errors.Wrapf(UnexpectedStatusErr, "%s status %d: %s", op, status, detail)
}
