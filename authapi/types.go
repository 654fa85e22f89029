package authapi

import (
	"time"

	"github.com/0Ankit0/identitykit/tenants"
	"github.com/0Ankit0/identitykit/token"
	"github.com/0Ankit0/identitykit/users"
)

// loginRequest is the body of POST /auth/login.
type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// SignupRequest is the body of POST /auth/signup.
type SignupRequest struct {
	Username  string `json:"username"`
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
}

// otpRequest is the body of POST /auth/otp/validate.
type otpRequest struct {
	OTPCode   string `json:"otp_code"`
	TempToken string `json:"temp_token"`
}

// refreshRequest is the body of POST /auth/refresh.
type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// passwordResetRequest is the body of POST /auth/password-reset.
type passwordResetRequest struct {
	Email string `json:"email"`
}

// authResponse is the wire shape shared by the login, signup, otp/validate
// and refresh endpoints.
type authResponse struct {
	// Access is the short-lived bearer credential.
	// Usage: "Authorization: Bearer <access>" on every API call.
	Access string `json:"access,omitempty"`

	// Refresh is the long-lived credential exchanged for new access tokens.
	// The refresh endpoint may omit it, meaning the previous refresh
	// credential stays valid (no rotation this round).
	Refresh string `json:"refresh,omitempty"`

	// TokenType is how the access credential is presented (always "bearer").
	TokenType string `json:"token_type,omitempty"`

	// ExpiresIn is the access credential lifetime in seconds. A hint; the
	// 401 path stays authoritative.
	ExpiresIn int `json:"expires_in,omitempty"`

	// RequiresOTP signals that the password was accepted but the account
	// has a second factor enabled; TempToken must be traded via
	// /auth/otp/validate before any credentials are issued.
	RequiresOTP bool   `json:"requires_otp,omitempty"`
	TempToken   string `json:"temp_token,omitempty"`
}

// errorResponse is the backend's error body.
type errorResponse struct {
	Detail string `json:"detail,omitempty"`
}

// Challenge is a pending second-factor verification ticket. It lives only
// in session memory and is consumed by a single successful OTP validation;
// expiry is enforced server-side.
type Challenge struct {
	TempToken string
	IssuedAt  time.Time
}

// LoginResult is the outcome of a login or signup call: either a full
// credential grant or a second-factor challenge, never both.
type LoginResult struct {
	Grant     *token.Pair
	Challenge *Challenge
}

// RequiresSecondFactor reports whether the account needs OTP verification
// before credentials are issued.
func (r *LoginResult) RequiresSecondFactor() bool {
	return r != nil && r.Challenge != nil
}

// Profile is the response of GET /users/me: the authenticated user plus the
// tenants visible to them.
type Profile struct {
	User    users.User       `json:"user"`
	Tenants []tenants.Tenant `json:"tenants,omitempty"`
}
