// Package token holds the client's credential pair and the process-wide
// credential store. A pair is an opaque short-lived access credential plus a
// longer-lived refresh credential; the store only ever holds a whole pair or
// nothing.
package token

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
)

// expirySkew is subtracted from the access expiry so the client refreshes
// slightly before the server starts rejecting the credential.
const expirySkew = 10 * time.Second

// NowTimeFunc returns the current time. It can be overridden in tests.
var NowTimeFunc = time.Now

// Pair is a full credential pair as issued by login, signup, OTP validation
// or refresh. Both tokens are opaque to the client; AccessExpiry may be zero
// when the server did not report an expiry, in which case Expired falls back
// to the access token's JWT exp claim when one is decodable.
type Pair struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	TokenType    string    `json:"token_type"`
	AccessExpiry time.Time `json:"access_expiry,omitempty"`
}

// Valid reports whether the pair is fully present. Partial pairs are never
// stored; callers should treat an invalid pair the same as an absent one.
func (p *Pair) Valid() bool {
	return p != nil && p.AccessToken != "" && p.RefreshToken != ""
}

// Expired reports whether the access credential should be considered stale
// at the given time. Unknown expiry is treated as not expired; the gateway's
// 401 path remains authoritative either way.
func (p *Pair) Expired(now time.Time) bool {
	if !p.Valid() {
		return true
	}
	expiry := p.AccessExpiry
	if expiry.IsZero() {
		expiry = jwtExpiry(p.AccessToken)
	}
	if expiry.IsZero() {
		return false
	}
	return !now.Before(expiry.Add(-expirySkew))
}

// Token converts the pair to the standard oauth2 token shape for interop
// with oauth2-based HTTP stacks.
func (p *Pair) Token() *oauth2.Token {
	if p == nil {
		return nil
	}
	return &oauth2.Token{
		AccessToken:  p.AccessToken,
		RefreshToken: p.RefreshToken,
		TokenType:    p.TokenType,
		Expiry:       p.AccessExpiry,
	}
}

// PairFromToken builds a Pair from a standard oauth2 token.
func PairFromToken(t *oauth2.Token) *Pair {
	if t == nil {
		return nil
	}
	return &Pair{
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
		TokenType:    t.TokenType,
		AccessExpiry: t.Expiry,
	}
}

// jwtExpiry extracts the exp claim from a JWT access token without verifying
// the signature. Verification belongs to the server; the client only wants a
// hint for proactive refresh. Non-JWT access tokens yield a zero time.
func jwtExpiry(raw string) time.Time {
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(raw, claims); err != nil {
		return time.Time{}
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}
