// Package twofactor wraps TOTP enrollment and local code checks for the
// optional second factor. Server-side verification stays authoritative;
// these helpers exist so enrollment UIs can confirm a code before
// submitting and tests can mint valid codes.
package twofactor

import (
	"time"

	"github.com/pkg/errors"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

// Enrollment is a freshly generated TOTP secret ready to present to the
// user as a provisioning URI or QR code.
type Enrollment struct {
	Secret string
	URI    string
}

// NewEnrollment generates a TOTP key for the given issuer and account.
func NewEnrollment(issuer, accountName string) (*Enrollment, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      issuer,
		AccountName: accountName,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return nil, errors.Wrap(err, "[twofactor.NewEnrollment] generate key")
	}
	return &Enrollment{
		Secret: key.Secret(),
		URI:    key.URL(),
	}, nil
}

// Validate checks a code against a secret for the current time window.
func Validate(code, secret string) bool {
	return totp.Validate(code, secret)
}

// Code returns the valid code for the secret at the given time.
func Code(secret string, t time.Time) (string, error) {
	code, err := totp.GenerateCode(secret, t)
	if err != nil {
		return "", errors.Wrap(err, "[twofactor.Code] generate")
	}
	return code, nil
}
