package authapi

import "errors"

var (
	InvalidCredentialsErr = errors.New("invalid username or password")
	UserExistsErr         = errors.New("username or email already registered")
	UnexpectedStatusErr   = errors.New("unexpected response status")
)
