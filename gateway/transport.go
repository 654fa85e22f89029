package gateway

import (
	"net/http"
	"time"
)

// Transport sends a prepared request over the wire. It is the seam between
// the session core and whatever HTTP stack a client shell brings; both web
// and mobile shells consume the same core behind this interface.
type Transport interface {
	SendRaw(req *http.Request) (*http.Response, error)
}

// HTTPTransport is the default Transport over net/http.
type HTTPTransport struct {
	client *http.Client
}

var _ Transport = (*HTTPTransport)(nil)

// NewHTTPTransport creates a Transport with the given request timeout.
func NewHTTPTransport(timeout time.Duration) *HTTPTransport {
	return &HTTPTransport{
		client: &http.Client{Timeout: timeout},
	}
}

// SendRaw implements Transport.
func (t *HTTPTransport) SendRaw(req *http.Request) (*http.Response, error) {
	return t.client.Do(req)
}

// TransportFunc adapts a function to the Transport interface.
type TransportFunc func(req *http.Request) (*http.Response, error)

// SendRaw implements Transport.
func (f TransportFunc) SendRaw(req *http.Request) (*http.Response, error) {
	return f(req)
}
