package verifier

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/pkg/errors"
)

// Request is a concrete request built from an expected request.
type Request struct {
	Method string
	Path   string
	Query  string
	Header http.Header
	Body   []byte
}

// Response is what the provider answered.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// Transport performs one request against a provider. Implementations must
// honour context cancellation.
type Transport interface {
	Do(ctx context.Context, req Request) (Response, error)
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context, req Request) (Response, error)

func (f TransportFunc) Do(ctx context.Context, req Request) (Response, error) {
	return f(ctx, req)
}

// TransportError reports a request that produced no response: connection
// failures, timeouts and cancellations.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return "request to provider failed: " + e.Err.Error()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// HTTPTransport sends requests to a provider base URL.
type HTTPTransport struct {
	baseURL *url.URL
	client  *http.Client
}

func NewHTTPTransport(baseURL string, client *http.Client) (*HTTPTransport, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse provider url")
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, errors.Errorf("provider url %q must be absolute", baseURL)
	}
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPTransport{baseURL: u, client: client}, nil
}

// Endpoint identifies the physical provider the transport talks to.
func (t *HTTPTransport) Endpoint() string {
	return t.baseURL.Scheme + "://" + t.baseURL.Host
}

func (t *HTTPTransport) URL(path, query string) string {
	u := *t.baseURL
	u.Path = strings.TrimSuffix(u.Path, "/") + path
	u.RawPath = ""
	u.RawQuery = query
	return u.String()
}

func (t *HTTPTransport) Do(ctx context.Context, req Request) (Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, t.URL(req.Path, req.Query), bytes.NewReader(req.Body))
	if err != nil {
		return Response{}, errors.Wrap(err, "unable to build request")
	}
	if req.Header != nil {
		httpReq.Header = req.Header.Clone()
	}
	if host := httpReq.Header.Get("Host"); host != "" {
		httpReq.Host = host
	}

	res, err := t.client.Do(httpReq)
	if err != nil {
		return Response{}, errors.Wrap(err, fmt.Sprintf("%s %s", req.Method, req.Path))
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return Response{}, errors.Wrap(err, "unable to read response body")
	}

	return Response{Status: res.StatusCode, Header: res.Header, Body: body}, nil
}
