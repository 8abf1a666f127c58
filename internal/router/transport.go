// SPDX-License-Identifier: AGPL-3.0-only
package router

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"time"
)

var ErrUnknownBackend = errors.New("unknown backend")

// Dispatcher sends a request to a pre-declared, named network destination.
type Dispatcher interface {
	Send(req *http.Request, backend string) (*http.Response, error)
}

// BackendTransport dispatches over HTTP to backends declared at construction.
// The request's Host header is left as set by the caller.
type BackendTransport struct {
	backends map[string]*url.URL

	transport   http.RoundTripper
	rootCAs     *x509.CertPool
	respTimeout time.Duration
}

type TransportOptFunc func(*BackendTransport) error

func NewBackendTransport(backends map[string]string, opts ...TransportOptFunc) (*BackendTransport, error) {
	t := &BackendTransport{backends: make(map[string]*url.URL, len(backends))}
	for name, raw := range backends {
		u, err := url.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("backend %s: %w", name, err)
		}
		if u.Scheme != "http" && u.Scheme != "https" || u.Host == "" {
			return nil, fmt.Errorf("backend %s: url %q must be http(s)://host[:port]", name, raw)
		}
		t.backends[name] = u
	}

	for _, opt := range opts {
		if err := opt(t); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	if t.transport == nil {
		tr := http.DefaultTransport.(*http.Transport).Clone()
		tr.TLSClientConfig = &tls.Config{RootCAs: t.rootCAs}
		tr.ResponseHeaderTimeout = t.respTimeout
		t.transport = tr
	}
	return t, nil
}

// WithAdditionalCACert trusts the PEM certificates in caCert on top of the system pool.
func WithAdditionalCACert(caCert string) TransportOptFunc {
	return func(t *BackendTransport) (err error) {
		b, err := os.ReadFile(caCert)
		if err != nil {
			return fmt.Errorf("failed to read CA cert: %w", err)
		}
		t.rootCAs, err = x509.SystemCertPool()
		if err != nil {
			t.rootCAs = x509.NewCertPool()
		}
		if !t.rootCAs.AppendCertsFromPEM(b) {
			return fmt.Errorf("no certificates found in %s", caCert)
		}
		return nil
	}
}

func WithResponseHeaderTimeout(d time.Duration) TransportOptFunc {
	return func(t *BackendTransport) error {
		t.respTimeout = d
		return nil
	}
}

// WithRoundTripper replaces the HTTP transport; CA and timeout options are then ignored.
func WithRoundTripper(rt http.RoundTripper) TransportOptFunc {
	return func(t *BackendTransport) error {
		t.transport = rt
		return nil
	}
}

// Has reports whether backend was declared.
func (t *BackendTransport) Has(backend string) bool {
	_, ok := t.backends[backend]
	return ok
}

func (t *BackendTransport) Send(req *http.Request, backend string) (*http.Response, error) {
	u, ok := t.backends[backend]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownBackend, backend)
	}

	req.URL.Scheme = u.Scheme
	req.URL.Host = u.Host
	return t.transport.RoundTrip(req)
}
