// SPDX-License-Identifier: AGPL-3.0-only
package router

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httputil"
	"strings"
)

// abortableProxy is a ReverseProxy whose rewrite step may refuse a request.
// A refused request never reaches the failover transport; its canned response
// rides in the outbound request context instead.
type abortableProxy struct {
	httputil.ReverseProxy
}

func newAbortableProxy(proxy httputil.ReverseProxy, rewrite func(*httputil.ProxyRequest) error) *abortableProxy {
	proxy.Transport = abortTransport{next: proxy.Transport}
	proxy.Rewrite = func(pr *httputil.ProxyRequest) {
		if err := rewrite(pr); err != nil {
			var rerr refusal
			if !errors.As(err, &rerr) {
				rerr = refusal{status: http.StatusInternalServerError, reason: "failed to route request", err: err}
			}
			pr.Out = withRefusal(pr.Out, rerr.Response(pr.In))
		}
	}
	return &abortableProxy{ReverseProxy: proxy}
}

type refusalKey struct{}

func withRefusal(req *http.Request, res *http.Response) *http.Request {
	return req.WithContext(context.WithValue(req.Context(), refusalKey{}, res))
}

type abortTransport struct {
	next http.RoundTripper
}

func (t abortTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if res, ok := req.Context().Value(refusalKey{}).(*http.Response); ok {
		return res, nil
	}
	return t.next.RoundTrip(req)
}

// refusal is a request the router answers itself with status.
type refusal struct {
	status int
	reason string
	err    error
}

func (e refusal) Error() string {
	if e.err == nil {
		return e.reason
	}
	return fmt.Sprintf("%s: %s", e.reason, e.err)
}

func (e refusal) Unwrap() error {
	return e.err
}

// Response carries the reason only; the wrapped error may name environment
// variables and stays in the logs.
func (e refusal) Response(req *http.Request) *http.Response {
	body := e.reason + "\n"
	return &http.Response{
		Status:        fmt.Sprintf("%d %s", e.status, http.StatusText(e.status)),
		StatusCode:    e.status,
		Proto:         req.Proto,
		ProtoMajor:    req.ProtoMajor,
		ProtoMinor:    req.ProtoMinor,
		Header:        http.Header{"Content-Type": []string{"text/plain; charset=utf-8"}},
		Body:          io.NopCloser(strings.NewReader(body)),
		ContentLength: int64(len(body)),
		Request:       req,
	}
}
