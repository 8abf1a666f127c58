// SPDX-License-Identifier: AGPL-3.0-only

// Package router forwards requests to the origins serving the current edge
// location, failing over to the next origin until one succeeds.
package router

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httputil"

	"github.com/google/uuid"
	"github.com/s3eon/b2edge/internal/auth"
	"github.com/s3eon/b2edge/internal/metrics"
	"github.com/s3eon/b2edge/internal/origin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var _ http.Handler = &Router{}

const (
	DefaultDiagnosticHeader = "X-B2-Host"
	// DefaultMaxBodySize bounds the request body buffered for replay across attempts.
	DefaultMaxBodySize int64 = 64 << 20

	tracerName = "github.com/s3eon/b2edge/internal/router"
)

// Attempt outcomes and request results reported to metrics.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeError   = "error"

	ResultSuccess   = "success"
	ResultExhausted = "exhausted"
	ResultError     = "error"
)

// Locator reports the edge location serving a request.
type Locator interface {
	Resolve(req *http.Request) (string, error)
}

type Router struct {
	registry   *origin.Registry
	locator    Locator
	dispatcher Dispatcher

	auth       auth.Authenticator
	log        *slog.Logger
	metrics    *metrics.Metrics
	tracer     trace.Tracer
	diagHeader string
	clientIP   *clientIP
	maxBody    int64

	proxy *abortableProxy
}

func New(registry *origin.Registry, locator Locator, dispatcher Dispatcher, opts ...RouterOptFunc) (r *Router, err error) {
	if registry == nil || locator == nil || dispatcher == nil {
		return nil, errors.New("registry, locator and dispatcher are required")
	}

	r = &Router{
		registry:   registry,
		locator:    locator,
		dispatcher: dispatcher,
		auth:       auth.Noop{},
		log:        slog.Default(),
		tracer:     otel.Tracer(tracerName),
		diagHeader: DefaultDiagnosticHeader,
		maxBody:    DefaultMaxBodySize,
	}
	for _, opt := range opts {
		if err := opt(r); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	r.proxy = newAbortableProxy(httputil.ReverseProxy{
		Transport:    failover{r},
		ErrorHandler: r.handleError,
	}, r.rewrite)
	return
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.proxy.ServeHTTP(w, req)
}

// Route resolves the edge location of req and forwards it.
func (r *Router) Route(req *http.Request) (*http.Response, error) {
	loc, err := r.locator.Resolve(req)
	if err != nil {
		return nil, err
	}
	return r.Forward(req, loc)
}

// Forward tries the origins of loc in priority order. The first 2xx or 3xx
// response is returned. When every origin fails, the last response is returned
// as is; a transport error on the last origin is returned as an error instead.
// Every response carries the diagnostic header naming the origin that produced it.
func (r *Router) Forward(req *http.Request, loc string) (*http.Response, error) {
	ctx := req.Context()
	cv, _ := ctx.Value(contextKey{}).(contextValue)
	log := r.log.With(
		slog.String("request_id", cv.requestID),
		slog.String("location", loc),
		slog.String("action", cv.action),
	)

	body, err := readBody(req, r.maxBody)
	if err != nil {
		r.metrics.ObserveRouted(loc, ResultError)
		return nil, fmt.Errorf("failed to read request body: %w", err)
	}

	origins := r.registry.Resolve(loc)
	for i := range origins.Len() {
		o := origins.At(i)
		last := i == origins.Len()-1

		res, err := r.attempt(ctx, req, body, o, i)
		if err != nil {
			r.metrics.ObserveAttempt(o.BackendName, OutcomeError)
			if last || ctx.Err() != nil {
				r.metrics.ObserveRouted(loc, ResultError)
				return nil, fmt.Errorf("origin %s: %w", o, err)
			}
			log.Warn("origin unreachable, failing over", "attempt", i, "origin", o.String(), "error", err)
			continue
		}

		res.Header.Set(r.diagHeader, o.Host())
		if successful(res.StatusCode) {
			r.metrics.ObserveAttempt(o.BackendName, OutcomeSuccess)
			r.metrics.ObserveRouted(loc, ResultSuccess)
			log.Debug("origin responded", "attempt", i, "origin", o.String(), "status", res.StatusCode)
			return res, nil
		}

		r.metrics.ObserveAttempt(o.BackendName, OutcomeFailure)
		if last {
			r.metrics.ObserveRouted(loc, ResultExhausted)
			log.Warn("all origins failed", "origin", o.String(), "status", res.StatusCode)
			return res, nil
		}

		log.Debug("origin failed, failing over", "attempt", i, "origin", o.String(), "status", res.StatusCode)
		discard(res)
	}

	return nil, origin.ErrInvalidPriorityList
}

func (r *Router) attempt(ctx context.Context, in *http.Request, body []byte, o origin.Origin, i int) (*http.Response, error) {
	ctx, span := r.tracer.Start(ctx, "origin.attempt",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.Int("attempt", i),
			attribute.String("backend", o.BackendName),
			attribute.String("host", o.Host()),
		),
	)
	defer span.End()

	out := in.Clone(ctx)
	out.RequestURI = ""
	out.URL.RawQuery = ""
	out.URL.ForceQuery = false
	out.Host = o.Host()
	setBody(out, body)

	r.auth.Authenticate(out, o)

	res, err := r.dispatcher.Send(out, o.BackendName)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("http.status_code", res.StatusCode))
	if !successful(res.StatusCode) {
		span.SetStatus(codes.Error, res.Status)
	}
	return res, nil
}

func (r *Router) rewrite(pr *httputil.ProxyRequest) error {
	loc, err := r.locator.Resolve(pr.In)
	if err != nil {
		r.log.Error("edge location unavailable", slog.String("path", pr.In.URL.Path), "error", err)
		return refusal{status: http.StatusInternalServerError, reason: "edge location unavailable", err: err}
	}
	if r.maxBody > 0 && pr.In.ContentLength > r.maxBody {
		return refusal{status: http.StatusRequestEntityTooLarge, reason: "request body too large"}
	}

	pr.Out.URL.RawQuery = ""
	pr.Out.URL.ForceQuery = false

	requestID := pr.In.Header.Get("X-Request-Id")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	cv := contextValue{
		requestID: requestID,
		location:  loc,
		action:    detectS3Action(pr.In),
		sourceIP:  r.clientIP.Extract(pr.In),
	}
	r.log.Debug("routing request",
		slog.String("request_id", cv.requestID),
		slog.String("location", cv.location),
		slog.String("action", cv.action),
		slog.String("source_ip", cv.sourceIP),
		slog.String("method", pr.In.Method),
		slog.String("path", pr.In.URL.Path),
	)

	pr.Out = pr.Out.WithContext(context.WithValue(pr.Out.Context(), contextKey{}, cv))
	return nil
}

func (r *Router) handleError(w http.ResponseWriter, req *http.Request, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		r.log.Warn("request body too large", slog.String("path", req.URL.Path), slog.Int64("limit", tooLarge.Limit))
		w.WriteHeader(http.StatusRequestEntityTooLarge)
		return
	}

	r.log.Error("failed to route request",
		slog.String("method", req.Method),
		slog.String("path", req.URL.Path),
		"error", err,
	)
	w.WriteHeader(http.StatusInternalServerError)
}

// failover is the transport of the reverse proxy.
type failover struct {
	r *Router
}

func (f failover) RoundTrip(req *http.Request) (*http.Response, error) {
	cv, ok := req.Context().Value(contextKey{}).(contextValue)
	if !ok {
		return nil, errors.New("request was not rewritten")
	}
	return f.r.Forward(req, cv.location)
}

func successful(code int) bool {
	return code >= 200 && code < 400
}

// readBody buffers at most limit bytes; limit <= 0 reads the whole body.
func readBody(req *http.Request, limit int64) ([]byte, error) {
	if req.Body == nil || req.Body == http.NoBody {
		return nil, nil
	}
	defer req.Body.Close()

	body := req.Body
	if limit > 0 {
		body = http.MaxBytesReader(nil, body, limit)
	}
	b, err := io.ReadAll(body)
	if err != nil {
		return nil, err
	}
	if len(b) == 0 {
		return nil, nil
	}
	return b, nil
}

func setBody(req *http.Request, body []byte) {
	req.TransferEncoding = nil
	if body == nil {
		req.Body = nil
		req.GetBody = nil
		req.ContentLength = 0
		return
	}

	req.ContentLength = int64(len(body))
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(body)), nil
	}
	req.Body, _ = req.GetBody()
}

// discard drains a bounded amount of a failed response so the connection can be reused.
func discard(res *http.Response) {
	if res.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(res.Body, 64<<10))
	_ = res.Body.Close()
}
