package router

import (
	"fmt"
	"log/slog"
	"net/textproto"

	"github.com/s3eon/b2edge/internal/auth"
	"github.com/s3eon/b2edge/internal/metrics"
	"go.opentelemetry.io/otel/trace"
)

type RouterOptFunc func(*Router) error

func WithAuthenticator(a auth.Authenticator) RouterOptFunc {
	return func(r *Router) error {
		if a == nil {
			a = auth.Noop{}
		}
		r.auth = a
		return nil
	}
}

func WithLogger(log *slog.Logger) RouterOptFunc {
	return func(r *Router) error {
		if log != nil {
			r.log = log
		}
		return nil
	}
}

func WithMetrics(m *metrics.Metrics) RouterOptFunc {
	return func(r *Router) error {
		r.metrics = m
		return nil
	}
}

func WithTracerProvider(tp trace.TracerProvider) RouterOptFunc {
	return func(r *Router) error {
		r.tracer = tp.Tracer(tracerName)
		return nil
	}
}

// WithDiagnosticHeader names the response header that reports the origin host.
func WithDiagnosticHeader(name string) RouterOptFunc {
	return func(r *Router) error {
		if name == "" {
			return fmt.Errorf("empty diagnostic header name")
		}
		r.diagHeader = textproto.CanonicalMIMEHeaderKey(name)
		return nil
	}
}

// WithMaxBodySize bounds the buffered request body. Zero disables the limit.
func WithMaxBodySize(n int64) RouterOptFunc {
	return func(r *Router) error {
		if n < 0 {
			return fmt.Errorf("negative max body size %d", n)
		}
		r.maxBody = n
		return nil
	}
}

// WithTrustedProxies lists addresses or CIDRs whose X-Forwarded-For is believed when logging.
func WithTrustedProxies(proxies []string) RouterOptFunc {
	return func(r *Router) (err error) {
		r.clientIP, err = newClientIP(proxies)
		return
	}
}
