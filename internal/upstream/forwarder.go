package upstream

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/k1s0-platform/system-server-go-superoffice-proxy/internal/httpx"
	"github.com/k1s0-platform/system-server-go-superoffice-proxy/internal/telemetry"
)

// DefaultTimeout bounds the wait for upstream response headers.
const DefaultTimeout = 30 * time.Second

type targetKey struct{}

type target struct {
	url         *url.URL
	accessToken string
}

// Forwarder relays requests to the tenant REST API with the session's bearer
// token and streams the upstream response back unchanged.
type Forwarder struct {
	proxy   *httputil.ReverseProxy
	logger  *slog.Logger
	metrics *telemetry.Metrics
	tracer  trace.Tracer
}

// ForwarderOption configures the Forwarder.
type ForwarderOption func(*Forwarder)

// WithTransport replaces the upstream transport.
func WithTransport(rt http.RoundTripper) ForwarderOption {
	return func(f *Forwarder) {
		f.proxy.Transport = rt
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) ForwarderOption {
	return func(f *Forwarder) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// WithMetrics records upstream outcomes.
func WithMetrics(metrics *telemetry.Metrics) ForwarderOption {
	return func(f *Forwarder) {
		f.metrics = metrics
	}
}

// NewForwarder creates a Forwarder whose upstream transport waits at most
// timeout for response headers.
func NewForwarder(timeout time.Duration, opts ...ForwarderOption) *Forwarder {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = timeout

	f := &Forwarder{
		logger: slog.Default(),
		tracer: otel.Tracer(telemetry.TracerName),
	}
	f.proxy = &httputil.ReverseProxy{
		Rewrite:        f.rewrite,
		Transport:      transport,
		ModifyResponse: f.modifyResponse,
		ErrorHandler:   f.handleError,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Forward sends r to dst with accessToken as bearer credential. The upstream
// status, headers and body are written to w as received. When no upstream
// response arrives, w gets a 500 {status, message} body.
func (f *Forwarder) Forward(w http.ResponseWriter, r *http.Request, dst *url.URL, accessToken string) {
	ctx, span := f.tracer.Start(r.Context(), "upstream.Forward",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("server.address", dst.Host),
		),
	)
	defer span.End()

	ctx = context.WithValue(ctx, targetKey{}, &target{url: dst, accessToken: accessToken})
	f.proxy.ServeHTTP(w, r.WithContext(ctx))
}

func (f *Forwarder) rewrite(pr *httputil.ProxyRequest) {
	t := pr.In.Context().Value(targetKey{}).(*target)

	pr.Out.URL = &url.URL{
		Scheme:   t.url.Scheme,
		Host:     t.url.Host,
		Path:     t.url.Path,
		RawQuery: t.url.RawQuery,
	}
	pr.Out.Host = t.url.Host

	pr.Out.Header.Set("Authorization", "Bearer "+t.accessToken)
	pr.Out.Header.Set("Accept", "application/json")
	pr.Out.Header.Del("Cookie")
	pr.SetXForwarded()
}

func (f *Forwarder) modifyResponse(resp *http.Response) error {
	if resp.Request != nil {
		trace.SpanFromContext(resp.Request.Context()).
			SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	}
	f.metrics.ObserveUpstream(telemetry.UpstreamForwarded)
	return nil
}

func (f *Forwarder) handleError(w http.ResponseWriter, r *http.Request, err error) {
	span := trace.SpanFromContext(r.Context())
	span.RecordError(err)
	span.SetStatus(codes.Error, "upstream unreachable")

	telemetry.LogWithTrace(r.Context(), f.logger).Error("upstream request failed",
		slog.String("method", r.Method),
		slog.String("host", r.Host),
		slog.String("error", err.Error()),
	)
	f.metrics.ObserveUpstream(telemetry.UpstreamUnreachable)
	httpx.WriteError(w, http.StatusInternalServerError)
}
