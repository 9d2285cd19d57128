// Package transport hands background job invocations to the server that
// runs them. The hand-off is fire-and-forget: a request is written onto a
// fresh connection that is closed without reading the response, so the
// caller never waits for the job itself.
package transport

import (
	"bufio"
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/valyala/fasthttp"

	"backjob/internal/jobs"
)

// DefaultConnectTimeout bounds the TCP (and TLS) handshake with the job
// server.
const DefaultConnectTimeout = time.Second

// HTTPTransport triggers jobs as GET requests against BaseURL.
type HTTPTransport struct {
	base           *url.URL
	userAgent      string
	connectTimeout time.Duration
	tlsConfig      *tls.Config
	logger         *slog.Logger

	// dial is swapped in tests.
	dial func(addr string, timeout time.Duration) (net.Conn, error)
}

// Options configures NewHTTP.
type Options struct {
	BaseURL        string
	UserAgent      string
	ConnectTimeout time.Duration
	// TLSConfig is used for https base URLs. Nil means the system
	// defaults with ServerName taken from the base URL.
	TLSConfig *tls.Config
	Logger    *slog.Logger
}

// NewHTTP constructs an HTTPTransport. BaseURL must be an absolute http
// or https URL; a path prefix is kept in front of every job route.
func NewHTTP(opts Options) (*HTTPTransport, error) {
	u, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("base url %q must be an absolute http(s) url", opts.BaseURL)
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = DefaultConnectTimeout
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "backjob"
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &HTTPTransport{
		base:           u,
		userAgent:      opts.UserAgent,
		connectTimeout: opts.ConnectTimeout,
		tlsConfig:      opts.TLSConfig,
		logger:         opts.Logger,
		dial:           fasthttp.DialTimeout,
	}, nil
}

// Trigger sends GET <base>/<route>?<params> and returns once the request
// has been written. Cookies of caller are forwarded when it is non-nil.
// Every failure is returned as a *jobs.TransportError.
func (t *HTTPTransport) Trigger(ctx context.Context, route string, params url.Values, caller *jobs.Caller) error {
	fail := func(err error) error {
		return &jobs.TransportError{Route: route, Err: err}
	}
	if err := ctx.Err(); err != nil {
		return fail(err)
	}

	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)
	t.buildRequest(req, route, params, caller)

	conn, err := t.connect(ctx)
	if err != nil {
		return fail(err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetWriteDeadline(deadline)
	} else {
		_ = conn.SetWriteDeadline(time.Now().Add(t.connectTimeout))
	}
	bw := bufio.NewWriter(conn)
	if err := req.Write(bw); err != nil {
		return fail(fmt.Errorf("write request: %w", err))
	}
	if err := bw.Flush(); err != nil {
		return fail(fmt.Errorf("write request: %w", err))
	}

	t.logger.Debug("job_triggered", "route", route, "host", t.base.Host)
	return nil
}

func (t *HTTPTransport) buildRequest(req *fasthttp.Request, route string, params url.Values, caller *jobs.Caller) {
	path := t.base.EscapedPath() + "/" + strings.TrimLeft(route, "/")

	req.Header.SetMethod(fasthttp.MethodGet)
	// The Host header is taken from the absolute URI when written.
	req.SetRequestURI(t.base.Scheme + "://" + t.base.Host + path)
	if len(params) > 0 {
		req.URI().SetQueryString(params.Encode())
	}
	req.Header.SetUserAgent(t.userAgent)
	req.Header.Set(fasthttp.HeaderCacheControl, "no-store, no-cache, must-revalidate")
	req.Header.Set(fasthttp.HeaderPragma, "no-cache")
	req.Header.SetConnectionClose()

	if caller != nil {
		for name, value := range caller.Cookies {
			req.Header.SetCookie(name, value)
		}
	}
}

func (t *HTTPTransport) connect(ctx context.Context) (net.Conn, error) {
	addr := t.hostPort()
	conn, err := t.dial(addr, t.connectTimeout)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", addr, err)
	}
	if t.base.Scheme != "https" {
		return conn, nil
	}

	cfg := t.tlsConfig
	if cfg == nil {
		cfg = &tls.Config{ServerName: t.base.Hostname(), MinVersion: tls.VersionTLS12}
	}
	tc := tls.Client(conn, cfg)
	hctx, cancel := context.WithTimeout(ctx, t.connectTimeout)
	defer cancel()
	if err := tc.HandshakeContext(hctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("tls handshake %s: %w", addr, err)
	}
	return tc, nil
}

func (t *HTTPTransport) hostPort() string {
	if t.base.Port() != "" {
		return t.base.Host
	}
	if t.base.Scheme == "https" {
		return net.JoinHostPort(t.base.Hostname(), "443")
	}
	return net.JoinHostPort(t.base.Hostname(), "80")
}
