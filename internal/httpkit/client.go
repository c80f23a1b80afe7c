// Package httpkit builds the HTTP clients SubZero uses for outbound
// calls (Ollama, fetch, search, the brokerage API) and classifies
// their failures as worth retrying or not.
package httpkit

import (
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/nugget/subzero/internal/buildinfo"
)

// Transport limits. Header wait is long because Ollama loads a model
// before answering the first request.
const (
	dialTimeout    = 10 * time.Second
	tlsTimeout     = 10 * time.Second
	headerTimeout  = 2 * time.Minute
	idleTimeout    = 90 * time.Second
	maxIdle        = 20
	maxIdlePerHost = 5
	defaultTimeout = 30 * time.Second
	maxRetryDelay  = 5 * time.Second
)

// ClientOption adjusts a client built by [NewClient].
type ClientOption func(*options)

type options struct {
	timeout time.Duration
	ua      string
	base    http.RoundTripper
	retries int
	delay   time.Duration
	logger  *slog.Logger
}

// WithTimeout bounds each whole request. Zero means no limit, which
// streaming callers need.
func WithTimeout(d time.Duration) ClientOption {
	return func(o *options) { o.timeout = d }
}

// WithUserAgent replaces the default SubZero User-Agent.
func WithUserAgent(ua string) ClientOption {
	return func(o *options) { o.ua = ua }
}

// WithTransport replaces the pooled default transport.
func WithTransport(rt http.RoundTripper) ClientOption {
	return func(o *options) { o.base = rt }
}

// WithRetry retries up to n times when the connection itself fails,
// waiting delay before the first retry and doubling after each one.
func WithRetry(n int, delay time.Duration) ClientOption {
	return func(o *options) {
		o.retries = n
		o.delay = delay
	}
}

func WithLogger(l *slog.Logger) ClientOption {
	return func(o *options) { o.logger = l }
}

// NewClient returns a client with SubZero's transport defaults.
func NewClient(opts ...ClientOption) *http.Client {
	o := options{timeout: defaultTimeout, ua: buildinfo.UserAgent()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.base == nil {
		o.base = newTransport()
	}

	var rt http.RoundTripper = uaTransport{next: o.base, ua: o.ua}
	if o.retries > 0 {
		rt = &retryTransport{next: rt, retries: o.retries, delay: o.delay, logger: o.logger}
	}
	return &http.Client{Timeout: o.timeout, Transport: rt}
}

func newTransport() *http.Transport {
	d := &net.Dialer{Timeout: dialTimeout, KeepAlive: 30 * time.Second}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           d.DialContext,
		TLSHandshakeTimeout:   tlsTimeout,
		ResponseHeaderTimeout: headerTimeout,
		IdleConnTimeout:       idleTimeout,
		MaxIdleConns:          maxIdle,
		MaxIdleConnsPerHost:   maxIdlePerHost,
		ForceAttemptHTTP2:     true,
	}
}

// uaTransport fills in User-Agent when the caller left it empty.
type uaTransport struct {
	next http.RoundTripper
	ua   string
}

func (t uaTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") != "" {
		return t.next.RoundTrip(req)
	}
	r := req.Clone(req.Context())
	r.Header.Set("User-Agent", t.ua)
	return t.next.RoundTrip(r)
}

// retryTransport repeats requests that never reached the server.
// A request whose body cannot be replayed is tried once.
type retryTransport struct {
	next    http.RoundTripper
	retries int
	delay   time.Duration
	logger  *slog.Logger
}

func (t *retryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	replayable := req.Body == nil || req.Body == http.NoBody || req.GetBody != nil
	delay := t.delay

	for attempt := 0; ; attempt++ {
		r := req
		if attempt > 0 {
			r = req.Clone(req.Context())
			if req.GetBody != nil {
				body, err := req.GetBody()
				if err != nil {
					return nil, err
				}
				r.Body = body
			}
		}

		resp, err := t.next.RoundTrip(r)
		if err == nil || !connectFailed(err) || !replayable || attempt == t.retries {
			return resp, err
		}

		if t.logger != nil {
			t.logger.Debug("connect failed, retrying",
				"url", req.URL.Redacted(), "attempt", attempt+1, "of", t.retries, "wait", delay, "error", err)
		}
		select {
		case <-req.Context().Done():
			return nil, req.Context().Err()
		case <-time.After(delay):
		}
		delay = min(delay*2, maxRetryDelay)
	}
}
