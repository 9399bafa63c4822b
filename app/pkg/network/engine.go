package network

import (
	"context"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/PeterC02/Pokemon-Store-Bot-Final/app/pkg/cookies"
	"github.com/PeterC02/Pokemon-Store-Bot-Final/app/pkg/utils/httpx"

	"golang.org/x/net/http2"
)

const (
	DefaultTimeout        = 15 * time.Second
	DefaultMaxRetries     = 2
	DefaultRetryBaseDelay = 250 * time.Millisecond
)

var errHTTP2Unsupported = errors.New("remote did not negotiate h2")

type Config struct {
	// Timeout bounds a single request attempt, connection setup included.
	Timeout time.Duration

	// MaxRetries is the amount of retries after the first failed attempt.
	// Transport errors only: any HTTP status is a valid response.
	MaxRetries     int
	RetryBaseDelay time.Duration

	// Proxy is the egress the engine tunnels every connection through. Optional.
	Proxy *url.URL

	Profile Profile

	RootCAs            *x509.CertPool
	InsecureSkipVerify bool
}

type Options struct {
	Method  string
	Headers map[string]string
	Body    string
	Timeout time.Duration
}

type Response struct {
	Status   int
	Headers  http.Header
	Body     string
	URL      string
	Protocol string
}

// Location returns the redirect target resolved against the request url, or "".
func (r *Response) Location() string {
	location := r.Headers.Get("Location")
	if location == "" {
		return ""
	}

	base, err := url.Parse(r.URL)
	if err != nil {
		return location
	}
	ref, err := url.Parse(location)
	if err != nil {
		return location
	}

	return base.ResolveReference(ref).String()
}

func (r *Response) IsRedirect() bool {
	return r.Status >= 300 && r.Status < 400 && r.Headers.Get("Location") != ""
}

// domainConn is the connection state kept for one scheme://host:port.
// Exactly one of h2 or h1 is set.
type domainConn struct {
	h2 *http2.ClientConn
	h1 *http.Transport
}

func (dc *domainConn) usable() bool {
	if dc.h2 != nil {
		return dc.h2.CanTakeNewRequest()
	}
	return dc.h1 != nil
}

func (dc *domainConn) roundTripper() http.RoundTripper {
	if dc.h2 != nil {
		return dc.h2
	}
	return dc.h1
}

func (dc *domainConn) close() {
	if dc.h2 != nil {
		dc.h2.Close()
	}
	if dc.h1 != nil {
		dc.h1.CloseIdleConnections()
	}
}

// Engine issues requests over one persistent connection per domain.
//
// An Engine carries a single egress identity. Sessions that must look distinct
// own separate engines; nothing is shared between them.
type Engine struct {
	cfg        Config
	h2         *http2.Transport
	conns      map[string]*domainConn
	downgraded atomic.Bool
	timings    Timings
	mu         sync.Mutex
}

func NewEngine(cfg Config) *Engine {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = DefaultRetryBaseDelay
	}
	if cfg.Profile.UserAgent == "" {
		cfg.Profile = NewProfile("")
	}

	return &Engine{
		cfg: cfg,
		h2: &http2.Transport{
			DisableCompression: true,
			ReadIdleTimeout:    30 * time.Second,
			PingTimeout:        15 * time.Second,
		},
		conns: make(map[string]*domainConn),
	}
}

func (e *Engine) Profile() Profile {
	return e.cfg.Profile
}

func (e *Engine) Proxy() *url.URL {
	return e.cfg.Proxy
}

func (e *Engine) Timings() *Timings {
	return &e.timings
}

// Downgraded reports whether the engine permanently fell back to HTTP/1.1.
func (e *Engine) Downgraded() bool {
	return e.downgraded.Load()
}

func (e *Engine) SetDowngraded(downgraded bool) {
	e.downgraded.Store(downgraded)
}

func (e *Engine) downgrade(reason error) {
	if e.downgraded.CompareAndSwap(false, true) {
		slog.Warn("falling back to HTTP/1.1 for the rest of the session", "reason", reason)
	}
}

// Close drops every domain connection.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()

	for key, dc := range e.conns {
		dc.close()
		delete(e.conns, key)
	}
}

// PreConnect establishes the connection for the domain of rawUrl without issuing a request.
func (e *Engine) PreConnect(ctx context.Context, rawUrl string) error {
	target, err := parseTarget(rawUrl)
	if err != nil {
		return err
	}

	dialCtx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	_, err = e.connFor(dialCtx, target)
	return err
}

// Request sends one request and returns the decoded response. Redirects are
// not followed. Set-Cookie headers update jar, which may be nil.
func (e *Engine) Request(ctx context.Context, rawUrl string, opts Options, jar *cookies.Jar) (*Response, error) {
	target, err := parseTarget(rawUrl)
	if err != nil {
		return nil, err
	}
	if opts.Method == "" {
		opts.Method = http.MethodGet
	}
	if opts.Timeout <= 0 {
		opts.Timeout = e.cfg.Timeout
	}

	var lastErr error
	for attempt := 0; attempt <= e.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := e.cfg.RetryBaseDelay << (attempt - 1)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		resp, err := e.do(ctx, target, opts, jar)
		if err == nil {
			return resp, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		lastErr = err
		slog.Debug("request attempt failed",
			"method", opts.Method, "url", target.String(), "attempt", attempt+1, "error", err)
	}

	return nil, fmt.Errorf("%s %s failed after %d attempts: %w",
		opts.Method, target.Redacted(), e.cfg.MaxRetries+1, lastErr)
}

func (e *Engine) do(ctx context.Context, target *url.URL, opts Options, jar *cookies.Jar) (*Response, error) {
	reqCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	dc, err := e.connFor(reqCtx, target)
	if err != nil {
		return nil, err
	}

	headers := e.cfg.Profile.GetFullHeaders()
	for k, v := range opts.Headers {
		headers[k] = v
	}
	if jar != nil {
		if cookieHeader := jar.Get(target.String()); cookieHeader != "" {
			headers["Cookie"] = cookieHeader
		}
	}

	var body io.Reader
	if opts.Body != "" {
		body = strings.NewReader(opts.Body)
	}
	req, err := httpx.BuildRequest(reqCtx, opts.Method, target.String(), body, headers)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	response, err := dc.roundTripper().RoundTrip(req)
	if err != nil {
		e.evict(target, dc)
		if dc.h2 != nil && ctx.Err() == nil {
			e.downgrade(err)
		}
		return nil, err
	}
	defer response.Body.Close()

	rawBody, err := httpx.ReadBody(response)
	if err != nil {
		e.evict(target, dc)
		if dc.h2 != nil && ctx.Err() == nil {
			e.downgrade(err)
		}
		return nil, fmt.Errorf("could not read response body: %w", err)
	}
	elapsed := time.Since(start)

	if jar != nil {
		if setCookies := response.Header.Values("Set-Cookie"); len(setCookies) > 0 {
			if err := jar.Update(target.String(), setCookies); err != nil {
				slog.Warn("could not store response cookies", "url", target.String(), "error", err)
			}
		}
	}

	e.timings.Add(Sample{Status: response.StatusCode, Path: target.Path, Duration: elapsed})

	return &Response{
		Status:   response.StatusCode,
		Headers:  response.Header,
		Body:     string(rawBody),
		URL:      target.String(),
		Protocol: response.Proto,
	}, nil
}

// connFor returns a usable connection for the domain of target, dialling one if needed.
func (e *Engine) connFor(ctx context.Context, target *url.URL) (*domainConn, error) {
	key := domainKey(target)

	e.mu.Lock()
	if dc, ok := e.conns[key]; ok {
		if dc.usable() && !(dc.h2 != nil && e.Downgraded()) {
			e.mu.Unlock()
			return dc, nil
		}
		dc.close()
		delete(e.conns, key)
	}
	e.mu.Unlock()

	dc, err := e.newConn(ctx, target)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if existing, ok := e.conns[key]; ok && existing.usable() {
		dc.close()
		return existing, nil
	}
	e.conns[key] = dc

	return dc, nil
}

func (e *Engine) newConn(ctx context.Context, target *url.URL) (*domainConn, error) {
	addr := hostPort(target)

	if target.Scheme == "https" && !e.Downgraded() {
		dc, err := e.dialHTTP2(ctx, addr)
		if err == nil {
			return dc, nil
		}
		if ctx.Err() != nil {
			return nil, err
		}
		e.downgrade(err)
		if !errors.Is(err, errHTTP2Unsupported) {
			return nil, err
		}
	}

	return &domainConn{h1: e.newHTTP1Transport(target.Scheme == "https")}, nil
}

func (e *Engine) dialHTTP2(ctx context.Context, addr string) (*domainConn, error) {
	uconn, err := httpx.DialUTLS(ctx, addr, e.cfg.Proxy, clientHelloID, e.tlsOptions("h2", "http/1.1"))
	if err != nil {
		return nil, err
	}

	if proto := uconn.ConnectionState().NegotiatedProtocol; proto != "h2" {
		uconn.Close()
		return nil, fmt.Errorf("%w (negotiated %q)", errHTTP2Unsupported, proto)
	}

	cc, err := e.h2.NewClientConn(uconn)
	if err != nil {
		uconn.Close()
		return nil, fmt.Errorf("could not start h2 connection: %w", err)
	}

	return &domainConn{h2: cc}, nil
}

// newHTTP1Transport builds the fallback transport: one request per connection,
// same handshake profile as the HTTP/2 path.
func (e *Engine) newHTTP1Transport(secure bool) *http.Transport {
	transport := &http.Transport{
		DisableCompression:    true,
		ForceAttemptHTTP2:     false,
		ResponseHeaderTimeout: e.cfg.Timeout,
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			return httpx.DialTCP(ctx, addr, nil)
		},
	}

	if secure {
		transport.DisableKeepAlives = true
		transport.DialTLSContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
			return httpx.DialUTLS(ctx, addr, e.cfg.Proxy, clientHelloID, e.tlsOptions("http/1.1"))
		}
	} else {
		transport.MaxConnsPerHost = 1
		transport.MaxIdleConnsPerHost = 1
		if e.cfg.Proxy != nil {
			transport.Proxy = http.ProxyURL(e.cfg.Proxy)
		}
	}

	return transport
}

func (e *Engine) tlsOptions(nextProtos ...string) httpx.TLSOptions {
	return httpx.TLSOptions{
		NextProtos:         nextProtos,
		RootCAs:            e.cfg.RootCAs,
		InsecureSkipVerify: e.cfg.InsecureSkipVerify,
	}
}

func (e *Engine) evict(target *url.URL, dc *domainConn) {
	key := domainKey(target)

	e.mu.Lock()
	defer e.mu.Unlock()

	if current, ok := e.conns[key]; ok && current == dc {
		delete(e.conns, key)
	}
	dc.close()
}

func parseTarget(rawUrl string) (*url.URL, error) {
	target, err := url.Parse(rawUrl)
	if err != nil {
		return nil, fmt.Errorf("could not parse request url: %w", err)
	}
	if target.Scheme != "http" && target.Scheme != "https" {
		return nil, fmt.Errorf("unsupported url scheme %q", target.Scheme)
	}
	if target.Host == "" {
		return nil, fmt.Errorf("request url %q has no host", rawUrl)
	}
	return target, nil
}

func hostPort(target *url.URL) string {
	if target.Port() != "" {
		return target.Host
	}
	if target.Scheme == "https" {
		return net.JoinHostPort(target.Hostname(), "443")
	}
	return net.JoinHostPort(target.Hostname(), "80")
}

func domainKey(target *url.URL) string {
	return target.Scheme + "://" + hostPort(target)
}
