// Package netclient is the thin HTTP façade used by every other component
// that talks to a remote service (EPrints, Internet Archive, Archive.Today).
// It owns retry/back-off policy, cooperative rate-limit handling, and HTTP
// status classification into the internal/errs taxonomy, so that callers
// never have to look at a status code themselves.
package netclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
	"github.com/hashicorp/go-cleanhttp"

	"github.com/eprints2archives/eprints2archives/internal/errs"
	"github.com/eprints2archives/eprints2archives/internal/interrupt"
)

// Tuning constants for the retry/back-off ladder.
const (
	maxConsecutiveFails = 3
	maxRetries          = 5
	maxRecursiveCalls   = 10
	interAttemptPause   = 500 * time.Millisecond
	defaultTimeout      = 20 * time.Second
)

// Response is a fully-buffered HTTP response. Bodies are read eagerly
// because every caller here (EPrints XML/text, archive TimeMaps, submit
// responses) is small enough that streaming buys nothing and eager
// reads keep the retry loop simple.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	History    []*http.Response // redirect chain, oldest first
}

func (r *Response) Text() string { return string(r.Body) }

// Options configures a single Request call.
type Options struct {
	Timeout         time.Duration // 0 => defaultTimeout
	Headers         map[string]string
	Host            string // overrides the request's Host header, as archive.today's host-failover needs
	Body            io.Reader
	Form            url.Values // if set and Body is nil, sent as application/x-www-form-urlencoded
	HandleRateLimit *bool      // nil => true
	PollingMode     bool       // 404/410 returned as normal response, not NoContent
	SingleAttempt   bool       // disable the retry ladder; caller owns its own retry policy
}

func (o Options) handleRateLimit() bool {
	if o.HandleRateLimit == nil {
		return true
	}
	return *o.HandleRateLimit
}

// Client is a NetClient instance. The zero value is not usable; use New.
type Client struct {
	transport http.RoundTripper
	hist      *hdrhistogram.Histogram // nil unless latency tracking is enabled
}

// New constructs a Client with a pooled, reusable transport (the same
// default go-cleanhttp gives retryablehttp clients, used here directly
// since the retry ladder below is this package's own, not
// retryablehttp's: its Backoff hook has no way to observe the
// InterruptToken, so it can't do the cooperative sleeps §4.1 requires).
func New() *Client {
	return &Client{transport: cleanhttp.DefaultPooledTransport()}
}

// WithLatencyHistogram enables per-request latency recording (microsecond
// resolution, 1µs–60s range), surfaced via Histogram(). Intended for
// --debug mode.
func (c *Client) WithLatencyHistogram() *Client {
	c.hist = hdrhistogram.New(1, 60_000_000, 3)
	return c
}

// Histogram returns the latency histogram, or nil if not enabled.
func (c *Client) Histogram() *hdrhistogram.Histogram { return c.hist }

// NetworkAvailable attempts a plain TCP connect to a well-known DNS server
// to decide whether the machine has any network connectivity at all. It
// does not perform an actual DNS lookup.
func NetworkAvailable() bool {
	return NetworkAvailableAddr("8.8.8.8:53", 5*time.Second)
}

// NetworkAvailableAddr is NetworkAvailable with an overridable address and
// timeout, exposed for tests.
func NetworkAvailableAddr(addr string, timeout time.Duration) bool {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

// Request performs method on url with opts, retrying transient failures
// through a two-tier ladder: up to
// maxConsecutiveFails tight retries with a short pause, then up to
// maxRetries backed-off rounds sleeping 10·k² seconds. The first error
// observed is the one returned if every budget is exhausted; later errors
// during an outage tend to just be "cannot reconnect" noise.
func (c *Client) Request(ctx context.Context, tok *interrupt.Token, method, rawURL string, opts Options) (*Response, error) {
	if opts.Timeout == 0 {
		opts.Timeout = defaultTimeout
	}
	consecutiveFailsBudget := maxConsecutiveFails
	retriesBudget := maxRetries
	if opts.SingleAttempt {
		consecutiveFailsBudget = 1
		retriesBudget = 0
	}

	rateLimitTries := 0
	var firstErr error
	failures := 0
	for retries := 0; ; {
		resp, history, err := c.attempt(ctx, method, rawURL, opts)
		if err == nil {
			out, serr := c.classify(resp, history, opts)
			if serr == nil {
				return out, nil
			}
			if rl, ok := serr.(*errs.RateLimitExceeded); ok {
				if !opts.handleRateLimit() || rateLimitTries >= maxRecursiveCalls {
					return out, rl
				}
				pause := time.Duration(5*(rateLimitTries+1)) * time.Second
				rateLimitTries++
				if waitErr := wait(tok, pause); waitErr != nil {
					return nil, waitErr
				}
				continue
			}
			if !retryableStatus(serr) {
				return out, serr
			}
			err = serr
		}
		if isPermanent(err) {
			return nil, err
		}
		failures++
		if firstErr == nil {
			firstErr = err
		}
		if tok != nil {
			if werr := tok.RaiseIfSet(); werr != nil {
				return nil, werr
			}
		}
		if failures < consecutiveFailsBudget {
			if waitErr := wait(tok, interAttemptPause); waitErr != nil {
				return nil, waitErr
			}
			continue
		}
		// Consecutive-failure budget exhausted: pause with exponential
		// back-off, reset the failure count, and try another round.
		if retries >= retriesBudget {
			return nil, firstErr
		}
		retries++
		failures = 0
		pause := time.Duration(10*retries*retries) * time.Second
		if waitErr := wait(tok, pause); waitErr != nil {
			return nil, waitErr
		}
	}
}

// wait sleeps d, observing the interrupt token when one is supplied.
func wait(tok *interrupt.Token, d time.Duration) error {
	if tok != nil {
		return tok.Wait(d)
	}
	time.Sleep(d)
	return nil
}

// retryableStatus reports whether a status-derived error should feed back
// into the consecutive-failure retry ladder (NetworkFailure, ServiceFailure)
// as opposed to being surfaced immediately (NoContent, AuthenticationFailure,
// BadArg, InternalError — all non-fatal-but-not-retried or fatal-immediately).
func retryableStatus(err error) bool {
	switch err.(type) {
	case *errs.NetworkFailure, *errs.ServiceFailure:
		return true
	default:
		return false
	}
}

// attempt performs exactly one HTTP round trip and reads the full body.
// Redirects are always followed; each intermediate 3xx response is
// recorded in history so callers (the
// Archive.Today driver in particular) can recover a Location header from a
// hop even though the final response already moved past it.
func (c *Client) attempt(ctx context.Context, method, rawURL string, opts Options) (*http.Response, []*http.Response, error) {
	var body io.Reader
	if opts.Body != nil {
		body = opts.Body
	} else if opts.Form != nil {
		body = strings.NewReader(opts.Form.Encode())
	}

	reqCtx := ctx
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(reqCtx, strings.ToUpper(method), rawURL, body)
	if err != nil {
		return nil, nil, &errs.BadURL{Msg: fmt.Sprintf("invalid request for %s: %v", rawURL, err)}
	}
	if opts.Form != nil && opts.Body == nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	for k, v := range opts.Headers {
		req.Header.Set(k, v)
	}
	if opts.Host != "" {
		req.Host = opts.Host
	}

	var history []*http.Response
	client := &http.Client{
		Transport: c.transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if req.Response != nil {
				history = append(history, req.Response)
			}
			if len(via) >= 10 {
				return errors.New("stopped after 10 redirects")
			}
			return nil
		},
	}

	start := time.Now()
	resp, err := client.Do(req)
	if c.hist != nil && err == nil {
		_ = c.hist.RecordValue(time.Since(start).Microseconds())
	}
	if err != nil {
		return nil, nil, classifyTransportError(err, rawURL)
	}
	return resp, history, nil
}

// classify reads the body, applies rate-limit handling, and maps the HTTP
// status into the errs taxonomy, mirroring network.py's net().
func (c *Client) classify(resp *http.Response, history []*http.Response, opts Options) (*Response, error) {
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &errs.NetworkFailure{Msg: fmt.Sprintf("reading response body: %v", err)}
	}
	out := &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: data, History: history}
	code := resp.StatusCode
	switch {
	case code == 400:
		return out, &errs.BadArg{Msg: "server rejected the request"}
	case code == 401 || code == 402 || code == 403 || code == 407 || code == 451 || code == 511:
		return out, &errs.AuthenticationFailure{Msg: "access is forbidden"}
	case (code == 404 || code == 410) && !opts.PollingMode:
		return out, &errs.NoContent{Msg: "no content found"}
	case code == 404 || code == 410:
		return out, nil
	case code == 405 || code == 406 || code == 409 || code == 411 || code == 412 || code == 414 || code == 417 || code == 428 || code == 431 || code == 505 || code == 510:
		return out, &errs.InternalError{Msg: fmt.Sprintf("server returned code %d", code)}
	case code == 415 || code == 416:
		return out, &errs.ServiceFailure{Msg: fmt.Sprintf("server rejected the request (%d)", code)}
	case code == 429:
		return out, &errs.RateLimitExceeded{Msg: "server blocking requests due to rate limits"}
	case code == 503:
		return out, &errs.ServiceFailure{Msg: "service unavailable"}
	case code == 504:
		return out, &errs.ServiceFailure{Msg: "server timeout"}
	case code == 500 || code == 501 || code == 502 || code == 506 || code == 507 || code == 508:
		return out, &errs.ServiceFailure{Msg: fmt.Sprintf("server error (code %d)", code)}
	case code < 200 || code >= 400:
		return out, &errs.NetworkFailure{Msg: fmt.Sprintf("unable to resolve %s", resp.Request.URL)}
	default:
		return out, nil
	}
}

// isPermanent reports whether err should never be retried: a malformed
// request can't be fixed by trying again.
func isPermanent(err error) bool {
	var bad *errs.BadURL
	return asBadURL(err, &bad)
}

func asBadURL(err error, target **errs.BadURL) bool {
	if b, ok := err.(*errs.BadURL); ok {
		*target = b
		return true
	}
	return false
}

func classifyTransportError(err error, rawURL string) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "context canceled"):
		return &errs.UserCancelled{Msg: "interrupted"}
	case strings.Contains(msg, "Timeout") || strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded"):
		if NetworkAvailable() {
			return &errs.ServiceFailure{Msg: fmt.Sprintf("timed out reading data from %s", rawURL)}
		}
		return &errs.NetworkFailure{Msg: fmt.Sprintf("timed out reading data over network for %s", rawURL)}
	case strings.Contains(msg, "no such host") || strings.Contains(msg, "connection refused") || strings.Contains(msg, "EOF") || strings.Contains(msg, "reset by peer"):
		return &errs.NetworkFailure{Msg: fmt.Sprintf("%s for %s", msg, rawURL)}
	default:
		return &errs.NetworkFailure{Msg: msg}
	}
}

// FormBody encodes values as a POST body, matching the shape archive
// drivers need.
func FormBody(values url.Values) io.Reader {
	return bytes.NewBufferString(values.Encode())
}
