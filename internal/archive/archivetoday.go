package archive

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/eprints2archives/eprints2archives/internal/errs"
	"github.com/eprints2archives/eprints2archives/internal/interrupt"
	"github.com/eprints2archives/eprints2archives/internal/netclient"
	"github.com/eprints2archives/eprints2archives/internal/timemap"
)

// archiveTodayHosts lists the interchangeable DNS names Archive.Today
// answers on. Some stop responding while others start, so every driver
// instance probes them in order and sticks with the first that works.
var archiveTodayHosts = []string{
	"archive.li", "archive.vn", "archive.fo", "archive.md",
	"archive.ph", "archive.today", "archive.is",
}

const archiveTodayRateLimitPause = 300 * time.Second

// ArchiveToday is the archive.today/archive.ph driver, ported from
// services/archivetoday.py.
type ArchiveToday struct {
	nc *netclient.Client

	mu        sync.Mutex
	host      string
	submitID  string
	available bool
	checked   bool
}

func NewArchiveToday(nc *netclient.Client) *ArchiveToday {
	return &ArchiveToday{nc: nc}
}

func (d *ArchiveToday) Name() string  { return "Archive.today" }
func (d *ArchiveToday) Label() string { return "archive.today" }
func (d *ArchiveToday) Color() string { return "yellow" }

func (d *ArchiveToday) Save(ctx context.Context, tok *interrupt.Token, rawURL string, notify NotifyFunc, force bool) (bool, int, error) {
	uniform := uniformURL(rawURL)
	var added bool
	var existing int
	err := retryLoop(tok, notify, maxRetries, archiveTodayRateLimitPause, 60, 0, func() error {
		a, e, aerr := d.attemptSave(ctx, tok, rawURL, uniform, force)
		added, existing = a, e
		return aerr
	})
	if err != nil {
		if _, ok := err.(unavailableError); ok {
			if notify != nil {
				notify(StatusUnavailable)
			}
			return false, -1, nil
		}
		return false, 0, err
	}
	return added, existing, nil
}

func (d *ArchiveToday) attemptSave(ctx context.Context, tok *interrupt.Token, rawURL, uniform string, force bool) (bool, int, error) {
	host, submitID, err := d.ensureHost(ctx, tok)
	if err != nil {
		return false, 0, err
	}

	if !force {
		tm, err := d.timeMap(ctx, tok, host, uniform)
		if err != nil {
			return false, 0, err
		}
		if n := len(tm.Mementos); n > 0 {
			return false, n, nil
		}
	}

	if err := d.submit(ctx, tok, host, submitID, rawURL); err != nil {
		return false, 0, err
	}
	if force {
		return true, -1, nil
	}
	return true, 0, nil
}

// ensureHost returns the adopted host and its submitid, discovering
// both on first use. A host that returns a retryable failure (modelled
// here as an http.StatusServiceUnavailable/ServiceFailure response,
// since Archive.Today signals rate-limiting via 503 rather than 429)
// is skipped in favour of the next one; if every host in the list is
// currently rate-limiting, the whole discovery attempt is reported as
// *errs.RateLimitExceeded so the caller's retryLoop paces and retries
// it. If every host fails for some other reason, the driver is marked
// permanently unavailable.
func (d *ArchiveToday) ensureHost(ctx context.Context, tok *interrupt.Token) (string, string, error) {
	d.mu.Lock()
	if d.checked {
		host, submitID, available := d.host, d.submitID, d.available
		d.mu.Unlock()
		if available {
			return host, submitID, nil
		}
		return "", "", unavailableError{msg: "Archive.Today is unavailable"}
	}
	d.mu.Unlock()

	sawRateLimit := false
	for _, host := range archiveTodayHosts {
		resp, err := d.nc.Request(ctx, tok, "GET", "https://"+host+"/", netclient.Options{
			Headers:       userAgentHeader(),
			SingleAttempt: true,
		})
		if err != nil {
			if _, ok := err.(*errs.ServiceFailure); ok {
				sawRateLimit = true
			}
			continue
		}

		submitID, perr := extractSubmitID(resp.Text())
		if perr != nil {
			return "", "", perr
		}

		d.mu.Lock()
		d.host, d.submitID, d.available, d.checked = host, submitID, true, true
		d.mu.Unlock()
		return host, submitID, nil
	}

	if sawRateLimit {
		return "", "", &errs.RateLimitExceeded{Msg: "every Archive.Today host is rate-limiting"}
	}

	d.mu.Lock()
	d.available, d.checked = false, true
	d.mu.Unlock()
	return "", "", unavailableError{msg: "no Archive.Today host responded"}
}

// extractSubmitID pulls the hidden submitid input's value out of
// Archive.Today's front page, using the same split-based extraction
// the earlier tool (via ArchiveNow) used instead of a full HTML parse.
func extractSubmitID(pageHTML string) (string, error) {
	const marker = `name="submitid`
	idx := strings.Index(pageHTML, marker)
	if idx < 0 {
		return "", &errs.InternalError{Msg: "unable to parse Archive.Today page"}
	}
	rest := pageHTML[idx+len(marker):]
	const valueMarker = `value="`
	vi := strings.Index(rest, valueMarker)
	if vi < 0 {
		return "", &errs.InternalError{Msg: "unable to parse Archive.Today page"}
	}
	rest = rest[vi+len(valueMarker):]
	end := strings.Index(rest, `"`)
	if end < 0 {
		return "", &errs.InternalError{Msg: "unable to parse Archive.Today page"}
	}
	return rest[:end], nil
}

// timeMap asks host for existing mementos of uniform. A 503 here is
// Archive.Today's rate-limit signal (it does not use 429), so it is
// reinterpreted as *errs.RateLimitExceeded for the enclosing retryLoop
// to pace at archiveTodayRateLimitPause.
func (d *ArchiveToday) timeMap(ctx context.Context, tok *interrupt.Token, host, uniform string) (*timemap.TimeMap, error) {
	actionURL := fmt.Sprintf("https://%s/timemap/%s", host, uniform)
	resp, err := d.nc.Request(ctx, tok, "GET", actionURL, netclient.Options{
		Headers:       userAgentHeader(),
		SingleAttempt: true,
	})
	if err != nil {
		if _, ok := err.(*errs.NoContent); ok {
			return &timemap.TimeMap{}, nil
		}
		if _, ok := err.(*errs.ServiceFailure); ok {
			return nil, &errs.RateLimitExceeded{Msg: "Archive.Today TimeMap endpoint is rate-limiting"}
		}
		return nil, err
	}
	return timemap.Parse(resp.Text(), true)
}

// submit posts the ordered {submitid, url} body Archive.Today demands.
// The saved memento is expected via a Refresh header, a Location
// header, or a Location header on some response earlier in the
// redirect chain; any other shape is an InternalError.
func (d *ArchiveToday) submit(ctx context.Context, tok *interrupt.Token, host, submitID, rawURL string) error {
	body := url.QueryEscape("submitid") + "=" + url.QueryEscape(submitID) +
		"&" + url.QueryEscape("url") + "=" + url.QueryEscape(rawURL)

	headers := userAgentHeader()
	headers["Content-Type"] = "application/x-www-form-urlencoded"

	resp, err := d.nc.Request(ctx, tok, "POST", fmt.Sprintf("https://%s/submit/", host), netclient.Options{
		Headers:       headers,
		Host:          host,
		Body:          strings.NewReader(body),
		SingleAttempt: true,
	})
	if err != nil {
		return err
	}

	if refresh := resp.Header.Get("Refresh"); refresh != "" {
		if idx := strings.Index(refresh, ";url="); idx >= 0 {
			return nil
		}
		return &errs.InternalError{Msg: "unexpected format of Refresh header from Archive.Today"}
	}
	if loc := resp.Header.Get("Location"); loc != "" {
		return nil
	}
	for _, h := range resp.History {
		if loc := h.Header.Get("Location"); loc != "" {
			return nil
		}
	}
	return &errs.InternalError{Msg: "Archive.Today returned unexpected response"}
}
