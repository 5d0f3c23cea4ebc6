// Package archive implements the web-archiving service drivers:
// InternetArchive and ArchiveToday, plus a generic catalog-driven
// driver for additional destinations described by a JSON catalog file.
// Each driver exposes the same small capability set: a name, a display
// color, and a way to submit one URL.
package archive

import (
	"context"
	"math"
	"strings"
	"time"

	"github.com/eprints2archives/eprints2archives/internal/errs"
	"github.com/eprints2archives/eprints2archives/internal/interrupt"
	"github.com/eprints2archives/eprints2archives/internal/netclient"
)

// Status is a driver's externally-observable state, reported through a
// NotifyFunc between URL submissions.
type Status string

const (
	StatusRunning         Status = "RUNNING"
	StatusPausedRateLimit Status = "PAUSED_RATE_LIMIT"
	StatusPausedError     Status = "PAUSED_ERROR"
	StatusUnavailable     Status = "UNAVAILABLE"
)

// NotifyFunc is called whenever a driver transitions between Status
// values. It must not block the caller.
type NotifyFunc func(Status)

func noopNotify(Status) {}

// Driver is the capability every archiving service exposes.
type Driver interface {
	Name() string
	Label() string
	Color() string

	// Save asks the service to archive rawURL. With force false, it
	// first checks for existing mementos and, if any are found,
	// returns (false, count) without submitting. With force true, the
	// existence check is skipped and existingCount is always -1.
	Save(ctx context.Context, tok *interrupt.Token, rawURL string, notify NotifyFunc, force bool) (added bool, existingCount int, err error)
}

const userAgent = "Mozilla/5.0 (eprints2archives)"

func userAgentHeader() map[string]string {
	return map[string]string{"User-Agent": userAgent}
}

// uniformURL normalises a URL the way every driver's _uniform helper
// does: trim whitespace, then replace remaining spaces with
// underscores, since none of these services tolerate literal spaces in
// the path they're given.
func uniformURL(rawURL string) string {
	return strings.ReplaceAll(strings.TrimSpace(rawURL), " ", "_")
}

// permanentError is implemented by errors that retryLoop should
// surface immediately rather than retry or back off from.
type permanentError interface {
	error
	permanent()
}

type unavailableError struct{ msg string }

func (e unavailableError) Error() string { return e.msg }
func (unavailableError) permanent()      {}

// wait sleeps d, observing the interrupt token when one is supplied.
func wait(tok *interrupt.Token, d time.Duration) error {
	if tok != nil {
		return tok.Wait(d)
	}
	time.Sleep(d)
	return nil
}

// retryLoop wraps op with the {rate-limit pause, error back-off} policy
// shared by every driver: a *errs.RateLimitExceeded always pauses
// rateLimitPause and retries without consuming the retry budget; any
// other error counts against maxRetries and, after the k-th failure,
// pauses base·(k-offset)² seconds before the next attempt (with offset
// 1 the first failure is retried at once; with offset 0 every failure
// pauses). A permanentError short-circuits immediately.
func retryLoop(tok *interrupt.Token, notify NotifyFunc, maxRetries int, rateLimitPause time.Duration, base float64, offset int, op func() error) error {
	if notify == nil {
		notify = noopNotify
	}
	var firstErr error
	k := 0
	for {
		err := op()
		if err == nil {
			return nil
		}
		if _, ok := err.(permanentError); ok {
			return err
		}
		if _, ok := err.(*errs.RateLimitExceeded); ok {
			notify(StatusPausedRateLimit)
			if werr := wait(tok, rateLimitPause); werr != nil {
				return werr
			}
			notify(StatusRunning)
			continue
		}
		if firstErr == nil {
			firstErr = err
		}
		k++
		if k >= maxRetries {
			return firstErr
		}
		pause := base * math.Pow(float64(k-offset), 2)
		if pause > 0 {
			notify(StatusPausedError)
			if werr := wait(tok, time.Duration(pause)*time.Second); werr != nil {
				return werr
			}
			notify(StatusRunning)
		}
	}
}

const maxRetries = 8

// KnownDrivers returns every built-in driver keyed by the destination
// name "--dest" accepts ("internetarchive", "archivetoday"), ready for
// Pipeline's "--dest all" expansion. For Archive.today this key is not
// the same string as its Label().
func KnownDrivers(nc *netclient.Client) map[string]Driver {
	return map[string]Driver{
		"internetarchive": NewInternetArchive(nc),
		"archivetoday":    NewArchiveToday(nc),
	}
}
