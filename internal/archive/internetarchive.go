package archive

import (
	"context"
	"net/url"
	"time"

	"github.com/eprints2archives/eprints2archives/internal/errs"
	"github.com/eprints2archives/eprints2archives/internal/interrupt"
	"github.com/eprints2archives/eprints2archives/internal/netclient"
	"github.com/eprints2archives/eprints2archives/internal/timemap"
)

// InternetArchive is the Save Page Now / web.archive.org driver, ported
// from services/internetarchive.py.
type InternetArchive struct {
	nc *netclient.Client
}

func NewInternetArchive(nc *netclient.Client) *InternetArchive {
	return &InternetArchive{nc: nc}
}

func (d *InternetArchive) Name() string  { return "Internet Archive" }
func (d *InternetArchive) Label() string { return "internetarchive" }
func (d *InternetArchive) Color() string { return "white" }

func (d *InternetArchive) Save(ctx context.Context, tok *interrupt.Token, rawURL string, notify NotifyFunc, force bool) (bool, int, error) {
	uniform := uniformURL(rawURL)
	var added bool
	var existing int
	err := retryLoop(tok, notify, maxRetries, 10*time.Second, 60, 1, func() error {
		a, e, aerr := d.attemptSave(ctx, tok, rawURL, uniform, force)
		added, existing = a, e
		return aerr
	})
	if err != nil {
		return false, 0, err
	}
	return added, existing, nil
}

func (d *InternetArchive) attemptSave(ctx context.Context, tok *interrupt.Token, rawURL, uniform string, force bool) (bool, int, error) {
	if !force {
		tm, err := d.timeMap(ctx, tok, uniform)
		if err != nil {
			return false, 0, err
		}
		if n := len(tm.Mementos); n > 0 {
			return false, n, nil
		}
	}
	if err := d.submit(ctx, tok, rawURL, uniform); err != nil {
		return false, 0, err
	}
	if force {
		return true, -1, nil
	}
	return true, 0, nil
}

// timeMap asks web.archive.org for existing mementos of uniform. Rate
// limiting (429, handleRateLimit disabled here) is surfaced as
// *errs.RateLimitExceeded and handled by the enclosing retryLoop, which
// paces it at the 10 s the driver's policy calls for.
func (d *InternetArchive) timeMap(ctx context.Context, tok *interrupt.Token, uniform string) (*timemap.TimeMap, error) {
	f := false
	actionURL := "https://web.archive.org/web/timemap/link/" + uniform
	resp, err := d.nc.Request(ctx, tok, "GET", actionURL, netclient.Options{HandleRateLimit: &f})
	if err != nil {
		if _, ok := err.(*errs.NoContent); ok {
			return &timemap.TimeMap{}, nil
		}
		return nil, err
	}
	return timemap.Parse(resp.Text(), true)
}

func (d *InternetArchive) submit(ctx context.Context, tok *interrupt.Token, rawURL, uniform string) error {
	form := url.Values{}
	form.Set("url", rawURL)
	form.Set("capture_all", "on")
	f := false
	_, err := d.nc.Request(ctx, tok, "POST", "https://web.archive.org/save/"+uniform, netclient.Options{
		Form:            form,
		HandleRateLimit: &f,
	})
	return err
}
