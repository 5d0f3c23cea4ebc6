package archive

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/eprints2archives/eprints2archives/internal/errs"
	"github.com/eprints2archives/eprints2archives/internal/interrupt"
	"github.com/eprints2archives/eprints2archives/internal/netclient"
	"github.com/eprints2archives/eprints2archives/internal/timemap"
)

// CatalogEntry describes one additional archiving destination, beyond
// the two built-in drivers, as a JSON object:
//
//	{
//	  "label": "perma.cc",
//	  "name": "Perma.cc",
//	  "color": "cyan",
//	  "timemap_url": "https://api.perma.cc/v1/timemap/{url}",
//	  "submit_url": "https://api.perma.cc/v1/archives?url={url}"
//	}
//
// "{url}" is substituted with the (uniform-normalised) target URL in
// both templates.
type CatalogEntry struct {
	Label      string
	Name       string
	Color      string
	TimeMapURL string
	SubmitURL  string
}

// LoadCatalog reads a JSON array of CatalogEntry objects from path.
func LoadCatalog(path string) ([]CatalogEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &errs.BadArg{Msg: fmt.Sprintf("cannot read service catalog %s: %v", path, err)}
	}
	if !gjson.ValidBytes(data) {
		return nil, &errs.BadArg{Msg: fmt.Sprintf("%s is not valid JSON", path)}
	}

	var entries []CatalogEntry
	var parseErr error
	gjson.ParseBytes(data).ForEach(func(_, v gjson.Result) bool {
		label := v.Get("label").String()
		if label == "" {
			parseErr = &errs.BadArg{Msg: "service catalog entry is missing a label"}
			return false
		}
		entries = append(entries, CatalogEntry{
			Label:      label,
			Name:       v.Get("name").String(),
			Color:      v.Get("color").String(),
			TimeMapURL: v.Get("timemap_url").String(),
			SubmitURL:  v.Get("submit_url").String(),
		})
		return true
	})
	if parseErr != nil {
		return nil, parseErr
	}
	return entries, nil
}

// CatalogDriver is a Driver implementation for catalog-described
// services that follow the same shape as InternetArchive: a GET
// against a TimeMap URL to check for existing mementos, then a POST
// against a submit URL to archive.
type CatalogDriver struct {
	nc    *netclient.Client
	entry CatalogEntry
}

func NewCatalogDriver(nc *netclient.Client, entry CatalogEntry) *CatalogDriver {
	return &CatalogDriver{nc: nc, entry: entry}
}

func (d *CatalogDriver) Name() string  { return d.entry.Name }
func (d *CatalogDriver) Label() string { return d.entry.Label }
func (d *CatalogDriver) Color() string { return d.entry.Color }

func (d *CatalogDriver) Save(ctx context.Context, tok *interrupt.Token, rawURL string, notify NotifyFunc, force bool) (bool, int, error) {
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

func (d *CatalogDriver) attemptSave(ctx context.Context, tok *interrupt.Token, rawURL, uniform string, force bool) (bool, int, error) {
	if !force && d.entry.TimeMapURL != "" {
		tm, err := d.timeMap(ctx, tok, uniform)
		if err != nil {
			return false, 0, err
		}
		if n := len(tm.Mementos); n > 0 {
			return false, n, nil
		}
	}
	if err := d.submit(ctx, tok, uniform); err != nil {
		return false, 0, err
	}
	if force {
		return true, -1, nil
	}
	return true, 0, nil
}

func (d *CatalogDriver) timeMap(ctx context.Context, tok *interrupt.Token, uniform string) (*timemap.TimeMap, error) {
	actionURL := strings.ReplaceAll(d.entry.TimeMapURL, "{url}", uniform)
	resp, err := d.nc.Request(ctx, tok, "GET", actionURL, netclient.Options{})
	if err != nil {
		if _, ok := err.(*errs.NoContent); ok {
			return &timemap.TimeMap{}, nil
		}
		return nil, err
	}
	return timemap.Parse(resp.Text(), true)
}

func (d *CatalogDriver) submit(ctx context.Context, tok *interrupt.Token, uniform string) error {
	actionURL := strings.ReplaceAll(d.entry.SubmitURL, "{url}", uniform)
	_, err := d.nc.Request(ctx, tok, "POST", actionURL, netclient.Options{})
	return err
}
