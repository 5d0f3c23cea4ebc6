// Package pipeline implements the concurrent archival fan-out engine:
// Pipeline.Run, in the five steps it specifies
// (preflight, identifier set, URL assembly, fan-out, shutdown), ported
// from main_body.py's MainBody.
package pipeline

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"golang.org/x/sync/errgroup"

	"github.com/eprints2archives/eprints2archives/internal/archive"
	"github.com/eprints2archives/eprints2archives/internal/auth"
	"github.com/eprints2archives/eprints2archives/internal/eprints"
	"github.com/eprints2archives/eprints2archives/internal/errs"
	"github.com/eprints2archives/eprints2archives/internal/interrupt"
	"github.com/eprints2archives/eprints2archives/internal/netclient"
	"github.com/eprints2archives/eprints2archives/internal/reporter"
)

// ProgressSink is the boundary progress collaborator this system
// describes: a per-destination NotifyFunc source, plus a per-URL
// outcome counter. A nil sink is a valid, silent default.
type ProgressSink interface {
	Notify(serviceName, serviceColor string) archive.NotifyFunc
	Counted(serviceName string, added bool)
}

// Config is the full set of knobs Pipeline.Run needs, assembled by the
// CLI boundary, possibly merged with internal/config's optional YAML
// overlay.
type Config struct {
	APIURL string
	Auth   auth.Source

	Dest    string // "all" or a comma-separated list of driver labels
	Force   bool
	IDList  string
	LastMod string // raw --lastmod expression; empty means no filter
	Status  string // "any", or "[^]csv"
	Threads int

	ReportPath  string
	QuitOnError bool
	Exclude     []string // doublestar glob patterns matched against a URL's path

	CatalogPath  string        // optional JSON file of additional destinations
	SubmitPacing time.Duration // 0 disables per-service submission pacing

	Progress ProgressSink
}

// Outcome summarises one run for the caller (and for --debug/logging).
type Outcome struct {
	URLCount int
	Added    int
	Skipped  int
}

// Run executes the five-step pipeline against cfg, observing tok for
// cancellation throughout.
func Run(ctx context.Context, tok *interrupt.Token, nc *netclient.Client, cfg Config) (Outcome, error) {
	rep := reporter.New(cfg.ReportPath)

	dests, client, wanted, missing, err := preflight(ctx, tok, nc, cfg)
	if err != nil {
		return Outcome{}, err
	}

	if err := rep.Start(time.Now().UTC().Format(time.RFC3339)); err != nil {
		return Outcome{}, fmt.Errorf("writing report header: %w", err)
	}

	index, err := client.Index(ctx, tok)
	if err != nil {
		return Outcome{}, fmt.Errorf("fetching EPrints index: %w", err)
	}
	if len(index) == 0 {
		return Outcome{}, fmt.Errorf("received an empty record index from %s", client)
	}
	_ = rep.Note(fmt.Sprintf("EPrints server at %s has %d records.", cfg.APIURL, len(index)))

	if len(missing) > 0 {
		msg := fmt.Sprintf("Of the records requested, the following don't exist and will be skipped: %s.", strings.Join(missing, ", "))
		if cfg.QuitOnError {
			return Outcome{}, fmt.Errorf("%d of the requested records do not exist on the server: %s", len(missing), strings.Join(missing, ", "))
		}
		_ = rep.Note(msg)
	}
	if len(wanted) > 0 {
		_ = rep.Note(fmt.Sprintf("A total of %d records from %s will be used.", len(wanted), client))
	}

	urls, err := assembleURLs(ctx, tok, client, cfg, wanted, rep)
	if err != nil {
		return Outcome{}, err
	}
	if len(urls) == 0 {
		return Outcome{}, nil
	}

	if err := tok.RaiseIfSet(); err != nil {
		_ = rep.Interrupted()
		return Outcome{}, err
	}

	outcome, err := fanOut(ctx, tok, cfg, dests, urls, rep)
	if err != nil {
		if _, ok := err.(*errs.UserCancelled); ok {
			_ = rep.Interrupted()
		}
		return outcome, err
	}

	_ = rep.Finish(len(urls))
	return outcome, nil
}

// preflight validates configuration, resolves destinations and
// credentials, and constructs the EPrintsClient, mirroring
// _do_preflight and the start of _do_main_work in main_body.py.
func preflight(ctx context.Context, tok *interrupt.Token, nc *netclient.Client, cfg Config) (map[string]archive.Driver, *eprints.Client, []string, []string, error) {
	if !netclient.NetworkAvailable() {
		return nil, nil, nil, nil, &errs.CannotProceed{Msg: "no network connection", Code: errs.ExitNoNetwork}
	}
	if cfg.APIURL == "" {
		return nil, nil, nil, nil, &errs.CannotProceed{Msg: "must provide an EPrints API URL", Code: errs.ExitBadArg}
	}
	if cfg.LastMod != "" {
		if _, err := ParseLastMod(cfg.LastMod); err != nil {
			return nil, nil, nil, nil, &errs.CannotProceed{Msg: err.Error(), Code: errs.ExitBadArg}
		}
	}

	dests, err := resolveDestinations(nc, cfg)
	if err != nil {
		return nil, nil, nil, nil, &errs.CannotProceed{Msg: err.Error(), Code: errs.ExitBadArg}
	}

	host := hostOf(cfg.APIURL)
	var user, password string
	if cfg.Auth != nil {
		var cancelled bool
		user, password, cancelled = cfg.Auth.Credentials(host)
		if cancelled {
			return nil, nil, nil, nil, &errs.UserCancelled{Msg: "user cancelled the credentials prompt"}
		}
	}

	client, err := eprints.New(ctx, tok, nc, cfg.APIURL, user, password)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	wantedRaw, err := ParseIDList(cfg.IDList)
	if err != nil {
		return nil, nil, nil, nil, &errs.CannotProceed{Msg: err.Error(), Code: errs.ExitBadArg}
	}

	if !reporter.Writable(cfg.ReportPath) {
		return nil, nil, nil, nil, &errs.CannotProceed{Msg: fmt.Sprintf("cannot write to file %q", cfg.ReportPath), Code: errs.ExitFileError}
	}

	index, err := client.Index(ctx, tok)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	wanted, missing := diffWanted(wantedRaw, index)
	return dests, client, wanted, missing, nil
}

// diffWanted splits wantedRaw into what's present in available and
// what's missing, mirroring main_body.py's set-difference logic with
// sorted-by-int output order.
func diffWanted(wantedRaw, available []string) (wanted, missing []string) {
	if len(wantedRaw) == 0 {
		return append([]string(nil), available...), nil
	}
	have := map[string]bool{}
	for _, id := range available {
		have[id] = true
	}
	seen := map[string]bool{}
	for _, id := range wantedRaw {
		if seen[id] {
			continue
		}
		seen[id] = true
		if have[id] {
			wanted = append(wanted, id)
		} else {
			missing = append(missing, id)
		}
	}
	sortNumeric(wanted)
	sortNumeric(missing)
	return wanted, missing
}

func sortNumeric(ids []string) {
	sort.Slice(ids, func(i, j int) bool {
		if len(ids[i]) != len(ids[j]) {
			return len(ids[i]) < len(ids[j])
		}
		return ids[i] < ids[j]
	})
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	if u.Host == "" {
		return rawURL
	}
	return u.Host
}

// resolveDestinations expands "all" to every known driver, or resolves
// a comma-separated list of driver labels, optionally extended by a
// JSON service catalog file, applying Config.SubmitPacing when set.
func resolveDestinations(nc *netclient.Client, cfg Config) (map[string]archive.Driver, error) {
	known := archive.KnownDrivers(nc)
	if cfg.CatalogPath != "" {
		entries, err := archive.LoadCatalog(cfg.CatalogPath)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			known[e.Label] = archive.NewCatalogDriver(nc, e)
		}
	}

	var selected map[string]archive.Driver
	if cfg.Dest == "" || cfg.Dest == "all" {
		selected = known
	} else {
		selected = map[string]archive.Driver{}
		for _, label := range strings.Split(cfg.Dest, ",") {
			label = strings.TrimSpace(label)
			d, ok := known[label]
			if !ok {
				return nil, fmt.Errorf("unknown destination service %q", label)
			}
			selected[label] = d
		}
	}

	if cfg.SubmitPacing > 0 {
		paced := make(map[string]archive.Driver, len(selected))
		for label, d := range selected {
			paced[label] = archive.NewPaced(d, cfg.SubmitPacing)
		}
		selected = paced
	}
	return selected, nil
}

// assembleURLs implements this system step 3: generic site URLs, then
// either the official_url fast path or the full-XML filtered path, then
// the id/eprint and plain-record URL pairs, validated, exclude-filtered,
// and de-duplicated in first-seen order.
func assembleURLs(ctx context.Context, tok *interrupt.Token, client *eprints.Client, cfg Config, wanted []string, rep *reporter.Reporter) ([]string, error) {
	statusFilter := NewStatusFilter(cfg.Status)
	var lastmod time.Time
	if cfg.LastMod != "" {
		lastmod, _ = ParseLastMod(cfg.LastMod)
	}

	var genericURLs []string
	if len(wanted) > 0 && cfg.IDList != "" {
		// this system Open Question (c): with an explicit --id-list,
		// only the view pages for that subset contribute generic URLs.
		u, err := client.ViewURLs(ctx, tok, wanted)
		if err != nil {
			return nil, err
		}
		genericURLs = u
	} else {
		top, err := client.TopLevelURLs(ctx, tok)
		if err != nil {
			return nil, err
		}
		view, err := client.ViewURLs(ctx, tok, nil)
		if err != nil {
			return nil, err
		}
		genericURLs = unique(append(append([]string{}, top...), view...))
	}

	var officialURLs []string
	var recordIDs []string
	if cfg.LastMod == "" && statusFilter == nil {
		recordIDs = wanted
		results, err := gather(wanted, cfg.Threads, func(id string) (string, error) {
			val, ok, ferr := client.FieldValue(ctx, tok, id, "official_url")
			if ferr != nil {
				return "", recordErr(ferr, cfg.QuitOnError)
			}
			if !ok {
				return "", nil
			}
			if err := tok.RaiseIfSet(); err != nil {
				return "", err
			}
			return val, nil
		})
		if err != nil {
			return nil, err
		}
		officialURLs = nonEmpty(results)
	} else {
		records, err := gather(wanted, cfg.Threads, func(id string) (*eprints.Record, error) {
			rec, ferr := client.EPrintXML(ctx, tok, id)
			if ferr != nil {
				return nil, recordErr(ferr, cfg.QuitOnError)
			}
			if err := tok.RaiseIfSet(); err != nil {
				return nil, err
			}
			return rec, nil
		})
		if err != nil {
			return nil, err
		}

		var kept []*eprints.Record
		skipped := 0
		for _, rec := range records {
			if rec == nil {
				continue
			}
			modtime, _ := rec.FieldValue("lastmod")
			status, _ := rec.FieldValue("eprint_status")
			if cfg.LastMod != "" && modtime != "" {
				if parsed, perr := ParseLastMod(modtime); perr == nil && parsed.Before(lastmod) {
					skipped++
					continue
				}
			}
			if !statusFilter.Acceptable(status) {
				skipped++
				continue
			}
			kept = append(kept, rec)
		}
		if skipped > 0 {
			_ = rep.Note(fmt.Sprintf("Skipping %d records due to filtering.", skipped))
		}
		if len(kept) == 0 {
			return nil, nil
		}
		for _, rec := range kept {
			if id, ok := rec.FieldValue("eprintid"); ok {
				recordIDs = append(recordIDs, id)
			}
			if u, ok := rec.FieldValue("official_url"); ok {
				officialURLs = append(officialURLs, u)
			}
		}
	}

	// Ordering per this system: view/front-page URLs, then official_url
	// URLs, then id/eprint + plain-record pairs, each block preserving
	// its own insertion order.
	urls := append([]string{}, genericURLs...)
	for _, u := range officialURLs {
		if isAbsoluteURL(u) {
			urls = append(urls, u)
		} else {
			_ = rep.Note("Ignoring invalid URL: " + u)
		}
	}

	idList := recordIDs
	if len(idList) == 0 {
		idList = wanted
	}
	pairURLs, err := gather(idList, cfg.Threads, func(id string) ([2]string, error) {
		var pair [2]string
		idURL, ferr := client.EPrintIDURL(ctx, tok, id, true)
		if ferr != nil {
			return pair, recordErr(ferr, cfg.QuitOnError)
		}
		pageURL, ferr := client.EPrintPageURL(ctx, tok, id, true)
		if ferr != nil {
			return pair, recordErr(ferr, cfg.QuitOnError)
		}
		pair[0], pair[1] = idURL, pageURL
		if err := tok.RaiseIfSet(); err != nil {
			return pair, err
		}
		return pair, nil
	})
	if err != nil {
		return nil, err
	}
	for _, pair := range pairURLs {
		urls = append(urls, pair[0], pair[1])
	}

	urls = filterExcluded(urls, cfg.Exclude)
	return dedupeNonEmpty(urls), nil
}

// recordErr maps a record-scope error per propagation
// table: NoContent/AuthenticationFailure become warnings unless
// quitOnError is set, everything else propagates untouched.
func recordErr(err error, quitOnError bool) error {
	if err == nil {
		return nil
	}
	switch err.(type) {
	case *errs.NoContent, *errs.AuthenticationFailure:
		if quitOnError {
			return err
		}
		return nil
	default:
		return err
	}
}

func nonEmpty(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

func unique(in []string) []string {
	seen := map[string]bool{}
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

// dedupeNonEmpty drops empty entries and duplicates, preserving
// first-seen order — the Go equivalent of main_body.py's
// `dict.fromkeys(filter(None, urls))` trick — and normalises the
// trailing-space case this system calls out explicitly.
func dedupeNonEmpty(in []string) []string {
	seen := map[string]bool{}
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.ReplaceAll(strings.TrimSpace(s), " ", "_")
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

func isAbsoluteURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// filterExcluded drops URLs whose path matches any of the --exclude
// doublestar glob patterns, the supplemented filtering capability
// this system adds beyond the earlier tool.
func filterExcluded(urls []string, patterns []string) []string {
	if len(patterns) == 0 {
		return urls
	}
	out := make([]string, 0, len(urls))
	for _, raw := range urls {
		u, err := url.Parse(raw)
		excluded := false
		if err == nil {
			for _, pat := range patterns {
				if ok, _ := doublestar.Match(pat, strings.TrimPrefix(u.Path, "/")); ok {
					excluded = true
					break
				}
			}
		}
		if !excluded {
			out = append(out, raw)
		}
	}
	return out
}

// fanOut implements this system step 4: one worker per destination
// service, bounded by cfg.Threads, each submitting urls sequentially.
func fanOut(ctx context.Context, tok *interrupt.Token, cfg Config, dests map[string]archive.Driver, urls []string, rep *reporter.Reporter) (Outcome, error) {
	labels := make([]string, 0, len(dests))
	for label := range dests {
		labels = append(labels, label)
	}
	sort.Strings(labels)

	_ = rep.Note(fmt.Sprintf("Sending %d URLs to %d service(s).", len(urls), len(labels)))

	g, gctx := errgroup.WithContext(ctx)
	if cfg.Threads > 0 {
		g.SetLimit(min(cfg.Threads, len(labels)))
	}

	type tally struct{ added, skipped int }
	tallies := make([]tally, len(labels))

	for i, label := range labels {
		i, label, driver := i, label, dests[label]
		g.Go(func() error {
			var notify archive.NotifyFunc
			if cfg.Progress != nil {
				notify = cfg.Progress.Notify(driver.Name(), driver.Color())
			}
			for _, u := range urls {
				if err := tok.RaiseIfSet(); err != nil {
					return err
				}
				added, _, err := driver.Save(gctx, tok, u, notify, cfg.Force)
				if err != nil {
					if _, ok := err.(*errs.UserCancelled); ok {
						return err
					}
					_ = rep.Note(fmt.Sprintf("%s ➜ %s: error: %v", u, label, err))
					tallies[i].skipped++
					if cfg.Progress != nil {
						cfg.Progress.Counted(driver.Name(), false)
					}
					continue
				}
				_ = rep.Outcome(u, label, added)
				if cfg.Progress != nil {
					cfg.Progress.Counted(driver.Name(), added)
				}
				if added {
					tallies[i].added++
				} else {
					tallies[i].skipped++
				}
			}
			return nil
		})
	}

	err := g.Wait()
	var out Outcome
	out.URLCount = len(urls)
	for _, t := range tallies {
		out.Added += t.added
		out.Skipped += t.skipped
	}
	return out, err
}
