// Command eprints2archives harvests the public URLs of an EPrints
// repository and submits them to one or more web archiving services.
// The flag surface and exit-code mapping below follow this system,
// ported from __main__.py.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"runtime"
	"sort"
	"syscall"
	"time"

	"github.com/eprints2archives/eprints2archives/internal/archive"
	"github.com/eprints2archives/eprints2archives/internal/auth"
	"github.com/eprints2archives/eprints2archives/internal/config"
	"github.com/eprints2archives/eprints2archives/internal/errs"
	"github.com/eprints2archives/eprints2archives/internal/interrupt"
	"github.com/eprints2archives/eprints2archives/internal/netclient"
	"github.com/eprints2archives/eprints2archives/internal/pipeline"
	"github.com/eprints2archives/eprints2archives/internal/progress"
	"github.com/eprints2archives/eprints2archives/internal/version"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr *os.File) int {
	fs := flag.NewFlagSet("eprints2archives", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var (
		apiURL       = fs.String("api-url", "", "base URL of the EPrints server's REST API")
		dest         = fs.String("dest", "all", "comma-separated destination services, or \"all\"")
		force        = fs.Bool("force", false, "submit URLs even if the archive already has a copy")
		idList       = fs.String("id-list", "", "single id, file, or comma/range expression of EPrint ids")
		lastmod      = fs.String("lastmod", "", "only include records modified on or after this date")
		status       = fs.String("status", "any", "\"any\" or a [^]comma-separated list of eprint_status values")
		threads      = fs.Int("threads", 0, "worker count (default NumCPU/2)")
		user         = fs.String("user", "", "EPrints login user name")
		password     = fs.String("password", "", "EPrints login password")
		reportPath   = fs.String("report", "", "path to write a report file")
		quiet        = fs.Bool("quiet", false, "suppress informational console output")
		noColor      = fs.Bool("no-color", false, "disable colored console output")
		_            = fs.Bool("no-keyring", false, "disable OS keychain lookup (no-op: not implemented by this core)")
		listServices = fs.Bool("services", false, "print the list of known destination services and exit")
		showVersion  = fs.Bool("version", false, "print version information and exit")
		debugPath    = fs.String("debug", "", "write latency histogram details to path, or \"-\" for stdout")
		errorOut     = fs.Bool("error-out", false, "fail fast when a requested record is missing or errors")
		exclude      excludeFlags
		catalog      = fs.String("catalog", "", "optional JSON file describing additional destination services")
		configPath   = fs.String("config", "", "optional YAML file of defaults for the flags above")
		submitPacing = fs.Duration("submit-pacing", 0, "minimum delay between submissions to one service (0 disables)")
	)
	fs.Var(&exclude, "exclude", "glob pattern (matched against a URL's path) to exclude; may be repeated")

	if err := fs.Parse(args); err != nil {
		return int(errs.ExitBadArg)
	}

	if *showVersion {
		fmt.Fprintf(stdout, "eprints2archives %s (commit %s, built %s)\n", version.Version, version.Commit, version.BuiltAt)
		return int(errs.ExitSuccess)
	}

	if *listServices {
		nc := netclient.New()
		names := make([]string, 0, len(archive.KnownDrivers(nc)))
		for name := range archive.KnownDrivers(nc) {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintln(stdout, name)
		}
		return int(errs.ExitSuccess)
	}

	if *configPath != "" {
		overlay, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintln(stderr, err)
			return int(errs.ExitFileError)
		}
		explicit := map[string]bool{}
		fs.Visit(func(f *flag.Flag) { explicit[f.Name] = true })
		if !explicit["dest"] && overlay.Dest != "" {
			*dest = overlay.Dest
		}
		if !explicit["status"] && overlay.Status != "" {
			*status = overlay.Status
		}
		if len(exclude) == 0 {
			exclude = overlay.Exclude
		}
		var pacingOverlay string
		overlay.Merge(apiURL, dest, user, status, lastmod, reportPath, catalog, &pacingOverlay, threads)
		if *submitPacing == 0 && pacingOverlay != "" {
			if d, perr := time.ParseDuration(pacingOverlay); perr == nil {
				*submitPacing = d
			}
		}
	}

	if *threads == 0 {
		*threads = max(1, runtime.NumCPU()/2)
	}

	nc := netclient.New()
	if *debugPath != "" {
		nc = nc.WithLatencyHistogram()
	}

	tok := interrupt.New(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		tok.Set()
	}()
	defer signal.Stop(sigCh)

	console := progress.NewConsole(stdout, !*noColor)
	var sink pipeline.ProgressSink
	if !*quiet {
		sink = console
	}

	cfg := pipeline.Config{
		APIURL:       *apiURL,
		Auth:         auth.EnvFallback{User: *user, Password: *password},
		Dest:         *dest,
		Force:        *force,
		IDList:       *idList,
		LastMod:      *lastmod,
		Status:       *status,
		Threads:      *threads,
		ReportPath:   *reportPath,
		QuitOnError:  *errorOut,
		Exclude:      exclude,
		CatalogPath:  *catalog,
		SubmitPacing: *submitPacing,
		Progress:     sink,
	}

	log.SetOutput(stderr)
	if *quiet {
		log.SetOutput(io.Discard)
	}
	log.Printf("starting eprints2archives version=%s commit=%s built_at=%s", version.Version, version.Commit, version.BuiltAt)

	outcome, err := pipeline.Run(tok.Context(), tok, nc, cfg)
	if err != nil {
		return handleError(stderr, err)
	}

	if *debugPath != "" {
		writeHistogram(*debugPath, nc, stdout, stderr)
	}

	fmt.Fprintf(stdout, "Done. %d URLs processed (%d added, %d skipped).\n", outcome.URLCount, outcome.Added, outcome.Skipped)
	return int(errs.ExitSuccess)
}

// handleError maps a pipeline error to a process exit code per
// table.
func handleError(stderr *os.File, err error) int {
	switch e := err.(type) {
	case *errs.CannotProceed:
		fmt.Fprintln(stderr, e.Error())
		return int(e.Code)
	case *errs.UserCancelled:
		fmt.Fprintln(stderr, "Interrupted.")
		return int(errs.ExitInterrupted)
	case *errs.BadArg, *errs.BadURL:
		fmt.Fprintln(stderr, err.Error())
		return int(errs.ExitBadArg)
	default:
		fmt.Fprintln(stderr, err.Error())
		return int(errs.ExitException)
	}
}

func writeHistogram(path string, nc *netclient.Client, stdout, stderr *os.File) {
	hist := nc.Histogram()
	if hist == nil {
		return
	}
	out := stdout
	if path != "-" {
		f, err := os.Create(path)
		if err != nil {
			fmt.Fprintln(stderr, "unable to write debug output:", err)
			return
		}
		defer f.Close()
		out = f
	}
	fmt.Fprintf(out, "request latency (µs): p50=%d p90=%d p99=%d max=%d\n",
		hist.ValueAtQuantile(50), hist.ValueAtQuantile(90), hist.ValueAtQuantile(99), hist.Max())
}

// excludeFlags accumulates repeated --exclude flag occurrences into a
// []string, the standard flag.Value idiom for multi-value flags.
type excludeFlags []string

func (e *excludeFlags) String() string { return fmt.Sprint([]string(*e)) }
func (e *excludeFlags) Set(v string) error {
	*e = append(*e, v)
	return nil
}
