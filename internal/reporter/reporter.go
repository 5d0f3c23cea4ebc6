// Package reporter implements an append-only report file: one start
// line, one line per URL/service outcome, and one finish line, written
// UTF-8/LF-terminated.
//
// Each entry opens, writes, and closes the file rather than holding it
// open for the run's duration; network calls dominate wall time, so the
// extra opens are not a measurable cost.
package reporter

import (
	"fmt"
	"os"

	"github.com/google/uuid"
)

// Reporter writes outcome lines to an optional report file. An empty path
// makes every method a no-op, so callers can construct a Reporter
// unconditionally and only the --report flag decides whether it does
// anything.
type Reporter struct {
	path  string
	runID uuid.UUID
}

// New constructs a Reporter writing to path. An empty path disables
// writing entirely (the zero Reporter is equally usable for that, but
// New is the normal constructor so the run ID is always present).
func New(path string) *Reporter {
	return &Reporter{path: path, runID: uuid.New()}
}

// RunID identifies this Reporter's run, for correlating a report file
// with a specific invocation when several runs share a directory.
func (r *Reporter) RunID() string { return r.runID.String() }

// Start truncates the report file (if any) and writes the opening line.
func (r *Reporter) Start(startedAt string) error {
	if r.path == "" {
		return nil
	}
	line := fmt.Sprintf("eprints2archives starting %s. [run %s]\n", startedAt, r.runID)
	return os.WriteFile(r.path, []byte(line), 0o644)
}

// Outcome appends one "{url} ➜ {service}: added|skipped" line.
func (r *Reporter) Outcome(url, service string, added bool) error {
	verb := "skipped"
	if added {
		verb = "added"
	}
	return r.append(fmt.Sprintf("%s ➜ %s: %s\n", url, service, verb))
}

// Note appends a free-form line, used for warnings such as "Ignoring
// invalid URL: ..." or "Skipping N records due to filtering."
func (r *Reporter) Note(text string) error {
	return r.append(text + "\n")
}

// Finish appends the closing "Finished sending N URLs." line.
func (r *Reporter) Finish(numURLs int) error {
	return r.append(fmt.Sprintf("Finished sending %d URLs.\n", numURLs))
}

// Interrupted appends the closing "Interrupted" line.
func (r *Reporter) Interrupted() error {
	return r.append("Interrupted\n")
}

func (r *Reporter) append(line string) error {
	if r.path == "" {
		return nil
	}
	f, err := os.OpenFile(r.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening report file %s: %w", r.path, err)
	}
	defer f.Close()
	_, err = f.WriteString(line)
	return err
}

// Writable reports whether path can be written to, mirroring
// commonpy.file_utils.writable's preflight check in main_body.py.
func Writable(path string) bool {
	if path == "" {
		return true
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return false
	}
	_ = f.Close()
	return true
}
