package pipeline

import (
	"strings"
	"time"

	"github.com/araddon/dateparse"

	"github.com/eprints2archives/eprints2archives/internal/errs"
)

// StatusFilter implements the --status flag's acceptance rule:
// normalise "status" (a comma-separated list whose first element may
// begin with "^" for negation, or the literal "any" for no filter) and
// then, for any record status string, accept iff
// (negated && status not in set) || (!negated && status in set).
// A nil StatusFilter (the "any" case) accepts everything.
type StatusFilter struct {
	set     map[string]bool
	negated bool
}

// NewStatusFilter parses the --status flag's raw value: "any" means no
// filter at all (nil), and a leading "^" negates the remaining
// comma-separated set.
func NewStatusFilter(raw string) *StatusFilter {
	if raw == "" || raw == "any" {
		return nil
	}
	negated := strings.HasPrefix(raw, "^")
	raw = strings.TrimPrefix(raw, "^")
	set := map[string]bool{}
	for _, s := range strings.Split(raw, ",") {
		s = strings.TrimSpace(s)
		if s != "" {
			set[s] = true
		}
	}
	return &StatusFilter{set: set, negated: negated}
}

// Acceptable reports whether status passes the filter. A null/empty
// status is always accepted, regardless of the filter.
func (f *StatusFilter) Acceptable(status string) bool {
	if f == nil || status == "" {
		return true
	}
	if f.negated {
		return !f.set[status]
	}
	return f.set[status]
}

// ParseLastMod parses a human-written date/time expression for the
// --lastmod flag. data_helpers.py's date_parser() in the original tool
// hands this field to Python's dateparser.parse() for free-form input;
// dateparse.ParseAny is this codebase's analog, covering EPrints'
// "YYYY-MM-DD HH:MM:SS" lastmod format along with the looser formats an
// operator might type on the command line.
func ParseLastMod(raw string) (time.Time, error) {
	t, err := dateparse.ParseAny(raw)
	if err != nil {
		return time.Time{}, &errs.BadArg{Msg: "unable to parse lastmod value: " + raw}
	}
	return t, nil
}
