// Package timemap parses RFC 7089 Memento TimeMap documents in the
// "link format" (the same text format `curl` gets back from a
// `Link:`-style TimeMap endpoint). It is a direct port of the character
// state machine in services/timemap.py,
// which itself came from the Off-Topic Memento Toolkit.
package timemap

import (
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/eprints2archives/eprints2archives/internal/errs"
)

// dateLayout matches the HTTP-date format TimeMap "datetime" attributes
// use: "Mon, 02 Jan 2006 15:04:05 GMT".
const dateLayout = "Mon, 02 Jan 2006 15:04:05 GMT"

// Memento is one entry in a TimeMap's list of captures.
type Memento struct {
	URI      string
	Datetime time.Time
}

// TimeMap is the parsed form of a link-format TimeMap document.
type TimeMap struct {
	OriginalURI string
	TimegateURI string
	TimemapURI  string
	First       *Memento
	Last        *Memento
	Mementos    []Memento
}

// linkAttrs accumulates the rel/datetime attributes seen for one URI
// between a '<' and the ',' that ends its link-value.
type linkAttrs map[string]string

// Parse converts TimeMap link-format text into a TimeMap. When
// skipErrors is true, malformed input is ignored rather than reported,
// mirroring the toolkit's skip_errors flag; use with caution, since the
// resulting TimeMap can then be silently incomplete.
func Parse(text string, skipErrors bool) (*TimeMap, error) {
	tm := &TimeMap{}

	var (
		uri     string
		key     string
		value   string
		local   = map[string]linkAttrs{}
		state   = 0
		charPos = 0
	)

	fail := func(where string) error {
		if skipErrors {
			return nil
		}
		return &errs.InternalError{Msg: fmt.Sprintf("issue at character %d while looking for %s", charPos, where)}
	}

	for _, ch := range text {
		charPos++

		switch state {
		case 0:
			local = map[string]linkAttrs{}
			uri = ""
			switch {
			case ch == '<':
				state = 1
			case unicode.IsSpace(ch):
			default:
				if err := fail("next URI"); err != nil {
					return nil, err
				}
			}

		case 1:
			if ch == '>' {
				state = 2
				uri = strings.TrimSpace(uri)
				local[uri] = linkAttrs{}
			} else {
				uri += string(ch)
			}

		case 2:
			switch {
			case ch == ';':
				state = 3
			case unicode.IsSpace(ch):
			default:
				if err := fail("relation"); err != nil {
					return nil, err
				}
			}

		case 3:
			if ch == '=' {
				state = 4
			} else {
				key += string(ch)
			}

		case 4:
			switch {
			case ch == ';':
				state = 3
			case ch == ',':
				state = 0
				processLocal(local, tm)
			case ch == '"':
				state = 5
			case unicode.IsSpace(ch):
			default:
				if err := fail("value"); err != nil {
					return nil, err
				}
			}

		case 5:
			if ch == '"' {
				state = 4
				key = strings.TrimSpace(key)
				value = strings.TrimSpace(value)
				local[uri][key] = value
				key = ""
				value = ""
			} else {
				value += string(ch)
			}

		default:
			if err := fail("unknown parser state"); err != nil {
				return nil, err
			}
		}
	}

	processLocal(local, tm)
	return tm, nil
}

// processLocal folds one link-value's worth of accumulated attributes
// (keyed by URI) into the TimeMap being built, the same way
// process_local_dict does for its working dict.
func processLocal(local map[string]linkAttrs, tm *TimeMap) {
	var first, last bool
	var pending Memento
	havePending := false

	for uri, attrs := range local {
		relation := attrs["rel"]

		switch {
		case relation == "original":
			tm.OriginalURI = uri
		case relation == "timegate":
			tm.TimegateURI = uri
		case relation == "self":
			tm.TimemapURI = uri
		case strings.Contains(relation, "memento"):
			if strings.Contains(relation, "first") {
				first = true
			}
			if strings.Contains(relation, "last") {
				last = true
			}
			pending = Memento{URI: uri}
			havePending = true
		}

		if dt, ok := attrs["datetime"]; ok && havePending {
			parsed, err := time.Parse(dateLayout, dt)
			if err == nil {
				pending.Datetime = parsed
			}
			tm.Mementos = append(tm.Mementos, pending)
			if first {
				m := pending
				tm.First = &m
			}
			if last {
				m := pending
				tm.Last = &m
			}
		}
	}
}

// Mementos returns tm's memento list, or nil if tm has none.
func Mementos(tm *TimeMap) []Memento {
	if tm == nil {
		return nil
	}
	return tm.Mementos
}
