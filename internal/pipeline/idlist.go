package pipeline

import (
	"bufio"
	"os"
	"strconv"
	"strings"

	"github.com/eprints2archives/eprints2archives/internal/errs"
)

// ParseIDList parses the --id-list flag's value: a lone integer, an
// existing readable file (one id per non-empty line, UTF-8 BOM
// tolerated), or a comma-delimited list of integers and inclusive
// "a-b" ranges.
func ParseIDList(raw string) ([]string, error) {
	if raw == "" {
		return nil, nil
	}
	if isAllDigits(raw) {
		return []string{raw}, nil
	}

	if info, err := os.Stat(raw); err == nil && !info.IsDir() {
		return readIDFile(raw)
	}

	if !strings.Contains(raw, ",") && !strings.Contains(raw, "-") {
		return nil, &errs.BadArg{Msg: "unable to understand list of record identifiers: " + raw}
	}

	var out []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		expanded, err := ExpandRange(part)
		if err != nil {
			return nil, err
		}
		out = append(out, expanded...)
	}
	return out, nil
}

// ExpandRange expands a single "a-b" range (inclusive, endpoints sorted
// regardless of the order they were written in) or returns a lone
// integer as a one-element slice.
func ExpandRange(text string) ([]string, error) {
	if !strings.Contains(text, "-") {
		if !isAllDigits(text) {
			return nil, &errs.BadArg{Msg: "unable to understand record identifier: " + text}
		}
		return []string{text}, nil
	}

	parts := strings.SplitN(text, "-", 2)
	a, err1 := strconv.Atoi(strings.TrimSpace(parts[0]))
	b, err2 := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err1 != nil || err2 != nil {
		return nil, &errs.BadArg{Msg: "unable to understand record identifier range: " + text}
	}
	if a > b {
		a, b = b, a
	}
	out := make([]string, 0, b-a+1)
	for i := a; i <= b; i++ {
		out = append(out, strconv.Itoa(i))
	}
	return out, nil
}

func isAllDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func readIDFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &errs.BadArg{Msg: "cannot read id-list file " + path}
	}
	defer f.Close()

	var out []string
	scanner := bufio.NewScanner(f)
	first := true
	for scanner.Scan() {
		line := scanner.Text()
		if first {
			line = strings.TrimPrefix(line, "\uFEFF")
			first = false
		}
		line = strings.TrimSpace(line)
		if line != "" {
			out = append(out, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, &errs.BadArg{Msg: "error reading id-list file " + path}
	}
	return out, nil
}
