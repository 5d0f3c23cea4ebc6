// Package config loads an optional YAML overlay for repeated runs
// against the same EPrints server, so the full flag line doesn't need
// repeating every invocation. It is a purely ambient convenience
// layered under the CLI boundary — zero-value fields mean "use the
// flag/default instead".
package config

import (
	"fmt"
	"os"

	"go.yaml.in/yaml/v4"
)

// File is the shape of an on-disk config file. Every field is optional;
// a zero value means "let the CLI flag or built-in default decide".
type File struct {
	APIURL       string   `yaml:"api_url"`
	Dest         string   `yaml:"dest"`
	User         string   `yaml:"user"`
	Status       string   `yaml:"status"`
	LastMod      string   `yaml:"lastmod"`
	Threads      int      `yaml:"threads"`
	Report       string   `yaml:"report"`
	Exclude      []string `yaml:"exclude"`
	Catalog      string   `yaml:"catalog"`
	SubmitPacing string   `yaml:"submit_pacing"`
}

// Load reads and parses a YAML config file at path.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return &f, nil
}

// Merge overlays non-zero fields of f onto the zero-value fields of the
// string/int pointers passed in, so explicit CLI flags always win over
// the config file. Callers pass pointers to their own flag-parsed
// variables; a flag already set (non-zero) is left untouched.
func (f *File) Merge(apiURL, dest, user, status, lastmod, report, catalog, submitPacing *string, threads *int) {
	apply(apiURL, f.APIURL)
	apply(dest, f.Dest)
	apply(user, f.User)
	apply(status, f.Status)
	apply(lastmod, f.LastMod)
	apply(report, f.Report)
	apply(catalog, f.Catalog)
	apply(submitPacing, f.SubmitPacing)
	if *threads == 0 {
		*threads = f.Threads
	}
}

func apply(dst *string, val string) {
	if *dst == "" {
		*dst = val
	}
}
