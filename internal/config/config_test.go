package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eprints2archives/eprints2archives/internal/config"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadParsesKnownFields(t *testing.T) {
	path := writeConfig(t, `
api_url: https://example.org/rest
dest: both
user: alice
status: "^inbox"
lastmod: 2023-01-01
threads: 4
report: /tmp/report.txt
exclude:
  - "view/year/**"
catalog: /etc/eprints2archives/catalog.json
submit_pacing: 2s
`)

	f, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "https://example.org/rest", f.APIURL)
	assert.Equal(t, "both", f.Dest)
	assert.Equal(t, "alice", f.User)
	assert.Equal(t, "^inbox", f.Status)
	assert.Equal(t, "2023-01-01", f.LastMod)
	assert.Equal(t, 4, f.Threads)
	assert.Equal(t, "/tmp/report.txt", f.Report)
	assert.Equal(t, []string{"view/year/**"}, f.Exclude)
	assert.Equal(t, "/etc/eprints2archives/catalog.json", f.Catalog)
	assert.Equal(t, "2s", f.SubmitPacing)
}

func TestLoadMissingFileErrors(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadMalformedYAMLErrors(t *testing.T) {
	path := writeConfig(t, "api_url: [this is not: valid")
	_, err := config.Load(path)
	assert.Error(t, err)
}

func TestMergeLeavesExplicitFlagsUntouched(t *testing.T) {
	f := &config.File{APIURL: "https://from-config.org/rest", Threads: 8, User: "fromconfig"}

	apiURL := "https://from-flag.org/rest"
	dest, user, status, lastmod, report, catalog, submitPacing := "", "", "", "", "", "", ""
	threads := 2

	f.Merge(&apiURL, &dest, &user, &status, &lastmod, &report, &catalog, &submitPacing, &threads)

	assert.Equal(t, "https://from-flag.org/rest", apiURL, "explicit flag must win over config")
	assert.Equal(t, "fromconfig", user, "empty flag falls back to config")
	assert.Equal(t, 2, threads, "nonzero flag must win over config")
}

func TestMergeFillsZeroValuesFromConfig(t *testing.T) {
	f := &config.File{Dest: "internet-archive", Status: "archive", Threads: 5}

	apiURL, dest, user, status, lastmod, report, catalog, submitPacing := "", "", "", "", "", "", "", ""
	threads := 0

	f.Merge(&apiURL, &dest, &user, &status, &lastmod, &report, &catalog, &submitPacing, &threads)

	assert.Equal(t, "internet-archive", dest)
	assert.Equal(t, "archive", status)
	assert.Equal(t, 5, threads)
}
