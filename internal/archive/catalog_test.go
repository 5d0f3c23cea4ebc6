package archive

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eprints2archives/eprints2archives/internal/netclient"
)

func writeCatalogFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "catalog.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadCatalogParsesEntries(t *testing.T) {
	path := writeCatalogFile(t, `[
		{"label": "perma", "name": "Perma.cc", "color": "cyan",
		 "timemap_url": "https://api.perma.cc/timemap/{url}",
		 "submit_url": "https://api.perma.cc/archives?url={url}"}
	]`)

	entries, err := LoadCatalog(path)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "perma", entries[0].Label)
	assert.Equal(t, "Perma.cc", entries[0].Name)
	assert.Equal(t, "cyan", entries[0].Color)
}

func TestLoadCatalogMissingLabelErrors(t *testing.T) {
	path := writeCatalogFile(t, `[{"name": "No Label Service"}]`)
	_, err := LoadCatalog(path)
	assert.Error(t, err)
}

func TestLoadCatalogInvalidJSONErrors(t *testing.T) {
	path := writeCatalogFile(t, `not json at all`)
	_, err := LoadCatalog(path)
	assert.Error(t, err)
}

func TestLoadCatalogMissingFileErrors(t *testing.T) {
	_, err := LoadCatalog(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestCatalogDriverSaveSubmitsWhenNoExistingMemento(t *testing.T) {
	var submitted bool
	mux := http.NewServeMux()
	mux.HandleFunc("/timemap/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	mux.HandleFunc("/submit", func(w http.ResponseWriter, r *http.Request) {
		submitted = true
		w.WriteHeader(http.StatusOK)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	entry := CatalogEntry{
		Label:      "test",
		Name:       "Test Service",
		Color:      "cyan",
		TimeMapURL: srv.URL + "/timemap/{url}",
		SubmitURL:  srv.URL + "/submit?url={url}",
	}
	d := NewCatalogDriver(netclient.New(), entry)

	added, existing, err := d.Save(context.Background(), nil, "https://ex.org/paper", nil, false)
	require.NoError(t, err)
	assert.True(t, added)
	assert.Equal(t, 0, existing)
	assert.True(t, submitted)
}

func TestCatalogDriverSaveSkipsWhenMementoExists(t *testing.T) {
	var submitted bool
	const tm = "<https://ex.org/paper>; rel=\"original\",\n" +
		"<https://archive.example/mem/1/https://ex.org/paper>; rel=\"memento\";datetime=\"Wed, 01 Jan 2020 00:00:00 GMT\"\n"

	mux := http.NewServeMux()
	mux.HandleFunc("/timemap/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, tm)
	})
	mux.HandleFunc("/submit", func(w http.ResponseWriter, r *http.Request) {
		submitted = true
		w.WriteHeader(http.StatusOK)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	entry := CatalogEntry{
		Label:      "test",
		Name:       "Test Service",
		TimeMapURL: srv.URL + "/timemap/{url}",
		SubmitURL:  srv.URL + "/submit?url={url}",
	}
	d := NewCatalogDriver(netclient.New(), entry)

	added, existing, err := d.Save(context.Background(), nil, "https://ex.org/paper", nil, false)
	require.NoError(t, err)
	assert.False(t, added)
	assert.Equal(t, 1, existing)
	assert.False(t, submitted, "an existing memento must short-circuit before any submit call")
}

func TestCatalogDriverSaveForceSkipsTimeMapCheck(t *testing.T) {
	var timeMapHit, submitHit bool
	mux := http.NewServeMux()
	mux.HandleFunc("/timemap/", func(w http.ResponseWriter, r *http.Request) {
		timeMapHit = true
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/submit", func(w http.ResponseWriter, r *http.Request) {
		submitHit = true
		w.WriteHeader(http.StatusOK)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	entry := CatalogEntry{
		Label:      "test",
		Name:       "Test Service",
		TimeMapURL: srv.URL + "/timemap/{url}",
		SubmitURL:  srv.URL + "/submit?url={url}",
	}
	d := NewCatalogDriver(netclient.New(), entry)

	added, existing, err := d.Save(context.Background(), nil, "https://ex.org/paper", nil, true)
	require.NoError(t, err)
	assert.True(t, added)
	assert.Equal(t, -1, existing)
	assert.False(t, timeMapHit, "force=true must skip the existence check entirely")
	assert.True(t, submitHit)
}
