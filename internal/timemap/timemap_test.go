package timemap_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eprints2archives/eprints2archives/internal/timemap"
)

const sample = `<https://ex.org/paper>; rel="original",
<https://web.archive.org/web/timemap/link/https://ex.org/paper>; rel="self"; type="application/link-format",
<https://web.archive.org/web/https://ex.org/paper>; rel="timegate",
<https://web.archive.org/web/20200101000000/https://ex.org/paper>; rel="first memento"; datetime="Wed, 01 Jan 2020 00:00:00 GMT",
<https://web.archive.org/web/20210601000000/https://ex.org/paper>; rel="memento"; datetime="Tue, 01 Jun 2021 00:00:00 GMT",
<https://web.archive.org/web/20220815000000/https://ex.org/paper>; rel="last memento"; datetime="Mon, 15 Aug 2022 00:00:00 GMT"`

func TestParseWellFormedTimeMap(t *testing.T) {
	tm, err := timemap.Parse(sample, false)
	require.NoError(t, err)

	assert.Equal(t, "https://ex.org/paper", tm.OriginalURI)
	assert.Equal(t, "https://web.archive.org/web/https://ex.org/paper", tm.TimegateURI)
	assert.Equal(t, "https://web.archive.org/web/timemap/link/https://ex.org/paper", tm.TimemapURI)
	require.Len(t, tm.Mementos, 3)

	require.NotNil(t, tm.First)
	assert.Equal(t, "https://web.archive.org/web/20200101000000/https://ex.org/paper", tm.First.URI)
	assert.Equal(t, time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC), tm.First.Datetime.UTC())

	require.NotNil(t, tm.Last)
	assert.Equal(t, "https://web.archive.org/web/20220815000000/https://ex.org/paper", tm.Last.URI)
}

func TestParseEmptyTimeMapIsNotAnError(t *testing.T) {
	tm, err := timemap.Parse("", true)
	require.NoError(t, err)
	assert.Empty(t, tm.Mementos)
	assert.Empty(t, tm.OriginalURI)
}

func TestParseMalformedWithSkipErrorsTrue(t *testing.T) {
	malformed := "not-a-link-format-document"
	tm, err := timemap.Parse(malformed, true)
	require.NoError(t, err)
	assert.Empty(t, tm.Mementos)
}

func TestParseMalformedWithSkipErrorsFalse(t *testing.T) {
	malformed := "not-a-link-format-document"
	_, err := timemap.Parse(malformed, false)
	require.Error(t, err)
}

func TestMementosHelperHandlesNil(t *testing.T) {
	assert.Nil(t, timemap.Mementos(nil))

	tm, err := timemap.Parse(sample, false)
	require.NoError(t, err)
	assert.Equal(t, tm.Mementos, timemap.Mementos(tm))
}
