package pipeline

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eprints2archives/eprints2archives/internal/errs"
)

func TestExpandRange(t *testing.T) {
	cases := []struct {
		in   string
		want []string
	}{
		{"1-3", []string{"1", "2", "3"}},
		{"5", []string{"5"}},
		{"3-1", []string{"1", "2", "3"}}, // endpoints sorted regardless of order
		{"7-7", []string{"7"}},
	}
	for _, c := range cases {
		got, err := ExpandRange(c.in)
		require.NoError(t, err)
		assert.Equal(t, c.want, got)
	}
}

func TestParseIDListSingleInteger(t *testing.T) {
	got, err := ParseIDList("12")
	require.NoError(t, err)
	assert.Equal(t, []string{"12"}, got)
}

func TestParseIDListCommaAndRangeExpression(t *testing.T) {
	got, err := ParseIDList("1-3,7")
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2", "3", "7"}, got)
}

func TestParseIDListEmptyMeansNoFilter(t *testing.T) {
	got, err := ParseIDList("")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestParseIDListFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ids.txt")
	content := "\uFEFF12\n34\n\n56\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	got, err := ParseIDList(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"12", "34", "56"}, got)
}

func TestParseIDListBadArg(t *testing.T) {
	_, err := ParseIDList("xyz")
	require.Error(t, err)
	var bad *errs.BadArg
	assert.ErrorAs(t, err, &bad)
}
