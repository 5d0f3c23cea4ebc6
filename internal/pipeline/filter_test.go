package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusFilterAny(t *testing.T) {
	f := NewStatusFilter("any")
	assert.Nil(t, f)
	assert.True(t, f.Acceptable("inbox"))
	assert.True(t, f.Acceptable(""))
}

func TestStatusFilterPositive(t *testing.T) {
	f := NewStatusFilter("archive,deletion")
	assert.True(t, f.Acceptable("archive"))
	assert.False(t, f.Acceptable("inbox"))
}

func TestStatusFilterNegated(t *testing.T) {
	f := NewStatusFilter("^inbox")
	assert.True(t, f.Acceptable("archive"))
	assert.False(t, f.Acceptable("inbox"))
}

func TestStatusFilterNullStatusAlwaysAccepted(t *testing.T) {
	f := NewStatusFilter("^inbox")
	assert.True(t, f.Acceptable(""))
}

func TestParseLastMod(t *testing.T) {
	cases := []string{
		"2023-05-17",
		"2023-05-17T10:30:00",
		"2023-05-17 10:30:00",
		"2023/05/17",
		"May 17 2023",
		"05/17/2023",
	}
	for _, c := range cases {
		_, err := ParseLastMod(c)
		assert.NoError(t, err, c)
	}
}

func TestParseLastModRejectsGarbage(t *testing.T) {
	_, err := ParseLastMod("not a date at all")
	assert.Error(t, err)
}
