package archive

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/eprints2archives/eprints2archives/internal/netclient"
)

func TestInternetArchiveMetadata(t *testing.T) {
	d := NewInternetArchive(netclient.New())
	assert.Equal(t, "Internet Archive", d.Name())
	assert.Equal(t, "internetarchive", d.Label())
	assert.Equal(t, "white", d.Color())
}
