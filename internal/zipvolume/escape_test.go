package zipvolume

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEscapeFilenameRoundTrip(t *testing.T) {
	names := []string{
		"stream0/00000000",
		"a b/c:d",
		"weird?*|name",
		"already/safe-name.idx",
	}
	for _, name := range names {
		escaped := escapeFilename(name)
		assert.Equal(t, name, unescapeFilename(escaped))
	}
}

func TestEscapeFilenameLeavesSlashUnescaped(t *testing.T) {
	assert.Equal(t, "stream0/00000000.idx", escapeFilename("stream0/00000000.idx"))
}

func TestEscapeFilenameEscapesSpace(t *testing.T) {
	assert.Equal(t, "a%20b", escapeFilename("a b"))
}

func TestUnescapeFilenamePassesThroughMalformedEscape(t *testing.T) {
	assert.Equal(t, "100%", unescapeFilename("100%"))
}
