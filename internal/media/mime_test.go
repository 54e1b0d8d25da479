package media

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

var pngHeader = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 0x0d, 'I', 'H', 'D', 'R'}

func TestResolveType_Precedence(t *testing.T) {
	assert.Equal(t, VoiceMimeType, ResolveType(VoiceMimeType, "voice/file_1.oga", "audio/ogg", nil))
	assert.Equal(t, "application/pdf", ResolveType("", "report.pdf", "application/octet-stream", nil))
	assert.Equal(t, "audio/ogg", ResolveType("", "voice/file_1.oga", "", nil))
	assert.Equal(t, "video/mp4", ResolveType("", "noext", "video/mp4", nil))
	assert.Equal(t, "image/png", ResolveType("", "", "", pngHeader))
	assert.Equal(t, "application/octet-stream", ResolveType("", "", "", nil))
}

func TestTypeByFileName_StripsParameters(t *testing.T) {
	assert.Equal(t, "text/plain", TypeByFileName("notes.txt"))
	assert.Equal(t, "", TypeByFileName("README"))
}

func TestExtensionFor(t *testing.T) {
	assert.Equal(t, ".oga", ExtensionFor("audio/ogg; codecs=opus"))
	assert.Equal(t, ".png", ExtensionFor("image/png"))
	assert.Equal(t, "", ExtensionFor("application/x-nothing-like-this"))
}

func TestStripExtension(t *testing.T) {
	assert.Equal(t, "contract", StripExtension("contract.pdf"))
	assert.Equal(t, "archive.tar", StripExtension("archive.tar.gz"))
	assert.Equal(t, "plain", StripExtension("plain"))
}
