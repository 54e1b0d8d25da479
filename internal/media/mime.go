package media

import (
	"mime"
	"path"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// VoiceMimeType is the type voice notes are re-labelled with before they are
// uploaded to WhatsApp.
const VoiceMimeType = "audio/opus"

const fallbackMimeType = "application/octet-stream"

// extraTypes covers extensions Telegram uses that are missing from most
// system mime tables.
var extraTypes = map[string]string{
	".oga":  "audio/ogg",
	".opus": "audio/opus",
	".m4a":  "audio/mp4",
	".webp": "image/webp",
	".3gp":  "video/3gpp",
}

// ResolveType picks the content type of an attachment: the override when set,
// else the file name extension, else the provider-declared type, else the
// sniffed type of data.
func ResolveType(override, fileName, declared string, data []byte) string {
	if override != "" {
		return override
	}
	if t := TypeByFileName(fileName); t != "" {
		return t
	}
	if declared != "" {
		return declared
	}
	if len(data) > 0 {
		return baseType(mimetype.Detect(data).String())
	}
	return fallbackMimeType
}

// TypeByFileName returns the media type for a file name's extension, or "".
func TypeByFileName(fileName string) string {
	ext := strings.ToLower(path.Ext(fileName))
	if ext == "" {
		return ""
	}
	if t, ok := extraTypes[ext]; ok {
		return t
	}
	return baseType(mime.TypeByExtension(ext))
}

// ExtensionFor returns a file extension (with dot) for a media type, or "".
func ExtensionFor(mimeType string) string {
	base := baseType(mimeType)
	for ext, t := range extraTypes {
		if t == base {
			return ext
		}
	}
	if m := mimetype.Lookup(base); m != nil {
		return m.Extension()
	}
	if exts, err := mime.ExtensionsByType(base); err == nil && len(exts) > 0 {
		return exts[0]
	}
	return ""
}

// StripExtension removes the last extension from a file name.
func StripExtension(fileName string) string {
	return strings.TrimSuffix(fileName, path.Ext(fileName))
}

func baseType(t string) string {
	if i := strings.IndexByte(t, ';'); i >= 0 {
		t = t[:i]
	}
	return strings.TrimSpace(t)
}
