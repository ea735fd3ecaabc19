package media

import "strings"

// Media types produced by the recorder and the precise trimmer.
const (
	MIMEWebM = "video/webm"
	MIMEMP4  = "video/mp4"
)

// Payload is one complete media file held in memory plus its declared media type.
type Payload struct {
	Data     []byte
	MIMEType string
}

// NewPayload copies data into a payload with the given media type. An empty
// media type defaults to WebM.
func NewPayload(data []byte, mimeType string) Payload {
	if strings.TrimSpace(mimeType) == "" {
		mimeType = MIMEWebM
	}
	return Payload{Data: append([]byte(nil), data...), MIMEType: mimeType}
}

// Size reports the payload length in bytes.
func (p Payload) Size() int64 {
	return int64(len(p.Data))
}

// Empty reports whether the payload carries no bytes.
func (p Payload) Empty() bool {
	return len(p.Data) == 0
}

// Extension returns the container file extension (with dot) for the payload's media type.
func (p Payload) Extension() string {
	return ExtensionFor(p.MIMEType)
}

// BaseMIME strips codec parameters: "video/webm;codecs=vp9,opus" becomes "video/webm".
func BaseMIME(mimeType string) string {
	base, _, _ := strings.Cut(mimeType, ";")
	return strings.ToLower(strings.TrimSpace(base))
}

// Codecs returns the codecs parameter of a media type, if any. The value is
// parsed by hand because browsers emit it unquoted with commas, which
// mime.ParseMediaType rejects.
func Codecs(mimeType string) []string {
	_, params, found := strings.Cut(mimeType, ";")
	if !found {
		return nil
	}
	var raw string
	for _, param := range strings.Split(params, ";") {
		key, value, ok := strings.Cut(param, "=")
		if ok && strings.EqualFold(strings.TrimSpace(key), "codecs") {
			raw = strings.Trim(strings.TrimSpace(value), `"`)
			break
		}
	}
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// ExtensionFor maps a media type to a container extension.
func ExtensionFor(mimeType string) string {
	switch BaseMIME(mimeType) {
	case MIMEMP4:
		return ".mp4"
	case "video/x-matroska":
		return ".mkv"
	case "video/quicktime":
		return ".mov"
	default:
		return ".webm"
	}
}

// MIMEForExtension maps a file extension to a media type, defaulting to WebM.
func MIMEForExtension(ext string) string {
	switch strings.ToLower(strings.TrimPrefix(ext, ".")) {
	case "mp4", "m4v":
		return MIMEMP4
	case "mkv":
		return "video/x-matroska"
	case "mov":
		return "video/quicktime"
	default:
		return MIMEWebM
	}
}
