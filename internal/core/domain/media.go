package domain

import (
	"bytes"
	"strings"
)

// Handle is a live, dereferenceable reference to binary media content.
type Handle string

type Blob struct {
	Data []byte
	Type string
}

func NewBlob(data []byte, mimeType string) *Blob {
	return &Blob{Data: data, Type: mimeType}
}

// JoinChunks assembles encoded chunks into one blob of the given type.
func JoinChunks(chunks [][]byte, mimeType string) *Blob {
	return &Blob{Data: bytes.Join(chunks, nil), Type: mimeType}
}

func (b *Blob) Size() int64 {
	if b == nil {
		return 0
	}
	return int64(len(b.Data))
}

func (b *Blob) Empty() bool {
	return b == nil || len(b.Data) == 0
}

// FormatProfile is one candidate encoding profile. An empty MimeType means
// "host default container" and only carries bitrates.
type FormatProfile struct {
	MimeType           string `yaml:"mime_type" json:"mime_type"`
	AudioBitsPerSecond int    `yaml:"audio_bits_per_second" json:"audio_bits_per_second"`
	VideoBitsPerSecond int    `yaml:"video_bits_per_second" json:"video_bits_per_second"`
}

// MimeFamily returns the top-level type of a MIME-like tag ("video", "audio").
func MimeFamily(mimeType string) string {
	base := BaseMime(mimeType)
	if i := strings.IndexByte(base, '/'); i > 0 {
		return base[:i]
	}
	return ""
}

// BaseMime strips parameters such as codecs from a MIME-like tag.
func BaseMime(mimeType string) string {
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = mimeType[:i]
	}
	return strings.ToLower(strings.TrimSpace(mimeType))
}

// ExtensionForMime maps a negotiated MIME type to a download file extension.
func ExtensionForMime(mimeType string) string {
	switch BaseMime(mimeType) {
	case "video/webm", "audio/webm":
		return ".webm"
	case "video/mp4", "audio/mp4":
		return ".mp4"
	case "audio/ogg", "video/ogg":
		return ".ogg"
	case "audio/wav", "audio/x-wav", "audio/wave":
		return ".wav"
	case "video/x-dubv":
		return ".dubv"
	default:
		return ".bin"
	}
}
