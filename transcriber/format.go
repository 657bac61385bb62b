package transcriber

import (
	"bytes"
	"fmt"
)

// MaxUploadBytes is the largest payload the API accepts.
const MaxUploadBytes = 25 * 1024 * 1024

// DetectFormat returns the container name for a supported audio payload, or
// "" when the magic bytes are not recognized.
func DetectFormat(data []byte) string {
	switch {
	case len(data) >= 12 && bytes.Equal(data[0:4], []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WAVE")):
		return "wav"
	case len(data) >= 4 && bytes.Equal(data[0:4], []byte("fLaC")):
		return "flac"
	case len(data) >= 4 && bytes.Equal(data[0:4], []byte("OggS")):
		return "ogg"
	case len(data) >= 4 && bytes.Equal(data[0:4], []byte{0x1a, 0x45, 0xdf, 0xa3}):
		return "webm"
	case len(data) >= 12 && bytes.Equal(data[4:8], []byte("ftyp")):
		return "m4a"
	case len(data) >= 3 && bytes.Equal(data[0:3], []byte("ID3")):
		return "mp3"
	case len(data) >= 2 && data[0] == 0xff && data[1]&0xe0 == 0xe0:
		return "mp3"
	}
	return ""
}

// Validate runs the client-side checks that precede every upload.
func Validate(data []byte) error {
	if len(data) == 0 {
		return &Error{Kind: ErrBadRequest, Message: "no audio"}
	}
	if len(data) > MaxUploadBytes {
		return &Error{Kind: ErrTooLarge, Message: fmt.Sprintf("%d bytes exceeds %d", len(data), MaxUploadBytes)}
	}
	if DetectFormat(data) == "" {
		return &Error{Kind: ErrBadRequest, Message: "unsupported audio format"}
	}
	return nil
}
