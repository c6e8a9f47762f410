// Package transcribe turns voice messages into text for the turn engine.
package transcribe

import (
	"context"
	"io"
	"strings"
)

// MaxAudioBytes is the largest upload the Whisper API accepts.
const MaxAudioBytes = 25 << 20

// Transcriber converts audio to text. filename carries the extension the
// backend uses to detect the format. An empty language auto-detects.
type Transcriber interface {
	Transcribe(ctx context.Context, audio io.Reader, filename, language string) (string, error)
}

// FilenameForMimeType returns a filename whose extension matches mimeType.
// Telegram voice notes are OGG/Opus.
func FilenameForMimeType(mimeType string) string {
	lower := strings.ToLower(mimeType)
	if idx := strings.IndexByte(lower, ';'); idx >= 0 {
		lower = strings.TrimSpace(lower[:idx])
	}
	switch lower {
	case "audio/flac":
		return "audio.flac"
	case "audio/m4a", "audio/mp4", "audio/x-m4a":
		return "audio.m4a"
	case "audio/mpeg", "audio/mp3":
		return "audio.mp3"
	case "audio/wav", "audio/x-wav":
		return "audio.wav"
	case "audio/webm":
		return "audio.webm"
	default:
		return "audio.ogg"
	}
}
