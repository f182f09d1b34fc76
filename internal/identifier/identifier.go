// Package identifier implements the pure, total functions that map a
// source URL to a stable content UID and the on-disk path of its
// transcoded audio file.
package identifier

import (
	"encoding/hex"
	"path/filepath"
	"strings"
)

// Kind classifies what a UID refers to.
type Kind string

const (
	KindVideo    Kind = "video"
	KindPlaylist Kind = "playlist"
	KindUnknown  Kind = "unknown"
)

const (
	videoPrefix    = "youtube_audio_"
	playlistPrefix = "youtube_playlist_audio_"
)

// UID derives the stable content identifier for a URL of the given kind.
// Two URLs with identical kind and bytes always yield the same UID.
func UID(url string, kind Kind) string {
	encoded := hex.EncodeToString([]byte(url))
	switch kind {
	case KindPlaylist:
		return playlistPrefix + encoded
	default:
		return videoPrefix + encoded
	}
}

// KindOf recovers the kind encoded in a UID produced by UID.
func KindOf(uid string) Kind {
	switch {
	case strings.HasPrefix(uid, playlistPrefix):
		return KindPlaylist
	case strings.HasPrefix(uid, videoPrefix):
		return KindVideo
	default:
		return KindUnknown
	}
}

// URLOf recovers the original URL encoded in a UID, if any.
func URLOf(uid string) (string, bool) {
	var encoded string
	switch {
	case strings.HasPrefix(uid, playlistPrefix):
		encoded = strings.TrimPrefix(uid, playlistPrefix)
	case strings.HasPrefix(uid, videoPrefix):
		encoded = strings.TrimPrefix(uid, videoPrefix)
	default:
		return "", false
	}
	raw, err := hex.DecodeString(encoded)
	if err != nil {
		return "", false
	}
	return string(raw), true
}

// PathOf returns the on-disk path of the transcoded audio file for uid,
// rooted at audioDir. The hex encoding in UID already guarantees the
// result contains only filename-safe characters.
func PathOf(audioDir, uid string) string {
	return filepath.Join(audioDir, uid+".wav")
}
