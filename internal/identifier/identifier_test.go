package identifier

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUIDRoundTrip(t *testing.T) {
	urls := []string{
		"https://www.youtube.com/watch?v=AAA",
		"https://www.youtube.com/playlist?list=P",
		"",
	}
	for _, url := range urls {
		for _, kind := range []Kind{KindVideo, KindPlaylist} {
			uid := UID(url, kind)
			assert.Equal(t, kind, KindOf(uid))

			got, ok := URLOf(uid)
			require.True(t, ok)
			assert.Equal(t, url, got)

			path := PathOf("/data/audio", uid)
			assert.True(t, strings.HasSuffix(path, ".wav"))
			assert.False(t, strings.ContainsAny(path[len("/data/audio/"):], "/\\:*?\"<>|"))
		}
	}
}

func TestKindOfUnknown(t *testing.T) {
	assert.Equal(t, KindUnknown, KindOf("not-a-real-uid"))
}

func TestUIDStable(t *testing.T) {
	a := UID("https://youtu.be/AAA", KindVideo)
	b := UID("https://youtu.be/AAA", KindVideo)
	assert.Equal(t, a, b)

	c := UID("https://youtu.be/AAA", KindPlaylist)
	assert.NotEqual(t, a, c)
}
