package ytdlp

import (
	"os"

	"github.com/dhowden/tag"
)

// ProbeTags is a best-effort local fallback run once per freshly
// downloaded wav file, the way arung-agamani-denpa-radio reads ID3/
// Vorbis/MP4 tags straight off a local file. yt-dlp's JSON response is
// the primary metadata path (spec §4.2); this only fills in a title or
// author yt-dlp left blank. Most transcoded wav files carry no tags at
// all, so a miss here is expected, not an error.
type ProbedTags struct {
	Title  string
	Author string
}

func ProbeTags(path string) (ProbedTags, bool) {
	f, err := os.Open(path)
	if err != nil {
		return ProbedTags{}, false
	}
	defer f.Close()

	m, err := tag.ReadFrom(f)
	if err != nil {
		return ProbedTags{}, false
	}
	return ProbedTags{Title: m.Title(), Author: m.Artist()}, true
}
