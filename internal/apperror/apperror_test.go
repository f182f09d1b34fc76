package apperror

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestToResponseHidesContext(t *testing.T) {
	err := Wrap(KindDownload, errors.New("yt-dlp exit 1: full stderr dump with URL and cookies"), "failed to fetch %s", "video AAA")

	resp := ToResponse(err)
	assert.Equal(t, KindDownload, resp.Kind)
	assert.Equal(t, "failed to fetch video AAA", resp.Message)
	assert.NotContains(t, resp.Message, "cookies")
}

func TestToResponseUnclassified(t *testing.T) {
	resp := ToResponse(errors.New("boom"))
	assert.Equal(t, KindAPI, resp.Kind)
}

func TestUnwrap(t *testing.T) {
	inner := errors.New("inner")
	err := Wrap(KindDatabase, inner, "write failed")
	assert.ErrorIs(t, err, inner)
}
