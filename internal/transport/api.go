// Package transport is the thin HTTP/websocket shim over the node and
// coordinator mailboxes (spec §6, Non-goals: wire framing detail is out
// of scope — these handlers only decode a command body and forward it).
// Grounded on the teacher's internal/server/{api,router}.go.
package transport

import (
	"context"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"zonecast/internal/apperror"
	"zonecast/internal/coordinator"
	"zonecast/internal/logx"
	"zonecast/internal/node"
	"zonecast/internal/store"
)

var startTime = time.Now()

// LibraryReader is the slice of internal/store.Store the paginated
// listing endpoints need (spec §4.1 list_audio/list_playlists/
// list_items_of, exposed per SPEC_FULL §3).
type LibraryReader interface {
	ListAudio(ctx context.Context, limit, offset int) ([]store.AudioMetadata, error)
	ListPlaylists(ctx context.Context, limit, offset int) ([]store.PlaylistMetadata, error)
	ListItemsOf(ctx context.Context, playlistUID string, limit, offset int) ([]string, error)
}

// API handles the per-node command surface, the library listing
// endpoints, and the coordinator health endpoint.
type API struct {
	coord *coordinator.Coordinator
	lib   LibraryReader
	log   *logx.Logger
}

func NewAPI(coord *coordinator.Coordinator, lib LibraryReader) *API {
	return &API{coord: coord, lib: lib, log: logx.New("API")}
}

const defaultPageSize = 50

func pageParams(c *gin.Context) (limit, offset int) {
	limit = defaultPageSize
	offset = 0
	if v, err := strconv.Atoi(c.Query("limit")); err == nil && v > 0 {
		limit = v
	}
	if v, err := strconv.Atoi(c.Query("offset")); err == nil && v >= 0 {
		offset = v
	}
	return limit, offset
}

// ListAudio serves a page of catalogued audio metadata (spec §4.1
// list_audio).
func (a *API) ListAudio(c *gin.Context) {
	limit, offset := pageParams(c)
	items, err := a.lib.ListAudio(c.Request.Context(), limit, offset)
	if err != nil {
		a.respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

// ListPlaylists serves a page of catalogued playlists (spec §4.1
// list_playlists).
func (a *API) ListPlaylists(c *gin.Context) {
	limit, offset := pageParams(c)
	items, err := a.lib.ListPlaylists(c.Request.Context(), limit, offset)
	if err != nil {
		a.respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

// ListPlaylistItems serves a page of one playlist's linked item UIDs
// (spec §4.1 list_items_of).
func (a *API) ListPlaylistItems(c *gin.Context) {
	limit, offset := pageParams(c)
	items, err := a.lib.ListItemsOf(c.Request.Context(), c.Param("uid"), limit, offset)
	if err != nil {
		a.respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

func (a *API) resolveNode(c *gin.Context) (*node.Node, bool) {
	sourceName := c.Param("source")
	n, ok := a.coord.GetNode(c.Request.Context(), sourceName)
	if !ok {
		c.JSON(http.StatusNotFound, apperror.ToResponse(
			apperror.New(apperror.KindAPI, "no node named "+sourceName+" available")))
		return nil, false
	}
	return n, true
}

func (a *API) respondErr(c *gin.Context, err error) {
	if err == nil {
		c.Status(http.StatusOK)
		return
	}
	c.JSON(http.StatusInternalServerError, apperror.ToResponse(err))
}

type addQueueItemBody struct {
	URL string `json:"url" binding:"required"`
}

func (a *API) AddQueueItem(c *gin.Context) {
	n, ok := a.resolveNode(c)
	if !ok {
		return
	}
	var body addQueueItemBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, apperror.ToResponse(apperror.New(apperror.KindAPI, err.Error())))
		return
	}
	a.respondErr(c, n.AddQueueItem(c.Request.Context(), body.URL))
}

type removeQueueItemBody struct {
	Index int `json:"index"`
}

func (a *API) RemoveQueueItem(c *gin.Context) {
	n, ok := a.resolveNode(c)
	if !ok {
		return
	}
	var body removeQueueItemBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, apperror.ToResponse(apperror.New(apperror.KindAPI, err.Error())))
		return
	}
	a.respondErr(c, n.RemoveQueueItem(c.Request.Context(), body.Index))
}

type moveQueueItemBody struct {
	Old int `json:"old"`
	New int `json:"new"`
}

func (a *API) MoveQueueItem(c *gin.Context) {
	n, ok := a.resolveNode(c)
	if !ok {
		return
	}
	var body moveQueueItemBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, apperror.ToResponse(apperror.New(apperror.KindAPI, err.Error())))
		return
	}
	a.respondErr(c, n.MoveQueueItem(c.Request.Context(), body.Old, body.New))
}

func (a *API) ShuffleQueue(c *gin.Context) {
	n, ok := a.resolveNode(c)
	if !ok {
		return
	}
	a.respondErr(c, n.ShuffleQueue(c.Request.Context()))
}

type setVolumeBody struct {
	Volume float64 `json:"volume"`
}

func (a *API) SetVolume(c *gin.Context) {
	n, ok := a.resolveNode(c)
	if !ok {
		return
	}
	var body setVolumeBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, apperror.ToResponse(apperror.New(apperror.KindAPI, err.Error())))
		return
	}
	n.SetAudioVolume(c.Request.Context(), body.Volume)
	c.Status(http.StatusOK)
}

type setProgressBody struct {
	Progress float64 `json:"progress"`
}

func (a *API) SetProgress(c *gin.Context) {
	n, ok := a.resolveNode(c)
	if !ok {
		return
	}
	var body setProgressBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, apperror.ToResponse(apperror.New(apperror.KindAPI, err.Error())))
		return
	}
	n.SetAudioProgress(c.Request.Context(), body.Progress)
	c.Status(http.StatusOK)
}

func (a *API) Pause(c *gin.Context) {
	n, ok := a.resolveNode(c)
	if !ok {
		return
	}
	n.PauseQueue(c.Request.Context())
	c.Status(http.StatusOK)
}

func (a *API) Unpause(c *gin.Context) {
	n, ok := a.resolveNode(c)
	if !ok {
		return
	}
	n.UnPauseQueue(c.Request.Context())
	c.Status(http.StatusOK)
}

func (a *API) PlayNext(c *gin.Context) {
	n, ok := a.resolveNode(c)
	if !ok {
		return
	}
	a.respondErr(c, n.PlayNext(c.Request.Context()))
}

func (a *API) PlayPrevious(c *gin.Context) {
	n, ok := a.resolveNode(c)
	if !ok {
		return
	}
	a.respondErr(c, n.PlayPrevious(c.Request.Context()))
}

type playSelectedBody struct {
	Index int `json:"index"`
}

func (a *API) PlaySelected(c *gin.Context) {
	n, ok := a.resolveNode(c)
	if !ok {
		return
	}
	var body playSelectedBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, apperror.ToResponse(apperror.New(apperror.KindAPI, err.Error())))
		return
	}
	a.respondErr(c, n.PlaySelected(c.Request.Context(), body.Index))
}

// Health reports process stats, matching the teacher's /health handler
// generalized to the coordinator's own uptime rather than a session count.
func (a *API) Health(c *gin.Context) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	c.JSON(http.StatusOK, gin.H{
		"status":         "ok",
		"uptime_seconds": int64(time.Since(startTime).Seconds()),
		"ram_mb":         float64(mem.Alloc) / 1024 / 1024,
		"goroutines":     runtime.NumGoroutine(),
		"go_version":     runtime.Version(),
		"os":             runtime.GOOS,
		"arch":           runtime.GOARCH,
	})
}
