// Package downloader implements the single-threaded batching downloader
// from spec §4.2: a FIFO queue of requests served by one worker that
// expands playlists in bounded batches and persists per-video metadata.
package downloader

import (
	"context"
	"time"

	"zonecast/internal/apperror"
	"zonecast/internal/identifier"
	"zonecast/internal/logx"
	"zonecast/internal/store"
	"zonecast/internal/ytdlp"
)

// BatchCeiling is B from spec §4.2: the maximum number of playlist videos
// processed per worker turn before re-enqueueing the remainder.
const BatchCeiling = 10

const tickInterval = time.Second

// StateSink receives the queue snapshot pushed before every worker tick
// (spec §4.2 "push the current queue snapshot ... to the state persister").
type StateSink interface {
	DownloadQueueStateUpdate(infos []DownloadInfo)
}

// MetadataStore is the slice of internal/store.Store the downloader needs.
// Declared as an interface so tests can substitute a fake instead of an
// on-disk SQLite database.
type MetadataStore interface {
	GetAudio(ctx context.Context, uid string) (*store.AudioMetadata, error)
	InsertAudio(ctx context.Context, m store.AudioMetadata) error
	UpsertPlaylist(ctx context.Context, p store.PlaylistMetadata) error
	Link(ctx context.Context, playlistUID, itemUID string) error
}

// Fetcher is the slice of internal/ytdlp.Fetcher the downloader needs.
type Fetcher interface {
	Metadata(ctx context.Context, url string) (*ytdlp.RawMetadata, error)
	Download(ctx context.Context, url, destPath string) error
}

// Downloader is the actor described in spec §4.2. It owns its queue
// privately; all access happens on the single goroutine started by Run.
type Downloader struct {
	store     MetadataStore
	fetcher   Fetcher
	audioDir  string
	sink      StateSink
	log       *logx.Logger

	enqueueCh chan Request
	restoreCh chan []Request

	queue []Request
}

// New builds a Downloader. audioDir is the root directory wav files are
// written under (identifier.PathOf(audioDir, uid)).
func New(st MetadataStore, fetcher Fetcher, audioDir string, sink StateSink) *Downloader {
	return &Downloader{
		store:     st,
		fetcher:   fetcher,
		audioDir:  audioDir,
		sink:      sink,
		log:       logx.New("Downloader"),
		enqueueCh: make(chan Request, 1024),
		restoreCh: make(chan []Request, 1),
	}
}

// Enqueue submits a request. It emits Queued to the subscriber on
// acceptance, or FailedToQueue if the request queue is saturated (the Go
// analogue of "the lock is unavailable").
func (d *Downloader) Enqueue(info DownloadInfo, subscriber Subscriber) {
	select {
	case d.enqueueCh <- Request{Info: info, Subscriber: subscriber}:
	default:
		subscriber(Event{Kind: EventFailedToQueue, Info: info,
			Err: apperror.New(apperror.KindQueue, "downloader queue is saturated")})
	}
}

// Restore atomically replaces the queue, re-emitting Queued for every
// surviving entry (spec §4.2).
func (d *Downloader) Restore(requests []Request) {
	d.restoreCh <- requests
}

// Run drives the worker loop until ctx is cancelled.
func (d *Downloader) Run(ctx context.Context) {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case req := <-d.enqueueCh:
			d.queue = append(d.queue, req)
			req.Subscriber(Event{Kind: EventQueued, Info: req.Info})
		case reqs := <-d.restoreCh:
			d.queue = reqs
			for _, req := range d.queue {
				req.Subscriber(Event{Kind: EventQueued, Info: req.Info})
			}
		case <-ticker.C:
			d.tick(ctx)
		}
	}
}

func (d *Downloader) tick(ctx context.Context) {
	d.sink.DownloadQueueStateUpdate(d.snapshot())

	if len(d.queue) == 0 {
		return
	}
	req := d.queue[0]
	d.queue = d.queue[1:]
	d.dispatch(ctx, req)
}

// snapshot returns the queue without subscriber references, safe to hand
// to the state persister (spec §4.2).
func (d *Downloader) snapshot() []DownloadInfo {
	infos := make([]DownloadInfo, len(d.queue))
	for i, req := range d.queue {
		infos[i] = req.Info
	}
	return infos
}

func (d *Downloader) dispatch(ctx context.Context, req Request) {
	switch req.Info.Kind {
	case KindStoredLocally:
		d.log.Warn("StoredLocally request for uid %s: caller misused the pipeline", req.Info.UID)
	case KindYoutubeVideo:
		d.dispatchVideo(ctx, req)
	case KindYoutubePlaylist:
		d.dispatchPlaylist(ctx, req)
	}
}

func (d *Downloader) dispatchVideo(ctx context.Context, req Request) {
	uid, meta, err := d.fetchVideo(ctx, req.Info.URL)
	if err != nil {
		req.Subscriber(Event{Kind: EventSingleFinished, Info: req.Info, Err: err})
		return
	}
	req.Subscriber(Event{Kind: EventSingleFinished, Info: req.Info, UID: uid, Metadata: meta})
}

// fetchVideo implements the "video" flow of spec §4.2: return existing
// metadata unchanged if already catalogued, otherwise fetch metadata,
// download the file, and persist the row. A row is only written once its
// file is safely on disk, so a crash mid-download never leaves a metadata
// row pointing at a missing file.
func (d *Downloader) fetchVideo(ctx context.Context, url string) (string, *store.AudioMetadata, error) {
	uid := identifier.UID(url, identifier.KindVideo)

	existing, err := d.store.GetAudio(ctx, uid)
	if err != nil {
		return "", nil, err
	}
	if existing != nil {
		return uid, existing, nil
	}

	raw, err := d.fetcher.Metadata(ctx, url)
	if err != nil {
		return "", nil, err
	}

	destPath := identifier.PathOf(d.audioDir, uid)
	if err := d.fetcher.Download(ctx, url, destPath); err != nil {
		return "", nil, err
	}

	title, author := raw.Title, raw.Author
	if title == "" || author == "" {
		if tags, ok := ytdlp.ProbeTags(destPath); ok {
			if title == "" {
				title = tags.Title
			}
			if author == "" {
				author = tags.Author
			}
		}
	}

	meta := store.AudioMetadata{UID: uid}
	if title != "" {
		meta.Name = &title
	}
	if author != "" {
		meta.Author = &author
	}
	if raw.Thumbnail != "" {
		meta.CoverArtURL = &raw.Thumbnail
	}
	if raw.Duration > 0 {
		ms := raw.Duration * 1000
		meta.DurationMs = &ms
	}

	if err := d.store.InsertAudio(ctx, meta); err != nil {
		return "", nil, err
	}
	// InsertAudio is idempotent; re-read so a concurrent winner's row (not
	// ours) is what gets reported, matching "immutable in the store".
	persisted, err := d.store.GetAudio(ctx, uid)
	if err != nil || persisted == nil {
		return uid, &meta, nil
	}
	return uid, persisted, nil
}

func (d *Downloader) dispatchPlaylist(ctx context.Context, req Request) {
	playlistUID := identifier.UID(req.Info.PlaylistURL, identifier.KindPlaylist)

	if err := d.store.UpsertPlaylist(ctx, store.PlaylistMetadata{UID: playlistUID}); err != nil {
		req.Subscriber(Event{Kind: EventBatchDownloadFailedToStart, Info: req.Info, Err: err})
		return
	}

	urls := req.Info.VideoURLs
	head, tail := urls, []string(nil)
	if len(urls) > BatchCeiling {
		head, tail = urls[:BatchCeiling], urls[BatchCeiling:]
	}

	for _, url := range head {
		videoInfo := DownloadInfo{Kind: KindYoutubeVideo, URL: url}
		uid, meta, err := d.fetchVideo(ctx, url)
		if err != nil {
			req.Subscriber(Event{Kind: EventSingleFinished, Info: videoInfo, Err: err})
			continue
		}
		if err := d.store.Link(ctx, playlistUID, uid); err != nil {
			req.Subscriber(Event{Kind: EventSingleFinished, Info: videoInfo, Err: err})
			continue
		}
		req.Subscriber(Event{Kind: EventSingleFinished, Info: videoInfo, UID: uid, Metadata: meta})
	}

	remaining := DownloadInfo{Kind: KindYoutubePlaylist, PlaylistURL: req.Info.PlaylistURL, VideoURLs: tail}
	req.Subscriber(Event{Kind: EventBatchUpdated, Info: remaining})

	if len(tail) > 0 {
		d.queue = append(d.queue, Request{Info: remaining, Subscriber: req.Subscriber})
	}
}
