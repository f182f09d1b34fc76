// Package store persists per-item metadata and playlist/item relations
// (spec §4.1) in an embedded SQLite database, generalizing the original's
// Postgres-via-sqlx store to a single-box multi-zone player. Every write
// goes through a transaction with ON CONFLICT DO NOTHING so concurrent
// inserts of the same key never fail the caller (spec §5: "the database is
// shared by many actors").
package store

import (
	"context"
	"database/sql"

	_ "modernc.org/sqlite"

	"zonecast/internal/apperror"
)

const schema = `
CREATE TABLE IF NOT EXISTS audio_metadata (
	uid           TEXT PRIMARY KEY,
	name          TEXT,
	author        TEXT,
	cover_art_url TEXT,
	duration_ms   INTEGER
);

CREATE TABLE IF NOT EXISTS audio_playlist (
	uid           TEXT PRIMARY KEY,
	name          TEXT,
	author        TEXT,
	cover_art_url TEXT
);

CREATE TABLE IF NOT EXISTS audio_playlist_item (
	playlist_uid TEXT NOT NULL,
	item_uid     TEXT NOT NULL,
	position     INTEGER NOT NULL,
	UNIQUE(playlist_uid, item_uid)
);
`

// Store wraps the metadata database described in spec §4.1.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the SQLite database at dsn and ensures
// the schema exists.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, apperror.Wrap(apperror.KindDatabase, err, "open database")
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite: serialize writers, avoid SQLITE_BUSY
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, apperror.Wrap(apperror.KindDatabase, err, "migrate schema")
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// GetAudio returns the metadata row for uid, or (nil, nil) if absent.
func (s *Store) GetAudio(ctx context.Context, uid string) (*AudioMetadata, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT uid, name, author, cover_art_url, duration_ms FROM audio_metadata WHERE uid = ?`, uid)
	var m AudioMetadata
	var name, author, cover sql.NullString
	var duration sql.NullInt64
	if err := row.Scan(&m.UID, &name, &author, &cover, &duration); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, apperror.Wrap(apperror.KindDatabase, err, "get audio %s", uid)
	}
	if name.Valid {
		m.Name = strPtr(name.String)
	}
	if author.Valid {
		m.Author = strPtr(author.String)
	}
	if cover.Valid {
		m.CoverArtURL = strPtr(cover.String)
	}
	if duration.Valid {
		m.DurationMs = intPtr(int(duration.Int64))
	}
	return &m, nil
}

// InsertAudio inserts metadata for uid, idempotently: a conflicting row is
// left unchanged (spec §4.1: "immutable in the store" once created).
func (s *Store) InsertAudio(ctx context.Context, m AudioMetadata) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apperror.Wrap(apperror.KindDatabase, err, "begin insert_audio %s", m.UID)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO audio_metadata (uid, name, author, cover_art_url, duration_ms)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(uid) DO NOTHING`,
		m.UID, m.Name, m.Author, m.CoverArtURL, m.DurationMs)
	if err != nil {
		return apperror.Wrap(apperror.KindDatabase, err, "insert_audio %s", m.UID)
	}
	if err := tx.Commit(); err != nil {
		return apperror.Wrap(apperror.KindDatabase, err, "commit insert_audio %s", m.UID)
	}
	return nil
}

// ListAudio returns a page of audio metadata rows ordered by uid.
func (s *Store) ListAudio(ctx context.Context, limit, offset int) ([]AudioMetadata, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT uid, name, author, cover_art_url, duration_ms FROM audio_metadata ORDER BY uid LIMIT ? OFFSET ?`,
		limit, offset)
	if err != nil {
		return nil, apperror.Wrap(apperror.KindDatabase, err, "list_audio")
	}
	defer rows.Close()

	var out []AudioMetadata
	for rows.Next() {
		var m AudioMetadata
		var name, author, cover sql.NullString
		var duration sql.NullInt64
		if err := rows.Scan(&m.UID, &name, &author, &cover, &duration); err != nil {
			return nil, apperror.Wrap(apperror.KindDatabase, err, "scan list_audio row")
		}
		if name.Valid {
			m.Name = strPtr(name.String)
		}
		if author.Valid {
			m.Author = strPtr(author.String)
		}
		if cover.Valid {
			m.CoverArtURL = strPtr(cover.String)
		}
		if duration.Valid {
			m.DurationMs = intPtr(int(duration.Int64))
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// UpsertPlaylist ensures a playlist row exists for uid, leaving an
// existing row's metadata untouched.
func (s *Store) UpsertPlaylist(ctx context.Context, p PlaylistMetadata) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audio_playlist (uid, name, author, cover_art_url)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(uid) DO NOTHING`,
		p.UID, p.Name, p.Author, p.CoverArtURL)
	if err != nil {
		return apperror.Wrap(apperror.KindDatabase, err, "upsert_playlist %s", p.UID)
	}
	return nil
}

// Link associates itemUID with playlistUID at the next position,
// idempotently (spec §4.1: unique-pair constraint, conflict → no-op).
func (s *Store) Link(ctx context.Context, playlistUID, itemUID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apperror.Wrap(apperror.KindDatabase, err, "begin link %s/%s", playlistUID, itemUID)
	}
	defer tx.Rollback()

	var nextPos int
	row := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(position) + 1, 0) FROM audio_playlist_item WHERE playlist_uid = ?`, playlistUID)
	if err := row.Scan(&nextPos); err != nil {
		return apperror.Wrap(apperror.KindDatabase, err, "link position lookup %s/%s", playlistUID, itemUID)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO audio_playlist_item (playlist_uid, item_uid, position)
		 VALUES (?, ?, ?)
		 ON CONFLICT(playlist_uid, item_uid) DO NOTHING`,
		playlistUID, itemUID, nextPos)
	if err != nil {
		return apperror.Wrap(apperror.KindDatabase, err, "link %s/%s", playlistUID, itemUID)
	}
	if err := tx.Commit(); err != nil {
		return apperror.Wrap(apperror.KindDatabase, err, "commit link %s/%s", playlistUID, itemUID)
	}
	return nil
}

// ListPlaylists returns a page of playlists ordered by uid.
func (s *Store) ListPlaylists(ctx context.Context, limit, offset int) ([]PlaylistMetadata, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT uid, name, author, cover_art_url FROM audio_playlist ORDER BY uid LIMIT ? OFFSET ?`,
		limit, offset)
	if err != nil {
		return nil, apperror.Wrap(apperror.KindDatabase, err, "list_playlists")
	}
	defer rows.Close()

	var out []PlaylistMetadata
	for rows.Next() {
		var p PlaylistMetadata
		var name, author, cover sql.NullString
		if err := rows.Scan(&p.UID, &name, &author, &cover); err != nil {
			return nil, apperror.Wrap(apperror.KindDatabase, err, "scan list_playlists row")
		}
		if name.Valid {
			p.Name = strPtr(name.String)
		}
		if author.Valid {
			p.Author = strPtr(author.String)
		}
		if cover.Valid {
			p.CoverArtURL = strPtr(cover.String)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ListItemsOf returns a page of item UIDs belonging to playlistUID, in
// link order.
func (s *Store) ListItemsOf(ctx context.Context, playlistUID string, limit, offset int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT item_uid FROM audio_playlist_item WHERE playlist_uid = ? ORDER BY position LIMIT ? OFFSET ?`,
		playlistUID, limit, offset)
	if err != nil {
		return nil, apperror.Wrap(apperror.KindDatabase, err, "list_items_of %s", playlistUID)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var uid string
		if err := rows.Scan(&uid); err != nil {
			return nil, apperror.Wrap(apperror.KindDatabase, err, "scan list_items_of row")
		}
		out = append(out, uid)
	}
	return out, rows.Err()
}
