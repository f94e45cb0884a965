package index

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

// One index database per browsed directory.
const dbFileName = ".vitrine-index.db"

// Bump to force a wipe of stale on-disk indexes.
const schemaVersion = 2

// ErrCorrupt marks a database that failed its integrity check at open.
var ErrCorrupt = errors.New("index: corrupt database")

const schema = `
CREATE TABLE IF NOT EXISTS items (
	id INTEGER PRIMARY KEY,
	path TEXT NOT NULL UNIQUE,
	width INTEGER,
	height INTEGER,
	aspect_ratio REAL NOT NULL DEFAULT 1.0,
	kind TEXT NOT NULL DEFAULT 'image',
	video_fps REAL,
	video_duration REAL,
	video_frame_count INTEGER,
	rating REAL NOT NULL DEFAULT 0,
	size INTEGER NOT NULL DEFAULT 0,
	file_type TEXT NOT NULL DEFAULT '',
	ctime INTEGER NOT NULL DEFAULT 0,
	mtime INTEGER NOT NULL DEFAULT 0,
	thumb_cached INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_items_mtime ON items(mtime);
CREATE INDEX IF NOT EXISTS idx_items_needs_enrich ON items(id) WHERE width IS NULL OR width <= 0;

CREATE TABLE IF NOT EXISTS tags (
	item_id INTEGER NOT NULL REFERENCES items(id) ON DELETE CASCADE,
	pos INTEGER NOT NULL DEFAULT 0,
	tag TEXT NOT NULL,
	UNIQUE (item_id, tag)
);
CREATE INDEX IF NOT EXISTS idx_tags_tag ON tags(tag);

CREATE TABLE IF NOT EXISTS meta (
	key TEXT PRIMARY KEY,
	value TEXT
);
`

// Store is the durable, queryable metadata index for one directory.
// Reads go straight to the pool; writes serialise on writeMu and retry
// on contention with bounded backoff.
type Store struct {
	db      *sql.DB
	path    string
	writeMu sync.Mutex
}

// Open opens (or creates) the index for dir. A database that fails its
// integrity check or carries an old schema version is not operated on:
// corruption deletes the file and rebuilds, a version mismatch wipes
// the tables. Either way the caller gets a working, possibly empty
// index and re-population is the scan's job.
func Open(dir string) (*Store, error) {
	path := filepath.Join(dir, dbFileName)
	s, err := open(path)
	if errors.Is(err, ErrCorrupt) {
		log.WithField("path", path).Warn("index failed integrity check, rebuilding")
		_ = os.Remove(path)
		s, err = open(path)
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

func open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	var check string
	if err := db.QueryRow("PRAGMA quick_check").Scan(&check); err != nil || check != "ok" {
		_ = db.Close()
		return nil, fmt.Errorf("quick_check = %q: %w", check, ErrCorrupt)
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	s := &Store{db: db, path: path}
	if err := s.ensureVersion(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// ensureVersion wipes the tables on a schema version mismatch instead
// of silently downgrading.
func (s *Store) ensureVersion() error {
	stored, err := s.MetaGet("version")
	if err != nil {
		return err
	}
	want := fmt.Sprintf("%d", schemaVersion)
	if stored == want {
		return nil
	}
	if stored != "" {
		log.WithFields(log.Fields{"stored": stored, "want": want}).
			Warn("index schema version mismatch, wiping")
		if _, err := s.db.Exec("DELETE FROM tags; DELETE FROM items; DELETE FROM meta"); err != nil {
			return fmt.Errorf("wipe stale schema: %w", err)
		}
	}
	return s.MetaSet("version", want)
}

// Close closes the underlying pool. Safe to call twice.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// Path returns the on-disk location of the index file.
func (s *Store) Path() string { return s.path }

// withRetry runs a write, retrying on lock contention with bounded
// exponential backoff. Anything other than contention fails through.
func (s *Store) withRetry(fn func() error) error {
	const attempts = 5
	delay := 10 * time.Millisecond
	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(); err == nil || !isBusy(err) {
			return err
		}
		time.Sleep(delay)
		delay *= 2
	}
	return fmt.Errorf("index write contended after %d attempts: %w", attempts, err)
}

func isBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked") ||
		strings.Contains(msg, "SQLITE_BUSY")
}

// Count returns the number of items matching the filter (nil = all).
func (s *Store) Count(f Filter) (int, error) {
	where, args := whereClause(f)
	var n int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM items"+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count items: %w", err)
	}
	return n, nil
}

// PageRequest selects one page of the stable global ordering.
type PageRequest struct {
	Page     int
	PageSize int
	Sort     Sort
	Filter   Filter
}

const itemColumns = `items.id, items.path, items.width, items.height, items.aspect_ratio,
	items.kind, items.video_fps, items.video_duration, items.video_frame_count,
	items.rating, items.size, items.file_type, items.ctime, items.mtime, items.thumb_cached`

// Page returns one page of records in the requested order, tags
// attached. Records with invalid media facts are repaired to plain
// images rather than aborting the page.
func (s *Store) Page(ctx context.Context, req PageRequest) ([]ItemRecord, error) {
	if req.PageSize <= 0 {
		return nil, fmt.Errorf("page size %d out of range", req.PageSize)
	}
	where, args := whereClause(req.Filter)
	order, orderArgs := req.Sort.orderClause()
	args = append(args, orderArgs...)
	args = append(args, req.PageSize, req.Page*req.PageSize)

	q := "SELECT " + itemColumns + " FROM items" + where + " " + order + " LIMIT ? OFFSET ?"
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query page %d: %w", req.Page, err)
	}
	defer func() { _ = rows.Close() }() // safe to ignore

	var records []ItemRecord
	var ids []int64
	for rows.Next() {
		rec, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan page %d: %w", req.Page, err)
		}
		records = append(records, rec)
		ids = append(ids, rec.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	tags, err := s.TagsFor(ids)
	if err != nil {
		return nil, err
	}
	for i := range records {
		records[i].Tags = tags[records[i].ID]
	}
	return records, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (ItemRecord, error) {
	var (
		rec              ItemRecord
		width, height    sql.NullInt64
		fps, duration    sql.NullFloat64
		frames           sql.NullInt64
		kind             string
		ctimeNS, mtimeNS int64
		thumb            int
	)
	err := row.Scan(&rec.ID, &rec.Path, &width, &height, &rec.AspectRatio,
		&kind, &fps, &duration, &frames,
		&rec.Rating, &rec.Size, &rec.FileType, &ctimeNS, &mtimeNS, &thumb)
	if err != nil {
		return rec, err
	}
	rec.Width = int(width.Int64)
	rec.Height = int(height.Int64)
	rec.AspectRatio = ClampAspect(rec.AspectRatio)
	rec.CTime = time.Unix(0, ctimeNS)
	rec.MTime = time.Unix(0, mtimeNS)
	rec.ThumbCached = thumb != 0

	rec.Facts = MediaFacts{Kind: Kind(kind)}
	if rec.Facts.Kind == KindVideo {
		// Zero facts are legal for a video awaiting enrichment.
		rec.Facts.Video = &VideoFacts{FPS: fps.Float64, Duration: duration.Float64, FrameCount: frames.Int64}
	}
	if err := rec.Facts.Validate(); err != nil {
		log.WithFields(log.Fields{"path": rec.Path, "err": err}).Debug("repairing media facts")
		rec.Facts = MediaFacts{Kind: KindImage}
	}
	return rec, nil
}

const upsertSQL = `
INSERT INTO items (path, width, height, aspect_ratio, kind, video_fps, video_duration,
	video_frame_count, rating, size, file_type, ctime, mtime, thumb_cached)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(path) DO UPDATE SET
	width = excluded.width, height = excluded.height,
	aspect_ratio = excluded.aspect_ratio, kind = excluded.kind,
	video_fps = excluded.video_fps, video_duration = excluded.video_duration,
	video_frame_count = excluded.video_frame_count,
	size = excluded.size, file_type = excluded.file_type,
	ctime = excluded.ctime, mtime = excluded.mtime
RETURNING id`

func upsertArgs(rec *ItemRecord) []any {
	var width, height any
	if rec.HasDimensions() {
		width, height = rec.Width, rec.Height
	}
	var fps, duration, frames any
	if v := rec.Facts.Video; v != nil {
		fps, duration, frames = v.FPS, v.Duration, v.FrameCount
	}
	return []any{rec.Path, width, height, rec.Aspect(), string(rec.Facts.Kind),
		fps, duration, frames, rec.Rating, rec.Size, rec.FileType,
		rec.CTime.UnixNano(), rec.MTime.UnixNano(), boolInt(rec.ThumbCached)}
}

// Upsert inserts or refreshes one record by path, filling rec.ID.
// Rating and the thumb-cached flag are owned by their own setters and
// deliberately not clobbered on conflict.
func (s *Store) Upsert(rec *ItemRecord) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.withRetry(func() error {
		if err := s.db.QueryRow(upsertSQL, upsertArgs(rec)...).Scan(&rec.ID); err != nil {
			return fmt.Errorf("upsert %s: %w", rec.Path, err)
		}
		return nil
	})
}

// UpsertBatch writes many records in one transaction with a prepared
// statement. Used by the directory scan where per-row transactions
// would dominate indexing time.
func (s *Store) UpsertBatch(records []ItemRecord) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.withRetry(func() error {
		tx, err := s.db.Begin()
		if err != nil {
			return err
		}
		stmt, err := tx.Prepare(upsertSQL)
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("prepare upsert: %w", err)
		}
		for i := range records {
			if err := stmt.QueryRow(upsertArgs(&records[i])...).Scan(&records[i].ID); err != nil {
				_ = stmt.Close()
				_ = tx.Rollback()
				return fmt.Errorf("upsert %s: %w", records[i].Path, err)
			}
		}
		_ = stmt.Close()
		return tx.Commit()
	})
}

// AllPaths returns every indexed path. Used by the rescan diff to find
// rows whose file disappeared.
func (s *Store) AllPaths() ([]string, error) {
	rows, err := s.db.Query("SELECT path FROM items ORDER BY path")
	if err != nil {
		return nil, fmt.Errorf("query paths: %w", err)
	}
	defer func() { _ = rows.Close() }() // safe to ignore

	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		paths = append(paths, p)
	}
	return paths, rows.Err()
}

// Remove drops one item by path; tags cascade.
func (s *Store) Remove(path string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.withRetry(func() error {
		_, err := s.db.Exec("DELETE FROM items WHERE path = ?", path)
		return err
	})
}

// TagsFor returns the ordered tag list per item id.
func (s *Store) TagsFor(ids []int64) (map[int64][]string, error) {
	result := make(map[int64][]string, len(ids))
	if len(ids) == 0 {
		return result, nil
	}
	placeholders := strings.Repeat(",?", len(ids))[1:]
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := s.db.Query(
		"SELECT item_id, tag FROM tags WHERE item_id IN ("+placeholders+") ORDER BY item_id, pos", args...)
	if err != nil {
		return nil, fmt.Errorf("query tags: %w", err)
	}
	defer func() { _ = rows.Close() }() // safe to ignore

	for rows.Next() {
		var id int64
		var tag string
		if err := rows.Scan(&id, &tag); err != nil {
			return nil, fmt.Errorf("scan tag: %w", err)
		}
		result[id] = append(result[id], tag)
	}
	return result, rows.Err()
}

// SetTags replaces the whole tag list for one item. Tag mutation is
// replace-whole-list; order is preserved via the pos column.
func (s *Store) SetTags(id int64, tags []string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.withRetry(func() error {
		tx, err := s.db.Begin()
		if err != nil {
			return err
		}
		if _, err := tx.Exec("DELETE FROM tags WHERE item_id = ?", id); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("clear tags for %d: %w", id, err)
		}
		stmt, err := tx.Prepare("INSERT OR IGNORE INTO tags (item_id, pos, tag) VALUES (?, ?, ?)")
		if err != nil {
			_ = tx.Rollback()
			return err
		}
		for pos, tag := range tags {
			if _, err := stmt.Exec(id, pos, tag); err != nil {
				_ = stmt.Close()
				_ = tx.Rollback()
				return fmt.Errorf("insert tag %q: %w", tag, err)
			}
		}
		_ = stmt.Close()
		return tx.Commit()
	})
}

// SetRating updates one item's rating.
func (s *Store) SetRating(id int64, rating float64) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.withRetry(func() error {
		_, err := s.db.Exec("UPDATE items SET rating = ? WHERE id = ?", rating, id)
		return err
	})
}

// SetDimensions records measured dimensions (and video facts) for a
// path. Called by the enrichment loop once per placeholder.
func (s *Store) SetDimensions(path string, width, height int, video *VideoFacts) error {
	aspect := ClampAspect(float64(width) / float64(height))
	var fps, duration, frames any
	kind := string(KindImage)
	if video != nil {
		kind = string(KindVideo)
		fps, duration, frames = video.FPS, video.Duration, video.FrameCount
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.withRetry(func() error {
		_, err := s.db.Exec(`UPDATE items SET width = ?, height = ?, aspect_ratio = ?,
			kind = ?, video_fps = ?, video_duration = ?, video_frame_count = ?
			WHERE path = ?`,
			width, height, aspect, kind, fps, duration, frames, path)
		return err
	})
}

// FlushThumbFlags marks a batch of paths as having a disk-resident
// thumbnail. Batched because the flag flips once per generated
// thumbnail and single-row updates would thrash the journal.
func (s *Store) FlushThumbFlags(paths []string) error {
	if len(paths) == 0 {
		return nil
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.withRetry(func() error {
		tx, err := s.db.Begin()
		if err != nil {
			return err
		}
		stmt, err := tx.Prepare("UPDATE items SET thumb_cached = 1 WHERE path = ?")
		if err != nil {
			_ = tx.Rollback()
			return err
		}
		for _, p := range paths {
			if _, err := stmt.Exec(p); err != nil {
				_ = stmt.Close()
				_ = tx.Rollback()
				return err
			}
		}
		_ = stmt.Close()
		return tx.Commit()
	})
}

// PlaceholdersNeedingEnrichment lists paths whose dimensions were never
// measured, oldest rows first, up to limit.
func (s *Store) PlaceholdersNeedingEnrichment(limit int) ([]string, error) {
	rows, err := s.db.Query(
		"SELECT path FROM items WHERE width IS NULL OR width <= 0 OR height IS NULL OR height <= 0 ORDER BY id LIMIT ?",
		limit)
	if err != nil {
		return nil, fmt.Errorf("query placeholders: %w", err)
	}
	defer func() { _ = rows.Close() }() // safe to ignore

	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		paths = append(paths, p)
	}
	return paths, rows.Err()
}

// MetaGet reads one key from the meta table; missing keys return "".
func (s *Store) MetaGet(key string) (string, error) {
	var value string
	err := s.db.QueryRow("SELECT value FROM meta WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("meta get %q: %w", key, err)
	}
	return value, nil
}

// MetaSet writes one key into the meta table.
func (s *Store) MetaSet(key, value string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.withRetry(func() error {
		_, err := s.db.Exec(
			"INSERT INTO meta (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
			key, value)
		return err
	})
}

// ScanSignature returns the stored signature of the last completed
// directory scan; empty if never scanned.
func (s *Store) ScanSignature() (string, error) {
	return s.MetaGet("scan_signature")
}

// SetScanSignature records the signature of a completed scan.
func (s *Store) SetScanSignature(sig string) error {
	return s.MetaSet("scan_signature", sig)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
