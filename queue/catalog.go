package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/leeineian/haruka/sys"
)

const (
	MinPublishTracks = 3
	MaxTitleLength   = 50
	MaxPerAuthor     = 10
	SearchLimit      = 6
)

var (
	ErrTooFewTracks     = errors.New("too few tracks to publish")
	ErrTitleTooLong     = errors.New("title too long")
	ErrEmptyTitle       = errors.New("title is empty")
	ErrTooManyPublished = errors.New("publish limit reached")
	ErrNotFound         = errors.New("playlist not found")
	ErrNotOwner         = errors.New("playlist belongs to someone else")
)

// Playlist is a published snapshot of a channel queue.
type Playlist struct {
	ID          int64
	AuthorID    string
	Title       string
	Description string
	Tracks      []string
	UseCount    int
	CreatedAt   time.Time
}

// Catalog stores published playlists and loads them back into queues.
type Catalog struct {
	db     *sql.DB
	queues *Store
}

func NewCatalog(db *sql.DB, queues *Store) *Catalog {
	return &Catalog{db: db, queues: queues}
}

const playlistColumns = "id, author_id, title, description, tracks, use_count, created_at"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPlaylist(r rowScanner) (Playlist, error) {
	var (
		p       Playlist
		raw     string
		created int64
	)
	if err := r.Scan(&p.ID, &p.AuthorID, &p.Title, &p.Description, &raw, &p.UseCount, &created); err != nil {
		return Playlist{}, err
	}
	if err := json.Unmarshal([]byte(raw), &p.Tracks); err != nil {
		return Playlist{}, fmt.Errorf("decode playlist %d: %w", p.ID, err)
	}
	p.CreatedAt = time.Unix(created, 0)
	return p, nil
}

func (c *Catalog) query(ctx context.Context, q string, args ...any) ([]Playlist, error) {
	rows, err := c.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Playlist
	for rows.Next() {
		p, err := scanPlaylist(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Publish snapshots the queue of channelID under authorID's name.
func (c *Catalog) Publish(ctx context.Context, authorID, channelID, title, description string) (Playlist, error) {
	title = strings.TrimSpace(title)
	switch {
	case title == "":
		return Playlist{}, ErrEmptyTitle
	case len([]rune(title)) > MaxTitleLength:
		return Playlist{}, ErrTitleTooLong
	}

	tracks, err := c.queues.Read(ctx, channelID)
	if err != nil {
		return Playlist{}, err
	}
	if len(tracks) < MinPublishTracks {
		return Playlist{}, ErrTooFewTracks
	}
	raw, err := json.Marshal(tracks)
	if err != nil {
		return Playlist{}, err
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return Playlist{}, err
	}
	defer tx.Rollback()

	var owned int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM playlists WHERE author_id = ?", authorID).Scan(&owned); err != nil {
		return Playlist{}, err
	}
	if owned >= MaxPerAuthor {
		return Playlist{}, ErrTooManyPublished
	}

	now := time.Now()
	res, err := tx.ExecContext(ctx,
		"INSERT INTO playlists (author_id, title, description, tracks, use_count, created_at) VALUES (?, ?, ?, ?, 0, ?)",
		authorID, title, description, string(raw), now.Unix())
	if err != nil {
		return Playlist{}, fmt.Errorf("publish playlist: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Playlist{}, err
	}
	if err := tx.Commit(); err != nil {
		return Playlist{}, err
	}

	sys.LogQueue("Published playlist %d %q (%d tracks) by %s", id, title, len(tracks), authorID)
	return Playlist{
		ID:          id,
		AuthorID:    authorID,
		Title:       title,
		Description: description,
		Tracks:      tracks,
		CreatedAt:   time.Unix(now.Unix(), 0),
	}, nil
}

func (c *Catalog) Get(ctx context.Context, id int64) (Playlist, error) {
	row := c.db.QueryRowContext(ctx, "SELECT "+playlistColumns+" FROM playlists WHERE id = ?", id)
	p, err := scanPlaylist(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Playlist{}, ErrNotFound
	}
	return p, err
}

// Unpublish deletes a playlist owned by authorID and returns what was removed.
func (c *Catalog) Unpublish(ctx context.Context, id int64, authorID string) (Playlist, error) {
	p, err := c.Get(ctx, id)
	if err != nil {
		return Playlist{}, err
	}
	if p.AuthorID != authorID {
		return Playlist{}, ErrNotOwner
	}
	if _, err := c.db.ExecContext(ctx, "DELETE FROM playlists WHERE id = ? AND author_id = ?", id, authorID); err != nil {
		return Playlist{}, fmt.Errorf("unpublish playlist %d: %w", id, err)
	}
	sys.LogQueue("Unpublished playlist %d by %s", id, authorID)
	return p, nil
}

// Mine lists authorID's playlists, oldest first.
func (c *Catalog) Mine(ctx context.Context, authorID string) ([]Playlist, error) {
	return c.query(ctx,
		"SELECT "+playlistColumns+" FROM playlists WHERE author_id = ? ORDER BY id LIMIT ?",
		authorID, MaxPerAuthor)
}

// Search matches titles case-insensitively, most used first. An empty query
// lists the most used playlists.
func (c *Catalog) Search(ctx context.Context, query string) ([]Playlist, error) {
	query = strings.ToLower(strings.TrimSpace(query))
	return c.query(ctx,
		"SELECT "+playlistColumns+" FROM playlists WHERE instr(lower(title), ?) > 0 ORDER BY use_count DESC, id LIMIT ?",
		query, SearchLimit)
}

// Load replaces the queue of channelID with the playlist's tracks and counts
// the use.
func (c *Catalog) Load(ctx context.Context, id int64, channelID string) (Playlist, error) {
	p, err := c.Get(ctx, id)
	if err != nil {
		return Playlist{}, err
	}
	tracks := p.Tracks
	if len(tracks) > c.queues.Max() {
		tracks = tracks[:c.queues.Max()]
	}
	if err := c.queues.Replace(ctx, channelID, tracks); err != nil {
		return Playlist{}, err
	}
	if _, err := c.db.ExecContext(ctx, "UPDATE playlists SET use_count = use_count + 1 WHERE id = ?", id); err != nil {
		return Playlist{}, fmt.Errorf("count playlist use %d: %w", id, err)
	}
	p.UseCount++
	sys.LogQueue("Loaded playlist %d into channel %s", id, channelID)
	return p, nil
}
