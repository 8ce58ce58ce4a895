package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"
	"sync"
	"time"

	"github.com/leeineian/haruka/sys"
)

const (
	MaxSize = 100
	// Random selects a uniformly random position in RemoveAt.
	Random = -1
)

var (
	ErrFull       = errors.New("queue is full")
	ErrOutOfRange = errors.New("position out of range")
)

// Store persists one ordered list of track ids per voice channel. Each call
// is atomic on its own; sequences of calls are not, and the last writer wins.
type Store struct {
	db   *sql.DB
	max  int
	mu   sync.Mutex
	rand func(n int) int
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db, max: MaxSize, rand: rand.IntN}
}

func (s *Store) Max() int { return s.max }

func (s *Store) Read(ctx context.Context, channelID string) ([]string, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, "SELECT tracks FROM queues WHERE channel_id = ?", channelID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read queue %s: %w", channelID, err)
	}
	ids := []string{}
	if err := json.Unmarshal([]byte(raw), &ids); err != nil {
		return nil, fmt.Errorf("decode queue %s: %w", channelID, err)
	}
	return ids, nil
}

func (s *Store) write(ctx context.Context, channelID string, ids []string) error {
	if ids == nil {
		ids = []string{}
	}
	raw, err := json.Marshal(ids)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO queues (channel_id, tracks, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(channel_id) DO UPDATE SET tracks = excluded.tracks, updated_at = excluded.updated_at
	`, channelID, string(raw), time.Now().Unix())
	if err != nil {
		return fmt.Errorf("write queue %s: %w", channelID, err)
	}
	return nil
}

// Append adds ids to the back and returns the new length. It refuses to grow
// the queue past Max.
func (s *Store) Append(ctx context.Context, channelID string, ids ...string) (int, error) {
	return s.push(ctx, channelID, true, ids...)
}

// Requeue puts an id the player just popped back at the end. The size cap
// does not apply: a command may have filled the freed slot in the meantime,
// and the popped id must not drop out of the rotation.
func (s *Store) Requeue(ctx context.Context, channelID string, id string) (int, error) {
	return s.push(ctx, channelID, false, id)
}

func (s *Store) push(ctx context.Context, channelID string, capped bool, ids ...string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, err := s.Read(ctx, channelID)
	if err != nil {
		return 0, err
	}
	if capped && len(cur)+len(ids) > s.max {
		return len(cur), ErrFull
	}
	cur = append(cur, ids...)
	return len(cur), s.write(ctx, channelID, cur)
}

// RemoveAt removes and returns the id at the 1-based position pos, or at a
// random position when pos is Random. A missing position yields false.
func (s *Store) RemoveAt(ctx context.Context, channelID string, pos int) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, err := s.Read(ctx, channelID)
	if err != nil {
		return "", false, err
	}
	if len(cur) == 0 {
		return "", false, nil
	}

	idx := pos - 1
	if pos == Random {
		idx = s.rand(len(cur))
	}
	if idx < 0 || idx >= len(cur) {
		return "", false, nil
	}

	id := cur[idx]
	cur = slices.Delete(cur, idx, idx+1)
	if err := s.write(ctx, channelID, cur); err != nil {
		return "", false, err
	}
	sys.LogQueue("Removed %s from position %d in %s (%d left)", id, idx+1, channelID, len(cur))
	return id, true, nil
}

func (s *Store) Replace(ctx context.Context, channelID string, ids []string) error {
	if len(ids) > s.max {
		return ErrFull
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.write(ctx, channelID, slices.Clone(ids))
}

func (s *Store) Clear(ctx context.Context, channelID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.write(ctx, channelID, nil)
}

// Rotate moves the first n ids to the back.
func (s *Store) Rotate(ctx context.Context, channelID string, n int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, err := s.Read(ctx, channelID)
	if err != nil {
		return err
	}
	if n < 1 || n > len(cur) {
		return ErrOutOfRange
	}
	return s.write(ctx, channelID, append(slices.Clone(cur[n:]), cur[:n]...))
}
