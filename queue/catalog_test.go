package queue

import (
	"context"
	"errors"
	"slices"
	"strconv"
	"strings"
	"testing"
)

func newTestCatalog(t *testing.T) (*Catalog, *Store) {
	t.Helper()
	s := newTestStore(t)
	return NewCatalog(s.db, s), s
}

func fillQueue(t *testing.T, s *Store, channelID string, ids ...string) {
	t.Helper()
	if err := s.Replace(context.Background(), channelID, ids); err != nil {
		t.Fatal(err)
	}
}

func TestPublishValidates(t *testing.T) {
	ctx := context.Background()
	c, s := newTestCatalog(t)
	fillQueue(t, s, "small", "a", "b")
	fillQueue(t, s, "big", "a", "b", "c")

	tests := []struct {
		name    string
		channel string
		title   string
		want    error
	}{
		{"too few tracks", "small", "mix", ErrTooFewTracks},
		{"blank title", "big", "   ", ErrEmptyTitle},
		{"long title", "big", strings.Repeat("x", MaxTitleLength+1), ErrTitleTooLong},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := c.Publish(ctx, "u1", tt.channel, tt.title, ""); !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}

	p, err := c.Publish(ctx, "u1", "big", " road trip ", "songs for the car")
	if err != nil {
		t.Fatal(err)
	}
	if p.ID == 0 || p.Title != "road trip" || !slices.Equal(p.Tracks, []string{"a", "b", "c"}) {
		t.Errorf("published %+v", p)
	}
}

func TestPublishLimitPerAuthor(t *testing.T) {
	ctx := context.Background()
	c, s := newTestCatalog(t)
	fillQueue(t, s, "ch", "a", "b", "c")

	for i := range MaxPerAuthor {
		if _, err := c.Publish(ctx, "u1", "ch", "list "+strconv.Itoa(i), ""); err != nil {
			t.Fatalf("publish %d: %v", i, err)
		}
	}
	if _, err := c.Publish(ctx, "u1", "ch", "one more", ""); !errors.Is(err, ErrTooManyPublished) {
		t.Fatalf("err = %v, want ErrTooManyPublished", err)
	}
	if _, err := c.Publish(ctx, "u2", "ch", "someone else", ""); err != nil {
		t.Fatalf("other author limited: %v", err)
	}

	mine, err := c.Mine(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if len(mine) != MaxPerAuthor || mine[0].Title != "list 0" {
		t.Errorf("Mine = %d playlists, first %q", len(mine), mine[0].Title)
	}
}

func TestUnpublishChecksOwner(t *testing.T) {
	ctx := context.Background()
	c, s := newTestCatalog(t)
	fillQueue(t, s, "ch", "a", "b", "c")
	p, err := c.Publish(ctx, "u1", "ch", "mine", "")
	if err != nil {
		t.Fatal(err)
	}

	if _, err := c.Unpublish(ctx, p.ID, "u2"); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("err = %v, want ErrNotOwner", err)
	}
	if _, err := c.Unpublish(ctx, p.ID, "u1"); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Get(ctx, p.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after unpublish err = %v", err)
	}
	if _, err := c.Unpublish(ctx, p.ID, "u1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second unpublish err = %v", err)
	}
}

func TestSearchAndLoad(t *testing.T) {
	ctx := context.Background()
	c, s := newTestCatalog(t)
	fillQueue(t, s, "src", "a", "b", "c")
	chill, err := c.Publish(ctx, "u1", "src", "Chill Beats", "")
	if err != nil {
		t.Fatal(err)
	}
	fillQueue(t, s, "src", "x", "y", "z", "w")
	party, err := c.Publish(ctx, "u2", "src", "party beats", "")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.Publish(ctx, "u2", "src", "lofi", ""); err != nil {
		t.Fatal(err)
	}

	loaded, err := c.Load(ctx, party.ID, "dst")
	if err != nil {
		t.Fatal(err)
	}
	if loaded.UseCount != 1 {
		t.Errorf("UseCount = %d, want 1", loaded.UseCount)
	}
	q, _ := s.Read(ctx, "dst")
	if !slices.Equal(q, []string{"x", "y", "z", "w"}) {
		t.Errorf("queue after load = %v", q)
	}

	found, err := c.Search(ctx, "BEATS")
	if err != nil {
		t.Fatal(err)
	}
	if len(found) != 2 || found[0].ID != party.ID || found[1].ID != chill.ID {
		t.Errorf("Search = %+v, want the used playlist first", found)
	}

	all, err := c.Search(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Errorf("empty search = %d playlists, want 3", len(all))
	}

	if _, err := c.Load(ctx, 9999, "dst"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Load missing err = %v", err)
	}
}
