package query

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forest6511/clipvault/pkg/vault"
)

type fakeStore struct {
	items   []vault.Item
	hasMore bool
	err     error

	gotLimit int
	gotAfter *int64
	gotQuery string
	searched bool
}

func (s *fakeStore) List(_ context.Context, limit int, after *int64) ([]vault.Item, bool, error) {
	s.gotLimit, s.gotAfter = limit, after
	return s.items, s.hasMore, s.err
}

func (s *fakeStore) Search(_ context.Context, q string, limit int, after *int64) ([]vault.Item, bool, error) {
	s.searched = true
	s.gotQuery, s.gotLimit, s.gotAfter = q, limit, after
	return s.items, s.hasMore, s.err
}

func text(content string, ts int64) vault.Item {
	return vault.Item{
		ContentHash: vault.HashContent([]byte(content)),
		ContentType: "text/plain",
		Content:     []byte(content),
		Timestamp:   ts,
		Size:        len(content),
	}
}

func TestNormalizeLimit(t *testing.T) {
	tests := []struct {
		in, want int
	}{
		{0, DefaultLimit},
		{-5, DefaultLimit},
		{1, 1},
		{MaxLimit, MaxLimit},
		{MaxLimit + 1, MaxLimit},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeLimit(tt.in), "NormalizeLimit(%d)", tt.in)
	}
}

func TestListPage(t *testing.T) {
	store := &fakeStore{items: []vault.Item{text("world", 300), text("hello", 200)}, hasMore: true}
	after := int64(400)

	page, err := New(store).List(context.Background(), 0, &after)
	require.NoError(t, err)

	assert.Equal(t, DefaultLimit, store.gotLimit)
	assert.Equal(t, &after, store.gotAfter)
	require.Len(t, page.Results, 2)
	assert.Equal(t, "world", page.Results[0].Content)
	assert.Equal(t, EncodingText, page.Results[0].Encoding)
	assert.Empty(t, page.Results[0].Excerpt, "list results carry no excerpt")
	assert.True(t, page.HasMore)
	require.NotNil(t, page.NextCursor)
	assert.Equal(t, int64(200), *page.NextCursor)
}

func TestLastPageHasNoCursor(t *testing.T) {
	store := &fakeStore{items: []vault.Item{text("hello", 200)}}
	page, err := New(store).List(context.Background(), 10, nil)
	require.NoError(t, err)
	assert.False(t, page.HasMore)
	assert.Nil(t, page.NextCursor)
}

func TestEmptyPage(t *testing.T) {
	page, err := New(&fakeStore{}).List(context.Background(), 10, nil)
	require.NoError(t, err)
	assert.NotNil(t, page.Results)
	assert.Empty(t, page.Results)
}

func TestSearchBlankQueryLists(t *testing.T) {
	store := &fakeStore{}
	_, err := New(store).Search(context.Background(), "   ", 5, nil)
	require.NoError(t, err)
	assert.False(t, store.searched)
	assert.Equal(t, 5, store.gotLimit)
}

func TestSearchExcerpt(t *testing.T) {
	store := &fakeStore{items: []vault.Item{text("the quick brown fox", 100)}}
	page, err := New(store).WithExcerptLength(10).Search(context.Background(), "  brown ", 1000, nil)
	require.NoError(t, err)

	assert.Equal(t, "brown", store.gotQuery)
	assert.Equal(t, MaxLimit, store.gotLimit)
	require.Len(t, page.Results, 1)
	assert.Equal(t, "the quick brown fox", page.Results[0].Content)
	assert.Equal(t, "brown fo", page.Results[0].Excerpt)
}

func TestImageResultsAreBase64(t *testing.T) {
	png := []byte{0x89, 'P', 'N', 'G', 0x00, 0xff}
	store := &fakeStore{items: []vault.Item{{
		ContentHash: vault.HashContent(png),
		ContentType: "image/png",
		Content:     png,
		Timestamp:   1,
		Size:        len(png),
	}}}
	page, err := New(store).Search(context.Background(), "png", 10, nil)
	require.NoError(t, err)
	require.Len(t, page.Results, 1)

	r := page.Results[0]
	assert.Equal(t, EncodingBase64, r.Encoding)
	assert.Empty(t, r.Excerpt)
	decoded, err := DecodeContent(r.Content, r.Encoding)
	require.NoError(t, err)
	assert.Equal(t, png, decoded)
}

func TestStoreErrorPropagates(t *testing.T) {
	store := &fakeStore{err: vault.ErrVaultLocked}
	_, err := New(store).List(context.Background(), 10, nil)
	assert.True(t, errors.Is(err, vault.ErrVaultLocked))
	_, err = New(store).Search(context.Background(), "x", 10, nil)
	assert.True(t, errors.Is(err, vault.ErrVaultLocked))
}

func TestExcerpt(t *testing.T) {
	tests := []struct {
		name    string
		content string
		query   string
		max     int
		want    string
	}{
		{"fits", "short", "x", 10, "short"},
		{"centred and snapped", "the quick brown fox", "brown", 10, "brown fo"},
		{"case insensitive", "the quick BROWN fox", "brown", 10, "BROWN fo"},
		{"no match uses leading window", "alpha beta gamma delta", "zzz", 12, "alpha beta"},
		{"match at end clamps", "one two three four five", "five", 8, "our five"},
		{"match longer than window", "abcdefghij", "cdefgh", 4, "cdef"},
		{"zero length", "anything", "a", 0, ""},
		{"multibyte runes", "ééééé café ééééé", "CAFÉ", 6, "café"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Excerpt(tt.content, tt.query, tt.max)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, got, Excerpt(tt.content, tt.query, tt.max), "must be deterministic")
			assert.LessOrEqual(t, len([]rune(got)), max(tt.max, 0))
		})
	}
}

func TestExcerptFullCaseFold(t *testing.T) {
	filler := strings.Repeat("lorem ipsum ", 6)
	tests := []struct {
		name    string
		content string
		query   string
		want    string
	}{
		{"sharp s", filler + "Straße " + filler, "strasse", "Straße"},
		{"sharp s in query", filler + "STRASSE " + filler, "straße", "STRASSE"},
		{"decomposed accent", filler + "Cafe\u0301 " + filler, "CAFÉ", "Cafe\u0301"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Excerpt(tt.content, tt.query, 40)
			assert.Contains(t, got, tt.want)
			assert.LessOrEqual(t, len([]rune(got)), 40)
		})
	}
}
