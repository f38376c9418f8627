// Package query turns client list and search requests into vault page
// reads and shapes the results for transport.
package query

import (
	"context"
	"encoding/base64"
	"slices"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/forest6511/clipvault/pkg/vault"
)

// Page size limits.
const (
	DefaultLimit         = 20
	MaxLimit             = 500
	DefaultExcerptLength = 200
)

// Content encodings used in Result.
const (
	EncodingText   = "text"
	EncodingBase64 = "base64"
)

// Store is the part of the vault the engine reads.
type Store interface {
	List(ctx context.Context, limit int, after *int64) ([]vault.Item, bool, error)
	Search(ctx context.Context, query string, limit int, after *int64) ([]vault.Item, bool, error)
}

// Result is one item in transport form. Text content is verbatim, anything
// else is base64.
type Result struct {
	ContentHash string `json:"content_hash"`
	ContentType string `json:"content_type"`
	Content     string `json:"content"`
	Encoding    string `json:"encoding"`
	Timestamp   int64  `json:"timestamp"`
	Size        int    `json:"size"`
	Excerpt     string `json:"excerpt,omitempty"`
}

// Page is one page of results. NextCursor is the timestamp to pass as
// after for the following page and is nil when HasMore is false.
type Page struct {
	Results    []Result `json:"results"`
	HasMore    bool     `json:"has_more"`
	NextCursor *int64   `json:"next_cursor,omitempty"`
}

// Engine is stateless apart from its store.
type Engine struct {
	store         Store
	excerptLength int
}

// New returns an engine over store.
func New(store Store) *Engine {
	return &Engine{store: store, excerptLength: DefaultExcerptLength}
}

// WithExcerptLength sets the preview length of search excerpts.
func (e *Engine) WithExcerptLength(n int) *Engine {
	if n > 0 {
		e.excerptLength = n
	}
	return e
}

// NormalizeLimit applies the default and the cap.
func NormalizeLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultLimit
	case limit > MaxLimit:
		return MaxLimit
	default:
		return limit
	}
}

// List returns the newest items older than after.
func (e *Engine) List(ctx context.Context, limit int, after *int64) (Page, error) {
	items, hasMore, err := e.store.List(ctx, NormalizeLimit(limit), after)
	if err != nil {
		return Page{}, err
	}
	return e.page(items, hasMore, ""), nil
}

// Search returns items matching q. A blank query lists.
func (e *Engine) Search(ctx context.Context, q string, limit int, after *int64) (Page, error) {
	q = strings.TrimSpace(q)
	if q == "" {
		return e.List(ctx, limit, after)
	}
	items, hasMore, err := e.store.Search(ctx, q, NormalizeLimit(limit), after)
	if err != nil {
		return Page{}, err
	}
	return e.page(items, hasMore, q), nil
}

func (e *Engine) page(items []vault.Item, hasMore bool, q string) Page {
	p := Page{Results: make([]Result, 0, len(items)), HasMore: hasMore}
	for _, it := range items {
		r := ToResult(it)
		if q != "" && it.IsText() {
			r.Excerpt = Excerpt(r.Content, q, e.excerptLength)
		}
		p.Results = append(p.Results, r)
	}
	if hasMore && len(items) > 0 {
		cursor := items[len(items)-1].Timestamp
		p.NextCursor = &cursor
	}
	return p
}

// ToResult converts a vault item to transport form.
func ToResult(it vault.Item) Result {
	r := Result{
		ContentHash: it.ContentHash,
		ContentType: it.ContentType,
		Timestamp:   it.Timestamp,
		Size:        it.Size,
	}
	if it.IsText() {
		r.Content = string(it.Content)
		r.Encoding = EncodingText
	} else {
		r.Content = base64.StdEncoding.EncodeToString(it.Content)
		r.Encoding = EncodingBase64
	}
	return r
}

// DecodeContent reverses ToResult's content encoding.
func DecodeContent(content, encoding string) ([]byte, error) {
	if encoding == EncodingBase64 {
		return base64.StdEncoding.DecodeString(content)
	}
	return []byte(content), nil
}

// Excerpt returns at most maxLength runes of content around the first
// case-insensitive occurrence of q. Content that fits is returned whole.
// The match is centred, the window clamped to the content, and each cut
// edge moved to a nearby space (within maxLength/4 runes) when that does
// not cut into the match. Without a match the leading window is used. The
// result depends only on the arguments.
func Excerpt(content, q string, maxLength int) string {
	if maxLength <= 0 {
		return ""
	}
	runes := []rune(content)
	n := len(runes)
	if n <= maxLength {
		return content
	}

	ms, ml := indexFold(content, q)
	if ml > maxLength {
		ml = maxLength
	}
	if ms < 0 {
		ms, ml = 0, 0
	}

	start := 0
	if ml > 0 {
		start = max(ms-(maxLength-ml)/2, 0)
	}
	end := start + maxLength
	if end > n {
		end = n
		start = n - maxLength
	}

	slack := maxLength / 4
	if start > 0 && !unicode.IsSpace(runes[start-1]) {
		for i := start; i < start+slack && i < ms; i++ {
			if unicode.IsSpace(runes[i]) {
				start = i + 1
				break
			}
		}
	}
	if end < n && !unicode.IsSpace(runes[end]) {
		for i := end - 1; i >= end-slack && i >= ms+ml && i > start; i-- {
			if unicode.IsSpace(runes[i]) {
				end = i
				break
			}
		}
	}
	return string(runes[start:end])
}

// indexFold finds needle in haystack under the NFC normalisation and full
// case folding the vault searches with, so "strasse" finds "Straße". It
// returns the rune offset and length of the match in haystack, or -1.
func indexFold(haystack, needle string) (int, int) {
	caser := cases.Fold()
	want := caser.String(norm.NFC.String(needle))
	if want == "" {
		return -1, 0
	}

	// Fold one normalisation segment at a time, remembering where each
	// segment starts in the folded text and in haystack runes.
	var (
		folded strings.Builder
		starts []int
		runeAt []int
		it     norm.Iter
	)
	it.InitString(norm.NFC, haystack)
	r := 0
	for !it.Done() {
		from := it.Pos()
		seg := it.Next()
		starts = append(starts, folded.Len())
		runeAt = append(runeAt, r)
		folded.WriteString(caser.String(string(seg)))
		r += utf8.RuneCountInString(haystack[from:it.Pos()])
	}
	starts = append(starts, folded.Len())
	runeAt = append(runeAt, r)

	text := folded.String()
	for off := 0; off < len(text); {
		i := strings.Index(text[off:], want)
		if i < 0 {
			return -1, 0
		}
		i += off
		// a match must begin on a segment; its end widens to cover one
		first, ok := slices.BinarySearch(starts, i)
		if ok {
			last, _ := slices.BinarySearch(starts, i+len(want))
			return runeAt[first], runeAt[last] - runeAt[first]
		}
		off = i + 1
	}
	return -1, 0
}
