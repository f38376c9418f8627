package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/forest6511/clipvault/internal/app"
	"github.com/forest6511/clipvault/internal/logging"
	"github.com/forest6511/clipvault/pkg/query"
	"github.com/forest6511/clipvault/pkg/vault"
)

// fakeHistory serves a fixed list of results, newest first.
type fakeHistory struct {
	status  app.Status
	results []query.Result
	err     error

	lastLimit int
	lastQuery string
}

func (f *fakeHistory) Status(context.Context) app.Status { return f.status }

func (f *fakeHistory) ListClipboard(_ context.Context, limit int, after *int64) (query.Page, error) {
	f.lastLimit = limit
	if f.err != nil {
		return query.Page{}, f.err
	}
	return f.page(f.results, limit, after), nil
}

func (f *fakeHistory) SearchClipboard(_ context.Context, q string, limit int, after *int64) (query.Page, error) {
	f.lastLimit, f.lastQuery = limit, q
	if f.err != nil {
		return query.Page{}, f.err
	}
	var matched []query.Result
	for _, r := range f.results {
		if strings.Contains(strings.ToLower(r.Content), strings.ToLower(q)) {
			r.Excerpt = r.Content
			matched = append(matched, r)
		}
	}
	return f.page(matched, limit, after), nil
}

func (f *fakeHistory) page(results []query.Result, limit int, after *int64) query.Page {
	var p query.Page
	for _, r := range results {
		if after != nil && r.Timestamp >= *after {
			continue
		}
		if len(p.Results) == limit {
			p.HasMore = true
			cursor := p.Results[len(p.Results)-1].Timestamp
			p.NextCursor = &cursor
			break
		}
		p.Results = append(p.Results, r)
	}
	return p
}

func (f *fakeHistory) Latest(context.Context) (query.Result, error) {
	if f.err != nil {
		return query.Result{}, f.err
	}
	if len(f.results) == 0 {
		return query.Result{}, vault.ErrNotFound
	}
	return f.results[0], nil
}

func (f *fakeHistory) Get(_ context.Context, ref string) (query.Result, error) {
	if f.err != nil {
		return query.Result{}, f.err
	}
	for _, r := range f.results {
		if r.ContentHash == ref || r.Content == ref {
			return r, nil
		}
	}
	return query.Result{}, vault.ErrNotFound
}

func textResult(content string, ts int64) query.Result {
	return query.Result{
		ContentHash: vault.HashContent([]byte(content)),
		ContentType: vault.DefaultContentType,
		Content:     content,
		Encoding:    query.EncodingText,
		Timestamp:   ts,
		Size:        len(content),
	}
}

func newHistory() *fakeHistory {
	return &fakeHistory{
		status: app.Status{Exists: true, Unlocked: true, State: "unlocked"},
		results: []query.Result{
			textResult("hunter2-password", 3000),
			{
				ContentHash: vault.HashContent([]byte{0x89, 'P', 'N', 'G'}),
				ContentType: "image/png",
				Content:     "iVBORw==",
				Encoding:    query.EncodingBase64,
				Timestamp:   2000,
				Size:        4,
			},
			textResult("hello world", 1000),
		},
	}
}

func testServer(t *testing.T, h History, policy *Policy) *Server {
	t.Helper()
	s, err := NewServer(&ServerOptions{History: h, Policy: policy, Logger: logging.Discard()})
	if err != nil {
		t.Fatalf("NewServer() error: %v", err)
	}
	return s
}

func TestNewServer_NoHistory(t *testing.T) {
	if _, err := NewServer(nil); err == nil {
		t.Error("expected error without options")
	}
	if _, err := NewServer(&ServerOptions{}); err == nil {
		t.Error("expected error without history")
	}
}

func TestNewServer_InvalidPolicy(t *testing.T) {
	_, err := NewServer(&ServerOptions{History: newHistory(), Policy: &Policy{Version: 1, Content: "everything"}})
	if err == nil {
		t.Error("expected error for invalid content mode")
	}
}

func TestNewServer_DefaultPolicy(t *testing.T) {
	s := testServer(t, newHistory(), nil)
	if s.policy.Content != ContentMasked {
		t.Errorf("default content mode = %q, want %q", s.policy.Content, ContentMasked)
	}
}

func TestHandleStatus(t *testing.T) {
	h := newHistory()
	h.status.DaemonPID = 42
	h.status.ExpiresAt = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	s := testServer(t, h, nil)

	_, out, err := s.handleStatus(context.Background(), nil, StatusInput{})
	if err != nil {
		t.Fatalf("handleStatus() error: %v", err)
	}
	if !out.Unlocked || !out.DaemonRunning || out.State != "unlocked" {
		t.Errorf("status = %+v", out)
	}
	if out.ExpiresAt != "2026-01-02T03:04:05Z" {
		t.Errorf("expires_at = %q", out.ExpiresAt)
	}
}

func TestHandleLatest_Masked(t *testing.T) {
	s := testServer(t, newHistory(), nil)

	_, out, err := s.handleLatest(context.Background(), nil, LatestInput{})
	if err != nil {
		t.Fatalf("handleLatest() error: %v", err)
	}
	if out.Item.Content != "************word" || !out.Item.Masked {
		t.Errorf("item = %+v, want masked content", out.Item)
	}
	if out.Item.Size != len("hunter2-password") {
		t.Errorf("size = %d", out.Item.Size)
	}
}

func TestHandleLatest_Empty(t *testing.T) {
	s := testServer(t, &fakeHistory{}, nil)
	_, _, err := s.handleLatest(context.Background(), nil, LatestInput{})
	if err == nil || !strings.Contains(err.Error(), "empty") {
		t.Errorf("handleLatest() error = %v, want empty history", err)
	}
}

func TestHandleList_ContentModes(t *testing.T) {
	tests := []struct {
		mode        string
		wantContent string
		withheld    bool
	}{
		{ContentFull, "hunter2-password", false},
		{ContentMasked, "************word", false},
		{ContentNone, "", true},
	}
	for _, tc := range tests {
		t.Run(tc.mode, func(t *testing.T) {
			s := testServer(t, newHistory(), &Policy{Version: 1, Content: tc.mode})
			_, out, err := s.handleList(context.Background(), nil, ListInput{})
			if err != nil {
				t.Fatalf("handleList() error: %v", err)
			}
			if len(out.Items) != 3 {
				t.Fatalf("got %d items, want 3", len(out.Items))
			}
			first := out.Items[0]
			if first.Content != tc.wantContent || first.Withheld != tc.withheld {
				t.Errorf("first item = %+v", first)
			}
			// Binary content is withheld in every mode.
			if img := out.Items[1]; !img.Withheld || img.Content != "" {
				t.Errorf("binary item = %+v, want withheld", img)
			}
			if out.Items[2].CopiedAt != time.Unix(0, 1000).UTC().Format(time.RFC3339Nano) {
				t.Errorf("copied_at = %q", out.Items[2].CopiedAt)
			}
		})
	}
}

func TestHandleList_LimitCappedByPolicy(t *testing.T) {
	h := newHistory()
	s := testServer(t, h, &Policy{Version: 1, Content: ContentFull, MaxResults: 2})

	_, out, err := s.handleList(context.Background(), nil, ListInput{Limit: 50})
	if err != nil {
		t.Fatalf("handleList() error: %v", err)
	}
	if h.lastLimit != 2 {
		t.Errorf("limit passed to history = %d, want 2", h.lastLimit)
	}
	if len(out.Items) != 2 || !out.HasMore || out.NextCursor == nil {
		t.Fatalf("page = %+v, want 2 items and a cursor", out)
	}

	_, next, err := s.handleList(context.Background(), nil, ListInput{After: out.NextCursor})
	if err != nil {
		t.Fatalf("handleList() error: %v", err)
	}
	if len(next.Items) != 1 || next.Items[0].Content != "hello world" || next.HasMore {
		t.Errorf("second page = %+v", next)
	}
}

func TestHandleList_Locked(t *testing.T) {
	h := newHistory()
	h.err = vault.ErrVaultLocked
	s := testServer(t, h, nil)

	_, _, err := s.handleList(context.Background(), nil, ListInput{})
	if err == nil || !strings.Contains(err.Error(), "clipvault unlock") {
		t.Errorf("handleList() error = %v, want unlock hint", err)
	}
}

func TestHandleList_InternalErrorHidden(t *testing.T) {
	h := newHistory()
	h.err = errors.New("disk exploded at /secret/path")
	s := testServer(t, h, nil)

	_, _, err := s.handleList(context.Background(), nil, ListInput{})
	if err == nil {
		t.Fatal("expected error")
	}
	if strings.Contains(err.Error(), "/secret/path") {
		t.Errorf("error leaks internals: %v", err)
	}
}

func TestHandleSearch(t *testing.T) {
	h := newHistory()
	s := testServer(t, h, &Policy{Version: 1, Content: ContentFull})

	_, out, err := s.handleSearch(context.Background(), nil, SearchInput{Query: "HELLO"})
	if err != nil {
		t.Fatalf("handleSearch() error: %v", err)
	}
	if len(out.Items) != 1 || out.Items[0].Excerpt != "hello world" {
		t.Errorf("search result = %+v", out)
	}
	if h.lastQuery != "HELLO" || h.lastLimit != DefaultMaxResults {
		t.Errorf("history called with q=%q limit=%d", h.lastQuery, h.lastLimit)
	}
}

func TestHandleSearch_MaskedDropsExcerpt(t *testing.T) {
	s := testServer(t, newHistory(), nil)
	_, out, err := s.handleSearch(context.Background(), nil, SearchInput{Query: "hello"})
	if err != nil {
		t.Fatalf("handleSearch() error: %v", err)
	}
	if len(out.Items) != 1 || out.Items[0].Excerpt != "" || !out.Items[0].Masked {
		t.Errorf("search result = %+v", out)
	}
}

func TestHandleSearch_Validation(t *testing.T) {
	s := testServer(t, newHistory(), nil)
	if _, _, err := s.handleSearch(context.Background(), nil, SearchInput{Query: "  "}); err == nil {
		t.Error("expected error for blank query")
	}

	s = testServer(t, newHistory(), &Policy{Version: 1, Content: ContentNone})
	if _, _, err := s.handleSearch(context.Background(), nil, SearchInput{Query: "hello"}); err == nil {
		t.Error("expected search to be disabled in none mode")
	}
}

func TestHandleGet(t *testing.T) {
	s := testServer(t, newHistory(), &Policy{Version: 1, Content: ContentFull})

	_, out, err := s.handleGet(context.Background(), nil, GetInput{Ref: vault.HashContent([]byte("hello world"))})
	if err != nil {
		t.Fatalf("handleGet() error: %v", err)
	}
	if out.Item.Content != "hello world" {
		t.Errorf("item = %+v", out.Item)
	}

	if _, _, err := s.handleGet(context.Background(), nil, GetInput{}); err == nil {
		t.Error("expected error for empty ref")
	}
	_, _, err = s.handleGet(context.Background(), nil, GetInput{Ref: "missing"})
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Errorf("handleGet() error = %v, want not found", err)
	}
}

func TestDeniedContentType(t *testing.T) {
	h := &fakeHistory{results: []query.Result{textResult("<b>hi</b>", 1)}}
	h.results[0].ContentType = "text/html; charset=utf-8"
	s := testServer(t, h, &Policy{Version: 1, Content: ContentFull, DeniedContentTypes: []string{"text/HTML"}})

	_, out, err := s.handleLatest(context.Background(), nil, LatestInput{})
	if err != nil {
		t.Fatalf("handleLatest() error: %v", err)
	}
	if !out.Item.Withheld || out.Item.Content != "" {
		t.Errorf("item = %+v, want withheld", out.Item)
	}
}

// TestProtocol drives the server through a real client session.
func TestProtocol(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s := testServer(t, newHistory(), &Policy{Version: 1, Content: ContentFull})
	clientTransport, serverTransport := mcp.NewInMemoryTransports()
	ss, err := s.Connect(ctx, serverTransport)
	if err != nil {
		t.Fatalf("server Connect() error: %v", err)
	}
	defer ss.Close()

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "v0.0.1"}, nil)
	cs, err := client.Connect(ctx, clientTransport, nil)
	if err != nil {
		t.Fatalf("client Connect() error: %v", err)
	}
	defer cs.Close()

	tools, err := cs.ListTools(ctx, nil)
	if err != nil {
		t.Fatalf("ListTools() error: %v", err)
	}
	var names []string
	for _, tool := range tools.Tools {
		names = append(names, tool.Name)
	}
	sort.Strings(names)
	want := []string{"clipboard_get", "clipboard_latest", "clipboard_list", "clipboard_search", "clipboard_status"}
	if strings.Join(names, ",") != strings.Join(want, ",") {
		t.Errorf("tools = %v, want %v", names, want)
	}

	res, err := cs.CallTool(ctx, &mcp.CallToolParams{Name: "clipboard_latest", Arguments: map[string]any{}})
	if err != nil {
		t.Fatalf("CallTool() error: %v", err)
	}
	if res.IsError {
		t.Fatalf("clipboard_latest returned a tool error: %+v", res.Content)
	}
	var latest ItemOutput
	if err := json.Unmarshal([]byte(textOf(t, res)), &latest); err != nil {
		t.Fatalf("decode clipboard_latest: %v", err)
	}
	if latest.Item.Content != "hunter2-password" {
		t.Errorf("latest = %+v", latest.Item)
	}

	res, err = cs.CallTool(ctx, &mcp.CallToolParams{Name: "clipboard_get", Arguments: map[string]any{"ref": "missing"}})
	if err != nil {
		t.Fatalf("CallTool() error: %v", err)
	}
	if !res.IsError || !strings.Contains(textOf(t, res), "not found") {
		t.Errorf("clipboard_get missing = %+v, want tool error", res)
	}
}

func textOf(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	for _, c := range res.Content {
		if tc, ok := c.(*mcp.TextContent); ok {
			return tc.Text
		}
	}
	t.Fatalf("no text content in %+v", res.Content)
	return ""
}
