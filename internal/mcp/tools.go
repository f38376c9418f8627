package mcp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/forest6511/clipvault/pkg/query"
	"github.com/forest6511/clipvault/pkg/vault"
)

// StatusInput represents input for clipboard_status tool.
type StatusInput struct{}

// StatusOutput represents output for clipboard_status tool.
type StatusOutput struct {
	Exists        bool   `json:"exists"`
	Unlocked      bool   `json:"unlocked"`
	State         string `json:"state"`
	ExpiresAt     string `json:"expires_at,omitempty"`
	Capturing     bool   `json:"capturing"`
	DaemonRunning bool   `json:"daemon_running"`
}

// LatestInput represents input for clipboard_latest tool.
type LatestInput struct{}

// ListInput represents input for clipboard_list tool.
type ListInput struct {
	Limit int    `json:"limit,omitempty" jsonschema:"maximum number of items to return"`
	After *int64 `json:"after,omitempty" jsonschema:"next_cursor from the previous page"`
}

// SearchInput represents input for clipboard_search tool.
type SearchInput struct {
	Query string `json:"query" jsonschema:"text to search for"`
	Limit int    `json:"limit,omitempty" jsonschema:"maximum number of items to return"`
	After *int64 `json:"after,omitempty" jsonschema:"next_cursor from the previous page"`
}

// GetInput represents input for clipboard_get tool.
type GetInput struct {
	Ref string `json:"ref" jsonschema:"content hash or exact text of the item"`
}

// ItemInfo is one clipboard item as an agent sees it. Content is empty
// when withheld and asterisks when masked.
type ItemInfo struct {
	ContentHash string `json:"content_hash"`
	ContentType string `json:"content_type"`
	CopiedAt    string `json:"copied_at"`
	Size        int    `json:"size"`
	Content     string `json:"content,omitempty"`
	Excerpt     string `json:"excerpt,omitempty"`
	Masked      bool   `json:"masked,omitempty"`
	Withheld    bool   `json:"withheld,omitempty"`
}

// ItemOutput represents output for clipboard_latest and clipboard_get.
type ItemOutput struct {
	Item ItemInfo `json:"item"`
}

// PageOutput represents output for clipboard_list and clipboard_search.
type PageOutput struct {
	Items      []ItemInfo `json:"items"`
	HasMore    bool       `json:"has_more"`
	NextCursor *int64     `json:"next_cursor,omitempty"`
}

// handleStatus handles the clipboard_status tool call.
func (s *Server) handleStatus(ctx context.Context, _ *mcp.CallToolRequest, _ StatusInput) (*mcp.CallToolResult, StatusOutput, error) {
	st := s.history.Status(ctx)
	out := StatusOutput{
		Exists:        st.Exists,
		Unlocked:      st.Unlocked,
		State:         st.State,
		Capturing:     st.Capturing,
		DaemonRunning: st.DaemonPID != 0,
	}
	if !st.ExpiresAt.IsZero() {
		out.ExpiresAt = st.ExpiresAt.UTC().Format(time.RFC3339)
	}
	return nil, out, nil
}

// handleLatest handles the clipboard_latest tool call.
func (s *Server) handleLatest(ctx context.Context, _ *mcp.CallToolRequest, _ LatestInput) (*mcp.CallToolResult, ItemOutput, error) {
	r, err := s.history.Latest(ctx)
	if err != nil {
		if errors.Is(err, vault.ErrNotFound) {
			return nil, ItemOutput{}, errors.New("clipboard history is empty")
		}
		return nil, ItemOutput{}, s.toolError("clipboard_latest", err)
	}
	return nil, ItemOutput{Item: s.itemInfo(r)}, nil
}

// handleList handles the clipboard_list tool call.
func (s *Server) handleList(ctx context.Context, _ *mcp.CallToolRequest, input ListInput) (*mcp.CallToolResult, PageOutput, error) {
	page, err := s.history.ListClipboard(ctx, s.policy.Limit(input.Limit), input.After)
	if err != nil {
		return nil, PageOutput{}, s.toolError("clipboard_list", err)
	}
	return nil, s.pageOutput(page), nil
}

// handleSearch handles the clipboard_search tool call.
func (s *Server) handleSearch(ctx context.Context, _ *mcp.CallToolRequest, input SearchInput) (*mcp.CallToolResult, PageOutput, error) {
	if s.policy.Content == ContentNone {
		// Repeated queries would reveal content one guess at a time.
		return nil, PageOutput{}, errors.New("search is disabled by the MCP policy")
	}
	if strings.TrimSpace(input.Query) == "" {
		return nil, PageOutput{}, errors.New("query is required")
	}
	page, err := s.history.SearchClipboard(ctx, input.Query, s.policy.Limit(input.Limit), input.After)
	if err != nil {
		return nil, PageOutput{}, s.toolError("clipboard_search", err)
	}
	return nil, s.pageOutput(page), nil
}

// handleGet handles the clipboard_get tool call.
func (s *Server) handleGet(ctx context.Context, _ *mcp.CallToolRequest, input GetInput) (*mcp.CallToolResult, ItemOutput, error) {
	if input.Ref == "" {
		return nil, ItemOutput{}, errors.New("ref is required")
	}
	r, err := s.history.Get(ctx, input.Ref)
	if err != nil {
		if errors.Is(err, vault.ErrNotFound) {
			return nil, ItemOutput{}, errors.New("clipboard item not found")
		}
		return nil, ItemOutput{}, s.toolError("clipboard_get", err)
	}
	return nil, ItemOutput{Item: s.itemInfo(r)}, nil
}

// toolError turns a service error into a message for the agent. Only
// errors the user can act on are described.
func (s *Server) toolError(tool string, err error) error {
	switch {
	case errors.Is(err, vault.ErrVaultLocked):
		return errors.New("clipboard vault is locked; ask the user to run 'clipvault unlock'")
	case errors.Is(err, vault.ErrVaultNotFound):
		return errors.New("no clipboard vault; ask the user to run 'clipvault setup'")
	case errors.Is(err, vault.ErrBusy):
		return errors.New("clipboard vault is busy; try again")
	}
	s.logger.Error("tool call failed", "tool", tool, "error", err)
	return fmt.Errorf("%s failed", tool)
}

func (s *Server) pageOutput(page query.Page) PageOutput {
	out := PageOutput{
		Items:      make([]ItemInfo, 0, len(page.Results)),
		HasMore:    page.HasMore,
		NextCursor: page.NextCursor,
	}
	for _, r := range page.Results {
		out.Items = append(out.Items, s.itemInfo(r))
	}
	return out
}

// itemInfo applies the policy to one result. Binary content is never sent.
func (s *Server) itemInfo(r query.Result) ItemInfo {
	info := ItemInfo{
		ContentHash: r.ContentHash,
		ContentType: r.ContentType,
		CopiedAt:    time.Unix(0, r.Timestamp).UTC().Format(time.RFC3339Nano),
		Size:        r.Size,
	}
	switch {
	case r.Encoding != query.EncodingText,
		!s.policy.IsContentTypeAllowed(r.ContentType),
		s.policy.Content == ContentNone:
		info.Withheld = true
	case s.policy.Content == ContentMasked:
		info.Content = maskText(r.Content)
		info.Masked = true
	default:
		info.Content = r.Content
		info.Excerpt = r.Excerpt
	}
	return info
}

// maxMaskRunes caps the asterisks so long items stay short; Size still
// reports the real length.
const maxMaskRunes = 32

// maskText returns a masked version of a text value, showing at most the
// last 4 characters.
func maskText(value string) string {
	runes := []rune(value)
	length := len(runes)
	if length == 0 {
		return ""
	}

	shown := 0
	switch {
	case length <= 4:
	case length <= 8:
		shown = 2
	default:
		shown = 4
	}
	return strings.Repeat("*", min(length-shown, maxMaskRunes)) + string(runes[length-shown:])
}
