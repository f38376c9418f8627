package mcp

import (
	"errors"
	"fmt"
	"io"
	"path"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// PolicyFileName is read from the vault directory.
const PolicyFileName = "mcp-policy.yaml"

// Content modes decide how much of an item's content an agent sees.
const (
	// ContentNone returns metadata only.
	ContentNone = "none"
	// ContentMasked returns text with all but its last few characters
	// replaced by asterisks.
	ContentMasked = "masked"
	// ContentFull returns text verbatim.
	ContentFull = "full"
)

// DefaultMaxResults caps list and search pages when the policy sets no cap.
const DefaultMaxResults = 20

// Policy controls what the MCP server exposes.
type Policy struct {
	Version int    `yaml:"version"`
	Content string `yaml:"content"`

	// MaxResults caps every page regardless of the requested limit.
	MaxResults int `yaml:"max_results"`

	// DeniedContentTypes are path.Match patterns such as "image/*". Matching
	// items are listed without content in every mode.
	DeniedContentTypes []string `yaml:"denied_content_types"`
}

// ErrPolicyNotFound is returned when no policy file exists
var ErrPolicyNotFound = errors.New("MCP policy file not found")

// ErrPolicyInsecure is returned when policy file has insecure permissions
var ErrPolicyInsecure = errors.New("MCP policy file has insecure permissions")

// ErrPolicySymlink is returned when policy file is a symlink
var ErrPolicySymlink = errors.New("MCP policy file is a symlink")

// ErrPolicyNotOwnedByUser is returned when policy file is not owned by current user
var ErrPolicyNotOwnedByUser = errors.New("MCP policy file not owned by current user")

// DefaultPolicy masks text content and caps pages at DefaultMaxResults.
func DefaultPolicy() *Policy {
	return &Policy{Version: 1, Content: ContentMasked, MaxResults: DefaultMaxResults}
}

// LoadPolicy loads the policy from dir, the directory holding the vault.
// The file is checked on the opened descriptor so it cannot be swapped
// between the checks and the read.
func LoadPolicy(dir string) (*Policy, error) {
	policyPath := filepath.Join(dir, PolicyFileName)

	// 1. Open without following symlinks
	f, err := openPolicyFile(policyPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	// 2. fstat the descriptor
	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat policy file: %w", err)
	}

	// 3. Check permissions (must be 0600)
	if err := checkFilePermissions(info); err != nil {
		return nil, err
	}

	// 4. Check ownership (must be current user)
	if err := checkFileOwnership(info); err != nil {
		return nil, err
	}

	// 5. Read and parse
	content, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file: %w", err)
	}
	policy := DefaultPolicy()
	if err := yaml.Unmarshal(content, policy); err != nil {
		return nil, fmt.Errorf("failed to parse policy file: %w", err)
	}
	if err := policy.ValidatePolicy(); err != nil {
		return nil, err
	}
	return policy, nil
}

// ValidatePolicy checks the policy for errors.
func (p *Policy) ValidatePolicy() error {
	if p.Version != 1 {
		return fmt.Errorf("unsupported policy version: %d", p.Version)
	}
	switch p.Content {
	case ContentNone, ContentMasked, ContentFull:
	default:
		return fmt.Errorf("invalid content mode: %q (want %s, %s or %s)", p.Content, ContentNone, ContentMasked, ContentFull)
	}
	if p.MaxResults < 0 {
		return fmt.Errorf("max_results must not be negative: %d", p.MaxResults)
	}
	for _, pattern := range p.DeniedContentTypes {
		if _, err := path.Match(pattern, ""); err != nil {
			return fmt.Errorf("invalid content type pattern %q: %w", pattern, err)
		}
	}
	return nil
}

// IsContentTypeAllowed reports whether content of this type may be shown.
func (p *Policy) IsContentTypeAllowed(contentType string) bool {
	// Parameters such as "; charset=utf-8" do not take part in matching.
	base, _, _ := strings.Cut(contentType, ";")
	base = strings.ToLower(strings.TrimSpace(base))
	for _, pattern := range p.DeniedContentTypes {
		if ok, _ := path.Match(strings.ToLower(pattern), base); ok {
			return false
		}
	}
	return true
}

// Limit clamps a requested page size to the policy cap. Zero asks for the
// cap itself.
func (p *Policy) Limit(requested int) int {
	maxResults := p.MaxResults
	if maxResults == 0 {
		maxResults = DefaultMaxResults
	}
	if requested <= 0 || requested > maxResults {
		return maxResults
	}
	return requested
}
