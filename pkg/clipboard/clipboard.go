// Package clipboard reads and writes the OS clipboard.
package clipboard

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/atotto/clipboard"
	imgclip "golang.design/x/clipboard"
)

// Content types read from the system clipboard.
const (
	TextPlain = "text/plain"
	ImagePNG  = "image/png"
)

var (
	// ErrEmpty means the clipboard holds nothing.
	ErrEmpty = errors.New("clipboard: empty")
	// ErrUnsupported means the platform or content type cannot be handled.
	ErrUnsupported = errors.New("clipboard: unsupported")
)

// Content is one clipboard payload.
type Content struct {
	Data        []byte
	ContentType string
}

// Reader reads the current clipboard.
type Reader interface {
	Read(ctx context.Context) (Content, error)
}

// Writer replaces the clipboard.
type Writer interface {
	Write(ctx context.Context, c Content) error
}

// ReadWriter is both.
type ReadWriter interface {
	Reader
	Writer
}

// System is the OS clipboard. Images are read first, as PNG, and text
// second. Image support needs cgo and a display on Linux and macOS; without
// it System carries text only. Text on Linux needs xclip, xsel or
// wl-clipboard on PATH.
type System struct{}

// Backends, replaced in tests.
var (
	imageInit  = sync.OnceValue(imgclip.Init)
	readImage  = func() []byte { return imgclip.Read(imgclip.FmtImage) }
	writeImage = func(png []byte) { imgclip.Write(imgclip.FmtImage, png) }

	textUnsupported = clipboard.Unsupported
	readText        = clipboard.ReadAll
	writeText       = clipboard.WriteAll
)

// Read returns the clipboard image as PNG, or else its text.
func (System) Read(ctx context.Context) (Content, error) {
	if err := ctx.Err(); err != nil {
		return Content{}, err
	}
	if imageInit() == nil {
		if png := readImage(); len(png) > 0 {
			return Content{Data: png, ContentType: ImagePNG}, nil
		}
	}
	if textUnsupported {
		return Content{}, ErrUnsupported
	}
	text, err := readText()
	if err != nil {
		return Content{}, fmt.Errorf("clipboard: read failed: %w", err)
	}
	if text == "" {
		return Content{}, ErrEmpty
	}
	return Content{Data: []byte(text), ContentType: TextPlain}, nil
}

// Write puts text or a PNG image on the clipboard. Other content types are
// ErrUnsupported.
func (System) Write(ctx context.Context, c Content) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	switch {
	case c.ContentType == ImagePNG:
		if !bytes.HasPrefix(c.Data, pngSignature) {
			return fmt.Errorf("clipboard: %s content is not a PNG", ImagePNG)
		}
		if err := imageInit(); err != nil {
			return fmt.Errorf("%w: images: %v", ErrUnsupported, err)
		}
		writeImage(c.Data)
		return nil
	case c.ContentType != "" && !isText(c.ContentType):
		return fmt.Errorf("%w: content type %q", ErrUnsupported, c.ContentType)
	case textUnsupported:
		return ErrUnsupported
	}
	if err := writeText(string(c.Data)); err != nil {
		return fmt.Errorf("clipboard: write failed: %w", err)
	}
	return nil
}

var pngSignature = []byte("\x89PNG\r\n\x1a\n")

func isText(contentType string) bool {
	return strings.HasPrefix(contentType, "text/")
}

// Memory is an in-process clipboard for tests and headless runs.
type Memory struct {
	mu      sync.Mutex
	content Content
	err     error
	reads   int
}

// NewMemory returns an empty memory clipboard.
func NewMemory() *Memory {
	return &Memory{}
}

// Set replaces the content, clearing any injected error.
func (m *Memory) Set(data []byte, contentType string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.content = Content{Data: append([]byte(nil), data...), ContentType: contentType}
	m.err = nil
}

// Fail makes subsequent reads return err until the next Set or Fail(nil).
func (m *Memory) Fail(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Reads returns how many times Read was called.
func (m *Memory) Reads() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reads
}

func (m *Memory) Read(ctx context.Context) (Content, error) {
	if err := ctx.Err(); err != nil {
		return Content{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reads++
	if m.err != nil {
		return Content{}, m.err
	}
	if len(m.content.Data) == 0 {
		return Content{}, ErrEmpty
	}
	return Content{Data: append([]byte(nil), m.content.Data...), ContentType: m.content.ContentType}, nil
}

func (m *Memory) Write(ctx context.Context, c Content) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.Set(c.Data, c.ContentType)
	return nil
}
