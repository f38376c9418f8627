package clipboard

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryRoundTrip(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	_, err := m.Read(ctx)
	require.ErrorIs(t, err, ErrEmpty)

	require.NoError(t, m.Write(ctx, Content{Data: []byte("hello"), ContentType: TextPlain}))
	c, err := m.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(c.Data))
	assert.Equal(t, TextPlain, c.ContentType)
	assert.Equal(t, 2, m.Reads())

	// reads return copies
	c.Data[0] = 'j'
	again, err := m.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(again.Data))
}

func TestMemoryFail(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	m.Set([]byte("x"), TextPlain)

	boom := errors.New("boom")
	m.Fail(boom)
	_, err := m.Read(ctx)
	assert.ErrorIs(t, err, boom)

	m.Fail(nil)
	_, err = m.Read(ctx)
	assert.NoError(t, err)
}

func TestMemoryCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	m := NewMemory()
	_, err := m.Read(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, m.Write(ctx, Content{Data: []byte("x")}), context.Canceled)
}

// fakeSystem swaps the OS backends for in-memory ones until the test ends.
type fakeSystem struct {
	imageErr error
	image    []byte
	text     string
	textErr  error
	noText   bool
}

func useFakeSystem(t *testing.T, f *fakeSystem) {
	t.Helper()
	oldInit, oldReadImage, oldWriteImage := imageInit, readImage, writeImage
	oldUnsupported, oldReadText, oldWriteText := textUnsupported, readText, writeText
	t.Cleanup(func() {
		imageInit, readImage, writeImage = oldInit, oldReadImage, oldWriteImage
		textUnsupported, readText, writeText = oldUnsupported, oldReadText, oldWriteText
	})

	imageInit = func() error { return f.imageErr }
	readImage = func() []byte { return f.image }
	writeImage = func(png []byte) { f.image = append([]byte(nil), png...) }
	textUnsupported = f.noText
	readText = func() (string, error) { return f.text, f.textErr }
	writeText = func(s string) error { f.text = s; return nil }
}

var png = append([]byte("\x89PNG\r\n\x1a\n"), "pixels"...)

func TestSystemReadsImageFirst(t *testing.T) {
	f := &fakeSystem{image: png, text: "caption"}
	useFakeSystem(t, f)

	c, err := System{}.Read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ImagePNG, c.ContentType)
	assert.Equal(t, png, c.Data)

	f.image = nil
	c, err = System{}.Read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, TextPlain, c.ContentType)
	assert.Equal(t, "caption", string(c.Data))
}

func TestSystemTextOnlyWithoutImageSupport(t *testing.T) {
	f := &fakeSystem{imageErr: errors.New("no display"), image: png, text: "hello"}
	useFakeSystem(t, f)

	c, err := System{}.Read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, TextPlain, c.ContentType)

	err = System{}.Write(context.Background(), Content{Data: png, ContentType: ImagePNG})
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestSystemReadEmptyAndUnsupported(t *testing.T) {
	f := &fakeSystem{}
	useFakeSystem(t, f)
	_, err := System{}.Read(context.Background())
	assert.ErrorIs(t, err, ErrEmpty)

	f.noText = true
	useFakeSystem(t, f)
	_, err = System{}.Read(context.Background())
	assert.ErrorIs(t, err, ErrUnsupported)

	f.noText = false
	f.textErr = errors.New("xclip exited")
	useFakeSystem(t, f)
	_, err = System{}.Read(context.Background())
	assert.Error(t, err)
}

func TestSystemWrite(t *testing.T) {
	f := &fakeSystem{}
	useFakeSystem(t, f)
	ctx := context.Background()

	require.NoError(t, System{}.Write(ctx, Content{Data: png, ContentType: ImagePNG}))
	assert.Equal(t, png, f.image)

	require.NoError(t, System{}.Write(ctx, Content{Data: []byte("hi"), ContentType: "text/plain; charset=utf-8"}))
	assert.Equal(t, "hi", f.text)

	require.NoError(t, System{}.Write(ctx, Content{Data: []byte("untyped")}))
	assert.Equal(t, "untyped", f.text)

	err := System{}.Write(ctx, Content{Data: []byte("GIF89a"), ContentType: ImagePNG})
	assert.Error(t, err, "non-PNG data is refused")
	assert.Equal(t, png, f.image)

	err = System{}.Write(ctx, Content{Data: []byte{0x00}, ContentType: "application/octet-stream"})
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestIsText(t *testing.T) {
	assert.True(t, isText("text/plain"))
	assert.True(t, isText("text/html"))
	assert.False(t, isText("image/png"))
	assert.False(t, isText("tex"))
}
