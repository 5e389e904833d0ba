package encoder

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mediaup/internal/store"
)

func pngOf(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestResizedDimensions(t *testing.T) {
	w, h := resizedDimensions(1200, 800, 300, 533)
	assert.Equal(t, 300, w)
	assert.Equal(t, 200, h)

	w, h = resizedDimensions(100, 50, 300, 533)
	assert.Equal(t, 100, w, "never upscales")
	assert.Equal(t, 50, h)
}

func TestThumbnailer(t *testing.T) {
	th := NewThumbnailer(40, 40)
	assert.True(t, th.Accepts("a/b/photo.PNG"))
	assert.False(t, th.Accepts("a/b/clip.mp4"))

	out, err := th.Encode(pngOf(t, 200, 100))
	require.NoError(t, err)

	img, err := jpeg.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, 40, img.Bounds().Dx())
	assert.Equal(t, 20, img.Bounds().Dy())

	_, err = th.Encode([]byte("not an image"))
	require.Error(t, err)
}

type failing struct{}

func (failing) Name() string { return "broken" }
func (failing) Ext() string { return ".bin" }
func (failing) Accepts(string) bool { return true }
func (failing) Encode([]byte) ([]byte, error) { return nil, errors.New("boom") }

func TestPipelineStoresRenditions(t *testing.T) {
	s := store.New(afero.NewMemMapFs())
	require.NoError(t, s.Upload("p/m/s/photo.png", pngOf(t, 64, 64)))
	require.NoError(t, s.Upload("p/m/s/photo_thumb.jpg", []byte("taken")))

	p := NewPipeline(s, failing{}, NewThumbnailer(16, 16))
	out := p.Process(context.Background(), "p/m/s/photo.png")
	require.Equal(t, []string{"p/m/s/photo_thumb_1.jpg"}, out)

	thumb, err := s.Download(out[0])
	require.NoError(t, err)
	img, err := jpeg.Decode(bytes.NewReader(thumb))
	require.NoError(t, err)
	assert.Equal(t, 16, img.Bounds().Dx())

	taken, err := s.Download("p/m/s/photo_thumb.jpg")
	require.NoError(t, err)
	assert.Equal(t, []byte("taken"), taken)
}

func TestPipelineSkipsUnaccepted(t *testing.T) {
	s := store.New(afero.NewMemMapFs())
	require.NoError(t, s.Upload("p/m/s/clip.mp4", []byte("video")))

	out := NewPipeline(s, NewThumbnailer(16, 16)).Process(context.Background(), "p/m/s/clip.mp4")
	assert.Empty(t, out)
	assert.False(t, s.Exists("p/m/s/clip_thumb.jpg"))
}

type gated struct{ release chan struct{} }

func (gated) Name() string        { return "gated" }
func (gated) Ext() string         { return ".bin" }
func (gated) Accepts(string) bool { return true }

func (g gated) Encode(b []byte) ([]byte, error) {
	<-g.release
	return b, nil
}

func TestWorkerDoesNotBlockSubmitter(t *testing.T) {
	s := store.New(afero.NewMemMapFs())
	require.NoError(t, s.Upload("a/one.dat", []byte("1")))
	require.NoError(t, s.Upload("a/two.dat", []byte("2")))

	g := gated{release: make(chan struct{})}
	w := NewPipeline(s, g).Start(context.Background(), 4)

	submitted := make(chan struct{})
	go func() {
		w.Submit(context.Background(), "a/one.dat")
		w.Submit(context.Background(), "a/two.dat")
		close(submitted)
	}()

	select {
	case <-submitted:
	case <-time.After(2 * time.Second):
		t.Fatal("Submit waited for encoding")
	}
	assert.False(t, s.Exists("a/one_gated.bin"))

	close(g.release)
	w.Close()
	assert.True(t, s.Exists("a/one_gated.bin"))
	assert.True(t, s.Exists("a/two_gated.bin"))
}
