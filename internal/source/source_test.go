package source

import (
	"context"
	"io"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileResolver(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/clips/a.mp4", []byte("video bytes"), 0o644))
	r := NewFileResolver(fs)

	rc, n, err := r.Resolve(context.Background(), "/clips/a.mp4")
	require.NoError(t, err)
	defer rc.Close()
	assert.Equal(t, int64(11), n)

	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "video bytes", string(data))

	_, _, err = r.Resolve(context.Background(), "/clips/missing.mp4")
	require.ErrorIs(t, err, ErrUnknownSource)

	_, _, err = r.Resolve(context.Background(), "/clips")
	require.ErrorIs(t, err, ErrUnknownSource)
}

func TestMemoryResolver(t *testing.T) {
	r := NewMemoryResolver()
	ref := r.Put([]byte("abc"))

	rc, n, err := r.Resolve(context.Background(), ref)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "abc", string(data))

	r.Release(ref)
	_, _, err = r.Resolve(context.Background(), ref)
	require.ErrorIs(t, err, ErrUnknownSource)
}

func TestChainFallsThrough(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/a.txt", []byte("on disk"), 0o644))
	mem := NewMemoryResolver()
	ref := mem.Put([]byte("in memory"))
	c := Chain{mem, NewFileResolver(fs)}

	for key, want := range map[string]string{ref: "in memory", "/a.txt": "on disk"} {
		rc, _, err := c.Resolve(context.Background(), key)
		require.NoError(t, err)
		data, err := io.ReadAll(rc)
		require.NoError(t, err)
		assert.Equal(t, want, string(data))
	}

	_, _, err := c.Resolve(context.Background(), "/nope")
	require.ErrorIs(t, err, ErrUnknownSource)
}
