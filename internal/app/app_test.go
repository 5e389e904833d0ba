package app

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mediaup/internal/config"
	"mediaup/internal/encoder"
	"mediaup/internal/receiver"
	"mediaup/internal/reporter"
	"mediaup/internal/store"
	"mediaup/internal/transport"
	"mediaup/pkg/types"
)

const code = "TEST2345"

func acceptCode(_ context.Context, token string) error {
	if token != code {
		return receiver.ErrUnauthorized
	}
	return nil
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 64, 32))))
	return buf.Bytes()
}

type rig struct {
	cfg      *config.Config
	local    afero.Fs
	store    *store.Store
	server   *ServerApp
	uploader *UploaderApp
	reports  *reporter.Recorder
}

func newRig(t *testing.T) *rig {
	t.Helper()
	cfg := config.NewDefaultConfig()
	cfg.Transfer.ChunkSize = 1024
	cfg.Transfer.AckTimeout = 2 * time.Second

	st := store.New(afero.NewMemMapFs())
	r := &rig{
		cfg:     cfg,
		local:   afero.NewMemMapFs(),
		store:   st,
		reports: &reporter.Recorder{},
	}
	r.server = NewServerApp(cfg, nil, nil, st, encoder.NewPipeline(st, encoder.NewThumbnailer(16, 16)))
	r.uploader = NewUploaderApp(cfg, nil, nil, r.local, r.reports, nil)
	return r
}

func (r *rig) run(t *testing.T, req UploadRequest) error {
	t.Helper()
	q, err := r.uploader.Enqueue(req)
	require.NoError(t, err)

	client, serverEnd := transport.Pipe(code)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	served := make(chan error, 1)
	go func() { served <- r.server.Serve(ctx, serverEnd, receiver.TokenFunc(acceptCode)) }()

	err = r.uploader.Upload(ctx, client, q)
	client.Close()
	require.NoError(t, <-served)
	return err
}

func TestUploadFilesEndToEnd(t *testing.T) {
	r := newRig(t)
	img := pngBytes(t)
	notes := bytes.Repeat([]byte("line\n"), 1000)
	require.NoError(t, afero.WriteFile(r.local, "/in/cover.png", img, 0o644))
	require.NoError(t, afero.WriteFile(r.local, "/in/notes.txt", notes, 0o644))

	err := r.run(t, UploadRequest{
		Target: types.Target{ContainerID: "prod", GroupID: "media", ItemID: "src"},
		Files:  []string{"/in/cover.png", "/in/notes.txt"},
	})
	require.NoError(t, err)
	assert.Empty(t, r.reports.Reports())

	got, err := r.store.Download("prod/media/src/cover.png")
	require.NoError(t, err)
	assert.Equal(t, img, got)

	got, err = r.store.Download("prod/media/src/notes.txt")
	require.NoError(t, err)
	assert.Equal(t, notes, got)

	assert.True(t, r.store.Exists("prod/media/src/cover_thumb.jpg"))
	assert.False(t, r.store.Exists("prod/media/src/notes_thumb.jpg"))
}

func TestUploadReportsRejected(t *testing.T) {
	r := newRig(t)
	r.cfg.Store.MaxUploadSize = 10
	require.NoError(t, afero.WriteFile(r.local, "/in/big.bin", make([]byte, 11), 0o644))

	err := r.run(t, UploadRequest{
		Target: types.Target{ContainerID: "prod", GroupID: "media", ItemID: "src"},
		Files:  []string{"/in/big.bin"},
	})
	require.ErrorIs(t, err, ErrIncomplete)

	reports := r.reports.Reports()
	require.Len(t, reports, 1)
	assert.Equal(t, reporter.KindRejected, reports[0].Kind)
}

func TestUploadFinishesWhenRejectedEntryStaysActive(t *testing.T) {
	r := newRig(t)
	r.cfg.Store.MaxUploadSize = 10
	r.cfg.Transfer.DisableOnReject = false
	require.NoError(t, afero.WriteFile(r.local, "/in/big.bin", make([]byte, 11), 0o644))
	require.NoError(t, afero.WriteFile(r.local, "/in/small.bin", []byte("tiny"), 0o644))

	done := make(chan error, 1)
	go func() {
		done <- r.run(t, UploadRequest{
			Target: types.Target{ContainerID: "prod", GroupID: "media", ItemID: "src"},
			Files:  []string{"/in/big.bin", "/in/small.bin"},
		})
	}()

	var err error
	select {
	case err = <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("upload kept waiting after the only remaining entry was rejected")
	}
	require.ErrorIs(t, err, ErrIncomplete)

	reports := r.reports.Reports()
	require.Len(t, reports, 1)
	assert.Equal(t, reporter.KindRejected, reports[0].Kind)
	assert.True(t, r.store.Exists("prod/media/src/small.bin"))
	assert.False(t, r.store.Exists("prod/media/src/big.bin"))
}

type slowEncoder struct{ release chan struct{} }

func (slowEncoder) Name() string        { return "slow" }
func (slowEncoder) Ext() string         { return ".bin" }
func (slowEncoder) Accepts(string) bool { return true }

func (e slowEncoder) Encode(b []byte) ([]byte, error) {
	<-e.release
	return b, nil
}

func TestRenditionsDoNotDelayNextTransfer(t *testing.T) {
	r := newRig(t)
	r.cfg.Transfer.AckTimeout = 500 * time.Millisecond
	release := make(chan struct{})
	r.server = NewServerApp(r.cfg, nil, nil, r.store, encoder.NewPipeline(r.store, slowEncoder{release: release}))

	require.NoError(t, afero.WriteFile(r.local, "/in/a.dat", []byte("first"), 0o644))
	require.NoError(t, afero.WriteFile(r.local, "/in/b.dat", []byte("second"), 0o644))
	q, err := r.uploader.Enqueue(UploadRequest{
		Target: types.Target{ContainerID: "prod", GroupID: "media", ItemID: "src"},
		Files:  []string{"/in/a.dat", "/in/b.dat"},
	})
	require.NoError(t, err)

	client, serverEnd := transport.Pipe(code)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	served := make(chan error, 1)
	go func() { served <- r.server.Serve(ctx, serverEnd, receiver.TokenFunc(acceptCode)) }()

	require.NoError(t, r.uploader.Upload(ctx, client, q))
	assert.Empty(t, r.reports.Reports())

	close(release)
	client.Close()
	require.NoError(t, <-served)
	assert.True(t, r.store.Exists("prod/media/src/a_slow.bin"))
	assert.True(t, r.store.Exists("prod/media/src/b_slow.bin"))
}

func TestUploadFromStdin(t *testing.T) {
	r := newRig(t)
	target := types.Target{ContainerID: "prod", GroupID: "media", ItemID: "src"}

	err := r.run(t, UploadRequest{
		Target:    target,
		Files:     []string{StdinFile},
		Stdin:     strings.NewReader("piped clip"),
		StdinName: "clip.raw",
	})
	require.NoError(t, err)

	err = r.run(t, UploadRequest{Target: target, Files: []string{StdinFile}, Stdin: strings.NewReader("unnamed")})
	require.NoError(t, err)

	got, err := r.store.Download("prod/media/src/clip.raw")
	require.NoError(t, err)
	assert.Equal(t, []byte("piped clip"), got)

	got, err = r.store.Download("prod/media/src/" + receiver.DefaultFilename)
	require.NoError(t, err)
	assert.Equal(t, []byte("unnamed"), got)

	_, err = r.uploader.Enqueue(UploadRequest{Target: target, Files: []string{StdinFile}})
	require.Error(t, err)
}

func TestEnqueueValidatesFiles(t *testing.T) {
	r := newRig(t)
	require.NoError(t, r.local.MkdirAll("/in", 0o755))

	_, err := r.uploader.Enqueue(UploadRequest{Files: []string{"/in/missing.mp4"}})
	require.Error(t, err)

	_, err = r.uploader.Enqueue(UploadRequest{Files: []string{"/in"}})
	require.Error(t, err)

	_, err = r.uploader.Enqueue(UploadRequest{})
	require.Error(t, err)
}
