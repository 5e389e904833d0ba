package reporter

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mediaup/internal/queue"
	"mediaup/pkg/types"
)

func TestRecorder(t *testing.T) {
	r := &Recorder{}
	var sink ErrorReporter = r
	sink.Report(KindRejected, "REJECTED: too large", "upload rejected")
	sink.Report(KindFatal, "read failed", "upload failed")

	reports := r.Reports()
	require.Len(t, reports, 2)
	assert.Equal(t, KindRejected, reports[0].Kind)
	assert.Equal(t, "fatal", reports[1].Kind.String())
}

func TestProgressDisplayLifecycle(t *testing.T) {
	var out bytes.Buffer
	d := NewProgressDisplay(&out)
	q := queue.NewStore()

	id, err := q.Upsert(queue.Entry{Target: &types.Target{ItemID: "i"}, Filename: "clip.mp4", Active: true})
	require.NoError(t, err)
	d.Update(q.Snapshot())
	assert.Nil(t, d.bar, "no bar before the size is known")

	q.UpdateProgress(id, 0, 2048)
	d.Update(q.Snapshot())
	require.NotNil(t, d.bar)

	q.UpdateProgress(id, 2048, 2048)
	d.Update(q.Snapshot())

	q.Remove(id)
	d.Update(q.Snapshot())
	assert.Nil(t, d.bar)
	assert.Contains(t, out.String(), "Uploaded clip.mp4: 2.0 kB")
}

func TestProgressDisplayStopped(t *testing.T) {
	var out bytes.Buffer
	d := NewProgressDisplay(&out)
	q := queue.NewStore()

	id, err := q.Upsert(queue.Entry{Target: &types.Target{ItemID: "i"}, Filename: "a.png", Active: true})
	require.NoError(t, err)
	q.UpdateProgress(id, 10, 100)
	d.Update(q.Snapshot())

	q.SetActive(id, false)
	d.Update(q.Snapshot())
	assert.Contains(t, out.String(), "Stopped a.png")
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestProgressDisplayFollowsQueue(t *testing.T) {
	out := &syncBuffer{}
	q := queue.NewStore()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stopped := make(chan struct{})
	go func() {
		NewProgressDisplay(out).Run(ctx, q)
		close(stopped)
	}()

	id, err := q.Upsert(queue.Entry{Target: &types.Target{ItemID: "i"}, Filename: "a.bin", Active: true})
	require.NoError(t, err)
	q.UpdateProgress(id, 0, 100)
	require.Eventually(t, func() bool { return strings.Contains(out.String(), "Uploading a.bin") },
		2*time.Second, 5*time.Millisecond)

	q.UpdateProgress(id, 100, 100)
	q.Remove(id)
	require.Eventually(t, func() bool { return strings.Contains(out.String(), "+ Uploaded a.bin") },
		2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("display did not stop")
	}
}
