package reporter

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/schollz/progressbar/v3"

	"mediaup/internal/queue"
)

// ProgressDisplay renders a progress bar for the entry currently uploading
type ProgressDisplay struct {
	out     io.Writer
	bar     *progressbar.ProgressBar
	current queue.Entry
	started time.Time
}

func NewProgressDisplay(out io.Writer) *ProgressDisplay {
	return &ProgressDisplay{out: out}
}

// Run redraws after every queue change until ctx is done. Bursts of
// changes are drawn once, from the newest state.
func (p *ProgressDisplay) Run(ctx context.Context, q *queue.Store) {
	latest := make(chan queue.State, 1)
	cancel := q.Observe(func(st queue.State) {
		// observers run one at a time, so after dropping a stale state the
		// send cannot block
		select {
		case <-latest:
		default:
		}
		latest <- st
	})
	defer cancel()

	p.Update(q.Snapshot())
	for {
		select {
		case <-ctx.Done():
			p.finish(q.Snapshot())
			return
		case st := <-latest:
			p.Update(st)
		}
	}
}

// Update redraws from st. The uploading entry is the first active one whose
// size is known.
func (p *ProgressDisplay) Update(st queue.State) {
	var next *queue.Entry
	for _, e := range st.ActiveOrdered() {
		if e.Max > 0 || e.BytesSent > 0 {
			next = &e
			break
		}
	}

	if p.bar != nil && (next == nil || next.ID != p.current.ID) {
		p.finish(st)
	}
	if next == nil {
		return
	}
	if p.bar == nil {
		p.start(*next)
	}

	p.current = *next
	_ = p.bar.Set64(next.BytesSent)
}

func (p *ProgressDisplay) start(e queue.Entry) {
	p.current = e
	p.started = time.Now()
	p.bar = progressbar.NewOptions64(e.Max,
		progressbar.OptionSetDescription(fmt.Sprintf("Uploading %s", displayName(e))),
		progressbar.OptionSetWriter(p.out),
		progressbar.OptionShowBytes(true),
		progressbar.OptionSetWidth(50),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionShowCount(),
		progressbar.OptionSetRenderBlankState(true),
		progressbar.OptionSetPredictTime(false),
	)
}

// finish closes the bar of the current entry and prints how it ended
func (p *ProgressDisplay) finish(st queue.State) {
	if p.bar == nil {
		return
	}

	e, queued := st.Get(p.current.ID)
	switch {
	case !queued:
		_ = p.bar.Finish()
		fmt.Fprintf(p.out, "\n+ Uploaded %s: %s in %s\n",
			displayName(p.current), humanize.Bytes(uint64(p.current.Max)), time.Since(p.started).Round(time.Millisecond))
	case !e.Active:
		_ = p.bar.Exit()
		fmt.Fprintf(p.out, "\n- Stopped %s after %s\n", displayName(p.current), humanize.Bytes(uint64(e.BytesSent)))
	default:
		_ = p.bar.Exit()
		fmt.Fprintf(p.out, "\n~ Interrupted %s, it stays queued\n", displayName(p.current))
	}
	p.bar = nil
}

func displayName(e queue.Entry) string {
	if e.Filename != "" {
		return e.Filename
	}
	return e.ID
}
