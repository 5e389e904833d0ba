// Package driver drains the upload queue over a channel, one transfer at a time.
package driver

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"sync"
	"sync/atomic"
	"time"

	logging "github.com/ipfs/go-log/v2"
	"github.com/minio/sha256-simd"

	"mediaup/internal/queue"
	"mediaup/internal/reporter"
	"mediaup/internal/source"
	"mediaup/internal/transport"
	"mediaup/pkg/types"
)

var log = logging.Logger("driver")

var (
	ErrAuth       = errors.New("authentication failed")
	ErrRejected   = errors.New("rejected by remote")
	ErrFatal      = errors.New("fatal transfer failure")
	ErrTerminated = errors.New("driver terminated")
	ErrAckTimeout = errors.New("timed out waiting for acknowledgement")
)

// Options tune the transfer protocol
type Options struct {
	ChunkSize int
	// AckTimeout bounds every wait for a reply. Zero waits forever.
	AckTimeout time.Duration
	// DisableOnReject deactivates entries the remote rejects
	DisableOnReject bool
}

// Driver owns one channel and moves queued entries across it
type Driver struct {
	queue    *queue.Store
	channel  transport.Channel
	auth     Authenticator
	resolver source.Resolver
	reporter reporter.ErrorReporter
	opts     Options

	state   atomic.Int32
	working atomic.Bool

	idle       chan struct{}
	terminated chan struct{}
	termOnce   sync.Once
}

func New(q *queue.Store, channel transport.Channel, auth Authenticator, resolver source.Resolver,
	rep reporter.ErrorReporter, opts Options) *Driver {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = 256 * 1024
	}
	return &Driver{
		queue:      q,
		channel:    channel,
		auth:       auth,
		resolver:   resolver,
		reporter:   rep,
		opts:       opts,
		idle:       make(chan struct{}, 1),
		terminated: make(chan struct{}),
	}
}

// State returns the current phase
func (d *Driver) State() State {
	return State(d.state.Load())
}

// Idle receives a value whenever a drain ends with no active entry left that
// it has not already tried. Values coalesce.
func (d *Driver) Idle() <-chan struct{} {
	return d.idle
}

// Terminated is closed once the driver stops for good
func (d *Driver) Terminated() <-chan struct{} {
	return d.terminated
}

func (d *Driver) setState(s State) {
	if d.State() == Terminated {
		return
	}
	log.Debugw("state change", "state", s.String())
	d.state.Store(int32(s))
}

func (d *Driver) isTerminated() bool {
	select {
	case <-d.terminated:
		return true
	default:
		return false
	}
}

func (d *Driver) terminate() {
	d.termOnce.Do(func() {
		d.state.Store(int32(Terminated))
		close(d.terminated)
	})
}

// Run drains the queue every time it changes until ctx is cancelled or the
// channel is lost. It returns ErrTerminated when the channel can no longer
// be used.
func (d *Driver) Run(ctx context.Context) error {
	events, cancel := d.queue.Subscribe()
	defer cancel()

	d.drain(ctx, events)
	for {
		if d.isTerminated() {
			return ErrTerminated
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-d.terminated:
			return ErrTerminated
		case <-d.channel.Done():
			log.Infof("Channel closed while idle: %v", d.channel.Err())
			d.terminate()
			return ErrTerminated
		case msg := <-d.channel.Incoming():
			d.handleIdleMessage(msg)
		case <-events:
			d.drain(ctx, events)
		}
	}
}

func (d *Driver) handleIdleMessage(msg transport.Message) {
	switch msg.Type {
	case transport.MSG_FATAL:
		d.reporter.Report(reporter.KindFatal, fmt.Sprintf("FATAL while idle: %s", msg.Error), "The server closed the upload session")
		d.channel.Close()
		d.terminate()
	case transport.MSG_REJECTED:
		d.reporter.Report(reporter.KindRejected, fmt.Sprintf("REJECTED while idle: %s", msg.Error), "The server refused a request")
	default:
		log.Warnf("Ignoring unexpected %s message while idle", msg.Type)
	}
}

// drain transfers active entries in queue order until none are left. An entry
// that fails is not attempted again within the same drain.
func (d *Driver) drain(ctx context.Context, events <-chan struct{}) {
	if !d.working.CompareAndSwap(false, true) {
		return
	}
	defer func() {
		d.working.Store(false)
		select {
		case d.idle <- struct{}{}:
		default:
		}
	}()

	failed := map[string]bool{}
	for {
		// our own progress updates must not schedule another drain
		select {
		case <-events:
		default:
		}

		if d.isTerminated() || ctx.Err() != nil {
			return
		}

		entry, ok := d.next(failed)
		if !ok {
			return
		}

		if err := d.transfer(ctx, entry); err != nil {
			failed[entry.ID] = true
		}
		d.setState(Idle)
	}
}

func (d *Driver) next(skip map[string]bool) (queue.Entry, bool) {
	for _, e := range d.queue.Snapshot().ActiveOrdered() {
		if !skip[e.ID] {
			return e, true
		}
	}
	return queue.Entry{}, false
}

// session is the private state of the transfer in flight
type session struct {
	entry queue.Entry
	hash  hash.Hash
	sent  int64
	max   int64
}

func (d *Driver) transfer(ctx context.Context, entry queue.Entry) error {
	s := &session{entry: entry, hash: sha256.New()}
	log.Infow("starting transfer", "id", entry.ID, "filename", entry.Filename)

	d.setState(Authenticating)
	if err := d.auth.Authenticate(ctx, d.channel.SessionID()); err != nil {
		return d.fail(ctx, s, err)
	}

	d.setState(Announcing)
	src, err := d.announce(ctx, s)
	if err != nil {
		return d.fail(ctx, s, err)
	}
	defer src.Close()

	if s.max > 0 {
		d.setState(Streaming)
		if err := d.stream(ctx, s, src); err != nil {
			return d.fail(ctx, s, err)
		}
	}

	d.setState(Finalizing)
	path, err := d.finalize(ctx, s)
	if err != nil {
		return d.fail(ctx, s, err)
	}

	d.queue.Remove(entry.ID)
	log.Infow("transfer complete", "id", entry.ID, "bytes", s.sent, "path", path)
	return nil
}

func (d *Driver) announce(ctx context.Context, s *session) (io.ReadCloser, error) {
	if s.entry.SourceRef == "" {
		return nil, fmt.Errorf("%w: entry %s has no source", ErrFatal, s.entry.ID)
	}
	src, size, err := d.resolver.Resolve(ctx, s.entry.SourceRef)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to resolve source: %w", ErrFatal, err)
	}

	s.max = size
	d.queue.UpdateProgress(s.entry.ID, 0, size)

	msg, err := transport.EncodePayload(transport.MSG_ANNOUNCE, types.Announcement{
		Target:   *s.entry.Target,
		Filename: s.entry.Filename,
		Size:     size,
	})
	if err == nil {
		err = d.channel.Send(ctx, msg)
	}
	if err == nil {
		_, err = await(ctx, d.channel, transport.MSG_ANNOUNCE_ACK, d.opts.AckTimeout)
	}
	if err != nil {
		src.Close()
		return nil, err
	}
	return src, nil
}

func (d *Driver) stream(ctx context.Context, s *session, src io.Reader) error {
	buf := make([]byte, d.opts.ChunkSize)
	r := io.LimitReader(src, s.max)

	for s.sent < s.max {
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			s.hash.Write(buf[:n])
			if err := d.channel.Send(ctx, transport.Message{Type: transport.MSG_CHUNK, Payload: buf[:n]}); err != nil {
				return err
			}
			s.sent += int64(n)
			d.queue.UpdateProgress(s.entry.ID, s.sent, s.max)
		}

		switch {
		case errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF):
			if s.sent < s.max {
				return fmt.Errorf("%w: source ended after %d of %d bytes", ErrFatal, s.sent, s.max)
			}
		case err != nil:
			return fmt.Errorf("%w: failed to read source: %w", ErrFatal, err)
		}

		if err := d.checkRemote(); err != nil {
			return err
		}
	}
	return nil
}

// checkRemote picks up a refusal the remote sent mid-stream without waiting
func (d *Driver) checkRemote() error {
	select {
	case msg := <-d.channel.Incoming():
		return replyError(msg, transport.MSG_CHUNK)
	default:
	}

	select {
	case <-d.channel.Done():
		return transport.ErrClosed
	default:
		return nil
	}
}

// closedError prefers the reason the remote gave before hanging up
func (d *Driver) closedError(err error) error {
	select {
	case msg := <-d.channel.Incoming():
		if msg.Type == transport.MSG_REJECTED || msg.Type == transport.MSG_FATAL {
			return replyError(msg, transport.MSG_CHUNK)
		}
	default:
	}
	return err
}

func (d *Driver) finalize(ctx context.Context, s *session) (string, error) {
	msg, err := transport.EncodePayload(transport.MSG_COMPLETE, types.Completion{
		Digest: hex.EncodeToString(s.hash.Sum(nil)),
	})
	if err != nil {
		return "", err
	}
	if err := d.channel.Send(ctx, msg); err != nil {
		return "", err
	}

	reply, err := await(ctx, d.channel, transport.MSG_COMPLETE_ACK, d.opts.AckTimeout)
	if err != nil {
		return "", err
	}
	ack, err := transport.DecodePayload[types.CompletionAck](reply)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrFatal, err)
	}
	return ack.Path, nil
}

// fail settles the queue entry after a failed attempt and returns err
func (d *Driver) fail(ctx context.Context, s *session, err error) error {
	if errors.Is(err, transport.ErrClosed) {
		err = d.closedError(err)
	}

	id := s.entry.ID
	name := s.entry.Filename
	if name == "" {
		name = id
	}

	switch {
	case ctx.Err() != nil:
		d.queue.UpdateProgress(id, 0, s.max)
		log.Infof("Transfer of %s cancelled", name)

	case errors.Is(err, ErrAuth):
		d.queue.SetActive(id, false)
		d.reporter.Report(reporter.KindAuth, err.Error(), fmt.Sprintf("Could not authenticate to upload %s", name))

	case errors.Is(err, ErrRejected):
		d.queue.UpdateProgress(id, 0, s.max)
		if d.opts.DisableOnReject {
			d.queue.SetActive(id, false)
		}
		d.reporter.Report(reporter.KindRejected, err.Error(), fmt.Sprintf("The server rejected %s", name))

	case errors.Is(err, transport.ErrClosed):
		d.queue.UpdateProgress(id, 0, s.max)
		d.reporter.Report(reporter.KindDisconnected, err.Error(), fmt.Sprintf("Connection lost while uploading %s", name))
		d.terminate()

	default:
		d.queue.SetActive(id, false)
		d.reporter.Report(reporter.KindFatal, err.Error(), fmt.Sprintf("Upload of %s failed", name))
		d.channel.Close()
		d.terminate()
	}

	log.Warnw("transfer failed", "id", id, "error", err)
	return err
}

// await waits for a reply of type want. REJECTED and FATAL replies become
// ErrRejected and ErrFatal, anything else is a protocol violation.
func await(ctx context.Context, channel transport.Channel, want transport.MessageType, timeout time.Duration) (transport.Message, error) {
	waitCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	msg, err := transport.Receive(waitCtx, channel)
	if err != nil {
		if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
			return msg, fmt.Errorf("%w: %s after %s", ErrAckTimeout, want, timeout)
		}
		return msg, err
	}
	if msg.Type == want {
		return msg, nil
	}
	return msg, replyError(msg, want)
}

func replyError(msg transport.Message, during transport.MessageType) error {
	switch msg.Type {
	case transport.MSG_REJECTED:
		return fmt.Errorf("%w: %s", ErrRejected, msg.Error)
	case transport.MSG_FATAL:
		return fmt.Errorf("%w: %s", ErrFatal, msg.Error)
	default:
		return fmt.Errorf("%w: unexpected %s during %s", ErrFatal, msg.Type, during)
	}
}

func isRejection(err error) bool {
	return errors.Is(err, ErrRejected)
}
