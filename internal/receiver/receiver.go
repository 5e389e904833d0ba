// Package receiver is the remote end of the upload protocol. It assembles
// announced uploads and persists them through the content store.
package receiver

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"path"
	"strings"
	"unicode"

	logging "github.com/ipfs/go-log/v2"
	"github.com/minio/sha256-simd"

	"mediaup/internal/store"
	"mediaup/internal/transport"
	"mediaup/pkg/types"
)

var log = logging.Logger("receiver")

// DefaultFilename names uploads announced without a filename
const DefaultFilename = "source"

var (
	ErrUnauthorized      = errors.New("unauthorized")
	ErrProtocolViolation = errors.New("protocol violation")
)

// TokenVerifier decides whether a session token may upload
type TokenVerifier interface {
	Verify(ctx context.Context, token string) error
}

// TokenFunc adapts a function to TokenVerifier
type TokenFunc func(ctx context.Context, token string) error

func (f TokenFunc) Verify(ctx context.Context, token string) error {
	return f(ctx, token)
}

// State is the phase of one served channel
type State int

const (
	AwaitingAuth State = iota
	Ready
	Receiving
)

func (s State) String() string {
	switch s {
	case AwaitingAuth:
		return "AwaitingAuth"
	case Ready:
		return "Ready"
	case Receiving:
		return "Receiving"
	default:
		return "Unknown"
	}
}

// Options configure a Receiver
type Options struct {
	// MaxUploadSize is the largest announced size accepted. Zero means no limit.
	MaxUploadSize int64
	// OnStored runs after an upload is durably stored under path
	OnStored func(ctx context.Context, path string)
}

type Receiver struct {
	store    *store.Store
	verifier TokenVerifier
	opts     Options
}

func New(s *store.Store, verifier TokenVerifier, opts Options) *Receiver {
	return &Receiver{store: s, verifier: verifier, opts: opts}
}

// upload is the transfer currently being assembled
type upload struct {
	dest     string
	size     int64
	received int64
	hash     hash.Hash
	staged   *store.Staged
}

// conn is the state of one served channel
type conn struct {
	r       *Receiver
	channel transport.Channel
	state   State
	current *upload
}

// Serve handles ch until it closes or ctx is done. A closed channel is not an
// error. Protocol violations and storage failures are reported to the client
// as FATAL and close the channel.
func (r *Receiver) Serve(ctx context.Context, ch transport.Channel) error {
	c := &conn{r: r, channel: ch, state: AwaitingAuth}
	defer c.abort()

	for {
		msg, err := transport.Receive(ctx, ch)
		if err != nil {
			if errors.Is(err, transport.ErrClosed) {
				log.Infof("Channel %s closed", ch.SessionID())
				return nil
			}
			return err
		}

		if err := c.handle(ctx, msg); err != nil {
			if errors.Is(err, transport.ErrClosed) {
				return nil
			}
			return c.fatal(ctx, err)
		}
	}
}

func (c *conn) handle(ctx context.Context, msg transport.Message) error {
	switch msg.Type {
	case transport.MSG_AUTH:
		return c.handleAuth(ctx, msg)
	case transport.MSG_ANNOUNCE:
		return c.handleAnnounce(ctx, msg)
	case transport.MSG_CHUNK:
		return c.handleChunk(msg)
	case transport.MSG_COMPLETE:
		return c.handleComplete(ctx, msg)
	default:
		return fmt.Errorf("%w: unexpected %s", ErrProtocolViolation, msg.Type)
	}
}

func (c *conn) handleAuth(ctx context.Context, msg transport.Message) error {
	if c.state == Receiving {
		return fmt.Errorf("%w: AUTH during an upload", ErrProtocolViolation)
	}
	req, err := transport.DecodePayload[types.AuthRequest](msg)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrProtocolViolation, err)
	}

	if err := c.r.verifier.Verify(ctx, req.Token); err != nil {
		log.Warnf("Rejected token on channel %s: %v", c.channel.SessionID(), err)
		c.state = AwaitingAuth
		return c.reject(ctx, "authentication failed")
	}

	c.state = Ready
	return c.channel.Send(ctx, transport.Message{Type: transport.MSG_AUTH_ACK})
}

func (c *conn) handleAnnounce(ctx context.Context, msg transport.Message) error {
	switch c.state {
	case AwaitingAuth:
		return fmt.Errorf("%w: ANNOUNCE before AUTH", ErrUnauthorized)
	case Receiving:
		return fmt.Errorf("%w: ANNOUNCE during an upload", ErrProtocolViolation)
	}

	ann, err := transport.DecodePayload[types.Announcement](msg)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrProtocolViolation, err)
	}

	dest, err := destination(ann)
	if err != nil {
		return c.reject(ctx, err.Error())
	}
	if ann.Size < 0 {
		return c.reject(ctx, fmt.Sprintf("invalid size %d", ann.Size))
	}
	if max := c.r.opts.MaxUploadSize; max > 0 && ann.Size > max {
		return c.reject(ctx, fmt.Sprintf("upload of %d bytes exceeds the limit of %d", ann.Size, max))
	}

	staged, err := c.r.store.Stage()
	if err != nil {
		return err
	}

	c.current = &upload{dest: dest, size: ann.Size, hash: sha256.New(), staged: staged}
	c.state = Receiving
	log.Infow("upload announced", "dest", dest, "size", ann.Size)
	return c.channel.Send(ctx, transport.Message{Type: transport.MSG_ANNOUNCE_ACK})
}

func (c *conn) handleChunk(msg transport.Message) error {
	if c.state != Receiving {
		return fmt.Errorf("%w: CHUNK outside an upload", ErrProtocolViolation)
	}

	up := c.current
	if up.received+int64(len(msg.Payload)) > up.size {
		return fmt.Errorf("%w: chunk overruns the announced size of %d", ErrProtocolViolation, up.size)
	}
	if _, err := up.staged.Write(msg.Payload); err != nil {
		return err
	}
	up.hash.Write(msg.Payload)
	up.received += int64(len(msg.Payload))
	return nil
}

func (c *conn) handleComplete(ctx context.Context, msg transport.Message) error {
	if c.state != Receiving {
		return fmt.Errorf("%w: COMPLETE outside an upload", ErrProtocolViolation)
	}
	done, err := transport.DecodePayload[types.Completion](msg)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrProtocolViolation, err)
	}

	up := c.current
	c.current = nil
	c.state = Ready

	if up.received != up.size {
		up.staged.Abort()
		return c.reject(ctx, fmt.Sprintf("received %d of %d bytes", up.received, up.size))
	}
	if digest := hex.EncodeToString(up.hash.Sum(nil)); !strings.EqualFold(digest, done.Digest) {
		up.staged.Abort()
		return c.reject(ctx, "digest mismatch")
	}

	stored, err := up.staged.Commit(up.dest)
	if err != nil {
		if errors.Is(err, store.ErrInvalidPath) {
			return c.reject(ctx, err.Error())
		}
		return err
	}

	log.Infow("upload stored", "path", stored, "size", up.size)
	ack, err := transport.EncodePayload(transport.MSG_COMPLETE_ACK, types.CompletionAck{Path: stored})
	if err != nil {
		return err
	}
	if err := c.channel.Send(ctx, ack); err != nil {
		return err
	}

	if c.r.opts.OnStored != nil {
		c.r.opts.OnStored(ctx, stored)
	}
	return nil
}

func (c *conn) reject(ctx context.Context, reason string) error {
	log.Warnf("Rejecting request on channel %s: %s", c.channel.SessionID(), reason)
	return c.channel.Send(ctx, transport.Message{Type: transport.MSG_REJECTED, Error: reason})
}

// fatal tells the client why the channel is going away and closes it
func (c *conn) fatal(ctx context.Context, err error) error {
	log.Errorf("Closing channel %s: %v", c.channel.SessionID(), err)
	_ = c.channel.Send(ctx, transport.Message{Type: transport.MSG_FATAL, Error: err.Error()})
	c.channel.Close()
	return err
}

func (c *conn) abort() {
	if c.current != nil {
		c.current.staged.Abort()
		c.current = nil
	}
}

// destination maps an announcement to <container>/<group>/<item>/<filename>
func destination(ann types.Announcement) (string, error) {
	for _, seg := range []string{ann.Target.ContainerID, ann.Target.GroupID, ann.Target.ItemID} {
		if !safeSegment(seg) {
			return "", fmt.Errorf("invalid target segment %q", seg)
		}
	}

	name := ann.Filename
	if name == "" {
		name = DefaultFilename
	}
	if !safeSegment(name) {
		return "", fmt.Errorf("invalid filename %q", ann.Filename)
	}
	return path.Join(ann.Target.ContainerID, ann.Target.GroupID, ann.Target.ItemID, name), nil
}

func safeSegment(s string) bool {
	if s == "" || s == "." || s == ".." || strings.TrimSpace(s) != s {
		return false
	}
	for _, r := range s {
		if r == '/' || r == '\\' || unicode.IsControl(r) {
			return false
		}
	}
	return true
}
