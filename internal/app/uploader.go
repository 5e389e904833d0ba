package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"

	"github.com/spf13/afero"

	"mediaup/internal/config"
	"mediaup/internal/driver"
	"mediaup/internal/queue"
	"mediaup/internal/reporter"
	"mediaup/internal/signalling"
	"mediaup/internal/source"
	"mediaup/internal/transport"
	"mediaup/pkg/types"
)

var ErrIncomplete = errors.New("some uploads did not complete")

// StdinFile in UploadRequest.Files uploads whatever Stdin yields
const StdinFile = "-"

// UploadRequest lists local files bound for one target
type UploadRequest struct {
	Target types.Target
	Files  []string

	Stdin     io.Reader
	StdinName string // empty lets the server pick the default filename
}

// UploaderApp answers a server's session and pushes files through the upload queue
type UploaderApp struct {
	config           *config.Config
	peerService      *transport.PeerService
	signalingService *signalling.SignalingService
	fs               afero.Fs
	buffered         *source.MemoryResolver
	reporter         reporter.ErrorReporter
	progress         io.Writer
}

func NewUploaderApp(cfg *config.Config, peerService *transport.PeerService, signalingService *signalling.SignalingService,
	fs afero.Fs, rep reporter.ErrorReporter, progress io.Writer) *UploaderApp {
	return &UploaderApp{
		config:           cfg,
		peerService:      peerService,
		signalingService: signalingService,
		fs:               fs,
		buffered:         source.NewMemoryResolver(),
		reporter:         rep,
		progress:         progress,
	}
}

// Run joins the session identified by code and uploads req
func (u *UploaderApp) Run(ctx context.Context, code string, req UploadRequest) error {
	q, err := u.Enqueue(req)
	if err != nil {
		return err
	}

	peerConn, err := u.peerService.CreatePeerConnection()
	if err != nil {
		return err
	}
	defer func() {
		if err := u.peerService.Close(peerConn); err != nil {
			log.Warnf("Error closing peer connection: %v", err)
		}
	}()

	channel := transport.NewDataChannel(&u.config.WebRTC)
	channel.SetSessionID(code)
	channel.AcceptDataChannel(peerConn)
	u.peerService.Watch(peerConn, "uploader", channel)

	if err := u.signalingService.Answer(ctx, peerConn, code); err != nil {
		return fmt.Errorf("failed during signalling process: %w", err)
	}
	if err := channel.WaitReady(ctx); err != nil {
		return err
	}
	defer channel.Close()

	return u.Upload(ctx, channel, q)
}

// Enqueue validates the files in req and queues them as active entries
func (u *UploaderApp) Enqueue(req UploadRequest) (*queue.Store, error) {
	if len(req.Files) == 0 {
		return nil, fmt.Errorf("no files to upload")
	}

	q := queue.NewStore()
	target := req.Target
	for _, file := range req.Files {
		if file == StdinFile {
			entry, err := u.bufferStdin(req)
			if err != nil {
				return nil, err
			}
			entry.Target = &target
			if _, err := q.Upsert(entry); err != nil {
				return nil, err
			}
			continue
		}

		info, err := u.fs.Stat(file)
		if err != nil {
			return nil, fmt.Errorf("file does not exist: %s", file)
		}
		if info.IsDir() {
			return nil, fmt.Errorf("%s is a directory", file)
		}

		if _, err := q.Upsert(queue.Entry{
			Target:    &target,
			SourceRef: file,
			Filename:  filepath.Base(file),
			Active:    true,
		}); err != nil {
			return nil, err
		}
	}
	return q, nil
}

func (u *UploaderApp) bufferStdin(req UploadRequest) (queue.Entry, error) {
	if req.Stdin == nil {
		return queue.Entry{}, fmt.Errorf("no standard input to upload")
	}
	data, err := io.ReadAll(req.Stdin)
	if err != nil {
		return queue.Entry{}, fmt.Errorf("failed to read standard input: %w", err)
	}
	return queue.Entry{
		SourceRef: u.buffered.Put(data),
		Filename:  req.StdinName,
		Active:    true,
	}, nil
}

// Upload drives q over channel until every entry was uploaded or tried once
func (u *UploaderApp) Upload(ctx context.Context, channel transport.Channel, q *queue.Store) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	d := driver.New(q, channel,
		driver.NewChannelAuthenticator(channel, u.config.Transfer.AckTimeout),
		source.Chain{u.buffered, source.NewFileResolver(u.fs)},
		u.reporter,
		driver.Options{
			ChunkSize:       u.config.Transfer.ChunkSize,
			AckTimeout:      u.config.Transfer.AckTimeout,
			DisableOnReject: u.config.Transfer.DisableOnReject,
		})

	if u.progress != nil {
		go reporter.NewProgressDisplay(u.progress).Run(runCtx, q)
	}

	// every entry was queued up front, so the first drain that runs out of
	// entries to try ends the upload
	go func() {
		select {
		case <-d.Idle():
			cancel()
		case <-runCtx.Done():
		}
	}()

	err := d.Run(runCtx)
	if ctx.Err() != nil {
		return ctx.Err()
	}

	if left := q.Snapshot().Len(); left > 0 {
		log.Warnf("%d upload(s) left in the queue", left)
		return fmt.Errorf("%w: %d of them", ErrIncomplete, left)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
