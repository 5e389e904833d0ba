package app

import (
	"context"
	"errors"
	"fmt"

	logging "github.com/ipfs/go-log/v2"

	"mediaup/internal/config"
	"mediaup/internal/encoder"
	"mediaup/internal/receiver"
	"mediaup/internal/signalling"
	"mediaup/internal/store"
	"mediaup/internal/transport"
)

var log = logging.Logger("app")

// ServerApp accepts uploads into the content store, one signalling session at a time
type ServerApp struct {
	config           *config.Config
	peerService      *transport.PeerService
	signalingService *signalling.SignalingService
	store            *store.Store
	pipeline         *encoder.Pipeline
}

// NewServerApp wires a server. pipeline may be nil to skip renditions.
func NewServerApp(cfg *config.Config, peerService *transport.PeerService, signalingService *signalling.SignalingService,
	st *store.Store, pipeline *encoder.Pipeline) *ServerApp {
	return &ServerApp{
		config:           cfg,
		peerService:      peerService,
		signalingService: signalingService,
		store:            st,
		pipeline:         pipeline,
	}
}

// Run opens sessions back to back until ctx is cancelled. onCode is called
// with each session code the uploader has to enter.
func (s *ServerApp) Run(ctx context.Context, onCode func(code string)) error {
	for {
		err := s.Session(ctx, onCode)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			log.Errorf("Session ended with error: %v", err)
		} else {
			log.Info("Session ended")
		}
	}
}

// Session offers one connection and serves it until the uploader leaves
func (s *ServerApp) Session(ctx context.Context, onCode func(code string)) error {
	peerConn, err := s.peerService.CreatePeerConnection()
	if err != nil {
		return err
	}
	defer func() {
		if err := s.peerService.Close(peerConn); err != nil {
			log.Warnf("Error closing peer connection: %v", err)
		}
	}()

	channel := transport.NewDataChannel(&s.config.WebRTC)
	if err := channel.CreateDataChannel(peerConn, "mediaup"); err != nil {
		return err
	}
	s.peerService.Watch(peerConn, "server", channel)

	code, err := s.signalingService.Offer(ctx, peerConn)
	if err != nil {
		return fmt.Errorf("failed during signalling process: %w", err)
	}
	defer func() {
		if err := s.signalingService.ClearSession(context.WithoutCancel(ctx), code); err != nil {
			log.Warnf("Failed to clear session %s: %v", code, err)
		}
	}()
	channel.SetSessionID(code)
	onCode(code)

	if err := s.signalingService.AwaitAnswer(ctx, peerConn, code); err != nil {
		return err
	}
	if err := channel.WaitReady(ctx); err != nil {
		return err
	}

	verifier := signalling.NewSessionVerifier(s.signalingService.Server(), code)
	return s.Serve(ctx, channel, verifier)
}

// Serve runs the receiving end of the upload protocol on an established channel
func (s *ServerApp) Serve(ctx context.Context, channel transport.Channel, verifier receiver.TokenVerifier) error {
	opts := receiver.Options{MaxUploadSize: s.config.Store.MaxUploadSize}
	if s.pipeline != nil {
		renditions := s.pipeline.Start(ctx, encoder.DefaultBacklog)
		defer renditions.Close()
		opts.OnStored = renditions.Submit
	}

	err := receiver.New(s.store, verifier, opts).Serve(ctx, channel)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
