// Package signalling exchanges WebRTC session descriptions through a shared
// session store, keyed by a short code the operator passes to the uploader.
package signalling

import (
	"context"
	"fmt"

	logging "github.com/ipfs/go-log/v2"
	"github.com/pion/webrtc/v4"

	"mediaup/pkg/utils"
)

var log = logging.Logger("signalling")

// SignalingServer defines the interface for signaling storage operations
type SignalingServer interface {
	SessionLookup
	CreateSession(ctx context.Context, offer string) (sessionID string, err error)
	GetOffer(ctx context.Context, sessionID string) (offer string, err error)
	UpdateAnswer(ctx context.Context, sessionID, answer string) error
	WaitForAnswer(ctx context.Context, sessionID string) (answer string, err error)
	DeleteSession(ctx context.Context, sessionID string) error
}

// SDPHandler defines the interface for WebRTC SDP operations
type SDPHandler interface {
	CreateOffer(peerConn *webrtc.PeerConnection) (*webrtc.SessionDescription, error)
	CreateAnswer(peerConn *webrtc.PeerConnection) (*webrtc.SessionDescription, error)
	WaitForICEGathering(ctx context.Context, peerConn *webrtc.PeerConnection) error
}

// SignalingService orchestrates the complete signaling flow using composition
type SignalingService struct {
	server SignalingServer
	sdp    SDPHandler
}

func NewSignalingService(server SignalingServer, sdp SDPHandler) *SignalingService {
	return &SignalingService{
		server: server,
		sdp:    sdp,
	}
}

// Server returns the session store the service signals through
func (s *SignalingService) Server() SignalingServer {
	return s.server
}

// Offer publishes an offer for peerConn and returns the session code the
// answering side must use
func (s *SignalingService) Offer(ctx context.Context, peerConn *webrtc.PeerConnection) (string, error) {
	if _, err := s.sdp.CreateOffer(peerConn); err != nil {
		return "", fmt.Errorf("failed to create offer: %w", err)
	}
	if err := s.sdp.WaitForICEGathering(ctx, peerConn); err != nil {
		return "", fmt.Errorf("failed to wait for ICE gathering: %w", err)
	}

	finalOffer := peerConn.LocalDescription()
	if finalOffer == nil {
		return "", fmt.Errorf("local description is nil after ICE gathering")
	}
	encodedOffer, err := utils.Encode(*finalOffer)
	if err != nil {
		return "", fmt.Errorf("failed to encode offer SDP: %w", err)
	}

	sessionID, err := s.server.CreateSession(ctx, encodedOffer)
	if err != nil {
		return "", fmt.Errorf("failed to create session with offer: %w", err)
	}
	return sessionID, nil
}

// AwaitAnswer applies the answer posted for sessionID to peerConn
func (s *SignalingService) AwaitAnswer(ctx context.Context, peerConn *webrtc.PeerConnection, sessionID string) error {
	answer, err := s.server.WaitForAnswer(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("failed to wait for answer: %w", err)
	}

	answerSD, err := utils.Decode[webrtc.SessionDescription](answer)
	if err != nil {
		return fmt.Errorf("failed to decode answer SDP: %w", err)
	}
	if err := peerConn.SetRemoteDescription(answerSD); err != nil {
		return fmt.Errorf("failed to set remote description: %w", err)
	}
	return nil
}

// Answer joins the session identified by sessionID
func (s *SignalingService) Answer(ctx context.Context, peerConn *webrtc.PeerConnection, sessionID string) error {
	encodedOffer, err := s.server.GetOffer(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("failed to get offer from session: %w", err)
	}

	offerSD, err := utils.Decode[webrtc.SessionDescription](encodedOffer)
	if err != nil {
		return fmt.Errorf("failed to decode offer SDP: %w", err)
	}
	if err := peerConn.SetRemoteDescription(offerSD); err != nil {
		return fmt.Errorf("failed to set remote description: %w", err)
	}

	if _, err := s.sdp.CreateAnswer(peerConn); err != nil {
		return fmt.Errorf("failed to create answer: %w", err)
	}
	if err := s.sdp.WaitForICEGathering(ctx, peerConn); err != nil {
		return fmt.Errorf("failed to wait for ICE gathering: %w", err)
	}

	finalAnswer := peerConn.LocalDescription()
	if finalAnswer == nil {
		return fmt.Errorf("local description is nil after ICE gathering")
	}
	encodedAnswer, err := utils.Encode(*finalAnswer)
	if err != nil {
		return fmt.Errorf("failed to encode answer SDP: %w", err)
	}

	if err := s.server.UpdateAnswer(ctx, sessionID, encodedAnswer); err != nil {
		return fmt.Errorf("failed to upload answer: %w", err)
	}
	return nil
}

// ClearSession deletes a session by its ID
func (s *SignalingService) ClearSession(ctx context.Context, sessionID string) error {
	return s.server.DeleteSession(ctx, sessionID)
}
