package signalling

import (
	"context"
	"fmt"

	"github.com/pion/webrtc/v4"
)

// WebRTCHandler implements SDPHandler on pion peer connections
type WebRTCHandler struct{}

// CreateOffer creates the offer and sets it as the local description
func (h *WebRTCHandler) CreateOffer(peerConn *webrtc.PeerConnection) (*webrtc.SessionDescription, error) {
	offer, err := peerConn.CreateOffer(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create offer: %w", err)
	}
	if err := peerConn.SetLocalDescription(offer); err != nil {
		return nil, fmt.Errorf("failed to set local description: %w", err)
	}
	return &offer, nil
}

// CreateAnswer creates the answer to the remote offer already set on peerConn
// and sets it as the local description
func (h *WebRTCHandler) CreateAnswer(peerConn *webrtc.PeerConnection) (*webrtc.SessionDescription, error) {
	answer, err := peerConn.CreateAnswer(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create answer: %w", err)
	}
	if err := peerConn.SetLocalDescription(answer); err != nil {
		return nil, fmt.Errorf("failed to set local description: %w", err)
	}
	return &answer, nil
}

// WaitForICEGathering blocks until every local candidate is in the description
func (h *WebRTCHandler) WaitForICEGathering(ctx context.Context, peerConn *webrtc.PeerConnection) error {
	gathered := webrtc.GatheringCompletePromise(peerConn)
	select {
	case <-gathered:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
