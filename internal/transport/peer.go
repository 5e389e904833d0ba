package transport

import (
	"fmt"

	"github.com/pion/webrtc/v4"

	"mediaup/internal/config"
)

// ConnectionFailureError reports a peer connection that failed or closed
type ConnectionFailureError struct {
	State   webrtc.PeerConnectionState
	Role    string
	Message string
}

func (e *ConnectionFailureError) Error() string {
	return fmt.Sprintf("connection failed in %s state for %s: %s", e.State.String(), e.Role, e.Message)
}

// PeerService manages WebRTC peer connection lifecycle
type PeerService struct {
	config      *config.WebRTCConfig
	failureChan chan *ConnectionFailureError
}

func NewPeerService(cfg *config.WebRTCConfig) *PeerService {
	return &PeerService{
		config:      cfg,
		failureChan: make(chan *ConnectionFailureError, 1),
	}
}

// CreatePeerConnection creates a peer connection using the configured ICE servers
func (p *PeerService) CreatePeerConnection() (*webrtc.PeerConnection, error) {
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{
		ICEServers: p.config.ICEServers,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}
	return pc, nil
}

// Watch reports failed and closed states of peerConn on Failures. A failed
// connection also tears down channel so the driver on top of it notices.
func (p *PeerService) Watch(peerConn *webrtc.PeerConnection, role string, channel Channel) {
	peerConn.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		log.Infof("Peer connection state has changed: %s (%s)", state.String(), role)

		var message string
		switch state {
		case webrtc.PeerConnectionStateFailed:
			message = "peer connection failed"
		case webrtc.PeerConnectionStateClosed:
			message = "peer connection closed"
		default:
			return
		}

		if channel != nil {
			channel.Close()
		}
		select {
		case p.failureChan <- &ConnectionFailureError{State: state, Role: role, Message: message}:
		default:
		}
	})
}

// Failures returns a channel that receives connection failures
func (p *PeerService) Failures() <-chan *ConnectionFailureError {
	return p.failureChan
}

// Close closes peerConn if it was created
func (p *PeerService) Close(peerConn *webrtc.PeerConnection) error {
	if peerConn == nil {
		return nil
	}
	return peerConn.Close()
}
