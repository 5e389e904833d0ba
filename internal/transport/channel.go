package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	logging "github.com/ipfs/go-log/v2"
	"github.com/pion/webrtc/v4"

	"mediaup/internal/config"
)

var log = logging.Logger("transport")

// ErrClosed is returned once a channel has been torn down
var ErrClosed = errors.New("channel is closed")

// Channel is an ordered, reliable, bidirectional message channel
type Channel interface {
	// SessionID identifies the connection the channel belongs to
	SessionID() string
	Send(ctx context.Context, msg Message) error
	// Incoming is never closed; select on Done as well
	Incoming() <-chan Message
	Done() <-chan struct{}
	// Err reports why the channel closed, or nil while it is open
	Err() error
	Close() error
}

// Receive waits for the next message on ch. Messages that arrived before the
// channel closed are still delivered.
func Receive(ctx context.Context, ch Channel) (Message, error) {
	select {
	case msg := <-ch.Incoming():
		return msg, nil
	case <-ctx.Done():
		return Message{}, ctx.Err()
	case <-ch.Done():
		select {
		case msg := <-ch.Incoming():
			return msg, nil
		default:
		}
		if err := ch.Err(); err != nil {
			return Message{}, err
		}
		return Message{}, ErrClosed
	}
}

// DataChannel adapts a pion data channel to Channel
type DataChannel struct {
	config      *config.WebRTCConfig
	dataChannel *webrtc.DataChannel

	mu        sync.RWMutex
	sessionID string
	err       error

	readyCh         chan struct{}
	readyOnce       sync.Once
	bufferControlCh chan struct{}
	incomingMsgCh   chan Message
	sendMu          sync.Mutex

	done      chan struct{}
	closeOnce sync.Once
}

var _ Channel = (*DataChannel)(nil)

func NewDataChannel(cfg *config.WebRTCConfig) *DataChannel {
	return &DataChannel{
		config:          cfg,
		readyCh:         make(chan struct{}),
		bufferControlCh: make(chan struct{}, 1),
		incomingMsgCh:   make(chan Message, 100),
		done:            make(chan struct{}),
	}
}

// CreateDataChannel creates an ordered data channel on the offering side
func (c *DataChannel) CreateDataChannel(peerConn *webrtc.PeerConnection, label string) error {
	ordered := true
	dataChannel, err := peerConn.CreateDataChannel(label, &webrtc.DataChannelInit{
		Ordered: &ordered,
	})
	if err != nil {
		return fmt.Errorf("failed to create data channel: %w", err)
	}

	c.attach(dataChannel)
	return nil
}

// AcceptDataChannel binds to the first data channel the remote opens
func (c *DataChannel) AcceptDataChannel(peerConn *webrtc.PeerConnection) {
	peerConn.OnDataChannel(func(dataChannel *webrtc.DataChannel) {
		log.Infof("Received data channel: %s-%d", dataChannel.Label(), dataChannel.ID())
		c.attach(dataChannel)
	})
}

func (c *DataChannel) attach(dataChannel *webrtc.DataChannel) {
	c.mu.Lock()
	if c.dataChannel != nil {
		c.mu.Unlock()
		log.Warnf("Ignoring extra data channel %s", dataChannel.Label())
		return
	}
	c.dataChannel = dataChannel
	c.mu.Unlock()

	dataChannel.OnOpen(func() {
		log.Infof("Data channel opened: %s-%d", dataChannel.Label(), dataChannel.ID())
		c.readyOnce.Do(func() { close(c.readyCh) })
	})

	dataChannel.OnClose(func() {
		log.Info("Data channel closed")
		c.shutdown(ErrClosed)
	})

	dataChannel.OnError(func(err error) {
		log.Errorf("Data channel error: %v", err)
		c.shutdown(err)
	})

	dataChannel.OnMessage(func(raw webrtc.DataChannelMessage) {
		msg, err := DeserializeMessage(raw.Data)
		if err != nil {
			log.Errorf("Dropping malformed message: %v", err)
			c.shutdown(err)
			return
		}
		select {
		case c.incomingMsgCh <- msg:
		case <-c.done:
		}
	})

	// Set up flow control
	dataChannel.SetBufferedAmountLowThreshold(c.config.BufferedAmountLowThreshold)
	dataChannel.OnBufferedAmountLow(func() {
		select {
		case c.bufferControlCh <- struct{}{}:
		default:
		}
	})
}

// SetSessionID records the signalling session this channel was negotiated in
func (c *DataChannel) SetSessionID(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessionID = id
}

func (c *DataChannel) SessionID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sessionID
}

// WaitReady blocks until the data channel is open
func (c *DataChannel) WaitReady(ctx context.Context) error {
	var timeout <-chan time.Time
	if c.config.ReadyTimeout > 0 {
		timer := time.NewTimer(c.config.ReadyTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case <-c.readyCh:
		return nil
	case <-c.done:
		return c.Err()
	case <-ctx.Done():
		return fmt.Errorf("cancelled while waiting for channel ready: %w", ctx.Err())
	case <-timeout:
		return fmt.Errorf("timeout waiting for channel ready")
	}
}

func (c *DataChannel) Send(ctx context.Context, msg Message) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	c.mu.RLock()
	dataChannel := c.dataChannel
	c.mu.RUnlock()
	if dataChannel == nil {
		return fmt.Errorf("data channel not established")
	}

	data, err := SerializeMessage(msg)
	if err != nil {
		return err
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if err := c.handleFlowControl(ctx, dataChannel); err != nil {
		return err
	}
	if err := dataChannel.Send(data); err != nil {
		return fmt.Errorf("failed to send data: %w", err)
	}
	return nil
}

// handleFlowControl waits for the send buffer to drain below the high mark
func (c *DataChannel) handleFlowControl(ctx context.Context, dataChannel *webrtc.DataChannel) error {
	if dataChannel.BufferedAmount() <= c.config.MaxBufferedAmount {
		return nil
	}

	select {
	case <-c.bufferControlCh:
		return nil
	case <-c.done:
		return ErrClosed
	case <-ctx.Done():
		return fmt.Errorf("channel cancelled during flow control: %w", ctx.Err())
	case <-time.After(30 * time.Second):
		return fmt.Errorf("flow control timeout - WebRTC channel may be dead")
	}
}

func (c *DataChannel) Incoming() <-chan Message {
	return c.incomingMsgCh
}

func (c *DataChannel) Done() <-chan struct{} {
	return c.done
}

func (c *DataChannel) Err() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.err
}

// Close gracefully closes the data channel
func (c *DataChannel) Close() error {
	c.shutdown(ErrClosed)

	c.mu.RLock()
	dataChannel := c.dataChannel
	c.mu.RUnlock()
	if dataChannel == nil {
		return nil
	}

	// Only attempt graceful close if the channel is still in a valid state
	if dataChannel.ReadyState() == webrtc.DataChannelStateOpen {
		if err := dataChannel.GracefulClose(); err != nil {
			log.Warnf("Error during graceful close: %v", err)
			return err
		}
	}
	return nil
}

func (c *DataChannel) shutdown(err error) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.err = err
		c.mu.Unlock()
		close(c.done)
	})
}
