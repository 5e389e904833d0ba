package driver

import (
	"context"
	"fmt"
	"time"

	"mediaup/internal/transport"
	"mediaup/pkg/types"
)

// Authenticator performs the per-attempt handshake that associates the
// channel with the caller's identity
type Authenticator interface {
	Authenticate(ctx context.Context, sessionToken string) error
}

// ChannelAuthenticator presents the token to the remote end of a channel and
// waits for it to be accepted
type ChannelAuthenticator struct {
	channel transport.Channel
	timeout time.Duration
}

// NewChannelAuthenticator returns an authenticator over channel. A zero
// timeout waits for the reply indefinitely.
func NewChannelAuthenticator(channel transport.Channel, timeout time.Duration) *ChannelAuthenticator {
	return &ChannelAuthenticator{channel: channel, timeout: timeout}
}

func (a *ChannelAuthenticator) Authenticate(ctx context.Context, sessionToken string) error {
	msg, err := transport.EncodePayload(transport.MSG_AUTH, types.AuthRequest{Token: sessionToken})
	if err != nil {
		return err
	}
	if err := a.channel.Send(ctx, msg); err != nil {
		return fmt.Errorf("failed to send auth request: %w", err)
	}

	_, err = await(ctx, a.channel, transport.MSG_AUTH_ACK, a.timeout)
	if err != nil {
		return authError(err)
	}
	return nil
}

// authError turns a plain refusal of the handshake into ErrAuth. Channel
// loss and fatal replies keep their meaning.
func authError(err error) error {
	if isRejection(err) {
		return fmt.Errorf("%w: %w", ErrAuth, err)
	}
	return err
}
