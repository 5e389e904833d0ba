package transport

import (
	"context"
	"sync"
)

// pipeEnd is one side of an in-process channel pair. Messages pass through
// the wire codec so both ends see exactly what a remote peer would.
type pipeEnd struct {
	sessionID string
	in        chan Message
	peer      *pipeEnd
	shared    *pipeState
}

type pipeState struct {
	done chan struct{}
	once sync.Once
	mu   sync.Mutex
	err  error
}

// Pipe returns two connected channels. Closing either end closes both.
func Pipe(sessionID string) (Channel, Channel) {
	shared := &pipeState{done: make(chan struct{})}
	a := &pipeEnd{sessionID: sessionID, in: make(chan Message, 64), shared: shared}
	b := &pipeEnd{sessionID: sessionID, in: make(chan Message, 64), shared: shared}
	a.peer, b.peer = b, a
	return a, b
}

func (p *pipeEnd) SessionID() string {
	return p.sessionID
}

func (p *pipeEnd) Send(ctx context.Context, msg Message) error {
	select {
	case <-p.shared.done:
		return ErrClosed
	default:
	}

	data, err := SerializeMessage(msg)
	if err != nil {
		return err
	}
	wire, err := DeserializeMessage(data)
	if err != nil {
		return err
	}

	select {
	case p.peer.in <- wire:
		return nil
	case <-p.shared.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *pipeEnd) Incoming() <-chan Message {
	return p.in
}

func (p *pipeEnd) Done() <-chan struct{} {
	return p.shared.done
}

func (p *pipeEnd) Err() error {
	p.shared.mu.Lock()
	defer p.shared.mu.Unlock()
	return p.shared.err
}

func (p *pipeEnd) Close() error {
	p.shared.once.Do(func() {
		p.shared.mu.Lock()
		p.shared.err = ErrClosed
		p.shared.mu.Unlock()
		close(p.shared.done)
	})
	return nil
}
