package signalling

import (
	"context"
	"fmt"
	"sync"
	"time"

	"mediaup/pkg/utils"
)

// MemoryServer keeps sessions in a map so both peers can share one process
type MemoryServer struct {
	mu       sync.Mutex
	sessions map[string]Session

	PollInterval time.Duration
	PollTries    uint
}

var _ SignalingServer = (*MemoryServer)(nil)

func NewMemoryServer() *MemoryServer {
	return &MemoryServer{
		sessions:     map[string]Session{},
		PollInterval: 10 * time.Millisecond,
		PollTries:    100,
	}
}

func (m *MemoryServer) CreateSession(_ context.Context, offer string) (string, error) {
	code, err := utils.GenerateCode(utils.CodeLength)
	if err != nil {
		return "", fmt.Errorf("error generating session code: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[code] = Session{ID: code, Offer: offer}
	return code, nil
}

func (m *MemoryServer) get(sessionID string) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return s, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	return s, nil
}

func (m *MemoryServer) SessionExists(_ context.Context, sessionID string) (bool, error) {
	_, err := m.get(sessionID)
	return err == nil, nil
}

func (m *MemoryServer) GetOffer(_ context.Context, sessionID string) (string, error) {
	s, err := m.get(sessionID)
	if err != nil {
		return "", err
	}
	return s.Offer, nil
}

func (m *MemoryServer) UpdateAnswer(_ context.Context, sessionID, answer string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	s.Answer = answer
	m.sessions[sessionID] = s
	return nil
}

func (m *MemoryServer) WaitForAnswer(ctx context.Context, sessionID string) (string, error) {
	return pollAnswer(ctx, m.PollInterval, m.PollTries, func(context.Context) (string, error) {
		s, err := m.get(sessionID)
		return s.Answer, err
	})
}

func (m *MemoryServer) DeleteSession(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, sessionID)
	return nil
}
