package signalling

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mediaup/pkg/utils"
)

func TestMemoryServerExchange(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryServer()

	code, err := m.CreateSession(ctx, "offer-sdp")
	require.NoError(t, err)
	assert.True(t, utils.IsValidCode(code))

	offer, err := m.GetOffer(ctx, code)
	require.NoError(t, err)
	assert.Equal(t, "offer-sdp", offer)

	go func() {
		time.Sleep(30 * time.Millisecond)
		_ = m.UpdateAnswer(ctx, code, "answer-sdp")
	}()

	answer, err := m.WaitForAnswer(ctx, code)
	require.NoError(t, err)
	assert.Equal(t, "answer-sdp", answer)

	require.NoError(t, m.DeleteSession(ctx, code))
	ok, err := m.SessionExists(ctx, code)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestWaitForAnswerTimesOut(t *testing.T) {
	m := NewMemoryServer()
	m.PollInterval = time.Millisecond
	m.PollTries = 3

	code, err := m.CreateSession(context.Background(), "offer")
	require.NoError(t, err)

	_, err = m.WaitForAnswer(context.Background(), code)
	require.ErrorIs(t, err, ErrAnswerTimeout)
}

func TestWaitForAnswerStopsOnMissingSession(t *testing.T) {
	m := NewMemoryServer()
	m.PollInterval = time.Hour

	_, err := m.WaitForAnswer(context.Background(), "MISSING2")
	require.ErrorIs(t, err, ErrSessionNotFound)
}

func TestSessionVerifier(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryServer()
	code, err := m.CreateSession(ctx, "offer")
	require.NoError(t, err)

	v := NewSessionVerifier(m, code)
	require.NoError(t, v.Verify(ctx, code))
	require.ErrorIs(t, v.Verify(ctx, "OTHER234"), ErrUnknownToken)

	require.NoError(t, m.DeleteSession(ctx, code))
	require.ErrorIs(t, v.Verify(ctx, code), ErrSessionNotFound)
}
