package signalling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrAnswerTimeout   = errors.New("timeout waiting for answer")
	ErrUnknownToken    = errors.New("token does not match the session")

	errAnswerPending = errors.New("answer not available yet")
)

// Session is one offer/answer exchange. Only vanilla ICE is supported, so
// both descriptions carry every candidate.
type Session struct {
	ID     string `json:"sessionId"`
	Offer  string `json:"offer"`
	Answer string `json:"answer"`
}

func isNotFound(err error) bool {
	return errors.Is(err, ErrSessionNotFound)
}

// pollAnswer calls fetch until it yields a non-empty answer. A missing
// session stops the polling at once.
func pollAnswer(ctx context.Context, interval time.Duration, tries uint, fetch func(context.Context) (string, error)) (string, error) {
	answer, err := backoff.Retry(ctx, func() (string, error) {
		answer, err := fetch(ctx)
		switch {
		case isNotFound(err):
			return "", backoff.Permanent(err)
		case err != nil:
			log.Warnf("polling for answer: %v", err)
			return "", err
		case answer == "":
			return "", errAnswerPending
		}
		return answer, nil
	}, backoff.WithBackOff(backoff.NewConstantBackOff(interval)), backoff.WithMaxTries(tries), backoff.WithMaxElapsedTime(0))
	if err != nil {
		if errors.Is(err, errAnswerPending) {
			return "", ErrAnswerTimeout
		}
		return "", err
	}
	return answer, nil
}

// SessionLookup reports whether a signalling session is still open
type SessionLookup interface {
	SessionExists(ctx context.Context, sessionID string) (bool, error)
}

// SessionVerifier accepts exactly the code of the session a channel was
// negotiated in, and only while that session is still open
type SessionVerifier struct {
	lookup SessionLookup
	code   string
}

func NewSessionVerifier(lookup SessionLookup, code string) *SessionVerifier {
	return &SessionVerifier{lookup: lookup, code: code}
}

func (v *SessionVerifier) Verify(ctx context.Context, token string) error {
	if token != v.code {
		return ErrUnknownToken
	}
	ok, err := v.lookup.SessionExists(ctx, token)
	if err != nil {
		return fmt.Errorf("failed to look up session: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, token)
	}
	return nil
}
