package signalling

import (
	"context"
	"fmt"
	"time"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/db"
	"google.golang.org/api/option"

	"mediaup/internal/config"
	"mediaup/pkg/utils"
)

// FirebaseServer keeps signalling sessions in a Firebase realtime database
type FirebaseServer struct {
	ref *db.Ref

	// PollInterval and PollTries bound WaitForAnswer
	PollInterval time.Duration
	PollTries    uint
}

var _ SignalingServer = (*FirebaseServer)(nil)

func NewFirebaseServer(ctx context.Context, cfg *config.FirebaseConfig) (*FirebaseServer, error) {
	opt := option.WithCredentialsFile(cfg.CredentialsPath)

	app, err := firebase.NewApp(ctx, &firebase.Config{
		ProjectID:   cfg.ProjectID,
		DatabaseURL: cfg.DatabaseURL,
	}, opt)
	if err != nil {
		return nil, fmt.Errorf("error initializing Firebase app: %w", err)
	}

	client, err := app.Database(ctx)
	if err != nil {
		return nil, fmt.Errorf("error getting database client: %w", err)
	}

	return &FirebaseServer{
		ref:          client.NewRef("sessions"),
		PollInterval: 5 * time.Second,
		PollTries:    60,
	}, nil
}

func (f *FirebaseServer) get(ctx context.Context, sessionID string) (Session, error) {
	var session Session
	if err := f.ref.Child(sessionID).Get(ctx, &session); err != nil {
		return session, fmt.Errorf("error fetching session %s: %w", sessionID, err)
	}
	if session.ID == "" {
		return session, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	return session, nil
}

func (f *FirebaseServer) CreateSession(ctx context.Context, offer string) (string, error) {
	code, err := utils.GenerateCode(utils.CodeLength)
	if err != nil {
		return "", fmt.Errorf("error generating session code: %w", err)
	}

	err = f.ref.Child(code).Set(ctx, Session{ID: code, Offer: offer})
	if err != nil {
		return "", fmt.Errorf("error creating session: %w", err)
	}

	log.Infof("Session %s created", code)
	return code, nil
}

func (f *FirebaseServer) SessionExists(ctx context.Context, sessionID string) (bool, error) {
	if _, err := f.get(ctx, sessionID); err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (f *FirebaseServer) GetOffer(ctx context.Context, sessionID string) (string, error) {
	session, err := f.get(ctx, sessionID)
	if err != nil {
		return "", err
	}
	if session.Offer == "" {
		return "", fmt.Errorf("session %s has no offer", sessionID)
	}
	return session.Offer, nil
}

func (f *FirebaseServer) UpdateAnswer(ctx context.Context, sessionID, answer string) error {
	if _, err := f.get(ctx, sessionID); err != nil {
		return err
	}
	if err := f.ref.Child(sessionID).Update(ctx, map[string]any{"answer": answer}); err != nil {
		return fmt.Errorf("error updating answer for session %s: %w", sessionID, err)
	}
	return nil
}

func (f *FirebaseServer) WaitForAnswer(ctx context.Context, sessionID string) (string, error) {
	log.Infof("Waiting for the uploader to answer session %s", sessionID)

	answer, err := pollAnswer(ctx, f.PollInterval, f.PollTries, func(ctx context.Context) (string, error) {
		session, err := f.get(ctx, sessionID)
		if err != nil {
			return "", err
		}
		return session.Answer, nil
	})
	if err != nil {
		if delErr := f.DeleteSession(context.WithoutCancel(ctx), sessionID); delErr != nil {
			log.Warnf("error deleting session %s: %v", sessionID, delErr)
		}
		return "", err
	}
	return answer, nil
}

func (f *FirebaseServer) DeleteSession(ctx context.Context, sessionID string) error {
	if ok, err := f.SessionExists(ctx, sessionID); err != nil || !ok {
		if !ok && err == nil {
			log.Debugf("Session %s not found, skipping deletion", sessionID)
		}
		return err
	}
	if err := f.ref.Child(sessionID).Delete(ctx); err != nil {
		return fmt.Errorf("error deleting session %s: %w", sessionID, err)
	}
	return nil
}
