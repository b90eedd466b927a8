package driver

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"
	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/auth"
	"google.golang.org/api/option"
)

// Firebase bundles the identity provider and document store clients.
type Firebase struct {
	App       *firebase.App
	Auth      *auth.Client
	Firestore *firestore.Client
	ProjectID string
}

// ConnectFirebase initializes Firebase. An empty credentialsFile falls back to
// Application Default Credentials.
func ConnectFirebase(ctx context.Context, projectID, credentialsFile string) (*Firebase, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: projectID}, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to init firebase app: %w", err)
	}

	authClient, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to init firebase auth: %w", err)
	}

	fs, err := app.Firestore(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to init firestore: %w", err)
	}

	return &Firebase{
		App:       app,
		Auth:      authClient,
		Firestore: fs,
		ProjectID: projectID,
	}, nil
}

func (f *Firebase) Close() error {
	if f == nil || f.Firestore == nil {
		return nil
	}
	return f.Firestore.Close()
}
