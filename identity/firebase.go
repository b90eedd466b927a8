package identity

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"firebase.google.com/go/v4/auth"
	"go.uber.org/zap"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/identitytoolkit/v3"
	"google.golang.org/api/option"

	"goflare.io/storefront/models"
)

// AuthClient is the part of *auth.Client the provider uses.
type AuthClient interface {
	CreateUser(ctx context.Context, user *auth.UserToCreate) (*auth.UserRecord, error)
	RevokeRefreshTokens(ctx context.Context, uid string) error
	PasswordResetLink(ctx context.Context, email string) (string, error)
	VerifyIDToken(ctx context.Context, idToken string) (*auth.Token, error)
}

// PasswordVerifier exchanges email and password for tokens.
type PasswordVerifier interface {
	VerifyPassword(ctx context.Context, email, password string) (*models.User, error)
}

// ResetSender delivers a password reset link to email.
type ResetSender interface {
	SendPasswordReset(ctx context.Context, email, link string) error
}

var _ Provider = (*FirebaseProvider)(nil)

type FirebaseProvider struct {
	auth      AuthClient
	passwords PasswordVerifier
	resets    ResetSender
	logger    *zap.Logger
}

func NewFirebaseProvider(authClient AuthClient, passwords PasswordVerifier, resets ResetSender, logger *zap.Logger) *FirebaseProvider {
	return &FirebaseProvider{
		auth:      authClient,
		passwords: passwords,
		resets:    resets,
		logger:    logger,
	}
}

func (p *FirebaseProvider) SignIn(ctx context.Context, email, password string) (*models.User, error) {
	user, err := p.passwords.VerifyPassword(ctx, strings.TrimSpace(email), password)
	if err != nil {
		p.logger.Info("Sign in failed", zap.String("email", email), zap.Error(err))
		return nil, err
	}
	return user, nil
}

func (p *FirebaseProvider) SignUp(ctx context.Context, email, password, displayName string) (*models.User, error) {
	email = strings.TrimSpace(email)

	params := (&auth.UserToCreate{}).Email(email).Password(password)
	if displayName = strings.TrimSpace(displayName); displayName != "" {
		params = params.DisplayName(displayName)
	}

	record, err := p.auth.CreateUser(ctx, params)
	if err != nil {
		p.logger.Info("Sign up failed", zap.String("email", email), zap.Error(err))
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	// 建立後直接登入以取得 token
	user, err := p.passwords.VerifyPassword(ctx, email, password)
	if err != nil {
		return nil, fmt.Errorf("failed to sign in new user: %w", err)
	}
	if user.UID == "" {
		user.UID = record.UID
	}
	if user.DisplayName == "" {
		user.DisplayName = record.DisplayName
	}

	p.logger.Info("User signed up", zap.String("uid", user.UID))
	return user, nil
}

func (p *FirebaseProvider) SignOut(ctx context.Context, uid string) error {
	if uid == "" {
		return ErrUnauthenticated
	}
	if err := p.auth.RevokeRefreshTokens(ctx, uid); err != nil {
		p.logger.Error("Failed to revoke refresh tokens", zap.String("uid", uid), zap.Error(err))
		return fmt.Errorf("failed to sign out: %w", err)
	}
	return nil
}

func (p *FirebaseProvider) ResetPassword(ctx context.Context, email string) error {
	email = strings.TrimSpace(email)

	link, err := p.auth.PasswordResetLink(ctx, email)
	if err != nil {
		return fmt.Errorf("failed to generate password reset link: %w", err)
	}
	if err = p.resets.SendPasswordReset(ctx, email, link); err != nil {
		p.logger.Error("Failed to send password reset", zap.String("email", email), zap.Error(err))
		return fmt.Errorf("failed to send password reset: %w", err)
	}
	return nil
}

func (p *FirebaseProvider) Verify(ctx context.Context, idToken string) (*models.User, error) {
	if idToken == "" {
		return nil, ErrUnauthenticated
	}

	token, err := p.auth.VerifyIDToken(ctx, idToken)
	if err != nil {
		if auth.IsIDTokenExpired(err) || auth.IsIDTokenInvalid(err) || auth.IsIDTokenRevoked(err) {
			return nil, ErrUnauthenticated
		}
		return nil, fmt.Errorf("failed to verify id token: %w", err)
	}

	user := &models.User{UID: token.UID, IDToken: idToken}
	if v, ok := token.Claims["email"].(string); ok {
		user.Email = v
	}
	if v, ok := token.Claims["name"].(string); ok {
		user.DisplayName = v
	}
	if v, ok := token.Claims["email_verified"].(bool); ok {
		user.EmailVerified = v
	}
	return user, nil
}

var _ PasswordVerifier = (*ToolkitVerifier)(nil)

// ToolkitVerifier signs in through the Identity Toolkit REST API, which the
// Admin SDK does not expose.
type ToolkitVerifier struct {
	svc *identitytoolkit.Service
}

func NewToolkitVerifier(ctx context.Context, apiKey string) (*ToolkitVerifier, error) {
	svc, err := identitytoolkit.NewService(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to init identity toolkit: %w", err)
	}
	return &ToolkitVerifier{svc: svc}, nil
}

func (v *ToolkitVerifier) VerifyPassword(ctx context.Context, email, password string) (*models.User, error) {
	resp, err := v.svc.Relyingparty.VerifyPassword(&identitytoolkit.IdentitytoolkitRelyingpartyVerifyPasswordRequest{
		Email:             email,
		Password:          password,
		ReturnSecureToken: true,
	}).Context(ctx).Do()
	if err != nil {
		return nil, toolkitError(err)
	}

	return &models.User{
		UID:          resp.LocalId,
		Email:        resp.Email,
		DisplayName:  resp.DisplayName,
		IDToken:      resp.IdToken,
		RefreshToken: resp.RefreshToken,
	}, nil
}

func toolkitError(err error) error {
	var gerr *googleapi.Error
	if !errors.As(err, &gerr) {
		return fmt.Errorf("failed to verify password: %w", err)
	}
	if gerr.Code == http.StatusBadRequest {
		switch {
		case strings.HasPrefix(gerr.Message, "INVALID_PASSWORD"),
			strings.HasPrefix(gerr.Message, "EMAIL_NOT_FOUND"),
			strings.HasPrefix(gerr.Message, "INVALID_LOGIN_CREDENTIALS"),
			strings.HasPrefix(gerr.Message, "INVALID_EMAIL"):
			return ErrInvalidCredentials
		}
	}
	return fmt.Errorf("failed to verify password: %w", err)
}
