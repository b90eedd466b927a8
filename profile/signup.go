package profile

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"goflare.io/storefront/identity"
	"goflare.io/storefront/models"
	"goflare.io/storefront/models/enum"
)

// SignupFailedMessage is shown for any provider or store failure during signup.
const SignupFailedMessage = "Failed to create an account. Please try again."

type SignupRequest struct {
	FirstName       string      `json:"first_name"`
	LastName        string      `json:"last_name"`
	Email           string      `json:"email"`
	Password        string      `json:"password"`
	ConfirmPassword string      `json:"confirm_password"`
	PhoneNumber     string      `json:"phone_number"`
	DateOfBirth     string      `json:"date_of_birth"`
	Gender          enum.Gender `json:"gender"`
}

type Signup struct {
	provider identity.Provider
	repo     Repository
	logger   *zap.Logger
}

func NewSignup(provider identity.Provider, repo Repository, logger *zap.Logger) *Signup {
	return &Signup{provider: provider, repo: repo, logger: logger}
}

// Register creates the account then writes its profile document.
// A password mismatch is identity.ErrPasswordMismatch and never reaches the provider.
func (s *Signup) Register(ctx context.Context, req SignupRequest) (*models.User, *models.Profile, error) {
	if req.Password != req.ConfirmPassword {
		return nil, nil, identity.ErrPasswordMismatch
	}

	p := &models.Profile{
		FirstName:   strings.TrimSpace(req.FirstName),
		LastName:    strings.TrimSpace(req.LastName),
		Email:       strings.TrimSpace(req.Email),
		PhoneNumber: strings.TrimSpace(req.PhoneNumber),
		DateOfBirth: strings.TrimSpace(req.DateOfBirth),
	}
	if req.Gender.Valid() {
		p.Gender = req.Gender
	}

	user, err := s.provider.SignUp(ctx, p.Email, req.Password, p.DisplayName())
	if err != nil {
		return nil, nil, err
	}

	p.UID = user.UID
	if err = s.repo.Save(ctx, p); err != nil {
		// 帳號已建立，只是 profile 寫入失敗
		s.logger.Error("Failed to store signup profile", zap.String("uid", user.UID), zap.Error(err))
		return user, nil, fmt.Errorf("failed to store profile: %w", err)
	}

	return user, p, nil
}
