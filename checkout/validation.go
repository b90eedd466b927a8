package checkout

import (
	"net/mail"
	"slices"
	"strings"

	"goflare.io/storefront/models"
)

// DefaultStates 可選的配送州
var DefaultStates = []string{"Lagos", "Abuja", "Rivers", "Oyo", "Kano", "Edo"}

const requiredFieldsMessage = "Please fill all required fields"

// ValidationError lists the shipping fields that are missing or not acceptable.
type ValidationError struct {
	Missing []string `json:"missing,omitempty"`
	Invalid []string `json:"invalid,omitempty"`
}

func (e *ValidationError) Error() string {
	if len(e.Missing) > 0 {
		return requiredFieldsMessage
	}
	return "Please check: " + strings.Join(e.Invalid, ", ")
}

// ValidateShipping trims every field in place and checks it against states.
func ValidateShipping(s *models.ShippingDetails, states []string) error {
	s.Email = strings.TrimSpace(s.Email)
	s.Address = strings.TrimSpace(s.Address)
	s.City = strings.TrimSpace(s.City)
	s.State = strings.TrimSpace(s.State)
	s.Phone = strings.TrimSpace(s.Phone)

	verr := &ValidationError{}
	for _, f := range []struct {
		name  string
		value string
	}{
		{"email", s.Email},
		{"address", s.Address},
		{"city", s.City},
		{"state", s.State},
		{"phone", s.Phone},
	} {
		if f.value == "" {
			verr.Missing = append(verr.Missing, f.name)
		}
	}
	if len(verr.Missing) > 0 {
		return verr
	}

	if _, err := mail.ParseAddress(s.Email); err != nil {
		verr.Invalid = append(verr.Invalid, "email")
	}
	if len(states) > 0 && !slices.Contains(states, s.State) {
		verr.Invalid = append(verr.Invalid, "state")
	}
	if len(verr.Invalid) > 0 {
		return verr
	}
	return nil
}
