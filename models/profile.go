package models

import (
	"time"

	"goflare.io/storefront/models/enum"
)

// Profile 註冊時寫入文件資料庫的使用者資料，以身分提供者的 uid 為 key
type Profile struct {
	UID         string      `json:"uid" firestore:"-"`
	FirstName   string      `json:"first_name" firestore:"firstName"`
	LastName    string      `json:"last_name" firestore:"lastName"`
	Email       string      `json:"email" firestore:"email"`
	PhoneNumber string      `json:"phone_number" firestore:"phoneNumber"`
	DateOfBirth string      `json:"date_of_birth" firestore:"dateOfBirth"`
	Gender      enum.Gender `json:"gender" firestore:"gender"`
	CreatedAt   time.Time   `json:"created_at" firestore:"createdAt"`
}

func (p *Profile) DisplayName() string {
	switch {
	case p.FirstName == "":
		return p.LastName
	case p.LastName == "":
		return p.FirstName
	default:
		return p.FirstName + " " + p.LastName
	}
}

// User 身分提供者回傳的目前使用者
type User struct {
	UID           string `json:"uid"`
	Email         string `json:"email"`
	DisplayName   string `json:"display_name"`
	IDToken       string `json:"id_token,omitempty"`
	RefreshToken  string `json:"refresh_token,omitempty"`
	EmailVerified bool   `json:"email_verified"`
}
