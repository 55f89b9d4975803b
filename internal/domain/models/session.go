package models

import "time"

// Session is the authenticated identity a request acts on behalf of.
type Session struct {
	UID       string    `json:"uid"`
	Email     string    `json:"email"`
	TokenID   string    `json:"-"`
	Token     string    `json:"token,omitempty"`
	ExpiresAt time.Time `json:"expires_at"`
}
