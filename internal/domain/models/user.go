package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Profile is the per-user record keyed by the identity the auth gateway issued.
type Profile struct {
	UID        string          `json:"uid"`
	Name       string          `json:"name"`
	Surname    string          `json:"surname"`
	Email      string          `json:"email"`
	NationalID string          `json:"national_id"`
	BirthDate  string          `json:"birth_date"`
	Balance    decimal.Decimal `json:"balance"`
	CreatedAt  time.Time       `json:"created_at"`
}

func (p *Profile) FullName() string {
	if p.Surname == "" {
		return p.Name
	}
	return p.Name + " " + p.Surname
}

type Credential struct {
	UID          string    `json:"uid"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}
