package domain

import (
	"bytes"
	"time"
)

// AccountIdentity is the profile data kept for an account. RegistrationTime
// and LastLoginTime are owned by the directory and merged in at read time.
type AccountIdentity struct {
	FirstName        string    `json:"first_name" validate:"max=128"`
	LastName         string    `json:"last_name" validate:"max=128"`
	EmailAddress     string    `json:"email_address" validate:"omitempty,email"`
	AddressLineOne   string    `json:"address_line_one" validate:"max=256"`
	AddressLineTwo   string    `json:"address_line_two" validate:"max=256"`
	AddressLineThree string    `json:"address_line_three" validate:"max=256"`
	City             string    `json:"city" validate:"max=128"`
	Province         string    `json:"province" validate:"max=128"`
	Country          string    `json:"country" validate:"omitempty,iso3166_1_alpha2"`
	PhotoID          []byte    `json:"photo_id,omitempty" validate:"max=4194304"`
	UserNotes        string    `json:"user_notes"`
	RegistrationTime time.Time `json:"registration_time"`
	LastLoginTime    time.Time `json:"last_login_time"`
}

// Equal compares the stored profile fields, ignoring the directory-sourced
// timestamps.
func (a AccountIdentity) Equal(other AccountIdentity) bool {
	return a.FirstName == other.FirstName &&
		a.LastName == other.LastName &&
		a.EmailAddress == other.EmailAddress &&
		a.AddressLineOne == other.AddressLineOne &&
		a.AddressLineTwo == other.AddressLineTwo &&
		a.AddressLineThree == other.AddressLineThree &&
		a.City == other.City &&
		a.Province == other.Province &&
		a.Country == other.Country &&
		bytes.Equal(a.PhotoID, other.PhotoID) &&
		a.UserNotes == other.UserNotes
}

// Stored returns the part of the identity a data store keeps: the profile
// fields with a private copy of the photo and no directory timestamps.
func (a AccountIdentity) Stored() AccountIdentity {
	a.PhotoID = append([]byte(nil), a.PhotoID...)
	a.RegistrationTime = time.Time{}
	a.LastLoginTime = time.Time{}
	return a
}

// IndexedAccountIdentity pairs an identity with the account it belongs to.
type IndexedAccountIdentity struct {
	Account  DirectoryEntry  `json:"account"`
	Identity AccountIdentity `json:"identity"`
}
